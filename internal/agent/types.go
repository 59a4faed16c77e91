// Package agent exposes the conversational agent to HTTP and WebSocket
// clients.
package agent

import "github.com/ashureev/chatd/internal/domain"

// ChatRequest is one user turn.
type ChatRequest struct {
	// ConversationID selects an existing conversation; empty starts a new one.
	ConversationID string `json:"conversation_id,omitempty"`
	// UserInput is the user's utterance; absent or blank asks for a greeting.
	UserInput *string `json:"user_input,omitempty"`
	UserID    string  `json:"-"`
}

// ChatResponse is the assistant's reply to a turn.
type ChatResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversation_id"`
}

// SessionList is a page of a user's conversations, newest first.
type SessionList struct {
	Sessions []*domain.ChatSession `json:"sessions"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// TranscriptPage is a page of a conversation transcript, oldest first.
type TranscriptPage struct {
	ConversationID string                    `json:"conversation_id"`
	Entries        []*domain.TranscriptEntry `json:"entries"`
	Page           int                       `json:"page"`
	PageSize       int                       `json:"page_size"`
}
