package domain

import (
	"time"
)

// ChatSession records which user owns a conversation.
type ChatSession struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OwnedBy returns true if the session belongs to userID.
func (s *ChatSession) OwnedBy(userID string) bool {
	return s != nil && userID != "" && s.UserID == userID
}

// TranscriptEntry is one audited message of a conversation.
type TranscriptEntry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Page describes a 1-based page request.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// NewPage normalizes page parameters: numbers below 1 become 1 and sizes are
// clamped to (0, 100], defaulting to 10.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}
