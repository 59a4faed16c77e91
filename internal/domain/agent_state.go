package domain

import "strings"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single entry of the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage returns a system-role message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage returns a user-role message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage returns an assistant-role message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// String renders the message as "<role>:<content>".
func (m Message) String() string {
	return string(m.Role) + ":" + m.Content
}

// AgentState is the persisted state of one conversation.
//
// PendingInput is the utterance processed by the current turn. It is never
// serialized and is cleared before the state is saved.
type AgentState struct {
	Messages              []Message `json:"messages"`
	PendingInput          *string   `json:"-"`
	TurnsSinceCompression int       `json:"turns_since_compression"`
}

// NewAgentState returns the empty state used for a conversation seen for the
// first time.
func NewAgentState() AgentState {
	return AgentState{Messages: []Message{}}
}

// Clone returns a deep copy of the state so callers can mutate the copy
// without affecting the original.
func (s AgentState) Clone() AgentState {
	out := AgentState{
		Messages:              make([]Message, len(s.Messages)),
		TurnsSinceCompression: s.TurnsSinceCompression,
	}
	copy(out.Messages, s.Messages)
	if s.PendingInput != nil {
		input := *s.PendingInput
		out.PendingInput = &input
	}
	return out
}

// LastAssistantMessage returns the most recent assistant message, if any.
func (s AgentState) LastAssistantMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Render joins the history as newline-separated "<role>:<content>" lines.
func (s AgentState) Render() string {
	lines := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		lines = append(lines, m.String())
	}
	return strings.Join(lines, "\n")
}
