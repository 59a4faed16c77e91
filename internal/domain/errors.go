package domain

import "errors"

var (
	// ErrModelUnavailable is returned when the language model call fails,
	// times out or is rejected by an open circuit breaker.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrCheckpointUnavailable is returned when conversation state cannot be
	// loaded or saved.
	ErrCheckpointUnavailable = errors.New("checkpoint unavailable")

	// ErrUnknownConversation is returned when a conversation identifier is not
	// known to the caller.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrConversationBusy is returned when another turn for the same
	// conversation committed first.
	ErrConversationBusy = errors.New("conversation busy")
)
