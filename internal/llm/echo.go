package llm

import (
	"context"
	"strings"

	"github.com/ashureev/chatd/internal/domain"
)

// Echo is an offline completer for local development. It replies with the
// last user message.
type Echo struct{}

// Complete returns "echo: <last user message>".
func (Echo) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return "echo: " + strings.TrimSpace(messages[i].Content), nil
		}
	}
	return "echo", nil
}
