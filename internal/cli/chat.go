package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/chatd/internal/agent"
	"github.com/ashureev/chatd/internal/identity"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	message        string
	conversationID string
	userID         string
}

func (a *App) newChatCmd() *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant",
		Long: `Run chat turns against the configured model and stores.

With --message a single turn is run and the reply printed. Without it an
interactive session reads one message per line from stdin until EOF; a new
conversation opens with the assistant's greeting.

Examples:
  chatctl chat -m "What is a goroutine?"
  chatctl chat --conversation 2f1c... -m "and a channel?"
  chatctl chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := identity.EnsureUser(cmd.Context(), rt.repo, opts.userID); err != nil {
					return fmt.Errorf("ensure user: %w", err)
				}
				if cmd.Flags().Changed("message") {
					return a.chatOnce(cmd.Context(), rt, opts)
				}
				return a.chatLoop(cmd.Context(), rt, opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "Send a single message and exit")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "Continue an existing conversation")
	cmd.Flags().StringVar(&opts.userID, "user", "operator", "User that owns the conversation")

	return cmd
}

func (a *App) chatOnce(ctx context.Context, rt *runtime, opts *chatOptions) error {
	input := opts.message
	resp, err := rt.svc.Chat(ctx, agent.ChatRequest{
		ConversationID: opts.conversationID,
		UserInput:      &input,
		UserID:         opts.userID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "conversation: %s\n%s\n", resp.ConversationID, resp.Reply)
	return nil
}

func (a *App) chatLoop(ctx context.Context, rt *runtime, opts *chatOptions) error {
	current := opts.conversationID
	if current == "" {
		resp, err := rt.svc.Chat(ctx, agent.ChatRequest{UserID: opts.userID})
		if err != nil {
			return err
		}
		current = resp.ConversationID
		fmt.Fprintf(a.stdout, "conversation: %s\nassistant> %s\n", current, resp.Reply)
	}

	scanner := bufio.NewScanner(a.stdin)
	for {
		fmt.Fprint(a.stdout, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp, err := rt.svc.Chat(ctx, agent.ChatRequest{
			ConversationID: current,
			UserInput:      &line,
			UserID:         opts.userID,
		})
		if err != nil {
			fmt.Fprintf(a.stderr, "error: %v\n", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		fmt.Fprintf(a.stdout, "assistant> %s\n", resp.Reply)
	}
}
