package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ashureev/chatd/internal/domain"
	"github.com/ashureev/chatd/internal/sweeper"
	"github.com/spf13/cobra"
)

type pageOptions struct {
	page       int
	pageSize   int
	jsonOutput bool
}

func (o *pageOptions) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.page, "page", 1, "Page number")
	cmd.Flags().IntVar(&o.pageSize, "page-size", 10, "Entries per page (max 100)")
	cmd.Flags().BoolVar(&o.jsonOutput, "json", false, "Output results as JSON")
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) newSessionsCmd() *cobra.Command {
	opts := &pageOptions{}
	var userID string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List a user's conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				list, err := rt.svc.ListSessions(cmd.Context(), userID, domain.NewPage(opts.page, opts.pageSize))
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return a.printJSON(list)
				}
				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CONVERSATION\tCREATED\tUPDATED")
				for _, s := range list.Sessions {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ConversationID,
						s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "operator", "User whose conversations to list")
	opts.bind(cmd)
	return cmd
}

func (a *App) newTranscriptCmd() *cobra.Command {
	opts := &pageOptions{}
	var userID string

	cmd := &cobra.Command{
		Use:   "transcript <conversation-id>",
		Short: "Print the audit transcript of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				page, err := rt.svc.Transcript(cmd.Context(), userID, args[0], domain.NewPage(opts.page, opts.pageSize))
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return a.printJSON(page)
				}
				for _, e := range page.Entries {
					fmt.Fprintf(a.stdout, "[%s] %s: %s\n", e.CreatedAt.Format(time.RFC3339), e.Role, e.Content)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "operator", "User that owns the conversation")
	opts.bind(cmd)
	return cmd
}

func (a *App) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation regardless of owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.svc.Purge(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func (a *App) newSweepCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Purge conversations idle for longer than --ttl once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if !cmd.Flags().Changed("ttl") {
					ttl = rt.cfg.SessionTTL
				}
				if ttl <= 0 {
					return fmt.Errorf("--ttl must be > 0")
				}
				n := sweeper.New(rt.repo, rt.svc, ttl, rt.cfg.SweepPeriod, nil, nil).SweepOnce(cmd.Context())
				fmt.Fprintf(a.stdout, "purged %d conversation(s)\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Idle time after which a conversation is purged (default SESSION_TTL)")
	return cmd
}
