// Package cli provides the chatctl operator command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// App represents the CLI application.
type App struct {
	root    *cobra.Command
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	envFile string
}

// New creates a new CLI application.
func New() *App {
	app := &App{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "chatctl",
		Short: "Operate a chatd deployment from the command line",
		Long: `chatctl talks to the same database, checkpoint store and model as the
chatd server. Configuration is read from the environment (and .env), exactly
as the server does.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	app.root.PersistentFlags().StringVar(&app.envFile, "env-file", ".env", "dotenv file to load before reading configuration")

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newChatCmd(),
		app.newSessionsCmd(),
		app.newTranscriptCmd(),
		app.newDeleteCmd(),
		app.newSweepCmd(),
	)

	return app
}

// WithIO sets custom input and output streams.
func (a *App) WithIO(stdin io.Reader, stdout, stderr io.Writer) *App {
	a.stdin = stdin
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetIn(stdin)
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the CLI application.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments.
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "chatctl version %s\n", Version)
			fmt.Fprintf(a.stdout, "  Git commit: %s\n", GitCommit)
		},
	}
}
