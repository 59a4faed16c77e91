package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/chatd/internal/agent"
	"github.com/ashureev/chatd/internal/checkpoint"
	"github.com/ashureev/chatd/internal/config"
	"github.com/ashureev/chatd/internal/graph"
	"github.com/ashureev/chatd/internal/llm"
	"github.com/ashureev/chatd/internal/store"
	"github.com/ashureev/chatd/internal/transcript"
	"github.com/joho/godotenv"
)

// runtime is the server's dependency graph, built for one command.
type runtime struct {
	cfg         *config.Config
	repo        *store.SQLiteStore
	checkpoints checkpoint.Store
	recorder    *transcript.Recorder
	svc         *agent.Service
}

func (a *App) openRuntime(ctx context.Context) (*runtime, error) {
	if err := godotenv.Load(a.envFile); err != nil {
		slog.Debug("No env file loaded", "path", a.envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	rt := &runtime{cfg: cfg}
	rt.repo, err = store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	rt.checkpoints, err = checkpoint.Open(ctx, cfg.Checkpoint, rt.repo.DB())
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	model, err := llm.New(cfg.Model)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.recorder, err = transcript.NewRecorder(rt.repo, transcript.Config{
		FileLogEnabled: cfg.Transcript.FileLogEnabled,
		Dir:            cfg.Transcript.Dir,
		QueueSize:      cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	turns := graph.New(model.Complete, rt.checkpoints,
		graph.WithCompressionThreshold(cfg.CompressionThreshold),
		graph.WithLogger(logger),
	)
	rt.svc = agent.NewService(turns, rt.repo, rt.checkpoints, rt.recorder, logger)
	return rt, nil
}

// Close flushes pending transcripts and releases the stores.
func (rt *runtime) Close() error {
	var errs []error
	if rt.recorder != nil {
		errs = append(errs, rt.recorder.Close())
	}
	if rt.checkpoints != nil {
		errs = append(errs, rt.checkpoints.Close())
	}
	if rt.repo != nil {
		errs = append(errs, rt.repo.Close())
	}
	return errors.Join(errs...)
}

// withRuntime opens the runtime, runs fn and closes it.
func (a *App) withRuntime(ctx context.Context, fn func(*runtime) error) (err error) {
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(rt)
}
