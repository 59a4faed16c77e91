// Package transcript records the audit transcript of conversations.
//
// Appends are queued and written by a single background worker so the chat
// path never waits on the audit log. When the queue is full the entry is
// dropped with a warning.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/chatd/internal/domain"
	"github.com/google/uuid"
)

// Sink persists transcript entries.
type Sink interface {
	AppendTranscript(ctx context.Context, entry *domain.TranscriptEntry) error
}

// Config controls the recorder.
type Config struct {
	// FileLogEnabled additionally writes one NDJSON file per conversation.
	FileLogEnabled bool
	Dir            string
	QueueSize      int
}

// Recorder writes transcript entries asynchronously.
type Recorder struct {
	sink   Sink
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan domain.TranscriptEntry
	done   chan struct{}
}

// fileLine is the NDJSON record written per entry.
type fileLine struct {
	Timestamp      string `json:"timestamp"`
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

// NewRecorder starts the background writer.
func NewRecorder(sink Sink, cfg Config, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.FileLogEnabled {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("transcript log directory is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create transcript log directory: %w", err)
		}
	}

	r := &Recorder{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan domain.TranscriptEntry, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Append queues one entry. It never blocks.
func (r *Recorder) Append(conversationID string, role domain.Role, content string, at time.Time) {
	entry := domain.TranscriptEntry{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      at,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("Transcript recorder closed, dropping entry", "conversation_id", conversationID)
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("Transcript queue full, dropping entry",
			"conversation_id", conversationID,
			"role", role,
			"queue_size", r.cfg.QueueSize,
		)
	}
}

// Close stops accepting entries and waits until queued ones are written.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry domain.TranscriptEntry) {
	if r.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.sink.AppendTranscript(ctx, &entry)
		cancel()
		if err != nil {
			r.logger.Warn("Failed to store transcript entry",
				"conversation_id", entry.ConversationID,
				"role", entry.Role,
				"error", err,
			)
		}
	}

	if r.cfg.FileLogEnabled {
		if err := r.writeFile(entry); err != nil {
			r.logger.Warn("Failed to write transcript file",
				"conversation_id", entry.ConversationID,
				"error", err,
			)
		}
	}
}

func (r *Recorder) writeFile(entry domain.TranscriptEntry) error {
	path, err := r.filePath(entry.ConversationID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(fileLine{
		Timestamp:      entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		ID:             entry.ID,
		ConversationID: entry.ConversationID,
		Role:           string(entry.Role),
		Content:        entry.Content,
	})
	if err != nil {
		return fmt.Errorf("marshal transcript line: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write transcript file: %w", err)
	}
	return f.Close()
}

// filePath maps a conversation id to its NDJSON file, refusing ids that
// would escape the log directory.
func (r *Recorder) filePath(conversationID string) (string, error) {
	if conversationID == "" || conversationID != filepath.Base(conversationID) ||
		strings.HasPrefix(conversationID, ".") {
		return "", fmt.Errorf("invalid conversation id %q for transcript file", conversationID)
	}
	return filepath.Join(r.cfg.Dir, conversationID+".ndjson"), nil
}

// DeleteFile removes the NDJSON file of a conversation if file logging is on.
func (r *Recorder) DeleteFile(conversationID string) error {
	if !r.cfg.FileLogEnabled {
		return nil
	}
	path, err := r.filePath(conversationID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transcript file: %w", err)
	}
	return nil
}
