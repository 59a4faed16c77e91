package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/chatd/internal/checkpoint"
	"github.com/ashureev/chatd/internal/domain"
	"github.com/ashureev/chatd/internal/graph"
	"github.com/google/uuid"
)

// Turner runs one conversation turn. *graph.Graph implements it.
type Turner interface {
	Invoke(ctx context.Context, conversationID string, input *string) (graph.Result, error)
}

// SessionRepository tracks conversation ownership and transcripts.
type SessionRepository interface {
	CreateChatSession(ctx context.Context, session *domain.ChatSession) error
	GetChatSession(ctx context.Context, conversationID string) (*domain.ChatSession, error)
	TouchChatSession(ctx context.Context, conversationID string, at time.Time) error
	ListChatSessions(ctx context.Context, userID string, page domain.Page) ([]*domain.ChatSession, error)
	DeleteChatSession(ctx context.Context, conversationID string) (bool, error)
	ListTranscript(ctx context.Context, conversationID string, page domain.Page) ([]*domain.TranscriptEntry, error)
}

// TranscriptSink receives the messages of successful turns.
type TranscriptSink interface {
	Append(conversationID string, role domain.Role, content string, at time.Time)
}

// transcriptFiles is implemented by sinks that keep per-conversation files.
type transcriptFiles interface {
	DeleteFile(conversationID string) error
}

type noopTranscript struct{}

func (noopTranscript) Append(string, domain.Role, string, time.Time) {}

// Service owns the turn graph and the stores around it. It is built once at
// startup and shared by every transport.
type Service struct {
	graph       Turner
	sessions    SessionRepository
	checkpoints checkpoint.Store
	transcript  TranscriptSink
	logger      *slog.Logger
}

// NewService creates a Service. transcript may be nil.
func NewService(g Turner, sessions SessionRepository, checkpoints checkpoint.Store, transcript TranscriptSink, logger *slog.Logger) *Service {
	if transcript == nil {
		transcript = noopTranscript{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		graph:       g,
		sessions:    sessions,
		checkpoints: checkpoints,
		transcript:  transcript,
		logger:      logger,
	}
}

// Chat runs one turn. An empty ConversationID starts a new conversation owned
// by req.UserID; an id the caller does not own yields
// domain.ErrUnknownConversation.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.UserID == "" {
		return nil, errors.New("user id is required")
	}

	input := req.UserInput
	if input != nil && strings.TrimSpace(*input) == "" {
		input = nil
	}

	conversationID := req.ConversationID
	isNew := conversationID == ""
	if isNew {
		conversationID = uuid.NewString()
	} else if err := s.authorize(ctx, req.UserID, conversationID); err != nil {
		return nil, err
	}

	result, err := s.graph.Invoke(ctx, conversationID, input)
	if err != nil {
		return nil, fmt.Errorf("run turn: %w", err)
	}

	now := time.Now()
	if isNew {
		if err := s.sessions.CreateChatSession(ctx, &domain.ChatSession{
			ConversationID: conversationID,
			UserID:         req.UserID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			// Without an owner the saved state is unreachable.
			s.discardCheckpoint(ctx, conversationID)
			return nil, fmt.Errorf("register conversation: %w", err)
		}
		s.logger.Info("Conversation started", "conversation_id", conversationID, "user_id", req.UserID)
	} else if err := s.sessions.TouchChatSession(ctx, conversationID, now); err != nil {
		if errors.Is(err, domain.ErrUnknownConversation) {
			// Deleted while the turn ran; drop what the turn just saved.
			s.discardCheckpoint(ctx, conversationID)
			return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrUnknownConversation)
		}
		s.logger.Warn("Failed to touch chat session", "conversation_id", conversationID, "error", err)
	}

	if input != nil {
		s.transcript.Append(conversationID, domain.RoleUser, *input, now)
	}
	s.transcript.Append(conversationID, domain.RoleAssistant, result.Reply, now)

	return &ChatResponse{Reply: result.Reply, ConversationID: conversationID}, nil
}

// ListSessions returns a page of the user's conversations.
func (s *Service) ListSessions(ctx context.Context, userID string, page domain.Page) (*SessionList, error) {
	sessions, err := s.sessions.ListChatSessions(ctx, userID, page)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return &SessionList{Sessions: sessions, Page: page.Number, PageSize: page.Size}, nil
}

// Transcript returns a page of a conversation's transcript.
func (s *Service) Transcript(ctx context.Context, userID, conversationID string, page domain.Page) (*TranscriptPage, error) {
	if err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	entries, err := s.sessions.ListTranscript(ctx, conversationID, page)
	if err != nil {
		return nil, fmt.Errorf("list transcript: %w", err)
	}
	return &TranscriptPage{
		ConversationID: conversationID,
		Entries:        entries,
		Page:           page.Number,
		PageSize:       page.Size,
	}, nil
}

// DeleteSession removes a conversation the user owns.
func (s *Service) DeleteSession(ctx context.Context, userID, conversationID string) error {
	if err := s.authorize(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.Purge(ctx, conversationID)
}

// Purge removes a conversation's checkpoint, session record, transcript and
// transcript file regardless of owner.
func (s *Service) Purge(ctx context.Context, conversationID string) error {
	if err := s.checkpoints.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	deleted, err := s.sessions.DeleteChatSession(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if files, ok := s.transcript.(transcriptFiles); ok {
		if err := files.DeleteFile(conversationID); err != nil {
			s.logger.Warn("Failed to remove transcript file", "conversation_id", conversationID, "error", err)
		}
	}
	if !deleted {
		return domain.ErrUnknownConversation
	}
	s.logger.Info("Conversation deleted", "conversation_id", conversationID)
	return nil
}

func (s *Service) discardCheckpoint(ctx context.Context, conversationID string) {
	if err := s.checkpoints.Delete(context.WithoutCancel(ctx), conversationID); err != nil {
		s.logger.Warn("Failed to remove orphaned checkpoint", "conversation_id", conversationID, "error", err)
	}
}

func (s *Service) authorize(ctx context.Context, userID, conversationID string) error {
	session, err := s.sessions.GetChatSession(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if !session.OwnedBy(userID) {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrUnknownConversation)
	}
	return nil
}
