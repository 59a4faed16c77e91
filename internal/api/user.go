package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/chatd/internal/domain"
	"github.com/ashureev/chatd/internal/identity"
	"github.com/go-chi/chi/v5"
)

// UserReader loads user records.
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// ClientConfig is the server configuration exposed to the frontend.
type ClientConfig struct {
	ModelProvider        string `json:"model_provider"`
	CompressionThreshold int    `json:"compression_threshold"`
	SessionTTLSeconds    int64  `json:"session_ttl_seconds"`
}

// UserHandler serves identity and client configuration endpoints.
type UserHandler struct {
	repo   UserReader
	client ClientConfig
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(repo UserReader, client ClientConfig) *UserHandler {
	return &UserHandler{repo: repo, client: client}
}

// RegisterRoutes registers /api/me and /api/config.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Get("/api/config", h.GetConfig)
}

// GetMe returns the current user's information.
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id":    user.UserID,
		"username":   user.Username,
		"created_at": user.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *UserHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.client)
}
