package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/chatd/internal/api"
	"github.com/ashureev/chatd/internal/config"
	"github.com/ashureev/chatd/internal/domain"
	"github.com/ashureev/chatd/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the chat API over HTTP and WebSocket.
type Handler struct {
	svc           *Service
	rateLimiter   *RateLimiter
	maxBodySize   int64
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a handler. cfg may be nil, in which case defaults apply.
func NewHandler(svc *Service, cfg *config.Config) *Handler {
	rateLimitRequests := 20
	rateLimitWindow := time.Minute
	maxBodySize := int64(defaultMaxRequestBodySize)
	allowedOrigin := ""
	isDev := true

	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		maxBodySize = cfg.MaxRequestBodySize
		allowedOrigin = cfg.FrontendURL
		isDev = cfg.IsDevelopment()
	}

	return &Handler{
		svc:           svc,
		rateLimiter:   NewRateLimiter(rateLimitRequests, rateLimitWindow),
		maxBodySize:   maxBodySize,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// RegisterRoutes registers chat routes. Identity middleware must run first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/sessions", h.HandleListSessions)
		r.Get("/sessions/{id}/transcript", h.HandleTranscript)
		r.Delete("/sessions/{id}", h.HandleDeleteSession)
	})
	r.Get("/ws/chat", h.HandleChatSocket)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req ChatRequest
	// An empty body is a zero request: new conversation, greeting turn.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = userID

	slog.Info("Chat request",
		"user_id", userID,
		"conversation_id", req.ConversationID,
		"has_input", req.UserInput != nil,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	resp, err := h.svc.Chat(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleListSessions handles GET /api/sessions.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	list, err := h.svc.ListSessions(r.Context(), userID, pageFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, list)
}

// HandleTranscript handles GET /api/sessions/{id}/transcript.
func (h *Handler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, err := h.svc.Transcript(r.Context(), userID, chi.URLParam(r, "id"), pageFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, page)
}

// HandleDeleteSession handles DELETE /api/sessions/{id}.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.svc.DeleteSession(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleChatSocket handles /ws/chat. Each text frame is a ChatRequest; each
// reply frame is a ChatResponse or {"error": ...}. A conversation started on
// the socket is reused by later frames that omit conversation_id.
func (h *Handler) HandleChatSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(h.maxBodySize)

	ctx := r.Context()
	slog.Info("Chat socket connected", "user_id", userID, "ip", identity.IPFromRequest(r))

	current := ""
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Chat socket closed by client", "user_id", userID)
			} else {
				slog.Warn("Chat socket read error", "error", err, "user_id", userID)
			}
			return
		}

		if !h.rateLimiter.Allow(userID) {
			if err := writeSocketJSON(ctx, ws, map[string]string{"error": "rate limit exceeded"}); err != nil {
				return
			}
			continue
		}

		var req ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if err := writeSocketJSON(ctx, ws, map[string]string{"error": "invalid message"}); err != nil {
				return
			}
			continue
		}
		if req.ConversationID == "" {
			req.ConversationID = current
		}
		req.UserID = userID

		resp, err := h.svc.Chat(ctx, req)
		if err != nil {
			status, msg := classifyError(err)
			if status == http.StatusInternalServerError {
				slog.Error("Chat socket turn failed", "user_id", userID, "error", err)
			}
			if err := writeSocketJSON(ctx, ws, map[string]string{"error": msg}); err != nil {
				return
			}
			continue
		}
		current = resp.ConversationID

		if err := writeSocketJSON(ctx, ws, resp); err != nil {
			slog.Debug("Failed to write chat socket reply", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeSocketJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func pageFromRequest(r *http.Request) domain.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return domain.NewPage(number, size)
}

// classifyError maps service errors to an HTTP status and a client-safe message.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnknownConversation):
		return http.StatusNotFound, "conversation not found"
	case errors.Is(err, domain.ErrConversationBusy):
		return http.StatusConflict, "conversation is busy, retry"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classifyError(err)
	if status == http.StatusInternalServerError {
		slog.Error("Chat request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	}
	api.Error(w, status, msg)
}
