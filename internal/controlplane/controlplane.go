// Package controlplane is the bridge's one HTTP surface: a per-entity poll/send API
// authenticated by the entity's own API key. It registers routes on a ServeMux using Go 1.22+
// method patterns, behind an authMiddleware wrapper, and responds through a writeJSON helper.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/arachne-bridge/arachne/internal/cryptobox"
	"github.com/arachne-bridge/arachne/internal/entity"
	"github.com/arachne-bridge/arachne/internal/queue"
	"github.com/arachne-bridge/arachne/internal/webhookmgr"
)

type contextKey int

const entityContextKey contextKey = iota

// Registry is the subset of entity.Registry the control plane consumes.
type Registry interface {
	Authenticate(ctx context.Context, apiKey string) (*entity.Entity, error)
}

// Bus is the subset of queue.Bus the control plane consumes.
type Bus interface {
	Drain(entityID string, key *[cryptobox.KeySize]byte) ([]queue.Message, error)
}

// KeyLookup is the subset of keystore.Store the control plane consumes.
type KeyLookup interface {
	Get(entityID string) ([cryptobox.KeySize]byte, bool)
}

// Sender is the subset of webhookmgr.Manager the control plane consumes.
type Sender interface {
	Send(ctx context.Context, channelID, entityName, avatarURL, content, threadID string) error
}

// Handler serves the GET /v1/queue and POST /v1/send routes.
type Handler struct {
	registry Registry
	bus      Bus
	keys     KeyLookup
	sender   Sender
	logger   *slog.Logger
}

func New(registry Registry, bus Bus, keys KeyLookup, sender Sender, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{registry: registry, bus: bus, keys: keys, sender: sender, logger: logger}
}

// RegisterRoutes registers the control-plane routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/queue", h.authMiddleware(h.handleQueue))
	mux.HandleFunc("POST /v1/send", h.authMiddleware(h.handleSend))
}

func (h *Handler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractBearerToken(r)
		if apiKey == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		e, err := h.registry.Authenticate(r.Context(), apiKey)
		if err != nil {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		ctx := context.WithValue(r.Context(), entityContextKey, e)
		next(w, r.WithContext(ctx))
	}
}

func entityFromContext(ctx context.Context) *entity.Entity {
	e, _ := ctx.Value(entityContextKey).(*entity.Entity)
	return e
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	e := entityFromContext(r.Context())

	var key *[cryptobox.KeySize]byte
	if k, ok := h.keys.Get(e.ID); ok {
		key = &k
	}

	msgs, err := h.bus.Drain(e.ID, key)
	if errors.Is(err, queue.ErrKeyMissing) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "key missing"})
		return
	}
	if err != nil {
		h.logger.Warn("controlplane.drain_failed", "entity_id", e.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ThreadID  string `json:"thread_id,omitempty"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	e := entityFromContext(r.Context())

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.ChannelID == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel_id and content are required"})
		return
	}

	err := h.sender.Send(r.Context(), req.ChannelID, e.DisplayName, e.AvatarURL, req.Content, req.ThreadID)
	if errors.Is(err, webhookmgr.ErrForbidden) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	if err != nil {
		h.logger.Warn("controlplane.send_failed", "entity_id", e.ID, "channel_id", req.ChannelID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream send failed"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
