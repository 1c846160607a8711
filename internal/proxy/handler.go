// Package proxy serves the journal-facing HTTP surface: login, logout, cached data
// reads and health.
package proxy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/journalgate/internal/cache"
	"github.com/l0p7/journalgate/internal/metrics"
	"github.com/l0p7/journalgate/internal/session"
	"github.com/l0p7/journalgate/internal/upstream"
)

// Portal is the slice of the upstream client the handler depends on.
type Portal interface {
	Login(ctx context.Context, login, password string) (upstream.LoginResult, error)
	FetchAction(ctx context.Context, cookies, action string, params url.Values) (json.RawMessage, error)
	UserInfo(ctx context.Context, cookies string) (map[string]any, error)
}

// Options wires the handler to its collaborators.
type Options struct {
	Portal            Portal
	Sessions          session.Store
	Cache             cache.PayloadCache
	Metrics           *metrics.Recorder
	Cookie            CookieOptions
	Identity          upstream.IdentityDefaults
	ResolveUserInfo   bool
	CorrelationHeader string
	Now               func() time.Time
}

// Handler answers proxy requests. It is safe for concurrent use.
type Handler struct {
	logger            *slog.Logger
	portal            Portal
	sessions          session.Store
	cache             cache.PayloadCache
	metrics           *metrics.Recorder
	cookie            CookieOptions
	identity          upstream.IdentityDefaults
	resolveUserInfo   bool
	correlationHeader string
	now               func() time.Time

	fetches singleflight.Group
}

// New validates opts and returns a Handler.
func New(logger *slog.Logger, opts Options) (*Handler, error) {
	if opts.Portal == nil {
		return nil, errors.New("proxy: portal required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("proxy: session store required")
	}
	if opts.Cache == nil {
		return nil, errors.New("proxy: payload cache required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		logger:            logger.With(slog.String("agent", "proxy")),
		portal:            opts.Portal,
		sessions:          opts.Sessions,
		cache:             opts.Cache,
		metrics:           opts.Metrics,
		cookie:            opts.Cookie.normalize(),
		identity:          opts.Identity,
		resolveUserInfo:   opts.ResolveUserInfo,
		correlationHeader: strings.TrimSpace(opts.CorrelationHeader),
		now:               opts.Now,
	}, nil
}

// Close releases the session store and the cache.
func (h *Handler) Close(ctx context.Context) error {
	return errors.Join(h.sessions.Close(ctx), h.cache.Close(ctx))
}

// ServeHealth reports liveness plus store sizes.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	sessions, err := h.sessions.Size(r.Context())
	if err != nil {
		h.logger.Error("session size query failed", slog.Any("error", err))
		status = "degraded"
	}
	entries, err := h.cache.Size(r.Context())
	if err != nil {
		h.logger.Error("cache size query failed", slog.Any("error", err))
		status = "degraded"
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"sessions":     sessions,
		"cacheEntries": entries,
		"dataTypes":    DataTypes(),
		"observedAt":   h.now().UTC(),
	})
}

// WriteError renders a JSON error body.
func (h *Handler) WriteError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encode failed", slog.Any("error", err))
	}
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Error("response write failed", slog.Any("error", err))
	}
}

func (h *Handler) requestLogger(w http.ResponseWriter, r *http.Request, route string) *slog.Logger {
	id := h.correlationID(r)
	if h.correlationHeader != "" {
		w.Header().Set(h.correlationHeader, id)
	}
	return h.logger.With(slog.String("route", route), slog.String("correlation_id", id))
}

func (h *Handler) correlationID(r *http.Request) string {
	if h.correlationHeader != "" {
		if candidate := strings.TrimSpace(r.Header.Get(h.correlationHeader)); candidate != "" {
			return candidate
		}
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
