package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/l0p7/journalgate/internal/cache"
	"github.com/l0p7/journalgate/internal/metrics"
	"github.com/l0p7/journalgate/internal/session"
)

const (
	headerCache = "X-Cache"

	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
)

type typeContextKey struct{}

// WithDataType pins the data type for a request whose type travels in the URL path.
func WithDataType(r *http.Request, name string) *http.Request {
	name = strings.TrimSpace(name)
	if r == nil || name == "" {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), typeContextKey{}, name))
}

func dataTypeName(r *http.Request) string {
	if name, ok := r.Context().Value(typeContextKey{}).(string); ok {
		return strings.ToLower(name)
	}
	return strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type")))
}

type fetchResult struct {
	payload json.RawMessage
	cached  bool
}

// ServeData returns the payload for one data type. Fresh cache entries are served as
// is; otherwise the portal is asked once per key, the answer cached, and a portal
// failure degrades to the type's empty payload without touching the cache.
func (h *Handler) ServeData(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := h.requestLogger(w, r, "data")
	status, outcome, fromCache := h.serveData(w, r, logger)
	h.metrics.ObserveRequest("data", outcome, status, fromCache, time.Since(start))
	logger.Info("data request completed",
		slog.Int("http_status", status),
		slog.String("outcome", outcome),
		slog.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
		slog.Bool("from_cache", fromCache),
	)
}

func (h *Handler) serveData(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int, string, bool) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return http.StatusMethodNotAllowed, "invalid", false
	}

	sess, err := h.sessions.Get(r.Context(), sessionToken(r, h.cookie.Name))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.metrics.ObserveSession("get", "not_found")
			h.WriteError(w, http.StatusUnauthorized, "not authenticated")
			return http.StatusUnauthorized, "unauthenticated", false
		}
		h.metrics.ObserveSession("get", "error")
		logger.Error("session lookup failed", slog.Any("error", err))
		h.WriteError(w, http.StatusServiceUnavailable, "session unavailable")
		return http.StatusServiceUnavailable, "error", false
	}
	h.metrics.ObserveSession("get", "ok")

	dt, ok := lookupDataType(dataTypeName(r))
	if !ok {
		h.WriteError(w, http.StatusBadRequest, "unknown data type")
		return http.StatusBadRequest, "invalid", false
	}
	query, err := h.parseQuery(r, sess.User)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest, "invalid", false
	}
	logger = logger.With(slog.String("data_type", dt.Name), slog.String("action", dt.Action))

	key := cache.Key(dt.Name, query.StudentID, query.ClassID, query.Year)
	directives := cache.ParseDirectives(r.Header.Get("Cache-Control"))
	owned := query.StudentID == sess.User.StudentID && query.ClassID == sess.User.ClassID
	if !owned {
		// Entries are shared across sessions, so ids other than the caller's own never
		// read or fill the cache; the portal decides what these cookies may see.
		directives = cache.Directives{NoCache: true, NoStore: true}
	}
	if !directives.NoCache {
		if payload, ok := h.lookup(r.Context(), dt.Name, key, logger); ok {
			w.Header().Set(headerCache, cacheHit)
			h.writeRaw(w, http.StatusOK, payload)
			return http.StatusOK, "ok", true
		}
	}

	flight := key
	switch {
	case !owned:
		flight += "|session:" + sess.Token
	case directives.NoStore:
		flight += "|no-store"
	}
	// Waiters share one portal call per key. The call outlives a single caller going
	// away because its result feeds the cache for everyone else.
	v, err, shared := h.fetches.Do(flight, func() (any, error) {
		return h.fetch(context.WithoutCancel(r.Context()), sess, dt, query, key, !directives.NoStore, logger)
	})
	if err != nil {
		logger.Warn("portal fetch failed, serving empty payload", slog.Any("error", err), slog.Bool("shared", shared))
		w.Header().Set(headerCache, cacheBypass)
		h.writeRaw(w, http.StatusOK, dt.Fallback)
		return http.StatusOK, "degraded", false
	}
	res := v.(fetchResult)
	if res.cached {
		w.Header().Set(headerCache, cacheMiss)
	} else {
		w.Header().Set(headerCache, cacheBypass)
	}
	h.writeRaw(w, http.StatusOK, res.payload)
	return http.StatusOK, "ok", false
}

func (h *Handler) lookup(ctx context.Context, dataType, key string, logger *slog.Logger) (json.RawMessage, bool) {
	start := time.Now()
	entry, fresh, err := h.cache.Lookup(ctx, key)
	switch {
	case err != nil:
		h.metrics.ObserveCacheLookup(dataType, metrics.CacheLookupError, time.Since(start))
		logger.Warn("cache lookup failed", slog.Any("error", err))
		return nil, false
	case fresh:
		h.metrics.ObserveCacheLookup(dataType, metrics.CacheLookupHit, time.Since(start))
		return entry.Payload, true
	case entry.Payload != nil:
		h.metrics.ObserveCacheLookup(dataType, metrics.CacheLookupStale, time.Since(start))
		return nil, false
	default:
		h.metrics.ObserveCacheLookup(dataType, metrics.CacheLookupMiss, time.Since(start))
		return nil, false
	}
}

func (h *Handler) fetch(ctx context.Context, sess session.Session, dt dataType, q dataQuery, key string, store bool, logger *slog.Logger) (fetchResult, error) {
	payload, err := h.portal.FetchAction(ctx, sess.Cookies, dt.Action, dt.form(q))
	if err != nil {
		return fetchResult{}, err
	}
	if len(payload) == 0 || string(payload) == "null" {
		payload = dt.Fallback
	}
	if !store {
		return fetchResult{payload: payload}, nil
	}

	start := time.Now()
	if err := h.cache.Store(ctx, key, payload); err != nil {
		h.metrics.ObserveCacheStore(dt.Name, metrics.CacheStoreError, time.Since(start))
		logger.Warn("cache store failed", slog.Any("error", err))
		return fetchResult{payload: payload}, nil
	}
	h.metrics.ObserveCacheStore(dt.Name, metrics.CacheStoreStored, time.Since(start))
	return fetchResult{payload: payload, cached: true}, nil
}

// parseQuery fills ids from the query string, defaulting to the session owner and
// the current calendar year.
func (h *Handler) parseQuery(r *http.Request, user session.User) (dataQuery, error) {
	values := r.URL.Query()
	q := dataQuery{StudentID: user.StudentID, ClassID: user.ClassID, Year: h.now().Year()}

	if raw := strings.TrimSpace(values.Get("studentId")); raw != "" {
		id, err := positiveInt(raw)
		if err != nil {
			return dataQuery{}, fmt.Errorf("invalid studentId %q", raw)
		}
		q.StudentID = id
	}
	if raw := strings.TrimSpace(values.Get("classId")); raw != "" {
		id, err := positiveInt(raw)
		if err != nil {
			return dataQuery{}, fmt.Errorf("invalid classId %q", raw)
		}
		q.ClassID = id
	}
	if raw := strings.TrimSpace(values.Get("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year < 1900 || year > 9999 {
			return dataQuery{}, fmt.Errorf("invalid year %q", raw)
		}
		q.Year = year
	}
	return q, nil
}

func positiveInt(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("must be positive")
	}
	return id, nil
}
