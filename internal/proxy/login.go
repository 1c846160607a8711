package proxy

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/journalgate/internal/session"
	"github.com/l0p7/journalgate/internal/upstream"
)

const (
	maxLoginBody = 64 << 10

	msgBadCredentials = "invalid login or password"
)

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginReply struct {
	Success   bool          `json:"success"`
	User      *session.User `json:"user,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ServeLogin signs the caller in against the portal and issues a session token.
// Portal diagnostics never reach the response; every portal-side failure reads as bad
// credentials.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := h.requestLogger(w, r, "login")
	status, outcome := h.serveLogin(w, r, logger)
	h.metrics.ObserveRequest("login", outcome, status, false, time.Since(start))
	logger.Info("login completed",
		slog.Int("http_status", status),
		slog.String("outcome", outcome),
		slog.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
	)
}

func (h *Handler) serveLogin(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int, string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return http.StatusMethodNotAllowed, "invalid"
	}

	creds, err := readCredentials(w, r)
	if err != nil {
		logger.Debug("login body rejected", slog.Any("error", err))
		h.writeJSON(w, http.StatusBadRequest, loginReply{Error: "login and password required"})
		return http.StatusBadRequest, "invalid"
	}

	result, err := h.portal.Login(r.Context(), creds.Login, creds.Password)
	if err != nil {
		var authErr *upstream.AuthError
		if errors.As(err, &authErr) {
			logger.Info("portal rejected login", slog.String("login", creds.Login), slog.String("reason", authErr.Reason))
		} else {
			logger.Warn("portal login failed", slog.String("login", creds.Login), slog.Any("error", err))
		}
		h.writeJSON(w, http.StatusUnauthorized, loginReply{Error: msgBadCredentials})
		return http.StatusUnauthorized, "rejected"
	}

	identity := upstream.ResolveIdentity(creds.Login, result.Cookies, h.identity)
	if h.resolveUserInfo {
		info, err := h.portal.UserInfo(r.Context(), result.Cookies)
		if err != nil {
			logger.Debug("user info lookup failed", slog.Any("error", err))
		} else {
			identity = identity.Overlay(info)
		}
	}

	user := session.User{
		Login:     identity.Login,
		StudentID: identity.StudentID,
		ClassID:   identity.ClassID,
		FullName:  identity.FullName,
	}
	sess, err := h.sessions.Create(r.Context(), user, result.Cookies)
	if err != nil {
		h.metrics.ObserveSession("create", "error")
		logger.Error("session create failed", slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, loginReply{Error: "session unavailable"})
		return http.StatusInternalServerError, "error"
	}
	h.metrics.ObserveSession("create", "ok")

	setSessionCookie(w, sess.Token, h.cookie)
	h.writeJSON(w, http.StatusOK, loginReply{Success: true, User: &sess.User, SessionID: sess.Token})
	return http.StatusOK, "ok"
}

// ServeLogout forgets the caller's session and clears the cookie. It succeeds whether
// or not a session existed.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := h.requestLogger(w, r, "logout")
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		h.metrics.ObserveRequest("logout", "invalid", http.StatusMethodNotAllowed, false, time.Since(start))
		return
	}

	if token := sessionToken(r, h.cookie.Name); token != "" {
		if err := h.sessions.Delete(r.Context(), token); err != nil {
			h.metrics.ObserveSession("delete", "error")
			logger.Error("session delete failed", slog.Any("error", err))
			h.WriteError(w, http.StatusInternalServerError, "session unavailable")
			h.metrics.ObserveRequest("logout", "error", http.StatusInternalServerError, false, time.Since(start))
			return
		}
		h.metrics.ObserveSession("delete", "ok")
	}
	clearSessionCookie(w, h.cookie)
	h.writeJSON(w, http.StatusOK, loginReply{Success: true})
	h.metrics.ObserveRequest("logout", "ok", http.StatusOK, false, time.Since(start))
}

var errMissingCredentials = errors.New("proxy: login and password required")

// readCredentials accepts a JSON body or a urlencoded form.
func readCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	var creds credentials
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			return credentials{}, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return credentials{}, err
		}
		creds.Login = r.PostFormValue("login")
		creds.Password = r.PostFormValue("password")
	}

	creds.Login = strings.TrimSpace(creds.Login)
	if creds.Login == "" || creds.Password == "" {
		return credentials{}, errMissingCredentials
	}
	return creds, nil
}
