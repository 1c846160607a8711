package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/journalgate/internal/metrics"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 1 << 20
	maxLoginRedirects   = 5
)

// httpDoer represents the minimal client contract used to reach the portal.
type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config describes how to reach and talk to the journal portal.
type Config struct {
	BaseURL              string
	LoginPath            string
	APIPath              string
	UserAgent            string
	SchoolCode           string
	LoginLengthThreshold int
	FailureMarkers       []string
	Timeout              time.Duration
	MaxBodyBytes         int64
}

// LoginResult carries what a successful login captured. Cookies is a request-cookie
// string ("a=1; b=2") that callers treat as opaque.
type LoginResult struct {
	Cookies string
	Body    string
}

// Client performs the two portal interactions: login and action fetches. It holds no
// per-user state between calls.
type Client struct {
	cfg     Config
	base    *url.URL
	http    httpDoer
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport. Redirects on login are followed by the Client
// itself, so doers that follow redirects on their own will hide intermediate cookies.
func WithHTTPClient(doer httpDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithMetrics attaches a recorder for upstream call outcomes.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = rec
	}
}

// New validates cfg and returns a ready Client.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream: base url must be absolute: %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.With(slog.String("agent", "upstream")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login signs in against the portal. The portal may demand a pre-session cookie, so
// the root page is fetched first and its cookies ride along with the credentials.
func (c *Client) Login(ctx context.Context, login, password string) (LoginResult, error) {
	start := time.Now()
	result, err := c.login(ctx, login, password)
	c.metrics.ObserveUpstream("login", outcomeFor(err), time.Since(start))
	if err != nil {
		c.logger.Debug("portal login failed", slog.String("login", login), slog.Any("error", err))
	}
	return result, err
}

func (c *Client) login(ctx context.Context, login, password string) (LoginResult, error) {
	jar := &cookieSet{}

	if _, err := c.follow(ctx, "preflight", http.MethodGet, c.resolve("/"), "", jar); err != nil {
		return LoginResult{}, err
	}

	form := url.Values{}
	form.Set("l", login)
	form.Set("p", password)
	if c.needsSchoolCode(login) {
		form.Set("s", c.cfg.SchoolCode)
	}

	ex, err := c.follow(ctx, "login", http.MethodPost, c.resolve(c.cfg.LoginPath), form.Encode(), jar)
	if err != nil {
		return LoginResult{}, err
	}
	if ex.status >= http.StatusInternalServerError {
		return LoginResult{}, &UpstreamError{Op: "login", Status: ex.status}
	}
	if ex.issued == 0 {
		return LoginResult{}, &AuthError{Reason: "no Set-Cookie in login response"}
	}
	for _, marker := range c.cfg.FailureMarkers {
		if marker != "" && strings.Contains(ex.body, marker) {
			return LoginResult{}, &AuthError{Reason: fmt.Sprintf("failure marker %q in response body", marker)}
		}
	}
	return LoginResult{Cookies: jar.header(), Body: ex.body}, nil
}

type exchange struct {
	status int
	body   string
	issued int
}

// follow sends one request and walks up to maxLoginRedirects hops, carrying the jar
// on every hop and absorbing whatever each hop sets.
func (c *Client) follow(ctx context.Context, op, method, target, body string, jar *cookieSet) (exchange, error) {
	var ex exchange
	for hop := 0; ; hop++ {
		req, err := c.newRequest(ctx, method, target, body)
		if err != nil {
			return exchange{}, err
		}
		if header := jar.header(); header != "" {
			req.Header.Set("Cookie", header)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return exchange{}, &UpstreamError{Op: op, Err: err}
		}
		data, err := c.readBody(resp)
		if err != nil {
			return exchange{}, &UpstreamError{Op: op, Err: err}
		}
		set := resp.Cookies()
		ex.issued += len(set)
		jar.absorb(set)
		ex.status = resp.StatusCode

		if isRedirect(resp.StatusCode) && hop < maxLoginRedirects {
			if next, err := resp.Location(); err == nil {
				target = next.String()
				if resp.StatusCode != http.StatusTemporaryRedirect && resp.StatusCode != http.StatusPermanentRedirect {
					method = http.MethodGet
					body = ""
				}
				continue
			}
		}
		ex.body = string(data)
		return ex, nil
	}
}

// needsSchoolCode mirrors the portal's expectation that e-mail style or long logins
// carry the institution code.
func (c *Client) needsSchoolCode(login string) bool {
	if c.cfg.SchoolCode == "" {
		return false
	}
	return strings.Contains(login, "@") || len([]rune(login)) > c.cfg.LoginLengthThreshold
}

// FetchAction runs a named portal action with the caller's session cookies. An empty
// or null body yields a nil payload and no error; callers pick their own default.
func (c *Client) FetchAction(ctx context.Context, cookies, action string, params url.Values) (json.RawMessage, error) {
	start := time.Now()
	payload, err := c.fetchAction(ctx, cookies, action, params)
	c.metrics.ObserveUpstream(action, outcomeFor(err), time.Since(start))
	return payload, err
}

func (c *Client) fetchAction(ctx context.Context, cookies, action string, params url.Values) (json.RawMessage, error) {
	if strings.TrimSpace(action) == "" {
		return nil, errors.New("upstream: action required")
	}
	form := url.Values{}
	for name, values := range params {
		form[name] = append([]string(nil), values...)
	}
	form.Set("action", action)

	req, err := c.newRequest(ctx, http.MethodPost, c.resolve(c.cfg.APIPath), form.Encode())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: action, Err: err}
	}
	data, err := c.readBody(resp)
	if err != nil {
		return nil, &UpstreamError{Op: action, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Op: action, Status: resp.StatusCode}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, &UpstreamError{Op: action, Status: resp.StatusCode, Err: errNotJSON}
	}
	return json.RawMessage(trimmed), nil
}

func (c *Client) newRequest(ctx context.Context, method, target, body string) (*http.Request, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	return req, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close body: %w", closeErr)
	}
	return data, nil
}

func (c *Client) resolve(path string) string {
	if path == "" {
		path = "/"
	}
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String()
	}
	return c.base.ResolveReference(ref).String()
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func outcomeFor(err error) metrics.UpstreamOutcome {
	switch {
	case err == nil:
		return metrics.UpstreamOK
	case IsAuthError(err):
		return metrics.UpstreamRejected
	default:
		return metrics.UpstreamFailed
	}
}

// cookieSet keeps name=value pairs in first-seen order so the Cookie header is stable.
type cookieSet struct {
	names  []string
	values map[string]string
}

func (s *cookieSet) absorb(cookies []*http.Cookie) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	for _, ck := range cookies {
		if ck == nil || ck.Name == "" {
			continue
		}
		if ck.MaxAge < 0 {
			s.remove(ck.Name)
			continue
		}
		if _, ok := s.values[ck.Name]; !ok {
			s.names = append(s.names, ck.Name)
		}
		s.values[ck.Name] = ck.Value
	}
}

func (s *cookieSet) remove(name string) {
	if _, ok := s.values[name]; !ok {
		return
	}
	delete(s.values, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
}

func (s *cookieSet) header() string {
	parts := make([]string, 0, len(s.names))
	for _, name := range s.names {
		parts = append(parts, name+"="+s.values[name])
	}
	return strings.Join(parts, "; ")
}
