package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubProxy struct {
	calls     map[string]int
	dataTypes []string
	errStatus int
}

func newStubProxy() *stubProxy {
	return &stubProxy{calls: make(map[string]int)}
}

func (s *stubProxy) ServeLogin(w http.ResponseWriter, _ *http.Request) {
	s.calls["login"]++
	w.WriteHeader(http.StatusOK)
}

func (s *stubProxy) ServeLogout(w http.ResponseWriter, _ *http.Request) {
	s.calls["logout"]++
	w.WriteHeader(http.StatusOK)
}

func (s *stubProxy) ServeData(w http.ResponseWriter, r *http.Request) {
	s.calls["data"]++
	s.dataTypes = append(s.dataTypes, r.Header.Get("X-Data-Type"))
	w.WriteHeader(http.StatusOK)
}

func (s *stubProxy) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	s.calls["healthz"]++
	w.WriteHeader(http.StatusOK)
}

func (s *stubProxy) WriteError(w http.ResponseWriter, status int, message string) {
	s.errStatus = status
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

func headerHint(r *http.Request, dataType string) *http.Request {
	cloned := r.Clone(r.Context())
	cloned.Header.Set("X-Data-Type", dataType)
	return cloned
}

func TestParseRoute(t *testing.T) {
	cases := map[string]struct {
		path     string
		route    string
		dataType string
		ok       bool
	}{
		"login":          {path: "/api/login", route: "login", ok: true},
		"logout":         {path: "/api/logout/", route: "logout", ok: true},
		"data":           {path: "/api/data", route: "data", ok: true},
		"data with type": {path: "/api/data/marks", route: "data", dataType: "marks", ok: true},
		"upper case":     {path: "/API/Login", route: "login", ok: true},
		"healthz":        {path: "/healthz", route: "healthz", ok: true},
		"health alias":   {path: "/health", route: "healthz", ok: true},
		"api health":     {path: "/api/health", route: "healthz", ok: true},
		"metrics":        {path: "/metrics", route: "metrics", ok: true},
		"passthrough":    {path: "/api/avers/GET_USER_INFO", ok: false},
		"unknown api":    {path: "/api/other", ok: false},
		"unknown root":   {path: "/login", ok: false},
		"too deep":       {path: "/api/data/marks/extra", ok: false},
		"root":           {path: "/", ok: false},
		"empty":          {path: "", ok: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			route, dataType, ok := parseRoute(tc.path)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.route, route)
			require.Equal(t, tc.dataType, dataType)
		})
	}
}

func TestNewProxyHandlerNilProxy(t *testing.T) {
	rec := httptest.NewRecorder()
	NewProxyHandler(nil, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProxyHandlerDispatches(t *testing.T) {
	stub := newStubProxy()
	metricsHits := 0
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		metricsHits++
		w.WriteHeader(http.StatusOK)
	})
	handler := NewProxyHandler(stub, headerHint, metrics)

	for _, tc := range []struct {
		method string
		path   string
		route  string
	}{
		{method: http.MethodPost, path: "/api/login", route: "login"},
		{method: http.MethodPost, path: "/api/logout", route: "logout"},
		{method: http.MethodGet, path: "/api/data?type=marks", route: "data"},
		{method: http.MethodGet, path: "/api/data/timetable", route: "data"},
		{method: http.MethodGet, path: "/healthz", route: "healthz"},
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code, tc.path)
	}

	require.Equal(t, map[string]int{"login": 1, "logout": 1, "data": 2, "healthz": 1}, stub.calls)
	require.Equal(t, []string{"", "timetable"}, stub.dataTypes)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, metricsHits)
}

func TestProxyHandlerNotFound(t *testing.T) {
	stub := newStubProxy()
	handler := NewProxyHandler(stub, headerHint, nil)

	for _, path := range []string{"/unsupported/path", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		require.Equal(t, http.StatusNotFound, rec.Code, path)
		require.Equal(t, http.StatusNotFound, stub.errStatus)
	}
	require.Empty(t, stub.calls)
}
