package server

import (
	"net/http"
	"strings"
)

// ProxyHTTP is the surface the router dispatches to.
type ProxyHTTP interface {
	ServeLogin(http.ResponseWriter, *http.Request)
	ServeLogout(http.ResponseWriter, *http.Request)
	ServeData(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// DataTypeHinter lets the router pass a data type taken from the URL path
// (/api/data/<type>) down to the data handler.
type DataTypeHinter func(*http.Request, string) *http.Request

// NewProxyHandler owns URL dispatch so the proxy handlers stay free of routing.
// metricsHandler may be nil, in which case /metrics is not served.
func NewProxyHandler(p ProxyHTTP, hint DataTypeHinter, metricsHandler http.Handler) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "proxy unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, dataType, ok := parseRoute(r.URL.Path)
		if !ok {
			p.WriteError(w, http.StatusNotFound, "not found")
			return
		}

		switch route {
		case "login":
			p.ServeLogin(w, r)
		case "logout":
			p.ServeLogout(w, r)
		case "data":
			if dataType != "" && hint != nil {
				r = hint(r, dataType)
			}
			p.ServeData(w, r)
		case "healthz":
			p.ServeHealth(w, r)
		case "metrics":
			if metricsHandler == nil {
				p.WriteError(w, http.StatusNotFound, "not found")
				return
			}
			metricsHandler.ServeHTTP(w, r)
		}
	})
}

func parseRoute(path string) (string, string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		switch strings.ToLower(parts[0]) {
		case "health", "healthz":
			return "healthz", "", true
		case "metrics":
			return "metrics", "", true
		}
	case 2:
		if !strings.EqualFold(parts[0], "api") {
			break
		}
		switch route := strings.ToLower(parts[1]); route {
		case "login", "logout", "data":
			return route, "", true
		case "health", "healthz":
			return "healthz", "", true
		}
	case 3:
		if strings.EqualFold(parts[0], "api") && strings.EqualFold(parts[1], "data") && parts[2] != "" {
			return "data", parts[2], true
		}
	}
	return "", "", false
}
