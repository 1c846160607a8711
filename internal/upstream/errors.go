package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError reports that the portal refused a login. The portal has no status-code
// contract for rejections, so this is raised heuristically: either the login exchange
// issued no Set-Cookie at all, or the response body carried a known failure phrase.
// Reason is diagnostic only and must not be shown to end users.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "upstream: login rejected: " + e.Reason
}

// UpstreamError wraps transport failures, timeouts and unexpected statuses.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("upstream: %s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("upstream: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("upstream: %s: unexpected status %d %s", e.Op, e.Status, http.StatusText(e.Status))
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

var errNotJSON = errors.New("response body is not JSON")

// IsAuthError reports whether err carries an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsUpstreamError reports whether err carries an *UpstreamError.
func IsUpstreamError(err error) bool {
	var upErr *UpstreamError
	return errors.As(err, &upErr)
}
