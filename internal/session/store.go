package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// DefaultRetention bounds how long a session lives after it was created.
const DefaultRetention = 24 * time.Hour

// ErrNotFound is returned for tokens that were never issued, were deleted, or aged out.
// Callers must treat it as "sign in again".
var ErrNotFound = errors.New("session: not found")

var errTokenCollision = errors.New("session: token collision")

// User is the identity resolved at login.
type User struct {
	Login     string `json:"login"`
	StudentID int64  `json:"studentId"`
	ClassID   int64  `json:"classId"`
	FullName  string `json:"fullName"`
}

// Session binds an opaque token to the portal cookies captured at login. It is never
// mutated after creation.
type Session struct {
	Token     string    `json:"token"`
	Cookies   string    `json:"cookies"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store issues and resolves session tokens. Sessions expire strictly by creation time;
// reads never extend them.
type Store interface {
	Create(ctx context.Context, user User, cookies string) (Session, error)
	Get(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
	Sweep(ctx context.Context) (int, error)
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

const tokenBytes = 32 // 256 bits

// NewToken returns a URL-safe token carrying 256 bits from crypto/rand.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func expired(s Session, now time.Time, retention time.Duration) bool {
	return now.Sub(s.CreatedAt) > retention
}
