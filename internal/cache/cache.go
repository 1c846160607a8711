// Package cache memoizes upstream payloads per (data type, student, class) key for a
// short freshness window.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// DefaultTTL is how long an entry counts as fresh.
	DefaultTTL = 5 * time.Minute
	// DefaultRetention is how long an entry survives before a sweep may drop it.
	DefaultRetention = 30 * time.Minute
)

// Entry is a complete payload snapshot. Entries are replaced wholesale, never merged.
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Age reports how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// PayloadCache stores upstream payloads. Freshness is evaluated at read time; stale
// entries are reported as not fresh and stay until overwritten or swept.
type PayloadCache interface {
	// Lookup returns the entry under key and whether it is still fresh. A missing key
	// yields a zero Entry and false.
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, payload json.RawMessage) error
	Sweep(ctx context.Context) (int, error)
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

func fresh(e Entry, now time.Time, ttl time.Duration) bool {
	return e.Age(now) < ttl
}

func clonePayload(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(json.RawMessage, len(in))
	copy(out, in)
	return out
}
