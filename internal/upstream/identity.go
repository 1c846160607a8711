package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	userIDCookie     = "ys-userId"
	userInfoAction   = "GET_USER_INFO"
	userIDValueLabel = "n:"
)

// Identity is the minimal view of the signed-in student the proxy needs.
type Identity struct {
	Login     string `json:"login"`
	StudentID int64  `json:"studentId"`
	ClassID   int64  `json:"classId"`
	FullName  string `json:"fullName"`
}

// IdentityDefaults are used whenever the portal does not reveal a value.
type IdentityDefaults struct {
	StudentID int64
	ClassID   int64
}

// ResolveIdentity is best-effort scraping: the portal leaves the student id in a
// ys-userId cookie shaped like "n:<digits>" (URL-encoded). Anything else falls back
// to defaults. Class id is never present in cookies.
func ResolveIdentity(login, cookies string, defaults IdentityDefaults) Identity {
	id := Identity{
		Login:     login,
		StudentID: defaults.StudentID,
		ClassID:   defaults.ClassID,
		FullName:  login,
	}
	if studentID, ok := studentIDFromCookies(cookies); ok {
		id.StudentID = studentID
	}
	return id
}

func studentIDFromCookies(cookies string) (int64, bool) {
	for _, part := range strings.Split(cookies, ";") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || name != userIDCookie {
			continue
		}
		decoded, err := url.PathUnescape(value)
		if err != nil {
			return 0, false
		}
		_, rest, ok := strings.Cut(decoded, userIDValueLabel)
		if !ok {
			return 0, false
		}
		n, ok := leadingInt(rest)
		if !ok || n == 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func leadingInt(s string) (int64, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// UserInfo asks the portal who the cookies belong to. The reply shape is not
// documented, so only recognizable fields are returned.
func (c *Client) UserInfo(ctx context.Context, cookies string) (map[string]any, error) {
	payload, err := c.FetchAction(ctx, cookies, userInfoAction, nil)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var info map[string]any
	if err := decoder.Decode(&info); err != nil {
		return nil, fmt.Errorf("upstream: decode user info: %w", err)
	}
	return info, nil
}

// Overlay returns a copy of id with any studentId, classId or fullName found in info.
func (id Identity) Overlay(info map[string]any) Identity {
	if len(info) == 0 {
		return id
	}
	if v, ok := positiveID(info["studentId"]); ok {
		id.StudentID = v
	}
	if v, ok := positiveID(info["classId"]); ok {
		id.ClassID = v
	}
	if name, ok := info["fullName"].(string); ok && strings.TrimSpace(name) != "" {
		id.FullName = strings.TrimSpace(name)
	}
	return id
}

func positiveID(v any) (int64, bool) {
	var n int64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Int64()
		if err != nil {
			return 0, false
		}
		n = parsed
	case float64:
		n = int64(t)
	case int64:
		n = t
	case int:
		n = int64(t)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	return n, n > 0
}
