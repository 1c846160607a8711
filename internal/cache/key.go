package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Key builds the composite cache key for a data type and its subject and class ids.
// Ids are normalized so the string "1000", the int 1000 and the float 1000.0 map to the
// same component. Qualifiers (the academic year, for instance) are appended in order.
// Components are query-escaped before joining, so no two distinct inputs share a key.
func Key(dataType string, subjectID, classID any, qualifiers ...any) string {
	parts := make([]string, 0, 3+len(qualifiers))
	parts = append(parts, url.QueryEscape(strings.ToLower(strings.TrimSpace(dataType))))
	parts = append(parts, url.QueryEscape(normalizeID(subjectID)))
	parts = append(parts, url.QueryEscape(normalizeID(classID)))
	for _, q := range qualifiers {
		parts = append(parts, url.QueryEscape(normalizeID(q)))
	}
	return strings.Join(parts, ":")
}

func normalizeID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return normalizeString(id)
	case json.Number:
		return normalizeString(id.String())
	case int:
		return strconv.FormatInt(int64(id), 10)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int64:
		return strconv.FormatInt(id, 10)
	case uint:
		return strconv.FormatUint(uint64(id), 10)
	case uint32:
		return strconv.FormatUint(uint64(id), 10)
	case uint64:
		return strconv.FormatUint(id, 10)
	case float32:
		return formatFloat(float64(id))
	case float64:
		return formatFloat(id)
	case fmt.Stringer:
		return normalizeString(id.String())
	default:
		return normalizeString(fmt.Sprint(id))
	}
}

// normalizeString canonicalizes numeric strings so they agree with numeric inputs.
func normalizeString(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return formatFloat(f)
	}
	return strings.ToLower(s)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
