package codec

import (
	"net/url"
	"strconv"
	"strings"
)

// Defensive accessors over the decrypted document. Every lookup tolerates
// missing keys and mistyped values; absence reads as the zero value so
// classification can degrade to Unrecognized instead of panicking.

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func digString(m map[string]any, path ...string) string {
	for i := 0; i < len(path)-1; i++ {
		m = getMap(m, path[i])
		if m == nil {
			return ""
		}
	}
	return getString(m, path[len(path)-1])
}

// getInt64 reads a value that the gateway serialises inconsistently as
// either a JSON number or a decimal string.
func getInt64(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// anyString stringifies a value that may be a string or a number, such as
// an order price.
func anyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// itemIDFromURL extracts the itemId query parameter from a reminder URL.
func itemIDFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil {
		if id := u.Query().Get("itemId"); id != "" {
			return id
		}
	}
	// Some reminder URLs are not valid URLs; fall back to a substring scan.
	if i := strings.Index(raw, "itemId="); i >= 0 {
		rest := raw[i+len("itemId="):]
		if j := strings.IndexByte(rest, '&'); j >= 0 {
			rest = rest[:j]
		}
		return rest
	}
	return ""
}
