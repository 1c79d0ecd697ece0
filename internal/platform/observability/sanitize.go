package observability

import (
	"strings"
	"unicode"
)

// Per-field length caps for values copied from requests into log entries.
const (
	routeFieldLimit  = 180
	methodFieldLimit = 10
	userFieldLimit   = 64
	addrFieldLimit   = 64
)

// clampField strips control characters and truncates the value so a hostile
// request cannot inject log lines or balloon entry size.
func clampField(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)

	runes := []rune(cleaned)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}

func clampRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clampField(route, routeFieldLimit)
}

func clampMethod(method string) string {
	return clampField(method, methodFieldLimit)
}

func clampUserID(uid string) string {
	return clampField(uid, userFieldLimit)
}
