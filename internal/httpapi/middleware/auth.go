// Package middleware holds the API's key checks and per-client rate limits.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Keys are the accepted API keys. Public keys may read reports; admin keys
// may also trigger runs.
type Keys struct {
	Public []string
	Admin  []string
}

// apiKey reads "Authorization: Bearer <key>" or "X-API-Key: <key>".
func apiKey(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func matches(given string, set []string) bool {
	if given == "" {
		return false
	}
	found := 0
	for _, k := range set {
		found |= subtle.ConstantTimeCompare([]byte(k), []byte(given))
	}
	return found == 1
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// RequireAny accepts a public or an admin key. With no keys configured every
// request passes (local dev).
func RequireAny(keys Keys) func(http.Handler) http.Handler {
	all := append(append([]string{}, keys.Public...), keys.Admin...)
	return require(all, len(all) > 0, http.StatusUnauthorized, "unauthorized")
}

// RequireAdmin accepts only admin keys. A request without any key gets 401,
// one with a non-admin key 403. With no admin keys configured every request
// passes.
func RequireAdmin(keys Keys) func(http.Handler) http.Handler {
	return require(keys.Admin, len(keys.Admin) > 0, http.StatusForbidden, "forbidden")
}

func require(set []string, enabled bool, code int, msg string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apiKey(r)
			switch {
			case matches(key, set):
				next.ServeHTTP(w, r)
			case key == "":
				deny(w, http.StatusUnauthorized, "unauthorized")
			default:
				deny(w, code, msg)
			}
		})
	}
}
