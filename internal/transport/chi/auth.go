package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderAPIKey carries an API key for clients that cannot set Authorization.
const HeaderAPIKey = "X-API-Key"

// publicPaths bypass authentication: health checks, metrics scraping and the static taxonomy.
var publicPaths = map[string]struct{}{
	"/health":             {},
	"/metrics":            {},
	"/v1/errors/taxonomy": {},
}

// BearerAuthMiddleware validates the API key sent as "Authorization: Bearer <key>"
// or in X-API-Key. Blank keys are ignored; with no keys left authentication is off.
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := publicPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			token, problem := apiKeyFromRequest(r)
			if problem == "" && !knownKey(keys, token) {
				problem = "invalid api key"
			}
			if problem != "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="docextract"`)
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, problem)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// apiKeyFromRequest returns the presented key, or a description of what is wrong.
func apiKeyFromRequest(r *http.Request) (string, string) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", "authorization header must use Bearer scheme"
		}
		return strings.TrimSpace(token), ""
	}
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key, ""
	}
	return "", "missing api key"
}

// knownKey compares against every key so timing does not reveal which one matched.
func knownKey(keys [][]byte, token string) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare(k, []byte(token))
	}
	return match == 1
}
