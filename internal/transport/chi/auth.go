package chi

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// apiKeyHeader is accepted alongside "Authorization: Bearer" for clients
// that cannot set Authorization, such as browser EventSource.
const apiKeyHeader = "X-API-Key"

// exemptPaths bypass authentication so probes and scrapers need no key.
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// BearerAuthMiddleware rejects requests without one of apiKeys. Empty keys
// are ignored; with no keys left, authentication is disabled.
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	var digests [][sha256.Size]byte
	for _, k := range apiKeys {
		if k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(digests) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, msg := credential(r)
			if msg != "" {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, msg)
				return
			}
			if !matchDigest(digests, token) {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// credential extracts the presented key, or a reason it is missing.
func credential(r *http.Request) (token, problem string) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", "authorization header must use Bearer scheme"
		}
		return strings.TrimSpace(rest), ""
	}
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key, ""
	}
	return "", "missing authorization header"
}

// matchDigest compares fixed-size digests so neither the match position nor
// the key length leaks through timing.
func matchDigest(digests [][sha256.Size]byte, token string) bool {
	sum := sha256.Sum256([]byte(token))
	found := 0
	for i := range digests {
		found |= subtle.ConstantTimeCompare(digests[i][:], sum[:])
	}
	return found == 1
}
