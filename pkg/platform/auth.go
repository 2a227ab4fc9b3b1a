package platform

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the shared secret checked by APIKeyMiddleware.
const APIKeyHeader = "X-API-Key"

// APIKeyMiddleware enforces the X-API-Key header when key is non-empty.
// An empty key disables the check.
func APIKeyMiddleware(key string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key == "" {
			next(w, r)
			return
		}

		got := r.Header.Get(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
