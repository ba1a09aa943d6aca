package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// APIKeyMiddleware returns a mux.MiddlewareFunc that enforces API key
// authentication on every request.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all requests are allowed (pass-through).
//   - CORS preflight (OPTIONS) requests are always allowed.
//   - Otherwise the value of header is compared to key; a missing or
//     incorrect key gets 401 with a JSON error body.
//
// Browsers cannot set headers on WebSocket upgrades, so the key is also
// accepted from the "api_key" query parameter.
func APIKeyMiddleware(mode, header, key string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if mode != "apikey" || key == "" {
			return next
		}
		want := []byte(key)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(header)
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
}
