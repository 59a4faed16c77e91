// Package middleware provides HTTP middleware for the chat API.
package middleware

import (
	"net/http"
	"strings"
)

// CORSConfig lists what cross-origin callers may do.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// DefaultCORSConfig allows the chat API methods from origins.
func DefaultCORSConfig(origins ...string) CORSConfig {
	return CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
	}
}

// CORS returns middleware that handles CORS headers and answers preflight
// requests.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			if origin != "" {
				allowed, explicit := matchOrigin(cfg.AllowedOrigins, origin)
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", methods)
					w.Header().Set("Access-Control-Allow-Headers", headers)
					// Credentials only for explicitly listed origins; a wildcard
					// echo with credentials would enable CSRF.
					if explicit {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func matchOrigin(allowedOrigins []string, origin string) (allowed, explicit bool) {
	for _, o := range allowedOrigins {
		if o == origin {
			return true, true
		}
		if o == "*" {
			allowed = true
		}
	}
	return allowed, false
}
