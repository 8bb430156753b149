package middleware

import (
	"net/http"
	"strings"
)

// CORS echoes allowed origins with credentials. A "*" entry admits any
// origin without credentials. Preflight requests under /api
// are answered directly with 200.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, listed := allowed[origin]
				if listed || allowAll {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					// "*" admits any origin, but only listed ones get credentials
					if listed {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
					h.Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions && strings.HasPrefix(r.URL.Path, "/api/") {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
