package middleware

import (
	"net/http"
	"strings"
)

// CORS allows exact origins, "*" and subdomain patterns such as
// "https://*.example.com".
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	exact := make(map[string]bool, len(allowedOrigins))
	var suffixes [][2]string
	for _, o := range allowedOrigins {
		if scheme, host, ok := strings.Cut(o, "://*."); ok {
			suffixes = append(suffixes, [2]string{scheme + "://", "." + host})
			continue
		}
		exact[o] = true
	}
	allowAll := exact["*"]

	allowed := func(origin string) bool {
		if allowAll || exact[origin] {
			return true
		}
		for _, s := range suffixes {
			if strings.HasPrefix(origin, s[0]) && strings.HasSuffix(origin, s[1]) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")
			if origin == "" || !allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
