package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, X-Request-ID"
)

// OriginPolicy decides which browser origins may read the API and open the
// dashboard socket. An empty policy or a "*" entry allows every origin.
type OriginPolicy struct {
	any     bool
	origins map[string]struct{}
}

// NewOriginPolicy builds a policy from configured origins. Matching is
// case-insensitive and ignores a trailing slash.
func NewOriginPolicy(origins []string) OriginPolicy {
	p := OriginPolicy{any: len(origins) == 0, origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = normalizeOrigin(o)
		if o == "*" {
			p.any = true
			continue
		}
		p.origins[o] = struct{}{}
	}
	return p
}

// Allows reports whether origin may access the API. Requests without an
// Origin header are not cross-origin and always pass.
func (p OriginPolicy) Allows(origin string) bool {
	if origin == "" || p.any {
		return true
	}
	_, ok := p.origins[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(o string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/")
}

// CORS returns middleware that sets CORS headers for origins accepted by the
// policy built from allowedOrigins and answers preflight requests itself.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := NewOriginPolicy(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")
			if origin != "" && policy.Allows(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
