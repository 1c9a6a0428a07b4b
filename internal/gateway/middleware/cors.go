package middleware

import (
	"net/http"
	"strings"
)

const (
	allowMethods  = "GET, POST, OPTIONS"
	allowHeaders  = "Accept, Content-Type, Content-Length, Accept-Encoding, Connect-Protocol-Version, Connect-Timeout-Ms, X-User-Agent"
	exposeHeaders = "Connect-Content-Encoding, Connect-Accept-Encoding"
)

// CORS lets browser pages on other origins drive sessions. Preflight
// requests stop here.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Expose-Headers", exposeHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
