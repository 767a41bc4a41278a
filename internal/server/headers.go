package server

import "net/http"

// securityHeaders are set on every response. Callback URLs carry an
// authorization code, so the referrer is never sent onwards.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"Referrer-Policy":        "no-referrer",
}

// NewSecurityHeadersMiddleware sets headers that keep browsers from framing
// or sniffing responses and from leaking URLs through Referer
func NewSecurityHeadersMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range securityHeaders {
				if h.Get(k) == "" {
					h.Set(k, v)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewNoStoreMiddleware marks responses as uncacheable. Responses of the auth
// routes set or clear session cookies and must never be served from a cache.
func NewNoStoreMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
			next.ServeHTTP(w, r)
		})
	}
}
