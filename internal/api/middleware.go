package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openadcp/salesagent/internal/auth"
)

// CaptureHeaders copies the transport headers the resolver consumes onto the
// request context, so tenant and principal resolution can run below the HTTP
// layer (the MCP transport in particular never sees the raw request).
func CaptureHeaders(testingEnabled bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := auth.RequestHeaders{
				AuthToken:    auth.BearerToken(r.Header.Get("x-adcp-auth")),
				IncomingHost: r.Header.Get("apx-incoming-host"),
				Host:         r.Host,
				TenantTag:    r.Header.Get("x-adcp-tenant"),
			}
			if testingEnabled {
				h.DryRun = r.Header.Get("x-dry-run") == "true"
			}
			next.ServeHTTP(w, r.WithContext(auth.WithHeaders(r.Context(), h)))
		})
	}
}

// requireToken guards the admin routes with a static bearer token. An empty
// configured token rejects everything.
func requireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || auth.BearerToken(r.Header.Get("Authorization")) != token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
