package auth

import (
	"context"
	"time"

	"github.com/openadcp/salesagent/internal/models"
)

// TestingFlags carries per-request debug behavior. Only honored when the
// server runs with testing hooks enabled.
type TestingFlags struct {
	DryRun bool
}

// RequestContext is the resolved identity and scope of one tool call.
type RequestContext struct {
	Tenant    *models.Tenant
	Principal *models.Principal
	ToolName  string
	Timestamp time.Time
	Testing   TestingFlags
}

// PrincipalID returns the resolved principal id, empty for unauthenticated
// discovery calls.
func (rc *RequestContext) PrincipalID() string {
	if rc == nil || rc.Principal == nil {
		return ""
	}
	return rc.Principal.PrincipalID
}

type requestContextKey struct{}
type headersKey struct{}

// RequestHeaders captures the transport headers the resolver needs, so tenant
// and principal resolution can run below the HTTP layer.
type RequestHeaders struct {
	AuthToken    string // x-adcp-auth bearer token
	IncomingHost string // apx-incoming-host, set by the fronting proxy
	Host         string // HTTP Host header
	TenantTag    string // x-adcp-tenant, explicit tenant selector
	DryRun       bool   // x-dry-run, honored only with testing hooks enabled
}

// WithHeaders stores captured transport headers on the context.
func WithHeaders(ctx context.Context, h RequestHeaders) context.Context {
	return context.WithValue(ctx, headersKey{}, h)
}

// HeadersFromContext retrieves captured transport headers.
func HeadersFromContext(ctx context.Context) (RequestHeaders, bool) {
	h, ok := ctx.Value(headersKey{}).(RequestHeaders)
	return h, ok
}

// WithRequestContext stores a resolved request context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext retrieves the resolved request context, nil when absent.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
