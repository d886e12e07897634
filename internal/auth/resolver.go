package auth

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
)

// TenantStore is the subset of persistence the resolver needs.
type TenantStore interface {
	GetTenantByVirtualHost(ctx context.Context, host string) (*models.Tenant, error)
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error)
	GetTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetPrincipalByToken(ctx context.Context, token string) (*models.Principal, error)
}

// PrincipalCache is an optional read-through cache for token resolution.
type PrincipalCache interface {
	GetCachedPrincipal(ctx context.Context, token string) (*models.Principal, error)
	CachePrincipal(ctx context.Context, token string, pr *models.Principal, ttl time.Duration) error
}

// Resolver turns transport headers into a RequestContext. Tenant resolution
// order: apx-incoming-host virtual host, then Host subdomain, then the
// explicit x-adcp-tenant tag.
type Resolver struct {
	Store          TenantStore
	Cache          PrincipalCache
	CacheTTL       time.Duration
	TestingEnabled bool
}

// Resolve authenticates the call. Discovery tools pass requireAuth=false and
// get a tenant-only context when no token is supplied; everything else
// requires a token that maps to a principal of the resolved tenant.
func (r *Resolver) Resolve(ctx context.Context, toolName string, requireAuth bool) (*RequestContext, *adcp.Error) {
	headers, _ := HeadersFromContext(ctx)

	principal, aerr := r.resolvePrincipal(ctx, headers.AuthToken)
	if aerr != nil {
		return nil, aerr
	}
	if principal == nil && requireAuth {
		return nil, adcp.Errorf(adcp.CodeAuthentication, "missing or invalid x-adcp-auth token")
	}

	tenant, aerr := r.resolveTenant(ctx, headers, principal)
	if aerr != nil {
		return nil, aerr
	}

	if principal != nil && principal.TenantID != tenant.TenantID {
		zap.L().Warn("token does not belong to resolved tenant",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("token_tenant_id", principal.TenantID))
		return nil, adcp.Errorf(adcp.CodeAuthentication, "token is not valid for this tenant")
	}

	rc := &RequestContext{
		Tenant:    tenant,
		Principal: principal,
		ToolName:  toolName,
		Timestamp: time.Now().UTC(),
	}
	if r.TestingEnabled {
		rc.Testing.DryRun = headers.DryRun
	}
	return rc, nil
}

func (r *Resolver) resolvePrincipal(ctx context.Context, token string) (*models.Principal, *adcp.Error) {
	if token == "" {
		return nil, nil
	}
	if r.Cache != nil {
		if pr, err := r.Cache.GetCachedPrincipal(ctx, token); err == nil && pr != nil {
			return pr, nil
		}
	}
	pr, err := r.Store.GetPrincipalByToken(ctx, token)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "principal lookup failed", err)
	}
	if pr == nil {
		return nil, adcp.Errorf(adcp.CodeAuthentication, "missing or invalid x-adcp-auth token")
	}
	if r.Cache != nil {
		ttl := r.CacheTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		if err := r.Cache.CachePrincipal(ctx, token, pr, ttl); err != nil {
			zap.L().Debug("principal cache write failed", zap.Error(err))
		}
	}
	return pr, nil
}

func (r *Resolver) resolveTenant(ctx context.Context, headers RequestHeaders, principal *models.Principal) (*models.Tenant, *adcp.Error) {
	if headers.IncomingHost != "" {
		t, err := r.Store.GetTenantByVirtualHost(ctx, headers.IncomingHost)
		if err != nil {
			return nil, adcp.WrapError(adcp.CodeUnavailable, "tenant lookup failed", err)
		}
		if t != nil {
			return t, nil
		}
	}
	if sub := subdomainLabel(headers.Host); sub != "" {
		t, err := r.Store.GetTenantBySubdomain(ctx, sub)
		if err != nil {
			return nil, adcp.WrapError(adcp.CodeUnavailable, "tenant lookup failed", err)
		}
		if t != nil {
			return t, nil
		}
	}
	if headers.TenantTag != "" {
		t, err := r.Store.GetTenantByID(ctx, headers.TenantTag)
		if err != nil {
			return nil, adcp.WrapError(adcp.CodeUnavailable, "tenant lookup failed", err)
		}
		if t != nil {
			return t, nil
		}
	}
	// Fall back to the token's home tenant for single-host deployments.
	if principal != nil {
		t, err := r.Store.GetTenantByID(ctx, principal.TenantID)
		if err != nil {
			return nil, adcp.WrapError(adcp.CodeUnavailable, "tenant lookup failed", err)
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, adcp.Errorf(adcp.CodeAuthentication, "no tenant resolved for request")
}

// subdomainLabel extracts the leftmost DNS label of a host with at least
// three labels. "acme.sales.example.com" yields "acme"; bare domains and
// localhost yield "".
func subdomainLabel(host string) string {
	if host == "" {
		return ""
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[0]
}

// BearerToken strips an optional "Bearer " prefix from a header value.
func BearerToken(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > 7 && strings.EqualFold(value[:7], "Bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return value
}
