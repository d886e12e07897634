package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/openadcp/salesagent/internal/models"
)

const tenantColumns = `tenant_id, name, subdomain, virtual_host, ad_server, approval_mode,
    authorized_emails, authorized_domains, auto_approve_format_ids, active, created_at`

func scanTenant(row interface{ Scan(...any) error }) (*models.Tenant, error) {
	var t models.Tenant
	var virtualHost sql.NullString
	if err := row.Scan(&t.TenantID, &t.Name, &t.Subdomain, &virtualHost, &t.AdServer,
		&t.ApprovalMode, pq.Array(&t.AuthorizedEmails), pq.Array(&t.AuthorizedDomains),
		pq.Array(&t.AutoApproveFormatIDs), &t.Active, &t.CreatedAt); err != nil {
		return nil, err
	}
	if virtualHost.Valid {
		t.VirtualHost = virtualHost.String
	}
	return &t, nil
}

// GetTenantByID retrieves a tenant by its ID. Returns (nil, nil) when absent.
func (p *Postgres) GetTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	t, err := scanTenant(p.DB.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE tenant_id=$1 AND active`, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant %s: %w", tenantID, err)
	}
	return t, nil
}

// GetTenantBySubdomain retrieves a tenant by its subdomain label.
func (p *Postgres) GetTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	t, err := scanTenant(p.DB.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE subdomain=$1 AND active`, subdomain))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant by subdomain %s: %w", subdomain, err)
	}
	return t, nil
}

// GetTenantByVirtualHost retrieves a tenant by a full virtual host name.
func (p *Postgres) GetTenantByVirtualHost(ctx context.Context, host string) (*models.Tenant, error) {
	t, err := scanTenant(p.DB.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE virtual_host=$1 AND active`, host))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant by virtual host %s: %w", host, err)
	}
	return t, nil
}

// ListTenants retrieves all tenants, active and inactive.
func (p *Postgres) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var ts []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		ts = append(ts, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ts, nil
}

// UpsertTenant inserts or replaces a tenant record.
func (p *Postgres) UpsertTenant(ctx context.Context, t *models.Tenant) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO tenants (
        tenant_id, name, subdomain, virtual_host, ad_server, approval_mode,
        authorized_emails, authorized_domains, auto_approve_format_ids, active)
        VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10)
        ON CONFLICT (tenant_id) DO UPDATE SET
        name=EXCLUDED.name, subdomain=EXCLUDED.subdomain, virtual_host=EXCLUDED.virtual_host,
        ad_server=EXCLUDED.ad_server, approval_mode=EXCLUDED.approval_mode,
        authorized_emails=EXCLUDED.authorized_emails, authorized_domains=EXCLUDED.authorized_domains,
        auto_approve_format_ids=EXCLUDED.auto_approve_format_ids, active=EXCLUDED.active`,
		t.TenantID, t.Name, t.Subdomain, t.VirtualHost, t.AdServer, t.ApprovalMode,
		pq.Array(t.AuthorizedEmails), pq.Array(t.AuthorizedDomains),
		pq.Array(t.AutoApproveFormatIDs), t.Active)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.TenantID, err)
	}
	return nil
}

// GetPrincipalByToken resolves an access token to its principal across all
// tenants. Tokens are globally unique. Returns (nil, nil) when unknown.
func (p *Postgres) GetPrincipalByToken(ctx context.Context, token string) (*models.Principal, error) {
	var pr models.Principal
	var mappings sql.NullString
	err := p.DB.QueryRowContext(ctx,
		`SELECT tenant_id, principal_id, name, access_token, platform_mappings
         FROM principals WHERE access_token=$1`, token).
		Scan(&pr.TenantID, &pr.PrincipalID, &pr.Name, &pr.AccessToken, &mappings)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query principal by token: %w", err)
	}
	if mappings.Valid {
		if err := json.Unmarshal([]byte(mappings.String), &pr.PlatformMappings); err != nil {
			return nil, fmt.Errorf("parse platform_mappings: %w", err)
		}
	}
	return &pr, nil
}

// GetPrincipal retrieves a principal by (tenant, id).
func (p *Postgres) GetPrincipal(ctx context.Context, tenantID, principalID string) (*models.Principal, error) {
	var pr models.Principal
	var mappings sql.NullString
	err := p.DB.QueryRowContext(ctx,
		`SELECT tenant_id, principal_id, name, access_token, platform_mappings
         FROM principals WHERE tenant_id=$1 AND principal_id=$2`, tenantID, principalID).
		Scan(&pr.TenantID, &pr.PrincipalID, &pr.Name, &pr.AccessToken, &mappings)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query principal %s/%s: %w", tenantID, principalID, err)
	}
	if mappings.Valid {
		if err := json.Unmarshal([]byte(mappings.String), &pr.PlatformMappings); err != nil {
			return nil, fmt.Errorf("parse platform_mappings: %w", err)
		}
	}
	return &pr, nil
}

// UpsertPrincipal inserts or replaces a principal record.
func (p *Postgres) UpsertPrincipal(ctx context.Context, pr *models.Principal) error {
	mappings, err := json.Marshal(pr.PlatformMappings)
	if err != nil {
		return fmt.Errorf("marshal platform_mappings: %w", err)
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO principals (
        tenant_id, principal_id, name, access_token, platform_mappings)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (tenant_id, principal_id) DO UPDATE SET
        name=EXCLUDED.name, access_token=EXCLUDED.access_token,
        platform_mappings=EXCLUDED.platform_mappings`,
		pr.TenantID, pr.PrincipalID, pr.Name, pr.AccessToken, mappings)
	if err != nil {
		return fmt.Errorf("upsert principal %s/%s: %w", pr.TenantID, pr.PrincipalID, err)
	}
	return nil
}
