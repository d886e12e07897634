package models

import "time"

// Tenant approval modes. require-human routes new media buys and creatives
// through a workflow step; auto-approve activates them immediately.
const (
	ApprovalModeAuto  = "auto-approve"
	ApprovalModeHuman = "require-human"
)

// Ad server adapter selectors.
const (
	AdServerMock   = "mock"
	AdServerGAM    = "google_ad_manager"
	AdServerKevel  = "kevel"
	AdServerTriton = "triton"
)

// Tenant is a publisher or agency container. Every other entity is scoped by
// its tenant_id.
type Tenant struct {
	TenantID             string    `json:"tenant_id"`
	Name                 string    `json:"name"`
	Subdomain            string    `json:"subdomain"`
	VirtualHost          string    `json:"virtual_host,omitempty"`
	AdServer             string    `json:"ad_server"`
	ApprovalMode         string    `json:"approval_mode"`
	AuthorizedEmails     []string  `json:"authorized_emails,omitempty"`
	AuthorizedDomains    []string  `json:"authorized_domains,omitempty"`
	AutoApproveFormatIDs []string  `json:"auto_approve_format_ids,omitempty"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
}

// AutoApprovesFormat reports whether creatives of the given format id skip
// human review for this tenant.
func (t *Tenant) AutoApprovesFormat(formatID string) bool {
	if t.ApprovalMode == ApprovalModeAuto {
		return true
	}
	for _, id := range t.AutoApproveFormatIDs {
		if id == formatID {
			return true
		}
	}
	return false
}

// Principal is an authenticated buyer identity within a tenant. The access
// token resolves uniquely to (tenant, principal) across all tenants.
type Principal struct {
	PrincipalID string `json:"principal_id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	AccessToken string `json:"-"`
	// PlatformMappings holds per-adapter foreign keys, e.g. the GAM
	// advertiser id this principal buys as.
	PlatformMappings map[string]string `json:"platform_mappings,omitempty"`
}

// PlatformID returns the adapter-specific foreign key for the principal.
func (p *Principal) PlatformID(adapter string) string {
	if p == nil {
		return ""
	}
	return p.PlatformMappings[adapter]
}
