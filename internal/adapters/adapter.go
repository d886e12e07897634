package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
)

// Targeting dimensions managed exclusively by the sales agent. Buyers can
// never set these through a targeting overlay on any ad server.
var managedOnlyDimensions = map[string]bool{
	"axe_include_segment": true,
	"axe_exclude_segment": true,
}

// Capabilities declares what a platform adapter supports.
type Capabilities struct {
	// OverlayDimensions are the targeting dimensions buyers may set.
	OverlayDimensions map[string]bool
	// SupportsGuaranteed reports whether the platform can host guaranteed
	// delivery line items.
	SupportsGuaranteed bool
	// SupportsInventorySync reports whether ListInventory is implemented.
	SupportsInventorySync bool
}

// ValidateTargeting rejects overlays that name unsupported or managed-only
// dimensions. A dimension the platform cannot honor means the buyer contract
// cannot be fulfilled, so the whole request fails rather than degrading.
func (c Capabilities) ValidateTargeting(overlay adcp.TargetingOverlay) *adcp.Error {
	for dim := range overlay {
		if managedOnlyDimensions[dim] {
			return adcp.Errorf(adcp.CodeValidation,
				"Cannot fulfill buyer contract: targeting dimension %s is managed by the publisher", dim)
		}
		if !c.OverlayDimensions[dim] {
			return adcp.Errorf(adcp.CodeValidation,
				"Cannot fulfill buyer contract: targeting dimension %s is not supported", dim)
		}
	}
	return nil
}

// PackageSpec is one resolved line item handed to an adapter.
type PackageSpec struct {
	PackageID     string
	ProductID     string
	LineItemType  string
	Budget        float64
	Currency      string
	PricingModel  string
	Rate          float64
	BidPrice      *float64
	Pacing        string
	Targeting     adcp.TargetingOverlay
	Creatives     []adcp.Creative
	Automation    string
	ImplExtra     []byte
}

// CreateRequest carries everything an adapter needs to provision an order.
type CreateRequest struct {
	Tenant      *models.Tenant
	PrincipalID string
	// AdvertiserID is the adapter-specific foreign key from the principal's
	// platform mappings.
	AdvertiserID string
	MediaBuyID   string
	PONumber     string
	StartTime    time.Time
	EndTime      time.Time
	Currency     string
	Packages     []PackageSpec
	DryRun       bool
}

// CreateResult reports a provisioned order.
type CreateResult struct {
	// PlatformBuyID is the ad server's own id for the order.
	PlatformBuyID string
	// Status is the lifecycle status the order enters:
	// pending_activation when the platform requires further action,
	// scheduled or active otherwise.
	Status string
	// NeedsApproval is set when a human must confirm activation; the caller
	// opens a workflow step.
	NeedsApproval bool
	// PackagePlatformIDs maps package ids to platform line item ids.
	PackagePlatformIDs map[string]string
}

// UpdateRequest carries a mutation against an existing platform order.
type UpdateRequest struct {
	Tenant        *models.Tenant
	AdvertiserID  string
	MediaBuyID    string
	PlatformBuyID string
	Paused        *bool
	StartTime     *time.Time
	EndTime       *time.Time
	Packages      []PackagePatch
	DryRun        bool
}

// PackagePatch is one package-level mutation.
type PackagePatch struct {
	PackageID string
	Paused    *bool
	Budget    *float64
	BidPrice  *float64
}

// UploadRequest pushes approved creatives to the platform.
type UploadRequest struct {
	Tenant       *models.Tenant
	AdvertiserID string
	MediaBuyID   string
	Creatives    []adcp.Creative
	DryRun       bool
}

// UploadResult reports per-creative upload outcomes.
type UploadResult struct {
	CreativeID string
	PlatformID string
	Err        error
}

// DeliveryRequest fetches platform-reported delivery for one buy.
type DeliveryRequest struct {
	Tenant        *models.Tenant
	MediaBuyID    string
	PlatformBuyID string
	Start         time.Time
	End           time.Time
}

// InventoryPage is one page of discovered inventory.
type InventoryPage struct {
	Rows          []models.InventoryRow
	NextPageToken string
}

// Adapter is a platform integration. Implementations must be safe for
// concurrent use.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	CreateMediaBuy(ctx context.Context, req *CreateRequest) (*CreateResult, error)
	UpdateMediaBuy(ctx context.Context, req *UpdateRequest) error
	UploadCreatives(ctx context.Context, req *UploadRequest) ([]UploadResult, error)
	GetMediaBuyDelivery(ctx context.Context, req *DeliveryRequest) (map[string]adcp.DeliveryTotals, error)

	// ListInventory pages through one inventory type. A non-empty
	// NextPageToken means more pages remain. A non-zero since narrows the
	// listing to items modified after that instant; platforms without a
	// modification filter return everything regardless.
	ListInventory(ctx context.Context, tenant *models.Tenant, inventoryType, pageToken string, since time.Time) (*InventoryPage, error)
	// ListCustomTargetingValues pages through the values of one custom
	// targeting key.
	ListCustomTargetingValues(ctx context.Context, tenant *models.Tenant, keyID, pageToken string) (*InventoryPage, error)
}

// ForTenant selects the adapter configured for a tenant.
func ForTenant(registry map[string]Adapter, tenant *models.Tenant) (Adapter, error) {
	a, ok := registry[tenant.AdServer]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for ad server %q", tenant.AdServer)
	}
	return a, nil
}
