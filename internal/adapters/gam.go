package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
)

// gamPageSize matches the discovery batch size downstream: one API page
// flushes as one database batch.
const gamPageSize = 500

// GAMConfig configures the Google Ad Manager adapter.
type GAMConfig struct {
	BaseURL     string
	NetworkCode string
	AccessToken string
	Timeout     time.Duration
}

// GAMAdapter provisions orders and line items in Google Ad Manager.
//
// Activation policy: guaranteed line item types (STANDARD, SPONSORSHIP)
// always require human confirmation. Non-guaranteed types follow the
// product's automation setting; only "automatic" activates without a
// workflow step.
type GAMAdapter struct {
	cfg    GAMConfig
	client *http.Client
}

var _ Adapter = (*GAMAdapter)(nil)

// NewGAMAdapter creates a GAM adapter.
func NewGAMAdapter(cfg GAMConfig) *GAMAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GAMAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (g *GAMAdapter) Name() string { return models.AdServerGAM }

func (g *GAMAdapter) Capabilities() Capabilities {
	return Capabilities{
		OverlayDimensions: map[string]bool{
			"geo_country":      true,
			"geo_region":       true,
			"geo_metro":        true,
			"device_type":      true,
			"os":               true,
			"browser":          true,
			"key_value":        true,
			"audience_segment": true,
			"daypart":          true,
			"frequency_cap":    true,
			"content_category": true,
		},
		SupportsGuaranteed:    true,
		SupportsInventorySync: true,
	}
}

func (g *GAMAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + g.cfg.AccessToken}
}

func (g *GAMAdapter) networkURL(path string) string {
	return fmt.Sprintf("%s/networks/%s%s", g.cfg.BaseURL, g.cfg.NetworkCode, path)
}

// activationDecision applies the automation policy across all packages of a
// buy. The most restrictive package wins: one guaranteed or manual package
// holds the whole order.
func activationDecision(packages []PackageSpec) (status string, needsApproval bool) {
	status = adcp.StatusScheduled
	for _, pkg := range packages {
		ic := models.ImplementationConfig{LineItemType: pkg.LineItemType}
		if ic.GuaranteedLineItemType() {
			return adcp.StatusPendingActivation, true
		}
		switch pkg.Automation {
		case models.AutomationAutomatic:
			// proceeds without a step
		default:
			// confirmation_required, manual, and unset all hold
			return adcp.StatusPendingActivation, true
		}
	}
	return status, false
}

func (g *GAMAdapter) CreateMediaBuy(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	status, needsApproval := activationDecision(req.Packages)

	if req.DryRun {
		platformIDs := make(map[string]string, len(req.Packages))
		for _, pkg := range req.Packages {
			platformIDs[pkg.PackageID] = "dryrun"
		}
		return &CreateResult{PlatformBuyID: "dryrun", Status: status, NeedsApproval: needsApproval, PackagePlatformIDs: platformIDs}, nil
	}

	var order struct {
		ID string `json:"id"`
	}
	if err := doJSON(ctx, g.client, http.MethodPost, g.networkURL("/orders"), g.headers(), map[string]any{
		"name":         req.MediaBuyID,
		"advertiserId": req.AdvertiserID,
		"poNumber":     req.PONumber,
		"startDateTime": req.StartTime.UTC().Format(time.RFC3339),
		"endDateTime":   req.EndTime.UTC().Format(time.RFC3339),
		"currencyCode":  req.Currency,
	}, &order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	platformIDs := make(map[string]string, len(req.Packages))
	for _, pkg := range req.Packages {
		lineItemType := pkg.LineItemType
		if lineItemType == "" {
			lineItemType = models.LineItemTypePricePriority
		}
		body := map[string]any{
			"orderId":      order.ID,
			"name":         pkg.PackageID,
			"lineItemType": lineItemType,
			"costType":     pkg.PricingModel,
			"costPerUnit":  map[string]any{"currencyCode": pkg.Currency, "amount": pkg.Rate},
			"budget":       map[string]any{"currencyCode": pkg.Currency, "amount": pkg.Budget},
			"targeting":    pkg.Targeting,
		}
		if len(pkg.ImplExtra) > 0 {
			var extra map[string]any
			if err := json.Unmarshal(pkg.ImplExtra, &extra); err == nil {
				for k, v := range extra {
					body[k] = v
				}
			}
		}
		var li struct {
			ID string `json:"id"`
		}
		if err := doJSON(ctx, g.client, http.MethodPost, g.networkURL("/lineItems"), g.headers(), body, &li); err != nil {
			return nil, fmt.Errorf("create line item %s: %w", pkg.PackageID, err)
		}
		platformIDs[pkg.PackageID] = li.ID
	}

	if !needsApproval {
		if err := doJSON(ctx, g.client, http.MethodPost,
			g.networkURL("/orders/"+order.ID+":activate"), g.headers(), nil, nil); err != nil {
			return nil, fmt.Errorf("activate order %s: %w", order.ID, err)
		}
	} else {
		zap.L().Info("order held for approval",
			zap.String("media_buy_id", req.MediaBuyID),
			zap.String("order_id", order.ID))
	}

	return &CreateResult{
		PlatformBuyID:      order.ID,
		Status:             status,
		NeedsApproval:      needsApproval,
		PackagePlatformIDs: platformIDs,
	}, nil
}

func (g *GAMAdapter) UpdateMediaBuy(ctx context.Context, req *UpdateRequest) error {
	if req.DryRun {
		return nil
	}
	if req.Paused != nil {
		action := ":pause"
		if !*req.Paused {
			action = ":resume"
		}
		if err := doJSON(ctx, g.client, http.MethodPost,
			g.networkURL("/orders/"+req.PlatformBuyID+action), g.headers(), nil, nil); err != nil {
			return fmt.Errorf("pause/resume order: %w", err)
		}
	}
	patch := map[string]any{}
	if req.StartTime != nil {
		patch["startDateTime"] = req.StartTime.UTC().Format(time.RFC3339)
	}
	if req.EndTime != nil {
		patch["endDateTime"] = req.EndTime.UTC().Format(time.RFC3339)
	}
	if len(patch) > 0 {
		if err := doJSON(ctx, g.client, http.MethodPatch,
			g.networkURL("/orders/"+req.PlatformBuyID), g.headers(), patch, nil); err != nil {
			return fmt.Errorf("patch order: %w", err)
		}
	}
	for _, pkg := range req.Packages {
		body := map[string]any{}
		if pkg.Budget != nil {
			body["budget"] = map[string]any{"amount": *pkg.Budget}
		}
		if pkg.Paused != nil {
			body["paused"] = *pkg.Paused
		}
		if len(body) == 0 {
			continue
		}
		if err := doJSON(ctx, g.client, http.MethodPatch,
			g.networkURL("/lineItems/"+url.PathEscape(pkg.PackageID)), g.headers(), body, nil); err != nil {
			return fmt.Errorf("patch line item %s: %w", pkg.PackageID, err)
		}
	}
	return nil
}

func (g *GAMAdapter) UploadCreatives(ctx context.Context, req *UploadRequest) ([]UploadResult, error) {
	results := make([]UploadResult, 0, len(req.Creatives))
	for _, c := range req.Creatives {
		rendered := adcp.RenderForAdapter(c)
		if req.DryRun {
			results = append(results, UploadResult{CreativeID: c.CreativeID, PlatformID: "dryrun"})
			continue
		}
		var created struct {
			ID string `json:"id"`
		}
		err := doJSON(ctx, g.client, http.MethodPost, g.networkURL("/creatives"), g.headers(), map[string]any{
			"advertiserId":     req.AdvertiserID,
			"name":             rendered.Name,
			"assets":           rendered.Assets,
			"deliverySettings": rendered.DeliverySettings,
		}, &created)
		results = append(results, UploadResult{CreativeID: c.CreativeID, PlatformID: created.ID, Err: err})
	}
	return results, nil
}

func (g *GAMAdapter) GetMediaBuyDelivery(ctx context.Context, req *DeliveryRequest) (map[string]adcp.DeliveryTotals, error) {
	var report struct {
		Rows []struct {
			LineItemName string  `json:"lineItemName"`
			Impressions  int64   `json:"impressions"`
			Clicks       int64   `json:"clicks"`
			Spend        float64 `json:"spend"`
		} `json:"rows"`
	}
	q := url.Values{}
	q.Set("orderId", req.PlatformBuyID)
	q.Set("startDate", req.Start.UTC().Format("2006-01-02"))
	q.Set("endDate", req.End.UTC().Format("2006-01-02"))
	if err := doJSON(ctx, g.client, http.MethodGet,
		g.networkURL("/reports/delivery?"+q.Encode()), g.headers(), nil, &report); err != nil {
		return nil, fmt.Errorf("delivery report: %w", err)
	}
	totals := make(map[string]adcp.DeliveryTotals, len(report.Rows))
	for _, row := range report.Rows {
		totals[row.LineItemName] = adcp.DeliveryTotals{
			Impressions: row.Impressions,
			Clicks:      row.Clicks,
			Spend:       row.Spend,
		}
	}
	return totals, nil
}

// gamInventoryPaths maps inventory types to API collections.
var gamInventoryPaths = map[string]string{
	models.InventoryAdUnit:             "/adUnits",
	models.InventoryPlacement:          "/placements",
	models.InventoryLabel:              "/labels",
	models.InventoryCustomTargetingKey: "/customTargetingKeys",
	models.InventoryAudienceSegment:    "/audienceSegments",
}

type gamInventoryResponse struct {
	Items []struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Path     []string        `json:"path,omitempty"`
		Status   string          `json:"status"`
		Metadata json.RawMessage `json:"metadata,omitempty"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

func (g *GAMAdapter) listPage(ctx context.Context, tenant *models.Tenant, inventoryType, path, pageToken string, since time.Time) (*InventoryPage, error) {
	q := url.Values{}
	q.Set("pageSize", fmt.Sprint(gamPageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	if !since.IsZero() {
		q.Set("filter", fmt.Sprintf("lastModifiedDateTime > %q", since.UTC().Format(time.RFC3339)))
	}
	var resp gamInventoryResponse
	if err := doJSON(ctx, g.client, http.MethodGet, g.networkURL(path+"?"+q.Encode()), g.headers(), nil, &resp); err != nil {
		return nil, fmt.Errorf("list %s: %w", inventoryType, err)
	}
	page := &InventoryPage{NextPageToken: resp.NextPageToken}
	for _, item := range resp.Items {
		status := item.Status
		if status == "" {
			status = models.InventoryActive
		}
		page.Rows = append(page.Rows, models.InventoryRow{
			TenantID:      tenant.TenantID,
			InventoryType: inventoryType,
			InventoryID:   item.ID,
			Name:          item.Name,
			Path:          item.Path,
			Status:        status,
			Metadata:      item.Metadata,
		})
	}
	return page, nil
}

func (g *GAMAdapter) ListInventory(ctx context.Context, tenant *models.Tenant, inventoryType, pageToken string, since time.Time) (*InventoryPage, error) {
	path, ok := gamInventoryPaths[inventoryType]
	if !ok {
		return nil, fmt.Errorf("inventory type %q not discoverable", inventoryType)
	}
	// Only first-party segments sync; third-party segments are licensed
	// externally and priced separately.
	if inventoryType == models.InventoryAudienceSegment {
		path += "?type=FIRST_PARTY"
		q := url.Values{}
		q.Set("pageSize", fmt.Sprint(gamPageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		if !since.IsZero() {
			q.Set("filter", fmt.Sprintf("lastModifiedDateTime > %q", since.UTC().Format(time.RFC3339)))
		}
		var resp gamInventoryResponse
		if err := doJSON(ctx, g.client, http.MethodGet, g.networkURL(path+"&"+q.Encode()), g.headers(), nil, &resp); err != nil {
			return nil, fmt.Errorf("list audience segments: %w", err)
		}
		page := &InventoryPage{NextPageToken: resp.NextPageToken}
		for _, item := range resp.Items {
			page.Rows = append(page.Rows, models.InventoryRow{
				TenantID:      tenant.TenantID,
				InventoryType: inventoryType,
				InventoryID:   item.ID,
				Name:          item.Name,
				Status:        models.InventoryActive,
				Metadata:      item.Metadata,
			})
		}
		return page, nil
	}
	return g.listPage(ctx, tenant, inventoryType, path, pageToken, since)
}

func (g *GAMAdapter) ListCustomTargetingValues(ctx context.Context, tenant *models.Tenant, keyID, pageToken string) (*InventoryPage, error) {
	page, err := g.listPage(ctx, tenant, models.InventoryCustomTargetingValue,
		"/customTargetingKeys/"+url.PathEscape(keyID)+"/values", pageToken, time.Time{})
	if err != nil {
		return nil, err
	}
	for i := range page.Rows {
		page.Rows[i].Path = []string{keyID}
	}
	return page, nil
}
