package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
)

// TritonConfig configures the Triton Digital adapter.
type TritonConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// TritonAdapter provisions audio campaigns through Triton Digital. Audio
// only: packages price as cpm or cpcv, and there is no inventory tree to
// discover beyond station lists.
type TritonAdapter struct {
	cfg    TritonConfig
	client *http.Client
}

var _ Adapter = (*TritonAdapter)(nil)

// NewTritonAdapter creates a Triton adapter.
func NewTritonAdapter(cfg TritonConfig) *TritonAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TritonAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (t *TritonAdapter) Name() string { return models.AdServerTriton }

func (t *TritonAdapter) Capabilities() Capabilities {
	return Capabilities{
		OverlayDimensions: map[string]bool{
			"geo_country": true,
			"geo_region":  true,
			"daypart":     true,
			"station":     true,
			"genre":       true,
		},
		SupportsGuaranteed:    false,
		SupportsInventorySync: true,
	}
}

func (t *TritonAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + t.cfg.APIKey}
}

func (t *TritonAdapter) CreateMediaBuy(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	for _, pkg := range req.Packages {
		switch pkg.PricingModel {
		case adcp.PricingModelCPM, adcp.PricingModelCPCV:
		default:
			return nil, fmt.Errorf("pricing model %q not supported for audio", pkg.PricingModel)
		}
	}
	if req.DryRun {
		platformIDs := make(map[string]string, len(req.Packages))
		for _, pkg := range req.Packages {
			platformIDs[pkg.PackageID] = "dryrun"
		}
		return &CreateResult{PlatformBuyID: "dryrun", Status: adcp.StatusScheduled, PackagePlatformIDs: platformIDs}, nil
	}

	var campaign struct {
		ID string `json:"campaignId"`
	}
	if err := doJSON(ctx, t.client, http.MethodPost, t.cfg.BaseURL+"/campaigns", t.headers(), map[string]any{
		"name":         req.MediaBuyID,
		"advertiserId": req.AdvertiserID,
		"startDate":    req.StartTime.UTC().Format(time.RFC3339),
		"endDate":      req.EndTime.UTC().Format(time.RFC3339),
		"currency":     req.Currency,
	}, &campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	platformIDs := make(map[string]string, len(req.Packages))
	for _, pkg := range req.Packages {
		var flight struct {
			ID string `json:"flightId"`
		}
		if err := doJSON(ctx, t.client, http.MethodPost, t.cfg.BaseURL+"/flights", t.headers(), map[string]any{
			"campaignId":   campaign.ID,
			"name":         pkg.PackageID,
			"pricingModel": pkg.PricingModel,
			"rate":         pkg.Rate,
			"budget":       pkg.Budget,
			"targeting":    pkg.Targeting,
		}, &flight); err != nil {
			return nil, fmt.Errorf("create flight %s: %w", pkg.PackageID, err)
		}
		platformIDs[pkg.PackageID] = flight.ID
	}

	return &CreateResult{
		PlatformBuyID:      campaign.ID,
		Status:             adcp.StatusScheduled,
		PackagePlatformIDs: platformIDs,
	}, nil
}

func (t *TritonAdapter) UpdateMediaBuy(ctx context.Context, req *UpdateRequest) error {
	if req.DryRun {
		return nil
	}
	body := map[string]any{}
	if req.Paused != nil {
		body["paused"] = *req.Paused
	}
	if req.EndTime != nil {
		body["endDate"] = req.EndTime.UTC().Format(time.RFC3339)
	}
	if req.StartTime != nil {
		body["startDate"] = req.StartTime.UTC().Format(time.RFC3339)
	}
	if len(body) > 0 {
		if err := doJSON(ctx, t.client, http.MethodPatch,
			t.cfg.BaseURL+"/campaigns/"+url.PathEscape(req.PlatformBuyID), t.headers(), body, nil); err != nil {
			return fmt.Errorf("patch campaign: %w", err)
		}
	}
	for _, pkg := range req.Packages {
		patch := map[string]any{}
		if pkg.Paused != nil {
			patch["paused"] = *pkg.Paused
		}
		if pkg.Budget != nil {
			patch["budget"] = *pkg.Budget
		}
		if len(patch) == 0 {
			continue
		}
		if err := doJSON(ctx, t.client, http.MethodPatch,
			t.cfg.BaseURL+"/flights/"+url.PathEscape(pkg.PackageID), t.headers(), patch, nil); err != nil {
			return fmt.Errorf("patch flight %s: %w", pkg.PackageID, err)
		}
	}
	return nil
}

func (t *TritonAdapter) UploadCreatives(ctx context.Context, req *UploadRequest) ([]UploadResult, error) {
	results := make([]UploadResult, 0, len(req.Creatives))
	for _, c := range req.Creatives {
		rendered := adcp.RenderForAdapter(c)
		audio, ok := rendered.Assets["audio_file"]
		if !ok || audio.URL == "" {
			results = append(results, UploadResult{CreativeID: c.CreativeID,
				Err: fmt.Errorf("creative %s has no audio_file asset", c.CreativeID)})
			continue
		}
		if req.DryRun {
			results = append(results, UploadResult{CreativeID: c.CreativeID, PlatformID: "dryrun"})
			continue
		}
		var created struct {
			ID string `json:"creativeId"`
		}
		err := doJSON(ctx, t.client, http.MethodPost, t.cfg.BaseURL+"/creatives", t.headers(), map[string]any{
			"advertiserId":     req.AdvertiserID,
			"name":             rendered.Name,
			"audioUrl":         audio.URL,
			"durationMs":       audio.DurationMS,
			"deliverySettings": rendered.DeliverySettings,
		}, &created)
		results = append(results, UploadResult{CreativeID: c.CreativeID, PlatformID: created.ID, Err: err})
	}
	return results, nil
}

func (t *TritonAdapter) GetMediaBuyDelivery(ctx context.Context, req *DeliveryRequest) (map[string]adcp.DeliveryTotals, error) {
	var report struct {
		Flights []struct {
			Name        string  `json:"name"`
			Impressions int64   `json:"impressions"`
			Completions int64   `json:"completions"`
			Spend       float64 `json:"spend"`
		} `json:"flights"`
	}
	q := url.Values{}
	q.Set("campaignId", req.PlatformBuyID)
	q.Set("from", req.Start.UTC().Format("2006-01-02"))
	q.Set("to", req.End.UTC().Format("2006-01-02"))
	if err := doJSON(ctx, t.client, http.MethodGet,
		t.cfg.BaseURL+"/reports/delivery?"+q.Encode(), t.headers(), nil, &report); err != nil {
		return nil, fmt.Errorf("delivery report: %w", err)
	}
	totals := make(map[string]adcp.DeliveryTotals, len(report.Flights))
	for _, f := range report.Flights {
		totals[f.Name] = adcp.DeliveryTotals{
			Impressions:      f.Impressions,
			VideoCompletions: f.Completions,
			Spend:            f.Spend,
		}
	}
	return totals, nil
}

func (t *TritonAdapter) ListInventory(ctx context.Context, tenant *models.Tenant, inventoryType, pageToken string, _ time.Time) (*InventoryPage, error) {
	// Stations are the only discoverable inventory; they map to ad units.
	// Station lists carry no modification times, so since is ignored.
	if inventoryType != models.InventoryAdUnit {
		return &InventoryPage{}, nil
	}
	q := url.Values{}
	q.Set("pageSize", fmt.Sprint(gamPageSize))
	if pageToken != "" {
		q.Set("page", pageToken)
	}
	var resp struct {
		Stations []struct {
			ID    string `json:"stationId"`
			Name  string `json:"name"`
			Genre string `json:"genre"`
		} `json:"stations"`
		NextPage string `json:"nextPage"`
	}
	if err := doJSON(ctx, t.client, http.MethodGet, t.cfg.BaseURL+"/stations?"+q.Encode(), t.headers(), nil, &resp); err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	page := &InventoryPage{NextPageToken: resp.NextPage}
	for _, s := range resp.Stations {
		page.Rows = append(page.Rows, models.InventoryRow{
			TenantID:      tenant.TenantID,
			InventoryType: models.InventoryAdUnit,
			InventoryID:   s.ID,
			Name:          s.Name,
			Path:          []string{s.Genre},
			Status:        models.InventoryActive,
		})
	}
	return page, nil
}

func (t *TritonAdapter) ListCustomTargetingValues(_ context.Context, _ *models.Tenant, _, _ string) (*InventoryPage, error) {
	return &InventoryPage{}, nil
}
