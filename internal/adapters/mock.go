package adapters

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
)

// MockAdapter is a fully in-process ad server. It activates orders
// immediately, serves deterministic synthetic delivery, and exposes a small
// fixed inventory tree. Used for demo tenants and tests.
type MockAdapter struct {
	mu     sync.Mutex
	orders map[string]*mockOrder
}

type mockOrder struct {
	mediaBuyID string
	start      time.Time
	end        time.Time
	paused     bool
	packages   []PackageSpec
}

var _ Adapter = (*MockAdapter)(nil)

// NewMockAdapter creates an empty mock ad server.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{orders: make(map[string]*mockOrder)}
}

func (m *MockAdapter) Name() string { return models.AdServerMock }

func (m *MockAdapter) Capabilities() Capabilities {
	return Capabilities{
		OverlayDimensions: map[string]bool{
			"geo_country":       true,
			"geo_region":        true,
			"device_type":       true,
			"os":                true,
			"browser":           true,
			"content_category":  true,
			"key_value":         true,
			"audience_segment":  true,
			"daypart":           true,
			"frequency_cap":     true,
		},
		SupportsGuaranteed:    true,
		SupportsInventorySync: true,
	}
}

func (m *MockAdapter) CreateMediaBuy(_ context.Context, req *CreateRequest) (*CreateResult, error) {
	platformIDs := make(map[string]string, len(req.Packages))
	for i, pkg := range req.Packages {
		platformIDs[pkg.PackageID] = fmt.Sprintf("mock_li_%s_%d", req.MediaBuyID, i+1)
	}
	result := &CreateResult{
		PlatformBuyID:      "mock_order_" + req.MediaBuyID,
		Status:             adcp.StatusScheduled,
		PackagePlatformIDs: platformIDs,
	}
	if req.DryRun {
		return result, nil
	}
	m.mu.Lock()
	m.orders[req.MediaBuyID] = &mockOrder{
		mediaBuyID: req.MediaBuyID,
		start:      req.StartTime,
		end:        req.EndTime,
		packages:   req.Packages,
	}
	m.mu.Unlock()
	return result, nil
}

func (m *MockAdapter) UpdateMediaBuy(_ context.Context, req *UpdateRequest) error {
	if req.DryRun {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[req.MediaBuyID]
	if !ok {
		return fmt.Errorf("mock order %s not found", req.MediaBuyID)
	}
	if req.Paused != nil {
		order.paused = *req.Paused
	}
	if req.StartTime != nil {
		order.start = *req.StartTime
	}
	if req.EndTime != nil {
		order.end = *req.EndTime
	}
	return nil
}

func (m *MockAdapter) UploadCreatives(_ context.Context, req *UploadRequest) ([]UploadResult, error) {
	results := make([]UploadResult, len(req.Creatives))
	for i, c := range req.Creatives {
		results[i] = UploadResult{
			CreativeID: c.CreativeID,
			PlatformID: "mock_cr_" + c.CreativeID,
		}
	}
	return results, nil
}

// GetMediaBuyDelivery produces deterministic synthetic delivery: impressions
// scale with elapsed flight hours and a stable per-package seed, so repeated
// calls agree with each other.
func (m *MockAdapter) GetMediaBuyDelivery(_ context.Context, req *DeliveryRequest) (map[string]adcp.DeliveryTotals, error) {
	m.mu.Lock()
	order, ok := m.orders[req.MediaBuyID]
	m.mu.Unlock()
	if !ok {
		return map[string]adcp.DeliveryTotals{}, nil
	}

	start := req.Start
	if start.Before(order.start) {
		start = order.start
	}
	end := req.End
	if end.After(order.end) {
		end = order.end
	}
	if !end.After(start) || order.paused {
		return map[string]adcp.DeliveryTotals{}, nil
	}
	hours := int64(end.Sub(start) / time.Hour)
	if hours < 1 {
		hours = 1
	}

	totals := make(map[string]adcp.DeliveryTotals, len(order.packages))
	for _, pkg := range order.packages {
		seed := seedFor(req.MediaBuyID + "/" + pkg.PackageID)
		impressions := hours * int64(500+seed%500)
		rate := pkg.Rate
		if rate == 0 && pkg.BidPrice != nil {
			rate = *pkg.BidPrice
		}
		spend := float64(impressions) / 1000 * rate
		if spend > pkg.Budget {
			spend = pkg.Budget
			impressions = int64(pkg.Budget / rate * 1000)
		}
		totals[pkg.PackageID] = adcp.DeliveryTotals{
			Impressions: impressions,
			Clicks:      impressions / 200,
			Spend:       spend,
		}
	}
	return totals, nil
}

func seedFor(s string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum32())
}

// mockInventory is the fixed tree every mock tenant sees.
var mockInventory = map[string][]models.InventoryRow{
	models.InventoryAdUnit: {
		{InventoryID: "root", Name: "Network Root", Path: []string{"root"}, Status: models.InventoryActive},
		{InventoryID: "homepage", Name: "Homepage", Path: []string{"root", "homepage"}, Status: models.InventoryActive},
		{InventoryID: "article", Name: "Article Pages", Path: []string{"root", "article"}, Status: models.InventoryActive},
	},
	models.InventoryPlacement: {
		{InventoryID: "ros", Name: "Run of Site", Status: models.InventoryActive},
	},
	models.InventoryLabel: {
		{InventoryID: "premium", Name: "Premium", Status: models.InventoryActive},
	},
	models.InventoryCustomTargetingKey: {
		{InventoryID: "section", Name: "section", Status: models.InventoryActive},
	},
	models.InventoryAudienceSegment: {
		{InventoryID: "seg_sports", Name: "Sports Fans", Status: models.InventoryActive},
	},
}

func (m *MockAdapter) ListInventory(_ context.Context, tenant *models.Tenant, inventoryType, pageToken string, _ time.Time) (*InventoryPage, error) {
	// The fixture has no modification times, so incremental listings return
	// the full tree.
	if pageToken != "" {
		return &InventoryPage{}, nil
	}
	rows := make([]models.InventoryRow, 0, len(mockInventory[inventoryType]))
	for _, r := range mockInventory[inventoryType] {
		r.TenantID = tenant.TenantID
		r.InventoryType = inventoryType
		rows = append(rows, r)
	}
	return &InventoryPage{Rows: rows}, nil
}

func (m *MockAdapter) ListCustomTargetingValues(_ context.Context, tenant *models.Tenant, keyID, pageToken string) (*InventoryPage, error) {
	if pageToken != "" || keyID != "section" {
		return &InventoryPage{}, nil
	}
	values := []string{"sports", "news", "finance"}
	rows := make([]models.InventoryRow, 0, len(values))
	for _, v := range values {
		rows = append(rows, models.InventoryRow{
			TenantID:      tenant.TenantID,
			InventoryType: models.InventoryCustomTargetingValue,
			InventoryID:   keyID + ":" + v,
			Name:          v,
			Path:          []string{keyID},
			Status:        models.InventoryActive,
		})
	}
	return &InventoryPage{Rows: rows}, nil
}
