package models

import (
	"encoding/json"
	"time"

	"github.com/openadcp/salesagent/internal/adcp"
)

// statusTransitions encodes the media buy state machine. Readers always see
// a monotone status; the only backward edge is paused → active on explicit
// resume.
var statusTransitions = map[string]map[string]bool{
	adcp.StatusPendingActivation: {
		adcp.StatusScheduled: true,
		adcp.StatusActive:    true,
		adcp.StatusPaused:    true,
		adcp.StatusFailed:    true,
	},
	adcp.StatusScheduled: {
		adcp.StatusActive:    true,
		adcp.StatusCompleted: true,
		adcp.StatusPaused:    true,
		adcp.StatusFailed:    true,
	},
	adcp.StatusActive: {
		adcp.StatusCompleted: true,
		adcp.StatusPaused:    true,
		adcp.StatusFailed:    true,
	},
	adcp.StatusPaused: {
		adcp.StatusActive:    true,
		adcp.StatusCompleted: true,
	},
	adcp.StatusCompleted: {},
	adcp.StatusFailed:    {},
}

// CanTransition reports whether a media buy may move from one status to
// another.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	return statusTransitions[from][to]
}

// MediaBuy is a confirmed purchase. RawRequest retains the original
// create_media_buy payload so later stages (reporting webhooks) can
// re-derive request fields.
type MediaBuy struct {
	MediaBuyID  string          `json:"media_buy_id"`
	TenantID    string          `json:"tenant_id"`
	PrincipalID string          `json:"principal_id"`
	BuyerRef    string          `json:"buyer_ref"`
	PONumber    string          `json:"po_number,omitempty"`
	Status      string          `json:"status"`
	StartTime   time.Time       `json:"start_time"`
	StartASAP   bool            `json:"start_asap,omitempty"`
	EndTime     time.Time       `json:"end_time"`
	Currency    string          `json:"currency"`
	RawRequest  json.RawMessage `json:"raw_request,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ReportingWebhook re-derives the webhook registration from the stored raw
// request. Returns nil when the buy registered none.
func (m *MediaBuy) ReportingWebhook() *adcp.ReportingWebhook {
	if len(m.RawRequest) == 0 {
		return nil
	}
	var req struct {
		ReportingWebhook *adcp.ReportingWebhook `json:"reporting_webhook"`
	}
	if err := json.Unmarshal(m.RawRequest, &req); err != nil {
		return nil
	}
	return req.ReportingWebhook
}

// MediaPackage is one line item within a media buy, identified by
// (media_buy_id, package_id).
type MediaPackage struct {
	TenantID        string          `json:"tenant_id"`
	MediaBuyID      string          `json:"media_buy_id"`
	PackageID       string          `json:"package_id"`
	ProductID       string          `json:"product_id"`
	BuyerRef        string          `json:"buyer_ref,omitempty"`
	PricingOptionID string          `json:"pricing_option_id,omitempty"`
	Budget          float64         `json:"budget"`
	Currency        string          `json:"currency"`
	BidPrice        *float64        `json:"bid_price,omitempty"`
	Pacing          string          `json:"pacing,omitempty"`
	Paused          bool            `json:"paused"`
	// PackageConfig retains the backward-compatible JSON projection of the
	// typed pricing fields. Written in the same transaction as the typed
	// columns; see db.packageConfigJSON.
	PackageConfig json.RawMessage `json:"package_config,omitempty"`
}

// CreativeAssignment links a creative to (media_buy_id, package_id).
type CreativeAssignment struct {
	TenantID     string     `json:"tenant_id"`
	MediaBuyID   string     `json:"media_buy_id"`
	PackageID    string     `json:"package_id"`
	CreativeID   string     `json:"creative_id"`
	Weight       int        `json:"weight"`
	RotationType string     `json:"rotation_type,omitempty"`
	ClickURL     string     `json:"click_url,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}
