package adcp

import (
	"encoding/json"
	"fmt"
)

// GetProductsResponse lists the catalog visible to the principal.
type GetProductsResponse struct {
	Products []Product `json:"products"`
}

func (r GetProductsResponse) Summary() string {
	return fmt.Sprintf("%d product(s) available", len(r.Products))
}

// Creative sync actions.
const (
	SyncActionCreated = "created"
	SyncActionUpdated = "updated"
	SyncActionDeleted = "deleted"
	SyncActionFailed  = "failed"
)

// CreativeSyncResult reports the outcome for a single creative.
type CreativeSyncResult struct {
	CreativeID string   `json:"creative_id"`
	Action     string   `json:"action"`
	Status     string   `json:"status,omitempty"`
	Changes    []string `json:"changes,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// AssignmentResult reports the outcome of one creative-to-package link.
type AssignmentResult struct {
	CreativeID string `json:"creative_id"`
	PackageID  string `json:"package_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// SyncCreativesResponse reports per-creative and per-assignment outcomes.
// Assignment failures never roll back creative upserts.
type SyncCreativesResponse struct {
	Results     []CreativeSyncResult `json:"results"`
	Assignments []AssignmentResult   `json:"assignments,omitempty"`
	DryRun      bool                 `json:"dry_run,omitempty"`
}

func (r SyncCreativesResponse) Summary() string {
	var created, updated, deleted, failed int
	for _, res := range r.Results {
		switch res.Action {
		case SyncActionCreated:
			created++
		case SyncActionUpdated:
			updated++
		case SyncActionDeleted:
			deleted++
		case SyncActionFailed:
			failed++
		}
	}
	return fmt.Sprintf("synced creatives: %d created, %d updated, %d deleted, %d failed",
		created, updated, deleted, failed)
}

// ListedCreative is a library creative plus its server-side status.
type ListedCreative struct {
	Creative
	Status    string     `json:"status"`
	CreatedAt AwareTime  `json:"created_at"`
	UpdatedAt *AwareTime `json:"updated_at,omitempty"`
}

// QuerySummary reports totals for a list query.
type QuerySummary struct {
	TotalMatching int `json:"total_matching"`
}

// PageInfo reports the window position of a list response.
type PageInfo struct {
	Limit       int  `json:"limit"`
	Offset      int  `json:"offset"`
	CurrentPage int  `json:"current_page"`
	HasMore     bool `json:"has_more"`
}

// ListCreativesResponse is a page of library creatives.
type ListCreativesResponse struct {
	Creatives    []ListedCreative `json:"creatives"`
	QuerySummary QuerySummary     `json:"query_summary"`
	Pagination   PageInfo         `json:"pagination"`
}

func (r ListCreativesResponse) Summary() string {
	return fmt.Sprintf("%d of %d creative(s)", len(r.Creatives), r.QuerySummary.TotalMatching)
}

// DeliveryTotals aggregates delivered metrics.
type DeliveryTotals struct {
	Impressions      int64   `json:"impressions"`
	Spend            float64 `json:"spend"`
	Clicks           int64   `json:"clicks,omitempty"`
	VideoCompletions int64   `json:"video_completions,omitempty"`
}

// PackageDelivery is the delivery slice for one package.
type PackageDelivery struct {
	PackageID string         `json:"package_id"`
	Totals    DeliveryTotals `json:"totals"`
}

// MediaBuyDelivery is the delivery report for one media buy.
type MediaBuyDelivery struct {
	MediaBuyID string            `json:"media_buy_id"`
	BuyerRef   string            `json:"buyer_ref,omitempty"`
	Status     string            `json:"status"`
	Totals     DeliveryTotals    `json:"totals"`
	ByPackage  []PackageDelivery `json:"by_package,omitempty"`
}

// ReportingPeriod bounds a delivery report.
type ReportingPeriod struct {
	Start AwareTime `json:"start"`
	End   AwareTime `json:"end"`
}

// GetMediaBuyDeliveryResponse aggregates delivery for the matched buys.
type GetMediaBuyDeliveryResponse struct {
	ReportingPeriod  *ReportingPeriod   `json:"reporting_period,omitempty"`
	Currency         string             `json:"currency,omitempty"`
	AggregatedTotals *DeliveryTotals    `json:"aggregated_totals,omitempty"`
	Deliveries       []MediaBuyDelivery `json:"media_buy_deliveries"`
	Errors           []Error            `json:"errors,omitempty"`
}

func (r GetMediaBuyDeliveryResponse) Summary() string {
	return fmt.Sprintf("delivery for %d media buy(s)", len(r.Deliveries))
}

// Property is one authorized publisher property.
type Property struct {
	PropertyType string          `json:"property_type"`
	Name         string          `json:"name"`
	Identifiers  json.RawMessage `json:"identifiers,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
}

// ListAuthorizedPropertiesResponse lists the tenant's publisher properties.
type ListAuthorizedPropertiesResponse struct {
	Properties []Property `json:"properties"`
}

func (r ListAuthorizedPropertiesResponse) Summary() string {
	return fmt.Sprintf("%d authorized propert(ies)", len(r.Properties))
}

// SyncInventoryResponse reports a completed (or failed) inventory sync run.
type SyncInventoryResponse struct {
	SyncID  string          `json:"sync_id"`
	Status  string          `json:"status"`
	Summary json.RawMessage `json:"summary,omitempty"`
	Errors  []Error         `json:"errors,omitempty"`
}
