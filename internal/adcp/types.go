package adcp

import (
	"encoding/json"
)

// Media buy statuses. The lifecycle runs pending_activation → scheduled →
// active → completed, with paused and failed as side branches.
const (
	StatusPendingActivation = "pending_activation"
	StatusScheduled         = "scheduled"
	StatusActive            = "active"
	StatusCompleted         = "completed"
	StatusPaused            = "paused"
	StatusFailed            = "failed"
)

// Delivery types for products.
const (
	DeliveryGuaranteed    = "guaranteed"
	DeliveryNonGuaranteed = "non_guaranteed"
)

// Pricing models. Others may appear; these are the common set.
const (
	PricingModelCPM  = "cpm"
	PricingModelCPCV = "cpcv"
	PricingModelCPC  = "cpc"
	PricingModelCPP  = "cpp"
	PricingModelCPV  = "cpv"
)

// PriceGuidance describes auction pricing for a non-fixed pricing option.
// Floor is required; the percentiles are optional.
type PriceGuidance struct {
	Floor float64  `json:"floor"`
	P25   *float64 `json:"p25,omitempty"`
	P50   *float64 `json:"p50,omitempty"`
	P75   *float64 `json:"p75,omitempty"`
	P90   *float64 `json:"p90,omitempty"`
}

// PricingOption is one pricing contract on a product. IsFixed is server-side
// state and never appears on the wire; a fixed option carries Rate, an
// auction option carries PriceGuidance.
type PricingOption struct {
	PricingOptionID    string         `json:"pricing_option_id"`
	PricingModel       string         `json:"pricing_model"`
	Currency           string         `json:"currency"`
	IsFixed            bool           `json:"-"`
	Rate               *float64       `json:"rate,omitempty"`
	PriceGuidance      *PriceGuidance `json:"price_guidance,omitempty"`
	MinSpendPerPackage *float64       `json:"min_spend_per_package,omitempty"`
}

// Product is the wire shape of a sellable inventory bundle.
type Product struct {
	ProductID           string          `json:"product_id"`
	Name                string          `json:"name"`
	Description         string          `json:"description"`
	FormatIDs           []FormatID      `json:"format_ids"`
	DeliveryType        string          `json:"delivery_type"`
	PublisherProperties json.RawMessage `json:"publisher_properties"`
	PricingOptions      []PricingOption `json:"pricing_options"`
	DeliveryMeasurement json.RawMessage `json:"delivery_measurement,omitempty"`
}

// TargetingOverlay carries buyer-settable targeting dimensions. Keys are
// dimension names; adapters negotiate which dimensions they accept.
type TargetingOverlay map[string]json.RawMessage

// ReportingWebhook registers a delivery-report endpoint on a media buy.
type ReportingWebhook struct {
	URL            string                 `json:"url"`
	Frequency      string                 `json:"frequency,omitempty"`
	Authentication *WebhookAuthentication `json:"authentication,omitempty"`
}

// WebhookAuthentication supplies credentials inline when no push
// notification config is registered for the endpoint.
type WebhookAuthentication struct {
	Type        string `json:"type"`
	Credentials string `json:"credentials"`
}

// PackageRequest is one requested line item within a create_media_buy call.
// Budget is a scalar in current-spec requests; currency is inherited from the
// selected pricing option.
type PackageRequest struct {
	BuyerRef        string           `json:"buyer_ref"`
	ProductID       string           `json:"product_id"`
	PricingOptionID string           `json:"pricing_option_id,omitempty"`
	PricingModel    string           `json:"pricing_model,omitempty"`
	Budget          *Budget          `json:"budget,omitempty"`
	BidPrice        *float64         `json:"bid_price,omitempty"`
	Pacing          string           `json:"pacing,omitempty"`
	CreativeIDs     []string         `json:"creative_ids,omitempty"`
	Targeting       TargetingOverlay `json:"targeting_overlay,omitempty"`
}

// CreateMediaBuyRequest is the envelope for creating a media buy.
// BrandManifest is either a URL string or an inline object; it is carried
// opaquely and forwarded to the adapter.
type CreateMediaBuyRequest struct {
	BuyerRef         string            `json:"buyer_ref"`
	BrandManifest    json.RawMessage   `json:"brand_manifest"`
	PONumber         string            `json:"po_number,omitempty"`
	Packages         []PackageRequest  `json:"packages"`
	StartTime        StartTime         `json:"start_time"`
	EndTime          AwareTime         `json:"end_time"`
	Currency         string            `json:"currency,omitempty"`
	ReportingWebhook *ReportingWebhook `json:"reporting_webhook,omitempty"`
}

// PackageUpdate carries the mutable fields of one package.
type PackageUpdate struct {
	PackageID string   `json:"package_id,omitempty"`
	BuyerRef  string   `json:"buyer_ref,omitempty"`
	Paused    *bool    `json:"paused,omitempty"`
	Budget    *Budget  `json:"budget,omitempty"`
	BidPrice  *float64 `json:"bid_price,omitempty"`
}

// UpdateMediaBuyRequest carries exactly one of MediaBuyID or BuyerRef; the
// oneOf is enforced at the transport boundary via Validate.
type UpdateMediaBuyRequest struct {
	MediaBuyID string          `json:"media_buy_id,omitempty"`
	BuyerRef   string          `json:"buyer_ref,omitempty"`
	Paused     *bool           `json:"paused,omitempty"`
	StartTime  *StartTime      `json:"start_time,omitempty"`
	EndTime    *AwareTime      `json:"end_time,omitempty"`
	Budget     *Budget         `json:"budget,omitempty"`
	Packages   []PackageUpdate `json:"packages,omitempty"`
}

// GetProductsRequest filters the tenant catalog. All fields optional.
type GetProductsRequest struct {
	Brief         string          `json:"brief,omitempty"`
	BrandManifest json.RawMessage `json:"brand_manifest,omitempty"`
	Filters       *ProductFilters `json:"filters,omitempty"`
}

// ProductFilters narrows get_products results.
type ProductFilters struct {
	DeliveryType string     `json:"delivery_type,omitempty"`
	FormatIDs    []FormatID `json:"format_ids,omitempty"`
	IsResponsive *bool      `json:"is_responsive,omitempty"`
	NameContains string     `json:"name_contains,omitempty"`
	AssetTypes   []string   `json:"asset_types,omitempty"`
	MinWidth     int        `json:"min_width,omitempty"`
	MinHeight    int        `json:"min_height,omitempty"`
}

// Validation modes accepted by sync_creatives. Lenient (the default) lets
// each creative succeed or fail on its own; strict rejects the whole request
// before any write when one creative fails validation.
const (
	ValidationModeLenient = "lenient"
	ValidationModeStrict  = "strict"
)

// SyncCreativesRequest upserts creatives into the library.
type SyncCreativesRequest struct {
	Creatives      []Creative          `json:"creatives"`
	Assignments    map[string][]string `json:"assignments,omitempty"`
	Patch          bool                `json:"patch,omitempty"`
	DeleteMissing  bool                `json:"delete_missing,omitempty"`
	DryRun         bool                `json:"dry_run,omitempty"`
	ValidationMode string              `json:"validation_mode,omitempty"`
}

// CreativeFilters narrows list_creatives results.
type CreativeFilters struct {
	Statuses      []string   `json:"statuses,omitempty"`
	FormatIDs     []FormatID `json:"format_ids,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	CreatedAfter  *AwareTime `json:"created_after,omitempty"`
	CreatedBefore *AwareTime `json:"created_before,omitempty"`
	MediaBuyIDs   []string   `json:"media_buy_ids,omitempty"`
	BuyerRefs     []string   `json:"buyer_refs,omitempty"`
	Search        string     `json:"search,omitempty"`
}

// Pagination is a limit/offset window.
type Pagination struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Sort names a field and direction for list results.
type Sort struct {
	Field     string `json:"field,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// ListCreativesRequest pages through the tenant's creative library.
type ListCreativesRequest struct {
	Filters    *CreativeFilters `json:"filters,omitempty"`
	Pagination *Pagination      `json:"pagination,omitempty"`
	Sort       *Sort            `json:"sort,omitempty"`
}

// StatusFilter accepts a single status string or a list of them.
type StatusFilter []string

func (s *StatusFilter) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StatusFilter{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func (s StatusFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(s))
}

// GetMediaBuyDeliveryRequest fetches delivery metrics. All filters optional.
type GetMediaBuyDeliveryRequest struct {
	MediaBuyIDs  []string     `json:"media_buy_ids,omitempty"`
	BuyerRefs    []string     `json:"buyer_refs,omitempty"`
	StatusFilter StatusFilter `json:"status_filter,omitempty"`
	StartDate    string       `json:"start_date,omitempty"`
	EndDate      string       `json:"end_date,omitempty"`
}

// ListAuthorizedPropertiesRequest lists the tenant's publisher properties.
// All fields optional.
type ListAuthorizedPropertiesRequest struct {
	Tags []string `json:"tags,omitempty"`
}
