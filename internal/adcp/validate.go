package adcp

import (
	"time"
)

// Validate checks the create_media_buy envelope before any product or
// adapter work happens. now anchors the past-start check.
func (r *CreateMediaBuyRequest) Validate(now time.Time) *Error {
	if r.BuyerRef == "" {
		return Errorf(CodeValidation, "buyer_ref is required")
	}
	if len(r.BrandManifest) == 0 {
		return Errorf(CodeValidation, "brand_manifest is required")
	}
	if len(r.Packages) == 0 {
		return Errorf(CodeValidation, "packages must contain at least one package")
	}
	if !r.StartTime.ASAP && r.StartTime.Time.Before(now) {
		return Errorf(CodeValidation, "start_time %s is in the past", r.StartTime.Time.Format(time.RFC3339))
	}
	start := r.StartTime.Resolve(now)
	if !r.EndTime.After(start) {
		return Errorf(CodeValidation, "end_time must be after start_time")
	}
	for _, pkg := range r.Packages {
		if pkg.ProductID == "" {
			return Errorf(CodeValidation, "package %q is missing product_id", pkg.BuyerRef)
		}
		if amount, _ := ExtractBudget(pkg.Budget, ""); amount < 0 {
			return Errorf(CodeValidation, "package %q has a negative budget", pkg.BuyerRef)
		}
	}
	return nil
}

// Validate enforces the media_buy_id XOR buyer_ref oneOf at the transport
// boundary.
func (r *UpdateMediaBuyRequest) Validate() *Error {
	if r.MediaBuyID != "" && r.BuyerRef != "" {
		return Errorf(CodeInvalidRequest, "exactly one of media_buy_id or buyer_ref may be set, not both")
	}
	if r.MediaBuyID == "" && r.BuyerRef == "" {
		return Errorf(CodeInvalidRequest, "one of media_buy_id or buyer_ref is required")
	}
	if r.StartTime != nil && r.EndTime != nil && !r.StartTime.ASAP && !r.EndTime.After(r.StartTime.Time) {
		return Errorf(CodeValidation, "end_time must be after start_time")
	}
	return nil
}

// ValidStatuses are the media buy statuses a status_filter may name.
var ValidStatuses = map[string]bool{
	StatusPendingActivation: true,
	StatusScheduled:         true,
	StatusActive:            true,
	StatusCompleted:         true,
	StatusPaused:            true,
	StatusFailed:            true,
}

// Validate rejects unknown status_filter values instead of silently dropping
// them.
func (r *GetMediaBuyDeliveryRequest) Validate() *Error {
	for _, s := range r.StatusFilter {
		if !ValidStatuses[s] {
			return Errorf(CodeValidation, "unknown status_filter value %q", s)
		}
	}
	return nil
}

// FormatSpec is a creative format descriptor resolved from the remote
// creative agent.
type FormatSpec struct {
	FormatID       FormatID          `json:"format_id"`
	Name           string            `json:"name"`
	RequiredAssets []string          `json:"required_assets,omitempty"`
	FallbackURLs   map[string]string `json:"fallback_urls,omitempty"`
	IsResponsive   bool              `json:"is_responsive,omitempty"`
}

// ValidateCreative checks a creative against its resolved format: every
// required asset must be present and must resolve to a URL either explicitly
// or via a format-defined fallback.
func ValidateCreative(c Creative, spec *FormatSpec) *Error {
	if spec == nil {
		return Errorf(CodeValidation, "creative %s references unknown format %s", c.CreativeID, c.FormatID.String())
	}
	for _, name := range spec.RequiredAssets {
		asset, ok := c.Assets[name]
		if !ok {
			return Errorf(CodeValidation, "creative %s is missing required asset %q for format %s", c.CreativeID, name, spec.FormatID.ID)
		}
		if asset.URL == "" && asset.Content == "" && spec.FallbackURLs[name] == "" {
			return Errorf(CodeValidation, "creative %s asset %q has no url and format %s defines no fallback", c.CreativeID, name, spec.FormatID.ID)
		}
	}
	return nil
}
