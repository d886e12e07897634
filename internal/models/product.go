package models

import (
	"encoding/json"
	"fmt"

	"github.com/openadcp/salesagent/internal/adcp"
)

// GAM line item types. STANDARD and SPONSORSHIP are guaranteed; the rest are
// non-guaranteed.
const (
	LineItemTypeStandard      = "STANDARD"
	LineItemTypeSponsorship   = "SPONSORSHIP"
	LineItemTypeNetwork       = "NETWORK"
	LineItemTypeHouse         = "HOUSE"
	LineItemTypePricePriority = "PRICE_PRIORITY"
	LineItemTypeBulk          = "BULK"
)

// Non-guaranteed automation policies.
const (
	AutomationAutomatic            = "automatic"
	AutomationConfirmationRequired = "confirmation_required"
	AutomationManual               = "manual"
)

// ImplementationConfig carries adapter-facing product configuration.
type ImplementationConfig struct {
	LineItemType            string          `json:"line_item_type,omitempty"`
	NonGuaranteedAutomation string          `json:"non_guaranteed_automation,omitempty"`
	Extra                   json.RawMessage `json:"extra,omitempty"`
}

// GuaranteedLineItemType reports whether the configured line item type
// represents guaranteed delivery.
func (ic ImplementationConfig) GuaranteedLineItemType() bool {
	switch ic.LineItemType {
	case LineItemTypeStandard, LineItemTypeSponsorship:
		return true
	}
	return false
}

// Product is a sellable inventory bundle as stored for a tenant.
type Product struct {
	TenantID             string               `json:"tenant_id"`
	ProductID            string               `json:"product_id"`
	Name                 string               `json:"name"`
	Description          string               `json:"description"`
	FormatIDs            []adcp.FormatID      `json:"format_ids"`
	DeliveryType         string               `json:"delivery_type"`
	PublisherProperties  json.RawMessage      `json:"publisher_properties"`
	PricingOptions       []adcp.PricingOption `json:"pricing_options"`
	DeliveryMeasurement  json.RawMessage      `json:"delivery_measurement,omitempty"`
	ImplementationConfig ImplementationConfig `json:"implementation_config,omitempty"`
}

// ToWire converts the stored product into its AdCP shape. Conversion fails
// loudly when format_ids is empty: a product without formats cannot validate
// creative compatibility and must not reach a buyer.
func (p *Product) ToWire() (adcp.Product, error) {
	if len(p.FormatIDs) == 0 {
		return adcp.Product{}, fmt.Errorf("product %s has no format_ids configured", p.ProductID)
	}
	if len(p.PricingOptions) == 0 {
		return adcp.Product{}, fmt.Errorf("product %s has no pricing_options configured", p.ProductID)
	}
	if len(p.PublisherProperties) == 0 {
		return adcp.Product{}, fmt.Errorf("product %s has no publisher_properties configured", p.ProductID)
	}
	return adcp.Product{
		ProductID:           p.ProductID,
		Name:                p.Name,
		Description:         p.Description,
		FormatIDs:           p.FormatIDs,
		DeliveryType:        p.DeliveryType,
		PublisherProperties: p.PublisherProperties,
		PricingOptions:      p.PricingOptions,
		DeliveryMeasurement: p.DeliveryMeasurement,
	}, nil
}
