package adcp

// SelectPricingOption resolves the pricing option a package uses and runs the
// pricing contract checks. The package either references a pricing_option_id
// on the product (preferred) or names a pricing_model offered by one of the
// product's options.
//
// campaignCurrency is the currency the whole buy settles in; a chosen option
// with a different currency is a validation error. budget is the extracted
// package budget, checked against min_spend_per_package.
func SelectPricingOption(productID string, options []PricingOption, pkg PackageRequest, campaignCurrency string, budget float64) (*PricingOption, *Error) {
	if len(options) == 0 {
		return nil, Errorf(CodeDataIntegrity, "product %s has no pricing_options configured", productID)
	}

	var chosen *PricingOption
	if pkg.PricingOptionID != "" {
		for i := range options {
			if options[i].PricingOptionID == pkg.PricingOptionID {
				chosen = &options[i]
				break
			}
		}
		if chosen == nil {
			return nil, Errorf(CodeValidation, "pricing_option_id %q not offered by product %s", pkg.PricingOptionID, productID)
		}
	} else if pkg.PricingModel != "" {
		for i := range options {
			if options[i].PricingModel == pkg.PricingModel {
				chosen = &options[i]
				break
			}
		}
		if chosen == nil {
			return nil, Errorf(CodeValidation, "pricing_model %q not offered by product %s", pkg.PricingModel, productID)
		}
	} else {
		return nil, Errorf(CodeValidation, "package %q must reference a pricing_option_id or pricing_model", pkg.BuyerRef)
	}

	if chosen.IsFixed {
		if chosen.Rate == nil {
			return nil, Errorf(CodeDataIntegrity, "fixed pricing option %s on product %s has no rate", chosen.PricingOptionID, productID)
		}
	} else {
		if chosen.PriceGuidance == nil {
			return nil, Errorf(CodeDataIntegrity, "auction pricing option %s on product %s has no price_guidance", chosen.PricingOptionID, productID)
		}
		if pkg.BidPrice == nil {
			return nil, Errorf(CodeValidation, "pricing option %s is auction priced; package %q must supply bid_price", chosen.PricingOptionID, pkg.BuyerRef)
		}
		if *pkg.BidPrice < chosen.PriceGuidance.Floor {
			return nil, Errorf(CodeValidation, "bid_price %.4f is below floor %.4f for pricing option %s", *pkg.BidPrice, chosen.PriceGuidance.Floor, chosen.PricingOptionID)
		}
	}

	if campaignCurrency != "" && chosen.Currency != campaignCurrency {
		return nil, Errorf(CodeValidation, "pricing option %s settles in %s but the campaign currency is %s", chosen.PricingOptionID, chosen.Currency, campaignCurrency)
	}

	if chosen.MinSpendPerPackage != nil && budget < *chosen.MinSpendPerPackage {
		return nil, Errorf(CodeValidation, "package %q budget %.2f is below min_spend_per_package %.2f", pkg.BuyerRef, budget, *chosen.MinSpendPerPackage)
	}

	return chosen, nil
}
