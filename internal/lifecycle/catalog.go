package lifecycle

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/models"
)

// GetProducts lists the tenant catalog, filtered. A product that fails wire
// conversion is a publisher configuration fault and fails the whole catalog:
// silently hiding it would leave buyers unable to tell why a product they
// were quoted is gone.
func (e *Engine) GetProducts(ctx context.Context, rc *auth.RequestContext, req *adcp.GetProductsRequest) (*adcp.GetProductsResponse, *adcp.Error) {
	products, err := e.Store.LoadProducts(ctx, rc.Tenant.TenantID)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "load products", err)
	}

	resp := &adcp.GetProductsResponse{Products: []adcp.Product{}}
	for i := range products {
		keep, aerr := e.matchProduct(ctx, rc.Tenant.TenantID, &products[i], req.Filters)
		if aerr != nil {
			return nil, aerr
		}
		if !keep {
			continue
		}
		wire, err := products[i].ToWire()
		if err != nil {
			zap.L().Error("misconfigured product",
				zap.String("tenant_id", rc.Tenant.TenantID),
				zap.String("product_id", products[i].ProductID),
				zap.Error(err))
			return nil, adcp.Errorf(adcp.CodeDataIntegrity,
				"product %s is misconfigured: %s", products[i].ProductID, err.Error())
		}
		resp.Products = append(resp.Products, wire)
	}
	return resp, nil
}

func (e *Engine) matchProduct(ctx context.Context, tenantID string, p *models.Product, f *adcp.ProductFilters) (bool, *adcp.Error) {
	if f == nil {
		return true, nil
	}
	if f.DeliveryType != "" && p.DeliveryType != f.DeliveryType {
		return false, nil
	}
	if f.NameContains != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.NameContains)) {
		return false, nil
	}
	if len(f.FormatIDs) > 0 {
		match := false
		for _, want := range f.FormatIDs {
			for _, have := range p.FormatIDs {
				if want.Equal(have) {
					match = true
				}
			}
		}
		if !match {
			return false, nil
		}
	}
	if f.IsResponsive != nil {
		// Responsiveness lives on the format spec, so the filter costs a
		// registry lookup per format.
		match := false
		for _, fid := range p.FormatIDs {
			spec, err := e.Formats.GetFormat(ctx, tenantID, fid)
			if err != nil {
				return false, adcp.WrapError(adcp.CodeUnavailable, "format resolution failed", err)
			}
			if spec != nil && spec.IsResponsive == *f.IsResponsive {
				match = true
				break
			}
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

// ListAuthorizedProperties lists the tenant's publisher properties. Available
// without a principal: buyers discover properties before authenticating.
func (e *Engine) ListAuthorizedProperties(ctx context.Context, rc *auth.RequestContext, req *adcp.ListAuthorizedPropertiesRequest) (*adcp.ListAuthorizedPropertiesResponse, *adcp.Error) {
	props, err := e.Store.ListProperties(ctx, rc.Tenant.TenantID, req.Tags)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "list properties", err)
	}
	if props == nil {
		props = []adcp.Property{}
	}
	return &adcp.ListAuthorizedPropertiesResponse{Properties: props}, nil
}
