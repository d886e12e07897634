package lifecycle

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adapters"
	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/models"
)

// CreateMediaBuy runs the full purchase path: request validation, pricing
// and targeting checks, creative compatibility, adapter provisioning, and
// finally persistence. Nothing is written until the ad server accepted the
// order; a failure at any stage returns the error arm with no media_buy_id.
func (e *Engine) CreateMediaBuy(ctx context.Context, rc *auth.RequestContext, req *adcp.CreateMediaBuyRequest) adcp.CreateMediaBuyResult {
	now := e.now()
	if aerr := req.Validate(now); aerr != nil {
		return adcp.NewCreateError(aerr)
	}

	tenant := rc.Tenant
	adapter, aerr := e.adapterFor(tenant)
	if aerr != nil {
		return adcp.NewCreateError(aerr)
	}
	caps := adapter.Capabilities()

	mediaBuyID := NewMediaBuyID(req.PONumber)
	currency := req.Currency

	var (
		stored []models.MediaPackage
		specs  []adapters.PackageSpec
		links  []models.CreativeAssignment
	)
	for i, pkg := range req.Packages {
		product, err := e.Store.GetProduct(ctx, tenant.TenantID, pkg.ProductID)
		if err != nil {
			return adcp.NewCreateError(adcp.WrapError(adcp.CodeUnavailable, "product lookup failed", err))
		}
		if product == nil {
			return adcp.NewCreateError(adcp.Errorf(adcp.CodeValidation, "product %s not found", pkg.ProductID))
		}
		if product.DeliveryType == adcp.DeliveryGuaranteed && !caps.SupportsGuaranteed {
			return adcp.NewCreateError(adcp.Errorf(adcp.CodeValidation,
				"product %s is guaranteed delivery, which %s does not support", pkg.ProductID, adapter.Name()))
		}

		budget, pkgCurrency := adcp.ExtractBudget(pkg.Budget, currency)
		option, aerr := adcp.SelectPricingOption(product.ProductID, product.PricingOptions, pkg, currency, budget)
		if aerr != nil {
			return adcp.NewCreateError(aerr)
		}
		if currency == "" {
			// First selected option pins the campaign currency; later
			// packages must agree.
			currency = option.Currency
		}
		if pkgCurrency == "" {
			pkgCurrency = option.Currency
		}

		if aerr := caps.ValidateTargeting(pkg.Targeting); aerr != nil {
			return adcp.NewCreateError(aerr)
		}

		creatives, aerr := e.resolveCreatives(ctx, tenant.TenantID, pkg.CreativeIDs)
		if aerr != nil {
			return adcp.NewCreateError(aerr)
		}

		packageID := NewPackageID(mediaBuyID, i+1)
		pacing := pkg.Pacing
		if pacing == "" {
			pacing = pkg.Budget.Pacing()
		}

		var rate float64
		if option.Rate != nil {
			rate = *option.Rate
		}
		specs = append(specs, adapters.PackageSpec{
			PackageID:    packageID,
			ProductID:    product.ProductID,
			LineItemType: product.ImplementationConfig.LineItemType,
			Budget:       budget,
			Currency:     pkgCurrency,
			PricingModel: option.PricingModel,
			Rate:         rate,
			BidPrice:     pkg.BidPrice,
			Pacing:       pacing,
			Targeting:    pkg.Targeting,
			Creatives:    creatives,
			Automation:   product.ImplementationConfig.NonGuaranteedAutomation,
			ImplExtra:    product.ImplementationConfig.Extra,
		})
		stored = append(stored, models.MediaPackage{
			TenantID:        tenant.TenantID,
			MediaBuyID:      mediaBuyID,
			PackageID:       packageID,
			ProductID:       product.ProductID,
			BuyerRef:        pkg.BuyerRef,
			PricingOptionID: option.PricingOptionID,
			Budget:          budget,
			Currency:        pkgCurrency,
			BidPrice:        pkg.BidPrice,
			Pacing:          pacing,
		})
		for _, creativeID := range pkg.CreativeIDs {
			links = append(links, models.CreativeAssignment{
				TenantID:   tenant.TenantID,
				MediaBuyID: mediaBuyID,
				PackageID:  packageID,
				CreativeID: creativeID,
			})
		}
	}

	dryRun := rc.Testing.DryRun
	createReq := &adapters.CreateRequest{
		Tenant:       tenant,
		PrincipalID:  rc.PrincipalID(),
		AdvertiserID: rc.Principal.PlatformID(tenant.AdServer),
		MediaBuyID:   mediaBuyID,
		PONumber:     req.PONumber,
		StartTime:    req.StartTime.Resolve(now),
		EndTime:      req.EndTime.Time,
		Currency:     currency,
		Packages:     specs,
		DryRun:       dryRun,
	}

	var result *adapters.CreateResult
	if aerr := e.execute(ctx, adapter.Name(), "create_media_buy", func(callCtx context.Context) error {
		r, err := adapter.CreateMediaBuy(callCtx, createReq)
		if err != nil {
			return err
		}
		result = r
		return nil
	}); aerr != nil {
		e.audit(ctx, rc, "create_media_buy", "media_buy", "", false, aerr)
		return adcp.NewCreateError(aerr)
	}

	status := result.Status
	needsApproval := result.NeedsApproval || tenant.ApprovalMode == models.ApprovalModeHuman
	if needsApproval {
		status = adcp.StatusPendingActivation
	}

	responsePackages := make([]adcp.ResponsePackage, len(stored))
	for i, pkg := range stored {
		rp := adcp.ResponsePackage{PackageID: pkg.PackageID, BuyerRef: pkg.BuyerRef}
		for _, link := range links {
			if link.PackageID == pkg.PackageID {
				rp.CreativeAssignments = append(rp.CreativeAssignments,
					adcp.CreativeAssignment{CreativeID: link.CreativeID, Weight: 100})
			}
		}
		responsePackages[i] = rp
	}
	success := adcp.CreateMediaBuySuccess{
		MediaBuyID: mediaBuyID,
		BuyerRef:   req.BuyerRef,
		Packages:   responsePackages,
	}

	if dryRun {
		zap.L().Info("dry-run media buy accepted",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("media_buy_id", mediaBuyID))
		return success
	}

	rawRequest, err := json.Marshal(req)
	if err != nil {
		return adcp.NewCreateError(adcp.WrapError(adcp.CodeInvalidRequest, "encode request", err))
	}
	buy := &models.MediaBuy{
		MediaBuyID:  mediaBuyID,
		TenantID:    tenant.TenantID,
		PrincipalID: rc.PrincipalID(),
		BuyerRef:    req.BuyerRef,
		PONumber:    req.PONumber,
		Status:      status,
		StartTime:   req.StartTime.Resolve(now),
		StartASAP:   req.StartTime.ASAP,
		EndTime:     req.EndTime.Time,
		Currency:    currency,
		RawRequest:  rawRequest,
	}
	if err := e.Store.CreateMediaBuyTx(ctx, buy, stored, links); err != nil {
		e.audit(ctx, rc, "create_media_buy", "media_buy", mediaBuyID, false, err.Error())
		return adcp.NewCreateError(adcp.WrapError(adcp.CodeUnavailable, "persist media buy", err))
	}

	if needsApproval {
		step := &models.WorkflowStep{
			StepID:      NewStepID(),
			TenantID:    tenant.TenantID,
			StepType:    models.StepTypeMediaBuyApproval,
			Status:      models.StepRequiresApproval,
			PrincipalID: rc.PrincipalID(),
			RequestData: rawRequest,
			ObjectType:  "media_buy",
			ObjectID:    mediaBuyID,
		}
		if err := e.Store.InsertWorkflowStep(ctx, step, "create"); err != nil {
			zap.L().Error("open approval step", zap.String("media_buy_id", mediaBuyID), zap.Error(err))
		} else {
			e.countWorkflowStep(models.StepTypeMediaBuyApproval)
		}
	}

	e.audit(ctx, rc, "create_media_buy", "media_buy", mediaBuyID, true, map[string]any{
		"status":   status,
		"packages": len(stored),
	})
	zap.L().Info("media buy created",
		zap.String("tenant_id", tenant.TenantID),
		zap.String("media_buy_id", mediaBuyID),
		zap.String("status", status),
		zap.Int("packages", len(stored)))
	return success
}

// resolveCreatives loads the referenced library creatives and validates each
// against its format spec.
func (e *Engine) resolveCreatives(ctx context.Context, tenantID string, creativeIDs []string) ([]adcp.Creative, *adcp.Error) {
	var out []adcp.Creative
	for _, id := range creativeIDs {
		rec, err := e.Store.GetCreative(ctx, tenantID, id)
		if err != nil {
			return nil, adcp.WrapError(adcp.CodeUnavailable, "creative lookup failed", err)
		}
		if rec == nil {
			return nil, adcp.Errorf(adcp.CodeValidation, "creative %s not found in library", id)
		}
		wire := rec.ToWire()
		spec, err := e.Formats.GetFormat(ctx, tenantID, rec.FormatID)
		if err != nil {
			return nil, adcp.WrapError(adcp.CodeUnavailable, "format resolution failed", err)
		}
		if aerr := adcp.ValidateCreative(wire, spec); aerr != nil {
			return nil, aerr
		}
		out = append(out, wire)
	}
	return out, nil
}
