package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adapters"
	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/models"
)

// UpdateMediaBuy mutates an existing buy. The request names the buy by
// media_buy_id or the principal's own buyer_ref; package patches apply
// all-or-nothing, so one unknown package id fails the whole call.
func (e *Engine) UpdateMediaBuy(ctx context.Context, rc *auth.RequestContext, req *adcp.UpdateMediaBuyRequest) adcp.UpdateMediaBuyResult {
	if aerr := req.Validate(); aerr != nil {
		return adcp.NewUpdateError(aerr)
	}

	tenant := rc.Tenant
	buy, aerr := e.resolveBuy(ctx, rc, req.MediaBuyID, req.BuyerRef)
	if aerr != nil {
		return adcp.NewUpdateError(aerr)
	}
	if buy.Status == adcp.StatusCompleted || buy.Status == adcp.StatusFailed {
		return adcp.NewUpdateError(adcp.Errorf(adcp.CodeValidation,
			"media buy %s is %s and can no longer be updated", buy.MediaBuyID, buy.Status))
	}

	packages, err := e.Store.LoadPackages(ctx, tenant.TenantID, buy.MediaBuyID)
	if err != nil {
		return adcp.NewUpdateError(adcp.WrapError(adcp.CodeUnavailable, "load packages", err))
	}
	byID := make(map[string]models.MediaPackage, len(packages))
	byRef := make(map[string]models.MediaPackage, len(packages))
	for _, pkg := range packages {
		byID[pkg.PackageID] = pkg
		if pkg.BuyerRef != "" {
			byRef[pkg.BuyerRef] = pkg
		}
	}

	patch := db.MediaBuyPatch{Paused: req.Paused}
	adapterUpdate := &adapters.UpdateRequest{
		Tenant:        tenant,
		AdvertiserID:  rc.Principal.PlatformID(tenant.AdServer),
		MediaBuyID:    buy.MediaBuyID,
		PlatformBuyID: buy.MediaBuyID,
		Paused:        req.Paused,
		DryRun:        rc.Testing.DryRun,
	}
	now := e.now()
	if req.StartTime != nil {
		if !req.StartTime.ASAP && req.StartTime.Time.Before(now) && buy.Status == adcp.StatusPendingActivation {
			return adcp.NewUpdateError(adcp.Errorf(adcp.CodeValidation, "start_time %s is in the past",
				req.StartTime.Time.Format(time.RFC3339)))
		}
		start := req.StartTime.Resolve(now)
		patch.StartTime = &start
		adapterUpdate.StartTime = &start
	}
	if req.EndTime != nil {
		end := req.EndTime.Time
		patch.EndTime = &end
		adapterUpdate.EndTime = &end
	}

	for _, pu := range req.Packages {
		target, aerr := resolvePackage(pu, byID, byRef, buy.MediaBuyID)
		if aerr != nil {
			return adcp.NewUpdateError(aerr)
		}
		pp := db.PackagePatch{PackageID: target.PackageID, Paused: pu.Paused, BidPrice: pu.BidPrice}
		ap := adapters.PackagePatch{PackageID: target.PackageID, Paused: pu.Paused, BidPrice: pu.BidPrice}
		if pu.Budget != nil {
			amount, _ := adcp.ExtractBudget(pu.Budget, buy.Currency)
			if amount < 0 {
				return adcp.NewUpdateError(adcp.Errorf(adcp.CodeValidation,
					"package %s has a negative budget", target.PackageID))
			}
			pp.Budget = &amount
			ap.Budget = &amount
		}
		patch.Packages = append(patch.Packages, pp)
		adapterUpdate.Packages = append(adapterUpdate.Packages, ap)
	}

	adapter, aerr := e.adapterFor(tenant)
	if aerr != nil {
		return adcp.NewUpdateError(aerr)
	}
	if aerr := e.execute(ctx, adapter.Name(), "update_media_buy", func(callCtx context.Context) error {
		return adapter.UpdateMediaBuy(callCtx, adapterUpdate)
	}); aerr != nil {
		e.audit(ctx, rc, "update_media_buy", "media_buy", buy.MediaBuyID, false, aerr)
		return adcp.NewUpdateError(aerr)
	}

	status := buy.Status
	if !rc.Testing.DryRun {
		if err := e.Store.UpdateMediaBuyTx(ctx, tenant.TenantID, buy.MediaBuyID, patch); err != nil {
			e.audit(ctx, rc, "update_media_buy", "media_buy", buy.MediaBuyID, false, err.Error())
			return adcp.NewUpdateError(adcp.WrapError(adcp.CodeUnavailable, "persist update", err))
		}
		if next, changed := pausedStatus(buy.Status, req.Paused); changed {
			if err := e.Store.UpdateMediaBuyStatus(ctx, tenant.TenantID, buy.MediaBuyID, next); err != nil {
				return adcp.NewUpdateError(adcp.WrapError(adcp.CodeUnavailable, "persist status", err))
			}
			status = next
		}
	}

	responsePackages := make([]adcp.ResponsePackage, 0, len(patch.Packages))
	for _, pp := range patch.Packages {
		pkg := byID[pp.PackageID]
		paused := pkg.Paused
		if pp.Paused != nil {
			paused = *pp.Paused
		}
		responsePackages = append(responsePackages, adcp.ResponsePackage{
			PackageID: pp.PackageID,
			BuyerRef:  pkg.BuyerRef,
			Paused:    paused,
		})
	}

	e.audit(ctx, rc, "update_media_buy", "media_buy", buy.MediaBuyID, true, nil)
	zap.L().Info("media buy updated",
		zap.String("tenant_id", tenant.TenantID),
		zap.String("media_buy_id", buy.MediaBuyID),
		zap.String("status", status))
	return adcp.UpdateMediaBuySuccess{
		MediaBuyID: buy.MediaBuyID,
		BuyerRef:   buy.BuyerRef,
		Status:     status,
		Packages:   responsePackages,
	}
}

// resolveBuy loads a buy by id or buyer_ref, scoped to the calling principal.
// Another principal's buy reads as not found rather than forbidden.
func (e *Engine) resolveBuy(ctx context.Context, rc *auth.RequestContext, mediaBuyID, buyerRef string) (*models.MediaBuy, *adcp.Error) {
	var (
		buy *models.MediaBuy
		err error
	)
	if mediaBuyID != "" {
		buy, err = e.Store.GetMediaBuy(ctx, rc.Tenant.TenantID, mediaBuyID)
	} else {
		buy, err = e.Store.GetMediaBuyByBuyerRef(ctx, rc.Tenant.TenantID, rc.PrincipalID(), buyerRef)
	}
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "media buy lookup failed", err)
	}
	if buy == nil || buy.PrincipalID != rc.PrincipalID() {
		ref := mediaBuyID
		if ref == "" {
			ref = buyerRef
		}
		return nil, adcp.Errorf(adcp.CodeNotFound, "media buy %s not found", ref)
	}
	return buy, nil
}

func resolvePackage(pu adcp.PackageUpdate, byID, byRef map[string]models.MediaPackage, mediaBuyID string) (models.MediaPackage, *adcp.Error) {
	if pu.PackageID != "" {
		if pkg, ok := byID[pu.PackageID]; ok {
			return pkg, nil
		}
		return models.MediaPackage{}, adcp.Errorf(adcp.CodeValidation,
			"package %s not found in media buy %s", pu.PackageID, mediaBuyID)
	}
	if pu.BuyerRef != "" {
		if pkg, ok := byRef[pu.BuyerRef]; ok {
			return pkg, nil
		}
		return models.MediaPackage{}, adcp.Errorf(adcp.CodeValidation,
			"package with buyer_ref %q not found in media buy %s", pu.BuyerRef, mediaBuyID)
	}
	return models.MediaPackage{}, adcp.Errorf(adcp.CodeValidation,
		"package update must name a package_id or buyer_ref")
}

// pausedStatus maps a buy-level pause flag onto the status machine.
func pausedStatus(current string, paused *bool) (string, bool) {
	if paused == nil {
		return current, false
	}
	if *paused {
		if models.CanTransition(current, adcp.StatusPaused) {
			return adcp.StatusPaused, true
		}
		return current, false
	}
	if current == adcp.StatusPaused && models.CanTransition(current, adcp.StatusActive) {
		return adcp.StatusActive, true
	}
	return current, false
}
