package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adapters"
	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/analytics"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/models"
)

// GetMediaBuyDelivery reports delivery for the principal's buys. The
// reporting clock is UTC throughout; date-only bounds snap to UTC midnight.
func (e *Engine) GetMediaBuyDelivery(ctx context.Context, rc *auth.RequestContext, req *adcp.GetMediaBuyDeliveryRequest) (*adcp.GetMediaBuyDeliveryResponse, *adcp.Error) {
	if aerr := req.Validate(); aerr != nil {
		return nil, aerr
	}

	q := db.MediaBuyQuery{
		TenantID:    rc.Tenant.TenantID,
		PrincipalID: rc.PrincipalID(),
		MediaBuyIDs: req.MediaBuyIDs,
		BuyerRefs:   req.BuyerRefs,
		Statuses:    req.StatusFilter,
	}
	// Without any selector the report covers currently delivering buys.
	if len(q.MediaBuyIDs) == 0 && len(q.BuyerRefs) == 0 && len(q.Statuses) == 0 {
		q.Statuses = []string{adcp.StatusActive}
	}
	buys, err := e.Store.ListMediaBuys(ctx, q)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "list media buys", err)
	}

	now := e.now()
	periodStart, periodEnd, aerr := reportingWindow(req.StartDate, req.EndDate, now)
	if aerr != nil {
		return nil, aerr
	}

	resp := &adcp.GetMediaBuyDeliveryResponse{Deliveries: []adcp.MediaBuyDelivery{}}
	var aggregated adcp.DeliveryTotals
	for i := range buys {
		buy := &buys[i]
		if resp.Currency == "" {
			resp.Currency = buy.Currency
		}
		start, end := clampWindow(buy, periodStart, periodEnd, now)
		delivery, err := e.DeliveryForBuy(ctx, rc.Tenant, buy, start, end)
		if err != nil {
			resp.Errors = append(resp.Errors, *adcp.WrapError(adcp.CodeAdapter,
				"delivery unavailable for "+buy.MediaBuyID, err))
			continue
		}
		aggregated.Impressions += delivery.Totals.Impressions
		aggregated.Clicks += delivery.Totals.Clicks
		aggregated.VideoCompletions += delivery.Totals.VideoCompletions
		aggregated.Spend += delivery.Totals.Spend
		resp.Deliveries = append(resp.Deliveries, *delivery)
	}
	resp.AggregatedTotals = &aggregated
	resp.ReportingPeriod = &adcp.ReportingPeriod{
		Start: adcp.AwareTime{Time: periodStart},
		End:   adcp.AwareTime{Time: periodEnd},
	}
	return resp, nil
}

// DeliveryForBuy builds the delivery slice for one buy over [start, end).
// The analytics store is authoritative; when it is unavailable the report
// falls back to the ad server's own numbers. Shared with the webhook
// scheduler.
func (e *Engine) DeliveryForBuy(ctx context.Context, tenant *models.Tenant, buy *models.MediaBuy, start, end time.Time) (*adcp.MediaBuyDelivery, error) {
	totals, err := e.packageTotals(ctx, tenant, buy, start, end)
	if err != nil {
		return nil, err
	}

	delivery := &adcp.MediaBuyDelivery{
		MediaBuyID: buy.MediaBuyID,
		BuyerRef:   buy.BuyerRef,
		Status:     buy.Status,
	}
	packages, err := e.Store.LoadPackages(ctx, tenant.TenantID, buy.MediaBuyID)
	if err != nil {
		return nil, err
	}
	for _, pkg := range packages {
		t := totals[pkg.PackageID]
		delivery.ByPackage = append(delivery.ByPackage, adcp.PackageDelivery{
			PackageID: pkg.PackageID,
			Totals:    t,
		})
		delivery.Totals.Impressions += t.Impressions
		delivery.Totals.Clicks += t.Clicks
		delivery.Totals.VideoCompletions += t.VideoCompletions
		delivery.Totals.Spend += t.Spend
	}
	return delivery, nil
}

func (e *Engine) packageTotals(ctx context.Context, tenant *models.Tenant, buy *models.MediaBuy, start, end time.Time) (map[string]adcp.DeliveryTotals, error) {
	if e.Delivery != nil {
		totals, err := e.Delivery.PackageTotals(ctx, tenant.TenantID, buy.MediaBuyID, start, end)
		if err == nil {
			return totals, nil
		}
		if !errors.Is(err, analytics.ErrUnavailable) {
			return nil, err
		}
		zap.L().Debug("delivery store unavailable, falling back to adapter",
			zap.String("media_buy_id", buy.MediaBuyID))
	}

	adapter, aerr := e.adapterFor(tenant)
	if aerr != nil {
		return nil, aerr
	}
	var totals map[string]adcp.DeliveryTotals
	if aerr := e.execute(ctx, adapter.Name(), "get_media_buy_delivery", func(callCtx context.Context) error {
		t, err := adapter.GetMediaBuyDelivery(callCtx, &adapters.DeliveryRequest{
			Tenant:        tenant,
			MediaBuyID:    buy.MediaBuyID,
			PlatformBuyID: buy.MediaBuyID,
			Start:         start,
			End:           end,
		})
		if err != nil {
			return err
		}
		totals = t
		return nil
	}); aerr != nil {
		return nil, aerr
	}
	return totals, nil
}

// reportingWindow parses the optional date bounds. Dates are whole UTC days;
// an absent start falls back to the epoch and an absent end to now.
func reportingWindow(startDate, endDate string, now time.Time) (time.Time, time.Time, *adcp.Error) {
	start := time.Time{}
	end := now
	if startDate != "" {
		t, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return start, end, adcp.Errorf(adcp.CodeValidation, "start_date %q must be YYYY-MM-DD", startDate)
		}
		start = t.UTC()
	}
	if endDate != "" {
		t, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return start, end, adcp.Errorf(adcp.CodeValidation, "end_date %q must be YYYY-MM-DD", endDate)
		}
		// End date is inclusive on the wire; the query window is half-open.
		end = t.UTC().Add(24 * time.Hour)
	}
	if !start.IsZero() && !end.After(start) {
		return start, end, adcp.Errorf(adcp.CodeValidation, "end_date must not precede start_date")
	}
	return start, end, nil
}

// clampWindow intersects the requested period with the buy's own flight
// window.
func clampWindow(buy *models.MediaBuy, start, end, now time.Time) (time.Time, time.Time) {
	if buy.StartTime.After(start) {
		start = buy.StartTime
	}
	if !buy.EndTime.IsZero() && buy.EndTime.Before(end) {
		end = buy.EndTime
	}
	if end.After(now) {
		end = now
	}
	return start, end
}
