package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openadcp/salesagent/internal/models"
)

// packageConfigJSON builds the backward-compatible JSON projection of a
// package's typed pricing fields. Written in the same transaction as the
// typed columns so the two views never diverge.
func packageConfigJSON(pkg models.MediaPackage) ([]byte, error) {
	cfg := map[string]any{
		"product_id": pkg.ProductID,
		"budget":     pkg.Budget,
		"currency":   pkg.Currency,
	}
	if pkg.PricingOptionID != "" {
		cfg["pricing_option_id"] = pkg.PricingOptionID
	}
	if pkg.BidPrice != nil {
		cfg["bid_price"] = *pkg.BidPrice
	}
	if pkg.Pacing != "" {
		cfg["pacing"] = pkg.Pacing
	}
	return json.Marshal(cfg)
}

// CreateMediaBuyTx persists a media buy, its packages, and the initial
// creative assignments in one transaction. Nothing is written unless every
// row commits.
func (p *Postgres) CreateMediaBuyTx(ctx context.Context, buy *models.MediaBuy,
	packages []models.MediaPackage, assignments []models.CreativeAssignment) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create media buy: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO media_buys (
        tenant_id, media_buy_id, principal_id, buyer_ref, po_number, status,
        start_time, start_asap, end_time, currency, raw_request)
        VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11)`,
		buy.TenantID, buy.MediaBuyID, buy.PrincipalID, buy.BuyerRef, buy.PONumber,
		buy.Status, buy.StartTime, buy.StartASAP, buy.EndTime, buy.Currency,
		nullableJSON(buy.RawRequest)); err != nil {
		return fmt.Errorf("insert media buy %s: %w", buy.MediaBuyID, err)
	}

	for _, pkg := range packages {
		cfg, err := packageConfigJSON(pkg)
		if err != nil {
			return fmt.Errorf("marshal package_config: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO media_packages (
            tenant_id, media_buy_id, package_id, product_id, buyer_ref,
            pricing_option_id, budget, currency, bid_price, pacing, paused, package_config)
            VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9,NULLIF($10,''),$11,$12)`,
			pkg.TenantID, pkg.MediaBuyID, pkg.PackageID, pkg.ProductID, pkg.BuyerRef,
			pkg.PricingOptionID, pkg.Budget, pkg.Currency, pkg.BidPrice, pkg.Pacing,
			pkg.Paused, cfg); err != nil {
			return fmt.Errorf("insert package %s: %w", pkg.PackageID, err)
		}
	}

	for _, a := range assignments {
		if err := insertAssignmentTx(ctx, tx, a); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create media buy: %w", err)
	}
	return nil
}

const mediaBuyColumns = `tenant_id, media_buy_id, principal_id, buyer_ref, po_number, status,
    start_time, start_asap, end_time, currency, raw_request, created_at, updated_at`

func scanMediaBuy(row interface{ Scan(...any) error }) (*models.MediaBuy, error) {
	var buy models.MediaBuy
	var poNumber, rawRequest sql.NullString
	if err := row.Scan(&buy.TenantID, &buy.MediaBuyID, &buy.PrincipalID, &buy.BuyerRef,
		&poNumber, &buy.Status, &buy.StartTime, &buy.StartASAP, &buy.EndTime,
		&buy.Currency, &rawRequest, &buy.CreatedAt, &buy.UpdatedAt); err != nil {
		return nil, err
	}
	if poNumber.Valid {
		buy.PONumber = poNumber.String
	}
	if rawRequest.Valid {
		buy.RawRequest = json.RawMessage(rawRequest.String)
	}
	return &buy, nil
}

// GetMediaBuy retrieves one media buy. Returns (nil, nil) when absent.
func (p *Postgres) GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error) {
	buy, err := scanMediaBuy(p.DB.QueryRowContext(ctx,
		`SELECT `+mediaBuyColumns+` FROM media_buys WHERE tenant_id=$1 AND media_buy_id=$2`,
		tenantID, mediaBuyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query media buy %s: %w", mediaBuyID, err)
	}
	return buy, nil
}

// GetMediaBuyByBuyerRef retrieves a media buy by the principal's own
// reference. Returns (nil, nil) when absent.
func (p *Postgres) GetMediaBuyByBuyerRef(ctx context.Context, tenantID, principalID, buyerRef string) (*models.MediaBuy, error) {
	buy, err := scanMediaBuy(p.DB.QueryRowContext(ctx,
		`SELECT `+mediaBuyColumns+` FROM media_buys
         WHERE tenant_id=$1 AND principal_id=$2 AND buyer_ref=$3
         ORDER BY created_at DESC LIMIT 1`,
		tenantID, principalID, buyerRef))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query media buy by buyer_ref %s: %w", buyerRef, err)
	}
	return buy, nil
}

// ListMediaBuysByStatus retrieves all buys across tenants in any of the given
// statuses. Used by the status and webhook schedulers.
func (p *Postgres) ListMediaBuysByStatus(ctx context.Context, statuses ...string) ([]models.MediaBuy, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT ` + mediaBuyColumns + ` FROM media_buys WHERE status = ANY($1) ORDER BY tenant_id, media_buy_id`
	rows, err := p.DB.QueryContext(ctx, query, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("query media buys by status: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var buys []models.MediaBuy
	for rows.Next() {
		buy, err := scanMediaBuy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media buy: %w", err)
		}
		buys = append(buys, *buy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return buys, nil
}

// MediaBuyQuery filters ListMediaBuys for the delivery tool.
type MediaBuyQuery struct {
	TenantID    string
	PrincipalID string
	MediaBuyIDs []string
	BuyerRefs   []string
	Statuses    []string
}

// ListMediaBuys retrieves the principal's buys matching the query filters.
func (p *Postgres) ListMediaBuys(ctx context.Context, q MediaBuyQuery) ([]models.MediaBuy, error) {
	query := `SELECT ` + mediaBuyColumns + ` FROM media_buys WHERE tenant_id=$1 AND principal_id=$2`
	args := []any{q.TenantID, q.PrincipalID}
	if len(q.MediaBuyIDs) > 0 {
		args = append(args, pq.Array(q.MediaBuyIDs))
		query += fmt.Sprintf(` AND media_buy_id = ANY($%d)`, len(args))
	}
	if len(q.BuyerRefs) > 0 {
		args = append(args, pq.Array(q.BuyerRefs))
		query += fmt.Sprintf(` AND buyer_ref = ANY($%d)`, len(args))
	}
	if len(q.Statuses) > 0 {
		args = append(args, pq.Array(q.Statuses))
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	rows, err := p.DB.QueryContext(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("query media buys: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var buys []models.MediaBuy
	for rows.Next() {
		buy, err := scanMediaBuy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media buy: %w", err)
		}
		buys = append(buys, *buy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return buys, nil
}

// StatusChange is one media buy transition to apply.
type StatusChange struct {
	TenantID   string
	MediaBuyID string
	NewStatus  string
}

// ApplyStatusChanges updates a batch of media buy statuses in a single
// transaction. An empty batch is a no-op.
func (p *Postgres) ApplyStatusChanges(ctx context.Context, changes []StatusChange) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status changes: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, c := range changes {
		if _, err := tx.ExecContext(ctx,
			`UPDATE media_buys SET status=$1, updated_at=NOW() WHERE tenant_id=$2 AND media_buy_id=$3`,
			c.NewStatus, c.TenantID, c.MediaBuyID); err != nil {
			return fmt.Errorf("update status for %s: %w", c.MediaBuyID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status changes: %w", err)
	}
	return nil
}

// UpdateMediaBuyStatus updates a single buy's status.
func (p *Postgres) UpdateMediaBuyStatus(ctx context.Context, tenantID, mediaBuyID, status string) error {
	return p.ApplyStatusChanges(ctx, []StatusChange{{TenantID: tenantID, MediaBuyID: mediaBuyID, NewStatus: status}})
}

// PackagePatch carries the mutable fields of one package update.
type PackagePatch struct {
	PackageID string
	Paused    *bool
	Budget    *float64
	BidPrice  *float64
}

// MediaBuyPatch carries a whole update_media_buy mutation. Applied
// all-or-nothing.
type MediaBuyPatch struct {
	Paused    *bool
	StartTime *time.Time
	EndTime   *time.Time
	Packages  []PackagePatch
}

// UpdateMediaBuyTx applies a buy-level and package-level mutation in one
// transaction. A patch naming an unknown package fails the whole update.
func (p *Postgres) UpdateMediaBuyTx(ctx context.Context, tenantID, mediaBuyID string, patch MediaBuyPatch) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update media buy: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if patch.StartTime != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE media_buys SET start_time=$1, start_asap=FALSE, updated_at=NOW()
             WHERE tenant_id=$2 AND media_buy_id=$3`,
			*patch.StartTime, tenantID, mediaBuyID); err != nil {
			return fmt.Errorf("update start_time: %w", err)
		}
	}
	if patch.EndTime != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE media_buys SET end_time=$1, updated_at=NOW()
             WHERE tenant_id=$2 AND media_buy_id=$3`,
			*patch.EndTime, tenantID, mediaBuyID); err != nil {
			return fmt.Errorf("update end_time: %w", err)
		}
	}
	if patch.Paused != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE media_packages SET paused=$1 WHERE tenant_id=$2 AND media_buy_id=$3`,
			*patch.Paused, tenantID, mediaBuyID); err != nil {
			return fmt.Errorf("update buy-level paused: %w", err)
		}
	}

	for _, pp := range patch.Packages {
		if pp.Budget != nil {
			if err := patchPackageColumn(ctx, tx, tenantID, mediaBuyID, pp.PackageID, "budget", *pp.Budget); err != nil {
				return err
			}
		}
		if pp.BidPrice != nil {
			if err := patchPackageColumn(ctx, tx, tenantID, mediaBuyID, pp.PackageID, "bid_price", *pp.BidPrice); err != nil {
				return err
			}
		}
		if pp.Paused != nil {
			if err := patchPackageColumn(ctx, tx, tenantID, mediaBuyID, pp.PackageID, "paused", *pp.Paused); err != nil {
				return err
			}
		}
		// Keep the JSON projection in step with the typed columns.
		if _, err := tx.ExecContext(ctx,
			`UPDATE media_packages SET package_config = package_config
                || jsonb_build_object('budget', budget)
                || CASE WHEN bid_price IS NULL THEN '{}'::jsonb ELSE jsonb_build_object('bid_price', bid_price) END
             WHERE tenant_id=$1 AND media_buy_id=$2 AND package_id=$3`,
			tenantID, mediaBuyID, pp.PackageID); err != nil {
			return fmt.Errorf("refresh package_config for %s: %w", pp.PackageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update media buy: %w", err)
	}
	return nil
}

func patchPackageColumn(ctx context.Context, tx *sql.Tx, tenantID, mediaBuyID, packageID, column string, value any) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE media_packages SET `+column+`=$1 WHERE tenant_id=$2 AND media_buy_id=$3 AND package_id=$4`,
		value, tenantID, mediaBuyID, packageID)
	if err != nil {
		return fmt.Errorf("update package %s %s: %w", packageID, column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("package %s not found in media buy %s", packageID, mediaBuyID)
	}
	return nil
}

// LoadPackages retrieves all packages of a media buy.
func (p *Postgres) LoadPackages(ctx context.Context, tenantID, mediaBuyID string) ([]models.MediaPackage, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT tenant_id, media_buy_id, package_id, product_id, buyer_ref, pricing_option_id,
            budget, currency, bid_price, pacing, paused, package_config
         FROM media_packages WHERE tenant_id=$1 AND media_buy_id=$2 ORDER BY package_id`,
		tenantID, mediaBuyID)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var pkgs []models.MediaPackage
	for rows.Next() {
		var pkg models.MediaPackage
		var buyerRef, pricingOptID, pacing, cfg sql.NullString
		if err := rows.Scan(&pkg.TenantID, &pkg.MediaBuyID, &pkg.PackageID, &pkg.ProductID,
			&buyerRef, &pricingOptID, &pkg.Budget, &pkg.Currency, &pkg.BidPrice,
			&pacing, &pkg.Paused, &cfg); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		if buyerRef.Valid {
			pkg.BuyerRef = buyerRef.String
		}
		if pricingOptID.Valid {
			pkg.PricingOptionID = pricingOptID.String
		}
		if pacing.Valid {
			pkg.Pacing = pacing.String
		}
		if cfg.Valid {
			pkg.PackageConfig = json.RawMessage(cfg.String)
		}
		pkgs = append(pkgs, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return pkgs, nil
}
