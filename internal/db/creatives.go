package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
)

// UpsertCreative inserts or replaces a library creative. The returned flag is
// true when the creative did not previously exist.
func (p *Postgres) UpsertCreative(ctx context.Context, rec *models.CreativeRecord) (bool, error) {
	assets, err := json.Marshal(rec.Assets)
	if err != nil {
		return false, fmt.Errorf("marshal assets: %w", err)
	}
	var created bool
	err = p.DB.QueryRowContext(ctx, `INSERT INTO creatives (
        tenant_id, creative_id, principal_id, name, format_agent_url, format_id,
        status, assets, tags)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (tenant_id, creative_id) DO UPDATE SET
        name=EXCLUDED.name, format_agent_url=EXCLUDED.format_agent_url,
        format_id=EXCLUDED.format_id, status=EXCLUDED.status,
        assets=EXCLUDED.assets, tags=EXCLUDED.tags, updated_at=NOW()
        RETURNING (xmax = 0)`,
		rec.TenantID, rec.CreativeID, rec.PrincipalID, rec.Name,
		rec.FormatID.AgentURL, rec.FormatID.ID, rec.Status, assets,
		pq.Array(rec.Tags)).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert creative %s: %w", rec.CreativeID, err)
	}
	return created, nil
}

const creativeColumns = `tenant_id, creative_id, principal_id, name, format_agent_url,
    format_id, status, assets, tags, created_at, updated_at`

func scanCreative(row interface{ Scan(...any) error }) (*models.CreativeRecord, error) {
	var rec models.CreativeRecord
	var assets sql.NullString
	if err := row.Scan(&rec.TenantID, &rec.CreativeID, &rec.PrincipalID, &rec.Name,
		&rec.FormatID.AgentURL, &rec.FormatID.ID, &rec.Status, &assets,
		pq.Array(&rec.Tags), &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if assets.Valid {
		if err := json.Unmarshal([]byte(assets.String), &rec.Assets); err != nil {
			return nil, fmt.Errorf("parse assets: %w", err)
		}
	}
	return &rec, nil
}

// GetCreative retrieves one library creative. Returns (nil, nil) when absent.
func (p *Postgres) GetCreative(ctx context.Context, tenantID, creativeID string) (*models.CreativeRecord, error) {
	rec, err := scanCreative(p.DB.QueryRowContext(ctx,
		`SELECT `+creativeColumns+` FROM creatives WHERE tenant_id=$1 AND creative_id=$2`,
		tenantID, creativeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query creative %s: %w", creativeID, err)
	}
	return rec, nil
}

// UpdateCreativeStatus sets the review status of a library creative.
func (p *Postgres) UpdateCreativeStatus(ctx context.Context, tenantID, creativeID, status string) error {
	_, err := p.DB.ExecContext(ctx,
		`UPDATE creatives SET status=$1, updated_at=NOW() WHERE tenant_id=$2 AND creative_id=$3`,
		status, tenantID, creativeID)
	if err != nil {
		return fmt.Errorf("update creative status %s: %w", creativeID, err)
	}
	return nil
}

// CreativeQuery filters ListCreatives.
type CreativeQuery struct {
	TenantID      string
	PrincipalID   string
	Statuses      []string
	FormatIDs     []adcp.FormatID
	Tags          []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	MediaBuyIDs   []string
	BuyerRefs     []string
	Search        string
	SortField     string
	SortAscending bool
	Limit         int
	Offset        int
}

// ListCreatives pages through the principal's creative library, returning the
// page and the total match count before pagination.
func (p *Postgres) ListCreatives(ctx context.Context, q CreativeQuery) ([]models.CreativeRecord, int, error) {
	where := `WHERE c.tenant_id=$1 AND c.principal_id=$2`
	args := []any{q.TenantID, q.PrincipalID}
	if len(q.Statuses) > 0 {
		args = append(args, pq.Array(q.Statuses))
		where += fmt.Sprintf(` AND c.status = ANY($%d)`, len(args))
	}
	if len(q.Tags) > 0 {
		args = append(args, pq.Array(q.Tags))
		where += fmt.Sprintf(` AND c.tags && $%d`, len(args))
	}
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		where += fmt.Sprintf(` AND c.name ILIKE $%d`, len(args))
	}
	if q.CreatedAfter != nil {
		args = append(args, *q.CreatedAfter)
		where += fmt.Sprintf(` AND c.created_at > $%d`, len(args))
	}
	if q.CreatedBefore != nil {
		args = append(args, *q.CreatedBefore)
		where += fmt.Sprintf(` AND c.created_at < $%d`, len(args))
	}
	if len(q.FormatIDs) > 0 {
		// format ids compare after normalization, so expand to OR pairs
		clause := ""
		for i, fid := range q.FormatIDs {
			n := fid.Normalize()
			args = append(args, n.AgentURL, n.ID)
			if i > 0 {
				clause += " OR "
			}
			clause += fmt.Sprintf(`(rtrim(c.format_agent_url,'/')=$%d AND c.format_id=$%d)`, len(args)-1, len(args))
		}
		where += ` AND (` + clause + `)`
	}
	if len(q.MediaBuyIDs) > 0 {
		args = append(args, pq.Array(q.MediaBuyIDs))
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM creative_assignments a
            WHERE a.tenant_id=c.tenant_id AND a.creative_id=c.creative_id
            AND a.media_buy_id = ANY($%d))`, len(args))
	}
	if len(q.BuyerRefs) > 0 {
		args = append(args, pq.Array(q.BuyerRefs))
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM creative_assignments a
            JOIN media_buys m ON m.tenant_id=a.tenant_id AND m.media_buy_id=a.media_buy_id
            WHERE a.tenant_id=c.tenant_id AND a.creative_id=c.creative_id
            AND m.buyer_ref = ANY($%d))`, len(args))
	}

	var total int
	if err := p.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM creatives c `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count creatives: %w", err)
	}

	orderBy := "c.created_at"
	switch q.SortField {
	case "name":
		orderBy = "c.name"
	case "updated_at":
		orderBy = "c.updated_at"
	}
	direction := "DESC"
	if q.SortAscending {
		direction = "ASC"
	}
	args = append(args, q.Limit, q.Offset)
	query := fmt.Sprintf(`SELECT %s FROM creatives c %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		creativeColumnsAliased, where, orderBy, direction, len(args)-1, len(args))

	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query creatives: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var recs []models.CreativeRecord
	for rows.Next() {
		rec, err := scanCreative(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan creative: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return recs, total, nil
}

const creativeColumnsAliased = `c.tenant_id, c.creative_id, c.principal_id, c.name,
    c.format_agent_url, c.format_id, c.status, c.assets, c.tags, c.created_at, c.updated_at`

// DeleteCreativesExcept removes every creative the principal owns that is not
// on the keep list, along with its package assignments, and returns the
// deleted ids. Backs the delete_missing flag of sync_creatives.
func (p *Postgres) DeleteCreativesExcept(ctx context.Context, tenantID, principalID string, keep []string) ([]string, error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete creatives: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx,
		`DELETE FROM creatives
         WHERE tenant_id=$1 AND principal_id=$2 AND NOT (creative_id = ANY($3))
         RETURNING creative_id`,
		tenantID, principalID, pq.Array(keep))
	if err != nil {
		return nil, fmt.Errorf("delete creatives: %w", err)
	}
	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan deleted creative: %w", err)
		}
		deleted = append(deleted, id)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close deleted creatives: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(deleted) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM creative_assignments WHERE tenant_id=$1 AND creative_id = ANY($2)`,
			tenantID, pq.Array(deleted)); err != nil {
			return nil, fmt.Errorf("delete assignments: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete creatives: %w", err)
	}
	return deleted, nil
}

func insertAssignmentTx(ctx context.Context, tx *sql.Tx, a models.CreativeAssignment) error {
	weight := a.Weight
	if weight == 0 {
		weight = 100
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO creative_assignments (
        tenant_id, media_buy_id, package_id, creative_id, weight, rotation_type,
        click_url, start_time, end_time)
        VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,$9)
        ON CONFLICT (tenant_id, media_buy_id, package_id, creative_id) DO UPDATE SET
        weight=EXCLUDED.weight, rotation_type=EXCLUDED.rotation_type,
        click_url=EXCLUDED.click_url, start_time=EXCLUDED.start_time,
        end_time=EXCLUDED.end_time`,
		a.TenantID, a.MediaBuyID, a.PackageID, a.CreativeID, weight,
		a.RotationType, a.ClickURL, a.StartTime, a.EndTime); err != nil {
		return fmt.Errorf("insert assignment %s → %s/%s: %w", a.CreativeID, a.MediaBuyID, a.PackageID, err)
	}
	return nil
}

// UpsertAssignment links one creative to one package outside a larger
// transaction. Used by sync_creatives, where assignment failures never roll
// back creative upserts.
func (p *Postgres) UpsertAssignment(ctx context.Context, a models.CreativeAssignment) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignment: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := insertAssignmentTx(ctx, tx, a); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment: %w", err)
	}
	return nil
}

// ListAssignments retrieves all creative assignments of a media buy.
func (p *Postgres) ListAssignments(ctx context.Context, tenantID, mediaBuyID string) ([]models.CreativeAssignment, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT tenant_id, media_buy_id, package_id, creative_id, weight,
            rotation_type, click_url, start_time, end_time
         FROM creative_assignments WHERE tenant_id=$1 AND media_buy_id=$2
         ORDER BY package_id, creative_id`,
		tenantID, mediaBuyID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var as []models.CreativeAssignment
	for rows.Next() {
		var a models.CreativeAssignment
		var rotation, clickURL sql.NullString
		if err := rows.Scan(&a.TenantID, &a.MediaBuyID, &a.PackageID, &a.CreativeID,
			&a.Weight, &rotation, &clickURL, &a.StartTime, &a.EndTime); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		if rotation.Valid {
			a.RotationType = rotation.String
		}
		if clickURL.Valid {
			a.ClickURL = clickURL.String
		}
		as = append(as, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return as, nil
}

// CreativeStatusesForMediaBuy returns the review statuses of every creative
// assigned to the buy. An empty result means no creatives are assigned yet.
func (p *Postgres) CreativeStatusesForMediaBuy(ctx context.Context, tenantID, mediaBuyID string) ([]string, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT DISTINCT c.status FROM creative_assignments a
         JOIN creatives c ON c.tenant_id=a.tenant_id AND c.creative_id=a.creative_id
         WHERE a.tenant_id=$1 AND a.media_buy_id=$2`,
		tenantID, mediaBuyID)
	if err != nil {
		return nil, fmt.Errorf("query creative statuses: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var statuses []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return statuses, nil
}
