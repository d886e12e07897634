package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/openadcp/salesagent/internal/adcp"
)

// ErrUnavailable is returned when the delivery store is not configured.
var ErrUnavailable = fmt.Errorf("delivery analytics unavailable")

// DeliveryService reads and writes per-package delivery metrics.
// Implementations should handle cases where underlying storage is unavailable
// by returning ErrUnavailable.
type DeliveryService interface {
	// RecordDelivery inserts one delivery event row.
	RecordDelivery(ctx context.Context, event DeliveryEvent) error
	// PackageTotals aggregates delivered metrics per package for one media
	// buy over [start, end).
	PackageTotals(ctx context.Context, tenantID, mediaBuyID string, start, end time.Time) (map[string]adcp.DeliveryTotals, error)
}

// DeliveryEvent mirrors a row in the delivery_events table.
type DeliveryEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	TenantID         string    `json:"tenant_id"`
	MediaBuyID       string    `json:"media_buy_id"`
	PackageID        string    `json:"package_id"`
	Impressions      int64     `json:"impressions"`
	Clicks           int64     `json:"clicks"`
	VideoCompletions int64     `json:"video_completions"`
	Spend            float64   `json:"spend"`
}

// Delivery wraps a ClickHouse DB connection.
type Delivery struct {
	DB *sql.DB
}

var _ DeliveryService = (*Delivery)(nil)

// InitClickHouse connects to ClickHouse and ensures the delivery_events table
// exists.
func InitClickHouse(dsn string) (*Delivery, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS delivery_events (
       timestamp         DateTime,
       tenant_id         String,
       media_buy_id      String,
       package_id        String,
       impressions       Int64,
       clicks            Int64,
       video_completions Int64,
       spend             Float64
   ) ENGINE=MergeTree() ORDER BY (tenant_id, media_buy_id, timestamp)`
	if _, err := db.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Delivery{DB: db}, nil
}

// RecordDelivery inserts a single delivery event row.
func (d *Delivery) RecordDelivery(ctx context.Context, event DeliveryEvent) error {
	if d == nil || d.DB == nil {
		return ErrUnavailable
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `INSERT INTO delivery_events (
        timestamp, tenant_id, media_buy_id, package_id, impressions, clicks,
        video_completions, spend) VALUES (?,?,?,?,?,?,?,?)`,
		ts, event.TenantID, event.MediaBuyID, event.PackageID,
		event.Impressions, event.Clicks, event.VideoCompletions, event.Spend)
	if err != nil {
		return fmt.Errorf("insert delivery event: %w", err)
	}
	return nil
}

// PackageTotals aggregates delivered metrics per package for the window.
func (d *Delivery) PackageTotals(ctx context.Context, tenantID, mediaBuyID string, start, end time.Time) (map[string]adcp.DeliveryTotals, error) {
	if d == nil || d.DB == nil {
		return nil, ErrUnavailable
	}
	rows, err := d.DB.QueryContext(ctx, `SELECT package_id,
        sum(impressions), sum(clicks), sum(video_completions), sum(spend)
        FROM delivery_events
        WHERE tenant_id = ? AND media_buy_id = ? AND timestamp >= ? AND timestamp < ?
        GROUP BY package_id`,
		tenantID, mediaBuyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query delivery totals: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	totals := make(map[string]adcp.DeliveryTotals)
	for rows.Next() {
		var packageID string
		var t adcp.DeliveryTotals
		if err := rows.Scan(&packageID, &t.Impressions, &t.Clicks, &t.VideoCompletions, &t.Spend); err != nil {
			return nil, fmt.Errorf("scan delivery totals: %w", err)
		}
		totals[packageID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return totals, nil
}

// Close shuts down the ClickHouse connection.
func (d *Delivery) Close() {
	if d != nil && d.DB != nil {
		if err := d.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
