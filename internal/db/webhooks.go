package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openadcp/salesagent/internal/models"
)

// HasSuccessfulWebhook reports whether a successful reporting webhook was
// already sent for the buy with the given period start. The scheduler dedups
// on this before sending the daily report.
func (p *Postgres) HasSuccessfulWebhook(ctx context.Context, tenantID, mediaBuyID string, periodStart time.Time) (bool, error) {
	var exists bool
	err := p.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_delivery_logs
         WHERE tenant_id=$1 AND media_buy_id=$2 AND period_start=$3 AND success)`,
		tenantID, mediaBuyID, periodStart).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query webhook dedup: %w", err)
	}
	return exists, nil
}

// NextWebhookSequence returns MAX(sequence_number)+1 for the buy, starting
// at 1.
func (p *Postgres) NextWebhookSequence(ctx context.Context, tenantID, mediaBuyID string) (int, error) {
	var next int
	err := p.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM webhook_delivery_logs
         WHERE tenant_id=$1 AND media_buy_id=$2`,
		tenantID, mediaBuyID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("query webhook sequence: %w", err)
	}
	return next, nil
}

// InsertWebhookLog records one delivery attempt, successful or not.
func (p *Postgres) InsertWebhookLog(ctx context.Context, log *models.WebhookDeliveryLog) error {
	if log.DeliveryID == "" {
		log.DeliveryID = uuid.NewString()
	}
	_, err := p.DB.ExecContext(ctx, `INSERT INTO webhook_delivery_logs (
        delivery_id, tenant_id, media_buy_id, sequence_number, period_start,
        period_end, success, status_code, error_detail, sent_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10)`,
		log.DeliveryID, log.TenantID, log.MediaBuyID, log.SequenceNumber,
		log.PeriodStart, log.PeriodEnd, log.Success, log.StatusCode,
		log.ErrorDetail, log.SentAt)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

// GetPushConfig retrieves the active push notification config for a media
// buy. Returns (nil, nil) when none is registered.
func (p *Postgres) GetPushConfig(ctx context.Context, tenantID, mediaBuyID string) (*models.PushNotificationConfig, error) {
	var cfg models.PushNotificationConfig
	var authType, authToken, validationKey sql.NullString
	err := p.DB.QueryRowContext(ctx,
		`SELECT config_id, tenant_id, principal_id, media_buy_id, url, auth_type,
            auth_token, validation_key, active, created_at
         FROM push_notification_configs
         WHERE tenant_id=$1 AND media_buy_id=$2 AND active
         ORDER BY created_at DESC LIMIT 1`,
		tenantID, mediaBuyID).
		Scan(&cfg.ConfigID, &cfg.TenantID, &cfg.PrincipalID, &cfg.MediaBuyID,
			&cfg.URL, &authType, &authToken, &validationKey, &cfg.Active, &cfg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query push config for %s: %w", mediaBuyID, err)
	}
	cfg.AuthType = authType.String
	cfg.AuthToken = authToken.String
	cfg.ValidationKey = validationKey.String
	return &cfg, nil
}

// UpsertPushConfig registers a durable webhook endpoint for a media buy,
// deactivating any previous registration.
func (p *Postgres) UpsertPushConfig(ctx context.Context, cfg *models.PushNotificationConfig) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin push config: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx,
		`UPDATE push_notification_configs SET active=FALSE
         WHERE tenant_id=$1 AND media_buy_id=$2 AND active`,
		cfg.TenantID, cfg.MediaBuyID); err != nil {
		return fmt.Errorf("deactivate push configs: %w", err)
	}
	if cfg.ConfigID == "" {
		cfg.ConfigID = uuid.NewString()
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO push_notification_configs (
        config_id, tenant_id, principal_id, media_buy_id, url, auth_type,
        auth_token, validation_key, active)
        VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),NULLIF($8,''),TRUE)`,
		cfg.ConfigID, cfg.TenantID, cfg.PrincipalID, cfg.MediaBuyID, cfg.URL,
		cfg.AuthType, cfg.AuthToken, cfg.ValidationKey); err != nil {
		return fmt.Errorf("insert push config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit push config: %w", err)
	}
	return nil
}
