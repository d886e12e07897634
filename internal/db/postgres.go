package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS tenants (
    tenant_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    subdomain TEXT NOT NULL UNIQUE,
    virtual_host TEXT,
    ad_server TEXT NOT NULL DEFAULT 'mock',
    approval_mode TEXT NOT NULL DEFAULT 'require-human',
    authorized_emails TEXT[],
    authorized_domains TEXT[],
    auto_approve_format_ids TEXT[],
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS principals (
    tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id),
    principal_id TEXT NOT NULL,
    name TEXT NOT NULL,
    access_token TEXT NOT NULL,
    platform_mappings JSONB,
    PRIMARY KEY (tenant_id, principal_id)
);

CREATE TABLE IF NOT EXISTS properties (
    tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id),
    property_id TEXT NOT NULL,
    property_type TEXT NOT NULL,
    name TEXT NOT NULL,
    identifiers JSONB,
    tags TEXT[],
    PRIMARY KEY (tenant_id, property_id)
);

CREATE TABLE IF NOT EXISTS products (
    tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id),
    product_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    format_ids JSONB NOT NULL,
    delivery_type TEXT NOT NULL,
    publisher_properties JSONB,
    pricing_options JSONB NOT NULL,
    delivery_measurement JSONB,
    implementation_config JSONB,
    PRIMARY KEY (tenant_id, product_id)
);

CREATE TABLE IF NOT EXISTS media_buys (
    tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id),
    media_buy_id TEXT NOT NULL,
    principal_id TEXT NOT NULL,
    buyer_ref TEXT NOT NULL,
    po_number TEXT,
    status TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    start_asap BOOLEAN NOT NULL DEFAULT FALSE,
    end_time TIMESTAMPTZ NOT NULL,
    currency TEXT NOT NULL,
    raw_request JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, media_buy_id)
);

CREATE TABLE IF NOT EXISTS media_packages (
    tenant_id TEXT NOT NULL,
    media_buy_id TEXT NOT NULL,
    package_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    buyer_ref TEXT,
    pricing_option_id TEXT,
    budget DOUBLE PRECISION NOT NULL,
    currency TEXT NOT NULL,
    bid_price DOUBLE PRECISION,
    pacing TEXT,
    paused BOOLEAN NOT NULL DEFAULT FALSE,
    package_config JSONB,
    PRIMARY KEY (tenant_id, media_buy_id, package_id),
    FOREIGN KEY (tenant_id, media_buy_id) REFERENCES media_buys(tenant_id, media_buy_id)
);

CREATE TABLE IF NOT EXISTS creatives (
    tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id),
    creative_id TEXT NOT NULL,
    principal_id TEXT NOT NULL,
    name TEXT NOT NULL,
    format_agent_url TEXT NOT NULL,
    format_id TEXT NOT NULL,
    status TEXT NOT NULL,
    assets JSONB,
    tags TEXT[],
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, creative_id)
);

CREATE TABLE IF NOT EXISTS creative_assignments (
    tenant_id TEXT NOT NULL,
    media_buy_id TEXT NOT NULL,
    package_id TEXT NOT NULL,
    creative_id TEXT NOT NULL,
    weight INT NOT NULL DEFAULT 100,
    rotation_type TEXT,
    click_url TEXT,
    start_time TIMESTAMPTZ,
    end_time TIMESTAMPTZ,
    PRIMARY KEY (tenant_id, media_buy_id, package_id, creative_id)
);

CREATE TABLE IF NOT EXISTS workflow_steps (
    step_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id),
    step_type TEXT NOT NULL,
    status TEXT NOT NULL,
    owner_id TEXT,
    principal_id TEXT,
    request_data JSONB,
    response_data JSONB,
    error_message TEXT,
    comment TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    completed_by TEXT,
    object_type TEXT,
    object_id TEXT
);

CREATE TABLE IF NOT EXISTS object_workflow_mappings (
    mapping_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    object_type TEXT NOT NULL,
    object_id TEXT NOT NULL,
    step_id TEXT NOT NULL REFERENCES workflow_steps(step_id),
    action TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_logs (
    log_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    principal_id TEXT,
    object_type TEXT,
    object_id TEXT,
    success BOOLEAN NOT NULL,
    details JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS inventory (
    tenant_id TEXT NOT NULL,
    inventory_type TEXT NOT NULL,
    inventory_id TEXT NOT NULL,
    name TEXT NOT NULL,
    path TEXT[],
    status TEXT NOT NULL,
    metadata JSONB,
    last_synced TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, inventory_type, inventory_id)
);

CREATE TABLE IF NOT EXISTS sync_jobs (
    sync_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    adapter_name TEXT NOT NULL,
    mode TEXT NOT NULL,
    status TEXT NOT NULL,
    summary JSONB,
    error_detail TEXT,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS webhook_delivery_logs (
    delivery_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    media_buy_id TEXT NOT NULL,
    sequence_number INT NOT NULL,
    period_start TIMESTAMPTZ NOT NULL,
    period_end TIMESTAMPTZ NOT NULL,
    success BOOLEAN NOT NULL,
    status_code INT,
    error_detail TEXT,
    sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS push_notification_configs (
    config_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    principal_id TEXT NOT NULL,
    media_buy_id TEXT NOT NULL,
    url TEXT NOT NULL,
    auth_type TEXT,
    auth_token TEXT,
    validation_key TEXT,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Token resolution is on the hot path of every tool call
CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_access_token ON principals (access_token);
CREATE INDEX IF NOT EXISTS idx_tenants_virtual_host ON tenants (virtual_host) WHERE virtual_host IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_media_buys_status ON media_buys (tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_media_buys_buyer_ref ON media_buys (tenant_id, principal_id, buyer_ref);
CREATE INDEX IF NOT EXISTS idx_creatives_principal ON creatives (tenant_id, principal_id);
CREATE INDEX IF NOT EXISTS idx_assignments_media_buy ON creative_assignments (tenant_id, media_buy_id);
CREATE INDEX IF NOT EXISTS idx_workflow_steps_status ON workflow_steps (tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_mappings_object ON object_workflow_mappings (tenant_id, object_type, object_id);
CREATE INDEX IF NOT EXISTS idx_inventory_last_synced ON inventory (tenant_id, inventory_type, last_synced);
CREATE INDEX IF NOT EXISTS idx_webhook_logs_media_buy ON webhook_delivery_logs (tenant_id, media_buy_id, period_start);
CREATE INDEX IF NOT EXISTS idx_push_configs_media_buy ON push_notification_configs (tenant_id, media_buy_id) WHERE active;
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	ctx := context.Background()
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
