package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
)

// storedPricingOption is the persistence shape of a pricing option. It
// mirrors the wire shape plus is_fixed, which never leaves the server.
type storedPricingOption struct {
	PricingOptionID    string              `json:"pricing_option_id"`
	PricingModel       string              `json:"pricing_model"`
	Currency           string              `json:"currency"`
	IsFixed            bool                `json:"is_fixed"`
	Rate               *float64            `json:"rate,omitempty"`
	PriceGuidance      *adcp.PriceGuidance `json:"price_guidance,omitempty"`
	MinSpendPerPackage *float64            `json:"min_spend_per_package,omitempty"`
}

func encodePricingOptions(opts []adcp.PricingOption) ([]byte, error) {
	stored := make([]storedPricingOption, len(opts))
	for i, o := range opts {
		stored[i] = storedPricingOption{
			PricingOptionID:    o.PricingOptionID,
			PricingModel:       o.PricingModel,
			Currency:           o.Currency,
			IsFixed:            o.IsFixed,
			Rate:               o.Rate,
			PriceGuidance:      o.PriceGuidance,
			MinSpendPerPackage: o.MinSpendPerPackage,
		}
	}
	return json.Marshal(stored)
}

func decodePricingOptions(data []byte) ([]adcp.PricingOption, error) {
	var stored []storedPricingOption
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	opts := make([]adcp.PricingOption, len(stored))
	for i, s := range stored {
		opts[i] = adcp.PricingOption{
			PricingOptionID:    s.PricingOptionID,
			PricingModel:       s.PricingModel,
			Currency:           s.Currency,
			IsFixed:            s.IsFixed,
			Rate:               s.Rate,
			PriceGuidance:      s.PriceGuidance,
			MinSpendPerPackage: s.MinSpendPerPackage,
		}
	}
	return opts, nil
}

const productColumns = `tenant_id, product_id, name, description, format_ids, delivery_type,
    publisher_properties, pricing_options, delivery_measurement, implementation_config`

func scanProduct(row interface{ Scan(...any) error }) (*models.Product, error) {
	var prod models.Product
	var description, props, measurement, implConfig sql.NullString
	var formatIDs, pricingOpts []byte
	if err := row.Scan(&prod.TenantID, &prod.ProductID, &prod.Name, &description,
		&formatIDs, &prod.DeliveryType, &props, &pricingOpts, &measurement, &implConfig); err != nil {
		return nil, err
	}
	if description.Valid {
		prod.Description = description.String
	}
	if err := json.Unmarshal(formatIDs, &prod.FormatIDs); err != nil {
		return nil, fmt.Errorf("parse format_ids: %w", err)
	}
	opts, err := decodePricingOptions(pricingOpts)
	if err != nil {
		return nil, fmt.Errorf("parse pricing_options: %w", err)
	}
	prod.PricingOptions = opts
	if props.Valid {
		prod.PublisherProperties = json.RawMessage(props.String)
	}
	if measurement.Valid {
		prod.DeliveryMeasurement = json.RawMessage(measurement.String)
	}
	if implConfig.Valid {
		if err := json.Unmarshal([]byte(implConfig.String), &prod.ImplementationConfig); err != nil {
			return nil, fmt.Errorf("parse implementation_config: %w", err)
		}
	}
	return &prod, nil
}

// LoadProducts retrieves the full catalog for a tenant.
func (p *Postgres) LoadProducts(ctx context.Context, tenantID string) ([]models.Product, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE tenant_id=$1 ORDER BY product_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var prods []models.Product
	for rows.Next() {
		prod, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		prods = append(prods, *prod)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return prods, nil
}

// GetProduct retrieves one product. Returns (nil, nil) when absent.
func (p *Postgres) GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	prod, err := scanProduct(p.DB.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE tenant_id=$1 AND product_id=$2`,
		tenantID, productID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product %s: %w", productID, err)
	}
	return prod, nil
}

// UpsertProduct inserts or replaces a product.
func (p *Postgres) UpsertProduct(ctx context.Context, prod *models.Product) error {
	formatIDs, err := json.Marshal(prod.FormatIDs)
	if err != nil {
		return fmt.Errorf("marshal format_ids: %w", err)
	}
	pricingOpts, err := encodePricingOptions(prod.PricingOptions)
	if err != nil {
		return fmt.Errorf("marshal pricing_options: %w", err)
	}
	implConfig, err := json.Marshal(prod.ImplementationConfig)
	if err != nil {
		return fmt.Errorf("marshal implementation_config: %w", err)
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO products (
        tenant_id, product_id, name, description, format_ids, delivery_type,
        publisher_properties, pricing_options, delivery_measurement, implementation_config)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (tenant_id, product_id) DO UPDATE SET
        name=EXCLUDED.name, description=EXCLUDED.description, format_ids=EXCLUDED.format_ids,
        delivery_type=EXCLUDED.delivery_type, publisher_properties=EXCLUDED.publisher_properties,
        pricing_options=EXCLUDED.pricing_options, delivery_measurement=EXCLUDED.delivery_measurement,
        implementation_config=EXCLUDED.implementation_config`,
		prod.TenantID, prod.ProductID, prod.Name, prod.Description, formatIDs,
		prod.DeliveryType, nullableJSON(prod.PublisherProperties), pricingOpts,
		nullableJSON(prod.DeliveryMeasurement), implConfig)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", prod.ProductID, err)
	}
	return nil
}

// DeleteProduct removes a product by ID.
func (p *Postgres) DeleteProduct(ctx context.Context, tenantID, productID string) error {
	_, err := p.DB.ExecContext(ctx,
		`DELETE FROM products WHERE tenant_id=$1 AND product_id=$2`, tenantID, productID)
	if err != nil {
		return fmt.Errorf("delete product %s: %w", productID, err)
	}
	return nil
}

// ListProperties retrieves the tenant's authorized publisher properties,
// optionally filtered by tags (any-match).
func (p *Postgres) ListProperties(ctx context.Context, tenantID string, tags []string) ([]adcp.Property, error) {
	query := `SELECT property_type, name, identifiers, tags FROM properties WHERE tenant_id=$1`
	args := []any{tenantID}
	if len(tags) > 0 {
		query += ` AND tags && $2`
		args = append(args, pq.Array(tags))
	}
	rows, err := p.DB.QueryContext(ctx, query+` ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var props []adcp.Property
	for rows.Next() {
		var prop adcp.Property
		var identifiers sql.NullString
		if err := rows.Scan(&prop.PropertyType, &prop.Name, &identifiers, pq.Array(&prop.Tags)); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		if identifiers.Valid {
			prop.Identifiers = json.RawMessage(identifiers.String)
		}
		props = append(props, prop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return props, nil
}

// UpsertProperty inserts or replaces an authorized property.
func (p *Postgres) UpsertProperty(ctx context.Context, tenantID, propertyID string, prop adcp.Property) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO properties (
        tenant_id, property_id, property_type, name, identifiers, tags)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (tenant_id, property_id) DO UPDATE SET
        property_type=EXCLUDED.property_type, name=EXCLUDED.name,
        identifiers=EXCLUDED.identifiers, tags=EXCLUDED.tags`,
		tenantID, propertyID, prop.PropertyType, prop.Name,
		nullableJSON(prop.Identifiers), pq.Array(prop.Tags))
	if err != nil {
		return fmt.Errorf("upsert property %s: %w", propertyID, err)
	}
	return nil
}

// nullableJSON passes empty raw JSON as SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
