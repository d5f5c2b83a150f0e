package mapping

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vendorsync/internal/model"
)

// Postgres is the remote table backend.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.migrate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sku_mappings (
			vendor_sku TEXT PRIMARY KEY,
			marketplace_item_id TEXT NOT NULL,
			migration_item_id TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS sku_mappings_item_idx ON sku_mappings (marketplace_item_id)`,
		`CREATE TABLE IF NOT EXISTS migration_records (
			migration_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) LookupBySKU(ctx context.Context, vendorSKU string) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx,
		`SELECT marketplace_item_id FROM sku_mappings WHERE vendor_sku=$1`, vendorSKU).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &model.NotFoundError{Kind: "sku mapping", Key: vendorSKU}
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) LookupByItem(ctx context.Context, itemID string) (string, error) {
	var sku string
	err := p.db.QueryRowContext(ctx,
		`SELECT vendor_sku FROM sku_mappings WHERE marketplace_item_id=$1`, itemID).Scan(&sku)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &model.NotFoundError{Kind: "item mapping", Key: itemID}
	}
	if err != nil {
		return "", err
	}
	return sku, nil
}

func (p *Postgres) RecordMigration(ctx context.Context, id, kind string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO migration_records (migration_id, kind) VALUES ($1,$2)
		 ON CONFLICT (migration_id) DO NOTHING`, id, kind)
	return err
}

func (p *Postgres) MigrationApplied(ctx context.Context, id string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM migration_records WHERE migration_id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Upsert writes a mapping row. Used by seeding tooling.
func (p *Postgres) Upsert(ctx context.Context, r Row) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sku_mappings (vendor_sku, marketplace_item_id, migration_item_id)
		 VALUES ($1,$2,NULLIF($3,''))
		 ON CONFLICT (vendor_sku) DO UPDATE
		 SET marketplace_item_id=EXCLUDED.marketplace_item_id,
		     migration_item_id=EXCLUDED.migration_item_id`,
		r.VendorSKU, r.MarketplaceItemID, r.MigrationItemID)
	return err
}

func (p *Postgres) Reload(ctx context.Context) error { return nil }

func (p *Postgres) Close(ctx context.Context) error { return p.db.Close() }
