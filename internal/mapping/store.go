// Package mapping resolves Vendor SKUs to Marketplace item identifiers and
// tracks applied data/schema migrations. Backends are pluggable behind Store;
// the engine and migration tooling depend only on the interface.
package mapping

import (
	"context"
	"fmt"
)

// Migration kinds.
const (
	KindSchema = "schema"
	KindData   = "data"
)

// Row is one SKU mapping entry. The migration item id, when set, points at
// the item a data migration should move existing subscriptions to.
type Row struct {
	VendorSKU         string `yaml:"vendor_sku"`
	MarketplaceItemID string `yaml:"marketplace_item_id"`
	MigrationItemID   string `yaml:"marketplace_item_id_for_migration,omitempty"`
}

// Store is the mapping backend contract.
type Store interface {
	LookupBySKU(ctx context.Context, vendorSKU string) (string, error)
	LookupByItem(ctx context.Context, itemID string) (string, error)
	// RecordMigration is idempotent: recording the same id twice has no
	// additional effect, so retried migration runs never double-apply.
	RecordMigration(ctx context.Context, id, kind string) error
	MigrationApplied(ctx context.Context, id string) (bool, error)
	// Reload refreshes mappings from the backing source.
	Reload(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend string
	Path    string
	DSN     string
}

// New builds the configured backend. Selection happens once at startup.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(nil), nil
	case "file":
		return NewFile(cfg.Path)
	case "postgres":
		return NewPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown mapping backend %q", cfg.Backend)
	}
}
