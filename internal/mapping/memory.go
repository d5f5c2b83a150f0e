package mapping

import (
	"context"
	"sync"

	"vendorsync/internal/model"
)

// Memory is the in-memory backend, used when no file or database is
// configured and as the test backend.
type Memory struct {
	mu         sync.RWMutex
	bySKU      map[string]string
	byItem     map[string]string
	migrations map[string]string // id -> kind
}

func NewMemory(rows []Row) *Memory {
	m := &Memory{
		bySKU:      map[string]string{},
		byItem:     map[string]string{},
		migrations: map[string]string{},
	}
	m.load(rows)
	return m
}

func (m *Memory) load(rows []Row) {
	m.mu.Lock()
	for _, r := range rows {
		m.bySKU[r.VendorSKU] = r.MarketplaceItemID
		m.byItem[r.MarketplaceItemID] = r.VendorSKU
	}
	m.mu.Unlock()
}

// Put adds or replaces a mapping. Used by seeding and tests.
func (m *Memory) Put(r Row) {
	m.mu.Lock()
	m.bySKU[r.VendorSKU] = r.MarketplaceItemID
	m.byItem[r.MarketplaceItemID] = r.VendorSKU
	m.mu.Unlock()
}

func (m *Memory) LookupBySKU(ctx context.Context, vendorSKU string) (string, error) {
	m.mu.RLock()
	id, ok := m.bySKU[vendorSKU]
	m.mu.RUnlock()
	if !ok {
		return "", &model.NotFoundError{Kind: "sku mapping", Key: vendorSKU}
	}
	return id, nil
}

func (m *Memory) LookupByItem(ctx context.Context, itemID string) (string, error) {
	m.mu.RLock()
	sku, ok := m.byItem[itemID]
	m.mu.RUnlock()
	if !ok {
		return "", &model.NotFoundError{Kind: "item mapping", Key: itemID}
	}
	return sku, nil
}

func (m *Memory) RecordMigration(ctx context.Context, id, kind string) error {
	m.mu.Lock()
	if _, ok := m.migrations[id]; !ok {
		m.migrations[id] = kind
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) MigrationApplied(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	_, ok := m.migrations[id]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Memory) Reload(ctx context.Context) error { return nil }

func (m *Memory) Close(ctx context.Context) error { return nil }
