package mapping

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"vendorsync/internal/model"
)

// fileDoc is the on-disk YAML shape of the file backend.
type fileDoc struct {
	Mappings   []Row `yaml:"mappings"`
	Migrations []struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"migrations"`
}

// File is the local-file backend: the whole table is held in memory and the
// file is rewritten atomically on migration writes.
type File struct {
	path string
	mu   sync.RWMutex
	doc  fileDoc
	mem  *Memory
}

func NewFile(path string) (*File, error) {
	f := &File{path: path}
	if err := f.Reload(context.Background()); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Reload(ctx context.Context) error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return &model.ConfigError{Field: f.path, Detail: err.Error()}
	}
	mem := NewMemory(doc.Mappings)
	for _, m := range doc.Migrations {
		_ = mem.RecordMigration(ctx, m.ID, m.Kind)
	}
	f.mu.Lock()
	f.doc = doc
	f.mem = mem
	f.mu.Unlock()
	return nil
}

func (f *File) LookupBySKU(ctx context.Context, vendorSKU string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mem.LookupBySKU(ctx, vendorSKU)
}

func (f *File) LookupByItem(ctx context.Context, itemID string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mem.LookupByItem(ctx, itemID)
}

func (f *File) MigrationApplied(ctx context.Context, id string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mem.MigrationApplied(ctx, id)
}

func (f *File) RecordMigration(ctx context.Context, id, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if applied, _ := f.mem.MigrationApplied(ctx, id); applied {
		return nil
	}
	_ = f.mem.RecordMigration(ctx, id, kind)
	f.doc.Migrations = append(f.doc.Migrations, struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	}{ID: id, Kind: kind})
	return f.flushLocked()
}

// flushLocked rewrites the file via a temp file + rename so a crash mid-write
// never leaves a truncated table.
func (f *File) flushLocked() error {
	out, err := yaml.Marshal(f.doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".mappings-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *File) Close(ctx context.Context) error { return nil }
