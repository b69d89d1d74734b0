package core

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"relcore/internal/config"
	"relcore/internal/infra/persistence/postgres"
	"relcore/internal/infra/persistence/postgres/testutil"
	"relcore/pkg/domain"
)

func TestOpenStorage_Memory(t *testing.T) {
	ctx := context.Background()
	storage, err := OpenStorage(ctx, config.Config{SnapshotDriver: config.DriverMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = storage.Close() }()
	if err := storage.Source.Save(ctx, domain.ChangeSet{Upserts: testData()}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := testMapping(t)
	tx := NewRootTransaction(m, storage.Source)
	o1, err := tx.GetObject(order1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	items, err := tx.GetRelatedObjects(o1, "OrderItems")
	if err != nil || len(items) != 2 {
		t.Fatalf("expected two items from the memory store, got %v (%v)", ids(items), err)
	}
	arena, err := tx.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := storage.Snapshots.SaveSnapshot(ctx, "s1", arena); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	names, err := storage.Snapshots.ListSnapshots(ctx)
	if err != nil || len(names) != 1 || names[0] != "s1" {
		t.Fatalf("list: %v %v", names, err)
	}
}

func TestOpenStorage_SQLitePersistsRecordsAndSnapshots(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{SnapshotDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "relcore.db")}
	storage, err := OpenStorage(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := storage.Source.Save(ctx, domain.ChangeSet{Upserts: testData()}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m := testMapping(t)
	tx := NewRootTransaction(m, storage.Source)
	o1, err := tx.GetObject(order1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	c2, err := tx.GetObject(customer2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := tx.SetRelatedObject(o1, "Customer", c2); err != nil {
		t.Fatalf("set: %v", err)
	}
	arena, err := tx.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := storage.Snapshots.SaveSnapshot(ctx, "pending", arena); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenStorage(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	rec, err := reopened.Source.LoadRecord(order1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.ForeignKey("Customer") != customer2 {
		t.Fatalf("expected committed customer c2, got %v", rec.ForeignKey("Customer"))
	}
	loaded, err := reopened.Snapshots.LoadSnapshot(ctx, "pending")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if _, err := RestoreTransaction(loaded, m, reopened.Source); err != nil {
		t.Fatalf("restore: %v", err)
	}
}

func TestOpenStorage_Postgres(t *testing.T) {
	db, _ := testutil.NewStubDB()
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	ctx := context.Background()
	storage, err := OpenStorage(ctx, config.Config{SnapshotDriver: config.DriverPostgres})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = storage.Close() }()
	f := newFixture(t)
	arena, err := f.tx.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := storage.Snapshots.SaveSnapshot(ctx, "pg", arena); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := storage.Snapshots.LoadSnapshot(ctx, "pg"); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestOpenStorage_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenStorage(ctx, config.Config{SnapshotDriver: "bolt"}); err == nil {
		t.Fatal("expected unknown driver error")
	}
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("boom") })
	defer restore()
	if _, err := OpenStorage(ctx, config.Config{SnapshotDriver: config.DriverPostgres}); err == nil {
		t.Fatal("expected postgres open error")
	}
	var nilStorage *Storage
	if err := nilStorage.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
