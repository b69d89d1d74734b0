package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"relcore/internal/blob/core"
)

func TestStore_MissingKeys(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found from get, got %v", err)
	}
	if ok, err := store.Delete(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected delete false")
	}
}

func TestStore_PutGetListDelete(t *testing.T) {
	store := New()
	ctx := context.Background()
	meta := map[string]string{"a": "1"}
	if _, err := store.Put(ctx, "snapshots/k", bytes.NewReader([]byte("v")), core.PutOptions{ContentType: "application/json", Metadata: meta}); err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["a"] = "changed"
	if _, err := store.Put(ctx, "snapshots/k", bytes.NewReader([]byte("v2")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected duplicate put to fail, got %v", err)
	}
	info, rc, err := store.Get(ctx, "snapshots/k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "v" || info.Size != 1 || info.ContentType != "application/json" {
		t.Fatalf("unexpected blob %q %+v", body, info)
	}
	if info.Metadata["a"] != "1" {
		t.Fatal("stored metadata must be a copy")
	}
	if _, err := store.Put(ctx, "other", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if list, err := store.List(ctx, ""); err != nil || len(list) != 2 || list[0].Key != "other" {
		t.Fatalf("list all: %v %+v", err, list)
	}
	if list, err := store.List(ctx, "snapshots/"); err != nil || len(list) != 1 {
		t.Fatalf("list prefix: %v %d", err, len(list))
	}
	if ok, err := store.Delete(ctx, "snapshots/k"); err != nil || !ok {
		t.Fatalf("expected delete true")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("fail") }

func TestStore_PutReadErrorAndDriver(t *testing.T) {
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory driver")
	}
	if _, err := store.Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(cancelled, "k", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
