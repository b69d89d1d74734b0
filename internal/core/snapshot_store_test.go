package core

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"relcore/internal/blob"
	"relcore/pkg/domain"
)

func modifiedFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	o1 := f.object(t, f.tx, order1)
	if err := f.tx.SetRelatedObject(o1, "Customer", f.object(t, f.tx, customer2)); err != nil {
		t.Fatalf("set: %v", err)
	}
	return f
}

func TestBlobSnapshotStore_RoundTrip(t *testing.T) {
	for name, store := range map[string]blob.Store{
		"memory": blob.NewMemory(),
		"s3":     blob.NewMockS3ForTests(),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := modifiedFixture(t)
			snapshots := NewBlobSnapshotStore(store, "snapshots/")
			arena, err := f.tx.Snapshot()
			if err != nil {
				t.Fatalf("snapshot: %v", err)
			}
			for _, snap := range []string{"nightly", "adhoc", "nightly"} {
				if err := snapshots.SaveSnapshot(ctx, snap, arena); err != nil {
					t.Fatalf("save %s: %v", snap, err)
				}
			}
			if _, err := store.Put(ctx, "snapshots/notes.txt", strings.NewReader("x"), blob.PutOptions{}); err != nil {
				t.Fatalf("put foreign blob: %v", err)
			}
			names, err := snapshots.ListSnapshots(ctx)
			if err != nil || !slices.Equal(names, []string{"adhoc", "nightly"}) {
				t.Fatalf("list: %v %v", names, err)
			}

			loaded, err := snapshots.LoadSnapshot(ctx, "nightly")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			restored, err := RestoreTransaction(loaded, f.mapping, f.source)
			if err != nil {
				t.Fatalf("restore: %v", err)
			}
			ro1 := f.object(t, restored, order1)
			if owner, _ := restored.GetRelatedObject(ro1, "Customer"); owner.ID() != customer2 {
				t.Fatalf("expected c2 after restore, got %v", owner)
			}

			if ok, err := snapshots.DeleteSnapshot(ctx, "adhoc"); err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			if ok, err := snapshots.DeleteSnapshot(ctx, "adhoc"); err != nil || ok {
				t.Fatalf("second delete: %v %v", ok, err)
			}
			var notFound domain.SnapshotNotFoundError
			if _, err := snapshots.LoadSnapshot(ctx, "adhoc"); !errors.As(err, &notFound) || notFound.Name != "adhoc" {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestSnapshotStore_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	snapshots := NewBlobSnapshotStore(blob.NewMemory(), "")
	f := newFixture(t)
	arena, err := f.tx.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, name := range []string{"", "  ", "a/b"} {
		if err := snapshots.SaveSnapshot(ctx, name, arena); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("save %q: expected invalid argument, got %v", name, err)
		}
		if _, err := snapshots.LoadSnapshot(ctx, name); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("load %q: expected invalid argument, got %v", name, err)
		}
	}
	if err := snapshots.SaveSnapshot(ctx, "empty", nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected nil arena to be rejected, got %v", err)
	}
}

func TestSnapshotStore_CorruptPayload(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	if _, err := store.Put(ctx, "broken.json", strings.NewReader("{"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err := NewBlobSnapshotStore(store, "").LoadSnapshot(ctx, "broken")
	if err == nil || !strings.Contains(err.Error(), `decode snapshot "broken"`) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestTraceSnapshotStore_RecordsSpans(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(ctx) }()

	snapshots := TraceSnapshotStore(NewBlobSnapshotStore(blob.NewMemory(), ""), provider.Tracer("test"))
	f := newFixture(t)
	arena, err := f.tx.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := snapshots.SaveSnapshot(ctx, "s1", arena); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := snapshots.LoadSnapshot(ctx, "missing"); err == nil {
		t.Fatal("expected load of missing snapshot to fail")
	}
	if _, err := snapshots.ListSnapshots(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := snapshots.DeleteSnapshot(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	spans := recorder.Ended()
	var got []string
	for _, span := range spans {
		got = append(got, span.Name())
	}
	if !slices.Equal(got, []string{"snapshot.save", "snapshot.load", "snapshot.list", "snapshot.delete"}) {
		t.Fatalf("unexpected spans %v", got)
	}
	if spans[0].Status().Code == otelcodes.Error {
		t.Fatal("save span should not carry an error")
	}
	if spans[1].Status().Code != otelcodes.Error {
		t.Fatalf("expected load span to record the error, got %v", spans[1].Status())
	}
	var sawName bool
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "relcore.snapshot.name" && attr.Value.AsString() == "s1" {
			sawName = true
		}
	}
	if !sawName {
		t.Fatalf("expected snapshot name attribute, got %v", spans[0].Attributes())
	}
}
