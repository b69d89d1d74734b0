package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relcore/internal/blob"
	"relcore/internal/flatten"
	"relcore/pkg/domain"
)

// SnapshotStore keeps flattened transactions under caller-chosen names.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, name string, arena *flatten.Arena) error
	LoadSnapshot(ctx context.Context, name string) (*flatten.Arena, error)
	ListSnapshots(ctx context.Context) ([]string, error)
	DeleteSnapshot(ctx context.Context, name string) (bool, error)
}

// PayloadStore stores encoded snapshots. The sqlite and postgres stores
// implement it directly; blob stores are adapted by NewBlobSnapshotStore.
type PayloadStore interface {
	PutSnapshot(ctx context.Context, name string, payload []byte) error
	GetSnapshot(ctx context.Context, name string) ([]byte, error)
	ListSnapshots(ctx context.Context) ([]string, error)
	DeleteSnapshot(ctx context.Context, name string) (bool, error)
}

// NewSnapshotStore encodes arenas as JSON into payloads.
func NewSnapshotStore(payloads PayloadStore) SnapshotStore {
	return &jsonSnapshotStore{payloads: payloads}
}

type jsonSnapshotStore struct {
	payloads PayloadStore
}

func (s *jsonSnapshotStore) SaveSnapshot(ctx context.Context, name string, arena *flatten.Arena) error {
	if err := validateSnapshotName(name); err != nil {
		return err
	}
	if arena == nil {
		return fmt.Errorf("%w: nil arena for snapshot %q", domain.ErrInvalidArgument, name)
	}
	payload, err := json.Marshal(arena)
	if err != nil {
		return fmt.Errorf("encode snapshot %q: %w", name, err)
	}
	return s.payloads.PutSnapshot(ctx, name, payload)
}

func (s *jsonSnapshotStore) LoadSnapshot(ctx context.Context, name string) (*flatten.Arena, error) {
	if err := validateSnapshotName(name); err != nil {
		return nil, err
	}
	payload, err := s.payloads.GetSnapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	var arena flatten.Arena
	if err := json.Unmarshal(payload, &arena); err != nil {
		return nil, fmt.Errorf("decode snapshot %q: %w", name, err)
	}
	return &arena, nil
}

func (s *jsonSnapshotStore) ListSnapshots(ctx context.Context) ([]string, error) {
	return s.payloads.ListSnapshots(ctx)
}

func (s *jsonSnapshotStore) DeleteSnapshot(ctx context.Context, name string) (bool, error) {
	if err := validateSnapshotName(name); err != nil {
		return false, err
	}
	return s.payloads.DeleteSnapshot(ctx, name)
}

func validateSnapshotName(name string) error {
	if strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: snapshot name %q", domain.ErrInvalidArgument, name)
	}
	return nil
}

const snapshotSuffix = ".json"

// NewBlobSnapshotStore keeps snapshots as JSON blobs named prefix+name+".json".
func NewBlobSnapshotStore(store blob.Store, prefix string) SnapshotStore {
	return NewSnapshotStore(&blobPayloads{store: store, prefix: prefix})
}

type blobPayloads struct {
	store  blob.Store
	prefix string
}

func (b *blobPayloads) key(name string) string { return b.prefix + name + snapshotSuffix }

// PutSnapshot replaces the blob. Blob writes are create-only, so an existing
// snapshot is deleted first.
func (b *blobPayloads) PutSnapshot(ctx context.Context, name string, payload []byte) error {
	key := b.key(name)
	if _, err := b.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("replace snapshot %q: %w", name, err)
	}
	_, err := b.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"snapshot": name},
	})
	if err != nil {
		return fmt.Errorf("put snapshot %q: %w", name, err)
	}
	return nil
}

func (b *blobPayloads) GetSnapshot(ctx context.Context, name string) ([]byte, error) {
	_, rc, err := b.store.Get(ctx, b.key(name))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, domain.SnapshotNotFoundError{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %q: %w", name, err)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func (b *blobPayloads) ListSnapshots(ctx context.Context) ([]string, error) {
	infos, err := b.store.List(ctx, b.prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		name, ok := strings.CutSuffix(strings.TrimPrefix(info.Key, b.prefix), snapshotSuffix)
		if !ok || name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *blobPayloads) DeleteSnapshot(ctx context.Context, name string) (bool, error) {
	return b.store.Delete(ctx, b.key(name))
}

const tracerName = "relcore/internal/core"

// TraceSnapshotStore wraps next so that every operation runs in a span of
// tracer. A nil tracer uses the global provider.
func TraceSnapshotStore(next SnapshotStore, tracer trace.Tracer) SnapshotStore {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &tracedSnapshotStore{next: next, tracer: tracer}
}

type tracedSnapshotStore struct {
	next   SnapshotStore
	tracer trace.Tracer
}

func (s *tracedSnapshotStore) start(ctx context.Context, op, name string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if name != "" {
		attrs = append(attrs, attribute.String("relcore.snapshot.name", name))
	}
	return s.tracer.Start(ctx, "snapshot."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *tracedSnapshotStore) SaveSnapshot(ctx context.Context, name string, arena *flatten.Arena) (err error) {
	ctx, span := s.start(ctx, "save", name)
	defer func() { endSpan(span, err) }()
	if arena != nil {
		span.SetAttributes(attribute.Int("relcore.snapshot.records", arena.Len()))
	}
	return s.next.SaveSnapshot(ctx, name, arena)
}

func (s *tracedSnapshotStore) LoadSnapshot(ctx context.Context, name string) (arena *flatten.Arena, err error) {
	ctx, span := s.start(ctx, "load", name)
	defer func() { endSpan(span, err) }()
	return s.next.LoadSnapshot(ctx, name)
}

func (s *tracedSnapshotStore) ListSnapshots(ctx context.Context) (names []string, err error) {
	ctx, span := s.start(ctx, "list", "")
	defer func() { endSpan(span, err) }()
	return s.next.ListSnapshots(ctx)
}

func (s *tracedSnapshotStore) DeleteSnapshot(ctx context.Context, name string) (deleted bool, err error) {
	ctx, span := s.start(ctx, "delete", name)
	defer func() { endSpan(span, err) }()
	return s.next.DeleteSnapshot(ctx, name)
}
