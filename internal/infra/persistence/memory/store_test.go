package memory

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"relcore/pkg/domain"
)

func orderMapping(t *testing.T) *domain.MappingConfiguration {
	t.Helper()
	m := domain.NewMappingConfiguration()
	if _, err := m.AddClass("Customer", "Name"); err != nil {
		t.Fatalf("add class: %v", err)
	}
	if _, err := m.AddClass("Order", "Number", "Total", "Paid"); err != nil {
		t.Fatalf("add class: %v", err)
	}
	if _, err := m.AddOneToMany("Customer_Orders", "Customer", "Orders", "Order", "Customer", false); err != nil {
		t.Fatalf("add relation: %v", err)
	}
	return m
}

var (
	c1 = domain.ObjectID{ClassID: "Customer", Value: "c1"}
	c2 = domain.ObjectID{ClassID: "Customer", Value: "c2"}
	o1 = domain.ObjectID{ClassID: "Order", Value: "o1"}
	o2 = domain.ObjectID{ClassID: "Order", Value: "o2"}
	o3 = domain.ObjectID{ClassID: "Order", Value: "o3"}
)

func seededStore() *Store {
	return NewStore(
		domain.Record{ID: c1, Values: map[string]any{"Name": "Ada"}},
		domain.Record{ID: c2, Values: map[string]any{"Name": "Grace"}},
		domain.Record{ID: o2, Values: map[string]any{"Number": int64(2), "Customer": c1}},
		domain.Record{ID: o1, Values: map[string]any{"Number": int64(1), "Customer": c1}},
		domain.Record{ID: o3, Values: map[string]any{"Number": int64(3), "Customer": domain.ObjectID{}}},
	)
}

func TestStoreLoads(t *testing.T) {
	store := seededStore()
	m := orderMapping(t)
	rec, err := store.LoadRecord(o1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rec.Values["Number"] = int64(99)
	again, _ := store.LoadRecord(o1)
	if again.Values["Number"] != int64(1) {
		t.Fatal("loaded records must be copies")
	}
	if _, err := store.LoadRecord(domain.ObjectID{ClassID: "Order", Value: "missing"}); !errors.As(err, new(domain.ObjectNotFoundError)) {
		t.Fatalf("expected not found, got %v", err)
	}

	orders, _ := m.EndPointDefinition("Customer.Orders")
	ids, err := store.LoadRelatedObjectIDs(c1, orders)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if !slices.Equal(ids, []domain.ObjectID{o1, o2}) {
		t.Fatalf("unexpected related ids %v", ids)
	}
	if ids, _ := store.LoadRelatedObjectIDs(c2, orders); len(ids) != 0 {
		t.Fatalf("expected no orders for c2, got %v", ids)
	}
	real, _ := m.EndPointDefinition("Order.Customer")
	if _, err := store.LoadRelatedObjectIDs(o1, real); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected real end-point to be rejected, got %v", err)
	}
}

func TestStoreSaveIsAtomic(t *testing.T) {
	store := seededStore()
	ctx := context.Background()
	err := store.Save(ctx, domain.ChangeSet{
		Upserts: []domain.Record{{ID: o1, Values: map[string]any{"Number": int64(10), "Customer": c2}}},
		Deletes: []domain.ObjectID{{ClassID: "Order", Value: "missing"}},
	})
	if !errors.As(err, new(domain.ObjectNotFoundError)) {
		t.Fatalf("expected not found, got %v", err)
	}
	if rec, _ := store.LoadRecord(o1); rec.ForeignKey("Customer") != c1 {
		t.Fatal("failed save must not change the state")
	}
	if err := store.Save(ctx, domain.ChangeSet{Upserts: []domain.Record{{}}}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	if err := store.Save(ctx, domain.ChangeSet{
		Upserts: []domain.Record{{ID: o1, Values: map[string]any{"Number": int64(10), "Customer": c2}}},
		Deletes: []domain.ObjectID{o2},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec, _ := store.LoadRecord(o1); rec.ForeignKey("Customer") != c2 {
		t.Fatalf("expected o1 to move to c2, got %v", rec.Values)
	}
	if _, err := store.LoadRecord(o2); err == nil {
		t.Fatal("expected o2 to be deleted")
	}
	if store.Len() != 4 {
		t.Fatalf("expected 4 records, got %d", store.Len())
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := store.Save(cancelled, domain.ChangeSet{Deletes: []domain.ObjectID{o1}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestStoreApplyPersistFailureKeepsState(t *testing.T) {
	store := seededStore()
	boom := errors.New("disk full")
	var seen Snapshot
	err := store.Apply(context.Background(), domain.ChangeSet{Deletes: []domain.ObjectID{c2}}, func(_ context.Context, s Snapshot) error {
		seen = s
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if len(seen["Customer"]) != 1 {
		t.Fatalf("persist must see the next state, got %v", seen["Customer"])
	}
	if _, err := store.LoadRecord(c2); err != nil {
		t.Fatalf("expected c2 to survive a failed persist: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := seededStore()
	if err := store.Save(context.Background(), domain.ChangeSet{Upserts: []domain.Record{
		{ID: o1, Values: map[string]any{"Number": int64(1), "Total": 12.5, "Paid": true, "Customer": c1}},
	}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	snapshot := store.ExportState()
	if got := snapshot.Classes(); !slices.Equal(got, []string{"Customer", "Order"}) {
		t.Fatalf("unexpected classes %v", got)
	}
	if snapshot["Order"][0].ID != "o1" || snapshot["Order"][2].ID != "o3" {
		t.Fatalf("expected records sorted by id, got %+v", snapshot["Order"])
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored := NewStore()
	if err := restored.ImportState(decoded); err != nil {
		t.Fatalf("import: %v", err)
	}
	rec, err := restored.LoadRecord(o1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Values["Number"] != int64(1) || rec.Values["Total"] != 12.5 || rec.Values["Paid"] != true {
		t.Fatalf("unexpected values %#v", rec.Values)
	}
	if rec.ForeignKey("Customer") != c1 {
		t.Fatalf("unexpected foreign key %v", rec.Values["Customer"])
	}
	orphan, _ := restored.LoadRecord(o3)
	if fk, ok := orphan.Values["Customer"].(domain.ObjectID); !ok || !fk.IsZero() {
		t.Fatalf("expected a null foreign key, got %#v", orphan.Values["Customer"])
	}
}

func TestImportStateRejectsBadRecords(t *testing.T) {
	store := seededStore()
	cases := map[string]Snapshot{
		"missing id":    {"Order": {{Values: map[string]any{"Number": int64(1)}}}},
		"bad reference": {"Order": {{ID: "o9", Refs: map[string]string{"Customer": "nonsense"}}}},
		"nested value":  {"Order": {{ID: "o9", Values: map[string]any{"Number": map[string]any{}}}}},
	}
	for name, snapshot := range cases {
		t.Run(name, func(t *testing.T) {
			if err := store.ImportState(snapshot); err == nil {
				t.Fatal("expected an error")
			}
			if store.Len() != 5 {
				t.Fatal("a rejected import must keep the state")
			}
		})
	}
}
