package core

import (
	"errors"
	"slices"
	"testing"

	"relcore/pkg/domain"
)

func realEndPoint(t *testing.T, tx *ClientTransaction, id RelationEndPointID) *RealObjectEndPoint {
	t.Helper()
	ep, err := tx.EndPointManager().GetRelationEndPointWithoutLoading(id)
	if err != nil {
		t.Fatalf("lookup %s: %v", id, err)
	}
	real, ok := ep.(*RealObjectEndPoint)
	if !ok {
		t.Fatalf("expected *RealObjectEndPoint for %s, got %T", id, ep)
	}
	return real
}

func TestSync_RealEndPointLoadedAfterCollection(t *testing.T) {
	f := newFixture(t)
	tx := f.tx
	ordersID := f.endPointID(t, customer1, "Orders")
	if err := tx.EndPointManager().MarkCollectionEndPointComplete(ordersID, nil); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	o1 := f.object(t, tx, order1)
	real := realEndPoint(t, tx, f.endPointID(t, order1, "Customer"))
	if real.SyncState() != SyncUnsynchronized {
		t.Fatalf("expected unsynchronized, got %v", real.SyncState())
	}
	orders := f.collection(t, tx, ordersID)
	if got := mustCollection(t, orders); len(got) != 0 {
		t.Fatalf("expected the collection to stay empty, got %v", got)
	}

	err := tx.SetRelatedObject(o1, "Customer", f.object(t, tx, customer2))
	if !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("expected modifying an unsynchronized end-point to fail, got %v", err)
	}

	if err := real.Synchronize(); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if real.SyncState() != SyncSynchronized {
		t.Fatalf("expected synchronized, got %v", real.SyncState())
	}
	if got := mustCollection(t, orders); !slices.Equal(got, []domain.ObjectID{order1}) {
		t.Fatalf("expected o1 in orders, got %v", got)
	}
	if orders.HasChanged() {
		t.Fatal("synchronizing must not count as a change")
	}
	if report := tx.CheckConsistency(); !report.OK() {
		t.Fatalf("unexpected violations: %v", report.Violations)
	}
	if err := tx.SetRelatedObject(o1, "Customer", f.object(t, tx, customer2)); err != nil {
		t.Fatalf("set after synchronize: %v", err)
	}
}

func TestSync_CollectionDropsStaleItems(t *testing.T) {
	f := newFixture(t)
	tx := f.tx
	ordersID := f.endPointID(t, customer1, "Orders")
	if err := tx.EndPointManager().MarkCollectionEndPointComplete(ordersID, []domain.ObjectID{order1, order2}); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	orders := f.collection(t, tx, ordersID)
	if orders.SyncState() != SyncUnsynchronized {
		t.Fatalf("expected unsynchronized collection, got %v", orders.SyncState())
	}
	if err := orders.Synchronize(); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if got := mustCollection(t, orders); !slices.Equal(got, []domain.ObjectID{order1}) {
		t.Fatalf("expected only o1 to remain, got %v", got)
	}
	original, err := orders.OriginalCollection()
	if err != nil {
		t.Fatalf("original: %v", err)
	}
	if !slices.Equal(original, []domain.ObjectID{order1}) {
		t.Fatalf("expected original to drop o2 too, got %v", original)
	}
	if orders.SyncState() != SyncSynchronized {
		t.Fatalf("expected synchronized collection, got %v", orders.SyncState())
	}
	if real := realEndPoint(t, tx, f.endPointID(t, order1, "Customer")); real.SyncState() != SyncSynchronized {
		t.Fatalf("expected o1 to be synchronized, got %v", real.SyncState())
	}
}

func TestSync_VirtualObjectEndPoint(t *testing.T) {
	f := newFixture(t)
	tx := f.tx
	ticketID := f.endPointID(t, order1, "OrderTicket")
	if err := tx.EndPointManager().MarkVirtualObjectEndPointComplete(ticketID, domain.ObjectID{}); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	f.object(t, tx, ticket1)
	real := realEndPoint(t, tx, f.endPointID(t, ticket1, "Order"))
	if real.SyncState() != SyncUnsynchronized {
		t.Fatalf("expected unsynchronized ticket, got %v", real.SyncState())
	}
	if err := real.Synchronize(); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	ticket, err := tx.GetRelatedObject(f.object(t, tx, order1), "OrderTicket")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.ID() != ticket1 {
		t.Fatalf("expected t1, got %v", ticket)
	}

	staleID := f.endPointID(t, order2, "OrderTicket")
	if err := tx.EndPointManager().MarkVirtualObjectEndPointComplete(staleID, ticket1); err != nil {
		t.Fatalf("mark stale complete: %v", err)
	}
	ep, _ := tx.EndPointManager().GetRelationEndPointWithoutLoading(staleID)
	stale := ep.(*VirtualObjectEndPoint)
	if stale.SyncState() != SyncUnsynchronized {
		t.Fatalf("expected stale end-point to be unsynchronized, got %v", stale.SyncState())
	}
	if err := stale.Synchronize(); err != nil {
		t.Fatalf("synchronize stale: %v", err)
	}
	if id, _ := stale.OppositeObjectID(); !id.IsZero() {
		t.Fatalf("expected stale ticket to be dropped, got %s", id)
	}
}

func TestSync_UnidirectionalCannotSynchronize(t *testing.T) {
	f := newFixture(t)
	f.object(t, f.tx, location1)
	real := realEndPoint(t, f.tx, f.endPointID(t, location1, "Client"))
	if real.SyncState() != SyncSynchronized {
		t.Fatalf("expected unidirectional end-point to be synchronized, got %v", real.SyncState())
	}
	if err := real.Synchronize(); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("expected synchronize to fail, got %v", err)
	}
	if f.source.relatedLoads != 0 {
		t.Fatalf("unidirectional relations must not query, got %d", f.source.relatedLoads)
	}
}
