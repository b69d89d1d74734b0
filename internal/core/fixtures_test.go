package core

import (
	"context"
	"sort"
	"testing"

	"relcore/pkg/domain"
)

// fakeSource is an in-memory DataSource that counts its loads.
type fakeSource struct {
	records      map[domain.ObjectID]domain.Record
	recordLoads  int
	relatedLoads int
	saved        []domain.ChangeSet
	saveErr      error
}

func newFakeSource(records ...domain.Record) *fakeSource {
	s := &fakeSource{records: make(map[domain.ObjectID]domain.Record)}
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	return s
}

func (s *fakeSource) LoadRecord(id domain.ObjectID) (domain.Record, error) {
	s.recordLoads++
	rec, ok := s.records[id]
	if !ok {
		return domain.Record{}, domain.ObjectNotFoundError{ObjectID: id}
	}
	return rec.Clone(), nil
}

func (s *fakeSource) LoadRelatedObjectIDs(owner domain.ObjectID, def *domain.RelationEndPointDefinition) ([]domain.ObjectID, error) {
	s.relatedLoads++
	opposite := def.Opposite()
	var ids []domain.ObjectID
	for id, rec := range s.records {
		if id.ClassID == opposite.ClassID && rec.ForeignKey(opposite.PropertyName) == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Value < ids[j].Value })
	return ids, nil
}

func (s *fakeSource) Save(_ context.Context, cs domain.ChangeSet) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, cs)
	for _, id := range cs.Deletes {
		delete(s.records, id)
	}
	for _, rec := range cs.Upserts {
		s.records[rec.ID] = rec.Clone()
	}
	return nil
}

// Mapping used throughout the package tests:
//
//	Customer.Orders      1:n  Order.Customer
//	Order.OrderItems     1:n  OrderItem.Order (mandatory)
//	Order.OrderTicket    1:1  OrderTicket.Order
//	Location.Client      unidirectional to Customer
func testMapping(t *testing.T) *domain.MappingConfiguration {
	t.Helper()
	m := domain.NewMappingConfiguration()
	for _, c := range []struct {
		id    string
		props []string
	}{
		{"Customer", []string{"Name"}},
		{"Order", []string{"Number"}},
		{"OrderItem", []string{"Product"}},
		{"OrderTicket", []string{"FileName"}},
		{"Location", []string{"City"}},
	} {
		if _, err := m.AddClass(c.id, c.props...); err != nil {
			t.Fatalf("add class %s: %v", c.id, err)
		}
	}
	if _, err := m.AddOneToMany("Customer_Orders", "Customer", "Orders", "Order", "Customer", false); err != nil {
		t.Fatalf("add relation: %v", err)
	}
	if _, err := m.AddOneToMany("Order_OrderItems", "Order", "OrderItems", "OrderItem", "Order", true); err != nil {
		t.Fatalf("add relation: %v", err)
	}
	if _, err := m.AddOneToOne("Order_OrderTicket", "Order", "OrderTicket", "OrderTicket", "Order"); err != nil {
		t.Fatalf("add relation: %v", err)
	}
	if _, err := m.AddUnidirectional("Location_Client", "Location", "Client", "Customer"); err != nil {
		t.Fatalf("add relation: %v", err)
	}
	return m
}

func oid(class, value string) domain.ObjectID {
	return domain.ObjectID{ClassID: class, Value: value}
}

var (
	customer1 = oid("Customer", "c1")
	customer2 = oid("Customer", "c2")
	order1    = oid("Order", "o1")
	order2    = oid("Order", "o2")
	item1     = oid("OrderItem", "i1")
	item2     = oid("OrderItem", "i2")
	item3     = oid("OrderItem", "i3")
	ticket1   = oid("OrderTicket", "t1")
	location1 = oid("Location", "l1")
)

// testData returns c1 with o1, o1 with i1 and i2 and ticket t1, c2 with o2
// and an orphaned item i3 that belongs to o2.
func testData() []domain.Record {
	return []domain.Record{
		{ID: customer1, Values: map[string]any{"Name": "Ada"}},
		{ID: customer2, Values: map[string]any{"Name": "Grace"}},
		{ID: order1, Values: map[string]any{"Number": int64(1), "Customer": customer1}},
		{ID: order2, Values: map[string]any{"Number": int64(2), "Customer": customer2}},
		{ID: item1, Values: map[string]any{"Product": "keyboard", "Order": order1}},
		{ID: item2, Values: map[string]any{"Product": "mouse", "Order": order1}},
		{ID: item3, Values: map[string]any{"Product": "screen", "Order": order2}},
		{ID: ticket1, Values: map[string]any{"FileName": "t1.pdf", "Order": order1}},
		{ID: location1, Values: map[string]any{"City": "Basel", "Client": customer1}},
	}
}

type fixture struct {
	mapping *domain.MappingConfiguration
	source  *fakeSource
	tx      *ClientTransaction
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	m := testMapping(t)
	src := newFakeSource(testData()...)
	return &fixture{mapping: m, source: src, tx: NewRootTransaction(m, src, opts...)}
}

func (f *fixture) def(t *testing.T, id string) *domain.RelationEndPointDefinition {
	t.Helper()
	def, ok := f.mapping.EndPointDefinition(id)
	if !ok {
		t.Fatalf("no end-point definition %s", id)
	}
	return def
}

func (f *fixture) endPointID(t *testing.T, objectID domain.ObjectID, property string) RelationEndPointID {
	t.Helper()
	return NewRelationEndPointID(objectID, f.def(t, objectID.ClassID+"."+property))
}

func (f *fixture) object(t *testing.T, tx *ClientTransaction, id domain.ObjectID) *DomainObject {
	t.Helper()
	obj, err := tx.GetObject(id)
	if err != nil {
		t.Fatalf("get object %s: %v", id, err)
	}
	return obj
}

func (f *fixture) collection(t *testing.T, tx *ClientTransaction, id RelationEndPointID) *CollectionEndPoint {
	t.Helper()
	ep, err := tx.EndPointManager().GetRelationEndPointWithLazyLoad(id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	coll, ok := ep.(*CollectionEndPoint)
	if !ok {
		t.Fatalf("expected *CollectionEndPoint, got %T", ep)
	}
	return coll
}

func mustCollection(t *testing.T, ep *CollectionEndPoint) []domain.ObjectID {
	t.Helper()
	items, err := ep.Collection()
	if err != nil {
		t.Fatalf("collection %s: %v", ep.ID(), err)
	}
	return items
}

func ids(objs []*DomainObject) []domain.ObjectID {
	out := make([]domain.ObjectID, len(objs))
	for i, o := range objs {
		out[i] = o.ID()
	}
	return out
}
