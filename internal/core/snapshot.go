package core

import (
	"errors"
	"fmt"
	"slices"

	"relcore/internal/flatten"
	"relcore/pkg/domain"
)

// restoreContext is handed to every Rehydrate call while a transaction is
// rebuilt.
type restoreContext struct {
	mapping domain.MetadataProvider
}

func snapshotRegistry() flatten.Registry {
	return flatten.Registry{
		"transaction":              func() flatten.Rehydrator { return &ClientTransaction{} },
		"end_point_manager":        func() flatten.Rehydrator { return &RelationEndPointManager{} },
		"data_container":           func() flatten.Rehydrator { return &DataContainer{} },
		"real_end_point":           func() flatten.Rehydrator { return &RealObjectEndPoint{} },
		"virtual_object_end_point": func() flatten.Rehydrator { return &VirtualObjectEndPoint{} },
		"collection_end_point":     func() flatten.Rehydrator { return &CollectionEndPoint{} },
	}
}

// Snapshot flattens tx, its ancestors and its active sub-transaction into an
// arena. The transaction must not be discarded.
func (tx *ClientTransaction) Snapshot() (*flatten.Arena, error) {
	if err := tx.checkUsable(); err != nil {
		return nil, err
	}
	return flatten.Flatten(tx)
}

// RestoreTransaction rebuilds the transaction stored in arena. The root of
// the rebuilt hierarchy loads from and saves to source.
func RestoreTransaction(arena *flatten.Arena, mapping domain.MetadataProvider, source domain.DataSource, opts ...Option) (*ClientTransaction, error) {
	obj, err := flatten.Rebuild(arena, snapshotRegistry(), &restoreContext{mapping: mapping})
	if err != nil {
		return nil, err
	}
	tx, ok := obj.(*ClientTransaction)
	if !ok {
		return nil, fmt.Errorf("%w: snapshot root is %T, not a transaction", domain.ErrInvalidArgument, obj)
	}
	root := tx
	for root.parent != nil {
		root = root.parent
	}
	if root.objects == nil {
		return nil, errors.New("snapshot does not contain a root transaction")
	}
	root.source = source
	o := buildOptions(opts)
	for t := root; t != nil; t = t.child {
		t.mapping = mapping
		t.root = root
		t.opts = o
		t.manager.mapping = mapping
		t.manager.applyOptions(o)
		if t.parent == nil {
			t.manager.loader = &rootLoader{tx: t}
		} else {
			t.manager.loader = &subTransactionLoader{tx: t}
		}
		for i := 0; i < t.manager.endPoints.Len(); i++ {
			o.metrics.endPointAdded()
		}
	}
	return tx, nil
}

// FlattenType implements flatten.Flattenable.
func (*ClientTransaction) FlattenType() string { return "transaction" }

// Flatten implements flatten.Flattenable.
func (tx *ClientTransaction) Flatten(w *flatten.Writer) {
	w.String(tx.id)
	w.Bool(tx.discarded)
	dcs := tx.sortedDataContainers()
	w.Int(int64(len(dcs)))
	for _, dc := range dcs {
		w.Object(dc)
	}
	w.Object(tx.manager)
	if tx.parent != nil {
		w.Object(tx.parent)
	} else {
		w.Nil()
	}
	if tx.child != nil {
		w.Object(tx.child)
	} else {
		w.Nil()
	}
	w.Bool(tx.parent == nil)
	if tx.parent != nil {
		return
	}
	ids := make([]domain.ObjectID, 0, len(tx.objects))
	for id := range tx.objects {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareObjectIDs)
	writeObjectIDs(w, ids)
	writeObjectIDSet(w, tx.invalid)
}

// Rehydrate implements flatten.Rehydrator.
func (tx *ClientTransaction) Rehydrate(r *flatten.Reader) error {
	tx.id = r.String()
	tx.discarded = r.Bool()
	n := r.Count()
	tx.dataContainers = make(map[domain.ObjectID]*DataContainer, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		dc, ok := r.Object().(*DataContainer)
		if !ok {
			r.Fail(fmt.Errorf("%w: data container record %d has an unexpected type", domain.ErrInvalidArgument, i))
			break
		}
		tx.dataContainers[dc.id] = dc
	}
	tx.manager, _ = r.Object().(*RelationEndPointManager)
	tx.parent, _ = r.Object().(*ClientTransaction)
	tx.child, _ = r.Object().(*ClientTransaction)
	if r.Bool() {
		tx.objects = make(map[domain.ObjectID]*DomainObject)
		for _, id := range readObjectIDs(r) {
			tx.objects[id] = &DomainObject{id: id, root: tx}
		}
		tx.invalid = readObjectIDSet(r)
	}
	if r.Err() == nil && tx.manager == nil {
		return errors.New("transaction without end-point manager")
	}
	return r.Err()
}
