package core

import (
	"fmt"

	"relcore/pkg/domain"
)

// LazyLoader fetches data the manager does not have yet. Each method must
// leave the requested data registered: LoadLazyDataContainer registers the
// object's container, the end-point loads complete the end-point.
type LazyLoader interface {
	LoadLazyDataContainer(id domain.ObjectID) error
	LoadLazyCollectionEndPoint(ep *CollectionEndPoint) error
	LoadLazyVirtualObjectEndPoint(ep *VirtualObjectEndPoint) error
}

// rootLoader loads from the transaction's DataSource.
type rootLoader struct {
	tx *ClientTransaction
}

func (l *rootLoader) source() (domain.DataSource, error) {
	if l.tx.source == nil {
		return nil, fmt.Errorf("%w: transaction %s has no data source", domain.ErrInvalidOperation, l.tx.id)
	}
	return l.tx.source, nil
}

func (l *rootLoader) LoadLazyDataContainer(id domain.ObjectID) error {
	source, err := l.source()
	if err != nil {
		return err
	}
	class, ok := l.tx.mapping.Class(id.ClassID)
	if !ok {
		return fmt.Errorf("%w: unknown class %q", domain.ErrInvalidArgument, id.ClassID)
	}
	rec, err := source.LoadRecord(id)
	if err != nil {
		return err
	}
	dc, err := newDataContainerFromRecord(class, l.tx.realDefinitions(class.ID), rec)
	if err != nil {
		return err
	}
	return l.tx.registerDataContainer(dc)
}

func (l *rootLoader) LoadLazyCollectionEndPoint(ep *CollectionEndPoint) error {
	source, err := l.source()
	if err != nil {
		return err
	}
	items, err := source.LoadRelatedObjectIDs(ep.ObjectID(), ep.Definition())
	if err != nil {
		return err
	}
	if err := l.tx.loadAll(items); err != nil {
		return err
	}
	return l.tx.manager.MarkCollectionEndPointComplete(ep.ID(), items)
}

func (l *rootLoader) LoadLazyVirtualObjectEndPoint(ep *VirtualObjectEndPoint) error {
	source, err := l.source()
	if err != nil {
		return err
	}
	items, err := source.LoadRelatedObjectIDs(ep.ObjectID(), ep.Definition())
	if err != nil {
		return err
	}
	if len(items) > 1 {
		return fmt.Errorf("%w: %s is referenced by %d objects", domain.ErrInvalidOperation, ep.ID(), len(items))
	}
	if err := l.tx.loadAll(items); err != nil {
		return err
	}
	var item domain.ObjectID
	if len(items) == 1 {
		item = items[0]
	}
	return l.tx.manager.MarkVirtualObjectEndPointComplete(ep.ID(), item)
}

// subTransactionLoader loads from the parent transaction. Containers are
// copied, end-point data is taken from the parent's current state.
type subTransactionLoader struct {
	tx *ClientTransaction
}

func (l *subTransactionLoader) LoadLazyDataContainer(id domain.ObjectID) error {
	parentDC, err := l.tx.parent.dataContainerFor(id)
	if err != nil {
		return err
	}
	if parentDC.deleted {
		return domain.ObjectDeletedError{ObjectID: id}
	}
	return l.tx.registerDataContainer(parentDC.cloneForSubTransaction())
}

func (l *subTransactionLoader) LoadLazyCollectionEndPoint(ep *CollectionEndPoint) error {
	parentEP, err := l.tx.parent.manager.GetRelationEndPointWithLazyLoad(ep.ID())
	if err != nil {
		return err
	}
	items, err := parentEP.(*CollectionEndPoint).Collection()
	if err != nil {
		return err
	}
	if err := l.tx.loadAll(items); err != nil {
		return err
	}
	return l.tx.manager.MarkCollectionEndPointComplete(ep.ID(), items)
}

func (l *subTransactionLoader) LoadLazyVirtualObjectEndPoint(ep *VirtualObjectEndPoint) error {
	parentEP, err := l.tx.parent.manager.GetRelationEndPointWithLazyLoad(ep.ID())
	if err != nil {
		return err
	}
	item, err := parentEP.(*VirtualObjectEndPoint).OppositeObjectID()
	if err != nil {
		return err
	}
	if !item.IsZero() {
		if _, err := l.tx.dataContainerFor(item); err != nil {
			return err
		}
	}
	return l.tx.manager.MarkVirtualObjectEndPointComplete(ep.ID(), item)
}
