package core

import (
	"fmt"

	"relcore/pkg/domain"
)

// EndPointID resolves the end-point of obj's relation property.
func (tx *ClientTransaction) EndPointID(obj *DomainObject, property string) (RelationEndPointID, error) {
	if err := tx.checkEnlisted(obj); err != nil {
		return RelationEndPointID{}, err
	}
	def, ok := tx.mapping.EndPointDefinition(obj.id.ClassID + "." + property)
	if !ok {
		return RelationEndPointID{}, fmt.Errorf("%w: class %s has no relation property %q", domain.ErrInvalidArgument, obj.id.ClassID, property)
	}
	return NewRelationEndPointID(obj.id, def), nil
}

func (tx *ClientTransaction) endPoint(obj *DomainObject, property string) (RelationEndPoint, error) {
	if err := tx.checkUsable(); err != nil {
		return nil, err
	}
	id, err := tx.EndPointID(obj, property)
	if err != nil {
		return nil, err
	}
	if err := tx.checkAlive(obj.id); err != nil {
		return nil, err
	}
	return tx.manager.GetRelationEndPointWithLazyLoad(id)
}

func (tx *ClientTransaction) collection(obj *DomainObject, property string) (*CollectionEndPoint, error) {
	ep, err := tx.endPoint(obj, property)
	if err != nil {
		return nil, err
	}
	coll, ok := ep.(*CollectionEndPoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a collection property", domain.ErrInvalidArgument, ep.ID())
	}
	return coll, nil
}

func (tx *ClientTransaction) related(obj *DomainObject, property string, original bool) (*DomainObject, error) {
	ep, err := tx.endPoint(obj, property)
	if err != nil {
		return nil, err
	}
	var id domain.ObjectID
	switch ep := ep.(type) {
	case *RealObjectEndPoint:
		id = ep.OppositeObjectID()
		if original {
			id = ep.OriginalOppositeObjectID()
		}
	case *VirtualObjectEndPoint:
		if original {
			id, err = ep.OriginalOppositeObjectID()
		} else {
			id, err = ep.OppositeObjectID()
		}
		if err != nil {
			return nil, err
		}
	case *CollectionEndPoint:
		return nil, fmt.Errorf("%w: %s is a collection property", domain.ErrInvalidArgument, ep.ID())
	}
	if id.IsZero() {
		return nil, nil
	}
	return tx.enlist(id), nil
}

// GetRelatedObject returns the object obj's cardinality-one property refers
// to, or nil.
func (tx *ClientTransaction) GetRelatedObject(obj *DomainObject, property string) (*DomainObject, error) {
	return tx.related(obj, property, false)
}

// GetOriginalRelatedObject is GetRelatedObject for the original state.
func (tx *ClientTransaction) GetOriginalRelatedObject(obj *DomainObject, property string) (*DomainObject, error) {
	return tx.related(obj, property, true)
}

// GetRelatedObjects returns the items of obj's collection property.
func (tx *ClientTransaction) GetRelatedObjects(obj *DomainObject, property string) ([]*DomainObject, error) {
	coll, err := tx.collection(obj, property)
	if err != nil {
		return nil, err
	}
	ids, err := coll.Collection()
	if err != nil {
		return nil, err
	}
	return tx.enlistAll(ids), nil
}

// GetOriginalRelatedObjects is GetRelatedObjects for the original state.
func (tx *ClientTransaction) GetOriginalRelatedObjects(obj *DomainObject, property string) ([]*DomainObject, error) {
	coll, err := tx.collection(obj, property)
	if err != nil {
		return nil, err
	}
	ids, err := coll.OriginalCollection()
	if err != nil {
		return nil, err
	}
	return tx.enlistAll(ids), nil
}

// SetRelatedObject points obj's cardinality-one property at related and
// updates the opposite side. A nil related clears it.
func (tx *ClientTransaction) SetRelatedObject(obj *DomainObject, property string, related *DomainObject) error {
	ep, err := tx.endPoint(obj, property)
	if err != nil {
		return err
	}
	var cmd Command
	switch ep := ep.(type) {
	case *RealObjectEndPoint:
		cmd = ep.CreateSetCommand(related)
	case *VirtualObjectEndPoint:
		cmd = ep.CreateSetCommand(related)
	case *CollectionEndPoint:
		return fmt.Errorf("%w: %s is a collection property", domain.ErrInvalidArgument, ep.ID())
	}
	return Execute(cmd)
}

// AddRelatedObject appends related to obj's collection property.
func (tx *ClientTransaction) AddRelatedObject(obj *DomainObject, property string, related *DomainObject) error {
	coll, err := tx.collection(obj, property)
	if err != nil {
		return err
	}
	return Execute(coll.CreateAddCommand(related))
}

// InsertRelatedObject inserts related at index of obj's collection property.
func (tx *ClientTransaction) InsertRelatedObject(obj *DomainObject, property string, index int, related *DomainObject) error {
	coll, err := tx.collection(obj, property)
	if err != nil {
		return err
	}
	return Execute(coll.CreateInsertCommand(index, related))
}

// RemoveRelatedObject removes related from obj's collection property.
func (tx *ClientTransaction) RemoveRelatedObject(obj *DomainObject, property string, related *DomainObject) error {
	coll, err := tx.collection(obj, property)
	if err != nil {
		return err
	}
	return Execute(coll.CreateRemoveCommand(related))
}

// ReplaceRelatedObject replaces the item at index of obj's collection
// property.
func (tx *ClientTransaction) ReplaceRelatedObject(obj *DomainObject, property string, index int, related *DomainObject) error {
	coll, err := tx.collection(obj, property)
	if err != nil {
		return err
	}
	return Execute(coll.CreateReplaceCommand(index, related))
}

// SetRelatedObjects replaces the whole collection property of obj.
func (tx *ClientTransaction) SetRelatedObjects(obj *DomainObject, property string, related []*DomainObject) error {
	coll, err := tx.collection(obj, property)
	if err != nil {
		return err
	}
	return Execute(coll.CreateSetCollectionCommand(related))
}
