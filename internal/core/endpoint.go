package core

import (
	"relcore/internal/flatten"
	"relcore/pkg/domain"
)

// RelationEndPointID identifies one side of one relation for one object. It
// is comparable and used as the key of the end-point map.
type RelationEndPointID struct {
	ObjectID   domain.ObjectID
	Definition *domain.RelationEndPointDefinition
}

// NewRelationEndPointID builds the ID of the end-point described by def on
// the object objectID.
func NewRelationEndPointID(objectID domain.ObjectID, def *domain.RelationEndPointDefinition) RelationEndPointID {
	return RelationEndPointID{ObjectID: objectID, Definition: def}
}

// IsVirtual reports whether the end-point is computed from the real side.
func (id RelationEndPointID) IsVirtual() bool { return id.Definition.IsVirtual() }

func (id RelationEndPointID) String() string {
	if id.Definition == nil {
		return "<undefined>@" + id.ObjectID.String()
	}
	return id.Definition.ID() + "@" + id.ObjectID.String()
}

// opposite returns the ID of the end-point on related that pairs with id.
func (id RelationEndPointID) opposite(related domain.ObjectID) RelationEndPointID {
	return RelationEndPointID{ObjectID: related, Definition: id.Definition.Opposite()}
}

// SyncState tells whether a real end-point's foreign key is reflected by the
// opposite virtual end-point, or whether a virtual end-point's data is backed
// by the real end-points pointing at it.
type SyncState int

const (
	// SyncUnknown means the opposite side has not been loaded yet.
	SyncUnknown SyncState = iota
	// SyncSynchronized means both sides agree.
	SyncSynchronized
	// SyncUnsynchronized means the sides disagree until Synchronize is called.
	SyncUnsynchronized
)

func (s SyncState) String() string {
	switch s {
	case SyncSynchronized:
		return "synchronized"
	case SyncUnsynchronized:
		return "unsynchronized"
	default:
		return "unknown"
	}
}

// RelationEndPoint is one side of one relation for one object. The set of
// implementations is closed: *RealObjectEndPoint, *VirtualObjectEndPoint and
// *CollectionEndPoint.
type RelationEndPoint interface {
	ID() RelationEndPointID
	ObjectID() domain.ObjectID
	Definition() *domain.RelationEndPointDefinition

	IsDataComplete() bool
	EnsureDataComplete() error
	HasChanged() bool
	HasBeenTouched() bool
	SyncState() SyncState
	CanBeCollected() bool
	CanBeMarkedIncomplete() bool

	// Touch marks the end-point as touched without changing its data.
	Touch()
	// Commit folds the current state into the original state.
	Commit()
	// Rollback restores the current state from the original state.
	Rollback()

	CreateDeleteCommand() Command
	ValidateMandatory() error

	flatten.Flattenable
	relationEndPoint()
}

// VirtualEndPoint is implemented by the computed end-point variants. The
// unexported methods form the protocol real end-points and the registration
// agent use to keep both sides in step.
type VirtualEndPoint interface {
	RelationEndPoint
	MarkDataIncomplete() error
	Synchronize() error

	registerOriginalOppositeEndPoint(real *RealObjectEndPoint)
	unregisterOriginalOppositeEndPoint(real *RealObjectEndPoint) error
	checkUnregisterOriginalOppositeEndPoint(real *RealObjectEndPoint) error
	synchronizeOppositeEndPoint(real *RealObjectEndPoint) error
	setDataFromSubTransaction(source VirtualEndPoint) error

	// createRemoveOppositeCommand and createAddOppositeCommand change only
	// this side; they are the building blocks of expanded commands issued
	// from the real side.
	createRemoveOppositeCommand(removed domain.ObjectID) Command
	createAddOppositeCommand(added domain.ObjectID) Command
}

var (
	_ VirtualEndPoint  = (*VirtualObjectEndPoint)(nil)
	_ VirtualEndPoint  = (*CollectionEndPoint)(nil)
	_ RelationEndPoint = (*RealObjectEndPoint)(nil)
)
