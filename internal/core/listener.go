package core

import "relcore/pkg/domain"

// StateUpdateListener is notified whenever the changed state of a virtual
// end-point flips.
type StateUpdateListener interface {
	VirtualEndPointStateUpdated(id RelationEndPointID, changed bool)
}

// StateUpdateListenerFunc adapts a function to StateUpdateListener.
type StateUpdateListenerFunc func(id RelationEndPointID, changed bool)

// VirtualEndPointStateUpdated implements StateUpdateListener.
func (f StateUpdateListenerFunc) VirtualEndPointStateUpdated(id RelationEndPointID, changed bool) {
	f(id, changed)
}

// RelationChangeListener observes relation modifications. RelationChanging
// is called from Command.Begin, RelationChanged from Command.End.
type RelationChangeListener interface {
	RelationChanging(id RelationEndPointID, oldRelated, newRelated domain.ObjectID)
	RelationChanged(id RelationEndPointID, oldRelated, newRelated domain.ObjectID)
}

type noopListener struct{}

func (noopListener) VirtualEndPointStateUpdated(RelationEndPointID, bool)                  {}
func (noopListener) RelationChanging(RelationEndPointID, domain.ObjectID, domain.ObjectID) {}
func (noopListener) RelationChanged(RelationEndPointID, domain.ObjectID, domain.ObjectID)  {}
