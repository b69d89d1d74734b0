package core

import (
	"fmt"

	"relcore/internal/flatten"
	"relcore/pkg/domain"
)

// RealObjectEndPoint is the side of a relation that stores the foreign key.
// The key itself lives in the owning object's DataContainer.
type RealObjectEndPoint struct {
	id        RelationEndPointID
	mgr       *RelationEndPointManager
	dc        *DataContainer
	syncState SyncState
}

func newRealObjectEndPoint(mgr *RelationEndPointManager, id RelationEndPointID, dc *DataContainer) *RealObjectEndPoint {
	return &RealObjectEndPoint{id: id, mgr: mgr, dc: dc}
}

func (*RealObjectEndPoint) relationEndPoint() {}

func (ep *RealObjectEndPoint) ID() RelationEndPointID                         { return ep.id }
func (ep *RealObjectEndPoint) ObjectID() domain.ObjectID                      { return ep.id.ObjectID }
func (ep *RealObjectEndPoint) Definition() *domain.RelationEndPointDefinition { return ep.id.Definition }

func (ep *RealObjectEndPoint) fk() *foreignKeyValue {
	return ep.dc.foreignKey(ep.id.Definition.PropertyName)
}

// OppositeObjectID returns the current foreign key value.
func (ep *RealObjectEndPoint) OppositeObjectID() domain.ObjectID { return ep.fk().current }

// OriginalOppositeObjectID returns the foreign key as loaded or last committed.
func (ep *RealObjectEndPoint) OriginalOppositeObjectID() domain.ObjectID { return ep.fk().original }

// Real end-points are backed by their DataContainer and always complete.
func (*RealObjectEndPoint) IsDataComplete() bool      { return true }
func (*RealObjectEndPoint) EnsureDataComplete() error { return nil }
func (*RealObjectEndPoint) CanBeMarkedIncomplete() bool {
	return false
}

// HasChanged reports whether the foreign key differs from its original value.
func (ep *RealObjectEndPoint) HasChanged() bool {
	fk := ep.fk()
	return fk.current != fk.original
}

func (ep *RealObjectEndPoint) HasBeenTouched() bool { return ep.fk().touched }

// CanBeCollected reports whether the end-point may be dropped with its
// object.
func (ep *RealObjectEndPoint) CanBeCollected() bool { return !ep.HasChanged() }

// Touch marks the foreign key touched.
func (ep *RealObjectEndPoint) Touch() { ep.fk().touched = true }

// Commit makes the current foreign key the original one.
func (ep *RealObjectEndPoint) Commit() {
	fk := ep.fk()
	fk.original = fk.current
	fk.touched = false
}

// Rollback restores the original foreign key.
func (ep *RealObjectEndPoint) Rollback() {
	fk := ep.fk()
	fk.current = fk.original
	fk.touched = false
}

// SyncState returns the recorded sync state without loading anything.
func (ep *RealObjectEndPoint) SyncState() SyncState { return ep.syncState }

func (ep *RealObjectEndPoint) markSynchronized()   { ep.syncState = SyncSynchronized }
func (ep *RealObjectEndPoint) markUnsynchronized() { ep.syncState = SyncUnsynchronized }
func (ep *RealObjectEndPoint) resetSyncState()     { ep.syncState = SyncUnknown }

// IsSynchronized resolves an unknown sync state by loading the opposite
// virtual end-point, whose completion classifies this end-point.
func (ep *RealObjectEndPoint) IsSynchronized() (bool, error) {
	if ep.syncState == SyncUnknown {
		if err := ep.loadOpposite(); err != nil {
			return false, err
		}
	}
	return ep.syncState == SyncSynchronized, nil
}

func (ep *RealObjectEndPoint) loadOpposite() error {
	original := ep.OriginalOppositeObjectID()
	if ep.id.Definition.Opposite().IsAnonymous() || original.IsZero() {
		ep.markSynchronized()
		return nil
	}
	if _, err := ep.mgr.GetRelationEndPointWithLazyLoad(ep.id.opposite(original)); err != nil {
		return err
	}
	if ep.syncState == SyncUnknown {
		return fmt.Errorf("%w: loading %s did not classify %s", domain.ErrInvalidOperation, ep.id.opposite(original), ep.id)
	}
	return nil
}

// Synchronize makes the opposite virtual end-point include this end-point's
// object. It fails for unidirectional relations.
func (ep *RealObjectEndPoint) Synchronize() error {
	if ep.id.Definition.Opposite().IsAnonymous() {
		return fmt.Errorf("%w: %s belongs to a unidirectional relation and cannot be synchronized", domain.ErrInvalidOperation, ep.id)
	}
	synced, err := ep.IsSynchronized()
	if err != nil || synced {
		return err
	}
	opposite, err := ep.mgr.virtualWithoutLoading(ep.id.opposite(ep.OriginalOppositeObjectID()))
	if err != nil {
		return err
	}
	if err := opposite.synchronizeOppositeEndPoint(ep); err != nil {
		return err
	}
	ep.mgr.logger.Debug("real end-point synchronized", "endpoint", ep.id.String())
	return nil
}

// CreateSetCommand builds the command that points the foreign key at related.
// A nil related clears it.
func (ep *RealObjectEndPoint) CreateSetCommand(related *DomainObject) Command {
	if err := ep.mgr.tx.checkModifiable(ep.ObjectID()); err != nil {
		return NewExceptionCommand(err)
	}
	if err := ep.mgr.tx.checkRelated(related, ep.id.Definition.Opposite().ClassID); err != nil {
		return NewExceptionCommand(err)
	}
	return ep.createSetCommand(related.ID())
}

// CreateDeleteCommand clears the foreign key as part of deleting the owner.
func (ep *RealObjectEndPoint) CreateDeleteCommand() Command {
	return ep.createSetCommand(domain.ObjectID{})
}

func (ep *RealObjectEndPoint) createSetCommand(newRelated domain.ObjectID) Command {
	synced, err := ep.IsSynchronized()
	if err != nil {
		return NewExceptionCommand(err)
	}
	if !synced {
		return NewExceptionCommand(fmt.Errorf("%w: %s is out of sync with its opposite end-point; call Synchronize first", domain.ErrInvalidOperation, ep.id))
	}
	old := ep.OppositeObjectID()
	if old == newRelated {
		cmd := &touchCommand{ep: ep, mgr: ep.mgr}
		if !old.IsZero() && !ep.id.Definition.Opposite().IsAnonymous() {
			cmd.opposite = ep.id.opposite(old)
		}
		return cmd
	}
	return &realSetCommand{
		relationCommand: relationCommand{id: ep.id, oldRelated: old, newRelated: newRelated, mgr: ep.mgr},
		ep:              ep,
	}
}

// ValidateMandatory reports a mandatory foreign key that is not set.
func (ep *RealObjectEndPoint) ValidateMandatory() error {
	if ep.id.Definition.Mandatory && ep.OppositeObjectID().IsZero() {
		return domain.MandatoryRelationNotSetError{ObjectID: ep.ObjectID(), Property: ep.id.Definition.ID()}
	}
	return nil
}

func (ep *RealObjectEndPoint) setDataFromSubTransaction(source *RealObjectEndPoint) {
	fk, src := ep.fk(), source.fk()
	if fk.current != src.current || src.touched {
		fk.current = src.current
		fk.touched = true
	}
}

// FlattenType implements flatten.Flattenable.
func (*RealObjectEndPoint) FlattenType() string { return "real_end_point" }

// Flatten implements flatten.Flattenable.
func (ep *RealObjectEndPoint) Flatten(w *flatten.Writer) {
	w.Object(ep.mgr)
	w.String(ep.id.Definition.ID())
	w.String(ep.id.ObjectID.String())
	w.Object(ep.dc)
	w.Int(int64(ep.syncState))
}

// Rehydrate implements flatten.Rehydrator.
func (ep *RealObjectEndPoint) Rehydrate(r *flatten.Reader) error {
	ep.mgr, _ = r.Object().(*RelationEndPointManager)
	ep.id.Definition = readDefinition(r)
	ep.id.ObjectID = readObjectID(r)
	ep.dc, _ = r.Object().(*DataContainer)
	ep.syncState = SyncState(r.Int())
	if r.Err() == nil && (ep.mgr == nil || ep.dc == nil) {
		return fmt.Errorf("%w: real end-point %s without manager or data", domain.ErrInvalidArgument, ep.id)
	}
	return r.Err()
}

func readDefinition(r *flatten.Reader) *domain.RelationEndPointDefinition {
	id := r.String()
	if r.Err() != nil {
		return nil
	}
	rc, ok := r.Context().(*restoreContext)
	if !ok {
		r.Fail(fmt.Errorf("%w: missing restore context", domain.ErrInvalidArgument))
		return nil
	}
	def, ok := rc.mapping.EndPointDefinition(id)
	if !ok {
		r.Fail(fmt.Errorf("%w: unknown end-point definition %q", domain.ErrInvalidArgument, id))
	}
	return def
}

// realSetCommand changes the foreign key of a real end-point.
type realSetCommand struct {
	relationCommand
	ep *RealObjectEndPoint
}

func (c *realSetCommand) Perform() error {
	fk := c.ep.fk()
	fk.current = c.newRelated
	fk.touched = true
	c.mgr.metrics.commandPerformed("object_set")
	return nil
}

// ExpandToAllRelatedObjects updates the old and new opposite virtual
// end-points. For one-to-one relations the object previously referenced by
// the new opposite loses its foreign key as well.
func (c *realSetCommand) ExpandToAllRelatedObjects() Command {
	comp := NewCompositeCommand(c)
	def := c.id.Definition
	if def.Opposite().IsAnonymous() {
		return comp
	}
	owner := c.ep.ObjectID()
	if !c.oldRelated.IsZero() {
		oldOpposite, err := c.mgr.virtualWithLazyLoad(c.id.opposite(c.oldRelated))
		if err != nil {
			comp.Add(NewExceptionCommand(err))
		} else {
			comp.Add(oldOpposite.createRemoveOppositeCommand(owner))
		}
	}
	if c.newRelated.IsZero() {
		return comp
	}
	newOpposite, err := c.mgr.virtualWithLazyLoad(c.id.opposite(c.newRelated))
	if err != nil {
		comp.Add(NewExceptionCommand(err))
		return comp
	}
	if vo, ok := newOpposite.(*VirtualObjectEndPoint); ok {
		previous, err := vo.OppositeObjectID()
		if err != nil {
			comp.Add(NewExceptionCommand(err))
			return comp
		}
		if !previous.IsZero() && previous != owner {
			previousReal, err := c.mgr.realWithLazyLoad(NewRelationEndPointID(previous, def))
			if err != nil {
				comp.Add(NewExceptionCommand(err))
			} else {
				comp.Add(previousReal.createSetCommand(domain.ObjectID{}))
			}
		}
	}
	comp.Add(newOpposite.createAddOppositeCommand(owner))
	return comp
}

// touchCommand marks an end-point touched when a modification assigns the
// value it already has. Expanded, it touches the registered opposite too.
type touchCommand struct {
	ep       RelationEndPoint
	mgr      *RelationEndPointManager
	opposite RelationEndPointID
}

func (*touchCommand) Errors() []error { return nil }
func (*touchCommand) Begin()          {}
func (*touchCommand) End()            {}

func (c *touchCommand) Perform() error {
	c.ep.Touch()
	return nil
}

func (c *touchCommand) ExpandToAllRelatedObjects() Command {
	comp := NewCompositeCommand(c)
	if c.opposite.Definition == nil {
		return comp
	}
	if opposite := c.mgr.endPoints.Get(c.opposite); opposite != nil {
		comp.Add(&touchCommand{ep: opposite, mgr: c.mgr})
	}
	return comp
}
