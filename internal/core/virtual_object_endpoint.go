package core

import (
	"errors"
	"fmt"

	"relcore/internal/flatten"
	"relcore/pkg/domain"
)

// VirtualObjectEndPoint is the computed cardinality-one side of a
// bidirectional one-to-one relation.
type VirtualObjectEndPoint struct {
	id       RelationEndPointID
	mgr      *RelationEndPointManager
	state    loadState
	touched  bool
	reported bool
}

func newVirtualObjectEndPoint(mgr *RelationEndPointManager, id RelationEndPointID) *VirtualObjectEndPoint {
	return &VirtualObjectEndPoint{id: id, mgr: mgr, state: newIncompleteState()}
}

func (*VirtualObjectEndPoint) relationEndPoint() {}

func (ep *VirtualObjectEndPoint) ID() RelationEndPointID                         { return ep.id }
func (ep *VirtualObjectEndPoint) ObjectID() domain.ObjectID                      { return ep.id.ObjectID }
func (ep *VirtualObjectEndPoint) Definition() *domain.RelationEndPointDefinition { return ep.id.Definition }
func (ep *VirtualObjectEndPoint) IsDataComplete() bool                           { return ep.state.isDataComplete() }
func (ep *VirtualObjectEndPoint) HasBeenTouched() bool                           { return ep.touched }
func (ep *VirtualObjectEndPoint) Touch()                                         { ep.touched = true }

// EnsureDataComplete loads the related object through the lazy loader if it
// is not known yet.
func (ep *VirtualObjectEndPoint) EnsureDataComplete() error {
	if ep.IsDataComplete() {
		return nil
	}
	return ep.mgr.loadVirtualEndPoint(ep, loadKindVirtualObject)
}

func (ep *VirtualObjectEndPoint) complete() (*completeVirtualObjectState, error) {
	if err := ep.EnsureDataComplete(); err != nil {
		return nil, err
	}
	return ep.state.(*completeVirtualObjectState), nil
}

// MarkDataComplete supplies the related object directly. A zero item means
// the end-point is known to be empty.
func (ep *VirtualObjectEndPoint) MarkDataComplete(item domain.ObjectID) error {
	switch st := ep.state.(type) {
	case *incompleteState:
		unsynchronized, err := st.classify(ep.mgr, ep.id, []domain.ObjectID{item})
		if err != nil {
			return err
		}
		keeper := &virtualObjectDataKeeper{current: item, original: item}
		keeper.originalWithoutEndPoint = !item.IsZero() && !st.has(item)
		ep.state = &completeVirtualObjectState{keeper: keeper, unsynchronized: unsynchronized}
		return nil
	case *completeVirtualObjectState:
		return fmt.Errorf("%w: %s is already complete", domain.ErrInvalidOperation, ep.id)
	default:
		panic(fmt.Sprintf("core: unexpected load state %T", st))
	}
}

// MarkDataIncomplete discards the loaded data. It fails while the end-point
// has unsaved changes.
func (ep *VirtualObjectEndPoint) MarkDataIncomplete() error {
	st, ok := ep.state.(*completeVirtualObjectState)
	if !ok {
		return nil
	}
	if ep.HasChanged() {
		return fmt.Errorf("%w: %s has changed and cannot be marked incomplete", domain.ErrInvalidOperation, ep.id)
	}
	var withEndPoint []domain.ObjectID
	if !st.keeper.original.IsZero() && !st.keeper.originalWithoutEndPoint {
		withEndPoint = append(withEndPoint, st.keeper.original)
	}
	incomplete, err := incompleteFrom(ep.mgr, ep.id, withEndPoint, st.unsynchronized)
	if err != nil {
		return err
	}
	ep.state = incomplete
	return nil
}

func (ep *VirtualObjectEndPoint) CanBeMarkedIncomplete() bool { return !ep.HasChanged() }

// CanBeCollected reports whether the end-point holds nothing worth keeping.
func (ep *VirtualObjectEndPoint) CanBeCollected() bool {
	st, ok := ep.state.(*incompleteState)
	return ok && len(st.originalOpposites) == 0
}

// HasChanged reports whether the current opposite differs from the original.
func (ep *VirtualObjectEndPoint) HasChanged() bool {
	st, ok := ep.state.(*completeVirtualObjectState)
	return ok && st.keeper.hasChanged()
}

func (ep *VirtualObjectEndPoint) SyncState() SyncState {
	st, ok := ep.state.(*completeVirtualObjectState)
	switch {
	case !ok:
		return SyncUnknown
	case st.keeper.originalWithoutEndPoint:
		return SyncUnsynchronized
	default:
		return SyncSynchronized
	}
}

// OppositeObjectID returns the related object, loading it if necessary.
func (ep *VirtualObjectEndPoint) OppositeObjectID() (domain.ObjectID, error) {
	st, err := ep.complete()
	if err != nil {
		return domain.ObjectID{}, err
	}
	return st.keeper.current, nil
}

// OriginalOppositeObjectID returns the related object as loaded or last
// committed.
func (ep *VirtualObjectEndPoint) OriginalOppositeObjectID() (domain.ObjectID, error) {
	st, err := ep.complete()
	if err != nil {
		return domain.ObjectID{}, err
	}
	return st.keeper.original, nil
}

// Commit makes the current opposite the original one.
func (ep *VirtualObjectEndPoint) Commit() {
	if st, ok := ep.state.(*completeVirtualObjectState); ok && st.keeper.hasChanged() {
		st.keeper.commit()
	}
	ep.touched = false
	ep.raiseStateUpdated()
}

// Rollback restores the original opposite.
func (ep *VirtualObjectEndPoint) Rollback() {
	if st, ok := ep.state.(*completeVirtualObjectState); ok && st.keeper.hasChanged() {
		st.keeper.rollback()
	}
	ep.touched = false
	ep.raiseStateUpdated()
}

func (ep *VirtualObjectEndPoint) raiseStateUpdated() {
	if changed := ep.HasChanged(); changed != ep.reported {
		ep.reported = changed
		ep.mgr.stateListener.VirtualEndPointStateUpdated(ep.id, changed)
	}
}

func (ep *VirtualObjectEndPoint) registerOriginalOppositeEndPoint(real *RealObjectEndPoint) {
	switch st := ep.state.(type) {
	case *incompleteState:
		st.register(real)
	case *completeVirtualObjectState:
		if st.keeper.original == real.ObjectID() && st.keeper.originalWithoutEndPoint {
			st.keeper.originalWithoutEndPoint = false
			real.markSynchronized()
			return
		}
		st.unsynchronized[real.ObjectID()] = struct{}{}
		real.markUnsynchronized()
	}
}

// checkUnregisterOriginalOppositeEndPoint reports why real could not be
// unregistered, without changing anything.
func (ep *VirtualObjectEndPoint) checkUnregisterOriginalOppositeEndPoint(real *RealObjectEndPoint) error {
	switch st := ep.state.(type) {
	case *incompleteState:
		if !st.has(real.ObjectID()) {
			return fmt.Errorf("%w: %s is not registered with %s", domain.ErrInvalidOperation, real.ID(), ep.id)
		}
		return nil
	case *completeVirtualObjectState:
		if _, ok := st.unsynchronized[real.ObjectID()]; ok {
			return nil
		}
		if st.keeper.original != real.ObjectID() || st.keeper.originalWithoutEndPoint {
			return fmt.Errorf("%w: %s is not registered with %s", domain.ErrInvalidOperation, real.ID(), ep.id)
		}
		if !ep.CanBeMarkedIncomplete() {
			return fmt.Errorf("%w: %s has changed and cannot be marked incomplete to unregister %s", domain.ErrInvalidOperation, ep.id, real.ID())
		}
		return nil
	default:
		panic(fmt.Sprintf("core: unexpected load state %T", st))
	}
}

func (ep *VirtualObjectEndPoint) unregisterOriginalOppositeEndPoint(real *RealObjectEndPoint) error {
	if err := ep.checkUnregisterOriginalOppositeEndPoint(real); err != nil {
		return err
	}
	switch st := ep.state.(type) {
	case *incompleteState:
		return st.unregister(ep.id, real)
	case *completeVirtualObjectState:
		if _, ok := st.unsynchronized[real.ObjectID()]; ok {
			delete(st.unsynchronized, real.ObjectID())
			return nil
		}
		if err := ep.MarkDataIncomplete(); err != nil {
			return fmt.Errorf("unregister %s: %w", real.ID(), err)
		}
		return ep.state.(*incompleteState).unregister(ep.id, real)
	default:
		panic(fmt.Sprintf("core: unexpected load state %T", st))
	}
}

func (ep *VirtualObjectEndPoint) synchronizeOppositeEndPoint(real *RealObjectEndPoint) error {
	st, err := ep.complete()
	if err != nil {
		return err
	}
	if _, ok := st.unsynchronized[real.ObjectID()]; !ok {
		return fmt.Errorf("%w: %s is not an unsynchronized opposite of %s", domain.ErrInvalidOperation, real.ID(), ep.id)
	}
	if !st.keeper.original.IsZero() {
		return fmt.Errorf("%w: %s cannot be synchronized because %s already references %s; synchronize that end-point first",
			domain.ErrInvalidOperation, real.ID(), ep.id, st.keeper.original)
	}
	delete(st.unsynchronized, real.ObjectID())
	st.keeper.original = real.ObjectID()
	if st.keeper.current.IsZero() {
		st.keeper.current = real.ObjectID()
	}
	real.markSynchronized()
	ep.raiseStateUpdated()
	return nil
}

// Synchronize drops an original related object whose real end-point turned
// out to point elsewhere.
func (ep *VirtualObjectEndPoint) Synchronize() error {
	st, err := ep.complete()
	if err != nil {
		return err
	}
	if !st.keeper.originalWithoutEndPoint {
		return nil
	}
	item := st.keeper.original
	if err := ep.mgr.ensureObjectLoaded(item); err != nil {
		return err
	}
	if !st.keeper.originalWithoutEndPoint {
		return nil
	}
	st.keeper.originalWithoutEndPoint = false
	st.keeper.original = domain.ObjectID{}
	if st.keeper.current == item {
		st.keeper.current = domain.ObjectID{}
	}
	ep.raiseStateUpdated()
	ep.mgr.logger.Debug("virtual end-point synchronized", "endpoint", ep.id.String(), "dropped", item.String())
	return nil
}

func (ep *VirtualObjectEndPoint) setDataFromSubTransaction(source VirtualEndPoint) error {
	src, ok := source.(*VirtualObjectEndPoint)
	if !ok {
		return fmt.Errorf("%w: cannot copy %T into %s", domain.ErrInvalidArgument, source, ep.id)
	}
	srcState, ok := src.state.(*completeVirtualObjectState)
	if !ok {
		return fmt.Errorf("%w: source %s is not complete", domain.ErrInvalidOperation, src.id)
	}
	st, err := ep.complete()
	if err != nil {
		return err
	}
	st.keeper.current = srcState.keeper.current
	if src.touched || st.keeper.hasChanged() {
		ep.touched = true
	}
	ep.raiseStateUpdated()
	return nil
}

// CreateSetCommand builds the command that makes related the opposite
// object. A nil related clears the relation.
func (ep *VirtualObjectEndPoint) CreateSetCommand(related *DomainObject) Command {
	if err := ep.mgr.tx.checkModifiable(ep.ObjectID()); err != nil {
		return NewExceptionCommand(err)
	}
	if err := ep.mgr.tx.checkRelated(related, ep.id.Definition.Opposite().ClassID); err != nil {
		return NewExceptionCommand(err)
	}
	return ep.createSetCommand(related.ID())
}

// CreateDeleteCommand clears the relation as part of deleting the owner.
func (ep *VirtualObjectEndPoint) CreateDeleteCommand() Command {
	return ep.createSetCommand(domain.ObjectID{})
}

func (ep *VirtualObjectEndPoint) createSetCommand(newRelated domain.ObjectID) Command {
	st, err := ep.complete()
	if err != nil {
		return NewExceptionCommand(err)
	}
	old := st.keeper.current
	if old == newRelated {
		return &touchCommand{ep: ep, mgr: ep.mgr}
	}
	return &virtualObjectSetCommand{
		relationCommand: relationCommand{id: ep.id, oldRelated: old, newRelated: newRelated, mgr: ep.mgr},
		ep:              ep,
	}
}

func (ep *VirtualObjectEndPoint) createRemoveOppositeCommand(removed domain.ObjectID) Command {
	st, err := ep.complete()
	if err != nil {
		return NewExceptionCommand(err)
	}
	if st.keeper.current != removed {
		return NopCommand{}
	}
	return ep.createSetCommand(domain.ObjectID{})
}

func (ep *VirtualObjectEndPoint) createAddOppositeCommand(added domain.ObjectID) Command {
	return ep.createSetCommand(added)
}

// ValidateMandatory reports a mandatory relation that is known to be empty.
// Unloaded end-points are not checked.
func (ep *VirtualObjectEndPoint) ValidateMandatory() error {
	st, ok := ep.state.(*completeVirtualObjectState)
	if !ok || !ep.id.Definition.Mandatory || !st.keeper.current.IsZero() {
		return nil
	}
	return domain.MandatoryRelationNotSetError{ObjectID: ep.ObjectID(), Property: ep.id.Definition.ID()}
}

// FlattenType implements flatten.Flattenable.
func (*VirtualObjectEndPoint) FlattenType() string { return "virtual_object_end_point" }

// Flatten implements flatten.Flattenable.
func (ep *VirtualObjectEndPoint) Flatten(w *flatten.Writer) {
	w.Object(ep.mgr)
	w.String(ep.id.Definition.ID())
	w.String(ep.id.ObjectID.String())
	w.Bool(ep.touched)
	w.Bool(ep.reported)
	switch st := ep.state.(type) {
	case *incompleteState:
		w.Bool(false)
		writeObjectIDSet(w, st.originalOpposites)
	case *completeVirtualObjectState:
		w.Bool(true)
		w.String(st.keeper.current.String())
		w.String(st.keeper.original.String())
		w.Bool(st.keeper.originalWithoutEndPoint)
		writeObjectIDSet(w, st.unsynchronized)
	}
}

// Rehydrate implements flatten.Rehydrator.
func (ep *VirtualObjectEndPoint) Rehydrate(r *flatten.Reader) error {
	ep.mgr, _ = r.Object().(*RelationEndPointManager)
	ep.id.Definition = readDefinition(r)
	ep.id.ObjectID = readObjectID(r)
	ep.touched = r.Bool()
	ep.reported = r.Bool()
	if r.Bool() {
		keeper := &virtualObjectDataKeeper{current: readObjectID(r), original: readObjectID(r), originalWithoutEndPoint: r.Bool()}
		ep.state = &completeVirtualObjectState{keeper: keeper, unsynchronized: readObjectIDSet(r)}
	} else {
		ep.state = &incompleteState{originalOpposites: readObjectIDSet(r)}
	}
	if r.Err() == nil && ep.mgr == nil {
		return errors.New("virtual object end-point without manager")
	}
	return r.Err()
}

// virtualObjectSetCommand changes the related object of a virtual object
// end-point.
type virtualObjectSetCommand struct {
	relationCommand
	ep *VirtualObjectEndPoint
}

func (c *virtualObjectSetCommand) Perform() error {
	st := c.ep.state.(*completeVirtualObjectState)
	st.keeper.current = c.newRelated
	c.ep.Touch()
	c.ep.raiseStateUpdated()
	c.mgr.metrics.commandPerformed("virtual_object_set")
	return nil
}

// ExpandToAllRelatedObjects clears the foreign key of the old related object,
// points the new one's foreign key here and removes the new one from the
// virtual end-point it was attached to before.
func (c *virtualObjectSetCommand) ExpandToAllRelatedObjects() Command {
	comp := NewCompositeCommand(c)
	realDef := c.id.Definition.Opposite()
	owner := c.ep.ObjectID()
	if !c.oldRelated.IsZero() {
		oldReal, err := c.mgr.realWithLazyLoad(NewRelationEndPointID(c.oldRelated, realDef))
		if err != nil {
			comp.Add(NewExceptionCommand(err))
		} else {
			comp.Add(oldReal.createSetCommand(domain.ObjectID{}))
		}
	}
	if c.newRelated.IsZero() {
		return comp
	}
	newReal, err := c.mgr.realWithLazyLoad(NewRelationEndPointID(c.newRelated, realDef))
	if err != nil {
		comp.Add(NewExceptionCommand(err))
		return comp
	}
	previousOwner := newReal.OppositeObjectID()
	comp.Add(newReal.createSetCommand(owner))
	if !previousOwner.IsZero() && previousOwner != owner {
		previous, err := c.mgr.virtualWithLazyLoad(NewRelationEndPointID(previousOwner, c.id.Definition))
		if err != nil {
			comp.Add(NewExceptionCommand(err))
		} else {
			comp.Add(previous.createRemoveOppositeCommand(c.newRelated))
		}
	}
	return comp
}

func writeObjectIDSet(w *flatten.Writer, set map[domain.ObjectID]struct{}) {
	ids := sortedObjectIDs(set)
	w.Int(int64(len(ids)))
	for _, id := range ids {
		w.String(id.String())
	}
}

func readObjectIDSet(r *flatten.Reader) map[domain.ObjectID]struct{} {
	n := r.Count()
	set := make(map[domain.ObjectID]struct{}, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		set[readObjectID(r)] = struct{}{}
	}
	return set
}

func writeObjectIDs(w *flatten.Writer, ids []domain.ObjectID) {
	w.Int(int64(len(ids)))
	for _, id := range ids {
		w.String(id.String())
	}
}

func readObjectIDs(r *flatten.Reader) []domain.ObjectID {
	n := r.Count()
	ids := make([]domain.ObjectID, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		ids = append(ids, readObjectID(r))
	}
	return ids
}
