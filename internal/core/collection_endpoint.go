package core

import (
	"errors"
	"fmt"
	"slices"

	"relcore/internal/flatten"
	"relcore/pkg/domain"
)

// CollectionEndPoint is the computed cardinality-many side of a relation.
type CollectionEndPoint struct {
	id       RelationEndPointID
	mgr      *RelationEndPointManager
	state    loadState
	touched  bool
	reported bool
}

func newCollectionEndPoint(mgr *RelationEndPointManager, id RelationEndPointID) *CollectionEndPoint {
	return &CollectionEndPoint{id: id, mgr: mgr, state: newIncompleteState()}
}

func (*CollectionEndPoint) relationEndPoint() {}

func (ep *CollectionEndPoint) ID() RelationEndPointID                         { return ep.id }
func (ep *CollectionEndPoint) ObjectID() domain.ObjectID                      { return ep.id.ObjectID }
func (ep *CollectionEndPoint) Definition() *domain.RelationEndPointDefinition { return ep.id.Definition }
func (ep *CollectionEndPoint) IsDataComplete() bool                           { return ep.state.isDataComplete() }
func (ep *CollectionEndPoint) HasBeenTouched() bool                           { return ep.touched }
func (ep *CollectionEndPoint) Touch()                                         { ep.touched = true }

// EnsureDataComplete loads the collection through the lazy loader if it is
// not known yet.
func (ep *CollectionEndPoint) EnsureDataComplete() error {
	if ep.IsDataComplete() {
		return nil
	}
	return ep.mgr.loadVirtualEndPoint(ep, loadKindCollection)
}

func (ep *CollectionEndPoint) complete() (*completeCollectionState, error) {
	if err := ep.EnsureDataComplete(); err != nil {
		return nil, err
	}
	return ep.state.(*completeCollectionState), nil
}

// MarkDataComplete supplies the items directly, e.g. when they are known
// without a query.
func (ep *CollectionEndPoint) MarkDataComplete(items []domain.ObjectID) error {
	switch st := ep.state.(type) {
	case *incompleteState:
		seen := make(map[domain.ObjectID]struct{}, len(items))
		for _, item := range items {
			if item.IsZero() {
				return fmt.Errorf("%w: %s cannot contain a null item", domain.ErrInvalidArgument, ep.id)
			}
			if _, dup := seen[item]; dup {
				return fmt.Errorf("%w: %s would contain %s twice", domain.ErrInvalidArgument, ep.id, item)
			}
			seen[item] = struct{}{}
		}
		unsynchronized, err := st.classify(ep.mgr, ep.id, items)
		if err != nil {
			return err
		}
		keeper := newCollectionDataKeeper(items)
		for _, item := range items {
			if !st.has(item) {
				keeper.withoutEndPoints[item] = struct{}{}
			}
		}
		ep.state = &completeCollectionState{keeper: keeper, unsynchronized: unsynchronized}
		return nil
	case *completeCollectionState:
		return fmt.Errorf("%w: %s is already complete", domain.ErrInvalidOperation, ep.id)
	default:
		panic(fmt.Sprintf("core: unexpected load state %T", st))
	}
}

// MarkDataIncomplete discards the loaded items. It fails while the
// collection has unsaved changes.
func (ep *CollectionEndPoint) MarkDataIncomplete() error {
	st, ok := ep.state.(*completeCollectionState)
	if !ok {
		return nil
	}
	if ep.HasChanged() {
		return fmt.Errorf("%w: %s has changed and cannot be marked incomplete", domain.ErrInvalidOperation, ep.id)
	}
	var withEndPoint []domain.ObjectID
	for _, item := range st.keeper.original {
		if _, without := st.keeper.withoutEndPoints[item]; !without {
			withEndPoint = append(withEndPoint, item)
		}
	}
	incomplete, err := incompleteFrom(ep.mgr, ep.id, withEndPoint, st.unsynchronized)
	if err != nil {
		return err
	}
	ep.state = incomplete
	return nil
}

// CanBeMarkedIncomplete reports whether the loaded items can be dropped.
func (ep *CollectionEndPoint) CanBeMarkedIncomplete() bool { return !ep.HasChanged() }

// CanBeCollected reports whether the end-point holds nothing worth keeping.
func (ep *CollectionEndPoint) CanBeCollected() bool {
	st, ok := ep.state.(*incompleteState)
	return ok && len(st.originalOpposites) == 0
}

// HasChanged reports whether the current items differ from the original ones.
func (ep *CollectionEndPoint) HasChanged() bool {
	st, ok := ep.state.(*completeCollectionState)
	return ok && st.keeper.hasChanged()
}

func (ep *CollectionEndPoint) SyncState() SyncState {
	st, ok := ep.state.(*completeCollectionState)
	switch {
	case !ok:
		return SyncUnknown
	case len(st.keeper.withoutEndPoints) > 0:
		return SyncUnsynchronized
	default:
		return SyncSynchronized
	}
}

// Collection returns the current items in order, loading them if necessary.
func (ep *CollectionEndPoint) Collection() ([]domain.ObjectID, error) {
	st, err := ep.complete()
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.keeper.current), nil
}

// OriginalCollection returns the items as loaded or last committed.
func (ep *CollectionEndPoint) OriginalCollection() ([]domain.ObjectID, error) {
	st, err := ep.complete()
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.keeper.original), nil
}

// Commit makes the current items the original ones.
func (ep *CollectionEndPoint) Commit() {
	if st, ok := ep.state.(*completeCollectionState); ok && st.keeper.hasChanged() {
		st.keeper.commit()
	}
	ep.touched = false
	ep.raiseStateUpdated()
}

// Rollback restores the original items.
func (ep *CollectionEndPoint) Rollback() {
	if st, ok := ep.state.(*completeCollectionState); ok && st.keeper.hasChanged() {
		st.keeper.rollback()
	}
	ep.touched = false
	ep.raiseStateUpdated()
}

func (ep *CollectionEndPoint) raiseStateUpdated() {
	if changed := ep.HasChanged(); changed != ep.reported {
		ep.reported = changed
		ep.mgr.stateListener.VirtualEndPointStateUpdated(ep.id, changed)
	}
}

func (ep *CollectionEndPoint) registerOriginalOppositeEndPoint(real *RealObjectEndPoint) {
	switch st := ep.state.(type) {
	case *incompleteState:
		st.register(real)
	case *completeCollectionState:
		if st.keeper.attachEndPoint(real.ObjectID()) {
			real.markSynchronized()
			return
		}
		st.unsynchronized[real.ObjectID()] = struct{}{}
		real.markUnsynchronized()
	}
}

// checkUnregisterOriginalOppositeEndPoint reports why real could not be
// unregistered, without changing anything.
func (ep *CollectionEndPoint) checkUnregisterOriginalOppositeEndPoint(real *RealObjectEndPoint) error {
	switch st := ep.state.(type) {
	case *incompleteState:
		if !st.has(real.ObjectID()) {
			return fmt.Errorf("%w: %s is not registered with %s", domain.ErrInvalidOperation, real.ID(), ep.id)
		}
		return nil
	case *completeCollectionState:
		if _, ok := st.unsynchronized[real.ObjectID()]; ok {
			return nil
		}
		_, without := st.keeper.withoutEndPoints[real.ObjectID()]
		if !st.keeper.containsOriginal(real.ObjectID()) || without {
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

func (ep *CollectionEndPoint) unregisterOriginalOppositeEndPoint(real *RealObjectEndPoint) error {
	if err := ep.checkUnregisterOriginalOppositeEndPoint(real); err != nil {
		return err
	}
	switch st := ep.state.(type) {
	case *incompleteState:
		return st.unregister(ep.id, real)
	case *completeCollectionState:
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

func (ep *CollectionEndPoint) synchronizeOppositeEndPoint(real *RealObjectEndPoint) error {
	st, err := ep.complete()
	if err != nil {
		return err
	}
	if _, ok := st.unsynchronized[real.ObjectID()]; !ok {
		return fmt.Errorf("%w: %s is not an unsynchronized opposite of %s", domain.ErrInvalidOperation, real.ID(), ep.id)
	}
	delete(st.unsynchronized, real.ObjectID())
	st.keeper.addOriginalItem(real.ObjectID())
	real.markSynchronized()
	ep.raiseStateUpdated()
	return nil
}

// Synchronize drops original items whose real end-point points elsewhere.
// Items that were merely not loaded yet are loaded first and kept if they
// turn out to belong here.
func (ep *CollectionEndPoint) Synchronize() error {
	st, err := ep.complete()
	if err != nil {
		return err
	}
	for _, item := range st.keeper.itemsWithoutEndPoints() {
		if err := ep.mgr.ensureObjectLoaded(item); err != nil {
			return err
		}
		if _, still := st.keeper.withoutEndPoints[item]; !still {
			continue
		}
		st.keeper.dropItemWithoutEndPoint(item)
		ep.mgr.logger.Debug("collection end-point synchronized", "endpoint", ep.id.String(), "dropped", item.String())
	}
	ep.raiseStateUpdated()
	return nil
}

func (ep *CollectionEndPoint) setDataFromSubTransaction(source VirtualEndPoint) error {
	src, ok := source.(*CollectionEndPoint)
	if !ok {
		return fmt.Errorf("%w: cannot copy %T into %s", domain.ErrInvalidArgument, source, ep.id)
	}
	srcState, ok := src.state.(*completeCollectionState)
	if !ok {
		return fmt.Errorf("%w: source %s is not complete", domain.ErrInvalidOperation, src.id)
	}
	st, err := ep.complete()
	if err != nil {
		return err
	}
	st.keeper.set(srcState.keeper.current)
	if src.touched || st.keeper.hasChanged() {
		ep.touched = true
	}
	ep.raiseStateUpdated()
	return nil
}

func (ep *CollectionEndPoint) checkModification(related *DomainObject) error {
	if err := ep.mgr.tx.checkModifiable(ep.ObjectID()); err != nil {
		return err
	}
	if related == nil {
		return fmt.Errorf("%w: %s cannot contain a null item", domain.ErrInvalidArgument, ep.id)
	}
	return ep.mgr.tx.checkRelated(related, ep.id.Definition.Opposite().ClassID)
}

func (ep *CollectionEndPoint) command(removed, added domain.ObjectID) relationCommand {
	return relationCommand{id: ep.id, oldRelated: removed, newRelated: added, mgr: ep.mgr}
}

// CreateAddCommand appends related to the collection.
func (ep *CollectionEndPoint) CreateAddCommand(related *DomainObject) Command {
	return ep.createInsertCommand(-1, related)
}

// CreateInsertCommand inserts related at index.
func (ep *CollectionEndPoint) CreateInsertCommand(index int, related *DomainObject) Command {
	if index < 0 {
		return NewExceptionCommand(fmt.Errorf("%w: negative index %d", domain.ErrInvalidArgument, index))
	}
	return ep.createInsertCommand(index, related)
}

func (ep *CollectionEndPoint) createInsertCommand(index int, related *DomainObject) Command {
	if err := ep.checkModification(related); err != nil {
		return NewExceptionCommand(err)
	}
	st, err := ep.complete()
	if err != nil {
		return NewExceptionCommand(err)
	}
	if index > len(st.keeper.current) {
		return NewExceptionCommand(fmt.Errorf("%w: index %d out of range for %s with %d items", domain.ErrInvalidArgument, index, ep.id, len(st.keeper.current)))
	}
	if st.keeper.contains(related.ID()) {
		return NewExceptionCommand(fmt.Errorf("%w: %s already contains %s", domain.ErrInvalidOperation, ep.id, related.ID()))
	}
	return &collectionInsertCommand{relationCommand: ep.command(domain.ObjectID{}, related.ID()), ep: ep, index: index}
}

// CreateRemoveCommand removes related. Removing an item that is not in the
// collection does nothing.
func (ep *CollectionEndPoint) CreateRemoveCommand(related *DomainObject) Command {
	if err := ep.checkModification(related); err != nil {
		return NewExceptionCommand(err)
	}
	return ep.createRemoveOppositeCommand(related.ID())
}

// CreateReplaceCommand replaces the item at index with related.
func (ep *CollectionEndPoint) CreateReplaceCommand(index int, related *DomainObject) Command {
	if err := ep.checkModification(related); err != nil {
		return NewExceptionCommand(err)
	}
	st, err := ep.complete()
	if err != nil {
		return NewExceptionCommand(err)
	}
	if index < 0 || index >= len(st.keeper.current) {
		return NewExceptionCommand(fmt.Errorf("%w: index %d out of range for %s with %d items", domain.ErrInvalidArgument, index, ep.id, len(st.keeper.current)))
	}
	old := st.keeper.current[index]
	if old == related.ID() {
		return &touchCommand{ep: ep, mgr: ep.mgr}
	}
	if st.keeper.contains(related.ID()) {
		return NewExceptionCommand(fmt.Errorf("%w: %s already contains %s", domain.ErrInvalidOperation, ep.id, related.ID()))
	}
	return &collectionReplaceCommand{relationCommand: ep.command(old, related.ID()), ep: ep, index: index}
}

// CreateSetCollectionCommand replaces all items with related.
func (ep *CollectionEndPoint) CreateSetCollectionCommand(related []*DomainObject) Command {
	if err := ep.mgr.tx.checkModifiable(ep.ObjectID()); err != nil {
		return NewExceptionCommand(err)
	}
	items := make([]domain.ObjectID, 0, len(related))
	var errs []error
	for _, obj := range related {
		if err := ep.checkModification(obj); err != nil {
			errs = append(errs, err)
			continue
		}
		if slices.Contains(items, obj.ID()) {
			errs = append(errs, fmt.Errorf("%w: %s listed twice for %s", domain.ErrInvalidArgument, obj.ID(), ep.id))
			continue
		}
		items = append(items, obj.ID())
	}
	if len(errs) > 0 {
		return NewExceptionCommand(errors.Join(errs...))
	}
	st, err := ep.complete()
	if err != nil {
		return NewExceptionCommand(err)
	}
	if slices.Equal(st.keeper.current, items) {
		return &touchCommand{ep: ep, mgr: ep.mgr}
	}
	return &collectionSetCommand{relationCommand: ep.command(domain.ObjectID{}, domain.ObjectID{}), ep: ep, items: items}
}

// CreateDeleteCommand empties the collection as part of deleting the owner.
func (ep *CollectionEndPoint) CreateDeleteCommand() Command {
	if _, err := ep.complete(); err != nil {
		return NewExceptionCommand(err)
	}
	return &collectionSetCommand{relationCommand: ep.command(domain.ObjectID{}, domain.ObjectID{}), ep: ep, kind: "collection_delete"}
}

func (ep *CollectionEndPoint) createRemoveOppositeCommand(removed domain.ObjectID) Command {
	st, err := ep.complete()
	if err != nil {
		return NewExceptionCommand(err)
	}
	if !st.keeper.contains(removed) {
		return NopCommand{}
	}
	return &collectionRemoveCommand{relationCommand: ep.command(removed, domain.ObjectID{}), ep: ep}
}

func (ep *CollectionEndPoint) createAddOppositeCommand(added domain.ObjectID) Command {
	st, err := ep.complete()
	if err != nil {
		return NewExceptionCommand(err)
	}
	if st.keeper.contains(added) {
		return &touchCommand{ep: ep, mgr: ep.mgr}
	}
	return &collectionInsertCommand{relationCommand: ep.command(domain.ObjectID{}, added), ep: ep, index: -1}
}

// ValidateMandatory reports a mandatory collection that is known to be
// empty. Unloaded collections are not checked.
func (ep *CollectionEndPoint) ValidateMandatory() error {
	st, ok := ep.state.(*completeCollectionState)
	if !ok || !ep.id.Definition.Mandatory || len(st.keeper.current) > 0 {
		return nil
	}
	return domain.MandatoryRelationNotSetError{ObjectID: ep.ObjectID(), Property: ep.id.Definition.ID()}
}

// FlattenType implements flatten.Flattenable.
func (*CollectionEndPoint) FlattenType() string { return "collection_end_point" }

// Flatten implements flatten.Flattenable.
func (ep *CollectionEndPoint) Flatten(w *flatten.Writer) {
	w.Object(ep.mgr)
	w.String(ep.id.Definition.ID())
	w.String(ep.id.ObjectID.String())
	w.Bool(ep.touched)
	w.Bool(ep.reported)
	switch st := ep.state.(type) {
	case *incompleteState:
		w.Bool(false)
		writeObjectIDSet(w, st.originalOpposites)
	case *completeCollectionState:
		w.Bool(true)
		writeObjectIDs(w, st.keeper.current)
		writeObjectIDs(w, st.keeper.original)
		writeObjectIDSet(w, st.keeper.withoutEndPoints)
		writeObjectIDSet(w, st.unsynchronized)
	}
}

// Rehydrate implements flatten.Rehydrator.
func (ep *CollectionEndPoint) Rehydrate(r *flatten.Reader) error {
	ep.mgr, _ = r.Object().(*RelationEndPointManager)
	ep.id.Definition = readDefinition(r)
	ep.id.ObjectID = readObjectID(r)
	ep.touched = r.Bool()
	ep.reported = r.Bool()
	if r.Bool() {
		keeper := &collectionDataKeeper{current: readObjectIDs(r), original: readObjectIDs(r), withoutEndPoints: readObjectIDSet(r)}
		ep.state = &completeCollectionState{keeper: keeper, unsynchronized: readObjectIDSet(r)}
	} else {
		ep.state = &incompleteState{originalOpposites: readObjectIDSet(r)}
	}
	if r.Err() == nil && ep.mgr == nil {
		return errors.New("collection end-point without manager")
	}
	return r.Err()
}

// realEndPoint loads the real end-point of item. A failure comes back as an
// ExceptionCommand.
func (ep *CollectionEndPoint) realEndPoint(item domain.ObjectID) (*RealObjectEndPoint, Command) {
	real, err := ep.mgr.realWithLazyLoad(NewRelationEndPointID(item, ep.id.Definition.Opposite()))
	if err != nil {
		return nil, NewExceptionCommand(err)
	}
	return real, nil
}

// attach adds to comp the commands that point item's foreign key at the
// owner and remove item from the collection it belonged to before.
func (ep *CollectionEndPoint) attach(comp *CompositeCommand, item domain.ObjectID) {
	real, failed := ep.realEndPoint(item)
	if failed != nil {
		comp.Add(failed)
		return
	}
	previousOwner := real.OppositeObjectID()
	comp.Add(real.createSetCommand(ep.ObjectID()))
	if previousOwner.IsZero() || previousOwner == ep.ObjectID() {
		return
	}
	previous, err := ep.mgr.virtualWithLazyLoad(NewRelationEndPointID(previousOwner, ep.id.Definition))
	if err != nil {
		comp.Add(NewExceptionCommand(err))
		return
	}
	comp.Add(previous.createRemoveOppositeCommand(item))
}

// detach adds to comp the command that clears item's foreign key.
func (ep *CollectionEndPoint) detach(comp *CompositeCommand, item domain.ObjectID) {
	real, failed := ep.realEndPoint(item)
	if failed != nil {
		comp.Add(failed)
		return
	}
	comp.Add(real.createSetCommand(domain.ObjectID{}))
}

func (ep *CollectionEndPoint) keeper() *collectionDataKeeper {
	return ep.state.(*completeCollectionState).keeper
}

func (ep *CollectionEndPoint) modified(kind string) {
	ep.Touch()
	ep.raiseStateUpdated()
	ep.mgr.metrics.commandPerformed(kind)
}

type collectionInsertCommand struct {
	relationCommand
	ep    *CollectionEndPoint
	index int
}

func (c *collectionInsertCommand) Perform() error {
	c.ep.keeper().insert(c.index, c.newRelated)
	c.ep.modified("collection_insert")
	return nil
}

func (c *collectionInsertCommand) ExpandToAllRelatedObjects() Command {
	comp := NewCompositeCommand(c)
	c.ep.attach(comp, c.newRelated)
	return comp
}

type collectionRemoveCommand struct {
	relationCommand
	ep *CollectionEndPoint
}

func (c *collectionRemoveCommand) Perform() error {
	c.ep.keeper().remove(c.oldRelated)
	c.ep.modified("collection_remove")
	return nil
}

func (c *collectionRemoveCommand) ExpandToAllRelatedObjects() Command {
	comp := NewCompositeCommand(c)
	c.ep.detach(comp, c.oldRelated)
	return comp
}

type collectionReplaceCommand struct {
	relationCommand
	ep    *CollectionEndPoint
	index int
}

func (c *collectionReplaceCommand) Perform() error {
	c.ep.keeper().replace(c.index, c.newRelated)
	c.ep.modified("collection_replace")
	return nil
}

func (c *collectionReplaceCommand) ExpandToAllRelatedObjects() Command {
	comp := NewCompositeCommand(c)
	c.ep.detach(comp, c.oldRelated)
	c.ep.attach(comp, c.newRelated)
	return comp
}

// collectionSetCommand replaces the whole collection; with no items it
// implements deletion.
type collectionSetCommand struct {
	relationCommand
	ep    *CollectionEndPoint
	items []domain.ObjectID
	kind  string
}

func (c *collectionSetCommand) Perform() error {
	c.ep.keeper().set(c.items)
	kind := c.kind
	if kind == "" {
		kind = "collection_set"
	}
	c.ep.modified(kind)
	return nil
}

func (c *collectionSetCommand) ExpandToAllRelatedObjects() Command {
	comp := NewCompositeCommand(c)
	current := c.ep.keeper().current
	for _, item := range current {
		if !slices.Contains(c.items, item) {
			c.ep.detach(comp, item)
		}
	}
	for _, item := range c.items {
		if !slices.Contains(current, item) {
			c.ep.attach(comp, item)
		}
	}
	return comp
}
