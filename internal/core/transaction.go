package core

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"relcore/pkg/domain"
)

// DomainObject is a handle on a persistent object. Handles belong to one
// transaction hierarchy and are shared by all its transactions.
type DomainObject struct {
	id   domain.ObjectID
	root *ClientTransaction
}

// ID returns the object's identifier. A nil handle has the zero ID.
func (o *DomainObject) ID() domain.ObjectID {
	if o == nil {
		return domain.ObjectID{}
	}
	return o.id
}

func (o *DomainObject) String() string { return o.ID().String() }

// ClientTransaction tracks loaded objects and their relations until they
// are committed or rolled back. A transaction with an active
// sub-transaction is read-only until the sub-transaction is discarded.
type ClientTransaction struct {
	id             string
	mapping        domain.MetadataProvider
	source         domain.DataSource
	parent         *ClientTransaction
	child          *ClientTransaction
	root           *ClientTransaction
	dataContainers map[domain.ObjectID]*DataContainer
	manager        *RelationEndPointManager
	opts           options
	discarded      bool

	// root only
	objects map[domain.ObjectID]*DomainObject
	invalid map[domain.ObjectID]struct{}
}

// NewRootTransaction starts a transaction that loads from and saves to
// source. source may be nil for transactions that only create objects.
func NewRootTransaction(mapping domain.MetadataProvider, source domain.DataSource, opts ...Option) *ClientTransaction {
	tx := &ClientTransaction{
		id:             uuid.NewString(),
		mapping:        mapping,
		source:         source,
		dataContainers: make(map[domain.ObjectID]*DataContainer),
		opts:           buildOptions(opts),
		objects:        make(map[domain.ObjectID]*DomainObject),
		invalid:        make(map[domain.ObjectID]struct{}),
	}
	tx.root = tx
	tx.manager = newRelationEndPointManager(tx, &rootLoader{tx: tx}, true, tx.opts)
	return tx
}

// ID returns the transaction's identifier.
func (tx *ClientTransaction) ID() string { return tx.id }

// Parent returns the parent transaction, or nil for a root transaction.
func (tx *ClientTransaction) Parent() *ClientTransaction { return tx.parent }

// Root returns the root of the transaction hierarchy.
func (tx *ClientTransaction) Root() *ClientTransaction { return tx.root }

// IsRoot reports whether tx has no parent.
func (tx *ClientTransaction) IsRoot() bool { return tx.parent == nil }

// IsReadOnly reports whether tx has an active sub-transaction.
func (tx *ClientTransaction) IsReadOnly() bool { return tx.child != nil }

// IsDiscarded reports whether tx can no longer be used.
func (tx *ClientTransaction) IsDiscarded() bool { return tx.discarded }

// EndPointManager returns the manager of tx's relation end-points.
func (tx *ClientTransaction) EndPointManager() *RelationEndPointManager { return tx.manager }

// Mapping returns the metadata tx was created with.
func (tx *ClientTransaction) Mapping() domain.MetadataProvider { return tx.mapping }

// CreateSubTransaction starts a child transaction. tx stays read-only until
// the child is discarded.
func (tx *ClientTransaction) CreateSubTransaction() (*ClientTransaction, error) {
	if err := tx.checkWritable(); err != nil {
		return nil, err
	}
	child := &ClientTransaction{
		id:             uuid.NewString(),
		mapping:        tx.mapping,
		parent:         tx,
		root:           tx.root,
		dataContainers: make(map[domain.ObjectID]*DataContainer),
		opts:           tx.opts,
	}
	child.manager = newRelationEndPointManager(child, &subTransactionLoader{tx: child}, false, tx.opts)
	tx.child = child
	tx.opts.logger.Debug("sub-transaction created", "transaction", child.id, "parent", tx.id)
	return child, nil
}

// Discard ends tx without committing. Discarding a sub-transaction makes
// its parent writable again.
func (tx *ClientTransaction) Discard() error {
	if tx.discarded {
		return nil
	}
	if tx.child != nil {
		if err := tx.child.Discard(); err != nil {
			return err
		}
	}
	if tx.parent != nil {
		tx.parent.child = nil
	}
	tx.discarded = true
	return nil
}

func (tx *ClientTransaction) checkUsable() error {
	if tx.discarded {
		return fmt.Errorf("%w: transaction %s has been discarded", domain.ErrInvalidOperation, tx.id)
	}
	return nil
}

func (tx *ClientTransaction) checkWritable() error {
	if err := tx.checkUsable(); err != nil {
		return err
	}
	if tx.child != nil {
		return fmt.Errorf("%w: transaction %s is read-only while sub-transaction %s is active", domain.ErrInvalidOperation, tx.id, tx.child.id)
	}
	return nil
}

func (tx *ClientTransaction) checkAlive(id domain.ObjectID) error {
	if _, gone := tx.root.invalid[id]; gone {
		return domain.ObjectDeletedError{ObjectID: id}
	}
	if dc, ok := tx.dataContainers[id]; ok && dc.deleted {
		return domain.ObjectDeletedError{ObjectID: id}
	}
	return nil
}

// checkModifiable guards modifications of the end-points owned by id.
func (tx *ClientTransaction) checkModifiable(id domain.ObjectID) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	return tx.checkAlive(id)
}

// checkEnlisted guards objects passed in from outside.
func (tx *ClientTransaction) checkEnlisted(obj *DomainObject) error {
	if obj == nil {
		return fmt.Errorf("%w: object required", domain.ErrInvalidArgument)
	}
	if obj.root != tx.root {
		return domain.ObjectNotEnlistedError{ObjectID: obj.id, TransactionID: tx.id}
	}
	return nil
}

// checkRelated validates an object that is about to become related through
// an end-point whose opposite class is classID. A nil object is allowed.
func (tx *ClientTransaction) checkRelated(obj *DomainObject, classID string) error {
	if obj == nil {
		return nil
	}
	if err := tx.checkEnlisted(obj); err != nil {
		return err
	}
	if obj.id.ClassID != classID {
		return fmt.Errorf("%w: object %s of class %s cannot be related where %s is expected", domain.ErrInvalidArgument, obj.id, obj.id.ClassID, classID)
	}
	return tx.checkAlive(obj.id)
}

func (tx *ClientTransaction) enlist(id domain.ObjectID) *DomainObject {
	if obj, ok := tx.root.objects[id]; ok {
		return obj
	}
	obj := &DomainObject{id: id, root: tx.root}
	tx.root.objects[id] = obj
	return obj
}

func (tx *ClientTransaction) enlistAll(ids []domain.ObjectID) []*DomainObject {
	objs := make([]*DomainObject, len(ids))
	for i, id := range ids {
		objs[i] = tx.enlist(id)
	}
	return objs
}

func (tx *ClientTransaction) realDefinitions(classID string) []*domain.RelationEndPointDefinition {
	var defs []*domain.RelationEndPointDefinition
	for _, def := range tx.mapping.EndPointDefinitions(classID) {
		if !def.IsVirtual() {
			defs = append(defs, def)
		}
	}
	return defs
}

func (tx *ClientTransaction) registerDataContainer(dc *DataContainer) error {
	if _, exists := tx.dataContainers[dc.ID()]; exists {
		return fmt.Errorf("%w: object %s is already loaded in transaction %s", domain.ErrInvalidOperation, dc.ID(), tx.id)
	}
	tx.dataContainers[dc.ID()] = dc
	if err := tx.manager.RegisterEndPointsForDataContainer(dc); err != nil {
		return fmt.Errorf("register end-points of %s: %w", dc.ID(), err)
	}
	return nil
}

// dataContainerFor returns the container of id, loading it if necessary.
func (tx *ClientTransaction) dataContainerFor(id domain.ObjectID) (*DataContainer, error) {
	if dc, ok := tx.dataContainers[id]; ok {
		return dc, nil
	}
	if _, gone := tx.root.invalid[id]; gone {
		return nil, domain.ObjectDeletedError{ObjectID: id}
	}
	if err := tx.manager.loadDataContainer(id); err != nil {
		return nil, err
	}
	dc, ok := tx.dataContainers[id]
	if !ok {
		return nil, fmt.Errorf("%w: loading %s did not register its data", domain.ErrInvalidOperation, id)
	}
	return dc, nil
}

func (tx *ClientTransaction) loadAll(ids []domain.ObjectID) error {
	for _, id := range ids {
		if _, err := tx.dataContainerFor(id); err != nil {
			return err
		}
	}
	return nil
}

// DataContainer returns the loaded container of id without loading it.
func (tx *ClientTransaction) DataContainer(id domain.ObjectID) (*DataContainer, bool) {
	dc, ok := tx.dataContainers[id]
	return dc, ok
}

// NewObject creates an object of the given class. Its virtual end-points
// start complete and empty.
func (tx *ClientTransaction) NewObject(classID string) (*DomainObject, error) {
	if err := tx.checkWritable(); err != nil {
		return nil, err
	}
	class, ok := tx.mapping.Class(classID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown class %q", domain.ErrInvalidArgument, classID)
	}
	dc := newDataContainer(class, domain.NewObjectID(classID), tx.realDefinitions(classID))
	dc.isNew = true
	if err := tx.registerDataContainer(dc); err != nil {
		return nil, err
	}
	return tx.enlist(dc.ID()), nil
}

// GetObject loads the object and returns its handle.
func (tx *ClientTransaction) GetObject(id domain.ObjectID) (*DomainObject, error) {
	if err := tx.checkUsable(); err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, fmt.Errorf("%w: object id required", domain.ErrInvalidArgument)
	}
	dc, err := tx.dataContainerFor(id)
	if err != nil {
		return nil, err
	}
	if dc.deleted {
		return nil, domain.ObjectDeletedError{ObjectID: id}
	}
	return tx.enlist(id), nil
}

// GetValue returns the current value of a plain property.
func (tx *ClientTransaction) GetValue(obj *DomainObject, property string) (any, error) {
	dc, err := tx.liveDataContainer(obj)
	if err != nil {
		return nil, err
	}
	return dc.Value(property)
}

// SetValue changes a plain property.
func (tx *ClientTransaction) SetValue(obj *DomainObject, property string, value any) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	dc, err := tx.liveDataContainer(obj)
	if err != nil {
		return err
	}
	return dc.setValue(property, value)
}

func (tx *ClientTransaction) liveDataContainer(obj *DomainObject) (*DataContainer, error) {
	if err := tx.checkUsable(); err != nil {
		return nil, err
	}
	if err := tx.checkEnlisted(obj); err != nil {
		return nil, err
	}
	if err := tx.checkAlive(obj.id); err != nil {
		return nil, err
	}
	return tx.dataContainerFor(obj.id)
}

// Delete removes obj and clears every relation it takes part in. Deleting
// an object created in this transaction discards it immediately.
func (tx *ClientTransaction) Delete(obj *DomainObject) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	dc, err := tx.liveDataContainer(obj)
	if err != nil {
		return err
	}
	comp := NewCompositeCommand()
	for _, def := range tx.mapping.EndPointDefinitions(dc.ClassID()) {
		ep, err := tx.manager.GetRelationEndPointWithLazyLoad(NewRelationEndPointID(dc.ID(), def))
		if err != nil {
			comp.Add(NewExceptionCommand(err))
			continue
		}
		comp.Add(ep.CreateDeleteCommand())
	}
	comp.Add(&markDeletedCommand{dc: dc})
	if err := Execute(comp); err != nil {
		return fmt.Errorf("delete %s: %w", dc.ID(), err)
	}
	if dc.isNew {
		return tx.discardDataContainer(dc)
	}
	return nil
}

// markDeletedCommand flags a container deleted once its relations are
// cleared.
type markDeletedCommand struct {
	dc *DataContainer
}

func (*markDeletedCommand) Errors() []error { return nil }
func (*markDeletedCommand) Begin()          {}
func (*markDeletedCommand) End()            {}

func (c *markDeletedCommand) Perform() error {
	c.dc.deleted = true
	return nil
}

func (c *markDeletedCommand) ExpandToAllRelatedObjects() Command { return NewCompositeCommand(c) }

// discardDataContainer drops a container together with its end-points. The
// object becomes invalid in the whole hierarchy.
func (tx *ClientTransaction) discardDataContainer(dc *DataContainer) error {
	if err := tx.manager.removeEndPointsOf(dc.ClassID(), dc.ID()); err != nil {
		return err
	}
	delete(tx.dataContainers, dc.ID())
	tx.root.invalid[dc.ID()] = struct{}{}
	return nil
}

// Unload removes unchanged objects from the transaction. Every object that
// cannot be unloaded is reported; nothing is unloaded in that case.
func (tx *ClientTransaction) Unload(ids ...domain.ObjectID) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	comp := NewCompositeCommand()
	var unloaded []domain.ObjectID
	for _, id := range ids {
		dc, ok := tx.dataContainers[id]
		if !ok {
			continue
		}
		if state := dc.State(); state != StateUnchanged {
			comp.Add(NewExceptionCommand(fmt.Errorf("%w: object %s is %s and cannot be unloaded", domain.ErrInvalidOperation, id, state)))
			continue
		}
		comp.Add(tx.manager.CreateUnregisterCommandForDataContainer(dc))
		unloaded = append(unloaded, id)
	}
	if err := Execute(comp); err != nil {
		return fmt.Errorf("unload: %w", err)
	}
	for _, id := range unloaded {
		delete(tx.dataContainers, id)
	}
	return nil
}

// UnloadVirtualEndPoints marks the given virtual end-points incomplete so
// their data is reloaded on next access.
func (tx *ClientTransaction) UnloadVirtualEndPoints(ids ...RelationEndPointID) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if err := Execute(tx.manager.CreateUnloadVirtualEndPointsCommand(ids...)); err != nil {
		return fmt.Errorf("unload end-points: %w", err)
	}
	return nil
}

func (tx *ClientTransaction) sortedDataContainers() []*DataContainer {
	dcs := make([]*DataContainer, 0, len(tx.dataContainers))
	for _, dc := range tx.dataContainers {
		dcs = append(dcs, dc)
	}
	slices.SortFunc(dcs, func(a, b *DataContainer) int { return compareObjectIDs(a.id, b.id) })
	return dcs
}

// mandatoryViolations checks every registered end-point of a live object.
func (tx *ClientTransaction) mandatoryViolations() []error {
	var errs []error
	for _, ep := range tx.manager.endPoints.EndPoints() {
		if dc, ok := tx.dataContainers[ep.ObjectID()]; ok && dc.deleted {
			continue
		}
		if err := ep.ValidateMandatory(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (tx *ClientTransaction) validateMandatoryRelations() error {
	return errors.Join(tx.mandatoryViolations()...)
}

func (tx *ClientTransaction) changeSet() domain.ChangeSet {
	var cs domain.ChangeSet
	for _, dc := range tx.sortedDataContainers() {
		switch {
		case dc.deleted && !dc.isNew:
			cs.Deletes = append(cs.Deletes, dc.id)
		case dc.isNew || dc.HasChanged():
			cs.Upserts = append(cs.Upserts, dc.Record())
		}
	}
	return cs
}

// Commit validates mandatory relations and then makes the current state
// the original state. A root transaction saves its changes to the data
// source first; a sub-transaction pushes them into its parent.
func (tx *ClientTransaction) Commit(ctx context.Context) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if err := tx.validateMandatoryRelations(); err != nil {
		return fmt.Errorf("commit %s: %w", tx.id, err)
	}
	if tx.parent == nil {
		cs := tx.changeSet()
		if tx.source != nil && !cs.IsEmpty() {
			if err := tx.source.Save(ctx, cs); err != nil {
				return fmt.Errorf("commit %s: save: %w", tx.id, err)
			}
		}
	} else if err := tx.commitToParent(); err != nil {
		return fmt.Errorf("commit %s to parent: %w", tx.id, err)
	}
	if err := tx.commitInMemory(); err != nil {
		return err
	}
	tx.opts.metrics.committed()
	tx.opts.logger.Info("transaction committed", "transaction", tx.id, "root", tx.IsRoot())
	return nil
}

func (tx *ClientTransaction) commitInMemory() error {
	tx.manager.CommitAllEndPoints()
	for _, dc := range tx.sortedDataContainers() {
		if dc.deleted {
			if err := tx.manager.removeEndPointsOf(dc.ClassID(), dc.ID()); err != nil {
				return err
			}
			delete(tx.dataContainers, dc.ID())
			if tx.parent == nil {
				tx.invalid[dc.ID()] = struct{}{}
			}
			continue
		}
		dc.commitValues()
	}
	return nil
}

// commitToParent copies the changes of tx into its parent: new objects
// first so end-points can refer to them, then end-point data, then plain
// values and deletions.
func (tx *ClientTransaction) commitToParent() error {
	parent := tx.parent
	dcs := tx.sortedDataContainers()
	for _, dc := range dcs {
		if !dc.isNew {
			continue
		}
		class, ok := tx.mapping.Class(dc.ClassID())
		if !ok {
			return fmt.Errorf("%w: unknown class %q", domain.ErrInvalidArgument, dc.ClassID())
		}
		pdc := newDataContainer(class, dc.ID(), tx.realDefinitions(dc.ClassID()))
		pdc.isNew = true
		pdc.setValuesFromSubTransaction(dc)
		if err := parent.registerDataContainer(pdc); err != nil {
			return err
		}
	}
	for _, ep := range tx.manager.endPoints.EndPoints() {
		if !ep.HasChanged() && !ep.HasBeenTouched() {
			continue
		}
		parentEP, err := parent.manager.GetRelationEndPointWithLazyLoad(ep.ID())
		if err != nil {
			return err
		}
		switch ep := ep.(type) {
		case *RealObjectEndPoint:
			parentEP.(*RealObjectEndPoint).setDataFromSubTransaction(ep)
		case *VirtualObjectEndPoint, *CollectionEndPoint:
			if err := parentEP.(VirtualEndPoint).setDataFromSubTransaction(ep.(VirtualEndPoint)); err != nil {
				return err
			}
		}
	}
	for _, dc := range dcs {
		pdc, ok := parent.dataContainers[dc.ID()]
		if !ok {
			return fmt.Errorf("%w: object %s is not loaded in parent %s", domain.ErrInvalidOperation, dc.ID(), parent.id)
		}
		if !dc.isNew {
			pdc.setValuesFromSubTransaction(dc)
		}
		if dc.deleted {
			pdc.deleted = true
		}
	}
	return nil
}

// Rollback restores the original state. Objects created in tx are
// discarded, deleted objects come back.
func (tx *ClientTransaction) Rollback() error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.manager.RollbackAllEndPoints()
	for _, dc := range tx.sortedDataContainers() {
		if dc.isNew {
			if err := tx.discardDataContainer(dc); err != nil {
				return err
			}
			continue
		}
		dc.rollbackValues()
	}
	tx.opts.metrics.rolledBack()
	tx.opts.logger.Info("transaction rolled back", "transaction", tx.id, "root", tx.IsRoot())
	return nil
}
