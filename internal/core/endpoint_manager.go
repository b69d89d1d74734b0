package core

import (
	"errors"
	"fmt"

	"relcore/internal/flatten"
	"relcore/pkg/domain"
)

// RelationEndPointManager is the entry point to the end-points of one
// transaction. It creates end-points on demand, drives lazy loading and
// registers the end-points owned by loaded objects.
type RelationEndPointManager struct {
	tx            *ClientTransaction
	mapping       domain.MetadataProvider
	endPoints     *RelationEndPointMap
	agent         *registrationAgent
	loader        LazyLoader
	stateListener StateUpdateListener
	changes       RelationChangeListener
	logger        Logger
	metrics       *Metrics
}

func newRelationEndPointManager(tx *ClientTransaction, loader LazyLoader, root bool, o options) *RelationEndPointManager {
	m := &RelationEndPointManager{
		tx:        tx,
		mapping:   tx.mapping,
		endPoints: newRelationEndPointMap(o.metrics),
		loader:    loader,
	}
	m.agent = &registrationAgent{mgr: m, root: root}
	m.applyOptions(o)
	return m
}

func (m *RelationEndPointManager) applyOptions(o options) {
	m.stateListener = o.stateListener
	m.changes = o.changeListener
	m.logger = o.logger
	m.metrics = o.metrics
	m.endPoints.metrics = o.metrics
}

// EndPoints returns the map of registered end-points.
func (m *RelationEndPointManager) EndPoints() *RelationEndPointMap { return m.endPoints }

func checkEndPointID(id RelationEndPointID) error {
	if id.Definition == nil {
		return fmt.Errorf("%w: end-point id without definition", domain.ErrInvalidArgument)
	}
	if id.Definition.IsAnonymous() {
		return fmt.Errorf("%w: %s is anonymous and cannot be loaded", domain.ErrInvalidOperation, id)
	}
	if id.ObjectID.IsZero() {
		return fmt.Errorf("%w: %s has no object", domain.ErrInvalidArgument, id)
	}
	return nil
}

// GetRelationEndPointWithoutLoading returns the registered end-point, or nil
// if there is none. It never loads anything.
func (m *RelationEndPointManager) GetRelationEndPointWithoutLoading(id RelationEndPointID) (RelationEndPoint, error) {
	if err := checkEndPointID(id); err != nil {
		return nil, err
	}
	return m.endPoints.Get(id), nil
}

// GetRelationEndPointWithLazyLoad returns the end-point with its data loaded.
// A missing real end-point is created by loading its object; a virtual one is
// created incomplete and then completed.
func (m *RelationEndPointManager) GetRelationEndPointWithLazyLoad(id RelationEndPointID) (RelationEndPoint, error) {
	ep, err := m.GetRelationEndPointWithMinimumLoading(id)
	if err != nil {
		return nil, err
	}
	if err := ep.EnsureDataComplete(); err != nil {
		return nil, err
	}
	return ep, nil
}

// GetRelationEndPointWithMinimumLoading is GetRelationEndPointWithLazyLoad
// without completing virtual end-points. Use it when only the existence of
// the end-point matters.
func (m *RelationEndPointManager) GetRelationEndPointWithMinimumLoading(id RelationEndPointID) (RelationEndPoint, error) {
	if err := checkEndPointID(id); err != nil {
		return nil, err
	}
	if ep := m.endPoints.Get(id); ep != nil {
		return ep, nil
	}
	if !id.IsVirtual() {
		if err := m.loadDataContainer(id.ObjectID); err != nil {
			return nil, err
		}
		ep := m.endPoints.Get(id)
		if ep == nil {
			return nil, fmt.Errorf("%w: loading %s did not register %s", domain.ErrInvalidOperation, id.ObjectID, id)
		}
		return ep, nil
	}
	var ep RelationEndPoint
	if id.Definition.Cardinality == domain.CardinalityMany {
		ep = newCollectionEndPoint(m, id)
	} else {
		ep = newVirtualObjectEndPoint(m, id)
	}
	if err := m.endPoints.Add(ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (m *RelationEndPointManager) loadDataContainer(id domain.ObjectID) error {
	m.metrics.lazyLoad(loadKindDataContainer)
	m.logger.Debug("lazy loading object", "object", id.String(), "transaction", m.tx.id)
	return m.loader.LoadLazyDataContainer(id)
}

// loadVirtualEndPoint runs the loader for an incomplete virtual end-point.
// The end-point is already registered, so loads triggered from inside the
// loader find it instead of creating another one.
func (m *RelationEndPointManager) loadVirtualEndPoint(ep VirtualEndPoint, kind string) error {
	m.metrics.lazyLoad(kind)
	m.logger.Debug("lazy loading end-point", "endpoint", ep.ID().String(), "transaction", m.tx.id)
	var err error
	switch ep := ep.(type) {
	case *CollectionEndPoint:
		err = m.loader.LoadLazyCollectionEndPoint(ep)
	case *VirtualObjectEndPoint:
		err = m.loader.LoadLazyVirtualObjectEndPoint(ep)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", ep.ID(), err)
	}
	if !ep.IsDataComplete() {
		return fmt.Errorf("%w: loader did not complete %s", domain.ErrInvalidOperation, ep.ID())
	}
	return nil
}

// ensureObjectLoaded loads the object unless it is known already. Objects
// that do not exist are not an error here.
func (m *RelationEndPointManager) ensureObjectLoaded(id domain.ObjectID) error {
	if _, ok := m.tx.dataContainers[id]; ok {
		return nil
	}
	err := m.loadDataContainer(id)
	var notFound domain.ObjectNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func (m *RelationEndPointManager) lookupReal(id RelationEndPointID) (*RealObjectEndPoint, error) {
	real, ok := m.endPoints.Get(id).(*RealObjectEndPoint)
	if !ok {
		return nil, fmt.Errorf("%w: real end-point %s is not registered", domain.ErrInvalidOperation, id)
	}
	return real, nil
}

func (m *RelationEndPointManager) virtualWithoutLoading(id RelationEndPointID) (VirtualEndPoint, error) {
	virtual, ok := m.endPoints.Get(id).(VirtualEndPoint)
	if !ok {
		return nil, fmt.Errorf("%w: virtual end-point %s is not registered", domain.ErrInvalidOperation, id)
	}
	return virtual, nil
}

func (m *RelationEndPointManager) realWithLazyLoad(id RelationEndPointID) (*RealObjectEndPoint, error) {
	ep, err := m.GetRelationEndPointWithLazyLoad(id)
	if err != nil {
		return nil, err
	}
	real, ok := ep.(*RealObjectEndPoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a real end-point", domain.ErrInvalidArgument, id)
	}
	return real, nil
}

func (m *RelationEndPointManager) virtualWithLazyLoad(id RelationEndPointID) (VirtualEndPoint, error) {
	ep, err := m.GetRelationEndPointWithLazyLoad(id)
	if err != nil {
		return nil, err
	}
	virtual, ok := ep.(VirtualEndPoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a virtual end-point", domain.ErrInvalidArgument, id)
	}
	return virtual, nil
}

// MarkCollectionEndPointComplete completes the collection end-point id with
// items, creating it first if needed. Loaders call it once the items are
// known.
func (m *RelationEndPointManager) MarkCollectionEndPointComplete(id RelationEndPointID, items []domain.ObjectID) error {
	ep, err := m.GetRelationEndPointWithMinimumLoading(id)
	if err != nil {
		return err
	}
	coll, ok := ep.(*CollectionEndPoint)
	if !ok {
		return fmt.Errorf("%w: %s is not a collection end-point", domain.ErrInvalidArgument, id)
	}
	if coll.IsDataComplete() {
		return nil
	}
	return coll.MarkDataComplete(items)
}

// MarkVirtualObjectEndPointComplete completes the virtual object end-point id
// with item, creating it first if needed.
func (m *RelationEndPointManager) MarkVirtualObjectEndPointComplete(id RelationEndPointID, item domain.ObjectID) error {
	ep, err := m.GetRelationEndPointWithMinimumLoading(id)
	if err != nil {
		return err
	}
	vo, ok := ep.(*VirtualObjectEndPoint)
	if !ok {
		return fmt.Errorf("%w: %s is not a virtual object end-point", domain.ErrInvalidArgument, id)
	}
	if vo.IsDataComplete() {
		return nil
	}
	return vo.MarkDataComplete(item)
}

// RegisterEndPointsForDataContainer registers the end-points owned by dc:
// its real end-points always, its virtual end-points only for new objects.
// Those start complete and empty since nothing can reference a new object
// yet.
func (m *RelationEndPointManager) RegisterEndPointsForDataContainer(dc *DataContainer) error {
	for _, def := range m.mapping.EndPointDefinitions(dc.ClassID()) {
		id := NewRelationEndPointID(dc.ID(), def)
		if !def.IsVirtual() {
			if err := m.agent.registerEndPoint(newRealObjectEndPoint(m, id, dc)); err != nil {
				return err
			}
			continue
		}
		if !dc.IsNew() {
			continue
		}
		if def.Cardinality == domain.CardinalityMany {
			ep := newCollectionEndPoint(m, id)
			if err := m.agent.registerEndPoint(ep); err != nil {
				return err
			}
			if err := ep.MarkDataComplete(nil); err != nil {
				return err
			}
			continue
		}
		ep := newVirtualObjectEndPoint(m, id)
		if err := m.agent.registerEndPoint(ep); err != nil {
			return err
		}
		if err := ep.MarkDataComplete(domain.ObjectID{}); err != nil {
			return err
		}
	}
	return nil
}

// CreateUnregisterCommandForDataContainer builds the command that removes
// the end-points owned by dc. It fails for every end-point that has changes
// and for every opposite end-point that cannot give up its original item.
func (m *RelationEndPointManager) CreateUnregisterCommandForDataContainer(dc *DataContainer) Command {
	var eps []RelationEndPoint
	comp := NewCompositeCommand()
	for _, def := range m.mapping.EndPointDefinitions(dc.ClassID()) {
		ep := m.endPoints.Get(NewRelationEndPointID(dc.ID(), def))
		if ep == nil {
			continue
		}
		if ep.HasChanged() {
			comp.Add(NewExceptionCommand(fmt.Errorf("%w: %s has changed and cannot be unregistered", domain.ErrInvalidOperation, ep.ID())))
			continue
		}
		if real, ok := ep.(*RealObjectEndPoint); ok {
			if err := m.agent.checkUnregisterOpposite(real); err != nil {
				comp.Add(NewExceptionCommand(err))
				continue
			}
		}
		if !ep.Definition().IsVirtual() || dc.IsNew() {
			eps = append(eps, ep)
		}
	}
	comp.Add(&unregisterEndPointsCommand{mgr: m, endPoints: eps})
	return comp
}

// CreateUnloadVirtualEndPointsCommand builds the command that marks the
// given virtual end-points incomplete and drops those left empty. Every
// end-point that cannot be unloaded contributes its own error.
func (m *RelationEndPointManager) CreateUnloadVirtualEndPointsCommand(ids ...RelationEndPointID) Command {
	comp := NewCompositeCommand()
	var eps []VirtualEndPoint
	for _, id := range ids {
		if err := checkEndPointID(id); err != nil {
			comp.Add(NewExceptionCommand(err))
			continue
		}
		if !id.IsVirtual() {
			comp.Add(NewExceptionCommand(fmt.Errorf("%w: %s is not virtual and cannot be unloaded", domain.ErrInvalidArgument, id)))
			continue
		}
		ep, ok := m.endPoints.Get(id).(VirtualEndPoint)
		if !ok {
			continue
		}
		if !ep.CanBeMarkedIncomplete() {
			comp.Add(NewExceptionCommand(fmt.Errorf("%w: %s has changed and cannot be unloaded", domain.ErrInvalidOperation, id)))
			continue
		}
		eps = append(eps, ep)
	}
	comp.Add(&unloadVirtualEndPointsCommand{mgr: m, endPoints: eps})
	return comp
}

// CommitAllEndPoints commits every registered end-point.
func (m *RelationEndPointManager) CommitAllEndPoints() { m.endPoints.CommitAllEndPoints() }

// RollbackAllEndPoints rolls back every registered end-point.
func (m *RelationEndPointManager) RollbackAllEndPoints() { m.endPoints.RollbackAllEndPoints() }

// removeEndPointsOf drops every end-point owned by objectID without
// checking for changes. Used once the object is gone from the transaction.
func (m *RelationEndPointManager) removeEndPointsOf(classID string, objectID domain.ObjectID) error {
	for _, def := range m.mapping.EndPointDefinitions(classID) {
		ep := m.endPoints.Get(NewRelationEndPointID(objectID, def))
		if ep == nil {
			continue
		}
		if err := m.agent.unregisterEndPoint(ep); err != nil {
			return err
		}
	}
	return nil
}

type unregisterEndPointsCommand struct {
	mgr       *RelationEndPointManager
	endPoints []RelationEndPoint
}

func (*unregisterEndPointsCommand) Errors() []error { return nil }
func (*unregisterEndPointsCommand) Begin()          {}
func (*unregisterEndPointsCommand) End()            {}

func (c *unregisterEndPointsCommand) Perform() error {
	for _, ep := range c.endPoints {
		if err := c.mgr.agent.unregisterEndPoint(ep); err != nil {
			return err
		}
	}
	return nil
}

func (c *unregisterEndPointsCommand) ExpandToAllRelatedObjects() Command { return NewCompositeCommand(c) }

type unloadVirtualEndPointsCommand struct {
	mgr       *RelationEndPointManager
	endPoints []VirtualEndPoint
}

func (*unloadVirtualEndPointsCommand) Errors() []error { return nil }
func (*unloadVirtualEndPointsCommand) Begin()          {}
func (*unloadVirtualEndPointsCommand) End()            {}

func (c *unloadVirtualEndPointsCommand) Perform() error {
	for _, ep := range c.endPoints {
		if err := ep.MarkDataIncomplete(); err != nil {
			return err
		}
		if ep.CanBeCollected() {
			if err := c.mgr.endPoints.Remove(ep.ID()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *unloadVirtualEndPointsCommand) ExpandToAllRelatedObjects() Command {
	return NewCompositeCommand(c)
}

// FlattenType implements flatten.Flattenable.
func (*RelationEndPointManager) FlattenType() string { return "end_point_manager" }

// Flatten implements flatten.Flattenable.
func (m *RelationEndPointManager) Flatten(w *flatten.Writer) {
	w.Object(m.tx)
	w.Bool(m.agent.root)
	eps := m.endPoints.EndPoints()
	w.Int(int64(len(eps)))
	for _, ep := range eps {
		w.Object(ep)
	}
}

// Rehydrate implements flatten.Rehydrator.
func (m *RelationEndPointManager) Rehydrate(r *flatten.Reader) error {
	m.tx, _ = r.Object().(*ClientTransaction)
	m.agent = &registrationAgent{mgr: m, root: r.Bool()}
	m.endPoints = newRelationEndPointMap(nil)
	n := r.Count()
	for i := 0; i < n && r.Err() == nil; i++ {
		ep, ok := r.Object().(RelationEndPoint)
		if !ok {
			r.Fail(fmt.Errorf("%w: end-point record %d has an unexpected type", domain.ErrInvalidArgument, i))
			break
		}
		m.endPoints.endPoints[ep.ID()] = ep
	}
	if r.Err() == nil && m.tx == nil {
		return errors.New("end-point manager without transaction")
	}
	return r.Err()
}
