package core

import (
	"fmt"
	"sort"

	"relcore/pkg/domain"
)

// RelationEndPointMap holds at most one end-point per RelationEndPointID.
type RelationEndPointMap struct {
	endPoints map[RelationEndPointID]RelationEndPoint
	metrics   *Metrics
}

func newRelationEndPointMap(metrics *Metrics) *RelationEndPointMap {
	return &RelationEndPointMap{endPoints: make(map[RelationEndPointID]RelationEndPoint), metrics: metrics}
}

// Get returns the end-point registered under id, or nil.
func (m *RelationEndPointMap) Get(id RelationEndPointID) RelationEndPoint {
	return m.endPoints[id]
}

// Contains reports whether an end-point is registered under id.
func (m *RelationEndPointMap) Contains(id RelationEndPointID) bool {
	_, ok := m.endPoints[id]
	return ok
}

// Len returns the number of registered end-points.
func (m *RelationEndPointMap) Len() int { return len(m.endPoints) }

// Add registers ep. Registering a second end-point with the same ID fails.
func (m *RelationEndPointMap) Add(ep RelationEndPoint) error {
	id := ep.ID()
	if _, exists := m.endPoints[id]; exists {
		return fmt.Errorf("%w: end-point %s is already registered", domain.ErrInvalidOperation, id)
	}
	m.endPoints[id] = ep
	m.metrics.endPointAdded()
	return nil
}

// Remove unregisters the end-point with the given ID.
func (m *RelationEndPointMap) Remove(id RelationEndPointID) error {
	if _, exists := m.endPoints[id]; !exists {
		return fmt.Errorf("%w: end-point %s is not registered", domain.ErrInvalidOperation, id)
	}
	delete(m.endPoints, id)
	m.metrics.endPointRemoved()
	return nil
}

// EndPoints returns a snapshot of the registered end-points ordered by ID.
// The order is stable so bulk operations see the same sequence every time.
func (m *RelationEndPointMap) EndPoints() []RelationEndPoint {
	eps := make([]RelationEndPoint, 0, len(m.endPoints))
	for _, ep := range m.endPoints {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].ID().String() < eps[j].ID().String() })
	return eps
}

// CommitAllEndPoints commits every registered end-point.
func (m *RelationEndPointMap) CommitAllEndPoints() {
	for _, ep := range m.EndPoints() {
		switch ep := ep.(type) {
		case *RealObjectEndPoint:
			ep.Commit()
		case *VirtualObjectEndPoint:
			ep.Commit()
		case *CollectionEndPoint:
			ep.Commit()
		default:
			panic(fmt.Sprintf("core: unknown end-point type %T", ep))
		}
	}
}

// RollbackAllEndPoints rolls back every registered end-point.
func (m *RelationEndPointMap) RollbackAllEndPoints() {
	for _, ep := range m.EndPoints() {
		switch ep := ep.(type) {
		case *RealObjectEndPoint:
			ep.Rollback()
		case *VirtualObjectEndPoint:
			ep.Rollback()
		case *CollectionEndPoint:
			ep.Rollback()
		default:
			panic(fmt.Sprintf("core: unknown end-point type %T", ep))
		}
	}
}
