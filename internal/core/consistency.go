package core

import (
	"fmt"

	"relcore/pkg/domain"
)

// ConsistencyReport lists the disagreements found between the two sides of
// loaded relations.
type ConsistencyReport struct {
	TransactionID string
	EndPoints     int
	Violations    []string
}

// OK reports whether no violation was found.
func (r ConsistencyReport) OK() bool { return len(r.Violations) == 0 }

// CheckConsistency compares every loaded real end-point with its loaded
// opposite and every complete virtual end-point with the real end-points
// of its items, then reports empty mandatory relations. Nothing is loaded.
func (tx *ClientTransaction) CheckConsistency() ConsistencyReport {
	report := ConsistencyReport{TransactionID: tx.id, EndPoints: tx.manager.endPoints.Len()}
	add := func(format string, args ...any) {
		report.Violations = append(report.Violations, fmt.Sprintf(format, args...))
	}
	for _, ep := range tx.manager.endPoints.EndPoints() {
		switch ep := ep.(type) {
		case *RealObjectEndPoint:
			if ep.SyncState() == SyncUnsynchronized {
				add("%s is unsynchronized with %s", ep.ID(), ep.ID().opposite(ep.OriginalOppositeObjectID()))
			}
			current := ep.OppositeObjectID()
			if current.IsZero() || ep.Definition().Opposite().IsAnonymous() {
				continue
			}
			switch opposite := tx.manager.endPoints.Get(ep.ID().opposite(current)).(type) {
			case *CollectionEndPoint:
				if st, ok := opposite.state.(*completeCollectionState); ok && !st.keeper.contains(ep.ObjectID()) {
					add("%s points to %s which does not contain %s", ep.ID(), opposite.ID(), ep.ObjectID())
				}
			case *VirtualObjectEndPoint:
				if st, ok := opposite.state.(*completeVirtualObjectState); ok && st.keeper.current != ep.ObjectID() {
					add("%s points to %s which refers to %s", ep.ID(), opposite.ID(), st.keeper.current)
				}
			}
		case *CollectionEndPoint:
			st, ok := ep.state.(*completeCollectionState)
			if !ok {
				continue
			}
			for _, item := range st.keeper.current {
				if _, without := st.keeper.withoutEndPoints[item]; without {
					add("%s contains %s whose end-point is not registered", ep.ID(), item)
					continue
				}
				tx.checkItem(ep, item, add)
			}
		case *VirtualObjectEndPoint:
			st, ok := ep.state.(*completeVirtualObjectState)
			if !ok {
				continue
			}
			if st.keeper.originalWithoutEndPoint {
				add("%s refers to %s whose end-point is not registered", ep.ID(), st.keeper.original)
				continue
			}
			if !st.keeper.current.IsZero() {
				tx.checkItem(ep, st.keeper.current, add)
			}
		}
	}
	for _, err := range tx.mandatoryViolations() {
		add("%v", err)
	}
	return report
}

func (tx *ClientTransaction) checkItem(ep VirtualEndPoint, item domain.ObjectID, add func(string, ...any)) {
	id := ep.ID()
	real, ok := tx.manager.endPoints.Get(NewRelationEndPointID(item, id.Definition.Opposite())).(*RealObjectEndPoint)
	if !ok {
		add("%s contains %s whose end-point is not registered", id, item)
		return
	}
	if real.OppositeObjectID() != ep.ObjectID() {
		add("%s contains %s whose foreign key points to %s", id, item, real.OppositeObjectID())
	}
}
