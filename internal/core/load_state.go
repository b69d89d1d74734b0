package core

import (
	"cmp"
	"fmt"
	"slices"

	"relcore/pkg/domain"
)

// loadState is the closed set of load states of a virtual end-point:
// *incompleteState, *completeVirtualObjectState and *completeCollectionState.
type loadState interface {
	isDataComplete() bool
}

// incompleteState is held while a virtual end-point's data is unknown. It
// remembers the real end-points registered against it so that completion
// can sort them into synchronized and unsynchronized ones.
type incompleteState struct {
	originalOpposites map[domain.ObjectID]struct{}
}

func newIncompleteState() *incompleteState {
	return &incompleteState{originalOpposites: make(map[domain.ObjectID]struct{})}
}

func (*incompleteState) isDataComplete() bool { return false }

func (s *incompleteState) register(real *RealObjectEndPoint) {
	s.originalOpposites[real.ObjectID()] = struct{}{}
	real.resetSyncState()
}

func (s *incompleteState) unregister(id RelationEndPointID, real *RealObjectEndPoint) error {
	if _, ok := s.originalOpposites[real.ObjectID()]; !ok {
		return fmt.Errorf("%w: %s is not registered with %s", domain.ErrInvalidOperation, real.ID(), id)
	}
	delete(s.originalOpposites, real.ObjectID())
	return nil
}

func (s *incompleteState) has(objectID domain.ObjectID) bool {
	_, ok := s.originalOpposites[objectID]
	return ok
}

// classify marks every registered real end-point synchronized if its object
// is among items and unsynchronized otherwise. The unsynchronized ones are
// returned.
func (s *incompleteState) classify(mgr *RelationEndPointManager, id RelationEndPointID, items []domain.ObjectID) (map[domain.ObjectID]struct{}, error) {
	unsynchronized := make(map[domain.ObjectID]struct{})
	for _, objectID := range sortedObjectIDs(s.originalOpposites) {
		real, err := mgr.lookupReal(id.opposite(objectID))
		if err != nil {
			return nil, err
		}
		if slices.Contains(items, objectID) {
			real.markSynchronized()
			continue
		}
		real.markUnsynchronized()
		unsynchronized[objectID] = struct{}{}
	}
	return unsynchronized, nil
}

// completeVirtualObjectState holds the data of a loaded virtual object
// end-point.
type completeVirtualObjectState struct {
	keeper         *virtualObjectDataKeeper
	unsynchronized map[domain.ObjectID]struct{}
}

func (*completeVirtualObjectState) isDataComplete() bool { return true }

// completeCollectionState holds the data of a loaded collection end-point.
type completeCollectionState struct {
	keeper         *collectionDataKeeper
	unsynchronized map[domain.ObjectID]struct{}
}

func (*completeCollectionState) isDataComplete() bool { return true }

// incompleteFrom builds the incomplete state a complete end-point falls back
// to: every real end-point still registered becomes an original opposite
// again and loses its sync state.
func incompleteFrom(mgr *RelationEndPointManager, id RelationEndPointID, withEndPoint []domain.ObjectID, unsynchronized map[domain.ObjectID]struct{}) (*incompleteState, error) {
	st := newIncompleteState()
	for _, objectID := range withEndPoint {
		st.originalOpposites[objectID] = struct{}{}
	}
	for objectID := range unsynchronized {
		st.originalOpposites[objectID] = struct{}{}
	}
	for _, objectID := range sortedObjectIDs(st.originalOpposites) {
		real, err := mgr.lookupReal(id.opposite(objectID))
		if err != nil {
			return nil, err
		}
		real.resetSyncState()
	}
	return st, nil
}

func sortedObjectIDs(set map[domain.ObjectID]struct{}) []domain.ObjectID {
	ids := make([]domain.ObjectID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareObjectIDs)
	return ids
}

func compareObjectIDs(a, b domain.ObjectID) int {
	if c := cmp.Compare(a.ClassID, b.ClassID); c != 0 {
		return c
	}
	return cmp.Compare(a.Value, b.Value)
}
