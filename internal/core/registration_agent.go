package core

import (
	"fmt"

	"relcore/pkg/domain"
)

// registrationAgent adds end-points to the map and pairs every real
// end-point with the virtual end-point its original foreign key points at.
//
// In a root transaction a one-to-one virtual end-point is completed as soon
// as its real counterpart registers, which saves the query that would load
// it later. Sub-transactions skip this so that they observe the same load
// states as their parent.
type registrationAgent struct {
	mgr  *RelationEndPointManager
	root bool
}

func (a *registrationAgent) registerEndPoint(ep RelationEndPoint) error {
	if err := a.mgr.endPoints.Add(ep); err != nil {
		return err
	}
	real, ok := ep.(*RealObjectEndPoint)
	if !ok {
		return nil
	}
	return a.registerOpposite(real)
}

func (a *registrationAgent) registerOpposite(real *RealObjectEndPoint) error {
	original := real.OriginalOppositeObjectID()
	if real.Definition().Opposite().IsAnonymous() || original.IsZero() {
		real.markSynchronized()
		return nil
	}
	ep, err := a.mgr.GetRelationEndPointWithMinimumLoading(real.ID().opposite(original))
	if err != nil {
		return err
	}
	opposite, ok := ep.(VirtualEndPoint)
	if !ok {
		return fmt.Errorf("%w: opposite of %s is not virtual", domain.ErrInvalidOperation, real.ID())
	}
	opposite.registerOriginalOppositeEndPoint(real)
	if vo, ok := opposite.(*VirtualObjectEndPoint); ok && a.root && !vo.IsDataComplete() {
		if err := vo.MarkDataComplete(real.ObjectID()); err != nil {
			return err
		}
	}
	return nil
}

func (a *registrationAgent) unregisterEndPoint(ep RelationEndPoint) error {
	if !a.mgr.endPoints.Contains(ep.ID()) {
		return fmt.Errorf("%w: end-point %s is not registered", domain.ErrInvalidOperation, ep.ID())
	}
	if real, ok := ep.(*RealObjectEndPoint); ok {
		if err := a.unregisterOpposite(real); err != nil {
			return err
		}
	}
	return a.mgr.endPoints.Remove(ep.ID())
}

// checkUnregisterOpposite reports why unregisterOpposite would fail for
// real, without changing anything.
func (a *registrationAgent) checkUnregisterOpposite(real *RealObjectEndPoint) error {
	original := real.OriginalOppositeObjectID()
	if real.Definition().Opposite().IsAnonymous() || original.IsZero() {
		return nil
	}
	opposite, err := a.mgr.virtualWithoutLoading(real.ID().opposite(original))
	if err != nil {
		return err
	}
	return opposite.checkUnregisterOriginalOppositeEndPoint(real)
}

func (a *registrationAgent) unregisterOpposite(real *RealObjectEndPoint) error {
	original := real.OriginalOppositeObjectID()
	if real.Definition().Opposite().IsAnonymous() || original.IsZero() {
		return nil
	}
	opposite, err := a.mgr.virtualWithoutLoading(real.ID().opposite(original))
	if err != nil {
		return err
	}
	if err := opposite.unregisterOriginalOppositeEndPoint(real); err != nil {
		return err
	}
	if opposite.CanBeCollected() {
		return a.mgr.endPoints.Remove(opposite.ID())
	}
	return nil
}
