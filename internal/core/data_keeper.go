package core

import (
	"slices"

	"relcore/pkg/domain"
)

// collectionDataKeeper caches the ordered items of a complete collection
// end-point together with the items it had when loaded or last committed.
// Original items whose real end-point has not been registered are tracked
// separately; while any exist the collection is unsynchronized.
type collectionDataKeeper struct {
	current          []domain.ObjectID
	original         []domain.ObjectID
	withoutEndPoints map[domain.ObjectID]struct{}
}

func newCollectionDataKeeper(items []domain.ObjectID) *collectionDataKeeper {
	return &collectionDataKeeper{
		current:          slices.Clone(items),
		original:         slices.Clone(items),
		withoutEndPoints: make(map[domain.ObjectID]struct{}),
	}
}

func (k *collectionDataKeeper) hasChanged() bool {
	return !slices.Equal(k.current, k.original)
}

func (k *collectionDataKeeper) indexOf(id domain.ObjectID) int {
	return slices.Index(k.current, id)
}

func (k *collectionDataKeeper) contains(id domain.ObjectID) bool {
	return k.indexOf(id) >= 0
}

func (k *collectionDataKeeper) containsOriginal(id domain.ObjectID) bool {
	return slices.Contains(k.original, id)
}

// insert places id at index; a negative index appends.
func (k *collectionDataKeeper) insert(index int, id domain.ObjectID) {
	if index < 0 || index > len(k.current) {
		index = len(k.current)
	}
	k.current = slices.Insert(k.current, index, id)
}

func (k *collectionDataKeeper) remove(id domain.ObjectID) {
	if i := k.indexOf(id); i >= 0 {
		k.current = slices.Delete(k.current, i, i+1)
	}
}

func (k *collectionDataKeeper) replace(index int, id domain.ObjectID) {
	k.current[index] = id
}

func (k *collectionDataKeeper) set(items []domain.ObjectID) {
	k.current = slices.Clone(items)
}

// attachEndPoint records that the real end-point of an original item has
// been registered. It reports false if id was not waiting for one.
func (k *collectionDataKeeper) attachEndPoint(id domain.ObjectID) bool {
	if _, ok := k.withoutEndPoints[id]; !ok {
		return false
	}
	delete(k.withoutEndPoints, id)
	return true
}

// addOriginalItem adds id to both the original and the current items, as if
// it had been part of the loaded data.
func (k *collectionDataKeeper) addOriginalItem(id domain.ObjectID) {
	if !k.containsOriginal(id) {
		k.original = append(k.original, id)
	}
	if !k.contains(id) {
		k.current = append(k.current, id)
	}
}

// dropItemWithoutEndPoint removes a stale original item from both sides.
func (k *collectionDataKeeper) dropItemWithoutEndPoint(id domain.ObjectID) {
	delete(k.withoutEndPoints, id)
	if i := slices.Index(k.original, id); i >= 0 {
		k.original = slices.Delete(k.original, i, i+1)
	}
	k.remove(id)
}

func (k *collectionDataKeeper) itemsWithoutEndPoints() []domain.ObjectID {
	ids := make([]domain.ObjectID, 0, len(k.withoutEndPoints))
	for _, id := range k.original {
		if _, ok := k.withoutEndPoints[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (k *collectionDataKeeper) commit() {
	for id := range k.withoutEndPoints {
		if !k.contains(id) {
			delete(k.withoutEndPoints, id)
		}
	}
	k.original = slices.Clone(k.current)
}

func (k *collectionDataKeeper) rollback() {
	k.current = slices.Clone(k.original)
}

// virtualObjectDataKeeper caches the single related object of a complete
// virtual object end-point.
type virtualObjectDataKeeper struct {
	current                 domain.ObjectID
	original                domain.ObjectID
	originalWithoutEndPoint bool
}

func (k *virtualObjectDataKeeper) hasChanged() bool {
	return k.current != k.original
}

func (k *virtualObjectDataKeeper) commit() {
	if k.current != k.original {
		k.original = k.current
		k.originalWithoutEndPoint = false
	}
}

func (k *virtualObjectDataKeeper) rollback() {
	k.current = k.original
}
