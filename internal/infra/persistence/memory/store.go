// Package memory provides an in-memory record store that serves as the data
// source of root transactions in tests and ephemeral environments. The sqlite
// and postgres stores reuse it and snapshot its state after every save.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"relcore/pkg/domain"
)

var _ domain.DataSource = (*Store)(nil)

// memoryState maps class IDs to the records of that class keyed by value.
type memoryState map[string]map[string]domain.Record

func (s memoryState) clone() memoryState {
	out := make(memoryState, len(s))
	for class, records := range s {
		copied := make(map[string]domain.Record, len(records))
		for value, rec := range records {
			copied[value] = rec.Clone()
		}
		out[class] = copied
	}
	return out
}

func (s memoryState) put(rec domain.Record) {
	records, ok := s[rec.ID.ClassID]
	if !ok {
		records = make(map[string]domain.Record)
		s[rec.ID.ClassID] = records
	}
	records[rec.ID.Value] = rec.Clone()
}

// Store keeps records in memory. Saves are applied to a clone of the state
// that replaces the live state only when every change succeeded.
type Store struct {
	mu    sync.RWMutex
	state memoryState
}

// NewStore returns a store seeded with records.
func NewStore(records ...domain.Record) *Store {
	s := &Store{state: make(memoryState)}
	for _, rec := range records {
		s.state.put(rec)
	}
	return s
}

// LoadRecord implements domain.DataSource.
func (s *Store) LoadRecord(id domain.ObjectID) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state[id.ClassID][id.Value]
	if !ok {
		return domain.Record{}, domain.ObjectNotFoundError{ObjectID: id}
	}
	return rec.Clone(), nil
}

// LoadRelatedObjectIDs implements domain.DataSource. The store keeps no
// ordering of its own, so related objects are returned sorted by value.
func (s *Store) LoadRelatedObjectIDs(owner domain.ObjectID, def *domain.RelationEndPointDefinition) ([]domain.ObjectID, error) {
	if def == nil || !def.IsVirtual() {
		return nil, fmt.Errorf("%w: related objects are loaded for virtual end-points only", domain.ErrInvalidArgument)
	}
	opposite := def.Opposite()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []domain.ObjectID
	for _, rec := range s.state[opposite.ClassID] {
		if rec.ForeignKey(opposite.PropertyName) == owner {
			ids = append(ids, rec.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Value < ids[j].Value })
	return ids, nil
}

// Save implements domain.DataSource.
func (s *Store) Save(ctx context.Context, changes domain.ChangeSet) error {
	return s.Apply(ctx, changes, nil)
}

// Apply validates and applies changes to a copy of the state and hands the
// copy to persist, if given. The live state is replaced only when persist
// succeeds.
func (s *Store) Apply(ctx context.Context, changes domain.ChangeSet, persist func(context.Context, Snapshot) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	for _, id := range changes.Deletes {
		if _, ok := next[id.ClassID][id.Value]; !ok {
			return domain.ObjectNotFoundError{ObjectID: id}
		}
		delete(next[id.ClassID], id.Value)
	}
	for _, rec := range changes.Upserts {
		if rec.ID.ClassID == "" || rec.ID.Value == "" {
			return fmt.Errorf("%w: record without identifier", domain.ErrInvalidArgument)
		}
		next.put(rec)
	}
	if persist != nil {
		if err := persist(ctx, snapshotFromMemoryState(next)); err != nil {
			return err
		}
	}
	s.state = next
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, records := range s.state {
		n += len(records)
	}
	return n
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) error {
	state := make(memoryState)
	for class, records := range snapshot {
		for _, stored := range records {
			rec, err := stored.Record(class)
			if err != nil {
				return fmt.Errorf("import %s: %w", class, err)
			}
			state.put(rec)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}
