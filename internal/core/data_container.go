package core

import (
	"fmt"
	"sort"

	"relcore/internal/flatten"
	"relcore/pkg/domain"
)

// DataContainerState summarises the persistence state of a loaded object.
type DataContainerState int

const (
	StateUnchanged DataContainerState = iota
	StateChanged
	StateNew
	StateDeleted
)

func (s DataContainerState) String() string {
	switch s {
	case StateChanged:
		return "changed"
	case StateNew:
		return "new"
	case StateDeleted:
		return "deleted"
	default:
		return "unchanged"
	}
}

type propertyValue struct {
	current  any
	original any
	touched  bool
}

type foreignKeyValue struct {
	current  domain.ObjectID
	original domain.ObjectID
	touched  bool
}

// DataContainer holds the persisted property values of one loaded object.
// Foreign keys live here too; real end-points read and write them.
type DataContainer struct {
	id          domain.ObjectID
	classID     string
	values      map[string]*propertyValue
	foreignKeys map[string]*foreignKeyValue
	isNew       bool
	deleted     bool
}

func newDataContainer(class *domain.ClassDefinition, id domain.ObjectID, realDefs []*domain.RelationEndPointDefinition) *DataContainer {
	dc := &DataContainer{
		id:          id,
		classID:     class.ID,
		values:      make(map[string]*propertyValue, len(class.Properties)),
		foreignKeys: make(map[string]*foreignKeyValue),
	}
	for _, p := range class.Properties {
		dc.values[p] = &propertyValue{}
	}
	for _, def := range realDefs {
		dc.foreignKeys[def.PropertyName] = &foreignKeyValue{}
	}
	return dc
}

// newDataContainerFromRecord builds an unchanged container from a stored
// record. Unknown record values are rejected.
func newDataContainerFromRecord(class *domain.ClassDefinition, realDefs []*domain.RelationEndPointDefinition, rec domain.Record) (*DataContainer, error) {
	dc := newDataContainer(class, rec.ID, realDefs)
	for name, raw := range rec.Values {
		if fk, ok := dc.foreignKeys[name]; ok {
			id, isID := raw.(domain.ObjectID)
			if raw != nil && !isID {
				return nil, fmt.Errorf("%w: foreign key %s of %s has type %T", domain.ErrInvalidArgument, name, rec.ID, raw)
			}
			fk.current, fk.original = id, id
			continue
		}
		pv, ok := dc.values[name]
		if !ok {
			return nil, fmt.Errorf("%w: class %s has no property %q", domain.ErrInvalidArgument, class.ID, name)
		}
		v, err := normalizeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("property %s of %s: %w", name, rec.ID, err)
		}
		pv.current, pv.original = v, v
	}
	return dc, nil
}

// cloneForSubTransaction copies the current state of dc into a fresh
// unchanged container for a child transaction.
func (dc *DataContainer) cloneForSubTransaction() *DataContainer {
	c := &DataContainer{
		id:          dc.id,
		classID:     dc.classID,
		values:      make(map[string]*propertyValue, len(dc.values)),
		foreignKeys: make(map[string]*foreignKeyValue, len(dc.foreignKeys)),
	}
	for name, pv := range dc.values {
		c.values[name] = &propertyValue{current: pv.current, original: pv.current}
	}
	for name, fk := range dc.foreignKeys {
		c.foreignKeys[name] = &foreignKeyValue{current: fk.current, original: fk.current}
	}
	return c
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("%w: unsupported property value type %T", domain.ErrInvalidArgument, v)
	}
}

// ID returns the identifier of the object.
func (dc *DataContainer) ID() domain.ObjectID { return dc.id }

// ClassID returns the mapped class of the object.
func (dc *DataContainer) ClassID() string { return dc.classID }

// IsNew reports whether the object was created in this transaction.
func (dc *DataContainer) IsNew() bool { return dc.isNew }

// IsDeleted reports whether the object has been deleted in this transaction.
func (dc *DataContainer) IsDeleted() bool { return dc.deleted }

// State returns the persistence state of the container.
func (dc *DataContainer) State() DataContainerState {
	switch {
	case dc.deleted:
		return StateDeleted
	case dc.isNew:
		return StateNew
	case dc.HasChanged():
		return StateChanged
	default:
		return StateUnchanged
	}
}

// HasChanged reports whether any value or foreign key differs from its
// original.
func (dc *DataContainer) HasChanged() bool {
	for _, pv := range dc.values {
		if pv.current != pv.original {
			return true
		}
	}
	for _, fk := range dc.foreignKeys {
		if fk.current != fk.original {
			return true
		}
	}
	return false
}

// Value returns the current value of a plain property.
func (dc *DataContainer) Value(name string) (any, error) {
	pv, ok := dc.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: class %s has no property %q", domain.ErrInvalidArgument, dc.classID, name)
	}
	return pv.current, nil
}

// OriginalValue returns the value a plain property had when loaded or last
// committed.
func (dc *DataContainer) OriginalValue(name string) (any, error) {
	pv, ok := dc.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: class %s has no property %q", domain.ErrInvalidArgument, dc.classID, name)
	}
	return pv.original, nil
}

func (dc *DataContainer) setValue(name string, v any) error {
	pv, ok := dc.values[name]
	if !ok {
		return fmt.Errorf("%w: class %s has no property %q", domain.ErrInvalidArgument, dc.classID, name)
	}
	nv, err := normalizeValue(v)
	if err != nil {
		return err
	}
	pv.current = nv
	pv.touched = true
	return nil
}

func (dc *DataContainer) foreignKey(name string) *foreignKeyValue {
	fk, ok := dc.foreignKeys[name]
	if !ok {
		fk = &foreignKeyValue{}
		dc.foreignKeys[name] = fk
	}
	return fk
}

// Record returns the current state as a storage record.
func (dc *DataContainer) Record() domain.Record {
	rec := domain.Record{ID: dc.id, Values: make(map[string]any, len(dc.values)+len(dc.foreignKeys))}
	for name, pv := range dc.values {
		rec.Values[name] = pv.current
	}
	for name, fk := range dc.foreignKeys {
		rec.Values[name] = fk.current
	}
	return rec
}

// commitValues folds plain property values; foreign keys are committed by
// the real end-points.
func (dc *DataContainer) commitValues() {
	for _, pv := range dc.values {
		pv.original = pv.current
		pv.touched = false
	}
	dc.isNew = false
}

func (dc *DataContainer) rollbackValues() {
	for _, pv := range dc.values {
		pv.current = pv.original
		pv.touched = false
	}
	dc.deleted = false
}

// setValuesFromSubTransaction copies the plain property values of source.
func (dc *DataContainer) setValuesFromSubTransaction(source *DataContainer) {
	for name, spv := range source.values {
		pv, ok := dc.values[name]
		if !ok {
			continue
		}
		if pv.current != spv.current || spv.touched {
			pv.current = spv.current
			pv.touched = true
		}
	}
}

func (dc *DataContainer) sortedValueNames() []string {
	names := make([]string, 0, len(dc.values))
	for name := range dc.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (dc *DataContainer) sortedForeignKeyNames() []string {
	names := make([]string, 0, len(dc.foreignKeys))
	for name := range dc.foreignKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlattenType implements flatten.Flattenable.
func (dc *DataContainer) FlattenType() string { return "data_container" }

// Flatten implements flatten.Flattenable.
func (dc *DataContainer) Flatten(w *flatten.Writer) {
	w.String(dc.id.String())
	w.String(dc.classID)
	w.Bool(dc.isNew)
	w.Bool(dc.deleted)
	names := dc.sortedValueNames()
	w.Int(int64(len(names)))
	for _, name := range names {
		pv := dc.values[name]
		w.String(name)
		// values are normalized on the way in, so Any cannot fail here
		_ = w.Any(pv.current)
		_ = w.Any(pv.original)
		w.Bool(pv.touched)
	}
	fks := dc.sortedForeignKeyNames()
	w.Int(int64(len(fks)))
	for _, name := range fks {
		fk := dc.foreignKeys[name]
		w.String(name)
		w.String(fk.current.String())
		w.String(fk.original.String())
		w.Bool(fk.touched)
	}
}

// Rehydrate implements flatten.Rehydrator.
func (dc *DataContainer) Rehydrate(r *flatten.Reader) error {
	dc.id = readObjectID(r)
	dc.classID = r.String()
	dc.isNew = r.Bool()
	dc.deleted = r.Bool()
	n := r.Count()
	dc.values = make(map[string]*propertyValue, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		name := r.String()
		dc.values[name] = &propertyValue{current: r.Any(), original: r.Any(), touched: r.Bool()}
	}
	n = r.Count()
	dc.foreignKeys = make(map[string]*foreignKeyValue, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		name := r.String()
		dc.foreignKeys[name] = &foreignKeyValue{current: readObjectID(r), original: readObjectID(r), touched: r.Bool()}
	}
	return r.Err()
}

func readObjectID(r *flatten.Reader) domain.ObjectID {
	id, err := domain.ParseObjectID(r.String())
	if err != nil {
		r.Fail(err)
	}
	return id
}
