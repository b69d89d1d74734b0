package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"relcore/pkg/domain"
)

// Snapshot captures a point-in-time clone of the store state: the records of
// every class, sorted by identifier value. It is the JSON payload the sqlite
// and postgres stores write, one bucket per class.
type Snapshot map[string][]StoredRecord

// StoredRecord is the serialised form of a domain.Record. Foreign keys are
// kept apart from plain values so that they decode back into ObjectIDs.
type StoredRecord struct {
	ID     string            `json:"id"`
	Values map[string]any    `json:"values,omitempty"`
	Refs   map[string]string `json:"refs,omitempty"`
}

// NewStoredRecord converts rec into its serialised form.
func NewStoredRecord(rec domain.Record) StoredRecord {
	out := StoredRecord{ID: rec.ID.Value}
	for name, v := range rec.Values {
		if ref, ok := v.(domain.ObjectID); ok {
			if out.Refs == nil {
				out.Refs = make(map[string]string)
			}
			out.Refs[name] = ref.String()
			continue
		}
		if out.Values == nil {
			out.Values = make(map[string]any)
		}
		out.Values[name] = v
	}
	return out
}

// UnmarshalJSON keeps integral numbers as int64.
func (r *StoredRecord) UnmarshalJSON(data []byte) error {
	type plain StoredRecord
	var raw plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	for name, v := range raw.Values {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			raw.Values[name] = i
			continue
		}
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("value %s: %w", name, err)
		}
		raw.Values[name] = f
	}
	*r = StoredRecord(raw)
	return nil
}

// Record converts the stored form back into a record of class.
func (r StoredRecord) Record(class string) (domain.Record, error) {
	if r.ID == "" {
		return domain.Record{}, fmt.Errorf("%w: stored record without id", domain.ErrInvalidArgument)
	}
	rec := domain.Record{ID: domain.ObjectID{ClassID: class, Value: r.ID}, Values: make(map[string]any, len(r.Values)+len(r.Refs))}
	for name, v := range r.Values {
		switch v.(type) {
		case nil, string, int64, float64, bool:
			rec.Values[name] = v
		default:
			return domain.Record{}, fmt.Errorf("%w: value %s of %s has unsupported type %T", domain.ErrInvalidArgument, name, rec.ID, v)
		}
	}
	for name, s := range r.Refs {
		ref, err := domain.ParseObjectID(s)
		if err != nil {
			return domain.Record{}, fmt.Errorf("reference %s of %s: %w", name, rec.ID, err)
		}
		rec.Values[name] = ref
	}
	return rec, nil
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	out := make(Snapshot, len(state))
	for class, records := range state {
		stored := make([]StoredRecord, 0, len(records))
		for _, rec := range records {
			stored = append(stored, NewStoredRecord(rec))
		}
		sort.Slice(stored, func(i, j int) bool { return stored[i].ID < stored[j].ID })
		out[class] = stored
	}
	return out
}

// Classes returns the class IDs held by the snapshot in sorted order.
func (s Snapshot) Classes() []string {
	classes := make([]string, 0, len(s))
	for class := range s {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}
