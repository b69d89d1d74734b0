package domain

// Record is the storage form of an object: its identifier and property
// values. Foreign keys are stored as ObjectID values under the real
// end-point's property name; a zero ObjectID means null.
type Record struct {
	ID     ObjectID
	Values map[string]any
}

// Clone returns a copy of the record with its own value map.
func (r Record) Clone() Record {
	values := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Record{ID: r.ID, Values: values}
}

// ForeignKey returns the ObjectID stored under property, or the zero ID.
func (r Record) ForeignKey(property string) ObjectID {
	if id, ok := r.Values[property].(ObjectID); ok {
		return id
	}
	return ObjectID{}
}
