package flatten

import (
	"fmt"
)

// Rehydrator is an allocated but empty object that fills itself from the
// values of its record.
type Rehydrator interface {
	Rehydrate(r *Reader) error
}

// Registry maps record types to constructors of empty instances.
type Registry map[string]func() Rehydrator

type decoder struct {
	arena    *Arena
	registry Registry
	context  any
	objects  map[Handle]Rehydrator
}

// Rebuild recreates the object graph stored in arena and returns the root.
// The context value is handed to every Rehydrate call through Reader.Context.
func Rebuild(arena *Arena, registry Registry, context any) (any, error) {
	if arena == nil || len(arena.Records) == 0 {
		return nil, fmt.Errorf("flatten: empty arena")
	}
	d := &decoder{arena: arena, registry: registry, context: context, objects: make(map[Handle]Rehydrator)}
	return d.object(arena.Root)
}

// object allocates the instance for h and caches it before filling it, so a
// reference back to h from inside its own graph resolves to the same pointer.
func (d *decoder) object(h Handle) (Rehydrator, error) {
	if obj, ok := d.objects[h]; ok {
		return obj, nil
	}
	if int(h) < 0 || int(h) >= len(d.arena.Records) {
		return nil, fmt.Errorf("flatten: handle %d out of range", h)
	}
	rec := d.arena.Records[h]
	newFn, ok := d.registry[rec.Type]
	if !ok {
		return nil, fmt.Errorf("flatten: no constructor registered for %q", rec.Type)
	}
	obj := newFn()
	d.objects[h] = obj
	r := &Reader{dec: d, record: rec}
	if err := obj.Rehydrate(r); err != nil {
		return nil, fmt.Errorf("flatten: rebuild %s #%d: %w", rec.Type, h, err)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("flatten: rebuild %s #%d: %w", rec.Type, h, err)
	}
	if r.pos != len(rec.Values) {
		return nil, fmt.Errorf("flatten: rebuild %s #%d: %d values left unread", rec.Type, h, len(rec.Values)-r.pos)
	}
	return obj, nil
}

// Reader hands out the values of one record in order. The first error is
// sticky: later calls return zero values and Err reports it.
type Reader struct {
	dec    *decoder
	record Record
	pos    int
	err    error
}

// Context returns the value passed to Rebuild.
func (r *Reader) Context() any { return r.dec.context }

// Err returns the first error encountered while reading.
func (r *Reader) Err() error { return r.err }

func (r *Reader) next(kinds ...Kind) (Value, bool) {
	if r.err != nil {
		return Value{}, false
	}
	if r.pos >= len(r.record.Values) {
		r.err = fmt.Errorf("read past end of %s record", r.record.Type)
		return Value{}, false
	}
	v := r.record.Values[r.pos]
	r.pos++
	for _, k := range kinds {
		if v.Kind == k {
			return v, true
		}
	}
	r.err = fmt.Errorf("value %d of %s record has kind %q, want %v", r.pos-1, r.record.Type, v.Kind, kinds)
	return Value{}, false
}

// String reads a string value.
func (r *Reader) String() string {
	v, _ := r.next(KindString)
	return v.S
}

// Int reads an integer value.
func (r *Reader) Int() int64 {
	v, _ := r.next(KindInt)
	return v.I
}

// Bool reads a boolean value.
func (r *Reader) Bool() bool {
	v, _ := r.next(KindBool)
	return v.B
}

// Any reads a primitive value written with Writer.Any.
func (r *Reader) Any() any {
	v, ok := r.next(KindNil, KindString, KindInt, KindFloat, KindBool)
	if !ok {
		return nil
	}
	switch v.Kind {
	case KindString:
		return v.S
	case KindInt:
		return v.I
	case KindFloat:
		return v.F
	case KindBool:
		return v.B
	}
	return nil
}

// Object reads a handle and returns the rebuilt instance, or nil for a null
// marker.
func (r *Reader) Object() any {
	v, ok := r.next(KindNil, KindHandle)
	if !ok || v.Kind == KindNil {
		return nil
	}
	obj, err := r.dec.object(Handle(v.I))
	if err != nil {
		r.err = err
		return nil
	}
	return obj
}

// Remaining returns the number of values not yet read.
func (r *Reader) Remaining() int { return len(r.record.Values) - r.pos }

// Count reads the length of a sequence that follows. Every element takes at
// least one value, so a count above Remaining fails the reader.
func (r *Reader) Count() int {
	n := r.Int()
	if r.err != nil {
		return 0
	}
	if n < 0 || n > int64(r.Remaining()) {
		r.err = fmt.Errorf("count %d at value %d of %s record is out of range", n, r.pos-1, r.record.Type)
		return 0
	}
	return int(n)
}

// Fail records err as the reader's error unless one is already set.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
