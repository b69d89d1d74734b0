// Package flatten implements the snapshot protocol used to save and restore
// object graphs: every object is flattened into a record of primitive values
// and handles to other records. Handles index the arena, so an object shared
// by several owners is written once and rebuilt as a single instance, and
// cyclic references survive the round trip.
package flatten

import (
	"errors"
	"fmt"
)

// Kind tags a flattened value.
type Kind string

const (
	KindNil    Kind = "nil"
	KindString Kind = "s"
	KindInt    Kind = "i"
	KindFloat  Kind = "f"
	KindBool   Kind = "b"
	KindHandle Kind = "h"
)

// Value is one primitive value or handle inside a record.
type Value struct {
	Kind Kind    `json:"k"`
	S    string  `json:"s,omitempty"`
	I    int64   `json:"i,omitempty"`
	F    float64 `json:"f,omitempty"`
	B    bool    `json:"b,omitempty"`
}

// Handle indexes a record inside an Arena.
type Handle int

// Record is the flattened form of one object.
type Record struct {
	Type   string  `json:"type"`
	Values []Value `json:"values"`
}

// Arena holds every record of a flattened graph. Root is the handle of the
// object Flatten was called with.
type Arena struct {
	Records []Record `json:"records"`
	Root    Handle   `json:"root"`
}

// Len returns the number of records.
func (a *Arena) Len() int { return len(a.Records) }

// Flattenable objects can write themselves into a Writer. Implementations
// must be pointer types so that identity can be tracked.
type Flattenable interface {
	FlattenType() string
	Flatten(w *Writer)
}

// ErrNilRoot is returned when Flatten is called without an object.
var ErrNilRoot = errors.New("flatten: nil root")

type encoder struct {
	arena   *Arena
	handles map[Flattenable]Handle
}

// Flatten writes root and everything reachable from it into a new Arena.
func Flatten(root Flattenable) (*Arena, error) {
	if root == nil {
		return nil, ErrNilRoot
	}
	enc := &encoder{arena: &Arena{}, handles: make(map[Flattenable]Handle)}
	enc.arena.Root = enc.handle(root)
	return enc.arena, nil
}

func (e *encoder) handle(obj Flattenable) Handle {
	if h, ok := e.handles[obj]; ok {
		return h
	}
	h := Handle(len(e.arena.Records))
	e.arena.Records = append(e.arena.Records, Record{Type: obj.FlattenType()})
	e.handles[obj] = h
	w := &Writer{enc: e}
	obj.Flatten(w)
	e.arena.Records[h].Values = w.values
	return h
}

// Writer collects the values of one record.
type Writer struct {
	enc    *encoder
	values []Value
}

// String appends a string value.
func (w *Writer) String(s string) { w.values = append(w.values, Value{Kind: KindString, S: s}) }

// Int appends an integer value.
func (w *Writer) Int(i int64) { w.values = append(w.values, Value{Kind: KindInt, I: i}) }

// Float appends a float value.
func (w *Writer) Float(f float64) { w.values = append(w.values, Value{Kind: KindFloat, F: f}) }

// Bool appends a boolean value.
func (w *Writer) Bool(b bool) { w.values = append(w.values, Value{Kind: KindBool, B: b}) }

// Nil appends a null marker.
func (w *Writer) Nil() { w.values = append(w.values, Value{Kind: KindNil}) }

// Object appends a handle to obj, flattening it first if it has not been
// seen yet. A nil obj is written as a null marker.
func (w *Writer) Object(obj Flattenable) {
	if obj == nil {
		w.Nil()
		return
	}
	h := w.enc.handle(obj)
	w.values = append(w.values, Value{Kind: KindHandle, I: int64(h)})
}

// Any appends a primitive value of a supported Go type.
func (w *Writer) Any(v any) error {
	switch x := v.(type) {
	case nil:
		w.Nil()
	case string:
		w.String(x)
	case int:
		w.Int(int64(x))
	case int64:
		w.Int(x)
	case float64:
		w.Float(x)
	case bool:
		w.Bool(x)
	default:
		return fmt.Errorf("flatten: unsupported value type %T", v)
	}
	return nil
}
