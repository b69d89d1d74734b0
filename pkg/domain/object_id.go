// Package domain holds the identifiers, relation metadata and error taxonomy
// shared by the relation tracking engine and its storage collaborators.
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ObjectID identifies a persistent object by class and value. The zero
// ObjectID stands for "no object" and is used for null relation values.
type ObjectID struct {
	ClassID string `json:"class_id" yaml:"class_id"`
	Value   string `json:"value" yaml:"value"`
}

// NewObjectID allocates a fresh identifier for an object of the given class.
func NewObjectID(classID string) ObjectID {
	return ObjectID{ClassID: classID, Value: uuid.NewString()}
}

// IsZero reports whether id is the null object identifier.
func (id ObjectID) IsZero() bool {
	return id.ClassID == "" && id.Value == ""
}

func (id ObjectID) String() string {
	if id.IsZero() {
		return "<null>"
	}
	return id.ClassID + "|" + id.Value
}

// ParseObjectID parses the String form of an ObjectID.
func ParseObjectID(s string) (ObjectID, error) {
	if s == "<null>" || s == "" {
		return ObjectID{}, nil
	}
	classID, value, ok := strings.Cut(s, "|")
	if !ok || classID == "" || value == "" {
		return ObjectID{}, fmt.Errorf("%w: malformed object id %q", ErrInvalidArgument, s)
	}
	return ObjectID{ClassID: classID, Value: value}, nil
}
