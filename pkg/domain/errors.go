package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks usage errors caused by a bad argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOperation marks usage errors caused by calling an operation
	// in a state that does not allow it.
	ErrInvalidOperation = errors.New("invalid operation")
)

// MandatoryRelationNotSetError is returned when a mandatory relation property
// is empty at validation time.
type MandatoryRelationNotSetError struct {
	ObjectID ObjectID
	Property string
}

func (e MandatoryRelationNotSetError) Error() string {
	return fmt.Sprintf("mandatory relation property %s of object %s is not set", e.Property, e.ObjectID)
}

// ObjectNotEnlistedError is returned when an object bound to one transaction
// hierarchy is used in another.
type ObjectNotEnlistedError struct {
	ObjectID      ObjectID
	TransactionID string
}

func (e ObjectNotEnlistedError) Error() string {
	return fmt.Sprintf("object %s cannot be used in transaction %s because it is not enlisted there", e.ObjectID, e.TransactionID)
}

// ObjectDeletedError is returned when a relation operation references an
// object that has been deleted in the current transaction.
type ObjectDeletedError struct {
	ObjectID ObjectID
}

func (e ObjectDeletedError) Error() string {
	return fmt.Sprintf("object %s is deleted", e.ObjectID)
}

// ObjectNotFoundError is returned by data sources for unknown objects.
type ObjectNotFoundError struct {
	ObjectID ObjectID
}

func (e ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object %s not found", e.ObjectID)
}

// SnapshotNotFoundError is returned by snapshot stores for unknown names.
type SnapshotNotFoundError struct {
	Name string
}

func (e SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("snapshot %q not found", e.Name)
}
