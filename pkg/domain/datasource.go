package domain

import "context"

// DataSource is the storage collaborator of a root transaction. Loads are
// synchronous and carry no context: the relation engine has no cancellation
// points of its own. Save persists the outcome of a commit.
type DataSource interface {
	LoadRecord(id ObjectID) (Record, error)
	LoadRelatedObjectIDs(owner ObjectID, def *RelationEndPointDefinition) ([]ObjectID, error)
	Save(ctx context.Context, changes ChangeSet) error
}

// ChangeSet lists what a commit writes: records to insert or replace and
// objects to delete.
type ChangeSet struct {
	Upserts []Record
	Deletes []ObjectID
}

// IsEmpty reports whether the change set carries nothing to write.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Upserts) == 0 && len(c.Deletes) == 0
}
