package core

import (
	"errors"

	"relcore/pkg/domain"
)

// Command is a validated relation modification. Validation happens when the
// command is built; Errors reports what was found. Perform applies the change
// to one side only; ExpandToAllRelatedObjects returns a command that also
// updates every opposite end-point affected by the change.
type Command interface {
	Errors() []error
	Begin()
	Perform() error
	End()
	ExpandToAllRelatedObjects() Command
}

// Execute expands cmd and runs it if no validation failed.
func Execute(cmd Command) error {
	expanded := cmd.ExpandToAllRelatedObjects()
	if err := errors.Join(expanded.Errors()...); err != nil {
		return err
	}
	expanded.Begin()
	if err := expanded.Perform(); err != nil {
		return err
	}
	expanded.End()
	return nil
}

// NopCommand does nothing and never fails.
type NopCommand struct{}

func (NopCommand) Errors() []error { return nil }
func (NopCommand) Begin()          {}
func (NopCommand) Perform() error  { return nil }
func (NopCommand) End()            {}

// ExpandToAllRelatedObjects implements Command.
func (c NopCommand) ExpandToAllRelatedObjects() Command { return NewCompositeCommand(c) }

// ExceptionCommand stands in for a command that could not be built. It
// reports its error from Errors and Perform.
type ExceptionCommand struct {
	Err error
}

// NewExceptionCommand wraps err.
func NewExceptionCommand(err error) *ExceptionCommand { return &ExceptionCommand{Err: err} }

func (c *ExceptionCommand) Errors() []error { return []error{c.Err} }
func (c *ExceptionCommand) Begin()          {}
func (c *ExceptionCommand) Perform() error  { return c.Err }
func (c *ExceptionCommand) End()            {}

// ExpandToAllRelatedObjects implements Command.
func (c *ExceptionCommand) ExpandToAllRelatedObjects() Command { return NewCompositeCommand(c) }

// CompositeCommand runs its children as one unit. It collects the
// validation errors of all children instead of stopping at the first.
type CompositeCommand struct {
	commands []Command
}

// NewCompositeCommand groups commands.
func NewCompositeCommand(commands ...Command) *CompositeCommand {
	return &CompositeCommand{commands: append([]Command(nil), commands...)}
}

// Commands returns the children in execution order.
func (c *CompositeCommand) Commands() []Command { return append([]Command(nil), c.commands...) }

// Add appends cmd to the composite.
func (c *CompositeCommand) Add(cmd Command) { c.commands = append(c.commands, cmd) }

func (c *CompositeCommand) Errors() []error {
	var errs []error
	for _, cmd := range c.commands {
		errs = append(errs, cmd.Errors()...)
	}
	return errs
}

func (c *CompositeCommand) Begin() {
	for _, cmd := range c.commands {
		cmd.Begin()
	}
}

// Perform runs every child. Nothing is performed if any child carries a
// validation error.
func (c *CompositeCommand) Perform() error {
	if err := errors.Join(c.Errors()...); err != nil {
		return err
	}
	for _, cmd := range c.commands {
		if err := cmd.Perform(); err != nil {
			return err
		}
	}
	return nil
}

func (c *CompositeCommand) End() {
	for i := len(c.commands) - 1; i >= 0; i-- {
		c.commands[i].End()
	}
}

// ExpandToAllRelatedObjects expands every child and flattens the result.
func (c *CompositeCommand) ExpandToAllRelatedObjects() Command {
	expanded := &CompositeCommand{}
	for _, cmd := range c.commands {
		sub := cmd.ExpandToAllRelatedObjects()
		if comp, ok := sub.(*CompositeCommand); ok {
			expanded.commands = append(expanded.commands, comp.commands...)
			continue
		}
		expanded.commands = append(expanded.commands, sub)
	}
	return expanded
}

// relationCommand carries what every end-point modification shares: the
// end-point it changes, the old and new related object, and the listener to
// notify around Perform.
type relationCommand struct {
	id         RelationEndPointID
	oldRelated domain.ObjectID
	newRelated domain.ObjectID
	mgr        *RelationEndPointManager
}

func (c relationCommand) Errors() []error { return nil }

func (c relationCommand) Begin() {
	c.mgr.changes.RelationChanging(c.id, c.oldRelated, c.newRelated)
}

func (c relationCommand) End() {
	c.mgr.changes.RelationChanged(c.id, c.oldRelated, c.newRelated)
}
