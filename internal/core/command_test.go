package core

import (
	"errors"
	"testing"
)

type stubCommand struct {
	name  string
	errs  []error
	log   *[]string
	fails error
}

func (c *stubCommand) Errors() []error { return c.errs }
func (c *stubCommand) Begin()          { *c.log = append(*c.log, "begin "+c.name) }
func (c *stubCommand) End()            { *c.log = append(*c.log, "end "+c.name) }

func (c *stubCommand) Perform() error {
	*c.log = append(*c.log, "perform "+c.name)
	return c.fails
}

func (c *stubCommand) ExpandToAllRelatedObjects() Command {
	return NewCompositeCommand(c, &stubCommand{name: c.name + "'", log: c.log})
}

func TestExecute_OrderAndExpansion(t *testing.T) {
	var log []string
	cmd := NewCompositeCommand(&stubCommand{name: "a", log: &log}, &stubCommand{name: "b", log: &log})
	if err := Execute(cmd); err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []string{
		"begin a", "begin a'", "begin b", "begin b'",
		"perform a", "perform a'", "perform b", "perform b'",
		"end b'", "end b", "end a'", "end a",
	}
	if len(log) != len(want) {
		t.Fatalf("unexpected log %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("step %d: expected %q, got %q (log %v)", i, want[i], log[i], log)
		}
	}
}

func TestExecute_ValidationErrorsStopEverything(t *testing.T) {
	var log []string
	errA := errors.New("a is broken")
	errB := errors.New("b is broken")
	cmd := NewCompositeCommand(
		&stubCommand{name: "ok", log: &log},
		NewExceptionCommand(errA),
		&stubCommand{name: "bad", log: &log, errs: []error{errB}},
	)
	err := Execute(cmd)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both errors, got %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("nothing may run when validation fails, got %v", log)
	}
	if err := cmd.Perform(); !errors.Is(err, errA) {
		t.Fatalf("expected composite perform to refuse, got %v", err)
	}
}

func TestExecute_PerformFailureSkipsEnd(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	err := Execute(&stubCommand{name: "x", log: &log, fails: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected perform error, got %v", err)
	}
	for _, entry := range log {
		if entry == "end x" {
			t.Fatal("end must not run after a failed perform")
		}
	}
}

func TestNopCommand(t *testing.T) {
	if err := Execute(NopCommand{}); err != nil {
		t.Fatalf("nop: %v", err)
	}
	comp, ok := NopCommand{}.ExpandToAllRelatedObjects().(*CompositeCommand)
	if !ok || len(comp.Commands()) != 1 {
		t.Fatal("expected nop to expand to itself")
	}
}
