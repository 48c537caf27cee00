package tigres

import (
	"strings"
	"testing"
)

func TestNewTaskValidation(t *testing.T) {
	p := newTestProgram(t)
	okFn := TaskFunc(func(args ...interface{}) (interface{}, error) { return nil, nil })
	cases := []struct {
		name string
		kind TaskKind
		impl interface{}
		ok   bool
	}{
		{
			name: "function",
			kind: FUNCTION,
			impl: okFn,
			ok:   true,
		},
		{
			name: "nil function",
			kind: FUNCTION,
			impl: nil,
			ok:   false,
		},
		{
			name: "unregistered name",
			kind: FUNCTION,
			impl: "no.such.function",
			ok:   false,
		},
		{
			name: "engine callable",
			kind: FUNCTION,
			impl: "tigres.internal",
			ok:   false,
		},
		{
			name: "wrong impl type",
			kind: FUNCTION,
			impl: 42,
			ok:   false,
		},
		{
			name: "executable",
			kind: EXECUTABLE,
			impl: "/bin/echo",
			ok:   true,
		},
		{
			name: "empty executable",
			kind: EXECUTABLE,
			impl: "",
			ok:   false,
		},
		{
			name: "executable with non-string impl",
			kind: EXECUTABLE,
			impl: okFn,
			ok:   false,
		},
	}
	for i, c := range cases {
		_, err := p.NewTask(c.name, c.kind, c.impl, nil, nil)
		if c.ok && err != nil {
			t.Fatalf("%d %s: got error %v, want none", i, c.name, err)
		}
		if !c.ok {
			if err == nil {
				t.Fatalf("%d %s: got no error, want one", i, c.name)
			}
			if _, isValidation := err.(*ValidationError); !isValidation {
				t.Fatalf("%d %s: got %T, want *ValidationError", i, c.name, err)
			}
		}
	}
}

func TestRegisterFunction(t *testing.T) {
	fn := TaskFunc(func(args ...interface{}) (interface{}, error) { return nil, nil })
	cases := []struct {
		name string
		fn   TaskFunc
		ok   bool
	}{
		{
			name: "tasktest.first",
			fn:   fn,
			ok:   true,
		},
		{
			name: "tasktest.first",
			fn:   fn,
			ok:   false,
		},
		{
			name: "",
			fn:   fn,
			ok:   false,
		},
		{
			name: "tigres.reserved",
			fn:   fn,
			ok:   false,
		},
		{
			name: "tasktest.nil",
			fn:   nil,
			ok:   false,
		},
	}
	for i, c := range cases {
		err := RegisterFunction(c.name, c.fn)
		if c.ok && err != nil {
			t.Fatalf("%d: got error %v, want none", i, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("%d: got no error, want one", i)
		}
	}
}

func TestTaskByRegisteredName(t *testing.T) {
	err := RegisterFunction("tasktest.echo", func(args ...interface{}) (interface{}, error) {
		return args[0], nil
	})
	if err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}
	p := newTestProgram(t)
	task, err := p.NewTask("echo", FUNCTION, "tasktest.echo", nil, nil)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if got := task.FunctionName(); got != "tasktest.echo" {
		t.Fatalf("got %v, want tasktest.echo", got)
	}
	if task.fn == nil {
		t.Fatalf("task function not resolved from the registry")
	}
}

func TestObjectNameSuffix(t *testing.T) {
	p := newTestProgram(t)
	fn := TaskFunc(func(args ...interface{}) (interface{}, error) { return nil, nil })
	t1 := mustTask(t, p, "proc", fn)
	t2 := mustTask(t, p, "proc", fn)
	if got := t1.Name(); got != "proc" {
		t.Fatalf("got %v, want proc", got)
	}
	got := t2.Name()
	if got == "proc" || !strings.HasPrefix(got, "proc-") {
		t.Fatalf("got %v, want a proc- suffixed name", got)
	}
}

func TestNilElementValidation(t *testing.T) {
	p := newTestProgram(t)
	fn := TaskFunc(func(args ...interface{}) (interface{}, error) { return nil, nil })
	task := mustTask(t, p, "proc", fn)
	if _, err := p.NewTaskArray("tasks", task, nil); err == nil {
		t.Fatalf("got no error, want one for a nil task")
	}
	if _, err := p.NewInputArray("inputs", nil); err == nil {
		t.Fatalf("got no error, want one for nil values")
	}
}
