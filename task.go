package tigres

import (
	"strings"
	"sync"
)

// TaskKind tells the backend how to run a task's implementation.
type TaskKind int

const (
	// FUNCTION runs a registered Go function in-process or, for
	// cross-process backends, in a re-executed copy of the binary.
	FUNCTION = TaskKind(iota)
	// EXECUTABLE runs an external command through the shell.
	EXECUTABLE
)

// String represents TaskKind as string.
func (k TaskKind) String() string {
	switch k {
	case FUNCTION:
		return "FUNCTION"
	case EXECUTABLE:
		return "EXECUTABLE"
	}
	return "UNKNOWN"
}

// TaskFunc is the signature of a FUNCTION task implementation.
type TaskFunc func(args ...interface{}) (interface{}, error)

// reservedFuncPrefix guards the registry against engine-internal
// callables being used as task implementations.
const reservedFuncPrefix = "tigres."

var (
	funcMu sync.Mutex
	funcs  = make(map[string]TaskFunc)
)

// RegisterFunction makes fn available to cross-process backends under
// name. The local-process, distribute and batch backends re-execute
// the program binary on another process or host and look the function
// up by this name there, so registration should happen during init of
// the program.
func RegisterFunction(name string, fn TaskFunc) error {
	if name == "" {
		return validationErrorf("function registration needs a name")
	}
	if strings.HasPrefix(name, reservedFuncPrefix) {
		return validationErrorf("function name %q uses the reserved prefix %q", name, reservedFuncPrefix)
	}
	if fn == nil {
		return validationErrorf("registered function %q is nil", name)
	}
	funcMu.Lock()
	defer funcMu.Unlock()
	if _, ok := funcs[name]; ok {
		return validationErrorf("function %q registered twice", name)
	}
	funcs[name] = fn
	return nil
}

// MustRegisterFunction is RegisterFunction that panics on error, for
// use in package init.
func MustRegisterFunction(name string, fn TaskFunc) {
	if err := RegisterFunction(name, fn); err != nil {
		panic(err)
	}
}

func lookupFunction(name string) (TaskFunc, bool) {
	funcMu.Lock()
	defer funcMu.Unlock()
	fn, ok := funcs[name]
	return fn, ok
}

// Task is a named piece of computation: a Go function or an external
// executable, plus the expected input types and environment overrides
// applied while it runs.
type Task struct {
	id         Identifier
	kind       TaskKind
	fn         TaskFunc
	fnName     string
	executable string
	inputTypes []string
	env        map[string]string
}

// NewTask creates and registers a task. For FUNCTION tasks impl is a
// TaskFunc or the name of a function registered with RegisterFunction.
// For EXECUTABLE tasks impl is the command string. Either types or env
// may be nil.
func (p *Program) NewTask(name string, kind TaskKind, impl interface{}, types *InputTypes, env map[string]string) (*Task, error) {
	t := &Task{kind: kind, env: copyEnv(env)}
	if types != nil {
		t.inputTypes = append([]string(nil), types.types...)
	}
	switch kind {
	case FUNCTION:
		switch v := impl.(type) {
		case nil:
			return nil, validationErrorf("task %q has no function implementation", name)
		case TaskFunc:
			t.fn = v
		case func(args ...interface{}) (interface{}, error):
			t.fn = v
		case string:
			if strings.HasPrefix(v, reservedFuncPrefix) {
				return nil, validationErrorf("task %q may not use the engine callable %q", name, v)
			}
			fn, ok := lookupFunction(v)
			if !ok {
				return nil, validationErrorf("task %q refers to unregistered function %q", name, v)
			}
			t.fn = fn
			t.fnName = v
		default:
			return nil, validationErrorf("task %q has implementation type %T, want a function or registered name", name, impl)
		}
	case EXECUTABLE:
		cmd, ok := impl.(string)
		if !ok || cmd == "" {
			return nil, validationErrorf("task %q needs a non-empty executable, got %T", name, impl)
		}
		t.executable = cmd
	default:
		return nil, validationErrorf("task %q has unknown kind %d", name, int(kind))
	}
	t.id = p.registerObject("Task", name)
	return t, nil
}

// Name returns the task's registered display name.
func (t *Task) Name() string             { return t.id.objectName() }
func (t *Task) ID() Identifier           { return t.id }
func (t *Task) Kind() TaskKind           { return t.kind }
func (t *Task) InputTypes() []string     { return t.inputTypes }
func (t *Task) Env() map[string]string   { return t.env }
func (t *Task) FunctionName() string     { return t.fnName }
func (t *Task) ExecutableString() string { return t.executable }

// TaskArray is an ordered, named list of tasks handed to a template.
type TaskArray struct {
	id    Identifier
	tasks []*Task
}

// NewTaskArray creates and registers a task array. All elements must
// be non-nil tasks.
func (p *Program) NewTaskArray(name string, tasks ...*Task) (*TaskArray, error) {
	for i, t := range tasks {
		if t == nil {
			return nil, validationErrorf("task array %q has a nil task at index %d", name, i)
		}
	}
	a := &TaskArray{tasks: append([]*Task(nil), tasks...)}
	a.id = p.registerObject("TaskArray", name)
	return a, nil
}

func (a *TaskArray) Name() string   { return a.id.objectName() }
func (a *TaskArray) Len() int       { return len(a.tasks) }
func (a *TaskArray) At(i int) *Task { return a.tasks[i] }
func (a *TaskArray) Tasks() []*Task { return a.tasks }

// Append adds tasks after creation, before the array is handed to a
// template.
func (a *TaskArray) Append(tasks ...*Task) error {
	for i, t := range tasks {
		if t == nil {
			return validationErrorf("task array %q appended a nil task at index %d", a.Name(), i)
		}
	}
	a.tasks = append(a.tasks, tasks...)
	return nil
}

// InputValues is a named list of input values for one task execution.
// Values may contain dependency references built with Previous.
type InputValues struct {
	id     Identifier
	values []interface{}
}

// NewInputValues creates and registers input values.
func (p *Program) NewInputValues(name string, values ...interface{}) (*InputValues, error) {
	v := &InputValues{values: append([]interface{}(nil), values...)}
	v.id = p.registerObject("InputValues", name)
	return v, nil
}

func (v *InputValues) Name() string          { return v.id.objectName() }
func (v *InputValues) Len() int              { return len(v.values) }
func (v *InputValues) Values() []interface{} { return v.values }

// Copy registers a new InputValues under the same user name with a
// shallow copy of the values.
func (v *InputValues) Copy(p *Program) (*InputValues, error) {
	return p.NewInputValues(v.id.Name, v.values...)
}

// InputArray is a named list of InputValues, one entry per task
// execution of a template.
type InputArray struct {
	id     Identifier
	values []*InputValues
}

// NewInputArray creates and registers an input array. All elements
// must be non-nil.
func (p *Program) NewInputArray(name string, values ...*InputValues) (*InputArray, error) {
	for i, v := range values {
		if v == nil {
			return nil, validationErrorf("input array %q has nil values at index %d", name, i)
		}
	}
	a := &InputArray{values: append([]*InputValues(nil), values...)}
	a.id = p.registerObject("InputArray", name)
	return a, nil
}

func (a *InputArray) Name() string           { return a.id.objectName() }
func (a *InputArray) Len() int               { return len(a.values) }
func (a *InputArray) At(i int) *InputValues  { return a.values[i] }
func (a *InputArray) Values() []*InputValues { return a.values }

// Append adds entries after creation, before the array is handed to a
// template.
func (a *InputArray) Append(values ...*InputValues) error {
	for i, v := range values {
		if v == nil {
			return validationErrorf("input array %q appended nil values at index %d", a.Name(), i)
		}
	}
	a.values = append(a.values, values...)
	return nil
}

// InputTypes is a named list of type labels describing a task's
// expected inputs. The labels document intent and drive arity
// validation, they are not runtime type checks.
type InputTypes struct {
	id    Identifier
	types []string
}

// NewInputTypes creates and registers input types.
func (p *Program) NewInputTypes(name string, types ...string) (*InputTypes, error) {
	t := &InputTypes{types: append([]string(nil), types...)}
	t.id = p.registerObject("InputTypes", name)
	return t, nil
}

func (t *InputTypes) Name() string    { return t.id.objectName() }
func (t *InputTypes) Len() int        { return len(t.types) }
func (t *InputTypes) Types() []string { return t.types }

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
