package tigres

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed Task, InputValues or template
// argument: wrong container type, missing implementation, or a
// task/input arity mismatch.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// PreviousSyntaxError reports a malformed or ambiguous dependency
// reference.
type PreviousSyntaxError struct {
	msg string
}

func (e *PreviousSyntaxError) Error() string { return e.msg }

func previousSyntaxErrorf(format string, args ...interface{}) *PreviousSyntaxError {
	return &PreviousSyntaxError{msg: fmt.Sprintf(format, args...)}
}

// InternalError reports a violated engine invariant, for example
// preparing a work unit that already reached a terminal state. It is
// always fatal and never retried.
type InternalError struct {
	msg string
}

func (e *InternalError) Error() string { return e.msg }

func internalErrorf(format string, args ...interface{}) *InternalError {
	return &InternalError{msg: fmt.Sprintf(format, args...)}
}

// BackendError wraps a lower level execution error with the work and
// task it belongs to.
type BackendError struct {
	Work string
	Task string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("exception caught for execution '%s', task '%s': %v", e.Work, e.Task, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErrorf(work, task string, err error) *BackendError {
	return &BackendError{Work: work, Task: task, Err: err}
}

// TaskFailure is not an error type. It is the result wrapper stored in
// WorkUnit.Results when a dispatched unit errors, carrying a message
// and the underlying cause.
type TaskFailure struct {
	Name string
	Err  error
}

// NewTaskFailure creates a TaskFailure with a default name when none
// is given.
func NewTaskFailure(name string, err error) *TaskFailure {
	if name == "" {
		name = "result from failed task execution"
	}
	return &TaskFailure{Name: name, Err: err}
}

func (f *TaskFailure) String() string {
	if f.Err != nil {
		return fmt.Sprintf("%s (%T)", f.Name, f.Err)
	}
	return f.Name
}

// flattenedError is the single-line form used in monitoring records.
func (f *TaskFailure) flattenedError() string {
	if f.Err == nil {
		return ""
	}
	return strings.ReplaceAll(f.Err.Error(), "\n", "; ")
}
