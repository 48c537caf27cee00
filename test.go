package tigres

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/tigres-workflow/tigres/monitoring"
)

// newTestProgram creates a program that discards monitoring records
// and closes with the test.
func newTestProgram(t *testing.T, opts ...Option) *Program {
	t.Helper()
	opts = append([]Option{WithLogDest(monitoring.DestNull)}, opts...)
	p, err := New("test", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// ShouldEqualResults checks that given two results are equal and raises
// an error about which parts are different between two.
// It considers the first is 'got' and the second is 'want'.
func ShouldEqualResults(got, want interface{}) error {
	gl, gok := got.([]interface{})
	wl, wok := want.([]interface{})
	if gok != wok {
		return fmt.Errorf("got %T, want %T", got, want)
	}
	if !gok {
		if !reflect.DeepEqual(got, want) {
			return fmt.Errorf("got %v, want %v", got, want)
		}
		return nil
	}
	if len(gl) != len(wl) {
		return fmt.Errorf("len: got %v, want %v", len(gl), len(wl))
	}
	for i := range gl {
		if !reflect.DeepEqual(gl[i], wl[i]) {
			return fmt.Errorf("%d: got %v, want %v", i, gl[i], wl[i])
		}
	}
	return nil
}

func mustTask(t *testing.T, p *Program, name string, fn TaskFunc) *Task {
	t.Helper()
	task, err := p.NewTask(name, FUNCTION, fn, nil, nil)
	if err != nil {
		t.Fatalf("NewTask %s: %v", name, err)
	}
	return task
}

func mustTaskArray(t *testing.T, p *Program, name string, tasks ...*Task) *TaskArray {
	t.Helper()
	a, err := p.NewTaskArray(name, tasks...)
	if err != nil {
		t.Fatalf("NewTaskArray %s: %v", name, err)
	}
	return a
}

func mustInputArray(t *testing.T, p *Program, name string, rows ...[]interface{}) *InputArray {
	t.Helper()
	ivs := make([]*InputValues, 0, len(rows))
	for i, row := range rows {
		iv, err := p.NewInputValues(fmt.Sprintf("%s %d", name, i), row...)
		if err != nil {
			t.Fatalf("NewInputValues: %v", err)
		}
		ivs = append(ivs, iv)
	}
	a, err := p.NewInputArray(name, ivs...)
	if err != nil {
		t.Fatalf("NewInputArray %s: %v", name, err)
	}
	return a
}
