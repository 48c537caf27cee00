package tigres

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
)

func addOne(args ...interface{}) (interface{}, error) {
	return args[0].(int) + 1, nil
}

func double(args ...interface{}) (interface{}, error) {
	return args[0].(int) * 2, nil
}

func triple(args ...interface{}) (interface{}, error) {
	return args[0].(int) * 3, nil
}

func TestSequencePipeline(t *testing.T) {
	p := newTestProgram(t)
	tasks := mustTaskArray(t, p, "tasks",
		mustTask(t, p, "add", addOne),
		mustTask(t, p, "double", double),
		mustTask(t, p, "add again", addOne),
	)
	inputs := mustInputArray(t, p, "in",
		[]interface{}{1},
		[]interface{}{Previous()},
		[]interface{}{Previous()},
	)
	res, err := p.Sequence("pipeline", tasks, inputs, nil)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if res != 5 {
		t.Fatalf("got %v, want 5", res)
	}
	if got := p.Results(); got != 5 {
		t.Fatalf("program results: got %v, want 5", got)
	}
}

func TestSequenceBroadcastsSingleInput(t *testing.T) {
	p := newTestProgram(t)
	tasks := mustTaskArray(t, p, "tasks",
		mustTask(t, p, "add", addOne),
		mustTask(t, p, "double", double),
	)
	inputs := mustInputArray(t, p, "in", []interface{}{5})
	res, err := p.Sequence("broadcast", tasks, inputs, nil)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	// Both tasks receive 5, double does not chain off add's result.
	if res != 10 {
		t.Fatalf("got %v, want 10", res)
	}
}

func TestSequenceFirstTaskWithoutPrevious(t *testing.T) {
	p := newTestProgram(t)
	tasks := mustTaskArray(t, p, "tasks", mustTask(t, p, "add", addOne))
	_, err := p.Sequence("orphan", tasks, nil, nil)
	if err == nil {
		t.Fatalf("got no error, want one")
	}
	if _, ok := err.(*PreviousSyntaxError); !ok {
		t.Fatalf("got %T, want *PreviousSyntaxError", err)
	}
}

func TestParallelBroadcastsSingleTask(t *testing.T) {
	p := newTestProgram(t)
	tasks := mustTaskArray(t, p, "tasks", mustTask(t, p, "double", double))
	inputs := mustInputArray(t, p, "in",
		[]interface{}{1},
		[]interface{}{2},
		[]interface{}{3},
	)
	res, err := p.Parallel("sweep", tasks, inputs, nil)
	if err != nil {
		t.Fatalf("Parallel: %v", err)
	}
	if err := ShouldEqualResults(res, []interface{}{2, 4, 6}); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestParallelFanOut(t *testing.T) {
	p := newTestProgram(t)
	maker := mustTask(t, p, "make", func(args ...interface{}) (interface{}, error) {
		return []interface{}{1, 2, 3}, nil
	})
	seed := mustInputArray(t, p, "seed", []interface{}{0})
	if _, err := p.Sequence("make", mustTaskArray(t, p, "make tasks", maker), seed, nil); err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	tasks := mustTaskArray(t, p, "fan tasks", mustTask(t, p, "double", double))
	res, err := p.Parallel("fan", tasks, nil, nil)
	if err != nil {
		t.Fatalf("Parallel: %v", err)
	}
	if err := ShouldEqualResults(res, []interface{}{2, 4, 6}); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestParallelMultiTaskFanOut(t *testing.T) {
	p := newTestProgram(t)
	runStage(t, p, "make", []interface{}{10, 20})
	tasks := mustTaskArray(t, p, "fan tasks",
		mustTask(t, p, "double", double),
		mustTask(t, p, "triple", triple),
	)
	// Each task receives its own element of the previous results, not
	// the whole list.
	res, err := p.Parallel("fan", tasks, nil, nil)
	if err != nil {
		t.Fatalf("Parallel: %v", err)
	}
	if err := ShouldEqualResults(res, []interface{}{20, 60}); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestParallelFanOutCountMismatch(t *testing.T) {
	p := newTestProgram(t)
	runStage(t, p, "make", []interface{}{10, 20, 30})
	tasks := mustTaskArray(t, p, "fan tasks",
		mustTask(t, p, "double", double),
		mustTask(t, p, "triple", triple),
	)
	_, err := p.Parallel("fan", tasks, nil, nil)
	if err == nil {
		t.Fatalf("got no error, want one")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("got %T, want *ValidationError", err)
	}
}

func TestParallelFanOutWithoutPrevious(t *testing.T) {
	p := newTestProgram(t)
	tasks := mustTaskArray(t, p, "tasks",
		mustTask(t, p, "a", double),
		mustTask(t, p, "b", double),
	)
	_, err := p.Parallel("first", tasks, nil, nil)
	if err == nil {
		t.Fatalf("got no error, want one")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("got %T, want *ValidationError", err)
	}
}

func TestParallelArityMismatch(t *testing.T) {
	cases := []struct {
		name  string
		tasks int
		rows  int
	}{
		{name: "more inputs than tasks", tasks: 2, rows: 3},
		{name: "more tasks than inputs", tasks: 3, rows: 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := newTestProgram(t)
			tasks := make([]*Task, 0, c.tasks)
			for i := 0; i < c.tasks; i++ {
				tasks = append(tasks, mustTask(t, p, "proc", double))
			}
			rows := make([][]interface{}, 0, c.rows)
			for i := 0; i < c.rows; i++ {
				rows = append(rows, []interface{}{i})
			}
			ta := mustTaskArray(t, p, "tasks", tasks...)
			inputs := mustInputArray(t, p, "in", rows...)
			_, err := p.Parallel("bad", ta, inputs, nil)
			if err == nil {
				t.Fatalf("got no error, want one")
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Fatalf("got %T, want *ValidationError", err)
			}
		})
	}
}

func TestSequenceAbortsOnFailure(t *testing.T) {
	p := newTestProgram(t)
	var ran int32
	tasks := mustTaskArray(t, p, "tasks",
		mustTask(t, p, "ok", addOne),
		mustTask(t, p, "bad", func(args ...interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		}),
		mustTask(t, p, "after", func(args ...interface{}) (interface{}, error) {
			atomic.AddInt32(&ran, 1)
			return nil, nil
		}),
	)
	inputs := mustInputArray(t, p, "in", []interface{}{1}, []interface{}{Previous()}, []interface{}{Previous()})
	_, err := p.Sequence("abort", tasks, inputs, nil)
	if err == nil {
		t.Fatalf("got no error, want one")
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("task after the failure ran")
	}
	seq := p.RootWork().subWork()[0].(*WorkSequence)
	failed := seq.subWork()[1].(*WorkUnit)
	if got := failed.State(); got != StateFail {
		t.Fatalf("got %v, want %v", got, StateFail)
	}
	if _, ok := failed.Results().(*TaskFailure); !ok {
		t.Fatalf("got %T, want *TaskFailure", failed.Results())
	}
}

func TestParallelSiblingsFinishOnFailure(t *testing.T) {
	p := newTestProgram(t)
	tasks := mustTaskArray(t, p, "tasks",
		mustTask(t, p, "bad", func(args ...interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		}),
		mustTask(t, p, "good", double),
	)
	inputs := mustInputArray(t, p, "in", []interface{}{1}, []interface{}{2})
	_, err := p.Parallel("mixed", tasks, inputs, nil)
	if err == nil {
		t.Fatalf("got no error, want one")
	}
	par := p.RootWork().subWork()[0].(*WorkParallel)
	units := par.units()
	if _, ok := units[0].Results().(*TaskFailure); !ok {
		t.Fatalf("got %T, want *TaskFailure", units[0].Results())
	}
	if got := units[1].Results(); got != 4 {
		t.Fatalf("sibling results: got %v, want 4", got)
	}
	if got := par.State(); got != StateFail {
		t.Fatalf("got %v, want %v", got, StateFail)
	}
}

func TestSplitFanOut(t *testing.T) {
	p := newTestProgram(t)
	split := mustTask(t, p, "split", func(args ...interface{}) (interface{}, error) {
		return []interface{}{1, 2, 3}, nil
	})
	sv, err := p.NewInputValues("split in", 0)
	if err != nil {
		t.Fatalf("NewInputValues: %v", err)
	}
	tasks := mustTaskArray(t, p, "workers", mustTask(t, p, "double", double))
	res, err := p.Split("scatter", split, sv, tasks, nil, nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if err := ShouldEqualResults(res, []interface{}{2, 4, 6}); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestMerge(t *testing.T) {
	p := newTestProgram(t)
	tasks := mustTaskArray(t, p, "workers", mustTask(t, p, "double", double))
	inputs := mustInputArray(t, p, "in",
		[]interface{}{1},
		[]interface{}{2},
		[]interface{}{3},
	)
	sum := mustTask(t, p, "sum", func(args ...interface{}) (interface{}, error) {
		total := 0
		for _, v := range args[0].([]interface{}) {
			total += v.(int)
		}
		return total, nil
	})
	res, err := p.Merge("gather", tasks, inputs, sum, nil, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res != 12 {
		t.Fatalf("got %v, want 12", res)
	}
}

func TestPrepareWorkIdempotent(t *testing.T) {
	p := newTestProgram(t)
	task := mustTask(t, p, "add", addOne)
	seq := p.registerSequenceWork("s")
	p.rootWork.Append(seq)
	u := p.registerWork(WorkInputs{Task: task, Values: []interface{}{1}})
	seq.Append(u)
	if err := p.prepareWork(u); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if got := u.State(); got != StateReady {
		t.Fatalf("got %v, want %v", got, StateReady)
	}
	if err := p.prepareWork(u); err != nil {
		t.Fatalf("second prepare: %v", err)
	}
	u.setState(StateDone)
	err := p.prepareWork(u)
	if err == nil {
		t.Fatalf("got no error, want one for finished work")
	}
	if _, ok := err.(*InternalError); !ok {
		t.Fatalf("got %T, want *InternalError", err)
	}
}

func TestRunWorkRecordsFailure(t *testing.T) {
	p := newTestProgram(t)
	task := mustTask(t, p, "bad", func(args ...interface{}) (interface{}, error) {
		return nil, errors.New("boom")
	})
	seq := p.registerSequenceWork("s")
	p.rootWork.Append(seq)
	u := p.registerWork(WorkInputs{Task: task, Values: []interface{}{1}})
	seq.Append(u)
	err := p.RunWork(u)
	if err == nil {
		t.Fatalf("got no error, want one")
	}
	if got := u.State(); got != StateFail {
		t.Fatalf("got %v, want %v", got, StateFail)
	}
	f, ok := u.Results().(*TaskFailure)
	if !ok {
		t.Fatalf("got %T, want *TaskFailure", u.Results())
	}
	if f.Err == nil {
		t.Fatalf("failure lost its cause")
	}
}
