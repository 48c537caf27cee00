package tigres

import (
	"github.com/pkg/errors"
)

// jobPayload is the wire form of one task execution, shared by the
// local-process workers, the distribute server and the batch function
// scripts. Function implementations travel by registered name.
type jobPayload struct {
	Name     string            `json:"name"`
	TaskName string            `json:"task_name"`
	Kind     string            `json:"kind"`
	Impl     string            `json:"impl"`
	Values   []interface{}     `json:"values"`
	Env      map[string]string `json:"env,omitempty"`
}

// resultPayload reports one execution state change back to the
// coordinator. Workers send it twice per job: a RUN sentinel when the
// task starts and a terminal payload when it finished.
type resultPayload struct {
	Name   string      `json:"name"`
	State  string      `json:"state"`
	Result interface{} `json:"result,omitempty"`
	Err    string      `json:"err,omitempty"`
}

func payloadForUnit(u *WorkUnit) (*jobPayload, error) {
	t := u.inputs.Task
	pl := &jobPayload{
		Name:     u.Name(),
		TaskName: t.Name(),
		Kind:     t.Kind().String(),
		Values:   u.inputs.Values,
		Env:      u.execData.Env,
	}
	switch t.Kind() {
	case FUNCTION:
		if t.fnName == "" {
			return nil, backendErrorf(u.Name(), t.Name(), errors.Errorf(
				"function of task %s is not registered for cross-process execution", t.Name()))
		}
		pl.Impl = t.fnName
	case EXECUTABLE:
		pl.Impl = t.executable
	}
	return pl, nil
}

// task reconstructs a runnable task from the payload. Function tasks
// resolve against this process's registry.
func (pl *jobPayload) task() (*Task, error) {
	if pl.Kind == EXECUTABLE.String() {
		return &Task{
			id:         Identifier{Name: pl.TaskName},
			kind:       EXECUTABLE,
			executable: pl.Impl,
		}, nil
	}
	fn, ok := lookupFunction(pl.Impl)
	if !ok {
		return nil, errors.Errorf("function %q is not registered in this process", pl.Impl)
	}
	return &Task{
		id:     Identifier{Name: pl.TaskName},
		kind:   FUNCTION,
		fn:     fn,
		fnName: pl.Impl,
	}, nil
}

// execute runs the payload in the calling process.
func (pl *jobPayload) execute() (interface{}, State, error) {
	t, err := pl.task()
	if err != nil {
		return nil, StateFail, backendErrorf(pl.Name, pl.TaskName, err)
	}
	data := newExecutionData()
	for k, v := range pl.Env {
		data.Env[k] = v
	}
	return executeWith(localBase{}, pl.Name, t, pl.Values, data)
}

// applyResult writes a worker's result payload onto the unit.
func applyResult(u *WorkUnit, rp *resultPayload) {
	st := parseState(rp.State)
	if st == StateFail {
		u.setResults(NewTaskFailure(
			"task execution failure for "+rp.Name, errors.New(rp.Err)))
	} else {
		u.setResults(rp.Result)
	}
	u.setState(st)
}
