package tigres

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tigres-workflow/tigres/monitoring"
)

// Sequence runs the tasks one after another. A task without matching
// inputs receives the previous task's results. It returns the results
// of the last task.
func (p *Program) Sequence(name string, tasks *TaskArray, inputs *InputArray, env map[string]string) (interface{}, error) {
	if tasks == nil || tasks.Len() == 0 {
		return nil, validationErrorf("sequence template %q has no tasks", name)
	}
	seq := p.registerSequenceWork(name)
	p.rootWork.Append(seq)
	p.logTemplate(seq, "sequence", StateRun)
	if err := p.runWorkSequence(seq, tasks.Tasks(), inputRows(inputs), env); err != nil {
		return nil, err
	}
	p.logTemplate(seq, "sequence", seq.State())
	return seq.Results(), nil
}

// Parallel runs the tasks concurrently and returns their results in
// registration order. With no inputs the previous results fan out, one
// concurrent execution per element.
func (p *Program) Parallel(name string, tasks *TaskArray, inputs *InputArray, env map[string]string) (interface{}, error) {
	if tasks == nil || tasks.Len() == 0 {
		return nil, validationErrorf("parallel template %q has no tasks", name)
	}
	rows := inputRows(inputs)
	if len(rows) == 0 {
		r, err := p.fanOutRows("parallel", name)
		if err != nil {
			return nil, err
		}
		rows = r
	}
	par := p.registerParallelWork(name)
	p.rootWork.Append(par)
	p.logTemplate(par, "parallel", StateRun)
	if err := p.runWorkParallel(par, tasks.Tasks(), rows, env); err != nil {
		return nil, err
	}
	p.logTemplate(par, "parallel", par.State())
	return par.Results(), nil
}

// Split runs the split task, then the parallel tasks over its results.
// With no inputs the split results fan out, one parallel execution per
// element. It returns the parallel results.
func (p *Program) Split(name string, splitTask *Task, splitValues *InputValues, tasks *TaskArray, inputs *InputArray, env map[string]string) (interface{}, error) {
	if splitTask == nil {
		return nil, validationErrorf("split template %q is missing the split task", name)
	}
	if tasks == nil || tasks.Len() == 0 {
		return nil, validationErrorf("split template %q has no parallel tasks", name)
	}
	seq := p.registerSequenceWork(name)
	p.rootWork.Append(seq)
	p.logTemplate(seq, "split", StateRun)
	sw := p.registerWork(WorkInputs{Task: splitTask, Values: implicitValues(splitValues)})
	overlayEnv(sw, env)
	seq.Append(sw)
	if err := p.RunWork(sw); err != nil {
		return nil, err
	}
	if f, ok := sw.Results().(*TaskFailure); ok {
		return nil, errors.Wrapf(f.Err, "split task %s failed", sw.Name())
	}
	rows := inputRows(inputs)
	if len(rows) == 0 {
		r, err := p.fanOutRows("split", name)
		if err != nil {
			return nil, err
		}
		rows = r
	}
	par := p.registerParallelWork(name)
	seq.Append(par)
	if err := p.runWorkParallel(par, tasks.Tasks(), rows, env); err != nil {
		return nil, err
	}
	p.logTemplate(seq, "split", seq.State())
	return seq.Results(), nil
}

// Merge runs the parallel tasks, then the merge task over their
// results. With no inputs the previous results fan out, one parallel
// execution per element. It returns the merge task's results.
func (p *Program) Merge(name string, tasks *TaskArray, inputs *InputArray, mergeTask *Task, mergeValues *InputValues, env map[string]string) (interface{}, error) {
	if mergeTask == nil {
		return nil, validationErrorf("merge template %q is missing the merge task", name)
	}
	if tasks == nil || tasks.Len() == 0 {
		return nil, validationErrorf("merge template %q has no parallel tasks", name)
	}
	rows := inputRows(inputs)
	if len(rows) == 0 {
		r, err := p.fanOutRows("merge", name)
		if err != nil {
			return nil, err
		}
		rows = r
	}
	seq := p.registerSequenceWork(name)
	p.rootWork.Append(seq)
	p.logTemplate(seq, "merge", StateRun)
	par := p.registerParallelWork(name)
	seq.Append(par)
	if err := p.runWorkParallel(par, tasks.Tasks(), rows, env); err != nil {
		return nil, err
	}
	mw := p.registerWork(WorkInputs{Task: mergeTask, Values: implicitValues(mergeValues)})
	overlayEnv(mw, env)
	seq.Append(mw)
	if err := p.RunWork(mw); err != nil {
		return nil, err
	}
	if f, ok := mw.Results().(*TaskFailure); ok {
		return nil, errors.Wrapf(f.Err, "merge task %s failed", mw.Name())
	}
	p.logTemplate(seq, "merge", seq.State())
	return seq.Results(), nil
}

// RunWork prepares and dispatches one work unit. Backends that leave
// the unit READY or RUN, like the batch schedulers, are polled until
// the unit finishes when it runs inside a sequence. A backend error
// records a TaskFailure on the unit before it is returned.
func (p *Program) RunWork(u *WorkUnit) error {
	if err := p.prepareWork(u); err != nil {
		return err
	}
	u.setState(StateRun)
	in := u.Inputs()
	res, st, err := p.executor.Execute(u.Name(), in.Task, in.Values, u.execData)
	for err == nil {
		if _, ok := u.Parent().(*WorkSequence); !ok {
			break
		}
		if st != StateReady && st != StateRun {
			break
		}
		if d, ok := p.executor.(pollDelayer); ok {
			time.Sleep(d.pollDelay())
		}
		res, st, err = p.executor.Execute(u.Name(), in.Task, in.Values, u.execData)
	}
	if err != nil {
		u.setResults(NewTaskFailure(fmt.Sprintf("task execution failure for %s", u.Name()), err))
		u.setState(StateFail)
		return err
	}
	u.setResults(res)
	u.setState(st)
	return nil
}

// prepareWork validates and resolves a unit's inputs and moves it to
// READY. Preparing READY or RUN work again is a no-op, which keeps
// re-polled batch units stable. Preparing finished work is an engine
// error.
func (p *Program) prepareWork(u *WorkUnit) error {
	switch u.State() {
	case StateNew:
	case StateReady, StateRun:
		return nil
	default:
		return internalErrorf("cannot prepare work %s in state %s", u.Name(), u.State())
	}
	if err := p.validateInputs(u); err != nil {
		return err
	}
	values, err := p.resolveInputs(u)
	if err != nil {
		return err
	}
	u.setState(StateReady)
	u.inputs.Values = values
	return nil
}

func (p *Program) validateInputs(u *WorkUnit) error {
	if len(u.inputs.Values) == 0 && len(u.inputs.Task.InputTypes()) > 0 {
		return validationErrorf("work %s is missing input values for task %s", u.Name(), u.inputs.Task.Name())
	}
	return nil
}

// resolveInputs replaces dependency references with the referenced
// results. The unit's stored values stay untouched until prepareWork
// commits the resolved copy.
func (p *Program) resolveInputs(u *WorkUnit) ([]interface{}, error) {
	values := append([]interface{}(nil), u.inputs.Values...)
	for i, v := range values {
		ref, ok := v.(*PreviousRef)
		if !ok {
			continue
		}
		rv, err := ref.resolve(p, u.index)
		if err != nil {
			return nil, err
		}
		values[i] = rv
	}
	return values, nil
}

func (p *Program) runWorkSequence(seq *WorkSequence, tasks []*Task, rows [][]interface{}, env map[string]string) error {
	units, err := p.generateWork(tasks, rows, env)
	if err != nil {
		return err
	}
	for _, u := range units {
		seq.Append(u)
		if err := p.RunWork(u); err != nil {
			return err
		}
		if f, ok := u.Results().(*TaskFailure); ok {
			return errors.Wrapf(f.Err, "sequence aborted at task %s", u.Name())
		}
	}
	return nil
}

// runWorkParallel prepares every unit up front, so dependency
// resolution stays single-threaded, then hands the group to the
// backend. Sibling units keep running when one fails; the aggregate
// FAIL surfaces after the group finished.
func (p *Program) runWorkParallel(par *WorkParallel, tasks []*Task, rows [][]interface{}, env map[string]string) error {
	units, err := p.generateWork(tasks, rows, env)
	if err != nil {
		return err
	}
	for _, u := range units {
		par.Append(u)
	}
	for _, u := range units {
		if err := p.prepareWork(u); err != nil {
			return err
		}
	}
	if err := p.executor.Parallel(par, p.RunWork); err != nil {
		return err
	}
	if par.State() == StateFail {
		return errors.New("one or more parallel tasks failed")
	}
	return nil
}

// generateWork pairs tasks with input rows and registers one work unit
// per pair. Equal lengths pair up and a single task or a single row
// broadcasts; any other combination is an arity error. An absent input
// array fills every task with the previous results.
func (p *Program) generateWork(tasks []*Task, rows [][]interface{}, env map[string]string) ([]*WorkUnit, error) {
	type pairing struct {
		task   *Task
		values []interface{}
	}
	lenT, lenI := len(tasks), len(rows)
	var pairs []pairing
	switch {
	case lenI == 0:
		for _, t := range tasks {
			pairs = append(pairs, pairing{t, []interface{}{Previous()}})
		}
	case lenT == lenI:
		for i, t := range tasks {
			pairs = append(pairs, pairing{t, rows[i]})
		}
	case lenT == 1:
		for _, row := range rows {
			pairs = append(pairs, pairing{tasks[0], row})
		}
	case lenI == 1:
		for _, t := range tasks {
			pairs = append(pairs, pairing{t, rows[0]})
		}
	default:
		return nil, validationErrorf("cannot pair %d tasks with %d input values", lenT, lenI)
	}
	units := make([]*WorkUnit, 0, len(pairs))
	for i, pr := range pairs {
		u := p.registerWork(WorkInputs{Task: pr.task, Values: pr.values})
		u.index = i
		overlayEnv(u, env)
		units = append(units, u)
	}
	return units, nil
}

// fanOutRows builds one single-reference input row per element of the
// previous results.
func (p *Program) fanOutRows(kind, name string) ([][]interface{}, error) {
	prev := p.Results()
	if prev == nil {
		return nil, validationErrorf("%s template %q has no inputs and no previous results to fan out", kind, name)
	}
	list, ok := prev.([]interface{})
	if !ok {
		return nil, validationErrorf("%s template %q failed trying to use previous results %v: not a list", kind, name, prev)
	}
	rows := make([][]interface{}, len(list))
	for i := range list {
		rows[i] = []interface{}{Previous().I()}
	}
	return rows, nil
}

// implicitValues defaults a split or merge task without explicit
// values to the previous results.
func implicitValues(values *InputValues) []interface{} {
	if values == nil {
		return []interface{}{Previous()}
	}
	return append([]interface{}(nil), values.Values()...)
}

func inputRows(inputs *InputArray) [][]interface{} {
	if inputs == nil {
		return nil
	}
	rows := make([][]interface{}, 0, inputs.Len())
	for _, iv := range inputs.Values() {
		rows = append(rows, iv.Values())
	}
	return rows
}

func overlayEnv(u *WorkUnit, env map[string]string) {
	for k, v := range env {
		u.execData.Env[k] = v
	}
}

func (p *Program) logTemplate(w Work, kind string, s State) {
	p.monitor.LogNode(monitoring.LevelInfo, w.Name(), s.String(), kind, monitoring.Fields{
		monitoring.KeyEvent:       "template",
		monitoring.KeyTemplateUID: strings.ReplaceAll(w.Name(), " ", "+"),
	})
}
