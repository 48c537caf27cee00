package tigres

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Execution names a built-in execution backend.
type Execution string

const (
	// LocalThread runs tasks on goroutines in the program process.
	LocalThread = Execution("local-thread")
	// LocalProcess runs parallel tasks in re-executed copies of the
	// program binary.
	LocalProcess = Execution("local-process")
	// DistributeProcess serves parallel tasks over HTTP to worker
	// clients on this or other hosts.
	DistributeProcess = Execution("distribute-process")
	// SGE submits tasks to a Sun Grid Engine queue.
	SGE = Execution("sge")
	// SLURM submits tasks to a SLURM queue.
	SLURM = Execution("slurm")
)

// RunFunc dispatches one prepared work unit.
type RunFunc func(u *WorkUnit) error

// dispatcher runs one task implementation.
type dispatcher interface {
	ExecuteFunction(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error)
	ExecuteExecutable(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error)
}

// Executor is an execution backend. Execute runs one unit of work and
// reports the unit's new state; Parallel runs a prepared group.
// Backends that only submit work, like the batch schedulers, report
// RUN and are polled by the coordinator.
type Executor interface {
	dispatcher
	Execute(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error)
	Parallel(par *WorkParallel, run RunFunc) error
}

// pollDelayer lets a backend ask the coordinator to wait between
// execution polls.
type pollDelayer interface {
	pollDelay() time.Duration
}

func newExecutor(e Execution) (Executor, error) {
	switch e {
	case LocalThread:
		return NewLocalThread(), nil
	case LocalProcess:
		return NewLocalProcess(), nil
	case DistributeProcess:
		return NewDistribute(), nil
	case SGE:
		return NewSGE(), nil
	case SLURM:
		return NewSLURM(), nil
	}
	return nil, validationErrorf("unknown execution %q", string(e))
}

// executeWith merges the task environment over the unit's and
// dispatches on the task kind.
func executeWith(d dispatcher, name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error) {
	if task == nil {
		return nil, StateFail, internalErrorf("work %s has no task", name)
	}
	for k, v := range task.Env() {
		data.Env[k] = v
	}
	if task.Kind() == EXECUTABLE {
		return d.ExecuteExecutable(name, task, values, data)
	}
	return d.ExecuteFunction(name, task, values, data)
}

// createExecutableCommand builds the shell command line of an
// EXECUTABLE task: the executable string followed by the stringified
// input values.
func createExecutableCommand(task *Task, values []interface{}) string {
	parts := make([]string, 0, len(values)+1)
	parts = append(parts, task.ExecutableString())
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, " ")
}

// runCommand runs command through the shell with env layered over the
// process environment. Output on stderr counts as failure even when
// the exit status is zero. The trailing newline of stdout is dropped.
func runCommand(command string, env map[string]string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := strings.TrimRight(stdout.String(), "\n")
	if err != nil {
		return out, errors.Errorf("command %q failed: %v: %s", command, err, stderr.String())
	}
	if stderr.Len() > 0 {
		return out, errors.Errorf("command %q wrote to stderr: %s", command, stderr.String())
	}
	return out, nil
}

// shellOutput runs command through the shell and returns its combined
// output, empty when the command fails.
func shellOutput(command string) string {
	out, err := exec.Command("/bin/sh", "-c", command).CombinedOutput()
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\n")
}

// failUnit records err as the unit's failure result.
func failUnit(u *WorkUnit, err error) {
	u.setResults(NewTaskFailure(fmt.Sprintf("task execution failure for %s", u.Name()), err))
	u.setState(StateFail)
}
