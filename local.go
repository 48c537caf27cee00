package tigres

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// localBase runs task implementations in the calling process. The
// concrete local backends and the cross-process workers share it.
type localBase struct{}

func (localBase) ExecuteFunction(name string, task *Task, values []interface{}, data *ExecutionData) (res interface{}, st State, err error) {
	if task.fn == nil {
		return nil, StateFail, backendErrorf(name, task.Name(),
			errors.Errorf("function of task %s is not available in this process", task.Name()))
	}
	defer func() {
		if r := recover(); r != nil {
			res = nil
			st = StateFail
			err = backendErrorf(name, task.Name(), errors.Errorf("panic: %v", r))
		}
	}()
	restore := pushProcessEnv(data.Env)
	defer restore()
	out, ferr := task.fn(values...)
	if ferr != nil {
		return nil, StateFail, backendErrorf(name, task.Name(), ferr)
	}
	return out, StateDone, nil
}

func (localBase) ExecuteExecutable(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error) {
	command := createExecutableCommand(task, values)
	out, err := runCommand(command, data.Env)
	if err != nil {
		return nil, StateFail, backendErrorf(name, task.Name(), err)
	}
	return out, StateDone, nil
}

var envMu sync.Mutex

// pushProcessEnv applies overrides to the process environment and
// returns a restore func. The environment is process global, so tasks
// carrying overrides are serialized for their duration.
func pushProcessEnv(env map[string]string) func() {
	if len(env) == 0 {
		return func() {}
	}
	envMu.Lock()
	saved := make(map[string]*string, len(env))
	for k, v := range env {
		if old, ok := os.LookupEnv(k); ok {
			o := old
			saved[k] = &o
		} else {
			saved[k] = nil
		}
		os.Setenv(k, v)
	}
	return func() {
		for k, old := range saved {
			if old == nil {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, *old)
			}
		}
		envMu.Unlock()
	}
}

// LocalThreadExecutor runs parallel work on a bounded pool of
// goroutines.
type LocalThreadExecutor struct {
	localBase

	// MaxWorkers caps the pool. Zero means the CPU count.
	MaxWorkers int
}

func NewLocalThread() *LocalThreadExecutor {
	return &LocalThreadExecutor{}
}

func (e *LocalThreadExecutor) Execute(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error) {
	return executeWith(e, name, task, values, data)
}

// Parallel runs the group's units concurrently. A failing unit records
// its TaskFailure and does not stop its siblings; the aggregate state
// carries the failure.
func (e *LocalThreadExecutor) Parallel(par *WorkParallel, run RunFunc) error {
	units := par.units()
	if len(units) == 0 {
		return nil
	}
	n := e.MaxWorkers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > len(units) {
		n = len(units)
	}
	var g errgroup.Group
	g.SetLimit(n)
	for _, u := range units {
		u := u
		g.Go(func() error {
			// The failure is recorded on the unit by run.
			run(u)
			return nil
		})
	}
	return g.Wait()
}

// LocalProcessExecutor runs parallel work in worker processes, each a
// re-executed copy of the program binary. Function tasks must be
// registered with RegisterFunction so the workers can find them.
type LocalProcessExecutor struct {
	localBase

	// MaxWorkers caps the worker process count. Zero means the CPU
	// count.
	MaxWorkers int
}

func NewLocalProcess() *LocalProcessExecutor {
	return &LocalProcessExecutor{}
}

func (e *LocalProcessExecutor) Execute(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error) {
	return executeWith(e, name, task, values, data)
}

func (e *LocalProcessExecutor) Parallel(par *WorkParallel, run RunFunc) error {
	units := par.units()
	if len(units) == 0 {
		return nil
	}
	n := e.MaxWorkers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > len(units) {
		n = len(units)
	}
	ch := make(chan *WorkUnit)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			w, err := startProcessWorker()
			if err != nil {
				for u := range ch {
					failUnit(u, err)
				}
				return nil
			}
			defer w.close()
			for u := range ch {
				pl, err := payloadForUnit(u)
				if err != nil {
					failUnit(u, err)
					continue
				}
				if err := w.run(u, pl); err != nil {
					failUnit(u, err)
				}
			}
			return nil
		})
	}
	for _, u := range units {
		ch <- u
	}
	close(ch)
	return g.Wait()
}

// processWorker is the parent side of one worker process: payloads go
// down stdin, results come back on stdout.
type processWorker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder
}

func startProcessWorker() (*processWorker, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "locate program binary")
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), processWorkerEnv+"=1")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start worker process")
	}
	return &processWorker{
		cmd:   cmd,
		stdin: stdin,
		enc:   json.NewEncoder(stdin),
		dec:   json.NewDecoder(stdout),
	}, nil
}

// run sends one payload and applies the worker's results to the unit.
// The worker answers twice per payload, once when it starts the task
// and once when the task finished.
func (w *processWorker) run(u *WorkUnit, pl *jobPayload) error {
	if err := w.enc.Encode(pl); err != nil {
		return errors.Wrap(err, "send job to worker")
	}
	for {
		var rp resultPayload
		if err := w.dec.Decode(&rp); err != nil {
			return errors.Wrap(err, "read worker result")
		}
		applyResult(u, &rp)
		if parseState(rp.State).Terminal() {
			return nil
		}
	}
}

func (w *processWorker) close() {
	w.stdin.Close()
	w.cmd.Wait()
}
