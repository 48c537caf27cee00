package tigres

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// BatchExecutor submits tasks to a cluster batch scheduler and polls
// until the jobs leave the queue. Execute reports RUN while the job is
// queued or running; submission and job failures come back as a
// TaskFailure result with state FAIL, never as a raised error, so one
// bad job cannot take down a whole sweep.
//
// Function tasks run on the batch node by re-executing the program
// binary against a function script, so they must be registered with
// RegisterFunction.
type BatchExecutor struct {
	sched scheduler

	// PollInterval is the wait between job status polls.
	PollInterval time.Duration
}

// NewSGE returns a batch executor for Sun Grid Engine.
func NewSGE() *BatchExecutor {
	return &BatchExecutor{sched: sgeScheduler{}, PollInterval: time.Second}
}

// NewSLURM returns a batch executor for SLURM.
func NewSLURM() *BatchExecutor {
	return &BatchExecutor{sched: slurmScheduler{}, PollInterval: time.Second}
}

func (e *BatchExecutor) pollDelay() time.Duration {
	return e.PollInterval
}

func (e *BatchExecutor) Execute(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error) {
	return executeWith(e, name, task, values, data)
}

func (e *BatchExecutor) ExecuteFunction(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error) {
	if data.JobID == "" {
		if task.fnName == "" {
			return e.fail(name, task, errors.Errorf(
				"function of task %s is not registered for batch execution", task.Name()))
		}
		script := jobScriptName(name)
		if err := os.WriteFile(script+".code", []byte(task.fnName), 0644); err != nil {
			return e.fail(name, task, err)
		}
		args, err := json.Marshal(values)
		if err != nil {
			return e.fail(name, task, err)
		}
		if err := os.WriteFile(script+".args", args, 0644); err != nil {
			return e.fail(name, task, err)
		}
		exe, err := os.Executable()
		if err != nil {
			return e.fail(name, task, err)
		}
		command := fmt.Sprintf("%s %s %s", exe, funcExecArg, script)
		if err := e.submit(script, command, data); err != nil {
			return e.fail(name, task, err)
		}
		return nil, StateRun, nil
	}
	if !e.sched.finished(data.JobID, data.JobScriptName) {
		return nil, StateRun, nil
	}
	script := data.JobScriptName
	b, err := os.ReadFile(script + ".result")
	if err != nil {
		ferr := errors.Errorf("job %s left no result: %s", data.JobID, jobStderr(script))
		cleanupJobFiles(script)
		return e.fail(name, task, ferr)
	}
	var res interface{}
	if err := json.Unmarshal(b, &res); err != nil {
		cleanupJobFiles(script)
		return e.fail(name, task, errors.Wrapf(err, "decode result of job %s", data.JobID))
	}
	if res == nil {
		if msg := jobStderr(script); msg != "" {
			cleanupJobFiles(script)
			return e.fail(name, task, errors.Errorf("job %s failed: %s", data.JobID, msg))
		}
	}
	cleanupJobFiles(script)
	return res, StateDone, nil
}

func (e *BatchExecutor) ExecuteExecutable(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error) {
	if data.JobID == "" {
		script := jobScriptName(name)
		command := createExecutableCommand(task, values)
		if err := e.submit(script, command, data); err != nil {
			return e.fail(name, task, err)
		}
		return nil, StateRun, nil
	}
	if !e.sched.finished(data.JobID, data.JobScriptName) {
		return nil, StateRun, nil
	}
	script := data.JobScriptName
	out, rerr := os.ReadFile(script + ".out")
	stdout := strings.TrimRight(string(out), "\n")
	stderr := jobStderr(script)
	cleanupJobFiles(script)
	if rerr != nil || (stdout == "" && stderr != "") {
		return e.fail(name, task, errors.Errorf("job %s failed: %s", data.JobID, stderr))
	}
	return stdout, StateDone, nil
}

func (e *BatchExecutor) fail(name string, task *Task, err error) (interface{}, State, error) {
	f := NewTaskFailure(fmt.Sprintf("task execution failure for %s", name),
		backendErrorf(name, task.Name(), err))
	return f, StateFail, nil
}

// submit writes the job script, hands it to the scheduler and records
// the job id on the unit's execution data.
func (e *BatchExecutor) submit(script, command string, data *ExecutionData) error {
	content := e.sched.jobScript(script, command, data.Env)
	file := script + ".sh"
	if err := os.WriteFile(file, []byte(content), 0755); err != nil {
		return errors.Wrap(err, "write job script")
	}
	out, err := runCommand(e.sched.submitCommand(script, file), nil)
	if err != nil {
		return errors.Wrapf(err, "submit job script %s to %s", file, e.sched.name())
	}
	id, err := e.sched.parseJobID(out)
	if err != nil {
		return err
	}
	data.JobID = id
	data.JobScriptName = script
	return nil
}

// Parallel submits every unit, then sweeps the group until all jobs
// finished, sleeping one poll interval per sweep.
func (e *BatchExecutor) Parallel(par *WorkParallel, run RunFunc) error {
	pending := par.units()
	for len(pending) > 0 {
		next := pending[:0]
		for _, u := range pending {
			if err := run(u); err != nil {
				// The failure is recorded on the unit.
				continue
			}
			if !u.State().Terminal() {
				next = append(next, u)
			}
		}
		pending = next
		if len(pending) > 0 {
			time.Sleep(e.PollInterval)
		}
	}
	return nil
}

// scheduler is one batch system's command set.
type scheduler interface {
	name() string
	jobScript(script, command string, env map[string]string) string
	submitCommand(jobname, scriptFile string) string
	parseJobID(submitOutput string) (string, error)
	finished(jobID, script string) bool
}

type sgeScheduler struct{}

func (sgeScheduler) name() string { return "sge" }

func (sgeScheduler) jobScript(script, command string, env map[string]string) string {
	return fmt.Sprintf(`#!/bin/bash
#$ -N %s
#$ -cwd
#$ -S /bin/bash
%s%s 2>%s.err 1>%s.out
`, script, envExports(env), command, script, script)
}

func (sgeScheduler) submitCommand(jobname, scriptFile string) string {
	return fmt.Sprintf("qsub -N %s ./%s", jobname, scriptFile)
}

// parseJobID reads the id out of "Your job 12345 (...) has been
// submitted".
func (sgeScheduler) parseJobID(submitOutput string) (string, error) {
	tokens := strings.Fields(submitOutput)
	if len(tokens) < 3 {
		return "", errors.Errorf("unexpected qsub output %q", submitOutput)
	}
	return tokens[2], nil
}

// finished checks the zombie queue for the job and falls back to the
// active queue: a job qstat no longer lists has finished and aged out.
// qstat truncates job names to ten characters, so does the grep.
func (sgeScheduler) finished(jobID, script string) bool {
	prefix := script
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	out := shellOutput(fmt.Sprintf("qstat -s z | grep %s | grep %s | grep -v ' qw '", prefix, jobID))
	if out != "" {
		return true
	}
	return shellOutput(fmt.Sprintf("qstat | grep %s", jobID)) == ""
}

type slurmScheduler struct{}

func (slurmScheduler) name() string { return "slurm" }

func (slurmScheduler) jobScript(script, command string, env map[string]string) string {
	return fmt.Sprintf(`#!/bin/bash
#SBATCH -J %s
%s%s 2>%s.err 1>%s.out
`, script, envExports(env), command, script, script)
}

func (slurmScheduler) submitCommand(jobname, scriptFile string) string {
	return fmt.Sprintf("sbatch -J %s ./%s", jobname, scriptFile)
}

// parseJobID reads the id out of "Submitted batch job 12345".
func (slurmScheduler) parseJobID(submitOutput string) (string, error) {
	tokens := strings.Fields(submitOutput)
	if len(tokens) < 4 {
		return "", errors.Errorf("unexpected sbatch output %q", submitOutput)
	}
	return tokens[3], nil
}

// finished reports true once squeue no longer lists the job.
func (slurmScheduler) finished(jobID, script string) bool {
	return shellOutput(fmt.Sprintf("squeue -j %s | grep -v JOBID", jobID)) == ""
}

// jobScriptName strips a work name down to the characters batch
// schedulers accept in job names.
func jobScriptName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "tigresjob"
	}
	return b.String()
}

func envExports(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range env {
		fmt.Fprintf(&b, "export %s=%q\n", k, v)
	}
	return b.String()
}

func jobStderr(script string) string {
	b, err := os.ReadFile(script + ".err")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// cleanupJobFiles removes the script and its satellite files once the
// job's results are collected.
func cleanupJobFiles(script string) {
	files, err := filepath.Glob(script + ".*")
	if err != nil {
		return
	}
	for _, f := range files {
		os.Remove(f)
	}
}
