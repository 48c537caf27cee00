// Package tigres composes tasks into sequence, parallel, split and
// merge templates and runs them through pluggable execution backends.
package tigres

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/tigres-workflow/tigres/monitoring"
)

// Program is the root of one workflow run. It owns the registry of
// tasks, inputs and work, the monitoring destination and the execution
// backend. Create one with New and release it with Close.
type Program struct {
	mu     sync.Mutex
	counts map[string]int
	work   []Work

	name       string
	identifier string
	env        map[string]string
	executor   Executor
	monitor    *monitoring.Monitor
	rootWork   *WorkSequence
}

type config struct {
	execution Execution
	executor  Executor
	env       map[string]string
	logDest   string
}

// Option configures a Program.
type Option func(*config)

// WithExecution selects a built-in execution backend by name.
func WithExecution(e Execution) Option {
	return func(c *config) { c.execution = e }
}

// WithExecutor installs a caller-provided backend. It overrides
// WithExecution.
func WithExecutor(e Executor) Option {
	return func(c *config) { c.executor = e }
}

// WithEnv sets environment overrides applied to every task of the
// program. Template and task environments layer on top.
func WithEnv(env map[string]string) Option {
	return func(c *config) { c.env = env }
}

// WithLogDest sets the monitoring destination: a file path, "null", or
// "sqlite:<path>". The default is a new log file in the current
// directory.
func WithLogDest(dest string) Option {
	return func(c *config) { c.logDest = dest }
}

// New creates a program. An empty name gets a timestamped one.
func New(name string, opts ...Option) (*Program, error) {
	cfg := config{execution: LocalThread}
	for _, o := range opts {
		o(&cfg)
	}
	if name == "" {
		name = fmt.Sprintf("Tigres%d", time.Now().Unix())
	}
	p := &Program{
		name:       name,
		identifier: xid.New().String(),
		env:        copyEnv(cfg.env),
		counts:     make(map[string]int),
	}
	m, err := monitoring.Init(cfg.logDest, name, p.identifier)
	if err != nil {
		return nil, err
	}
	p.monitor = m
	m.LogNode(monitoring.LevelInfo, name, StateRun.String(), "program",
		monitoring.Fields{monitoring.KeyEvent: "init_program"})
	p.rootWork = p.registerSequenceWork(name)
	ex := cfg.executor
	if ex == nil {
		ex, err = newExecutor(cfg.execution)
		if err != nil {
			m.Finalize()
			return nil, err
		}
		m.LogNode(monitoring.LevelInfo, name, "", "program", monitoring.Fields{
			monitoring.KeyEvent: "load_execution",
			"execution":         string(cfg.execution),
		})
	}
	p.executor = ex
	return p, nil
}

// Close records the end of the program and releases the monitoring
// destination. The program must not be used afterwards.
func (p *Program) Close() error {
	p.monitor.LogNode(monitoring.LevelInfo, p.name, p.rootWork.State().String(), "program",
		monitoring.Fields{monitoring.KeyEvent: "end_program"})
	return p.monitor.Finalize()
}

// Name returns the program name.
func (p *Program) Name() string { return p.name }

// Identifier returns the unique id of this run.
func (p *Program) Identifier() string { return p.identifier }

// Env returns the program-wide environment overrides.
func (p *Program) Env() map[string]string { return p.env }

// Executor returns the execution backend in use.
func (p *Program) Executor() Executor { return p.executor }

// Monitor returns the program's monitoring sink.
func (p *Program) Monitor() *monitoring.Monitor { return p.monitor }

// RootWork returns the top-level work sequence holding one element per
// executed template.
func (p *Program) RootWork() *WorkSequence { return p.rootWork }

// Results returns the results of the template executed last, or nil
// before the first template ran.
func (p *Program) Results() interface{} { return p.rootWork.Results() }

// register hands out the next Identifier for name and records the
// registration. Names are shared between work and task objects, the
// index makes re-registrations unique.
func (p *Program) register(typeName, name string) Identifier {
	if name == "" {
		name = fmt.Sprintf("%s_%s", typeName, xid.New().String())
	}
	p.mu.Lock()
	idx := p.counts[name]
	p.counts[name]++
	p.mu.Unlock()
	id := Identifier{Name: name, Index: idx}
	p.monitor.LogNode(monitoring.LevelDebug, id.Name, "", "",
		monitoring.Fields{monitoring.KeyEvent: "register", "type": typeName, "index": idx})
	return id
}

func (p *Program) registerObject(typeName, name string) Identifier {
	return p.register(typeName, name)
}

// registerWork creates a work unit for one task execution. The unit
// starts with the program environment; template and task overrides
// layer on later.
func (p *Program) registerWork(inputs WorkInputs) *WorkUnit {
	name := "work"
	if inputs.Task != nil {
		name = inputs.Task.Name()
	}
	u := &WorkUnit{
		id:       p.register("WorkUnit", name),
		program:  p,
		inputs:   inputs,
		state:    StateUnknown,
		execData: newExecutionData(),
	}
	for k, v := range p.env {
		u.execData.Env[k] = v
	}
	p.mu.Lock()
	p.work = append(p.work, u)
	p.mu.Unlock()
	return u
}

func (p *Program) registerSequenceWork(name string) *WorkSequence {
	if name == "" {
		name = "sequence"
	}
	s := &WorkSequence{id: p.register("WorkSequence", name)}
	p.mu.Lock()
	p.work = append(p.work, s)
	p.mu.Unlock()
	return s
}

func (p *Program) registerParallelWork(name string) *WorkParallel {
	if name == "" {
		name = "parallel"
	}
	w := &WorkParallel{id: p.register("WorkParallel", name)}
	p.mu.Lock()
	p.work = append(p.work, w)
	p.mu.Unlock()
	return w
}

// workByName finds registered work by user name or by display name.
// A bare name may match several registrations, a display name with an
// index suffix at most one.
func (p *Program) workByName(name string) []Work {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matches []Work
	for _, w := range p.work {
		if w.ID().Name == name || w.ID().workName() == name {
			matches = append(matches, w)
		}
	}
	return matches
}

// previousWork returns the work executed before the one currently
// running: the second-to-last element of the running template when it
// has one, otherwise the previous template.
func (p *Program) previousWork() (Work, error) {
	subs := p.rootWork.subWork()
	n := len(subs)
	if n == 0 {
		return nil, previousSyntaxErrorf("there is no previous work available")
	}
	if seq, ok := subs[n-1].(*WorkSequence); ok && len(seq.subs) > 1 {
		return seq.subs[len(seq.subs)-2], nil
	}
	if n > 1 {
		return subs[n-2], nil
	}
	return nil, previousSyntaxErrorf("there is no previous work available")
}
