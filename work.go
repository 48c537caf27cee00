package tigres

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tigres-workflow/tigres/monitoring"
)

// Identifier uniquely identifies registered work and task objects.
// Index disambiguates multiple registrations under the same
// user-given name.
type Identifier struct {
	Name  string
	Index int
}

// workName is the display name of registered work. The first
// registration keeps the bare name, duplicates get a "#index" suffix.
func (id Identifier) workName() string {
	if id.Index == 0 {
		return id.Name
	}
	return fmt.Sprintf("%s#%d", id.Name, id.Index)
}

// objectName is the display name of registered task/input objects.
func (id Identifier) objectName() string {
	if id.Index == 0 {
		return id.Name
	}
	return fmt.Sprintf("%s-%d", id.Name, id.Index)
}

// WorkInputs pairs a task with the input values of one execution.
// It is the unit of dispatch handed to the execution backend.
type WorkInputs struct {
	Task   *Task
	Values []interface{}
}

// ExecutionData is the backend-private bag attached to a WorkUnit:
// environment overrides and batch job bookkeeping. A non-empty JobID
// keeps re-polled units from being resubmitted.
type ExecutionData struct {
	Env           map[string]string
	JobID         string
	JobScriptName string
}

func newExecutionData() *ExecutionData {
	return &ExecutionData{Env: make(map[string]string)}
}

// Work is a node of the program's work tree: a single unit, a
// sequence or a parallel group.
type Work interface {
	Name() string
	ID() Identifier
	Parent() Work
	State() State
	Results() interface{}

	nodeType() string
	setParent(w Work)
	subWork() []Work
}

// previousOf returns the work executed immediately before w: the
// prior sibling in w's parent, or the parent's previous if w is the
// first element.
func previousOf(w Work) Work {
	parent := w.Parent()
	if parent == nil {
		return nil
	}
	for i, sib := range parent.subWork() {
		if sib == w && i > 0 {
			return parent.subWork()[i-1]
		}
	}
	return previousOf(parent)
}

// WorkUnit is a single schedulable unit of work.
type WorkUnit struct {
	mu sync.Mutex

	id      Identifier
	parent  Work
	program *Program

	state    State
	inputs   WorkInputs
	results  interface{}
	index    int
	execData *ExecutionData
}

func (u *WorkUnit) Name() string       { return u.id.workName() }
func (u *WorkUnit) ID() Identifier     { return u.id }
func (u *WorkUnit) Parent() Work       { return u.parent }
func (u *WorkUnit) nodeType() string   { return "task" }
func (u *WorkUnit) setParent(w Work)   { u.parent = w }
func (u *WorkUnit) subWork() []Work    { return nil }
func (u *WorkUnit) Index() int         { return u.index }
func (u *WorkUnit) Inputs() WorkInputs { return u.inputs }

// State returns the unit's current state.
func (u *WorkUnit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Results returns the unit's results: nil, a value, or a *TaskFailure.
func (u *WorkUnit) Results() interface{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.results
}

func (u *WorkUnit) setResults(v interface{}) {
	u.mu.Lock()
	u.results = v
	u.mu.Unlock()
}

// setState transitions the unit and emits a monitoring record when
// the state actually changed.
func (u *WorkUnit) setState(s State) {
	u.mu.Lock()
	old := u.state
	u.state = s
	results := u.results
	u.mu.Unlock()
	if old == s {
		return
	}
	level := monitoring.LevelInfo
	fields := monitoring.Fields{monitoring.KeyTaskUID: u.Name()}
	if tmpl := u.templateName(); tmpl != "" {
		fields[monitoring.KeyTemplateUID] = strings.ReplaceAll(tmpl, " ", "+")
	}
	if s == StateFail {
		level = monitoring.LevelError
		fields[monitoring.KeyStatus] = -1
		if f, ok := results.(*TaskFailure); ok {
			fields[monitoring.KeyError] = f.flattenedError()
		}
	}
	if u.program != nil {
		u.program.monitor.LogNode(level, u.Name(), s.String(), u.nodeType(), fields)
	}
}

// templateName finds the name of the template this unit runs in: the
// ancestor one level below the root work, or the direct parent when
// the unit hangs off the root itself.
func (u *WorkUnit) templateName() string {
	chain := make([]Work, 0, 4)
	for anc := u.parent; anc != nil; anc = anc.Parent() {
		chain = append(chain, anc)
	}
	if len(chain) == 0 {
		return ""
	}
	if len(chain) == 1 {
		return chain[0].Name()
	}
	return chain[len(chain)-2].Name()
}

// WorkSequence is an ordered list of work run one after another. Its
// state and results delegate to the last appended element.
type WorkSequence struct {
	id     Identifier
	parent Work
	subs   []Work
}

func (s *WorkSequence) Name() string     { return s.id.workName() }
func (s *WorkSequence) ID() Identifier   { return s.id }
func (s *WorkSequence) Parent() Work     { return s.parent }
func (s *WorkSequence) nodeType() string { return "sequence" }
func (s *WorkSequence) setParent(w Work) { s.parent = w }
func (s *WorkSequence) subWork() []Work  { return s.subs }
func (s *WorkSequence) Len() int         { return len(s.subs) }

// Append adds w as the sequence's new last element and claims it as a
// child. A fresh WorkUnit becomes NEW here.
func (s *WorkSequence) Append(w Work) {
	w.setParent(s)
	s.subs = append(s.subs, w)
	if u, ok := w.(*WorkUnit); ok && u.State() == StateUnknown {
		u.setState(StateNew)
	}
}

func (s *WorkSequence) State() State {
	if len(s.subs) == 0 {
		return StateNew
	}
	return s.subs[len(s.subs)-1].State()
}

func (s *WorkSequence) Results() interface{} {
	if len(s.subs) == 0 {
		return nil
	}
	return s.subs[len(s.subs)-1].Results()
}

// WorkParallel is a list of work run concurrently. Its results keep
// registration order regardless of completion order; its state is the
// aggregate of the children's states.
type WorkParallel struct {
	id     Identifier
	parent Work
	subs   []Work
}

func (p *WorkParallel) Name() string     { return p.id.workName() }
func (p *WorkParallel) ID() Identifier   { return p.id }
func (p *WorkParallel) Parent() Work     { return p.parent }
func (p *WorkParallel) nodeType() string { return "parallel" }
func (p *WorkParallel) setParent(w Work) { p.parent = w }
func (p *WorkParallel) subWork() []Work  { return p.subs }
func (p *WorkParallel) Len() int         { return len(p.subs) }

// Append adds w to the parallel group and claims it as a child.
func (p *WorkParallel) Append(w Work) {
	w.setParent(p)
	p.subs = append(p.subs, w)
	if u, ok := w.(*WorkUnit); ok && u.State() == StateUnknown {
		u.setState(StateNew)
	}
}

func (p *WorkParallel) State() State {
	states := make([]State, len(p.subs))
	for i, w := range p.subs {
		states[i] = w.State()
	}
	return stateOfGroup(states)
}

func (p *WorkParallel) Results() interface{} {
	results := make([]interface{}, len(p.subs))
	for i, w := range p.subs {
		results[i] = w.Results()
	}
	return results
}

// units returns the group's members that are plain work units, which
// is all of them for engine-generated groups.
func (p *WorkParallel) units() []*WorkUnit {
	units := make([]*WorkUnit, 0, len(p.subs))
	for _, w := range p.subs {
		if u, ok := w.(*WorkUnit); ok {
			units = append(units, u)
		}
	}
	return units
}
