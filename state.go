package tigres

// State is the lifecycle state of a piece of work.
//
// A WorkUnit moves NEW -> READY -> RUN -> DONE or FAIL.
// BLOCKED is reserved for execution or data dependency blocking,
// the engine never sets it today. UNKNOWN is the pre-registration
// default.
type State int

const (
	StateUnknown = State(iota)
	StateNew
	StateReady
	StateRun
	StateBlocked
	StateDone
	StateFail
)

// String represents State as string.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateReady:
		return "READY"
	case StateRun:
		return "RUN"
	case StateBlocked:
		return "BLOCKED"
	case StateDone:
		return "DONE"
	case StateFail:
		return "FAIL"
	}
	return "?"
}

// Terminal reports whether the state is an end state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFail
}

// parseState is the inverse of String. Unrecognized strings parse as
// UNKNOWN.
func parseState(s string) State {
	switch s {
	case "NEW":
		return StateNew
	case "READY":
		return StateReady
	case "RUN":
		return StateRun
	case "BLOCKED":
		return StateBlocked
	case "DONE":
		return StateDone
	case "FAIL":
		return StateFail
	}
	return StateUnknown
}

// stateOfGroup computes the aggregate state of a parallel group from
// its children's states.
//
//   - RUN if any child runs
//   - FAIL if nothing is pending and at least one child failed
//   - RUN again for a mix of pending and finished children
//   - READY/NEW while only pending children exist
//   - DONE when every child is done
//
// The precedence is deliberate: a group with READY and DONE children
// reports RUN because it is mid-flight. Callers of the aggregate state
// (monitoring, graph history) depend on this exact ordering.
func stateOfGroup(states []State) State {
	var hasReady, hasNew, hasDone, hasFail bool
	for _, s := range states {
		switch s {
		case StateRun:
			return StateRun
		case StateFail:
			hasFail = true
		case StateReady:
			hasReady = true
		case StateNew:
			hasNew = true
		case StateDone:
			hasDone = true
		}
	}
	switch {
	case !hasReady && !hasNew && hasFail:
		return StateFail
	case (hasReady || hasNew) && (hasDone || hasFail):
		return StateRun
	case hasReady || hasNew:
		if !hasReady {
			return StateNew
		}
		return StateReady
	case hasDone:
		return StateDone
	}
	return StateUnknown
}
