package autopilot

// State is a phase of a dispatcher's state machine.
type State int

const (
	StateIdle State = iota
	StatePrepareRoute
	StateStart
	StateEnterBlock
	StateInBlock
	StateWait
)

var stateNames = [...]string{
	StateIdle:         "IdleState",
	StatePrepareRoute: "PrepareRouteState",
	StateStart:        "StartState",
	StateEnterBlock:   "EnterBlockState",
	StateInBlock:      "InBlockState",
	StateWait:         "WaitState",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UnknownState"
	}
	return stateNames[s]
}

// Moving reports whether the locomotive is travelling a locked route and
// waiting for sensor feedback.
func (s State) Moving() bool { return s == StateStart || s == StateEnterBlock }

// inputs is the snapshot a transition is decided on.
type inputs struct {
	automode    bool // global and per-locomotive automode both on
	ghost       bool
	routeLocked bool
	enterSeen   bool
	inSeen      bool
	dwellOver   bool
}

// step is the transition function. It has no side effects; the dispatcher
// runs the state's action before calling it.
func step(s State, in inputs) State {
	switch s {
	case StateIdle:
		if in.automode {
			return StatePrepareRoute
		}
	case StatePrepareRoute:
		if in.routeLocked {
			return StateStart
		}
		if !in.automode {
			return StateIdle
		}
	case StateStart:
		if !in.ghost && in.enterSeen {
			return StateEnterBlock
		}
	case StateEnterBlock:
		if !in.ghost && in.inSeen {
			return StateInBlock
		}
	case StateInBlock:
		return StateWait
	case StateWait:
		if !in.dwellOver {
			return StateWait
		}
		if in.automode {
			return StatePrepareRoute
		}
		return StateIdle
	}
	return s
}
