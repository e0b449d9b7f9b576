package plm

import "fmt"

// State is the lifecycle state of a registry entry.
//
// Entries advance through:
//
//	Unregistered → Registered → Initialized ⇄ Installed → ShuttingDown → Shutdown
//
// Unregistered and Shutdown are terminal with respect to reuse of the same
// entry: a removed or shut-down plugin must be re-registered to participate
// again.
type State int

const (
	// StateUnregistered is the implicit state of a name with no registry entry.
	StateUnregistered State = iota

	// StateRegistered means the capability instance is known to the registry
	// but its initialize hook has not run.
	StateRegistered

	// StateInitialized means the plugin's initialize hook completed and the
	// plugin is ready for install/uninstall operations.
	StateInitialized

	// StateInstalled means the plugin's install hook completed for some version.
	StateInstalled

	// StateShuttingDown is the transient state while the shutdown hook runs.
	StateShuttingDown

	// StateShutdown means the entry has been retired. It is retained for
	// audit listing but accepts no further operations.
	StateShutdown
)

// String returns the snake_case name of the state.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateInitialized:
		return "initialized"
	case StateInstalled:
		return "installed"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Valid reports whether s is one of the defined lifecycle states.
func (s State) Valid() bool {
	return s >= StateUnregistered && s <= StateShutdown
}

// Terminal reports whether s is terminal with respect to entry reuse.
func (s State) Terminal() bool {
	return s == StateUnregistered || s == StateShutdown
}

// MarshalText implements encoding.TextMarshaler so states serialize as
// their string names in JSON and YAML documents.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("undefined lifecycle state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateUnregistered; candidate <= StateShutdown; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("undefined lifecycle state %q", string(text))
}

// transitions defines the legal state machine edges. Installed → Initialized
// is the uninstall edge; the reverse is install.
var transitions = map[State][]State{
	StateUnregistered: {StateRegistered},
	StateRegistered:   {StateInitialized, StateShuttingDown},
	StateInitialized:  {StateInstalled, StateShuttingDown},
	StateInstalled:    {StateInitialized, StateShuttingDown},
	StateShuttingDown: {StateShutdown},
	StateShutdown:     {},
}

// CanTransition reports whether the edge from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
