package reference

import "fmt"

// State is the resolution state of one reference.
type State int

const (
	Unresolved State = iota
	Resolving
	ResolvedInBundle
	ResolvedExternal
	UnresolvedExternal
	UnresolvedMissing
)

var stateNames = [...]string{
	Unresolved:         "unresolved",
	Resolving:          "resolving",
	ResolvedInBundle:   "resolved-in-bundle",
	ResolvedExternal:   "resolved-external",
	UnresolvedExternal: "unresolved-external",
	UnresolvedMissing:  "unresolved-missing",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= ResolvedInBundle && s <= UnresolvedMissing
}

// Resolved reports whether the reference points at a known resource.
func (s State) Resolved() bool {
	return s == ResolvedInBundle || s == ResolvedExternal
}

var transitions = map[State][]State{
	Unresolved: {Resolving},
	Resolving:  {ResolvedInBundle, ResolvedExternal, UnresolvedExternal, UnresolvedMissing},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition returns to, panicking on a transition the state machine does
// not allow.
func transition(from, to State) State {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("reference: illegal transition %s -> %s", from, to))
	}
	return to
}
