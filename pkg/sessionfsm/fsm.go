package sessionfsm

import "errors"

const (
	Loading       = "LOADING"
	Anonymous     = "ANONYMOUS"
	Authenticated = "AUTHENTICATED"
)

var ErrInvalidTransition = errors.New("invalid session transition")

type Event string

const (
	// EventResolve ends Loading with a valid identity.
	EventResolve Event = "RESOLVE"
	// EventReject ends Loading without one.
	EventReject     Event = "REJECT"
	EventLogin      Event = "LOGIN"
	EventLogout     Event = "LOGOUT"
	EventInvalidate Event = "INVALIDATE"
)

// CanTransition reports whether to is reachable from from. Loading is entered
// once and never re-entered.
func CanTransition(from, to string) bool {
	switch from {
	case Loading:
		return to == Anonymous || to == Authenticated
	case Anonymous, Authenticated:
		return to == Anonymous || to == Authenticated
	default:
		return false
	}
}

func Transition(from, to string) (string, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func Next(from string, event Event) (string, error) {
	switch event {
	case EventResolve, EventReject:
		if from != Loading {
			return from, ErrInvalidTransition
		}
		if event == EventResolve {
			return Transition(from, Authenticated)
		}
		return Transition(from, Anonymous)
	case EventLogin:
		if from == Loading {
			return from, ErrInvalidTransition
		}
		return Transition(from, Authenticated)
	case EventLogout, EventInvalidate:
		return Transition(from, Anonymous)
	default:
		return from, ErrInvalidTransition
	}
}

// IsSettled is false only while the initial identity check is outstanding.
func IsSettled(state string) bool {
	return state == Anonymous || state == Authenticated
}
