package power

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAction is returned by ParseAction for anything outside the fixed set.
var ErrUnknownAction = errors.New("unknown power action")

// Action is a power signal accepted by the panel. The zero value is invalid.
type Action uint8

const (
	ActionKill Action = iota + 1
	ActionRestart
	ActionStart
	ActionStop
)

var actionNames = map[Action]string{
	ActionKill:    "kill",
	ActionRestart: "restart",
	ActionStart:   "start",
	ActionStop:    "stop",
}

// Actions lists every action in command order.
func Actions() []Action {
	return []Action{ActionKill, ActionRestart, ActionStart, ActionStop}
}

// ParseAction maps a signal name to an Action.
func ParseAction(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// String returns the wire signal name.
func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Description is the user-facing summary used for subcommand help.
func (a Action) Description() string {
	switch a {
	case ActionKill:
		return "Kill the server"
	case ActionRestart:
		return "Restart the server"
	case ActionStart:
		return "Start the server"
	case ActionStop:
		return "Stop the server"
	}
	return ""
}
