package engine

import "errors"

type State int

const (
	StateInit State = iota
	StateNoPosition
	StateEntering
	StateLaddering
	StateMonitoring
	StateClosing
	StateTerminated
	StateSafetyStopped
)

var stateNames = map[State]string{
	StateInit:          "INIT",
	StateNoPosition:    "NO_POSITION",
	StateEntering:      "ENTERING",
	StateLaddering:     "LADDERING",
	StateMonitoring:    "MONITORING",
	StateClosing:       "CLOSING",
	StateTerminated:    "TERMINATED",
	StateSafetyStopped: "SAFETY_STOPPED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Outcome чем закончился запуск движка.
type Outcome string

const (
	OutcomeStopped    Outcome = "stopped"
	OutcomeCompleted  Outcome = "completed"
	OutcomeSafetyStop Outcome = "safety_stopped"
	OutcomeFailed     Outcome = "failed"
)

var (
	errTerminated = errors.New("cycle finished, repeat is off")
	errSafetyStop = errors.New("unexplained orders on the symbol")
)
