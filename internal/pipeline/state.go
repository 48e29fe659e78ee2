package pipeline

// State is the driver's lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateRestarting
	StateDraining
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}
