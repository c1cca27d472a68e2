package recorder

// State is the lifecycle state of a MovieWriter.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateFinishing
	StateCancelled
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateFinishing:
		return "finishing"
	case StateCancelled:
		return "cancelled"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateCancelled || s == StateFinished || s == StateFailed
}

// active reports whether samples may still be accepted in s.
func (s State) active() bool {
	return s == StateRecording || s == StatePaused
}
