package transcode

import "fmt"

// RunState is the state of one transcode run.
type RunState int

const (
	RunStateInit           RunState = iota // Setup in progress
	RunStateHeaderWritten                  // Output header written
	RunStateReading                        // Reading input packets, then draining both decoders
	RunStateFlushVideo                     // Draining the video encoder
	RunStateFlushAudio                     // Padding and draining the FIFO, then the audio encoder
	RunStateTrailerWritten                 // Container finalized
	RunStateDone                           // Output handed to the caller
	RunStateFailed                         // Aborted, nothing returned
)

func (s RunState) String() string {
	switch s {
	case RunStateInit:
		return "INIT"
	case RunStateHeaderWritten:
		return "HEADER_WRITTEN"
	case RunStateReading:
		return "READING"
	case RunStateFlushVideo:
		return "FLUSH_VIDEO"
	case RunStateFlushAudio:
		return "FLUSH_AUDIO"
	case RunStateTrailerWritten:
		return "TRAILER_WRITTEN"
	case RunStateDone:
		return "DONE"
	case RunStateFailed:
		return "FAILED"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == RunStateDone || s == RunStateFailed
}

// runStateNext lists the only forward transition out of each state.
// RunStateFailed is reachable from every non-terminal state.
var runStateNext = map[RunState]RunState{
	RunStateInit:           RunStateHeaderWritten,
	RunStateHeaderWritten:  RunStateReading,
	RunStateReading:        RunStateFlushVideo,
	RunStateFlushVideo:     RunStateFlushAudio,
	RunStateFlushAudio:     RunStateTrailerWritten,
	RunStateTrailerWritten: RunStateDone,
}

// runStateMachine tracks the state of a run and the path it took.
type runStateMachine struct {
	state   RunState
	history []RunState
	log     Logger
}

func newRunStateMachine(log Logger) *runStateMachine {
	return &runStateMachine{
		state:   RunStateInit,
		history: []RunState{RunStateInit},
		log:     log,
	}
}

// advance moves to next, which must be the single successor of the current state.
func (m *runStateMachine) advance(next RunState) error {
	if want, ok := runStateNext[m.state]; !ok || want != next {
		return fmt.Errorf("invalid run state transition %s -> %s", m.state, next)
	}
	m.set(next)
	return nil
}

// fail moves to RunStateFailed unless the run already ended.
func (m *runStateMachine) fail() {
	if m.state.Terminal() {
		return
	}
	m.set(RunStateFailed)
}

func (m *runStateMachine) set(s RunState) {
	m.log.Log(Debug, "state %s -> %s", m.state, s)
	m.state = s
	m.history = append(m.history, s)
}

func (m *runStateMachine) current() RunState { return m.state }
