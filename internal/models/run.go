package models

import "time"

// State is a step of the backup run state machine.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateLaunching
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Stream identifies the output stream a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// EventKind tags a RunEvent.
type EventKind int

const (
	EventOutputLine EventKind = iota
	EventErrorLine
	EventCompleted
)

// RunEvent is one item produced by a running process.
type RunEvent struct {
	Kind     EventKind
	Text     string
	ExitCode int // only meaningful for EventCompleted
}

// OutputLine creates a stdout line event.
func OutputLine(text string) RunEvent {
	return RunEvent{Kind: EventOutputLine, Text: text}
}

// ErrorLine creates a stderr line event.
func ErrorLine(text string) RunEvent {
	return RunEvent{Kind: EventErrorLine, Text: text}
}

// Completed creates the terminal process event.
func Completed(exitCode int) RunEvent {
	return RunEvent{Kind: EventCompleted, ExitCode: exitCode}
}

// Stream returns the origin of a line event.
func (e RunEvent) Stream() Stream {
	if e.Kind == EventErrorLine {
		return StreamStderr
	}
	return StreamStdout
}

// Progress is a timestamped output line forwarded to an observer.
type Progress struct {
	Time   time.Time
	Source Stream
	Text   string
}

// Result is the terminal outcome of a backup run.
type Result struct {
	RunID      string
	ConfigName string
	State      State
	ExitCode   *int  // nil when the process never ran
	Err        error // nil on success
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}

// Succeeded reports whether the run finished successfully.
func (r Result) Succeeded() bool {
	return r.State == StateSucceeded
}
