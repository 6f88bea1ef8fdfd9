// Package response carries operator-facing progress messages out of a run.
//
// The engine writes to a Sink and never inspects which implementation it
// got. ConsoleResponse streams to a terminal gated by verbosity;
// CollectingResponse buffers the text for callers that report it elsewhere,
// such as a scheduler task log.
package response

import (
	"fmt"
	"strings"
)

// Level is the severity of a message.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelError, fmt.Errorf("unknown response level %q", s)
	}
}

// Sink receives run messages.
type Sink interface {
	Error(msg string)
	Warning(msg string)
	Info(msg string)
	Debug(msg string)

	// Send flushes whatever the sink holds back until the run ends.
	// Called once per run.
	Send()

	// Collected returns the buffered text, empty for streaming sinks.
	Collected() string
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Error(string)      {}
func (discard) Warning(string)    {}
func (discard) Info(string)       {}
func (discard) Debug(string)      {}
func (discard) Send()             {}
func (discard) Collected() string { return "" }
