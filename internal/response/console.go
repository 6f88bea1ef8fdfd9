package response

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Verbosity is the console output level, following the -q/-v/-vv/-vvv
// convention.
type Verbosity int

const (
	VerbosityQuiet       Verbosity = -1
	VerbosityNormal      Verbosity = 0
	VerbosityVerbose     Verbosity = 1
	VerbosityVeryVerbose Verbosity = 2
	VerbosityDebug       Verbosity = 3
)

// ConsoleResponse writes messages to a stream as they arrive.
//
// Errors are written unless quiet, warnings from -v, info from -vv and
// debug from -vvv.
type ConsoleResponse struct {
	mu        sync.Mutex
	out       io.Writer
	verbosity Verbosity
	paint     map[Level]func(a ...interface{}) string
}

// NewConsoleResponse creates a console sink writing to out. Colors follow
// fatih/color's terminal detection and NO_COLOR handling.
func NewConsoleResponse(out io.Writer, verbosity Verbosity) *ConsoleResponse {
	return &ConsoleResponse{
		out:       out,
		verbosity: verbosity,
		paint: map[Level]func(a ...interface{}) string{
			LevelError:   color.New(color.FgRed).SprintFunc(),
			LevelWarning: color.New(color.FgYellow).SprintFunc(),
			LevelInfo:    fmt.Sprint,
			LevelDebug:   color.New(color.Faint).SprintFunc(),
		},
	}
}

func (c *ConsoleResponse) Error(msg string)   { c.write(LevelError, msg) }
func (c *ConsoleResponse) Warning(msg string) { c.write(LevelWarning, msg) }
func (c *ConsoleResponse) Info(msg string)    { c.write(LevelInfo, msg) }
func (c *ConsoleResponse) Debug(msg string)   { c.write(LevelDebug, msg) }

// Send is a no-op; everything was written already.
func (c *ConsoleResponse) Send() {}

// Collected always returns "".
func (c *ConsoleResponse) Collected() string { return "" }

func (c *ConsoleResponse) write(level Level, msg string) {
	if Verbosity(level) > c.verbosity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.paint[level](strings.TrimSpace(msg)))
}
