package response

import (
	"strings"
	"sync"
)

// CollectingResponse buffers messages at or above a threshold level.
//
// Errors are held back and appended when Send is called, so a caller that
// reads Collected after the run sees progress first and failures last.
type CollectingResponse struct {
	mu        sync.Mutex
	threshold Level
	collected strings.Builder
	errors    []string
}

// NewCollectingResponse creates a sink that keeps warnings, info or debug
// messages up to threshold. Errors are always kept.
func NewCollectingResponse(threshold Level) *CollectingResponse {
	return &CollectingResponse{threshold: threshold}
}

func (c *CollectingResponse) Error(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, strings.TrimSpace(msg))
}

func (c *CollectingResponse) Warning(msg string) { c.add(LevelWarning, msg) }
func (c *CollectingResponse) Info(msg string)    { c.add(LevelInfo, msg) }
func (c *CollectingResponse) Debug(msg string)   { c.add(LevelDebug, msg) }

// Send appends the held-back errors to the collected text.
func (c *CollectingResponse) Send() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.errors {
		c.collected.WriteString(e)
		c.collected.WriteByte('\n')
	}
	c.errors = nil
}

// Collected returns the buffered text.
func (c *CollectingResponse) Collected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collected.String()
}

func (c *CollectingResponse) add(level Level, msg string) {
	if level > c.threshold {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collected.WriteString(strings.TrimSpace(msg))
	c.collected.WriteByte('\n')
}
