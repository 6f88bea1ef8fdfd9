package testutil

import (
	"fmt"
	"sync"
)

// SequentialTokens generates "<prefix>-1", "<prefix>-2", ... claim tokens.
//
// Production code uses UUIDv7 tokens; this generator makes stored tokens
// predictable so tests can assert on them.
//
// Thread-safety: Generate is safe for concurrent use.
type SequentialTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialTokens creates a generator. An empty prefix uses "token".
func NewSequentialTokens(prefix string) *SequentialTokens {
	if prefix == "" {
		prefix = "token"
	}
	return &SequentialTokens{prefix: prefix}
}

// Generate returns the next token.
func (g *SequentialTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Count returns how many tokens were handed out.
func (g *SequentialTokens) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
