package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialTokens(t *testing.T) {
	gen := NewSequentialTokens("claim")

	assert.Equal(t, "claim-1", gen.Generate())
	assert.Equal(t, "claim-2", gen.Generate())
	assert.Equal(t, 2, gen.Count())
}

func TestSequentialTokens_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "token-1", NewSequentialTokens("").Generate())
}

func TestSequentialTokens_Unique(t *testing.T) {
	gen := NewSequentialTokens("t")
	seen := sync.Map{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, dup := seen.LoadOrStore(gen.Generate(), true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, gen.Count())
}
