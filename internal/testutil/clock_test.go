package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_Next(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, BaseMillis, clock.Current())
	assert.Equal(t, BaseMillis+1, clock.Next())
	assert.Equal(t, BaseMillis+2, clock.Next())
	assert.Equal(t, BaseMillis+2, clock.Current())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Next()
	clock.Next()

	clock.Reset()
	assert.Equal(t, BaseMillis, clock.Current())
	assert.Equal(t, BaseMillis+1, clock.Next())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]int64, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]int64, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = clock.Next()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, row := range results {
		for _, v := range row {
			require.False(t, seen[v], "duplicate value %d", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
	assert.Equal(t, BaseMillis+int64(numGoroutines*callsPerGoroutine), clock.Current())
}

func TestDeterministicClock_Deterministic(t *testing.T) {
	clock1 := NewDeterministicClock()
	clock2 := NewDeterministicClock()

	for i := 0; i < 100; i++ {
		assert.Equal(t, clock1.Next(), clock2.Next())
	}
}
