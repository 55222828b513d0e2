package utils

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDedup(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedup([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, Dedup([]int{}))
}

func TestToLowerStringSlice(t *testing.T) {
	assert.Equal(t, []string{"chrome", "firefox"}, ToLowerStringSlice([]string{"Chrome", "FIREFOX"}))
}

func TestEnsureRunGoroutineRestartsAfterPanic(t *testing.T) {
	var calls int32
	done := make(chan struct{})

	EnsureRunGoroutine(zap.NewNop(), func() {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("first run")
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine was not restarted")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
