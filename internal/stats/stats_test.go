package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	var r Run
	assert.Equal(t, time.Duration(0), r.AvgLatency())

	r.Observe(10 * time.Millisecond)
	r.Observe(30 * time.Millisecond)
	assert.Equal(t, uint64(2), r.Iterations)
	assert.Equal(t, 20*time.Millisecond, r.AvgLatency())
}

func TestWear(t *testing.T) {
	var w Wear
	assert.False(t, w.Valid)

	assert.False(t, w.Record(123, 10))
	assert.Equal(t, Wear{Cycles: 123, Iteration: 10, Valid: true}, w)

	assert.False(t, w.Record(123, 20))
	assert.True(t, w.Record(100, 30))
	assert.Equal(t, uint64(100), w.Cycles)
}
