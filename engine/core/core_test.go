package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAcquireReusesIds(t *testing.T) {
	r := NewRegistry[string](2)

	a := r.Acquire("a")
	b := r.Acquire("b")
	c := r.Acquire("c")
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{a, b, c})
	assert.Equal(t, 3, r.Len())

	require.NoError(t, r.Release(b))
	_, ok := r.Get(b)
	assert.False(t, ok)

	assert.Equal(t, b, r.Acquire("d"))
	assert.Equal(t, "d", r.MustGet(b))
	assert.Equal(t, "c", r.MustGet(c))
}

func TestRegistryNullHandle(t *testing.T) {
	r := NewRegistry[int](0)

	_, ok := r.Get(0)
	assert.False(t, ok)
	assert.Error(t, r.Release(0))
	assert.Error(t, r.Release(42))
	assert.Panics(t, func() { r.MustGet(7) })
}

func TestMetricsAverages(t *testing.T) {
	require.NoError(t, MetricsInitialize())

	for i := 0; i < int(AVG_COUNT); i++ {
		MetricsRecordWait(0.002)
	}
	assert.InDelta(t, 2.0, MetricsWaitTime(), 1e-9)

	before := metricsState.TotalSubmissions
	for i := 0; i < 11; i++ {
		MetricsRecordSubmit(0.1)
	}
	rate, waitMS, total := MetricsSnapshot()
	assert.Equal(t, before+11, total)
	assert.InDelta(t, 2.0, waitMS, 1e-9)
	assert.Greater(t, rate, 0.0)
	assert.Equal(t, rate, MetricsSubmitRate())
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.False(t, c.Running())
	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	assert.True(t, c.Running())
	time.Sleep(5 * time.Millisecond)
	c.Update()
	first := c.Elapsed()
	assert.GreaterOrEqual(t, first, 0.005)

	c.Stop()
	assert.False(t, c.Running())
	frozen := c.Elapsed()
	time.Sleep(2 * time.Millisecond)
	c.Update()
	assert.Equal(t, frozen, c.Elapsed())
}

func TestSetLogLevel(t *testing.T) {
	defer SetLogLevel("info")

	SetLogLevel("DEBUG")
	assert.Equal(t, "debug", LogLevel())

	SetLogLevel("chatty")
	assert.Equal(t, "info", LogLevel())
}

func TestSentinelsWrap(t *testing.T) {
	err := fmt.Errorf("allocating: %w", ErrOutOfMemory)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.False(t, errors.Is(err, ErrExternal))
}
