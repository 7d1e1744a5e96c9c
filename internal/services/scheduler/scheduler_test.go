package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestScheduler_TickRunsDueJobs(t *testing.T) {
	fake := clock.NewFake(baseTime)
	s := New(time.Second, fake)

	var fast, slow int
	s.Register("fast", time.Second, func(time.Time) { fast++ })
	s.Register("slow", time.Minute, func(time.Time) { slow++ })

	for i := 1; i <= 120; i++ {
		s.Tick(baseTime.Add(time.Duration(i) * time.Second))
	}

	assert.Equal(t, 120, fast)
	assert.Equal(t, 2, slow)
}

func TestScheduler_TickPassesTime(t *testing.T) {
	s := New(time.Second, clock.NewFake(baseTime))

	var got time.Time
	s.Register("job", time.Second, func(now time.Time) { got = now })

	at := baseTime.Add(5 * time.Second)
	s.Tick(at)
	assert.Equal(t, at, got)
}

func TestScheduler_Unregister(t *testing.T) {
	s := New(time.Second, clock.NewFake(baseTime))

	var calls int
	unregister := s.Register("job", time.Second, func(time.Time) { calls++ })
	s.Tick(baseTime.Add(time.Second))
	unregister()
	unregister()
	s.Tick(baseTime.Add(2 * time.Second))

	assert.Equal(t, 1, calls)
	assert.Empty(t, s.Jobs())
}

func TestScheduler_PanicRecovered(t *testing.T) {
	s := New(time.Second, clock.NewFake(baseTime))

	var calls int
	s.Register("a-panics", time.Second, func(time.Time) { panic("boom") })
	s.Register("b-works", time.Second, func(time.Time) { calls++ })

	require.NotPanics(t, func() { s.Tick(baseTime.Add(time.Second)) })
	assert.Equal(t, 1, calls)
}

func TestScheduler_RegisterFromJob(t *testing.T) {
	s := New(time.Second, clock.NewFake(baseTime))

	var inner int
	s.Register("outer", time.Second, func(time.Time) {
		s.Register("inner", time.Second, func(time.Time) { inner++ })
	})

	require.NotPanics(t, func() { s.Tick(baseTime.Add(time.Second)) })
	assert.Len(t, s.Jobs(), 2)
	assert.Zero(t, inner, "jobs added during a tick wait for the next one")
}

func TestScheduler_Jobs(t *testing.T) {
	s := New(0, clock.NewFake(baseTime))
	s.Register("b", time.Minute, func(time.Time) {})
	s.Register("a", 0, func(time.Time) {})

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, time.Second, jobs[0].Every, "zero interval falls back to the tick")
	assert.Equal(t, baseTime, jobs[1].LastRun)
}

func TestScheduler_StartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real cron tick")
	}

	s := New(time.Second, clock.Real())
	var calls atomic.Int32
	s.Register("job", time.Millisecond, func(time.Time) { calls.Add(1) })

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "a running scheduler cannot start twice")

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
	s.Stop()

	stopped := calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}
