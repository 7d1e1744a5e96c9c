// Package scheduler runs every periodic maintenance job of the gateway from
// a single cron tick.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
)

// Func is a periodic callback. now is the tick time.
type Func func(now time.Time)

type jobEntry struct {
	name    string
	every   time.Duration
	lastRun time.Time
	fn      Func
}

// JobInfo describes a registered job.
type JobInfo struct {
	LastRun time.Time
	Name    string
	Every   time.Duration
}

// Scheduler multiplexes registered jobs onto one cron entry.
type Scheduler struct {
	cron  *cron.Cron
	clock clock.Clock
	log   *slog.Logger
	tick  time.Duration

	mu      sync.Mutex
	jobs    map[uint64]*jobEntry
	nextID  uint64
	entry   cron.EntryID
	running bool
}

// New creates a scheduler ticking every tick. cron rounds sub-second
// intervals up to one second.
func New(tick time.Duration, clk clock.Clock) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		clock: clk,
		log:   logger.With("scheduler"),
		tick:  tick,
		jobs:  make(map[uint64]*jobEntry),
	}
}

// Register adds fn to run every interval. The returned func removes it and
// is safe to call more than once.
func (s *Scheduler) Register(name string, every time.Duration, fn Func) (unregister func()) {
	if every <= 0 {
		every = s.tick
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.jobs[id] = &jobEntry{name: name, every: every, lastRun: s.clock.Now(), fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.jobs, id)
		s.mu.Unlock()
	}
}

// Tick runs every job whose interval has elapsed since its last run.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	var due []*jobEntry
	for _, j := range s.jobs {
		if now.Sub(j.lastRun) >= j.every {
			j.lastRun = now
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.run(j, now)
	}
}

func (s *Scheduler) run(j *jobEntry, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked", "job", j.name, "panic", r)
		}
	}()
	j.fn(now)
}

// Start begins ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	spec := "@every " + s.tick.String()
	entry, err := s.cron.AddFunc(spec, func() { s.Tick(s.clock.Now()) })
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entry = entry
	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", "tick", s.tick, "jobs", len(s.jobs))
	return nil
}

// Stop halts ticking and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.cron.Remove(s.entry)
	s.log.Info("scheduler stopped")
}

// Jobs lists the registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{Name: j.name, Every: j.every, LastRun: j.lastRun})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
