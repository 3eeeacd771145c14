// Package debounce collapses bursts of change notifications for an instance
// into a single delayed evaluation.
//
// Each instance has a small state machine: idle until the first request,
// then waiting while a timer is armed. Further requests in the waiting state
// only move the last-change time forward. When the timer fires and the
// instance has been quiet for the full queue delay, the evaluation runs;
// otherwise the timer is re-armed for the remaining delay.
package debounce

import (
	"sync"
	"time"

	"github.com/nerrad567/instance-watch/internal/clock"
)

// Buffer is added to every wait so the quiet-period check at wake-up passes.
const Buffer = 10 * time.Millisecond

// Logger is the logging interface used by the coalescer.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Config configures a Coalescer.
type Config struct {
	Clock clock.Clock

	// QueueDelay is the quiet period required before evaluating.
	// Zero starts an evaluation for every request without waiting.
	QueueDelay time.Duration

	// Evaluate runs the evaluation pipeline for an instance.
	Evaluate func(id string)

	// Coalesced, if set, is called for every request absorbed by a pending timer.
	Coalesced func(id string)

	Logger Logger
}

type state int

const (
	stateIdle state = iota
	stateWaiting
)

type entry struct {
	state      state
	lastChange time.Time
	timer      clock.Timer

	// run serialises evaluations of one instance.
	run sync.Mutex
}

// Coalescer is safe for concurrent use.
type Coalescer struct {
	cfg    Config
	logger Logger

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool

	running sync.WaitGroup
}

// New creates a coalescer.
func New(cfg Config) *Coalescer {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &Coalescer{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// entryFor returns the entry of id, creating it. Caller must hold c.mu.
func (c *Coalescer) entryFor(id string) *entry {
	e, ok := c.entries[id]
	if !ok {
		e = &entry{}
		c.entries[id] = e
	}
	return e
}

// RequestUpdate notes a change relevant to id. It never blocks on an
// evaluation, so it can be called from store notification handlers.
//
// With a zero queue delay the evaluation starts on its own goroutine at
// once. Otherwise it runs on a timer goroutine once id has been quiet for
// the queue delay. Evaluations of one id never overlap.
func (c *Coalescer) RequestUpdate(id string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	e := c.entryFor(id)

	if c.cfg.QueueDelay <= 0 {
		c.running.Add(1)
		c.mu.Unlock()
		go c.run(id, e)
		return
	}

	e.lastChange = c.cfg.Clock.Now()
	if e.state == stateWaiting {
		c.mu.Unlock()
		if c.cfg.Coalesced != nil {
			c.cfg.Coalesced(id)
		}
		return
	}

	e.state = stateWaiting
	e.timer = c.cfg.Clock.AfterFunc(c.cfg.QueueDelay+Buffer, func() { c.wake(id) })
	c.mu.Unlock()
}

// wake is the timer callback of a waiting entry.
func (c *Coalescer) wake(id string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	e := c.entries[id]

	quiet := c.cfg.Clock.Now().Sub(e.lastChange)
	if quiet < c.cfg.QueueDelay {
		remaining := c.cfg.QueueDelay - quiet
		e.timer = c.cfg.Clock.AfterFunc(remaining+Buffer, func() { c.wake(id) })
		c.mu.Unlock()
		c.logger.Debug("debounce re-armed", "instance", id, "remaining", remaining)
		return
	}

	e.state = stateIdle
	e.timer = nil
	c.running.Add(1)
	c.mu.Unlock()

	c.run(id, e)
}

// run evaluates id; the caller has added it to c.running.
func (c *Coalescer) run(id string, e *entry) {
	defer c.running.Done()
	e.run.Lock()
	defer e.run.Unlock()
	c.cfg.Evaluate(id)
}

// Wait blocks until every evaluation started so far has returned.
func (c *Coalescer) Wait() {
	c.running.Wait()
}

// Pending reports whether an evaluation of id is waiting on its timer.
func (c *Coalescer) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	return ok && e.state == stateWaiting
}

// Stop cancels all timers and ignores later requests.
// Evaluations already running are not waited for; see Wait.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	for _, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.state = stateIdle
	}
}
