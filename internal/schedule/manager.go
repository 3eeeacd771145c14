package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/instance-watch/internal/clock"
	"github.com/nerrad567/instance-watch/internal/instance"
)

// DefaultPostFireDelay is the wait after an expected run before triggering.
const DefaultPostFireDelay = 30 * time.Second

// Logger is the logging interface used by the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config configures a Manager.
type Config struct {
	Clock clock.Clock

	// PostFireDelay is waited after each fire before Trigger is called.
	// Negative values fall back to DefaultPostFireDelay.
	PostFireDelay time.Duration

	// Trigger is called with the instance id after the post-fire delay.
	Trigger func(id string)

	// Fired, if set, is called at each fire time.
	Fired func(id string)

	Logger Logger
}

type entry struct {
	expr   string
	sched  cron.Schedule
	timer  clock.Timer
	delays map[*delay]struct{}
}

type delay struct {
	timer clock.Timer
}

// Manager owns the recurring triggers of scheduled instances.
// All methods are thread-safe.
type Manager struct {
	cfg    Config
	logger Logger

	mu       sync.Mutex
	entries  map[string]*entry
	disarmed bool
}

// NewManager creates a manager with no triggers armed.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.PostFireDelay < 0 {
		cfg.PostFireDelay = DefaultPostFireDelay
	}
	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Arm registers a trigger for inst. An existing trigger for the same id is
// kept unless the expression differs.
//
// Returns:
//   - error: ErrNotScheduled, ErrInvalidSchedule or ErrDisarmed; the
//     instance is not armed in that case
func (m *Manager) Arm(inst instance.Instance) error {
	if inst.Mode != instance.ModeScheduled {
		return fmt.Errorf("%w: %s", ErrNotScheduled, inst.ID)
	}
	sched, err := Parse(inst.Schedule)
	if err != nil {
		return fmt.Errorf("instance %s: %w", inst.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disarmed {
		return ErrDisarmed
	}
	if existing, ok := m.entries[inst.ID]; ok {
		if existing.expr == inst.Schedule {
			return nil
		}
		m.stopEntry(existing)
	}

	e := &entry{expr: inst.Schedule, sched: sched, delays: make(map[*delay]struct{})}
	m.entries[inst.ID] = e
	m.scheduleNext(inst.ID, e, m.cfg.Clock.Now())
	m.logger.Debug("schedule armed", "instance", inst.ID, "schedule", inst.Schedule)
	return nil
}

// Rearm replaces the trigger of inst, e.g. after its schedule changed.
// An instance that can no longer be armed is removed.
func (m *Manager) Rearm(inst instance.Instance) error {
	m.Remove(inst.ID)
	return m.Arm(inst)
}

// Remove cancels the trigger of id, including a pending post-fire delay.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		m.stopEntry(e)
		delete(m.entries, id)
	}
}

// Disarm cancels every trigger. It is safe to call more than once.
func (m *Manager) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.entries {
		m.stopEntry(e)
		delete(m.entries, id)
	}
	m.disarmed = true
}

// Armed returns the sorted ids with an armed trigger.
func (m *Manager) Armed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NextFire returns the next fire time of id.
func (m *Manager) NextFire(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return time.Time{}, false
	}
	next := e.sched.Next(m.cfg.Clock.Now())
	return next, !next.IsZero()
}

// stopEntry cancels all timers of e. Caller must hold m.mu.
func (m *Manager) stopEntry(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	for d := range e.delays {
		d.timer.Stop()
	}
	clear(e.delays)
}

// scheduleNext arms the timer for the next fire after now. Caller must hold m.mu.
func (m *Manager) scheduleNext(id string, e *entry, now time.Time) {
	next := e.sched.Next(now)
	if next.IsZero() {
		e.timer = nil
		m.logger.Warn("schedule has no future fire time", "instance", id, "schedule", e.expr)
		return
	}
	e.timer = m.cfg.Clock.AfterFunc(next.Sub(now), func() { m.fire(id, e) })
}

// fire runs at an expected run of id.
func (m *Manager) fire(id string, e *entry) {
	m.mu.Lock()
	if m.entries[id] != e {
		m.mu.Unlock()
		return
	}
	m.scheduleNext(id, e, m.cfg.Clock.Now())

	d := &delay{}
	e.delays[d] = struct{}{}
	d.timer = m.cfg.Clock.AfterFunc(m.cfg.PostFireDelay, func() { m.afterDelay(id, e, d) })
	m.mu.Unlock()

	if m.cfg.Fired != nil {
		m.cfg.Fired(id)
	}
	m.logger.Debug("schedule fired", "instance", id, "post_fire_delay", m.cfg.PostFireDelay)
}

func (m *Manager) afterDelay(id string, e *entry, d *delay) {
	m.mu.Lock()
	if m.entries[id] != e {
		m.mu.Unlock()
		return
	}
	if _, ok := e.delays[d]; !ok {
		m.mu.Unlock()
		return
	}
	delete(e.delays, d)
	m.mu.Unlock()

	if m.cfg.Trigger != nil {
		m.cfg.Trigger(id)
	}
}
