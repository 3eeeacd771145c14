package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/instance-watch/internal/clock"
	"github.com/nerrad567/instance-watch/internal/debounce"
	"github.com/nerrad567/instance-watch/internal/history"
	"github.com/nerrad567/instance-watch/internal/instance"
	"github.com/nerrad567/instance-watch/internal/metrics"
	"github.com/nerrad567/instance-watch/internal/schedule"
	"github.com/nerrad567/instance-watch/internal/status"
	"github.com/nerrad567/instance-watch/internal/store"
)

// Sentinel errors returned by the watcher.
var (
	// ErrNotStarted is returned by operations that need a running watcher.
	ErrNotStarted = errors.New("watcher: not started")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("watcher: stopped")
)

// Logger is the logging interface used by the watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Evaluator computes instance status. *status.Evaluator satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, inst instance.Instance) (status.Result, error)
	CheckPresence(ctx context.Context, id string) (instance.Presence, error)
}

// Controller switches instances. *control.Executor satisfies it.
type Controller interface {
	SetEnabled(ctx context.Context, inst instance.Instance, flag bool) error
}

// StatusSink receives every evaluated status, e.g. for a time-series
// database. *influxdb.Client satisfies it. Flush is called on Stop.
type StatusSink interface {
	WriteInstanceStatus(instanceID, mode string, enabled, operating bool, at time.Time)
	WriteSummary(notOperating, total int, at time.Time)
	Flush()
}

// Config holds watcher settings.
type Config struct {
	// Namespace prefixes every published state, e.g. "instance-watch.0".
	Namespace string

	// QueueDelay is the debounce delay; 0 evaluates on every change.
	QueueDelay time.Duration

	// PostFireDelay is waited after a scheduled run before evaluating.
	PostFireDelay time.Duration

	// MaxLogSummary and MaxLogInstance must match the limits of the Book;
	// a log state is only published when its limit is above 0.
	MaxLogSummary  int
	MaxLogInstance int
}

// Deps are the collaborators of a Watcher. Repository, Metrics and Sink
// are optional.
type Deps struct {
	Store      store.Store
	Catalog    *instance.Catalog
	Evaluator  Evaluator
	Book       *history.Book
	Repository history.Repository
	Controller Controller
	Metrics    *metrics.Metrics
	Sink       StatusSink
	Clock      clock.Clock
	Logger     Logger
}

// Watcher keeps the published status of the catalog up to date.
type Watcher struct {
	cfg     Config
	keys    keys
	store   store.Store
	catalog *instance.Catalog
	eval    Evaluator
	book    *history.Book
	repo    history.Repository
	control Controller
	metrics *metrics.Metrics
	sink    StatusSink
	clock   clock.Clock
	logger  Logger

	coalescer *debounce.Coalescer
	scheduler *schedule.Manager

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	tasks   sync.WaitGroup // commands and publications started by handlers

	// aggMu serialises log and aggregate updates with their persistence
	// and publication.
	aggMu        sync.Mutex
	notOperating []string // sorted

	sigMu   sync.Mutex
	signals map[string]any // last observed value per signal key
}

// New creates a watcher. Call Start to begin watching.
func New(cfg Config, deps Deps) *Watcher {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	var logger Logger = noopLogger{}
	if deps.Logger != nil {
		logger = deps.Logger
	}

	w := &Watcher{
		cfg:     cfg,
		keys:    keys{namespace: cfg.Namespace},
		store:   deps.Store,
		catalog: deps.Catalog,
		eval:    deps.Evaluator,
		book:    deps.Book,
		repo:    deps.Repository,
		control: deps.Controller,
		metrics: deps.Metrics,
		sink:    deps.Sink,
		clock:   deps.Clock,
		logger:  logger,
		signals: make(map[string]any),
	}

	w.coalescer = debounce.New(debounce.Config{
		Clock:      deps.Clock,
		QueueDelay: cfg.QueueDelay,
		Evaluate:   w.evaluate,
		Coalesced:  w.metrics.Coalesced,
		Logger:     logger,
	})
	w.scheduler = schedule.NewManager(schedule.Config{
		Clock:         deps.Clock,
		PostFireDelay: cfg.PostFireDelay,
		Trigger:       w.coalescer.RequestUpdate,
		Fired:         w.metrics.ScheduleFired,
		Logger:        logger,
	})
	return w
}

// Start restores the logs, evaluates every instance, publishes the states,
// subscribes to changes and commands, and arms the schedules.
//
// ctx bounds the lifetime of the watcher's own store operations; Stop also
// cancels them.
//
// Returns:
//   - error: If a subscription fails; the watcher is stopped in that case
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.started = true
	w.mu.Unlock()

	runCtx := w.ctx
	w.restoreLogs(runCtx)
	w.checkPresence(runCtx)
	w.publishStatic(runCtx)

	for _, id := range w.catalog.IDs() {
		w.evaluate(id)
	}
	w.publishAggregate(runCtx)
	w.metrics.SetInstances(w.catalog.Len())

	if err := w.subscribe(runCtx); err != nil {
		w.Stop()
		return err
	}

	for _, inst := range w.catalog.Snapshot() {
		if inst.Mode != instance.ModeScheduled {
			continue
		}
		if err := w.scheduler.Arm(inst); err != nil {
			w.logger.Error("schedule not armed", "instance", inst.ID, "error", err)
		}
	}

	w.logger.Info("watcher started",
		"instances", w.catalog.Len(),
		"scheduled", len(w.scheduler.Armed()),
		"not_operating", len(w.NotOperating()),
	)
	return nil
}

func (w *Watcher) subscribe(ctx context.Context) error {
	statePatterns := []string{
		store.AliveKey("*"),
		store.ConnectedKey("*"),
		store.ServiceConnectionKey("*"),
	}
	for _, p := range statePatterns {
		if err := w.store.SubscribeStates(ctx, p, w.handleSignal); err != nil {
			return fmt.Errorf("subscribing to %s: %w", p, err)
		}
	}
	if err := w.store.SubscribeObjects(ctx, store.InstanceObjectKey("*"), w.handleObject); err != nil {
		return fmt.Errorf("subscribing to instance objects: %w", err)
	}
	if err := w.store.SubscribeStates(ctx, w.keys.commandPattern(), w.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// restoreLogs loads the persisted logs into the book.
func (w *Watcher) restoreLogs(ctx context.Context) {
	if w.repo == nil {
		return
	}
	logs, err := w.repo.LoadAll(ctx)
	if err != nil {
		w.logger.Error("restoring transition logs", "error", err)
		return
	}
	restored := 0
	for target, entries := range logs {
		if target != history.SummaryTarget {
			if _, ok := w.catalog.Get(target); !ok {
				continue
			}
		}
		w.book.Restore(target, entries)
		restored++
	}
	w.logger.Debug("transition logs restored", "targets", restored)
}

// checkPresence runs the one-time service-connection check of persistent instances.
func (w *Watcher) checkPresence(ctx context.Context) {
	for _, inst := range w.catalog.Snapshot() {
		if inst.Mode != instance.ModePersistent || inst.ServiceSignal != instance.PresenceUnknown {
			continue
		}
		p, err := w.eval.CheckPresence(ctx, inst.ID)
		if err != nil {
			w.logger.Warn("service connection check failed", "instance", inst.ID, "error", err)
			continue
		}
		w.catalog.Update(inst.ID, func(i *instance.Instance) { i.ServiceSignal = p })
	}
}

// Stop disarms the schedules, abandons pending evaluations, cancels running
// commands and waits for them and for running evaluations, then flushes the
// sink. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()

	w.scheduler.Disarm()
	w.coalescer.Stop()
	if cancel != nil {
		cancel()
	}
	w.tasks.Wait()
	w.coalescer.Wait()
	if w.sink != nil {
		w.sink.Flush()
	}
	w.logger.Info("watcher stopped")
}

// runContext returns the watcher's context, or an error if it is not running.
func (w *Watcher) runContext() (context.Context, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.stopped:
		return nil, ErrStopped
	case !w.started:
		return nil, ErrNotStarted
	}
	return w.ctx, nil
}

// SetEnabled switches instance id on or off through the controller.
//
// Returns:
//   - error: instance.ErrNotFound, or the *control.ControlError of the command
func (w *Watcher) SetEnabled(ctx context.Context, id string, flag bool) error {
	inst, ok := w.catalog.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", instance.ErrNotFound, id)
	}

	err := w.control.SetEnabled(ctx, inst, flag)
	action := "off"
	if flag {
		action = "on"
	}
	w.metrics.ControlCommand(action, err)
	if err != nil {
		return err
	}
	w.logger.Info("instance switched", "instance", id, "action", action)
	return nil
}

// Instances returns copies of all watched instances.
func (w *Watcher) Instances() []instance.Instance {
	return w.catalog.Snapshot()
}

// Instance returns a copy of the instance with id.
func (w *Watcher) Instance(id string) (instance.Instance, bool) {
	return w.catalog.Get(id)
}

// NotOperating returns the sorted ids of enabled instances that are not operating.
func (w *Watcher) NotOperating() []string {
	w.aggMu.Lock()
	defer w.aggMu.Unlock()
	return append([]string{}, w.notOperating...)
}

// SummaryLog returns the summary transition log.
func (w *Watcher) SummaryLog() []history.Entry {
	return w.book.Summary()
}

// InstanceLog returns the transition log of id.
func (w *Watcher) InstanceLog(id string) []history.Entry {
	return w.book.Instance(id)
}

// NextRun returns the next trigger time of a scheduled instance.
func (w *Watcher) NextRun(id string) (time.Time, bool) {
	return w.scheduler.NextFire(id)
}

// RequestUpdate queues an evaluation of id through the debounce.
func (w *Watcher) RequestUpdate(id string) {
	w.coalescer.RequestUpdate(id)
}
