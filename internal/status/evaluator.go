package status

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/instance-watch/internal/clock"
	"github.com/nerrad567/instance-watch/internal/history"
	"github.com/nerrad567/instance-watch/internal/instance"
	"github.com/nerrad567/instance-watch/internal/schedule"
	"github.com/nerrad567/instance-watch/internal/store"
)

// DefaultDriftTolerance is the accepted lag of a scheduled heartbeat.
const DefaultDriftTolerance = 300 * time.Second

// Reader is the read side of store.Store used by the evaluator.
type Reader interface {
	GetInstance(ctx context.Context, id string) (store.Object, error)
	GetState(ctx context.Context, key string) (store.State, error)
	HasState(ctx context.Context, key string) (bool, error)
}

// Logger is the logging interface used by the evaluator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Config configures an Evaluator.
type Config struct {
	Store Reader
	Clock clock.Clock

	// DriftTolerance defaults to DefaultDriftTolerance when zero.
	DriftTolerance time.Duration

	Logger Logger
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Enabled   bool
	Operating bool

	// Signals read during the pass; nil if the chain ended before them.
	Alive            *bool
	ConnectedHost    *bool
	ConnectedService *bool

	ServiceSignal instance.Presence

	// Drift is the schedule drift of a scheduled instance.
	Drift time.Duration
}

// Status maps the result to its logged status.
func (r Result) Status() history.Status {
	switch {
	case !r.Enabled:
		return history.StatusDisabled
	case r.Operating:
		return history.StatusOperating
	default:
		return history.StatusNotOperating
	}
}

// Apply copies the result into inst.
func (r Result) Apply(inst *instance.Instance, at time.Time) {
	inst.Enabled = r.Enabled
	inst.Operating = r.Operating
	if r.Alive != nil {
		inst.Alive = r.Alive
	}
	if r.ConnectedHost != nil {
		inst.ConnectedHost = r.ConnectedHost
	}
	if r.ConnectedService != nil {
		inst.ConnectedService = r.ConnectedService
	}
	if r.ServiceSignal != instance.PresenceUnknown {
		inst.ServiceSignal = r.ServiceSignal
	}
	inst.Evaluated = true
	inst.EvaluatedAt = at
}

// Evaluator computes the operating status of instances.
// It is safe for concurrent use.
type Evaluator struct {
	store     Reader
	clock     clock.Clock
	tolerance time.Duration
	logger    Logger

	mu          sync.Mutex
	unsupported map[string]struct{}
}

// NewEvaluator creates an evaluator.
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.DriftTolerance <= 0 {
		cfg.DriftTolerance = DefaultDriftTolerance
	}
	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &Evaluator{
		store:       cfg.Store,
		clock:       cfg.Clock,
		tolerance:   cfg.DriftTolerance,
		logger:      logger,
		unsupported: make(map[string]struct{}),
	}
}

// Evaluate runs one pass for inst.
//
// Parameters:
//   - ctx: Context for store reads
//   - inst: Copy of the catalog entry; its mode, schedule and service
//     presence are used
//
// Returns:
//   - Result: Derived status and the signals read
//   - error: *EvaluationError if a required read is missing or malformed
func (e *Evaluator) Evaluate(ctx context.Context, inst instance.Instance) (Result, error) {
	res, err := e.evaluate(ctx, inst)
	if err != nil {
		return Result{}, &EvaluationError{ID: inst.ID, Err: err}
	}
	return res, nil
}

func (e *Evaluator) evaluate(ctx context.Context, inst instance.Instance) (Result, error) {
	obj, err := e.store.GetInstance(ctx, inst.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reading instance object: %w", err)
	}
	if inst.Mode != instance.ModePersistent && inst.Mode != instance.ModeScheduled {
		// Never operating; a missing enabled flag reads as disabled.
		e.logUnsupported(inst)
		enabled := obj.Common.Enabled != nil && *obj.Common.Enabled
		return Result{Enabled: enabled, ServiceSignal: inst.ServiceSignal}, nil
	}
	if obj.Common.Enabled == nil {
		return Result{}, ErrMissingEnabled
	}

	res := Result{Enabled: *obj.Common.Enabled, ServiceSignal: inst.ServiceSignal}
	if !res.Enabled {
		return res, nil
	}
	if inst.Mode == instance.ModeScheduled {
		return e.evaluateScheduled(ctx, inst, res)
	}
	return e.evaluatePersistent(ctx, inst, res)
}

func (e *Evaluator) evaluatePersistent(ctx context.Context, inst instance.Instance, res Result) (Result, error) {
	alive, err := e.readBool(ctx, store.AliveKey(inst.ID))
	if err != nil {
		return Result{}, err
	}
	res.Alive = &alive
	if !alive {
		return res, nil
	}

	host, err := e.readBool(ctx, store.ConnectedKey(inst.ID))
	if err != nil {
		return Result{}, err
	}
	res.ConnectedHost = &host
	if !host {
		return res, nil
	}

	if res.ServiceSignal == instance.PresenceUnknown {
		res.ServiceSignal, err = e.CheckPresence(ctx, inst.ID)
		if err != nil {
			return Result{}, err
		}
	}
	if res.ServiceSignal == instance.PresenceAbsent {
		res.Operating = true
		return res, nil
	}

	service, err := e.readBool(ctx, store.ServiceConnectionKey(inst.ID))
	if err != nil {
		return Result{}, err
	}
	res.ConnectedService = &service
	res.Operating = service
	return res, nil
}

func (e *Evaluator) evaluateScheduled(ctx context.Context, inst instance.Instance, res Result) (Result, error) {
	key := store.AliveKey(inst.ID)
	st, err := e.store.GetState(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", key, err)
	}
	if st.TS <= 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrMissingHeartbeat, key)
	}
	if !instance.ValidSchedule(inst.Schedule) {
		return Result{}, ErrMissingSchedule
	}

	now := e.clock.Now()
	prev, err := schedule.Previous(inst.Schedule, now)
	if err != nil {
		return Result{}, fmt.Errorf("previous run of %q: %w", inst.Schedule, err)
	}

	res.Drift = Drift(now, prev, st.Time())
	res.Operating = res.Drift > -e.tolerance
	e.logger.Debug("schedule drift",
		"instance", inst.ID,
		"previous_run", prev,
		"heartbeat", st.Time(),
		"drift", res.Drift,
	)
	return res, nil
}

// Drift returns the whole-second difference between the time since the
// expected run and the time since the heartbeat. Negative values mean the
// heartbeat is older than the expected run.
func Drift(now, expected, heartbeat time.Time) time.Duration {
	sinceExpected := math.Floor(now.Sub(expected).Seconds())
	sinceHeartbeat := math.Floor(now.Sub(heartbeat).Seconds())
	return time.Duration(sinceExpected-sinceHeartbeat) * time.Second
}

// CheckPresence determines whether id exposes a service-connection state.
func (e *Evaluator) CheckPresence(ctx context.Context, id string) (instance.Presence, error) {
	key := store.ServiceConnectionKey(id)
	ok, err := e.store.HasState(ctx, key)
	if err != nil {
		return instance.PresenceUnknown, fmt.Errorf("checking %s: %w", key, err)
	}
	if ok {
		return instance.PresencePresent, nil
	}
	return instance.PresenceAbsent, nil
}

func (e *Evaluator) readBool(ctx context.Context, key string) (bool, error) {
	st, err := e.store.GetState(ctx, key)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	v, err := st.Bool()
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, nil
}

func (e *Evaluator) logUnsupported(inst instance.Instance) {
	e.mu.Lock()
	_, seen := e.unsupported[inst.ID]
	e.unsupported[inst.ID] = struct{}{}
	e.mu.Unlock()

	if !seen {
		e.logger.Info("instance mode not supported, reported as not operating",
			"instance", inst.ID, "mode", inst.Mode)
	}
}
