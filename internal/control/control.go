// Package control switches watched instances on and off.
//
// Commands are writes of the instance's alive state with ack=false, which
// the host controller interprets as start or stop requests. The executor
// does not wait for the instance to react; later evaluations observe the
// result.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/instance-watch/internal/clock"
	"github.com/nerrad567/instance-watch/internal/instance"
	"github.com/nerrad567/instance-watch/internal/store"
)

// DefaultSettleDelay is the pause between the off and on writes of a restart.
const DefaultSettleDelay = 3 * time.Second

// ErrUnsupportedMode is returned for instances whose mode cannot be controlled.
var ErrUnsupportedMode = errors.New("control: mode not supported")

// ControlError reports a failed command for one instance.
type ControlError struct {
	ID  string
	Err error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("controlling %s: %v", e.ID, e.Err)
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// Writer is the write side of store.Store used by the executor.
type Writer interface {
	SetState(ctx context.Context, key string, val any, ack bool) error
}

// Logger is the logging interface used by the executor.
type Logger interface {
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}

// Config configures an Executor.
type Config struct {
	Store Writer
	Clock clock.Clock

	// SettleDelay defaults to DefaultSettleDelay when negative.
	SettleDelay time.Duration

	Logger Logger
}

// Executor issues on/off commands.
type Executor struct {
	store  Writer
	clock  clock.Clock
	settle time.Duration
	logger Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &Executor{
		store:  cfg.Store,
		clock:  cfg.Clock,
		settle: cfg.SettleDelay,
		logger: logger,
	}
}

// SetEnabled switches inst on (flag=true) or off.
//
// A persistent instance gets a single alive write. A scheduled instance is
// first switched off when disabling or when it is already enabled; when
// enabling, the on write follows after the settle delay if an off write was
// issued. This restarts a running job.
//
// Parameters:
//   - ctx: Cancels the settle delay and store writes
//   - inst: Catalog copy of the instance; mode and enabled flag are used
//   - flag: Desired state
//
// Returns:
//   - error: *ControlError wrapping ErrUnsupportedMode or the store error
func (e *Executor) SetEnabled(ctx context.Context, inst instance.Instance, flag bool) error {
	if err := e.setEnabled(ctx, inst, flag); err != nil {
		return &ControlError{ID: inst.ID, Err: err}
	}
	return nil
}

func (e *Executor) setEnabled(ctx context.Context, inst instance.Instance, flag bool) error {
	key := store.AliveKey(inst.ID)

	switch inst.Mode {
	case instance.ModePersistent:
		e.logger.Info("switching instance", "instance", inst.ID, "on", flag)
		return e.write(ctx, key, flag)

	case instance.ModeScheduled:
		wroteOff := false
		if !flag || inst.Enabled {
			e.logger.Info("switching instance off", "instance", inst.ID, "restart", flag)
			if err := e.write(ctx, key, false); err != nil {
				return err
			}
			wroteOff = true
		}
		if !flag {
			return nil
		}
		if wroteOff {
			if err := e.clock.Sleep(ctx, e.settle); err != nil {
				return fmt.Errorf("waiting to restart: %w", err)
			}
		}
		e.logger.Info("switching instance on", "instance", inst.ID)
		return e.write(ctx, key, true)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, inst.Mode)
	}
}

func (e *Executor) write(ctx context.Context, key string, val bool) error {
	if err := e.store.SetState(ctx, key, val, false); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
