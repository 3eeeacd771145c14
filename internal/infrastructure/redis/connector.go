package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/instance-watch/internal/infrastructure/config"
)

// Connection defaults applied when the config leaves a value unset.
const (
	defaultPingTimeout   = 2 * time.Second
	defaultWarnThreshold = 3
	approachingDeadline  = 10 * time.Second
)

// Logger is the subset of logging.Logger used while connecting.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options controls connection and retry behaviour.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	PoolSize int

	// ConnectTimeout bounds all attempts together.
	ConnectTimeout time.Duration

	// RetryInterval is the first wait between attempts; it doubles up to MaxWait.
	RetryInterval time.Duration
	MaxWait       time.Duration

	// PingTimeout bounds each individual ping.
	PingTimeout time.Duration

	// WarnThreshold is the number of failed attempts logged at warn level
	// before escalating to error.
	WarnThreshold int
}

// OptionsFromConfig converts the redis config section into Options.
func OptionsFromConfig(cfg config.RedisConfig) Options {
	return Options{
		Addr:           cfg.Addr,
		Username:       cfg.Username,
		Password:       cfg.Password,
		DB:             cfg.DB,
		PoolSize:       cfg.PoolSize,
		ConnectTimeout: time.Duration(cfg.ConnectTimeout) * time.Second,
		RetryInterval:  time.Duration(cfg.RetryInterval) * time.Second,
		MaxWait:        time.Duration(cfg.MaxWait) * time.Second,
		PingTimeout:    defaultPingTimeout,
		WarnThreshold:  defaultWarnThreshold,
	}
}

func (o Options) validate() error {
	switch {
	case o.Addr == "":
		return fmt.Errorf("%w: addr is required", ErrInvalidOptions)
	case o.ConnectTimeout <= 0:
		return fmt.Errorf("%w: connect timeout must be > 0, got %v", ErrInvalidOptions, o.ConnectTimeout)
	case o.RetryInterval <= 0:
		return fmt.Errorf("%w: retry interval must be > 0, got %v", ErrInvalidOptions, o.RetryInterval)
	case o.MaxWait <= 0:
		return fmt.Errorf("%w: max wait must be > 0, got %v", ErrInvalidOptions, o.MaxWait)
	case o.PingTimeout <= 0:
		return fmt.Errorf("%w: ping timeout must be > 0, got %v", ErrInvalidOptions, o.PingTimeout)
	case o.WarnThreshold < 0:
		return fmt.Errorf("%w: warn threshold must be >= 0, got %d", ErrInvalidOptions, o.WarnThreshold)
	}
	return nil
}

// Connect creates a redis client and waits until the server answers a ping.
//
// Failed pings are retried with exponential backoff capped at MaxWait.
// The first WarnThreshold failures are logged as warnings, later ones as
// errors.
//
// Parameters:
//   - ctx: Cancels the connection attempts early
//   - opts: Connection and retry settings
//   - logger: Receives progress messages
//
// Returns:
//   - *goredis.Client: Client that has answered at least one ping
//   - error: ErrInvalidOptions or ErrConnectionFailed
func Connect(ctx context.Context, opts Options, logger Logger) (*goredis.Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	if err := waitForPing(ctx, client, opts, logger); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}
	return client, nil
}

// waitForPing runs the retry loop with exponential backoff.
func waitForPing(ctx context.Context, client *goredis.Client, opts Options, logger Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	logger.Info("connecting to redis", "addr", opts.Addr, "timeout", opts.ConnectTimeout)

	start := time.Now()
	wait := opts.RetryInterval
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()

		if err == nil {
			if attempt > 1 {
				logger.Warn("connected to redis after retry",
					"addr", opts.Addr, "attempts", attempt, "elapsed", time.Since(start))
			} else {
				logger.Info("connected to redis", "addr", opts.Addr)
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Error("redis unavailable",
				"addr", opts.Addr, "attempts", attempt, "timeout", opts.ConnectTimeout, "error", err)
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrConnectionFailed, opts.Addr, attempt, err)
		case <-timer.C:
		}

		remaining := timeLeft(ctx)
		switch {
		case remaining < approachingDeadline:
			logger.Error("redis still down, timeout approaching",
				"addr", opts.Addr, "attempt", attempt, "remaining", remaining, "error", err)
		case attempt <= opts.WarnThreshold:
			logger.Warn("redis connection failed, retrying",
				"addr", opts.Addr, "attempt", attempt, "next_retry_in", wait, "error", err)
		default:
			logger.Error("redis still unavailable",
				"addr", opts.Addr, "attempt", attempt, "next_retry_in", wait, "error", err)
		}

		wait *= 2
		if wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
}

// timeLeft returns the remaining time before the context deadline.
func timeLeft(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}
