// Instance Watch - ioBroker instance health watcher
//
// This is the main entry point of the watcher. It discovers the adapter
// instances in the ioBroker store, keeps their operating status and
// transition logs published, and offers an HTTP status and control API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	_ "github.com/nerrad567/instance-watch/migrations"

	"github.com/nerrad567/instance-watch/internal/api"
	"github.com/nerrad567/instance-watch/internal/clock"
	"github.com/nerrad567/instance-watch/internal/control"
	"github.com/nerrad567/instance-watch/internal/history"
	"github.com/nerrad567/instance-watch/internal/infrastructure/config"
	"github.com/nerrad567/instance-watch/internal/infrastructure/database"
	"github.com/nerrad567/instance-watch/internal/infrastructure/influxdb"
	"github.com/nerrad567/instance-watch/internal/infrastructure/logging"
	"github.com/nerrad567/instance-watch/internal/infrastructure/mqtt"
	"github.com/nerrad567/instance-watch/internal/infrastructure/redis"
	"github.com/nerrad567/instance-watch/internal/instance"
	"github.com/nerrad567/instance-watch/internal/metrics"
	"github.com/nerrad567/instance-watch/internal/status"
	"github.com/nerrad567/instance-watch/internal/store"
	"github.com/nerrad567/instance-watch/internal/store/mqttstore"
	"github.com/nerrad567/instance-watch/internal/store/redisstore"
	"github.com/nerrad567/instance-watch/internal/watcher"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting instance watch",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"store", cfg.Store.Backend,
		"level", cfg.Logging.Level,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	schema, err := db.SchemaStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading schema status: %w", err)
	}
	log.Info("database ready", "path", db.Path(), "schema", schema.Version)

	health := map[string]api.HealthChecker{"database": db}

	// Connect to the store
	st, closeStore, err := openStore(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer closeStore()

	// Connect to InfluxDB (optional)
	var sink watcher.StatusSink
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sink = influxClient
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Discover instances
	catalog, invalid, err := instance.Discover(ctx, st, instance.Options{
		SelfID:  cfg.Watcher.SelfID,
		Exclude: cfg.Watcher.Exclude,
	})
	for _, token := range invalid {
		log.Warn("ignoring invalid exclusion", "token", token)
	}
	if err != nil {
		return fmt.Errorf("discovering instances: %w", err)
	}
	log.Info("instances discovered", "count", catalog.Len(), "instances", catalog.IDs())

	clk := clock.New()
	m := metrics.New()

	w := watcher.New(watcher.Config{
		Namespace:      cfg.Watcher.Namespace,
		QueueDelay:     cfg.Watcher.QueueDelay(),
		PostFireDelay:  cfg.Watcher.PostFireDelay(),
		MaxLogSummary:  cfg.Watcher.MaxLogSummary,
		MaxLogInstance: cfg.Watcher.MaxLogInstance,
	}, watcher.Deps{
		Store:   st,
		Catalog: catalog,
		Evaluator: status.NewEvaluator(status.Config{
			Store:          st,
			Clock:          clk,
			DriftTolerance: cfg.Watcher.DriftTolerance(),
			Logger:         log,
		}),
		Book:       history.NewBook(cfg.Watcher.MaxLogSummary, cfg.Watcher.MaxLogInstance),
		Repository: history.NewSQLiteRepository(db.DB),
		Controller: control.NewExecutor(control.Config{
			Store:       st,
			Clock:       clk,
			SettleDelay: cfg.Watcher.RestartSettle(),
			Logger:      log,
		}),
		Metrics: m,
		Sink:    sink,
		Clock:   clk,
		Logger:  log.With("component", "watcher"),
	})
	if startErr := w.Start(ctx); startErr != nil {
		return fmt.Errorf("starting watcher: %w", startErr)
	}
	defer w.Stop()

	// Start the HTTP API (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Watcher: w,
			Metrics: m,
			DB:      db,
			Health:  health,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("instance watch started")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping")
	return nil
}

// openStore connects the configured store backend and registers its health check.
//
// Returns:
//   - store.Store: Started store
//   - func(): Closes the store and its connection
//   - error: If connecting fails
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger, health map[string]api.HealthChecker) (store.Store, func(), error) {
	writerID := store.InstanceObjectKey(cfg.Watcher.SelfID)

	switch cfg.Store.Backend {
	case config.BackendRedis:
		client, err := redis.Connect(ctx, redis.OptionsFromConfig(cfg.Redis), log)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		st := redisstore.New(client, redisstore.Options{WriterID: writerID, Logger: log})
		health["redis"] = redisHealth{client: client}
		log.Info("redis connected", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)

		return st, func() {
			log.Info("closing redis store")
			if err := errors.Join(st.Close(), client.Close()); err != nil {
				log.Error("error closing redis", "error", err)
			}
		}, nil

	default:
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		client.SetOnConnect(func() { log.Info("MQTT reconnected") })
		client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		st := mqttstore.New(client, mqttstore.Options{
			Prefix:   cfg.Store.MQTT.Prefix,
			QoS:      byte(cfg.MQTT.QoS),
			SyncWait: cfg.Store.MQTT.SyncWait(),
			WriterID: writerID,
			Logger:   log,
		})
		closeAll := func() {
			log.Info("disconnecting from MQTT")
			if err := errors.Join(st.Close(), client.Close()); err != nil {
				log.Error("error closing MQTT", "error", err)
			}
		}
		if err := st.Start(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("loading store mirror: %w", err)
		}
		health["mqtt"] = client
		log.Info("MQTT store ready",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", cfg.Store.MQTT.Prefix,
			"subscriptions", client.SubscriptionCount(),
		)
		return st, closeAll, nil
	}
}

// redisHealth adapts a redis client to api.HealthChecker.
type redisHealth struct {
	client *goredis.Client
}

func (h redisHealth) HealthCheck(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Checks INSTANCEWATCH_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("INSTANCEWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
