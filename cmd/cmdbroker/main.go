// cmdbroker - UI automation command broker
//
// This is the main entry point for the cmdbroker service. A producer submits
// click, input, scroll and wait commands over HTTP (or MQTT ingress); one or
// more consumers poll for the next command and report its outcome. Pending
// commands survive restarts through a flock-guarded JSON file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/cmdbroker/internal/api"
	"github.com/nerrad567/cmdbroker/internal/audit"
	"github.com/nerrad567/cmdbroker/internal/auth"
	"github.com/nerrad567/cmdbroker/internal/command"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/config"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/database"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/influxdb"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/logging"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/mqtt"
	"github.com/nerrad567/cmdbroker/internal/relay"
	"github.com/nerrad567/cmdbroker/internal/telemetry"
	"github.com/nerrad567/cmdbroker/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

var errDatabaseDisabled = errors.New("database is disabled in configuration")

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs the command line against args, separated from main for
// testability.
func execute(ctx context.Context, args []string, stdout io.Writer) error {
	if args == nil {
		// cobra falls back to os.Args when args is nil.
		args = []string{}
	}
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	return cmd.ExecuteContext(ctx)
}

// loadConfig reads the configuration from path, falling back to
// getConfigPath when path is empty.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = getConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// serve runs the broker until ctx is cancelled. Returns nil on clean
// shutdown.
func serve(ctx context.Context, configPath string) error {
	cfg, configPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting cmdbroker",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	// Persistence for pending commands
	store, closeStore, err := openStore(cfg.Queue.PersistencePath)
	if err != nil {
		return fmt.Errorf("opening command store: %w", err)
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			log.Error("error closing command store", "error", closeErr)
		}
	}()

	completed, failed, timeout := cfg.Queue.Retention.Durations()
	queue := command.NewQueue(store,
		command.WithRetention(command.RetentionPolicy{
			Completed:         completed,
			Failed:            failed,
			ProcessingTimeout: timeout,
		}),
		command.WithLogger(log.Component("queue")),
	)

	// Load the saved pending list before anything can enqueue.
	restored, err := queue.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring command queue: %w", err)
	}
	log.Info("command queue ready",
		"restored", restored,
		"persistence", cfg.Queue.PersistencePath,
	)

	// Background workers that must outlive the API during shutdown run
	// under their own context.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers errgroup.Group

	// Command history (optional)
	var (
		db      *database.DB
		history audit.Repository
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		repo := audit.NewSQLiteRepository(db.DB)
		recorder := audit.NewRecorder(repo, log.Component("audit"), audit.DefaultBufferSize)
		queue.AddObserver(recorder)
		workers.Go(func() error {
			recorder.Run(workerCtx)
			return nil
		})
		history = repo
	} else {
		log.Info("command history disabled")
	}

	// MQTT relay (optional)
	var (
		mqttClient *mqtt.Client
		mqttRelay  *relay.Relay
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		var relayErr error
		mqttRelay, relayErr = relay.New(relay.Config{
			Broker:        mqttClient,
			Queue:         queue,
			Topics:        mqttClient.Topics(),
			QoS:           mqttClient.QoS(),
			Ingress:       cfg.MQTT.Ingress,
			StatsInterval: cfg.GetMQTTStatsInterval(),
			Logger:        log.Component("relay"),
		})
		if relayErr != nil {
			return fmt.Errorf("creating MQTT relay: %w", relayErr)
		}
		if startErr := mqttRelay.Start(workerCtx); startErr != nil {
			return fmt.Errorf("starting MQTT relay: %w", startErr)
		}
		// Stop is idempotent; drain calls it before the workers stop.
		defer mqttRelay.Stop()
		queue.AddObserver(mqttRelay)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		reporter, repErr := telemetry.NewReporter(telemetry.Config{
			Writer:   influxClient,
			Queue:    queue,
			Interval: cfg.GetInfluxReportInterval(),
			Logger:   log.Component("telemetry"),
		})
		if repErr != nil {
			return fmt.Errorf("creating telemetry reporter: %w", repErr)
		}
		reporter.Start(workerCtx)
		defer func() {
			log.Info("stopping telemetry reporter")
			reporter.Stop()
		}()
		queue.AddObserver(reporter)
	} else {
		log.Info("InfluxDB disabled")
	}

	apiDeps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		SweepInterval: cfg.GetSweepInterval(),
		Logger:        log,
		Queue:         queue,
		History:       history,
		Version:       version,
	}
	// Typed nil pointers must not reach the interfaces.
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	if influxClient != nil {
		apiDeps.InfluxDB = influxClient
	}
	if db != nil {
		apiDeps.DB = db
	}

	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		_ = server.Close()
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	ingress := []stopper{stopFunc(func() {
		if err := server.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	})}
	if mqttRelay != nil {
		ingress = append(ingress, mqttRelay)
	}
	drain(ingress, stopWorkers, workers.Wait, log)

	// Remaining deferred Close() calls run in reverse order:
	// telemetry, InfluxDB, MQTT, database, command store.
	log.Info("cmdbroker stopped")
	return nil
}

// stopper is anything that stops accepting new commands.
type stopper interface {
	Stop()
}

type stopFunc func()

func (f stopFunc) Stop() { f() }

// drain stops every ingress path in order, then cancels the background
// workers and waits for them. No command can be enqueued once ingress has
// stopped, so the audit recorder sees every lifecycle event.
func drain(ingress []stopper, stopWorkers context.CancelFunc, wait func() error, log *logging.Logger) {
	for _, s := range ingress {
		s.Stop()
	}
	stopWorkers()
	if err := wait(); err != nil {
		log.Error("background worker error", "error", err)
	}
}

// openStore returns the persistence adapter for the configured path and its
// close function. An empty path keeps pending commands in memory only.
func openStore(path string) (command.Store, func() error, error) {
	if path == "" {
		return command.NewMemoryStore(), func() error { return nil }, nil
	}

	fileStore, err := command.OpenFileStore(path)
	if err != nil {
		if errors.Is(err, command.ErrStoreLocked) {
			return nil, nil, fmt.Errorf("%s is owned by another cmdbroker process: %w", path, err)
		}
		return nil, nil, err
	}
	return fileStore, fileStore.Close, nil
}

// openDatabase opens the command history database described by cfg.
func openDatabase(cfg config.DatabaseConfig) (*database.DB, error) {
	if !cfg.Enabled {
		return nil, errDatabaseDisabled
	}
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// mintToken returns a signed bearer token for subject.
func mintToken(cfg *config.Config, subject, roleName string) (string, error) {
	if cfg.Security.JWT.Secret == "" {
		return "", errors.New("security.jwt.secret must be set to mint tokens")
	}

	role, err := auth.ParseRole(roleName)
	if err != nil {
		return "", err
	}

	token, err := auth.GenerateAccessToken(subject, role, cfg.Security.JWT.Secret, cfg.GetTokenTTL())
	if err != nil {
		return "", fmt.Errorf("minting token: %w", err)
	}
	return token, nil
}

// getConfigPath returns the configuration file path.
// Uses CMDBROKER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CMDBROKER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the enabled infrastructure connections are healthy.
// Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
