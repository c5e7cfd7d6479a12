package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/carebridge/followcall/internal/archive"
	"github.com/carebridge/followcall/internal/executor"
	"github.com/carebridge/followcall/internal/orders"
	"github.com/carebridge/followcall/internal/scheduler"
	"github.com/carebridge/followcall/internal/store"
	"github.com/carebridge/followcall/internal/util"
	"github.com/carebridge/followcall/internal/worker"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for followcall state data
	DefaultStateDir = "/var/lib/followcall"
	// DefaultArchiveFileName is the default SQLite archive filename
	DefaultArchiveFileName = "followcall.db"
	// DefaultRedisAddr is the default Redis address
	DefaultRedisAddr = "localhost:6379"
	// DefaultWorkerCount is the default number of concurrent call workers
	DefaultWorkerCount = 4
	// DefaultSweepSchedule is the default cron schedule for the stale-claim sweep
	DefaultSweepSchedule = "*/5 * * * *"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping followcall with configured modules")
	if err := run(ctx, flags); err != nil {
		slog.Error("followcall failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("followcall exited successfully")
}

// Config holds environment configuration
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ArchiveDSN    string
	StateDir      string
	OrdersFile    string
	PollInterval  time.Duration
	ClaimLimit    int
	Workers       int
	SweepCron     string
	TwilioSID     string
	TwilioToken   string
	CallerID      string
	TrunkSIP      string
	AgentURL      string
}

// Flags holds command line flag values
type Flags struct {
	redisAddr     *string
	redisPassword *string
	redisDB       *int
	archiveDSN    *string
	stateDir      *string
	ordersFile    *string
	pollInterval  *time.Duration
	claimLimit    *int
	workers       *int
	sweepCron     *string
	twilioSID     *string
	twilioToken   *string
	callerID      *string
	trunkSIP      *string
	agentURL      *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       util.ParseIntEnv("REDIS_DB", 0),
		ArchiveDSN:    os.Getenv("ARCHIVE_DSN"),
		StateDir:      os.Getenv("FOLLOWCALL_STATE_DIR"),
		OrdersFile:    os.Getenv("ORDERS_FILE"),
		PollInterval:  util.ParseDurationEnv("POLL_INTERVAL", worker.DefaultPollInterval),
		ClaimLimit:    util.ParseIntEnv("CLAIM_LIMIT", worker.DefaultClaimLimit),
		Workers:       util.ParseIntEnv("CALL_WORKERS", DefaultWorkerCount),
		SweepCron:     os.Getenv("STALE_SWEEP_SCHEDULE"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		CallerID:      os.Getenv("TWILIO_CALLER_ID"),
		TrunkSIP:      os.Getenv("TWILIO_TRUNK_SIP"),
		AgentURL:      os.Getenv("VOICE_AGENT_URL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FOLLOWCALL_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("FOLLOWCALL_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	if config.RedisAddr == "" {
		config.RedisAddr = DefaultRedisAddr
		slog.Debug("No REDIS_ADDR set, using default", "redis_addr", config.RedisAddr)
	}

	// If no archive DSN is provided, default to SQLite in the state directory
	if config.ArchiveDSN == "" {
		config.ArchiveDSN = filepath.Join(config.StateDir, DefaultArchiveFileName)
		slog.Debug("No archive DSN provided, defaulting to SQLite", "sqlite_path", config.ArchiveDSN)
	}

	if config.SweepCron == "" {
		config.SweepCron = DefaultSweepSchedule
	}

	slog.Debug("environment variables loaded",
		"REDIS_ADDR", config.RedisAddr,
		"REDIS_PASSWORD_SET", config.RedisPassword != "",
		"REDIS_DB", config.RedisDB,
		"ARCHIVE_DSN_SET", config.ArchiveDSN != "",
		"FOLLOWCALL_STATE_DIR", config.StateDir,
		"ORDERS_FILE", config.OrdersFile,
		"POLL_INTERVAL", config.PollInterval,
		"CLAIM_LIMIT", config.ClaimLimit,
		"CALL_WORKERS", config.Workers,
		"STALE_SWEEP_SCHEDULE", config.SweepCron,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"VOICE_AGENT_URL_SET", config.AgentURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		redisAddr:     flag.String("redis-addr", config.RedisAddr, "Redis server address (overrides $REDIS_ADDR)"),
		redisPassword: flag.String("redis-password", config.RedisPassword, "Redis password (overrides $REDIS_PASSWORD)"),
		redisDB:       flag.Int("redis-db", config.RedisDB, "Redis database number (overrides $REDIS_DB)"),
		archiveDSN:    flag.String("archive-dsn", config.ArchiveDSN, "archive database DSN, SQLite path or postgres:// URL (overrides $ARCHIVE_DSN)"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for followcall data (overrides $FOLLOWCALL_STATE_DIR)"),
		ordersFile:    flag.String("orders-file", config.OrdersFile, "JSON file of discharge order definitions (overrides $ORDERS_FILE)"),
		pollInterval:  flag.Duration("poll-interval", config.PollInterval, "daemon poll interval for due calls (overrides $POLL_INTERVAL)"),
		claimLimit:    flag.Int("claim-limit", config.ClaimLimit, "maximum due calls claimed per poll (overrides $CLAIM_LIMIT)"),
		workers:       flag.Int("workers", config.Workers, "number of concurrent call workers (overrides $CALL_WORKERS)"),
		sweepCron:     flag.String("sweep-cron", config.SweepCron, "cron schedule for the stale-claim sweep (overrides $STALE_SWEEP_SCHEDULE)"),
		twilioSID:     flag.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:   flag.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		callerID:      flag.String("caller-id", config.CallerID, "outbound caller ID (overrides $TWILIO_CALLER_ID)"),
		trunkSIP:      flag.String("trunk-sip", config.TrunkSIP, "SIP trunk domain for agent legs (overrides $TWILIO_TRUNK_SIP)"),
		agentURL:      flag.String("agent-url", config.AgentURL, "voice agent webhook URL (overrides $VOICE_AGENT_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"redisAddr", *flags.redisAddr,
		"redisDB", *flags.redisDB,
		"archiveDSN_set", *flags.archiveDSN != "",
		"stateDir", *flags.stateDir,
		"ordersFile", *flags.ordersFile,
		"pollInterval", *flags.pollInterval,
		"claimLimit", *flags.claimLimit,
		"workers", *flags.workers,
		"sweepCron", *flags.sweepCron,
		"twilioSIDSet", *flags.twilioSID != "",
		"agentURL_set", *flags.agentURL != "")

	return flags
}

// run wires the modules together and blocks until the context is cancelled.
func run(ctx context.Context, flags Flags) error {
	st, err := store.NewRedisStore(ctx,
		store.WithAddr(*flags.redisAddr),
		store.WithPassword(*flags.redisPassword),
		store.WithDB(*flags.redisDB),
	)
	if err != nil {
		return err
	}
	defer st.Close()

	arch, err := openArchive(flags)
	if err != nil {
		// The archive is a secondary copy of call records; Redis remains the
		// source of truth, so a missing archive degrades rather than aborts.
		slog.Warn("Archive unavailable, continuing without it", "error", err)
		arch = nil
	} else {
		defer arch.Close()
	}

	registry, err := loadOrders(flags)
	if err != nil {
		return err
	}
	slog.Info("Discharge order registry loaded", "orders", registry.Len())

	platform, err := executor.NewTwilioPlatform(buildPlatformOptions(flags)...)
	if err != nil {
		return err
	}

	sched := scheduler.NewCallScheduler(st, registry)
	exec := executor.NewCallExecutor(platform)

	runner := worker.NewRunner(st)
	runner.RegisterHandler(store.JobKindExecuteCall, worker.ExecuteCallHandler(st, sched, exec, arch))

	daemon := worker.NewDaemon(st, st, *flags.pollInterval, *flags.claimLimit)

	maintenance, err := worker.NewMaintenance(st, *flags.sweepCron, worker.DefaultStaleThreshold)
	if err != nil {
		return err
	}
	maintenance.Start()
	defer maintenance.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		daemon.Run(ctx)
	}()
	for i := 0; i < *flags.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}
	slog.Info("followcall running", "workers", *flags.workers, "poll_interval", *flags.pollInterval)

	<-ctx.Done()
	slog.Info("Shutdown signal received, draining workers")
	wg.Wait()
	return nil
}

// openArchive picks a backend from the DSN shape: postgres:// URLs and
// key=value DSNs go to PostgreSQL, everything else is a SQLite path.
func openArchive(flags Flags) (archive.Archive, error) {
	dsn := *flags.archiveDSN
	if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "host=") {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL archive", "dsn_set", true)
		return archive.NewPostgresArchive(archive.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite archive", "db_path", dsn)
	return archive.NewSQLiteArchive(archive.WithDSN(dsn))
}

// loadOrders returns the discharge order registry, from file when configured.
func loadOrders(flags Flags) (*orders.Registry, error) {
	if *flags.ordersFile != "" {
		return orders.LoadFromFile(*flags.ordersFile)
	}
	return orders.DefaultRegistry(), nil
}

// buildPlatformOptions constructs voice platform configuration options
func buildPlatformOptions(flags Flags) []executor.Option {
	var opts []executor.Option
	if *flags.twilioSID != "" {
		opts = append(opts, executor.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		opts = append(opts, executor.WithAuthToken(*flags.twilioToken))
	}
	if *flags.callerID != "" {
		opts = append(opts, executor.WithCallerID(*flags.callerID))
	}
	if *flags.trunkSIP != "" {
		opts = append(opts, executor.WithTrunkSIP(*flags.trunkSIP))
	}
	if *flags.agentURL != "" {
		opts = append(opts, executor.WithAgentURL(*flags.agentURL))
	}
	return opts
}
