package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/voicetel/appointment-reminder/internal/config"
	"github.com/voicetel/appointment-reminder/internal/database"
	"github.com/voicetel/appointment-reminder/internal/easyappointments"
	"github.com/voicetel/appointment-reminder/internal/logging"
	"github.com/voicetel/appointment-reminder/internal/mailer"
	"github.com/voicetel/appointment-reminder/internal/metrics"
	"github.com/voicetel/appointment-reminder/internal/notifier"
	"github.com/voicetel/appointment-reminder/internal/state"
)

// Version information - these will be set at build time via ldflags
var (
	Version   = "dev"     // Version number
	GitCommit = "unknown" // Git commit hash
	BuildDate = "unknown" // Build date
	GoVersion = "unknown" // Go version used to build
)

// pinger is satisfied by both appointment sources.
type pinger interface {
	notifier.Source
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if cfg.ShowVersion {
		printVersion()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger := logging.NewLogger(cfg.LogFormat, cfg.Debug, nil, Version, GitCommit)
	logger.SetAsDefault()
	logger.Debug("Logging configured")

	// History database
	db, err := database.InitSQLite(cfg.HistoryDB)
	if err != nil {
		logger.LogError("Failed to initialize SQLite", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		logger.LogError("Failed to initialize database schema", err)
		os.Exit(1)
	}

	if cfg.InitDB {
		fmt.Println("Database initialized successfully!")
		os.Exit(0)
	}

	if cfg.Cleanup {
		if err := performCleanup(db, cfg, logger); err != nil {
			logger.LogError("Failed to perform cleanup", err)
			os.Exit(1)
		}
		fmt.Println("Cleanup completed successfully!")
		os.Exit(0)
	}

	if cfg.StatsOnly {
		if err := printStats(db); err != nil {
			logger.LogError("Failed to print stats", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	source, closeSource, err := openSource(cfg)
	if err != nil {
		logger.LogError("Failed to open appointment source", err, "source", cfg.Source)
		os.Exit(1)
	}
	defer closeSource()

	loc, _ := cfg.Location()
	smtpMailer := mailer.NewSMTPMailer(cfg.SMTP, cfg.Email, loc)

	if cfg.CheckConnections {
		if err := checkConnections(cfg, source, smtpMailer, logger); err != nil {
			logger.LogError("Connection check failed", err)
			os.Exit(1)
		}
		fmt.Println("All connections successful!")
		os.Exit(0)
	}

	// A corrupt ledger is fatal: guessing which reminders went out is worse
	// than not running.
	store := state.NewStore(cfg.StateFile)
	notified, err := store.Load()
	if err != nil {
		var corrupt *state.CorruptError
		if errors.As(err, &corrupt) {
			logger.LogError("State file is corrupt", err, "path", corrupt.Path, "line", corrupt.Line)
		} else {
			logger.LogError("Failed to load state file", err, "path", cfg.StateFile)
		}
		os.Exit(1)
	}

	logger.Info("Starting appointment reminders",
		"version", Version,
		"source", cfg.Source,
		"schedule", cfg.Schedule,
		"state_file", cfg.StateFile,
		"notified", notified.Len(),
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Serving metrics", "addr", cfg.MetricsAddr)
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.LogError("Metrics server failed", err, "addr", cfg.MetricsAddr)
			}
		}()
	}

	clock := notifier.RealClock
	n := notifier.New(source, smtpMailer, store, logger,
		notifier.WithHistory(db),
		notifier.WithMetrics(metrics.PrometheusMetrics{}),
		notifier.WithClock(clock.Now),
		notifier.WithDryRun(cfg.DryRun),
	)

	schedule, _ := cfg.CronSchedule()
	opts := []notifier.SchedulerOption{notifier.WithSchedulerClock(clock)}
	if cfg.Once {
		opts = append(opts, notifier.WithMaxCycles(1))
	}

	final := notifier.NewScheduler(n, schedule, logger, opts...).Run(ctx, notified)
	logger.Info("Exiting", "notified", final.Len())
}

func openSource(cfg *config.Config) (pinger, func(), error) {
	switch cfg.Source {
	case config.SourceMySQL:
		eaDB, err := database.ConnectEasyAppointments(cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		return database.NewEasyAppointmentsSource(eaDB), func() { eaDB.Close() }, nil
	default:
		return easyappointments.NewClient(cfg.API), func() {}, nil
	}
}

func printVersion() {
	fmt.Printf("Appointment Reminder\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Go Version: %s\n", GoVersion)
}

func checkConnections(cfg *config.Config, source pinger, m *mailer.SMTPMailer, logger *logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	logger.Info("Testing appointment source...", "source", cfg.Source)
	if err := source.Ping(ctx); err != nil {
		return fmt.Errorf("appointment source check failed: %w", err)
	}
	logger.Info("Appointment source connection successful")

	if cfg.DryRun {
		logger.Info("Dry run: skipping SMTP check")
		return nil
	}

	logger.Info("Testing SMTP server...", "host", cfg.SMTP.Host, "port", cfg.SMTP.Port)
	if err := m.Check(ctx); err != nil {
		return fmt.Errorf("SMTP check failed: %w", err)
	}
	logger.Info("SMTP connection successful")

	return nil
}

func printStats(db *database.DB) error {
	stats, err := db.GetReminderStats()
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	fmt.Printf("\n=== Appointment Reminder Statistics ===\n\n")

	if total, ok := stats["total_attempts"].(int); ok {
		fmt.Printf("Total Attempts: %d\n\n", total)
	}

	if statusMap, ok := stats["by_status"].(map[string]int); ok {
		fmt.Printf("By Status:\n")
		statuses := make([]string, 0, len(statusMap))
		for status := range statusMap {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Printf("  %s: %d\n", status, statusMap[status])
		}
		fmt.Println()
	}

	if sent24h, ok := stats["sent_last_24h"].(int); ok {
		fmt.Printf("Sent in Last 24 Hours: %d\n", sent24h)
	}

	if cycles, ok := stats["cycles_7d"].(int); ok {
		fmt.Printf("Cycles (Last 7 Days): %d\n", cycles)
	}
	if unpersisted, ok := stats["unpersisted_cycles_7d"].(int); ok {
		fmt.Printf("Cycles Without Saved State (Last 7 Days): %d\n", unpersisted)
	}
	if last, ok := stats["last_cycle_at"].(string); ok {
		fmt.Printf("Last Cycle: %s UTC\n", last)
	}

	return nil
}

func performCleanup(db *database.DB, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting history cleanup", "retention_days", cfg.RetentionDays)

	ctx := context.Background()
	deleted, err := database.CleanupOldRecords(ctx, db, cfg.RetentionDays)
	if err != nil {
		return fmt.Errorf("failed to cleanup old history: %w", err)
	}
	logger.Info("Removed old history records", "deleted", deleted)

	took, err := database.VacuumDatabase(ctx, db)
	if err != nil {
		return err
	}
	logger.Info("Database vacuum completed", "duration", took.String())

	return nil
}
