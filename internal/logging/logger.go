package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/voicetel/appointment-reminder/internal/models"
)

type Logger struct {
	*slog.Logger
	debug bool
}

// NewLogger creates a new logger based on the configuration
func NewLogger(format string, debug bool, output io.Writer, version, commit string) *Logger {
	if output == nil {
		output = os.Stdout
	}

	var handler slog.Handler

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	var application string
	if len(os.Args) > 0 {
		application = filepath.Base(os.Args[0])
	}

	logger := slog.New(handler).With(
		slog.String("service", application),
		slog.String("version", version),
		slog.String("commit", commit),
	)

	return &Logger{
		Logger: logger,
		debug:  debug,
	}
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a child logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), debug: l.debug}
}

// SetAsDefault sets this logger as the default slog logger
func (l *Logger) SetAsDefault() {
	slog.SetDefault(l.Logger)
	if l.debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		slog.SetLogLoggerLevel(slog.LevelInfo)
	}
}

// LogCycleStats logs the outcome of one reminder cycle
func (l *Logger) LogCycleStats(stats *models.CycleStats) {
	l.Info("cycle_completed",
		"cycle_id", stats.CycleID,
		"appointments_checked", stats.AppointmentsChecked,
		"already_notified", stats.AlreadyNotified,
		"not_yet_due", stats.NotYetDue,
		"expired", stats.Expired,
		"eligible", stats.Eligible,
		"reminders_sent", stats.RemindersSent,
		"dispatch_failures", stats.DispatchFailures,
		"errors", stats.Errors,
		"state_persisted", stats.StatePersisted,
		"duration", stats.Duration.String(),
	)
}

// LogError logs an error with context
func (l *Logger) LogError(msg string, err error, args ...any) {
	allArgs := append([]any{slog.String("error", err.Error())}, args...)
	l.Error(msg, allArgs...)
}
