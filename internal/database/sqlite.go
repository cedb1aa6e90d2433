package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voicetel/appointment-reminder/internal/models"
)

// timeFormat matches SQLite's datetime() output so range filters compare
// lexically.
const timeFormat = "2006-01-02 15:04:05"

// DB is the local reminder history. It is an audit trail only; the
// notified-ID ledger lives in the state file.
type DB struct {
	*sql.DB
}

func InitSQLite(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}

func InitSchema(db *DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reminders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL,
		appointment_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL,
		customer_email TEXT,
		appointment_start TEXT,
		status TEXT NOT NULL,
		error_message TEXT,
		attempted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reminders_appointment ON reminders(appointment_id);
	CREATE INDEX IF NOT EXISTS idx_reminders_attempted ON reminders(attempted_at);

	CREATE TABLE IF NOT EXISTS cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL UNIQUE,
		started_at TEXT NOT NULL,
		appointments_checked INTEGER DEFAULT 0,
		eligible INTEGER DEFAULT 0,
		reminders_sent INTEGER DEFAULT 0,
		dispatch_failures INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0,
		state_persisted INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// RecordReminder stores one dispatch attempt.
func (db *DB) RecordReminder(ctx context.Context, rec models.ReminderRecord) error {
	query := `
		INSERT INTO reminders (
			cycle_id,
			appointment_id,
			customer_id,
			customer_email,
			appointment_start,
			status,
			error_message,
			attempted_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		rec.CycleID,
		rec.AppointmentID,
		rec.CustomerID,
		rec.CustomerEmail,
		rec.AppointmentStart,
		string(rec.Status),
		rec.ErrorMessage,
		rec.AttemptedAt.UTC().Format(timeFormat),
	)
	return err
}

// RecordCycle stores the summary of a finished cycle.
func (db *DB) RecordCycle(ctx context.Context, startedAt time.Time, stats *models.CycleStats) error {
	query := `
		INSERT INTO cycles (
			cycle_id,
			started_at,
			appointments_checked,
			eligible,
			reminders_sent,
			dispatch_failures,
			errors,
			state_persisted,
			duration_ms
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		stats.CycleID,
		startedAt.UTC().Format(timeFormat),
		stats.AppointmentsChecked,
		stats.Eligible,
		stats.RemindersSent,
		stats.DispatchFailures,
		stats.Errors,
		stats.StatePersisted,
		stats.Duration.Milliseconds(),
	)
	return err
}

// RemindersFor returns the recorded attempts for one appointment, oldest first.
func (db *DB) RemindersFor(ctx context.Context, appointmentID int) ([]models.ReminderRecord, error) {
	query := `
		SELECT cycle_id, appointment_id, customer_id, COALESCE(customer_email, ''),
			COALESCE(appointment_start, ''), status, COALESCE(error_message, ''), attempted_at
		FROM reminders
		WHERE appointment_id = ?
		ORDER BY id ASC
	`

	rows, err := db.QueryContext(ctx, query, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ReminderRecord
	for rows.Next() {
		var r models.ReminderRecord
		var status, attemptedAt string
		if err := rows.Scan(&r.CycleID, &r.AppointmentID, &r.CustomerID, &r.CustomerEmail,
			&r.AppointmentStart, &status, &r.ErrorMessage, &attemptedAt); err != nil {
			return nil, err
		}
		r.Status = models.ReminderStatus(status)
		r.AttemptedAt, err = time.ParseInLocation(timeFormat, attemptedAt, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("bad attempted_at %q: %w", attemptedAt, err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetReminderStats returns statistics about reminder history
func (db *DB) GetReminderStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	err := db.QueryRow("SELECT COUNT(*) FROM reminders").Scan(&total)
	if err != nil {
		return nil, err
	}
	stats["total_attempts"] = total

	statusQuery := `
		SELECT status, COUNT(*)
		FROM reminders
		GROUP BY status
	`
	rows, err := db.Query(statusQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statusCounts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		statusCounts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["by_status"] = statusCounts

	var last24h int
	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM reminders
		WHERE status = 'sent'
		AND attempted_at > datetime('now', '-24 hours')
	`).Scan(&last24h)
	if err != nil {
		return nil, err
	}
	stats["sent_last_24h"] = last24h

	var cycles7d, failedCycles7d int
	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN state_persisted = 0 THEN 1 ELSE 0 END), 0)
		FROM cycles
		WHERE started_at > datetime('now', '-7 days')
	`).Scan(&cycles7d, &failedCycles7d)
	if err != nil {
		return nil, err
	}
	stats["cycles_7d"] = cycles7d
	stats["unpersisted_cycles_7d"] = failedCycles7d

	var lastCycle sql.NullString
	err = db.QueryRow(`SELECT MAX(started_at) FROM cycles`).Scan(&lastCycle)
	if err != nil {
		return nil, err
	}
	if lastCycle.Valid {
		stats["last_cycle_at"] = lastCycle.String
	}

	return stats, nil
}
