package database

import (
	"context"
	"fmt"
	"time"
)

// CleanupOldRecords removes history rows older than retentionDays and returns
// how many rows were deleted. The state file is never touched.
func CleanupOldRecords(ctx context.Context, db *DB, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 365
	}

	result, err := db.ExecContext(ctx, `
		DELETE FROM reminders
		WHERE attempted_at < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	reminders, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	result, err = db.ExecContext(ctx, `
		DELETE FROM cycles
		WHERE started_at < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return reminders, err
	}
	cycles, err := result.RowsAffected()
	if err != nil {
		return reminders, err
	}

	return reminders + cycles, nil
}

// VacuumDatabase performs SQLite VACUUM to reclaim disk space
func VacuumDatabase(ctx context.Context, db *DB) (time.Duration, error) {
	start := time.Now()
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return 0, fmt.Errorf("vacuum failed: %w", err)
	}
	return time.Since(start), nil
}
