package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetel/appointment-reminder/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := InitSQLite(filepath.Join(t.TempDir(), "history", "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, InitSchema(db))
	return db
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, InitSchema(db))
}

func TestRecordAndReadReminders(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.RecordReminder(ctx, models.ReminderRecord{
		CycleID: "c1", AppointmentID: 5, CustomerID: 9, CustomerEmail: "a@example.com",
		AppointmentStart: "2026-10-19 10:00:00", Status: models.StatusFailed,
		ErrorMessage: "smtp down", AttemptedAt: at,
	}))
	require.NoError(t, db.RecordReminder(ctx, models.ReminderRecord{
		CycleID: "c2", AppointmentID: 5, CustomerID: 9, Status: models.StatusSent,
		AttemptedAt: at.Add(time.Hour),
	}))

	records, err := db.RemindersFor(ctx, 5)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.StatusFailed, records[0].Status)
	assert.Equal(t, "smtp down", records[0].ErrorMessage)
	assert.Equal(t, at, records[0].AttemptedAt)
	assert.Equal(t, models.StatusSent, records[1].Status)
}

func TestGetReminderStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, status := range []models.ReminderStatus{models.StatusSent, models.StatusSent, models.StatusFailed} {
		require.NoError(t, db.RecordReminder(ctx, models.ReminderRecord{
			CycleID: "c", AppointmentID: i, Status: status, AttemptedAt: now.Add(-time.Minute),
		}))
	}
	require.NoError(t, db.RecordCycle(ctx, now.Add(-time.Minute), &models.CycleStats{
		CycleID: "c", RemindersSent: 2, DispatchFailures: 1, StatePersisted: true, Duration: time.Second,
	}))

	stats, err := db.GetReminderStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats["total_attempts"])
	assert.Equal(t, map[string]int{"sent": 2, "failed": 1}, stats["by_status"])
	assert.Equal(t, 2, stats["sent_last_24h"])
	assert.Equal(t, 1, stats["cycles_7d"])
	assert.Equal(t, 0, stats["unpersisted_cycles_7d"])
	assert.Contains(t, stats, "last_cycle_at")
}

func TestCleanupOldRecords(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.RecordReminder(ctx, models.ReminderRecord{CycleID: "old", AppointmentID: 1, Status: models.StatusSent, AttemptedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, db.RecordReminder(ctx, models.ReminderRecord{CycleID: "new", AppointmentID: 2, Status: models.StatusSent, AttemptedAt: now.AddDate(0, 0, -1)}))
	require.NoError(t, db.RecordCycle(ctx, now.AddDate(0, 0, -40), &models.CycleStats{CycleID: "old"}))

	deleted, err := CleanupOldRecords(ctx, db, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	old, err := db.RemindersFor(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, old)
	recent, err := db.RemindersFor(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	_, err = VacuumDatabase(ctx, db)
	assert.NoError(t, err)
}
