package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voicetel/appointment-reminder/internal/logging"
	"github.com/voicetel/appointment-reminder/internal/models"
	"github.com/voicetel/appointment-reminder/internal/state"
)

// Source yields the current appointments and customers.
type Source interface {
	FetchAppointments(ctx context.Context) ([]models.Appointment, error)
	FetchCustomers(ctx context.Context) ([]models.Customer, error)
}

// Dispatcher sends a single reminder and returns once it has been accepted
// or rejected.
type Dispatcher interface {
	Send(ctx context.Context, r models.Reminder) error
}

type StateStore interface {
	Save(set state.Set) error
}

// History is an optional audit trail of attempts and cycles.
type History interface {
	RecordReminder(ctx context.Context, rec models.ReminderRecord) error
	RecordCycle(ctx context.Context, startedAt time.Time, stats *models.CycleStats) error
}

type Metrics interface {
	CycleFinished(aborted bool, d time.Duration, notified int)
	Decision(decision string)
	Dispatch(status string)
	AppointmentError()
	PersistFailed()
}

type Notifier struct {
	source     Source
	dispatcher Dispatcher
	store      StateStore
	history    History
	metrics    Metrics
	logger     *logging.Logger
	now        func() time.Time
	dryRun     bool
}

type Option func(*Notifier)

func WithHistory(h History) Option {
	return func(n *Notifier) { n.history = h }
}

func WithMetrics(m Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// WithDryRun makes eligible appointments log and record history only.
func WithDryRun(dryRun bool) Option {
	return func(n *Notifier) { n.dryRun = dryRun }
}

func New(source Source, dispatcher Dispatcher, store StateStore, logger *logging.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		source:     source,
		dispatcher: dispatcher,
		store:      store,
		history:    nopHistory{},
		metrics:    nopMetrics{},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logging.Nop()
	}
	return n
}

// RunCycle performs one fetch, classify, dispatch and persist pass. It takes
// ownership of notified and returns the set to use for the next cycle. When
// a fetch fails the cycle is aborted, notified is returned untouched and
// nothing is persisted.
func (n *Notifier) RunCycle(ctx context.Context, notified state.Set) (state.Set, *models.CycleStats, error) {
	startedAt := n.now()
	stats := &models.CycleStats{CycleID: uuid.NewString()}
	log := n.logger.With("cycle_id", stats.CycleID)

	appointments, err := n.source.FetchAppointments(ctx)
	if err != nil {
		n.abort(stats, startedAt)
		return notified, stats, fmt.Errorf("failed to get appointments: %w", err)
	}
	customers, err := n.source.FetchCustomers(ctx)
	if err != nil {
		n.abort(stats, startedAt)
		return notified, stats, fmt.Errorf("failed to get customers: %w", err)
	}

	directory := make(map[int]models.Customer, len(customers))
	for _, c := range customers {
		directory[c.ID] = c
	}

	log.Debug("Fetched appointments", "appointments", len(appointments), "customers", len(customers))

	working := notified.Clone()
	now := n.now()

	for _, appt := range appointments {
		stats.AppointmentsChecked++

		decision, err := Classify(appt, now, working)
		if err != nil {
			log.LogError("Skipping appointment", err, "appointment_id", appt.ID)
			stats.Errors++
			n.metrics.AppointmentError()
			continue
		}
		n.metrics.Decision(decision.String())

		switch decision {
		case AlreadyNotified:
			stats.AlreadyNotified++
		case NotYetDue:
			stats.NotYetDue++
		case Expired:
			stats.Expired++
		case Eligible:
			stats.Eligible++
			n.remind(ctx, log, appt, directory, working, stats)
		}
	}

	if err := n.store.Save(working); err != nil {
		log.LogError("Failed to persist notified appointments", err, "notified", working.Len())
		n.metrics.PersistFailed()
	} else {
		stats.StatePersisted = true
	}

	stats.Duration = n.now().Sub(startedAt)
	n.metrics.CycleFinished(false, stats.Duration, working.Len())
	if err := n.history.RecordCycle(ctx, startedAt, stats); err != nil {
		log.LogError("Failed to record cycle history", err)
	}
	n.logger.LogCycleStats(stats)

	return working, stats, nil
}

// remind resolves the customer and dispatches. The ID is added to working
// only after a successful send.
func (n *Notifier) remind(ctx context.Context, log *logging.Logger, appt models.Appointment, directory map[int]models.Customer, working state.Set, stats *models.CycleStats) {
	customer, ok := directory[appt.CustomerID]
	if !ok {
		log.Error("Customer not found for appointment", "appointment_id", appt.ID, "customer_id", appt.CustomerID)
		stats.Errors++
		n.metrics.AppointmentError()
		return
	}

	start, err := appt.StartTime()
	if err != nil {
		log.LogError("Skipping appointment", err, "appointment_id", appt.ID)
		stats.Errors++
		n.metrics.AppointmentError()
		return
	}

	reminder := models.Reminder{Appointment: appt, Customer: customer, Start: start}
	rec := models.ReminderRecord{
		CycleID:          stats.CycleID,
		AppointmentID:    appt.ID,
		CustomerID:       customer.ID,
		CustomerEmail:    customer.Email,
		AppointmentStart: appt.Start,
	}

	if n.dryRun {
		log.Info("Dry run: would send reminder", "appointment_id", appt.ID, "email", customer.Email, "start", appt.Start)
		rec.Status = models.StatusDryRun
		n.record(ctx, log, rec)
		return
	}

	if err := n.dispatcher.Send(ctx, reminder); err != nil {
		log.LogError("Failed to send reminder", err, "appointment_id", appt.ID, "email", customer.Email)
		stats.DispatchFailures++
		n.metrics.Dispatch(string(models.StatusFailed))
		rec.Status = models.StatusFailed
		rec.ErrorMessage = err.Error()
		n.record(ctx, log, rec)
		return
	}

	working.Add(appt.ID)
	stats.RemindersSent++
	n.metrics.Dispatch(string(models.StatusSent))
	log.Info("Sent reminder", "appointment_id", appt.ID, "email", customer.Email, "start", appt.Start)

	rec.Status = models.StatusSent
	n.record(ctx, log, rec)
}

func (n *Notifier) record(ctx context.Context, log *logging.Logger, rec models.ReminderRecord) {
	rec.AttemptedAt = n.now()
	if err := n.history.RecordReminder(ctx, rec); err != nil {
		log.LogError("Failed to record reminder history", err, "appointment_id", rec.AppointmentID)
	}
}

func (n *Notifier) abort(stats *models.CycleStats, startedAt time.Time) {
	stats.Duration = n.now().Sub(startedAt)
	n.metrics.CycleFinished(true, stats.Duration, 0)
}

type nopHistory struct{}

func (nopHistory) RecordReminder(context.Context, models.ReminderRecord) error { return nil }
func (nopHistory) RecordCycle(context.Context, time.Time, *models.CycleStats) error {
	return nil
}

type nopMetrics struct{}

func (nopMetrics) CycleFinished(bool, time.Duration, int) {}
func (nopMetrics) Decision(string)                        {}
func (nopMetrics) Dispatch(string)                        {}
func (nopMetrics) AppointmentError()                      {}
func (nopMetrics) PersistFailed()                         {}
