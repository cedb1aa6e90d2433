package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetel/appointment-reminder/internal/config"
	"github.com/voicetel/appointment-reminder/internal/easyappointments"
	"github.com/voicetel/appointment-reminder/internal/models"
	"github.com/voicetel/appointment-reminder/internal/state"
)

type fakeSource struct {
	appointments    []models.Appointment
	customers       []models.Customer
	appointmentsErr error
	customersErr    error
}

func (f *fakeSource) FetchAppointments(context.Context) ([]models.Appointment, error) {
	return f.appointments, f.appointmentsErr
}

func (f *fakeSource) FetchCustomers(context.Context) ([]models.Customer, error) {
	return f.customers, f.customersErr
}

type fakeDispatcher struct {
	sent []models.Reminder
	err  error
}

func (f *fakeDispatcher) Send(_ context.Context, r models.Reminder) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, r)
	return nil
}

type memStore struct {
	saves []state.Set
	err   error
}

func (m *memStore) Save(set state.Set) error {
	m.saves = append(m.saves, set.Clone())
	return m.err
}

type memHistory struct {
	records []models.ReminderRecord
	cycles  []*models.CycleStats
}

func (h *memHistory) RecordReminder(_ context.Context, rec models.ReminderRecord) error {
	h.records = append(h.records, rec)
	return nil
}

func (h *memHistory) RecordCycle(_ context.Context, _ time.Time, stats *models.CycleStats) error {
	h.cycles = append(h.cycles, stats)
	return nil
}

func customer(id int) models.Customer {
	return models.Customer{ID: id, FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"}
}

func fixedClock() func() time.Time {
	return func() time.Time { return now }
}

func TestEligibleIsSentAndPersisted(t *testing.T) {
	appt := appointmentAt(1, now.Add(48*time.Hour))
	src := &fakeSource{appointments: []models.Appointment{appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	disp := &fakeDispatcher{}
	store := &memStore{}
	hist := &memHistory{}

	n := New(src, disp, store, nil, WithClock(fixedClock()), WithHistory(hist))
	next, stats, err := n.RunCycle(context.Background(), state.NewSet())
	require.NoError(t, err)

	require.Len(t, disp.sent, 1)
	assert.Equal(t, "grace@example.com", disp.sent[0].Customer.Email)
	assert.Equal(t, now.Add(48*time.Hour), disp.sent[0].Start)
	assert.True(t, next.Contains(1))
	require.Len(t, store.saves, 1)
	assert.True(t, store.saves[0].Contains(1))
	assert.Equal(t, 1, stats.RemindersSent)
	assert.True(t, stats.StatePersisted)

	require.Len(t, hist.records, 1)
	assert.Equal(t, models.StatusSent, hist.records[0].Status)
	assert.Equal(t, stats.CycleID, hist.records[0].CycleID)
	assert.Len(t, hist.cycles, 1)
}

func TestFarFutureIsIgnored(t *testing.T) {
	appt := appointmentAt(2, now.Add(5*24*time.Hour))
	src := &fakeSource{appointments: []models.Appointment{appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	disp := &fakeDispatcher{}
	store := &memStore{}

	next, stats, err := New(src, disp, store, nil, WithClock(fixedClock())).RunCycle(context.Background(), state.NewSet())
	require.NoError(t, err)
	assert.Empty(t, disp.sent)
	assert.Equal(t, 0, next.Len())
	assert.Equal(t, 1, stats.NotYetDue)
}

func TestAlreadyNotifiedIsNotResent(t *testing.T) {
	appt := appointmentAt(3, now.Add(24*time.Hour))
	src := &fakeSource{appointments: []models.Appointment{appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	disp := &fakeDispatcher{}
	store := &memStore{}

	next, stats, err := New(src, disp, store, nil, WithClock(fixedClock())).RunCycle(context.Background(), state.NewSet(3))
	require.NoError(t, err)
	assert.Empty(t, disp.sent)
	assert.Equal(t, []int{3}, next.IDs())
	assert.Equal(t, 1, stats.AlreadyNotified)
}

func TestFetchFailureAbortsCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := easyappointments.NewClient(config.APIConfig{Root: srv.URL + "/", Key: "k", Timeout: config.Duration{Duration: time.Second}})

	path := filepath.Join(t.TempDir(), "reminders.txt")
	require.NoError(t, state.Save(path, state.NewSet(7, 8)))
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)

	initial, err := state.Load(path)
	require.NoError(t, err)

	disp := &fakeDispatcher{}
	n := New(client, disp, state.NewStore(path), nil, WithClock(fixedClock()))
	next, _, err := n.RunCycle(context.Background(), initial)
	require.Error(t, err)
	assert.True(t, easyappointments.IsStatus(err, http.StatusInternalServerError))

	assert.Equal(t, initial, next)
	assert.Empty(t, disp.sent)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	infoAfter, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), infoAfter.ModTime())
}

func TestCustomerFetchFailureAbortsCycle(t *testing.T) {
	src := &fakeSource{
		appointments: []models.Appointment{appointmentAt(1, now.Add(time.Hour))},
		customersErr: errors.New("timeout"),
	}
	disp := &fakeDispatcher{}
	store := &memStore{}

	_, _, err := New(src, disp, store, nil, WithClock(fixedClock())).RunCycle(context.Background(), state.NewSet())
	require.Error(t, err)
	assert.Empty(t, disp.sent)
	assert.Empty(t, store.saves)
}

func TestDispatchFailureIsRetriedNextCycle(t *testing.T) {
	appt := appointmentAt(5, now.Add(12*time.Hour))
	src := &fakeSource{appointments: []models.Appointment{appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	disp := &fakeDispatcher{err: errors.New("550 mailbox unavailable")}
	store := &memStore{}
	hist := &memHistory{}
	n := New(src, disp, store, nil, WithClock(fixedClock()), WithHistory(hist))

	next, stats, err := n.RunCycle(context.Background(), state.NewSet())
	require.NoError(t, err)
	assert.False(t, next.Contains(5))
	assert.Equal(t, 1, stats.DispatchFailures)
	assert.Equal(t, models.StatusFailed, hist.records[0].Status)
	assert.Contains(t, hist.records[0].ErrorMessage, "550")

	d, err := Classify(appt, now, next)
	require.NoError(t, err)
	assert.Equal(t, Eligible, d)

	disp.err = nil
	next, stats, err = n.RunCycle(context.Background(), next)
	require.NoError(t, err)
	assert.True(t, next.Contains(5))
	assert.Equal(t, 1, stats.RemindersSent)
	assert.Len(t, disp.sent, 1)
}

func TestPerAppointmentErrorsDoNotStopCycle(t *testing.T) {
	good := appointmentAt(1, now.Add(24*time.Hour))
	orphan := appointmentAt(2, now.Add(24*time.Hour))
	orphan.CustomerID = 999
	broken := models.Appointment{ID: 3, Start: "not a date", CustomerID: good.CustomerID}
	later := appointmentAt(4, now.Add(30*time.Hour))
	later.CustomerID = good.CustomerID

	src := &fakeSource{
		appointments: []models.Appointment{good, orphan, broken, later},
		customers:    []models.Customer{customer(good.CustomerID)},
	}
	disp := &fakeDispatcher{}

	next, stats, err := New(src, disp, &memStore{}, nil, WithClock(fixedClock())).RunCycle(context.Background(), state.NewSet())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, next.IDs())
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, 4, stats.AppointmentsChecked)
	// fetch order is preserved
	require.Len(t, disp.sent, 2)
	assert.Equal(t, 1, disp.sent[0].Appointment.ID)
	assert.Equal(t, 4, disp.sent[1].Appointment.ID)
}

func TestDuplicateAppointmentSentOnce(t *testing.T) {
	appt := appointmentAt(6, now.Add(24*time.Hour))
	src := &fakeSource{appointments: []models.Appointment{appt, appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	disp := &fakeDispatcher{}

	next, stats, err := New(src, disp, &memStore{}, nil, WithClock(fixedClock())).RunCycle(context.Background(), state.NewSet())
	require.NoError(t, err)
	assert.Len(t, disp.sent, 1)
	assert.Equal(t, 1, next.Len())
	assert.Equal(t, 1, stats.AlreadyNotified)
}

func TestPersistFailureKeepsInMemoryState(t *testing.T) {
	appt := appointmentAt(1, now.Add(24*time.Hour))
	src := &fakeSource{appointments: []models.Appointment{appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	disp := &fakeDispatcher{}
	store := &memStore{err: errors.New("disk full")}
	n := New(src, disp, store, nil, WithClock(fixedClock()))

	next, stats, err := n.RunCycle(context.Background(), state.NewSet())
	require.NoError(t, err)
	assert.False(t, stats.StatePersisted)
	assert.True(t, next.Contains(1))

	// next cycle in the same process does not resend
	_, _, err = n.RunCycle(context.Background(), next)
	require.NoError(t, err)
	assert.Len(t, disp.sent, 1)
}

func TestExpiredIsNeverRecorded(t *testing.T) {
	appt := appointmentAt(1, now.Add(-time.Minute))
	src := &fakeSource{appointments: []models.Appointment{appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	disp := &fakeDispatcher{}

	next, stats, err := New(src, disp, &memStore{}, nil, WithClock(fixedClock())).RunCycle(context.Background(), state.NewSet())
	require.NoError(t, err)
	assert.Equal(t, 0, next.Len())
	assert.Equal(t, 1, stats.Expired)
	assert.Empty(t, disp.sent)
}

func TestDryRunSendsNothing(t *testing.T) {
	appt := appointmentAt(1, now.Add(24*time.Hour))
	src := &fakeSource{appointments: []models.Appointment{appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	disp := &fakeDispatcher{}
	hist := &memHistory{}

	next, stats, err := New(src, disp, &memStore{}, nil, WithClock(fixedClock()), WithDryRun(true), WithHistory(hist)).
		RunCycle(context.Background(), state.NewSet())
	require.NoError(t, err)
	assert.Empty(t, disp.sent)
	assert.Equal(t, 0, next.Len())
	assert.Equal(t, 1, stats.Eligible)
	require.Len(t, hist.records, 1)
	assert.Equal(t, models.StatusDryRun, hist.records[0].Status)
}

func TestInputSetIsNotMutated(t *testing.T) {
	appt := appointmentAt(1, now.Add(24*time.Hour))
	src := &fakeSource{appointments: []models.Appointment{appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	initial := state.NewSet(99)

	next, _, err := New(src, &fakeDispatcher{}, &memStore{}, nil, WithClock(fixedClock())).RunCycle(context.Background(), initial)
	require.NoError(t, err)
	assert.Equal(t, []int{99}, initial.IDs())
	assert.Equal(t, []int{1, 99}, next.IDs())
}

func TestEndToEndWithStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.txt")
	appt := appointmentAt(10, now.Add(2*24*time.Hour))
	src := &fakeSource{appointments: []models.Appointment{appt}, customers: []models.Customer{customer(appt.CustomerID)}}
	disp := &fakeDispatcher{}

	initial, err := state.Load(path)
	require.NoError(t, err)
	_, _, err = New(src, disp, state.NewStore(path), nil, WithClock(fixedClock())).RunCycle(context.Background(), initial)
	require.NoError(t, err)

	// a restarted process reads the persisted ledger and does not resend
	reloaded, err := state.Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains(10))

	_, _, err = New(src, disp, state.NewStore(path), nil, WithClock(fixedClock())).RunCycle(context.Background(), reloaded)
	require.NoError(t, err)
	assert.Len(t, disp.sent, 1)
}
