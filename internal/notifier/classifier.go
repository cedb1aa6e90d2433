package notifier

import (
	"time"

	"github.com/voicetel/appointment-reminder/internal/models"
	"github.com/voicetel/appointment-reminder/internal/state"
)

// ReminderWindow is how far ahead of an appointment a reminder may go out.
const ReminderWindow = 72 * time.Hour

type Decision int

const (
	AlreadyNotified Decision = iota
	NotYetDue
	Expired
	Eligible
)

func (d Decision) String() string {
	switch d {
	case AlreadyNotified:
		return "already_notified"
	case NotYetDue:
		return "not_yet_due"
	case Expired:
		return "expired"
	case Eligible:
		return "eligible"
	}
	return "unknown"
}

// Classify decides what to do with one appointment. It has no side effects.
// The only error is a start timestamp that cannot be parsed, and that is
// only checked for appointments not already in notified.
func Classify(appt models.Appointment, now time.Time, notified state.Set) (Decision, error) {
	if notified.Contains(appt.ID) {
		return AlreadyNotified, nil
	}

	start, err := appt.StartTime()
	if err != nil {
		return 0, err
	}

	until := start.Sub(now)
	switch {
	case until <= 0:
		return Expired, nil
	case until > ReminderWindow:
		return NotYetDue, nil
	}
	return Eligible, nil
}
