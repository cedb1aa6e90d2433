package models

import (
	"fmt"
	"time"
)

// StartLayout is the timestamp format used by Easy!Appointments. Values carry
// no zone and are always interpreted as UTC.
const StartLayout = "2006-01-02 15:04:05"

type Appointment struct {
	ID         int    `json:"id"`
	Start      string `json:"start"`
	CustomerID int    `json:"customerId"`
}

// StartTime parses the appointment start as UTC.
func (a Appointment) StartTime() (time.Time, error) {
	t, err := time.ParseInLocation(StartLayout, a.Start, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("appointment %d: malformed start %q: %w", a.ID, a.Start, err)
	}
	return t, nil
}

type Customer struct {
	ID        int    `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

func (c Customer) DisplayName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Reminder is everything the dispatcher needs for a single email.
type Reminder struct {
	Appointment Appointment
	Customer    Customer
	Start       time.Time
}

type ReminderStatus string

const (
	StatusSent   ReminderStatus = "sent"
	StatusFailed ReminderStatus = "failed"
	StatusDryRun ReminderStatus = "dry_run"
)

// ReminderRecord is one row of the reminder history.
type ReminderRecord struct {
	CycleID          string
	AppointmentID    int
	CustomerID       int
	CustomerEmail    string
	AppointmentStart string
	Status           ReminderStatus
	ErrorMessage     string
	AttemptedAt      time.Time
}

type CycleStats struct {
	CycleID             string
	AppointmentsChecked int
	AlreadyNotified     int
	NotYetDue           int
	Expired             int
	Eligible            int
	RemindersSent       int
	DispatchFailures    int
	Errors              int
	StatePersisted      bool
	Duration            time.Duration
}
