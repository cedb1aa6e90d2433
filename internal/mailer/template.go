package mailer

import (
	"strings"
	"time"

	"github.com/voicetel/appointment-reminder/internal/models"
)

const (
	TokenAppointmentDatetime = "%APPOINTMENT_DATETIME%"
	TokenFirstName           = "%FIRST_NAME%"
	TokenLastName            = "%LAST_NAME%"
)

// DisplayLayout is how the appointment start appears in emails.
const DisplayLayout = "Monday, January 2, 2006 at 3:04 PM MST"

// FormatStart renders t in loc for humans.
func FormatStart(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}

// Render substitutes the reminder tokens in tmpl.
func Render(tmpl string, r models.Reminder, loc *time.Location) string {
	return strings.NewReplacer(
		TokenAppointmentDatetime, FormatStart(r.Start, loc),
		TokenFirstName, r.Customer.FirstName,
		TokenLastName, r.Customer.LastName,
	).Replace(tmpl)
}
