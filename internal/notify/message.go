package notify

import "fmt"

// renderMessage builds the fixed subject/body pair for a record kind.
func renderMessage(kind Kind, info *SlotInfo) (subject, body string) {
	date := info.StartAt.Format("02/01/2006")
	hour := info.StartAt.Format("15:04")

	switch kind {
	case KindReminder:
		subject = "Appointment reminder"
		body = fmt.Sprintf(
			"Hello %s,\n\nThis is a reminder of your appointment with %s on %s at %s.\n\nIf you cannot attend, please cancel in advance.",
			info.PatientName, info.PractitionerName, date, hour,
		)
	default:
		subject = "Appointment confirmed"
		body = fmt.Sprintf(
			"Hello %s,\n\nYour appointment with %s has been booked for %s at %s.\n\nSee you then.",
			info.PatientName, info.PractitionerName, date, hour,
		)
	}

	return subject, body
}
