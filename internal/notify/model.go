package notify

import (
	"time"

	"github.com/google/uuid"
)

// ChannelKind identifies a delivery mechanism. Email is the only kind in
// production today; the type keeps the stores and dispatcher channel-agnostic.
type ChannelKind string

const (
	ChannelEmail ChannelKind = "email"
)

type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindReminder     Kind = "reminder"
)

type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	StateFailed  State = "failed"
)

// Record is one scheduled notification tied to a slot. Pending records are
// picked up by the scheduler once scheduledAt passes; Sent and Failed are
// terminal.
type Record struct {
	ID          uuid.UUID
	SlotID      uuid.UUID
	Kind        Kind
	Channel     ChannelKind
	ScheduledAt time.Time
	State       State
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SlotInfo is the slice of slot data the message renderer needs.
type SlotInfo struct {
	SlotID           uuid.UUID
	PatientID        uuid.UUID
	PatientName      string
	PractitionerName string
	StartAt          time.Time
}
