package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRecordNotFound = errors.New("notification record not found")
	ErrNoContact      = errors.New("no contact for channel")

	// ErrNoRecipient means the slot no longer has a patient to notify,
	// typically because the booking was cancelled after scheduling.
	// Permanent: the dispatcher burns an attempt instead of retrying
	// the resolve forever.
	ErrNoRecipient = errors.New("slot has no patient to notify")
)

// Store persists notification records. Records are never deleted; terminal
// states stay inspectable for operator reports.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)

	// FetchDue returns pending records with scheduledAt <= now and
	// attempts < maxAttempts, ordered by scheduledAt ascending.
	FetchDue(ctx context.Context, now time.Time, maxAttempts int) ([]Record, error)

	MarkSent(ctx context.Context, id uuid.UUID) error

	// RecordFailure stores the new attempt count and last error; when
	// terminal is set the record moves to Failed.
	RecordFailure(ctx context.Context, id uuid.UUID, attempts int, lastError string, terminal bool) error
}

// ContactRepository resolves a patient's primary address for a channel.
type ContactRepository interface {
	PrimaryContact(ctx context.Context, patientID uuid.UUID, channel ChannelKind) (string, error)
}

// SlotResolver hydrates the slot/patient/practitioner data a message needs.
// Implemented by the agenda service so this package stays decoupled from it.
type SlotResolver interface {
	ResolveSlot(ctx context.Context, slotID uuid.UUID) (*SlotInfo, error)
}
