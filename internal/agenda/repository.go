package agenda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound         = errors.New("slot not found")
	ErrTemplateNotFound     = errors.New("agenda template not found")
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrLocationNotFound     = errors.New("location not found")

	ErrPractitionerInactive = errors.New("practitioner is inactive")
	ErrPatientInactive      = errors.New("patient is inactive")
	ErrLocationInactive     = errors.New("location is inactive")

	// ErrSlotUnavailable means the slot is not Libre or a concurrent
	// booking won the race. Callers should re-query available slots.
	ErrSlotUnavailable = errors.New("slot is not available for booking")

	// ErrSlotExists signals a duplicate (practitioner, start) on insert;
	// generation counts it as a skipped duplicate.
	ErrSlotExists = errors.New("slot already exists for practitioner at that time")

	// ErrSlotOverlap rejects a slot whose time range intersects another
	// slot of the same practitioner.
	ErrSlotOverlap = errors.New("slot overlaps an existing slot for practitioner")

	// ErrStateConflict means a conditional state update matched no row
	// because the slot changed state concurrently.
	ErrStateConflict = errors.New("slot state changed concurrently")
)

// ValidationError rejects malformed input at the boundary. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SlotStore persists slots. Book and Transition must be atomic
// check-and-set operations: they succeed only if the slot is still in the
// expected source state, so two racing bookings can never both win.
type SlotStore interface {
	CreateSlot(ctx context.Context, slot *Slot) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)

	// HasOverlap reports whether any slot of the practitioner intersects
	// [startAt, endAt), regardless of state. Generation uses it for
	// idempotency; ad-hoc creation uses it to keep one practitioner's
	// slots disjoint.
	HasOverlap(ctx context.Context, practitionerID uuid.UUID, startAt, endAt time.Time) (bool, error)

	// Book conditionally moves the slot Libre -> Programado and assigns
	// the patient. Returns ErrSlotUnavailable when no Libre row matched.
	Book(ctx context.Context, slotID, patientID uuid.UUID, note string) (*Slot, error)

	// Transition conditionally moves the slot from -> to. clearPatient
	// drops the patient assignment (cancellation). Returns
	// ErrStateConflict when the slot is no longer in the from state.
	Transition(ctx context.Context, slotID uuid.UUID, from, to SlotState, clearPatient bool) (*Slot, error)

	ListByWindow(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Slot, error)

	// MarkNoShowBefore set-transitions every Programado slot starting
	// before cutoff to Inasistencia and returns the affected count.
	MarkNoShowBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TemplateStore persists agenda templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tmpl *AgendaTemplate) error
	GetTemplateByID(ctx context.Context, id uuid.UUID) (*AgendaTemplate, error)
	ListActiveTemplates(ctx context.Context) ([]AgendaTemplate, error)
}

// Directory is the master-data read model (maintained elsewhere; the core
// only consults it).
type Directory interface {
	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error)
}

// EventStore records audit events, written best-effort.
type EventStore interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}
