package agenda

import (
	"time"

	"github.com/google/uuid"
)

type SlotState string

const (
	SlotLibre        SlotState = "libre"
	SlotProgramado   SlotState = "programado"
	SlotAtendido     SlotState = "atendido"
	SlotCancelado    SlotState = "cancelado"
	SlotInasistencia SlotState = "inasistencia"
)

// AgendaTemplate is a recurring weekly availability rule. Times use HH:MM in
// the practice's local convention; Weekday is 0 (Sunday) through 6.
// Templates are never edited retroactively: changes only affect future
// generation runs.
type AgendaTemplate struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	LocationID     uuid.UUID
	Weekday        int
	StartTime      string // HH:MM
	EndTime        string // HH:MM
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Slot is one bookable unit of practitioner time. Slots are never deleted;
// Cancelado is the deletion surrogate. PatientID is set exactly in the
// Programado, Atendido and Inasistencia states.
type Slot struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	LocationID     uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	State          SlotState
	PatientID      *uuid.UUID
	Note           string
	TemplateID     *uuid.UUID // nil for ad-hoc slots
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Practitioner struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Location struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GenerationReport counts the outcome of one generation run.
type GenerationReport struct {
	Created          int
	SkippedDuplicate int
	Failed           int
}

func (r *GenerationReport) add(other GenerationReport) {
	r.Created += other.Created
	r.SkippedDuplicate += other.SkippedDuplicate
	r.Failed += other.Failed
}

type EventLog struct {
	ID        int64
	EventType string
	SlotID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
