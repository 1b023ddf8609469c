package agenda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turnosalud/clinic-agenda/internal/notify"
	"github.com/turnosalud/clinic-agenda/internal/observability/metrics"
	redisclient "github.com/turnosalud/clinic-agenda/internal/redis"
	"github.com/turnosalud/clinic-agenda/pkg/logging"
)

const (
	EventSlotBooked      = "SLOT_BOOKED"
	EventSlotAttended    = "SLOT_ATTENDED"
	EventSlotCancelled   = "SLOT_CANCELLED"
	EventSlotNoShow      = "SLOT_NO_SHOW"
	EventSlotSweptNoShow = "SLOT_SWEPT_NO_SHOW"
)

// BookingResult is returned by a successful Book call. Confirmation or
// Reminder may be nil when scheduling that record failed; the booking itself
// still stands.
type BookingResult struct {
	Slot         *Slot
	Confirmation *notify.Record
	Reminder     *notify.Record
}

type ServiceConfig struct {
	ReminderLead time.Duration      // reminder fires this long before the slot
	SlotDuration time.Duration      // enforced on ad-hoc slots
	Channel      notify.ChannelKind // channel for scheduled notifications
}

// Service owns the slot lifecycle: booking, transitions and the past-due
// sweep. The at-most-one-booking guarantee comes from the store's
// conditional update; the optional Redis locker only sheds contention.
type Service struct {
	slots         SlotStore
	dir           Directory
	events        EventStore
	notifications notify.Store
	locker        redisclient.Locker // may be nil
	cfg           ServiceConfig
	log           *logging.Logger
	metrics       *metrics.BookingMetrics
	now           func() time.Time
}

func NewService(slots SlotStore, dir Directory, events EventStore, notifications notify.Store, locker redisclient.Locker, cfg ServiceConfig, logger *logging.Logger, m *metrics.BookingMetrics) *Service {
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 24 * time.Hour
	}
	if cfg.SlotDuration <= 0 {
		cfg.SlotDuration = 30 * time.Minute
	}
	if cfg.Channel == "" {
		cfg.Channel = notify.ChannelEmail
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		slots:         slots,
		dir:           dir,
		events:        events,
		notifications: notifications,
		locker:        locker,
		cfg:           cfg,
		log:           logger,
		metrics:       m,
		now:           time.Now,
	}
}

// Book reserves a Libre slot for a patient. Exactly one of two racing calls
// for the same slot succeeds; the loser sees ErrSlotUnavailable. On success
// a confirmation (due now) and a reminder (due start minus the lead, even if
// that is already past) are scheduled best-effort.
func (s *Service) Book(ctx context.Context, slotID, patientID uuid.UUID, note string) (*BookingResult, error) {
	slot, err := s.slots.GetSlotByID(ctx, slotID)
	if err != nil {
		s.metrics.ObserveBooking("not_found")
		return nil, err
	}

	if err := s.checkActiveResources(ctx, slot, patientID); err != nil {
		s.metrics.ObserveBooking("inactive")
		return nil, err
	}

	if slot.State != SlotLibre {
		s.metrics.ObserveBooking("unavailable")
		return nil, ErrSlotUnavailable
	}

	var booked *Slot
	doBook := func(ctx context.Context) error {
		updated, err := s.slots.Book(ctx, slotID, patientID, note)
		if err != nil {
			return err
		}
		booked = updated
		return nil
	}

	if s.locker != nil {
		err = s.locker.WithSlotLock(ctx, slotID, doBook)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotUnavailable
		}
	} else {
		err = doBook(ctx)
	}
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			s.metrics.ObserveBooking("unavailable")
			return nil, ErrSlotUnavailable
		}
		s.metrics.ObserveBooking("error")
		return nil, fmt.Errorf("book slot: %w", err)
	}

	result := &BookingResult{Slot: booked}
	result.Confirmation, result.Reminder = s.scheduleBookingNotifications(ctx, booked)

	s.logEvent(ctx, booked.ID, EventSlotBooked, map[string]any{
		"patient_id": patientID.String(),
		"start_at":   booked.StartAt,
	})
	s.metrics.ObserveBooking("booked")

	return result, nil
}

func (s *Service) checkActiveResources(ctx context.Context, slot *Slot, patientID uuid.UUID) error {
	pract, err := s.dir.GetPractitionerByID(ctx, slot.PractitionerID)
	if err != nil {
		return fmt.Errorf("load practitioner: %w", err)
	}
	if !pract.Active {
		return ErrPractitionerInactive
	}

	loc, err := s.dir.GetLocationByID(ctx, slot.LocationID)
	if err != nil {
		return fmt.Errorf("load location: %w", err)
	}
	if !loc.Active {
		return ErrLocationInactive
	}

	patient, err := s.dir.GetPatientByID(ctx, patientID)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}
	if !patient.Active {
		return ErrPatientInactive
	}

	return nil
}

// scheduleBookingNotifications creates the confirmation and reminder
// records. Failures are logged, never propagated: a booking must not roll
// back because a notification could not be scheduled.
func (s *Service) scheduleBookingNotifications(ctx context.Context, slot *Slot) (confirmation, reminder *notify.Record) {
	now := s.now()

	confirmation = &notify.Record{
		SlotID:      slot.ID,
		Kind:        notify.KindConfirmation,
		Channel:     s.cfg.Channel,
		ScheduledAt: now,
		State:       notify.StatePending,
	}
	if err := s.notifications.Create(ctx, confirmation); err != nil {
		s.log.Error("schedule confirmation failed", "slot_id", slot.ID, "error", err)
		confirmation = nil
	}

	// The reminder keeps its computed time even when the appointment is
	// under the lead away; the scheduler picks it up on the next poll.
	reminder = &notify.Record{
		SlotID:      slot.ID,
		Kind:        notify.KindReminder,
		Channel:     s.cfg.Channel,
		ScheduledAt: slot.StartAt.Add(-s.cfg.ReminderLead),
		State:       notify.StatePending,
	}
	if err := s.notifications.Create(ctx, reminder); err != nil {
		s.log.Error("schedule reminder failed", "slot_id", slot.ID, "error", err)
		reminder = nil
	}

	return confirmation, reminder
}

// Transition applies attend, cancel or markNoShow to a slot. Booking goes
// through Book. Cancellation clears the patient assignment.
func (s *Service) Transition(ctx context.Context, slotID uuid.UUID, op Op) (*Slot, error) {
	if op == OpBook {
		return nil, &ValidationError{Field: "operation", Reason: "book requires a patient, use Book"}
	}

	slot, err := s.slots.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}

	next, err := NextState(slot.State, op)
	if err != nil {
		s.metrics.ObserveTransition(string(op), "invalid")
		return nil, err
	}

	updated, err := s.slots.Transition(ctx, slotID, slot.State, next, next == SlotCancelado)
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			// Someone moved the slot first; report against its
			// current state.
			current, loadErr := s.slots.GetSlotByID(ctx, slotID)
			if loadErr == nil {
				s.metrics.ObserveTransition(string(op), "invalid")
				return nil, &InvalidTransitionError{From: current.State, Op: op}
			}
		}
		s.metrics.ObserveTransition(string(op), "error")
		return nil, fmt.Errorf("transition slot: %w", err)
	}

	s.logEvent(ctx, updated.ID, transitionEvent(op), map[string]any{
		"from": string(slot.State),
		"to":   string(next),
	})
	s.metrics.ObserveTransition(string(op), "ok")

	return updated, nil
}

func transitionEvent(op Op) string {
	switch op {
	case OpAttend:
		return EventSlotAttended
	case OpCancel:
		return EventSlotCancelled
	case OpMarkNoShow:
		return EventSlotNoShow
	}
	return "SLOT_TRANSITION"
}

// SweepPastDueToNoShow moves every Programado slot dated strictly before
// yesterday (relative to asOf) to Inasistencia. Idempotent; returns the
// affected count.
func (s *Service) SweepPastDueToNoShow(ctx context.Context, asOf time.Time) (int64, error) {
	y, m, d := asOf.AddDate(0, 0, -1).Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, asOf.Location())

	count, err := s.slots.MarkNoShowBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep past-due slots: %w", err)
	}

	if count > 0 {
		s.log.Info("swept past-due slots to no-show", "count", count, "cutoff", cutoff)
		s.logEvent(ctx, uuid.Nil, EventSlotSweptNoShow, map[string]any{
			"count":  count,
			"cutoff": cutoff,
		})
	}
	s.metrics.ObserveSwept(count)

	return count, nil
}

// ListSlots returns a practitioner's slots in a window, running the
// past-due sweep first so consumers never see stale Programado slots.
func (s *Service) ListSlots(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	if _, err := s.SweepPastDueToNoShow(ctx, s.now()); err != nil {
		// A failed sweep should not hide the listing itself.
		s.log.Error("pre-listing sweep failed", "error", err)
	}

	slots, err := s.slots.ListByWindow(ctx, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// CreateAdHocSlot inserts a single Libre slot outside any template, for the
// admin path. The slot must not intersect any existing slot of the
// practitioner, at any offset.
func (s *Service) CreateAdHocSlot(ctx context.Context, practitionerID, locationID uuid.UUID, startAt time.Time, note string) (*Slot, error) {
	if startAt.IsZero() {
		return nil, &ValidationError{Field: "startAt", Reason: "must be set"}
	}

	overlaps, err := s.slots.HasOverlap(ctx, practitionerID, startAt, startAt.Add(s.cfg.SlotDuration))
	if err != nil {
		return nil, fmt.Errorf("check slot overlap: %w", err)
	}
	if overlaps {
		return nil, ErrSlotOverlap
	}

	slot := &Slot{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		LocationID:     locationID,
		StartAt:        startAt,
		EndAt:          startAt.Add(s.cfg.SlotDuration),
		State:          SlotLibre,
		Note:           note,
	}
	if err := s.slots.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("create ad-hoc slot: %w", err)
	}

	return slot, nil
}

// ResolveSlot implements notify.SlotResolver for the dispatcher's message
// rendering.
func (s *Service) ResolveSlot(ctx context.Context, slotID uuid.UUID) (*notify.SlotInfo, error) {
	slot, err := s.slots.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.PatientID == nil {
		return nil, fmt.Errorf("slot %s: %w", slotID, notify.ErrNoRecipient)
	}

	patient, err := s.dir.GetPatientByID(ctx, *slot.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	pract, err := s.dir.GetPractitionerByID(ctx, slot.PractitionerID)
	if err != nil {
		return nil, fmt.Errorf("load practitioner: %w", err)
	}

	return &notify.SlotInfo{
		SlotID:           slot.ID,
		PatientID:        patient.ID,
		PatientName:      patient.Name,
		PractitionerName: pract.Name,
		StartAt:          slot.StartAt,
	}, nil
}

func (s *Service) logEvent(ctx context.Context, slotID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal event payload failed", "event_type", eventType, "error", err)
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: s.now(),
	}
	if slotID != uuid.Nil {
		id := slotID
		ev.SlotID = &id
	}

	if err := s.events.InsertEvent(ctx, ev); err != nil {
		s.log.Error("insert event log failed", "event_type", eventType, "slot_id", slotID, "error", err)
	}
}
