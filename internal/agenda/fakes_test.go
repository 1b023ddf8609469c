package agenda

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turnosalud/clinic-agenda/internal/notify"
)

// In-memory fakes with the same atomicity contract as the Postgres
// repository: Book and Transition are check-and-set under one lock.

type fakeSlotStore struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*Slot

	createErr func(*Slot) error // optional fault injection
}

func newFakeSlotStore() *fakeSlotStore {
	return &fakeSlotStore{slots: make(map[uuid.UUID]*Slot)}
}

func (f *fakeSlotStore) put(slot *Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *slot
	f.slots[slot.ID] = &cp
}

func (f *fakeSlotStore) CreateSlot(ctx context.Context, slot *Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		if err := f.createErr(slot); err != nil {
			return err
		}
	}

	for _, existing := range f.slots {
		if existing.PractitionerID == slot.PractitionerID && existing.StartAt.Equal(slot.StartAt) {
			return ErrSlotExists
		}
	}

	cp := *slot
	f.slots[slot.ID] = &cp
	return nil
}

func (f *fakeSlotStore) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *slot
	return &cp, nil
}

func (f *fakeSlotStore) HasOverlap(ctx context.Context, practitionerID uuid.UUID, startAt, endAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, slot := range f.slots {
		if slot.PractitionerID == practitionerID && slot.StartAt.Before(endAt) && slot.EndAt.After(startAt) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSlotStore) Book(ctx context.Context, slotID, patientID uuid.UUID, note string) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok || slot.State != SlotLibre {
		return nil, ErrSlotUnavailable
	}

	pid := patientID
	slot.State = SlotProgramado
	slot.PatientID = &pid
	slot.Note = note
	slot.UpdatedAt = time.Now()

	cp := *slot
	return &cp, nil
}

func (f *fakeSlotStore) Transition(ctx context.Context, slotID uuid.UUID, from, to SlotState, clearPatient bool) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok || slot.State != from {
		return nil, ErrStateConflict
	}

	slot.State = to
	if clearPatient {
		slot.PatientID = nil
	}
	slot.UpdatedAt = time.Now()

	cp := *slot
	return &cp, nil
}

func (f *fakeSlotStore) ListByWindow(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []Slot
	for _, slot := range f.slots {
		if slot.PractitionerID != practitionerID {
			continue
		}
		if slot.StartAt.Before(from) || !slot.StartAt.Before(to) {
			continue
		}
		result = append(result, *slot)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartAt.Before(result[j].StartAt)
	})
	return result, nil
}

func (f *fakeSlotStore) MarkNoShowBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, slot := range f.slots {
		if slot.State == SlotProgramado && slot.StartAt.Before(cutoff) {
			slot.State = SlotInasistencia
			count++
		}
	}
	return count, nil
}

func (f *fakeSlotStore) all() []Slot {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]Slot, 0, len(f.slots))
	for _, slot := range f.slots {
		result = append(result, *slot)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartAt.Before(result[j].StartAt)
	})
	return result
}

type fakeDirectory struct {
	practitioners map[uuid.UUID]*Practitioner
	patients      map[uuid.UUID]*Patient
	locations     map[uuid.UUID]*Location
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		practitioners: make(map[uuid.UUID]*Practitioner),
		patients:      make(map[uuid.UUID]*Patient),
		locations:     make(map[uuid.UUID]*Location),
	}
}

func (f *fakeDirectory) addPractitioner(name string, active bool) uuid.UUID {
	id := uuid.New()
	f.practitioners[id] = &Practitioner{ID: id, Name: name, Active: active}
	return id
}

func (f *fakeDirectory) addPatient(name string, active bool) uuid.UUID {
	id := uuid.New()
	f.patients[id] = &Patient{ID: id, Name: name, Active: active}
	return id
}

func (f *fakeDirectory) addLocation(name string, active bool) uuid.UUID {
	id := uuid.New()
	f.locations[id] = &Location{ID: id, Name: name, Active: active}
	return id
}

func (f *fakeDirectory) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	if p, ok := f.practitioners[id]; ok {
		return p, nil
	}
	return nil, ErrPractitionerNotFound
}

func (f *fakeDirectory) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if p, ok := f.patients[id]; ok {
		return p, nil
	}
	return nil, ErrPatientNotFound
}

func (f *fakeDirectory) GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	if l, ok := f.locations[id]; ok {
		return l, nil
	}
	return nil, ErrLocationNotFound
}

type fakeEventStore struct {
	mu     sync.Mutex
	events []EventLog
}

func (f *fakeEventStore) InsertEvent(ctx context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEventStore) byType(eventType string) []EventLog {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []EventLog
	for _, ev := range f.events {
		if ev.EventType == eventType {
			result = append(result, ev)
		}
	}
	return result
}

type fakeNotifStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*notify.Record
	createErr error
}

func newFakeNotifStore() *fakeNotifStore {
	return &fakeNotifStore{records: make(map[uuid.UUID]*notify.Record)}
}

func (f *fakeNotifStore) Create(ctx context.Context, rec *notify.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeNotifStore) GetByID(ctx context.Context, id uuid.UUID) (*notify.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return nil, notify.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeNotifStore) FetchDue(ctx context.Context, now time.Time, maxAttempts int) ([]notify.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due []notify.Record
	for _, rec := range f.records {
		if rec.State == notify.StatePending && !rec.ScheduledAt.After(now) && rec.Attempts < maxAttempts {
			due = append(due, *rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due, nil
}

func (f *fakeNotifStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok || rec.State != notify.StatePending {
		return notify.ErrRecordNotFound
	}
	rec.State = notify.StateSent
	return nil
}

func (f *fakeNotifStore) RecordFailure(ctx context.Context, id uuid.UUID, attempts int, lastError string, terminal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok || rec.State != notify.StatePending {
		return notify.ErrRecordNotFound
	}
	rec.Attempts = attempts
	rec.LastError = &lastError
	if terminal {
		rec.State = notify.StateFailed
	}
	return nil
}

func (f *fakeNotifStore) bySlot(slotID uuid.UUID) []notify.Record {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []notify.Record
	for _, rec := range f.records {
		if rec.SlotID == slotID {
			result = append(result, *rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	return result
}
