package agenda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs; tests substitute
// pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository implements SlotStore, TemplateStore, Directory and EventStore
// on Postgres.
type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const slotColumns = `id, practitioner_id, location_id, start_at, end_at, state, patient_id, note, template_id, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var patientID, templateID *uuid.UUID

	err := row.Scan(
		&s.ID,
		&s.PractitionerID,
		&s.LocationID,
		&s.StartAt,
		&s.EndAt,
		&s.State,
		&patientID,
		&s.Note,
		&templateID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.PatientID = patientID
	s.TemplateID = templateID
	return &s, nil
}

func scanTemplate(row pgx.Row) (*AgendaTemplate, error) {
	var t AgendaTemplate

	err := row.Scan(
		&t.ID,
		&t.PractitionerID,
		&t.LocationID,
		&t.Weekday,
		&t.StartTime,
		&t.EndTime,
		&t.Active,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	return &t, nil
}

// SlotStore

func (r *PgRepository) CreateSlot(ctx context.Context, slot *Slot) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO slots (id, practitioner_id, location_id, start_at, end_at, state, patient_id, note, template_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, slot.ID, slot.PractitionerID, slot.LocationID, slot.StartAt, slot.EndAt, slot.State, slot.PatientID, slot.Note, slot.TemplateID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSlotExists
		}
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) HasOverlap(ctx context.Context, practitionerID uuid.UUID, startAt, endAt time.Time) (bool, error) {
	var overlaps bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slots
			WHERE practitioner_id = $1
			  AND start_at < $3
			  AND end_at > $2
		)
	`, practitionerID, startAt, endAt).Scan(&overlaps)
	if err != nil {
		return false, fmt.Errorf("check slot overlap: %w", err)
	}
	return overlaps, nil
}

// Book is the atomic check-and-set behind the at-most-one-booking
// guarantee: the UPDATE matches only a Libre row, so of two racing calls
// exactly one affects a row.
func (r *PgRepository) Book(ctx context.Context, slotID, patientID uuid.UUID, note string) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE slots
		SET state = 'programado',
		    patient_id = $2,
		    note = $3,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'libre'
		RETURNING `+slotColumns+`
	`, slotID, patientID, note)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}
	return slot, nil
}

func (r *PgRepository) Transition(ctx context.Context, slotID uuid.UUID, from, to SlotState, clearPatient bool) (*Slot, error) {
	var row pgx.Row
	if clearPatient {
		row = r.db.QueryRow(ctx, `
			UPDATE slots
			SET state = $2,
			    patient_id = NULL,
			    updated_at = now()
			WHERE id = $1
			  AND state = $3
			RETURNING `+slotColumns+`
		`, slotID, to, from)
	} else {
		row = r.db.QueryRow(ctx, `
			UPDATE slots
			SET state = $2,
			    updated_at = now()
			WHERE id = $1
			  AND state = $3
			RETURNING `+slotColumns+`
		`, slotID, to, from)
	}

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrStateConflict
		}
		return nil, err
	}
	return slot, nil
}

func (r *PgRepository) ListByWindow(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE practitioner_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at ASC
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkNoShowBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE slots
		SET state = 'inasistencia',
		    updated_at = now()
		WHERE state = 'programado'
		  AND start_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark no-show before cutoff: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TemplateStore

func (r *PgRepository) CreateTemplate(ctx context.Context, tmpl *AgendaTemplate) error {
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO agenda_templates (id, practitioner_id, location_id, weekday, start_time, end_time, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`, tmpl.ID, tmpl.PractitionerID, tmpl.LocationID, tmpl.Weekday, tmpl.StartTime, tmpl.EndTime, tmpl.Active)
	if err != nil {
		return fmt.Errorf("insert agenda template: %w", err)
	}
	return nil
}

func (r *PgRepository) GetTemplateByID(ctx context.Context, id uuid.UUID) (*AgendaTemplate, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, practitioner_id, location_id, weekday, start_time, end_time, active, created_at, updated_at
		FROM agenda_templates
		WHERE id = $1
	`, id)
	return scanTemplate(row)
}

func (r *PgRepository) ListActiveTemplates(ctx context.Context) ([]AgendaTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, practitioner_id, location_id, weekday, start_time, end_time, active, created_at, updated_at
		FROM agenda_templates
		WHERE active
		ORDER BY practitioner_id, weekday, start_time
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AgendaTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Directory

func (r *PgRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	var p Practitioner
	var specialty *string

	err := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, active, created_at, updated_at
		FROM practitioners
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &specialty, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient

	err := r.db.QueryRow(ctx, `
		SELECT id, name, active, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	var l Location

	err := r.db.QueryRow(ctx, `
		SELECT id, name, active, created_at, updated_at
		FROM locations
		WHERE id = $1
	`, id).Scan(&l.ID, &l.Name, &l.Active, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}

	return &l, nil
}

// EventStore

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, slot_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
