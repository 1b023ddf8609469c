package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs; tests substitute pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore persists notification records and patient contacts in Postgres.
type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

const recordColumns = `id, slot_id, kind, channel, scheduled_at, state, attempts, last_error, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var lastError *string

	err := row.Scan(
		&rec.ID,
		&rec.SlotID,
		&rec.Kind,
		&rec.Channel,
		&rec.ScheduledAt,
		&rec.State,
		&rec.Attempts,
		&lastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	rec.LastError = lastError
	return &rec, nil
}

func (s *PgStore) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.State == "" {
		rec.State = StatePending
	}

	created, err := scanRecord(s.db.QueryRow(ctx, `
		INSERT INTO notifications (id, slot_id, kind, channel, scheduled_at, state, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())
		RETURNING `+recordColumns+`
	`, rec.ID, rec.SlotID, rec.Kind, rec.Channel, rec.ScheduledAt, rec.State))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	*rec = *created
	return nil
}

func (s *PgStore) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM notifications
		WHERE id = $1
	`, id)
	return scanRecord(row)
}

func (s *PgStore) FetchDue(ctx context.Context, now time.Time, maxAttempts int) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM notifications
		WHERE state = 'pending'
		  AND scheduled_at <= $1
		  AND attempts < $2
		ORDER BY scheduled_at ASC
	`, now, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *PgStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET state = 'sent',
		    updated_at = now()
		WHERE id = $1
		  AND state = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PgStore) RecordFailure(ctx context.Context, id uuid.UUID, attempts int, lastError string, terminal bool) error {
	state := StatePending
	if terminal {
		state = StateFailed
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET attempts = $2,
		    last_error = $3,
		    state = $4,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'pending'
	`, id, attempts, lastError, state)
	if err != nil {
		return fmt.Errorf("record notification failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// PrimaryContact implements ContactRepository from the patient_contacts table.
func (s *PgStore) PrimaryContact(ctx context.Context, patientID uuid.UUID, channel ChannelKind) (string, error) {
	var address string

	err := s.db.QueryRow(ctx, `
		SELECT address
		FROM patient_contacts
		WHERE patient_id = $1
		  AND channel = $2
		  AND is_primary
		LIMIT 1
	`, patientID, channel).Scan(&address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoContact
		}
		return "", err
	}

	return address, nil
}
