package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turnosalud/clinic-agenda/internal/db"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS practitioners (
		id uuid PRIMARY KEY,
		name text NOT NULL,
		specialty text,
		active boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		id uuid PRIMARY KEY,
		name text NOT NULL,
		active boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS locations (
		id uuid PRIMARY KEY,
		name text NOT NULL,
		active boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS patient_contacts (
		id uuid PRIMARY KEY,
		patient_id uuid NOT NULL REFERENCES patients(id),
		channel text NOT NULL,
		address text NOT NULL,
		is_primary boolean NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS agenda_templates (
		id uuid PRIMARY KEY,
		practitioner_id uuid NOT NULL REFERENCES practitioners(id),
		location_id uuid NOT NULL REFERENCES locations(id),
		weekday int NOT NULL CHECK (weekday BETWEEN 0 AND 6),
		start_time text NOT NULL,
		end_time text NOT NULL,
		active boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS slots (
		id uuid PRIMARY KEY,
		practitioner_id uuid NOT NULL REFERENCES practitioners(id),
		location_id uuid NOT NULL REFERENCES locations(id),
		start_at timestamptz NOT NULL,
		end_at timestamptz NOT NULL,
		state text NOT NULL,
		patient_id uuid REFERENCES patients(id),
		note text NOT NULL DEFAULT '',
		template_id uuid REFERENCES agenda_templates(id),
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		CHECK (start_at < end_at),
		UNIQUE (practitioner_id, start_at)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id uuid PRIMARY KEY,
		slot_id uuid NOT NULL REFERENCES slots(id),
		kind text NOT NULL,
		channel text NOT NULL,
		scheduled_at timestamptz NOT NULL,
		state text NOT NULL DEFAULT 'pending',
		attempts int NOT NULL DEFAULT 0,
		last_error text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_due_idx
		ON notifications (scheduled_at) WHERE state = 'pending'`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id bigserial PRIMARY KEY,
		event_type text NOT NULL,
		slot_id uuid,
		payload jsonb,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := applySchema(context.Background(), pool); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	log.Println("schema applied")

	gofakeit.Seed(time.Now().UnixNano())

	locations, err := seedLocations(context.Background(), pool, 3)
	if err != nil {
		log.Fatalf("seed locations: %v", err)
	}
	practitioners, err := seedPractitioners(context.Background(), pool, 20)
	if err != nil {
		log.Fatalf("seed practitioners: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedTemplates(context.Background(), pool, practitioners, locations); err != nil {
		log.Fatalf("seed templates: %v", err)
	}

	log.Println("seed complete")
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

func seedLocations(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d locations", count)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := fmt.Sprintf("%s Clinic", gofakeit.City())

		_, err := pool.Exec(ctx, `
			INSERT INTO locations (id, name, active, created_at, updated_at)
			VALUES ($1, $2, true, now(), now())
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d practitioners", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, name, specialty, active, created_at, updated_at)
			VALUES ($1, $2, $3, true, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, active, created_at, updated_at)
				VALUES ($1, $2, true, now(), now())
			`, id, name)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO patient_contacts (id, patient_id, channel, address, is_primary)
				VALUES ($1, $2, 'email', $3, true)
			`, uuid.New(), id, gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	return nil
}

func seedTemplates(ctx context.Context, pool *pgxpool.Pool, practitioners, locations []uuid.UUID) error {
	log.Printf("seeding templates for %d practitioners", len(practitioners))

	// Morning and afternoon blocks on working days.
	blocks := [][2]string{
		{"08:00", "12:00"},
		{"14:00", "18:00"},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, practID := range practitioners {
		locID := locations[gofakeit.Number(0, len(locations)-1)]

		// Two or three weekdays per practitioner, Monday-Friday.
		days := gofakeit.Number(2, 3)
		for d := 0; d < days; d++ {
			weekday := gofakeit.Number(1, 5)
			block := blocks[gofakeit.Number(0, len(blocks)-1)]

			_, err := tx.Exec(ctx, `
				INSERT INTO agenda_templates (id, practitioner_id, location_id, weekday, start_time, end_time, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
			`, uuid.New(), practID, locID, weekday, block[0], block[1])
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}
