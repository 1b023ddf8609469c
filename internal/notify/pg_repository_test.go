package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStore(mock), mock
}

func recordRow(id, slotID uuid.UUID, kind Kind, state State, attempts int, scheduledAt time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "slot_id", "kind", "channel", "scheduled_at",
		"state", "attempts", "last_error", "created_at", "updated_at",
	}).AddRow(
		id, slotID, kind, ChannelEmail, scheduledAt,
		state, attempts, (*string)(nil), scheduledAt, scheduledAt,
	)
}

func TestPgCreateAssignsIDAndDefaults(t *testing.T) {
	store, mock := newMockStore(t)
	slotID := uuid.New()
	scheduledAt := time.Date(2026, time.April, 5, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO notifications`).
		WithArgs(pgxmock.AnyArg(), slotID, KindConfirmation, ChannelEmail, scheduledAt, StatePending).
		WillReturnRows(recordRow(uuid.New(), slotID, KindConfirmation, StatePending, 0, scheduledAt))

	rec := &Record{SlotID: slotID, Kind: KindConfirmation, Channel: ChannelEmail, ScheduledAt: scheduledAt}
	require.NoError(t, store.Create(context.Background(), rec))

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, StatePending, rec.State)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFetchDueFiltersAndOrders(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, time.April, 5, 12, 0, 0, 0, time.UTC)
	slotID := uuid.New()

	rows := pgxmock.NewRows([]string{
		"id", "slot_id", "kind", "channel", "scheduled_at",
		"state", "attempts", "last_error", "created_at", "updated_at",
	}).
		AddRow(uuid.New(), slotID, KindConfirmation, ChannelEmail, now.Add(-2*time.Hour),
			StatePending, 0, (*string)(nil), now, now).
		AddRow(uuid.New(), slotID, KindReminder, ChannelEmail, now.Add(-time.Hour),
			StatePending, 1, (*string)(nil), now, now)

	mock.ExpectQuery(`SELECT (.+) FROM notifications`).
		WithArgs(now, 3).
		WillReturnRows(rows)

	due, err := store.FetchDue(context.Background(), now, 3)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, due[0].ScheduledAt.Before(due[1].ScheduledAt))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkSentOnNonPendingRecord(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	// Terminal records match zero rows; a second MarkSent must not succeed.
	mock.ExpectExec(`UPDATE notifications`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkSent(context.Background(), id)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRecordFailureTerminalState(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE notifications`).
		WithArgs(id, 3, "smtp relay rejected", StateFailed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.RecordFailure(context.Background(), id, 3, "smtp relay rejected", true)
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgPrimaryContact(t *testing.T) {
	store, mock := newMockStore(t)
	patientID := uuid.New()

	mock.ExpectQuery(`SELECT address`).
		WithArgs(patientID, ChannelEmail).
		WillReturnRows(pgxmock.NewRows([]string{"address"}).AddRow("ana@example.com"))

	addr, err := store.PrimaryContact(context.Background(), patientID, ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", addr)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgPrimaryContactMissing(t *testing.T) {
	store, mock := newMockStore(t)
	patientID := uuid.New()

	mock.ExpectQuery(`SELECT address`).
		WithArgs(patientID, ChannelEmail).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.PrimaryContact(context.Background(), patientID, ChannelEmail)
	assert.ErrorIs(t, err, ErrNoContact)

	require.NoError(t, mock.ExpectationsWereMet())
}
