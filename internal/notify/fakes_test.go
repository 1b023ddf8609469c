package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same visibility rules as the
// Postgres implementation: only pending records below the attempt cap are
// due, ordered by scheduledAt ascending.
type memStore struct {
	mu         sync.Mutex
	records    map[uuid.UUID]*Record
	fetchErr   error
	sentErr    error
	fetchCalls int
}

func newMemStore() *memStore {
	return &memStore{records: map[uuid.UUID]*Record{}}
}

func (m *memStore) Create(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.State == "" {
		rec.State = StatePending
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) FetchDue(ctx context.Context, now time.Time, maxAttempts int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	var due []Record
	for _, rec := range m.records {
		if rec.State == StatePending && !rec.ScheduledAt.After(now) && rec.Attempts < maxAttempts {
			due = append(due, *rec)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	return due, nil
}

func (m *memStore) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

func (m *memStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sentErr != nil {
		return m.sentErr
	}
	rec, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.State = StateSent
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) RecordFailure(ctx context.Context, id uuid.UUID, attempts int, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Attempts = attempts
	rec.LastError = &lastError
	if terminal {
		rec.State = StateFailed
	}
	rec.UpdatedAt = time.Now()
	return nil
}

type fakeContacts struct {
	address string
	err     error
}

func (f *fakeContacts) PrimaryContact(ctx context.Context, patientID uuid.UUID, channel ChannelKind) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.address, nil
}

type fakeResolver struct {
	infos map[uuid.UUID]*SlotInfo
	err   error
}

func (f *fakeResolver) ResolveSlot(ctx context.Context, slotID uuid.UUID) (*SlotInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[slotID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return info, nil
}

type sentMessage struct {
	to      string
	subject string
	body    string
}

// fakeChannel records every send. sendErr fails each call; block makes Send
// hang until the context is done, to exercise the dispatch timeout.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
	block   bool
}

func (f *fakeChannel) Kind() ChannelKind { return ChannelEmail }

func (f *fakeChannel) Send(ctx context.Context, to, subject, body string) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}
