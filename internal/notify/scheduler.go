package notify

import (
	"context"
	"sync"
	"time"

	"github.com/turnosalud/clinic-agenda/internal/observability/metrics"
	"github.com/turnosalud/clinic-agenda/pkg/logging"
)

// Scheduler is the background task that polls for due notifications and
// hands them to the dispatcher one at a time. Cycles never overlap: a tick
// that fires while a cycle is still running is skipped, not queued.
type Scheduler struct {
	store      Store
	dispatcher *Dispatcher
	interval   time.Duration
	maxAttempt int
	log        *logging.Logger
	metrics    *metrics.NotifyMetrics
	now        func() time.Time

	cycleMu sync.Mutex // held for the duration of one cycle

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScheduler(store Store, dispatcher *Dispatcher, interval time.Duration, maxAttempts int, logger *logging.Logger, m *metrics.NotifyMetrics) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		interval:   interval,
		maxAttempt: maxAttempts,
		log:        logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Start launches the polling loop. Calling Start on a running scheduler is a
// no-op. The loop also exits when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.doneCh)
	s.log.Info("notification scheduler started", "interval", s.interval)
}

// Stop requests the loop to exit and blocks until it has. A dispatch already
// in progress finishes; no new cycle starts after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.started = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.log.Info("notification scheduler stopped")
}

// RunOnce executes a single poll cycle immediately, waiting for any cycle in
// progress to finish first. Usable whether or not the loop is running.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.runCycle(ctx)
}

func (s *Scheduler) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick(ctx, stopCh) {
				return
			}
		}
	}
}

// tick runs one cycle for a ticker fire. A tick already buffered when the
// stop channel closed must not start a cycle, so the close is re-checked
// here; the select above can pick either ready case. Returns false when the
// loop should exit.
func (s *Scheduler) tick(ctx context.Context, stopCh chan struct{}) bool {
	select {
	case <-stopCh:
		return false
	default:
	}

	if !s.cycleMu.TryLock() {
		s.log.Warn("poll cycle still running, skipping tick")
		return true
	}
	defer s.cycleMu.Unlock()

	if err := s.runCycle(ctx); err != nil {
		s.log.Error("poll cycle failed", "error", err)
	}
	return true
}

// runCycle fetches due records and dispatches them sequentially in ascending
// scheduledAt order. A failure on one record does not abort the rest.
func (s *Scheduler) runCycle(ctx context.Context) error {
	now := s.now()

	due, err := s.store.FetchDue(ctx, now, s.maxAttempt)
	if err != nil {
		return err
	}

	if len(due) > 0 {
		s.log.Info("poll cycle", "due", len(due))
	}

	for _, rec := range due {
		outcome := s.dispatcher.Dispatch(ctx, rec)
		if outcome.Err != nil {
			// Already logged by the dispatcher; keep going with the
			// remaining records.
			continue
		}
	}

	s.metrics.ObserveCycle()
	return nil
}
