package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turnosalud/clinic-agenda/internal/agenda"
	"github.com/turnosalud/clinic-agenda/internal/config"
	"github.com/turnosalud/clinic-agenda/internal/db"
	"github.com/turnosalud/clinic-agenda/internal/notify"
	redisclient "github.com/turnosalud/clinic-agenda/internal/redis"
	"github.com/turnosalud/clinic-agenda/pkg/logging"
)

// simulate hammers the booking service with concurrent Book calls against a
// shared pool of Libre slots, then drains the scheduled notifications once.
// Conflicts are the expected outcome of the race; errors are not.

type SimConfig struct {
	Duration  time.Duration
	Workers   int
	SlotLimit int
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulate starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	sim := SimConfig{
		Duration:  getDuration("SIM_DURATION", 30*time.Second),
		Workers:   getInt("SIM_WORKERS", 16),
		SlotLimit: getInt("SIM_SLOT_LIMIT", 50),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Connect(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	rdb, err := redisclient.Connect(context.Background(), cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer rdb.Close()

	logger := logging.New("warn")
	repo := agenda.NewPgRepository(pool)
	notifStore := notify.NewPgStore(pool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)

	svc := agenda.NewService(repo, repo, repo, notifStore, locker, agenda.ServiceConfig{
		ReminderLead: cfg.ReminderLead,
		SlotDuration: cfg.SlotDuration,
		Channel:      notify.ChannelEmail,
	}, logger, nil)

	patients, err := loadIDs(context.Background(), pool, `SELECT id FROM patients WHERE active LIMIT 500`)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	slots, err := loadIDs(context.Background(), pool,
		fmt.Sprintf(`SELECT id FROM slots WHERE state = 'libre' AND start_at > now() ORDER BY start_at LIMIT %d`, sim.SlotLimit))
	if err != nil {
		log.Fatalf("load slots: %v", err)
	}
	if len(patients) == 0 || len(slots) == 0 {
		log.Fatal("no patients or libre slots available, run seed and the worker's generation first")
	}

	log.Printf("racing %d workers over %d slots for %s", sim.Workers, len(slots), sim.Duration)

	var metrics OperationMetrics
	runCtx, stop := context.WithTimeout(context.Background(), sim.Duration)
	defer stop()

	var wg sync.WaitGroup
	for w := 0; w < sim.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))

			for runCtx.Err() == nil {
				slotID := slots[rng.Intn(len(slots))]
				patientID := patients[rng.Intn(len(patients))]

				start := time.Now()
				_, err := svc.Book(context.Background(), slotID, patientID, "")
				latency := time.Since(start)

				conflict := errors.Is(err, agenda.ErrSlotUnavailable)
				metrics.Record(latency, err == nil, conflict)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	printReport(sim, &metrics)

	// Drain the notifications the race produced through the log channel.
	dispatcher := notify.NewDispatcher(notifStore, notifStore, svc, notify.NewLogChannel(logger), notify.DispatcherConfig{
		MaxAttempts: cfg.MaxAttempts,
		SendTimeout: cfg.DispatchTimeout,
	}, logger, nil)
	scheduler := notify.NewScheduler(notifStore, dispatcher, cfg.PollInterval, cfg.MaxAttempts, logger, nil)
	if err := scheduler.RunOnce(context.Background()); err != nil {
		log.Printf("notification drain failed: %v", err)
	}

	log.Println("simulate complete")
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func printReport(sim SimConfig, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)

	fmt.Println("\n" + strings.Repeat("=", 72))
	fmt.Println("BOOKING RACE REPORT")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Duration: %s  Workers: %d\n\n", sim.Duration, sim.Workers)

	if total == 0 {
		fmt.Println("no operations recorded")
		return
	}

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("Total: %d\n", total)
	fmt.Printf("Booked: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	fmt.Printf("Unavailable: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	if errs > 0 {
		fmt.Printf("Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
