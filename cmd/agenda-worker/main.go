package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/turnosalud/clinic-agenda/internal/agenda"
	"github.com/turnosalud/clinic-agenda/internal/config"
	"github.com/turnosalud/clinic-agenda/internal/db"
	"github.com/turnosalud/clinic-agenda/internal/notify"
	"github.com/turnosalud/clinic-agenda/internal/observability/metrics"
	redisclient "github.com/turnosalud/clinic-agenda/internal/redis"
	"github.com/turnosalud/clinic-agenda/pkg/logging"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("agenda-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("agenda-worker configuration",
		"env", cfg.Env,
		"poll_interval", cfg.PollInterval,
		"sweep_interval", cfg.SweepInterval,
		"horizon_days", cfg.HorizonDays,
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.Connect(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.Connect(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	repo := agenda.NewPgRepository(pgPool)
	notifStore := notify.NewPgStore(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)

	bookingMetrics := metrics.NewBookingMetrics(nil)
	generatorMetrics := metrics.NewGeneratorMetrics(nil)
	notifyMetrics := metrics.NewNotifyMetrics(nil)

	svc := agenda.NewService(repo, repo, repo, notifStore, locker, agenda.ServiceConfig{
		ReminderLead: cfg.ReminderLead,
		SlotDuration: cfg.SlotDuration,
		Channel:      notify.ChannelEmail,
	}, logger, bookingMetrics)

	generator := agenda.NewGenerator(repo, cfg.SlotDuration, logger, generatorMetrics)

	var channel notify.DeliveryChannel
	if sg := notify.NewSendGridChannel(notify.SendGridConfig{
		APIKey:   cfg.SendGridAPIKey,
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
	}, logger); sg != nil {
		channel = sg
		logger.Info("using sendgrid email channel")
	} else {
		channel = notify.NewLogChannel(logger)
		logger.Warn("no SENDGRID_API_KEY configured, using log-only channel")
	}

	dispatcher := notify.NewDispatcher(notifStore, notifStore, svc, channel, notify.DispatcherConfig{
		MaxAttempts: cfg.MaxAttempts,
		SendTimeout: cfg.DispatchTimeout,
	}, logger, notifyMetrics)

	scheduler := notify.NewScheduler(notifStore, dispatcher, cfg.PollInterval, cfg.MaxAttempts, logger, notifyMetrics)
	scheduler.Start(rootCtx)
	defer scheduler.Stop()

	// Run maintenance once at startup, then on its own cadence.
	runMaintenance(rootCtx, logger, svc, generator, repo, cfg.HorizonDays)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping agenda-worker")
			return
		case <-ticker.C:
			runMaintenance(rootCtx, logger, svc, generator, repo, cfg.HorizonDays)
		}
	}
}

// runMaintenance keeps the rolling slot horizon populated and sweeps
// past-due Programado slots to no-show.
func runMaintenance(ctx context.Context, logger *logging.Logger, svc *agenda.Service, generator *agenda.Generator, templates agenda.TemplateStore, horizonDays int) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()

	report, err := generator.GenerateAll(runCtx, templates, start, horizonDays)
	if err != nil {
		logger.Error("generation run failed", "error", err)
	} else {
		logger.Info("generation run complete",
			"created", report.Created,
			"skipped_duplicate", report.SkippedDuplicate,
			"failed", report.Failed,
		)
	}

	swept, err := svc.SweepPastDueToNoShow(runCtx, start)
	if err != nil {
		logger.Error("sweep run failed", "error", err)
	} else {
		logger.Info("sweep run complete", "swept", swept, "elapsed", time.Since(start).String())
	}
}
