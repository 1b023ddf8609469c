package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/turnosalud/clinic-agenda/internal/observability/metrics"
	"github.com/turnosalud/clinic-agenda/pkg/logging"
)

// Outcome reports what happened to one record during dispatch.
type Outcome struct {
	Sent     bool
	Terminal bool  // record reached Failed
	Err      error // channel or persistence error, for logging only
}

type DispatcherConfig struct {
	MaxAttempts int           // attempts before a record goes Failed
	SendTimeout time.Duration // per channel call; a hung channel counts as a failed attempt
}

// Dispatcher resolves the contact address, renders the message and invokes
// the delivery channel, recording the result on the notification record.
// Channel errors are never surfaced to callers; they only become visible as
// attempt counts and, eventually, a terminal Failed record.
type Dispatcher struct {
	store    Store
	contacts ContactRepository
	slots    SlotResolver
	channel  DeliveryChannel
	cfg      DispatcherConfig
	log      *logging.Logger
	metrics  *metrics.NotifyMetrics
}

func NewDispatcher(store Store, contacts ContactRepository, slots SlotResolver, channel DeliveryChannel, cfg DispatcherConfig, logger *logging.Logger, m *metrics.NotifyMetrics) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:    store,
		contacts: contacts,
		slots:    slots,
		channel:  channel,
		cfg:      cfg,
		log:      logger,
		metrics:  m,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, rec Record) Outcome {
	start := time.Now()

	info, err := d.slots.ResolveSlot(ctx, rec.SlotID)
	if err != nil {
		if errors.Is(err, ErrNoRecipient) {
			// The booking was cancelled under the record; that never
			// heals, so it must run down the attempt budget.
			return d.fail(ctx, rec, ErrNoRecipient.Error(), start)
		}
		// Persistence failure: leave the record untouched so the next
		// cycle picks it up again.
		d.log.Error("resolve slot for notification failed", "record_id", rec.ID, "slot_id", rec.SlotID, "error", err)
		d.metrics.ObserveDispatch(string(rec.Kind), "error", time.Since(start).Seconds())
		return Outcome{Err: fmt.Errorf("resolve slot: %w", err)}
	}

	addr, err := d.contacts.PrimaryContact(ctx, info.PatientID, rec.Channel)
	if err != nil {
		if errors.Is(err, ErrNoContact) {
			return d.fail(ctx, rec, ErrNoContact.Error(), start)
		}
		d.log.Error("resolve contact failed", "record_id", rec.ID, "patient_id", info.PatientID, "error", err)
		d.metrics.ObserveDispatch(string(rec.Kind), "error", time.Since(start).Seconds())
		return Outcome{Err: fmt.Errorf("resolve contact: %w", err)}
	}

	subject, body := renderMessage(rec.Kind, info)

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.channel.Send(sendCtx, addr, subject, body)
	cancel()
	if err != nil {
		return d.fail(ctx, rec, err.Error(), start)
	}

	if err := d.store.MarkSent(ctx, rec.ID); err != nil {
		d.log.Error("mark notification sent failed", "record_id", rec.ID, "error", err)
		d.metrics.ObserveDispatch(string(rec.Kind), "error", time.Since(start).Seconds())
		return Outcome{Err: fmt.Errorf("mark sent: %w", err)}
	}

	d.log.Info("notification sent", "record_id", rec.ID, "kind", rec.Kind, "channel", rec.Channel)
	d.metrics.ObserveDispatch(string(rec.Kind), "sent", time.Since(start).Seconds())
	return Outcome{Sent: true}
}

func (d *Dispatcher) fail(ctx context.Context, rec Record, reason string, start time.Time) Outcome {
	attempts := rec.Attempts + 1
	terminal := attempts >= d.cfg.MaxAttempts

	if err := d.store.RecordFailure(ctx, rec.ID, attempts, reason, terminal); err != nil {
		d.log.Error("record notification failure failed", "record_id", rec.ID, "error", err)
		d.metrics.ObserveDispatch(string(rec.Kind), "error", time.Since(start).Seconds())
		return Outcome{Err: fmt.Errorf("record failure: %w", err)}
	}

	outcome := "retry"
	if terminal {
		outcome = "failed"
		d.log.Warn("notification failed permanently", "record_id", rec.ID, "kind", rec.Kind, "attempts", attempts, "reason", reason)
	} else {
		d.log.Warn("notification attempt failed", "record_id", rec.ID, "kind", rec.Kind, "attempts", attempts, "reason", reason)
	}
	d.metrics.ObserveDispatch(string(rec.Kind), outcome, time.Since(start).Seconds())

	return Outcome{Terminal: terminal}
}
