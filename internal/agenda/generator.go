package agenda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turnosalud/clinic-agenda/internal/observability/metrics"
	"github.com/turnosalud/clinic-agenda/pkg/logging"
)

// Generator expands agenda templates into concrete Libre slots over a
// rolling window. Running it again over an already generated window only
// skips duplicates, so it is safe on any cadence.
type Generator struct {
	slots        SlotStore
	slotDuration time.Duration
	log          *logging.Logger
	metrics      *metrics.GeneratorMetrics
}

func NewGenerator(slots SlotStore, slotDuration time.Duration, logger *logging.Logger, m *metrics.GeneratorMetrics) *Generator {
	if slotDuration <= 0 {
		slotDuration = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Generator{
		slots:        slots,
		slotDuration: slotDuration,
		log:          logger,
		metrics:      m,
	}
}

// GenerateSlots produces one Libre slot per sub-slot of every occurrence of
// the template's weekday inside [windowStart, windowStart+windowDays). A
// trailing sub-slot that would cross the template's end time is dropped.
// Insertion failures are isolated per slot; the run continues and the report
// carries the failure count.
func (g *Generator) GenerateSlots(ctx context.Context, tmpl AgendaTemplate, windowStart time.Time, windowDays int) (GenerationReport, error) {
	var report GenerationReport

	if tmpl.Weekday < 0 || tmpl.Weekday > 6 {
		return report, &ValidationError{Field: "weekday", Reason: fmt.Sprintf("must be 0-6, got %d", tmpl.Weekday)}
	}
	if windowDays <= 0 {
		return report, &ValidationError{Field: "windowDays", Reason: "must be positive"}
	}

	startOffset, err := parseClock(tmpl.StartTime)
	if err != nil {
		return report, &ValidationError{Field: "startTime", Reason: err.Error()}
	}
	endOffset, err := parseClock(tmpl.EndTime)
	if err != nil {
		return report, &ValidationError{Field: "endTime", Reason: err.Error()}
	}
	if endOffset <= startOffset {
		return report, &ValidationError{Field: "endTime", Reason: "must be after start time"}
	}

	y, m, d := windowStart.Date()
	base := time.Date(y, m, d, 0, 0, 0, 0, windowStart.Location())

	for i := 0; i < windowDays; i++ {
		day := base.AddDate(0, 0, i)
		if int(day.Weekday()) != tmpl.Weekday {
			continue
		}

		dayReport := g.generateDay(ctx, tmpl, day.Add(startOffset), day.Add(endOffset))
		report.add(dayReport)
	}

	g.metrics.ObserveSlots("created", report.Created)
	g.metrics.ObserveSlots("duplicate", report.SkippedDuplicate)
	g.metrics.ObserveSlots("failed", report.Failed)

	g.log.Info("slot generation run complete",
		"template_id", tmpl.ID,
		"created", report.Created,
		"skipped_duplicate", report.SkippedDuplicate,
		"failed", report.Failed,
	)

	return report, nil
}

func (g *Generator) generateDay(ctx context.Context, tmpl AgendaTemplate, dayStart, dayEnd time.Time) GenerationReport {
	var report GenerationReport

	templateID := tmpl.ID
	for cur := dayStart; !cur.Add(g.slotDuration).After(dayEnd); cur = cur.Add(g.slotDuration) {
		// Covers re-runs over the same window and templates whose hours
		// intersect: any slot already occupying the range is a skip.
		occupied, err := g.slots.HasOverlap(ctx, tmpl.PractitionerID, cur, cur.Add(g.slotDuration))
		if err != nil {
			g.log.Error("slot overlap check failed", "template_id", tmpl.ID, "start_at", cur, "error", err)
			report.Failed++
			continue
		}
		if occupied {
			report.SkippedDuplicate++
			continue
		}

		slot := &Slot{
			ID:             uuid.New(),
			PractitionerID: tmpl.PractitionerID,
			LocationID:     tmpl.LocationID,
			StartAt:        cur,
			EndAt:          cur.Add(g.slotDuration),
			State:          SlotLibre,
			TemplateID:     &templateID,
		}

		if err := g.slots.CreateSlot(ctx, slot); err != nil {
			if errors.Is(err, ErrSlotExists) {
				// Lost a race with a concurrent generation run.
				report.SkippedDuplicate++
				continue
			}
			g.log.Error("slot insert failed", "template_id", tmpl.ID, "start_at", cur, "error", err)
			report.Failed++
			continue
		}

		report.Created++
	}

	return report
}

// GenerateAll runs every active template over the window, aggregating
// reports. A template rejected at validation only fails itself.
func (g *Generator) GenerateAll(ctx context.Context, templates TemplateStore, windowStart time.Time, windowDays int) (GenerationReport, error) {
	var report GenerationReport

	active, err := templates.ListActiveTemplates(ctx)
	if err != nil {
		return report, fmt.Errorf("list active templates: %w", err)
	}

	for _, tmpl := range active {
		tmplReport, err := g.GenerateSlots(ctx, tmpl, windowStart, windowDays)
		if err != nil {
			g.log.Warn("template rejected during generation", "template_id", tmpl.ID, "error", err)
			continue
		}
		report.add(tmplReport)
	}

	return report, nil
}

// parseClock parses an HH:MM wall time into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
