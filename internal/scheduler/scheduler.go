// Package scheduler spawns scan jobs from recurring definitions. A fixed
// tick sweeps due definitions and submits them through the same
// validation and admission pipeline as ad-hoc scans; rejected runs are
// skipped and never retried.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/engine"
	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/logging"
	"github.com/vigilsec/vigil/internal/metrics"
)

// maxCatchUpSteps bounds next-run advancement for definitions that have
// been overdue for a long time.
const maxCatchUpSteps = 10000

// ScheduleStore is the persistence surface the scheduler needs.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time) ([]*db.ScheduledScan, error)
	MarkSpawned(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time, active bool) error
	MarkSkipped(ctx context.Context, id uuid.UUID, nextRun time.Time, active bool) error
}

// Submitter accepts scan submissions. The engine implements it.
type Submitter interface {
	SubmitScan(ctx context.Context, accountID uuid.UUID, req *engine.SubmitRequest) (*db.ScanJob, error)
}

// Scheduler sweeps due definitions on a fixed tick.
type Scheduler struct {
	cfg       config.SchedulerConfig
	store     ScheduleStore
	submitter Submitter
	metrics   *metrics.Metrics
	logger    *logging.Logger

	// now is the clock; tests replace it.
	now func() time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. The metrics instance may be nil in tests.
func New(cfg config.SchedulerConfig, store ScheduleStore, submitter Submitter,
	m *metrics.Metrics, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		submitter: submitter,
		metrics:   m,
		logger:    logger.WithComponent("scheduler"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the tick loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true

	s.wg.Add(1)
	go s.run()

	s.logger.Info("scheduler started", "tick_interval", s.cfg.TickInterval.String())
	return nil
}

// Stop stops the tick loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick performs one sweep over due definitions. Exported so the daemon
// can trigger an immediate sweep on startup.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.IncrementSchedulerTicks()
	}

	now := s.now()
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due definitions", "error", err)
		return
	}

	for _, def := range due {
		if ctx.Err() != nil {
			return
		}
		s.processDue(ctx, def, now)
	}
}

// processDue spawns one run for a due definition and advances its next
// run from the previous next-run, never from the current time.
func (s *Scheduler) processDue(ctx context.Context, def *db.ScheduledScan, now time.Time) {
	next, active, err := s.advance(def, now)
	if err != nil {
		// Definitions with an unusable schedule are deactivated rather
		// than swept forever.
		s.logger.Error("deactivating definition with invalid schedule",
			"schedule_id", def.ID.String(), "error", err)
		if markErr := s.store.MarkSkipped(ctx, def.ID, def.NextRun, false); markErr != nil {
			s.logger.Error("failed to deactivate definition", "schedule_id", def.ID.String(), "error", markErr)
		}
		return
	}

	req, err := s.buildRequest(def)
	if err != nil {
		s.logger.Error("definition has unusable payload, skipping run",
			"schedule_id", def.ID.String(), "error", err)
		s.markSkipped(ctx, def, next, active)
		return
	}

	job, err := s.submitter.SubmitScan(ctx, def.AccountID, req)
	switch {
	case err == nil:
		if markErr := s.store.MarkSpawned(ctx, def.ID, now, next, active); markErr != nil {
			s.logger.Error("failed to record spawned run", "schedule_id", def.ID.String(), "error", markErr)
		}
		if s.metrics != nil {
			s.metrics.IncrementSchedulerSpawned()
		}
		s.logger.Info("spawned scheduled scan",
			"schedule_id", def.ID.String(), "job_id", job.ID.String(), "next_run", next)
	case errors.IsCode(err, errors.CodeTooManyPendingJobs):
		// The missed interval is recorded and never retried.
		s.markSkipped(ctx, def, next, active)
		s.logger.Warn("admission rejected scheduled run, skipping",
			"schedule_id", def.ID.String(), "next_run", next)
	default:
		s.markSkipped(ctx, def, next, active)
		s.logger.Error("failed to spawn scheduled run", "schedule_id", def.ID.String(), "error", err)
	}
}

func (s *Scheduler) markSkipped(ctx context.Context, def *db.ScheduledScan, next time.Time, active bool) {
	if err := s.store.MarkSkipped(ctx, def.ID, next, active); err != nil {
		s.logger.Error("failed to record skipped run", "schedule_id", def.ID.String(), "error", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementSchedulerSkipped()
	}
}

// buildRequest converts a definition into a submission.
func (s *Scheduler) buildRequest(def *db.ScheduledScan) (*engine.SubmitRequest, error) {
	targetIDs, err := db.TargetUUIDs(def.TargetIDs)
	if err != nil {
		return nil, err
	}
	scheduleID := def.ID
	return &engine.SubmitRequest{
		Name:       def.Name,
		ScanType:   def.ScanType,
		Params:     json.RawMessage(def.Params),
		TargetIDs:  targetIDs,
		ScheduleID: &scheduleID,
	}, nil
}

// advance computes the next run strictly after now by stepping one
// interval at a time from the previous next-run. Intervals that elapsed
// while the definition was overdue are passed over; each due interval
// spawns at most once. One-shot definitions deactivate instead.
func (s *Scheduler) advance(def *db.ScheduledScan, now time.Time) (next time.Time, active bool, err error) {
	if def.ScheduleType == db.ScheduleTypeOnce {
		return def.NextRun, false, nil
	}

	next = def.NextRun
	for i := 0; i < maxCatchUpSteps; i++ {
		next, err = stepOnce(def, next)
		if err != nil {
			return time.Time{}, false, err
		}
		if next.After(now) {
			return next, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("definition %s cannot catch up to the present", def.ID)
}

// stepOnce advances from one scheduled instant to the next.
func stepOnce(def *db.ScheduledScan, from time.Time) (time.Time, error) {
	switch def.ScheduleType {
	case db.ScheduleTypeDaily:
		return from.Add(24 * time.Hour), nil
	case db.ScheduleTypeWeekly:
		return from.Add(7 * 24 * time.Hour), nil
	case db.ScheduleTypeMonthly:
		return from.AddDate(0, 1, 0), nil
	case db.ScheduleTypeInterval:
		if def.IntervalSecs == nil || *def.IntervalSecs <= 0 {
			return time.Time{}, fmt.Errorf("interval definition without a positive interval")
		}
		return from.Add(time.Duration(*def.IntervalSecs) * time.Second), nil
	case db.ScheduleTypeCron:
		if def.CronExpression == nil {
			return time.Time{}, fmt.Errorf("cron definition without an expression")
		}
		schedule, err := cron.ParseStandard(*def.CronExpression)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		return schedule.Next(from), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", def.ScheduleType)
	}
}

// ValidateDefinition checks the schedule fields of a definition before it
// is persisted.
func ValidateDefinition(scheduleType string, intervalSecs *int64, cronExpression *string) error {
	switch scheduleType {
	case db.ScheduleTypeOnce, db.ScheduleTypeDaily, db.ScheduleTypeWeekly, db.ScheduleTypeMonthly:
		return nil
	case db.ScheduleTypeInterval:
		if intervalSecs == nil || *intervalSecs <= 0 {
			return errors.NewValidationError("interval schedules require a positive interval_seconds", "interval_seconds")
		}
		return nil
	case db.ScheduleTypeCron:
		if cronExpression == nil || *cronExpression == "" {
			return errors.NewValidationError("cron schedules require a cron_expression", "cron_expression")
		}
		if _, err := cron.ParseStandard(*cronExpression); err != nil {
			ve := errors.NewValidationError("invalid cron expression", "cron_expression")
			ve.Cause = err
			return ve
		}
		return nil
	default:
		return errors.NewValidationError(
			fmt.Sprintf("schedule_type must be one of once, daily, weekly, monthly, interval, cron (got %q)", scheduleType),
			"schedule_type")
	}
}
