/**
 * @description
 * Scheduler driver: the periodic sweep over active, due, non-completed
 * recurrence schedulers. Each due scheduler is rolled forward through the
 * recurrence calculator and its approved requests are dispatched to the
 * orchestrator concurrently, fire-and-forget. One scheduler's failure never
 * aborts the sweep of the others, and sweeps on the same scheduler never
 * overlap.
 *
 * The cron wiring lives in Driver; SweepDueSchedulers is also reachable from
 * the HTTP ScheduleTick endpoint for external cron triggers.
 */

package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/corepay/approval-service/internal/store"
)

// SchedulerSweep runs the periodic scheduler scan.
type SchedulerSweep struct {
	repo     store.Repository
	executor Executor
	logger   *slog.Logger
	now      func() time.Time

	// inFlight guards each scheduler so a slow sweep and the next tick (or a
	// concurrent HTTP-triggered tick) cannot process the same scheduler
	// twice.
	inFlight sync.Map // uuid.UUID -> struct{}
}

// NewSchedulerSweep creates the sweep runner.
func NewSchedulerSweep(repo store.Repository, executor Executor, logger *slog.Logger) *SchedulerSweep {
	return &SchedulerSweep{
		repo:     repo,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}
}

// SweepDueSchedulers selects every due scheduler and processes each one
// independently. Returns the number of schedulers processed this tick.
func (s *SchedulerSweep) SweepDueSchedulers(ctx context.Context) int {
	now := s.now()
	schedulers, err := s.repo.FindDueSchedulers(ctx, now)
	if err != nil {
		s.logger.Error("due scheduler scan failed", "error", err)
		return 0
	}
	if len(schedulers) == 0 {
		return 0
	}

	s.logger.Info("schedulers due for dispatch", "count", len(schedulers))

	processed := 0
	for i := range schedulers {
		scheduler := schedulers[i]
		if _, racing := s.inFlight.LoadOrStore(scheduler.ID, struct{}{}); racing {
			s.logger.Warn("scheduler already being processed; skipping", "scheduler_id", scheduler.ID)
			continue
		}

		func() {
			defer s.inFlight.Delete(scheduler.ID)
			if err := s.processScheduler(ctx, scheduler.ID, now); err != nil {
				s.logger.Error("scheduler processing failed", "scheduler_id", scheduler.ID, "error", err)
				return
			}
			processed++
		}()
	}

	return processed
}

// processScheduler rolls one scheduler forward and dispatches its approved
// requests. The roll-forward happens first so a dispatch failure cannot
// cause double processing on the next tick.
func (s *SchedulerSweep) processScheduler(ctx context.Context, schedulerID uuid.UUID, now time.Time) error {
	scheduler, err := s.repo.FindSchedulerByID(ctx, schedulerID)
	if err != nil {
		return err
	}
	if !scheduler.Due(now) {
		// Rolled forward by a competing sweep between scan and lock.
		return nil
	}

	roll := NextRun(scheduler, now)
	if err := s.repo.RollSchedulerForward(ctx, scheduler.ID, roll.LastJobDate, roll.NextJobDate, roll.Completed); err != nil {
		return err
	}
	s.logger.Info("scheduler rolled forward",
		"scheduler_id", scheduler.ID,
		"schedule_type", scheduler.ScheduleType,
		"next_job_date", roll.NextJobDate,
		"completed", roll.Completed,
	)

	requests, err := s.repo.FindApprovedRequestsByScheduler(ctx, scheduler.ID)
	if err != nil {
		return err
	}

	for i := range requests {
		request := requests[i]
		go func() {
			dispatchCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			ack := s.executor.ExecuteSingle(dispatchCtx, &request)
			if ack.Failed() {
				s.logger.Error("scheduled dispatch failed", "scheduler_id", scheduler.ID, "request_id", request.ID, "error", ack.Err)
			}
		}()
	}

	return nil
}

// Driver owns the cron loop that invokes the sweep on a deployment-defined
// interval.
type Driver struct {
	cron   *cron.Cron
	sweep  *SchedulerSweep
	logger *slog.Logger
	spec   string
}

// NewDriver creates a cron driver for the sweep.
func NewDriver(sweep *SchedulerSweep, logger *slog.Logger, cronSpec string) *Driver {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Driver{
		cron:   c,
		sweep:  sweep,
		logger: logger,
		spec:   cronSpec,
	}
}

// Start registers the sweep job and starts the cron loop.
func (d *Driver) Start() {
	if _, err := d.cron.AddFunc(d.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		d.sweep.SweepDueSchedulers(ctx)
	}); err != nil {
		d.logger.Error("failed to schedule sweep job", "error", err, "schedule", d.spec)
		return
	}
	d.logger.Info("scheduled recurrence sweep job", "schedule", d.spec)
	d.cron.Start()
}

// Stop gracefully stops the cron loop.
func (d *Driver) Stop() context.Context {
	return d.cron.Stop()
}
