package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/approval-service/internal/domain"
)

func seedActiveScheduler(t *testing.T, repo *fakeRepo, institutionID uuid.UUID, nextJob, endDate time.Time) *domain.TransferScheduler {
	t.Helper()
	scheduler := &domain.TransferScheduler{
		ID:            uuid.New(),
		InstitutionID: institutionID,
		ScheduleType:  domain.ScheduleDaily,
		Status:        domain.SchedulerActive,
		StartDate:     nextJob.AddDate(0, -1, 0),
		EndDate:       endDate,
		NextJobDate:   nextJob,
	}
	if err := repo.CreateScheduler(context.Background(), scheduler); err != nil {
		t.Fatalf("failed to seed scheduler: %v", err)
	}
	return scheduler
}

func linkApprovedRequest(t *testing.T, repo *fakeRepo, institutionID, schedulerID uuid.UUID) *domain.TransferRequest {
	t.Helper()
	request := &domain.TransferRequest{
		ID:                 uuid.New(),
		InstitutionID:      institutionID,
		SchedulerID:        &schedulerID,
		UploadedBy:         uuid.New(),
		TransferOption:     domain.TransferSingle,
		SourceAccount:      "0123456789",
		DestinationAccount: "9876543210",
		DestinationBank:    "058",
		Amount:             10_000,
		State:              domain.StateApproved,
	}
	if err := repo.CreateTransferRequest(context.Background(), request); err != nil {
		t.Fatalf("failed to seed scheduled request: %v", err)
	}
	return request
}

func TestSweepDispatchesDueSchedulers(t *testing.T) {
	repo := newFakeRepo()
	institutionID := repo.seedInstitution(t, 1_000_000, 500_000)
	executor := newSignalExecutor()
	sweep := NewSchedulerSweep(repo, executor, testLogger())

	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	sweep.now = func() time.Time { return now }

	scheduler := seedActiveScheduler(t, repo, institutionID, now.Add(-time.Hour), now.AddDate(0, 1, 0))
	request := linkApprovedRequest(t, repo, institutionID, scheduler.ID)

	if processed := sweep.SweepDueSchedulers(context.Background()); processed != 1 {
		t.Fatalf("expected 1 scheduler processed, got %d", processed)
	}
	if got := executor.awaitDispatch(t); got != request.ID {
		t.Fatalf("expected dispatch for %s, got %s", request.ID, got)
	}

	rolled, err := repo.FindSchedulerByID(context.Background(), scheduler.ID)
	if err != nil {
		t.Fatalf("failed to reload scheduler: %v", err)
	}
	if rolled.LastJobDate == nil || !rolled.LastJobDate.Equal(now) {
		t.Fatalf("expected LastJobDate %v, got %v", now, rolled.LastJobDate)
	}
	if !rolled.NextJobDate.Equal(now.AddDate(0, 0, 1)) {
		t.Fatalf("expected the daily scheduler rolled one day forward, got %v", rolled.NextJobDate)
	}
}

func TestSweepIsIdempotentPerTick(t *testing.T) {
	repo := newFakeRepo()
	institutionID := repo.seedInstitution(t, 1_000_000, 500_000)
	executor := newSignalExecutor()
	sweep := NewSchedulerSweep(repo, executor, testLogger())

	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	sweep.now = func() time.Time { return now }

	scheduler := seedActiveScheduler(t, repo, institutionID, now.Add(-time.Hour), now.AddDate(0, 1, 0))
	linkApprovedRequest(t, repo, institutionID, scheduler.ID)

	if processed := sweep.SweepDueSchedulers(context.Background()); processed != 1 {
		t.Fatalf("expected the first sweep to process the scheduler, got %d", processed)
	}
	executor.awaitDispatch(t)

	// The roll-forward pushed NextJobDate past `now`; a second sweep at the
	// same instant must find nothing.
	if processed := sweep.SweepDueSchedulers(context.Background()); processed != 0 {
		t.Fatalf("expected the second sweep to be a no-op, got %d", processed)
	}
	executor.expectNoDispatch(t)
}

func TestSweepSkipsSchedulersOutsideTheirWindow(t *testing.T) {
	repo := newFakeRepo()
	institutionID := repo.seedInstitution(t, 1_000_000, 500_000)
	executor := newSignalExecutor()
	sweep := NewSchedulerSweep(repo, executor, testLogger())

	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	sweep.now = func() time.Time { return now }

	// Due date in the past but the window already closed.
	expired := seedActiveScheduler(t, repo, institutionID, now.Add(-48*time.Hour), now.Add(-24*time.Hour))
	linkApprovedRequest(t, repo, institutionID, expired.ID)

	// Not yet due.
	future := seedActiveScheduler(t, repo, institutionID, now.Add(time.Hour), now.AddDate(0, 1, 0))
	linkApprovedRequest(t, repo, institutionID, future.ID)

	// Inactive schedulers never run.
	inactive := seedActiveScheduler(t, repo, institutionID, now.Add(-time.Hour), now.AddDate(0, 1, 0))
	repo.mu.Lock()
	stored := repo.schedulers[inactive.ID]
	stored.Status = domain.SchedulerInactive
	repo.schedulers[inactive.ID] = stored
	repo.mu.Unlock()

	if processed := sweep.SweepDueSchedulers(context.Background()); processed != 0 {
		t.Fatalf("expected no schedulers processed, got %d", processed)
	}
	executor.expectNoDispatch(t)
}

func TestSweepIsolatesPerSchedulerFailures(t *testing.T) {
	repo := newFakeRepo()
	institutionID := repo.seedInstitution(t, 1_000_000, 500_000)
	executor := newSignalExecutor()
	sweep := NewSchedulerSweep(repo, executor, testLogger())

	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	sweep.now = func() time.Time { return now }

	broken := seedActiveScheduler(t, repo, institutionID, now.Add(-time.Hour), now.AddDate(0, 1, 0))
	repo.rollErr[broken.ID] = errFor("row lock timeout")
	linkApprovedRequest(t, repo, institutionID, broken.ID)

	healthy := seedActiveScheduler(t, repo, institutionID, now.Add(-time.Hour), now.AddDate(0, 1, 0))
	request := linkApprovedRequest(t, repo, institutionID, healthy.ID)

	if processed := sweep.SweepDueSchedulers(context.Background()); processed != 1 {
		t.Fatalf("expected the healthy scheduler to process despite the broken one, got %d", processed)
	}
	if got := executor.awaitDispatch(t); got != request.ID {
		t.Fatalf("expected dispatch for the healthy scheduler's request, got %s", got)
	}
	executor.expectNoDispatch(t)
}

func TestSweepCompletesOnceSchedulers(t *testing.T) {
	repo := newFakeRepo()
	institutionID := repo.seedInstitution(t, 1_000_000, 500_000)
	executor := newSignalExecutor()
	sweep := NewSchedulerSweep(repo, executor, testLogger())

	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	sweep.now = func() time.Time { return now }

	scheduler := seedActiveScheduler(t, repo, institutionID, now.Add(-time.Hour), now.AddDate(0, 1, 0))
	repo.mu.Lock()
	stored := repo.schedulers[scheduler.ID]
	stored.ScheduleType = domain.ScheduleOnce
	repo.schedulers[scheduler.ID] = stored
	repo.mu.Unlock()
	linkApprovedRequest(t, repo, institutionID, scheduler.ID)

	if processed := sweep.SweepDueSchedulers(context.Background()); processed != 1 {
		t.Fatalf("expected the one-shot scheduler to run, got %d", processed)
	}
	executor.awaitDispatch(t)

	completed, err := repo.FindSchedulerByID(context.Background(), scheduler.ID)
	if err != nil {
		t.Fatalf("failed to reload scheduler: %v", err)
	}
	if !completed.Completed {
		t.Fatalf("expected the one-shot scheduler marked completed")
	}

	// Completed schedulers are never reconsidered, even at their due time.
	if processed := sweep.SweepDueSchedulers(context.Background()); processed != 0 {
		t.Fatalf("expected completed scheduler to be skipped, got %d", processed)
	}
	executor.expectNoDispatch(t)
}
