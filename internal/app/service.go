/**
 * @description
 * This file contains the service facade for the approval workflow engine. It
 * wires the limit policy, OTP gate, approval state machine, recurrence
 * scheduler sweep and orchestrator behind the operations the API layer
 * exposes: SubmitTransfer, SubmitBulkTransfer, Advance, ScheduleTick,
 * ChangePassword and IssueOTP.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID generation.
 * - golang.org/x/crypto/bcrypt: For password hashing on ChangePassword.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/corepay/approval-service/internal/domain"
	"github.com/corepay/approval-service/internal/store"
)

const minPasswordLength = 8

// Service exposes the approval workflow operations.
type Service struct {
	repo    store.Repository
	limits  *LimitPolicy
	machine *ApprovalMachine
	otp     *OTPGate
	sweep   *SchedulerSweep
	now     func() time.Time
}

// NewService creates the service facade.
func NewService(repo store.Repository, limits *LimitPolicy, machine *ApprovalMachine, otp *OTPGate, sweep *SchedulerSweep) *Service {
	return &Service{
		repo:    repo,
		limits:  limits,
		machine: machine,
		otp:     otp,
		sweep:   sweep,
		now:     time.Now,
	}
}

// loadActingMandate fetches the mandate and enforces the financial-action
// invariant: only an active mandate that has changed its initial password may
// act.
func (s *Service) loadActingMandate(ctx context.Context, mandateID uuid.UUID) (*domain.Mandate, error) {
	mandate, err := s.repo.FindMandateByID(ctx, mandateID)
	if err != nil {
		if err == store.ErrMandateNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !mandate.CanTransact() {
		return nil, ErrPermissionDenied
	}
	return mandate, nil
}

// SubmitTransfer validates a proposed transfer against the limit policy and,
// when accepted, creates the request and releases it into the approval chain
// with the uploader's check already recorded.
func (s *Service) SubmitTransfer(ctx context.Context, mandateID uuid.UUID, payload domain.SubmitTransferPayload) (*domain.TransferRequest, error) {
	mandate, err := s.loadActingMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}

	if err := s.limits.Validate(ctx, mandate, payload.Amount, payload.SourceAccount); err != nil {
		return nil, err
	}
	if err := s.otp.Validate(ctx, mandate, payload.OTP); err != nil {
		return nil, err
	}

	var schedulerID *uuid.UUID
	if payload.Schedule != nil {
		scheduler, err := s.createScheduler(ctx, mandate.InstitutionID, payload.Schedule)
		if err != nil {
			return nil, err
		}
		schedulerID = &scheduler.ID
	}

	request := &domain.TransferRequest{
		ID:                 uuid.New(),
		InstitutionID:      mandate.InstitutionID,
		SchedulerID:        schedulerID,
		UploadedBy:         mandate.ID,
		TransferOption:     domain.TransferSingle,
		SourceAccount:      payload.SourceAccount,
		DestinationAccount: payload.DestinationAccount,
		DestinationBank:    payload.DestinationBank,
		Amount:             payload.Amount,
		Narration:          payload.Narration,
		State:              domain.StateCreated,
	}
	if err := s.repo.CreateTransferRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}

	if err := s.machine.ReleaseSubmitted(ctx, request, mandate); err != nil {
		return nil, err
	}
	return request, nil
}

// SubmitBulkTransfer validates the batch total against the limit policy and
// creates the bulk parent with all of its children under one approval
// lifecycle.
func (s *Service) SubmitBulkTransfer(ctx context.Context, mandateID uuid.UUID, payload domain.SubmitBulkTransferPayload) (*domain.BulkTransferRequest, error) {
	mandate, err := s.loadActingMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	if len(payload.Transfers) == 0 {
		return nil, ErrInvalidAction
	}

	var total int64
	for _, item := range payload.Transfers {
		total += item.Amount
	}

	if err := s.limits.Validate(ctx, mandate, total, payload.SourceAccount); err != nil {
		return nil, err
	}
	if err := s.otp.Validate(ctx, mandate, payload.OTP); err != nil {
		return nil, err
	}

	var schedulerID *uuid.UUID
	if payload.Schedule != nil {
		scheduler, err := s.createScheduler(ctx, mandate.InstitutionID, payload.Schedule)
		if err != nil {
			return nil, err
		}
		schedulerID = &scheduler.ID
	}

	bulk := &domain.BulkTransferRequest{
		ID:            uuid.New(),
		InstitutionID: mandate.InstitutionID,
		SchedulerID:   schedulerID,
		UploadedBy:    mandate.ID,
		SourceAccount: payload.SourceAccount,
		TotalAmount:   total,
		ChildCount:    len(payload.Transfers),
		Narration:     payload.Narration,
		State:         domain.StateCreated,
	}

	children := make([]domain.TransferRequest, 0, len(payload.Transfers))
	for _, item := range payload.Transfers {
		children = append(children, domain.TransferRequest{
			ID:                 uuid.New(),
			InstitutionID:      mandate.InstitutionID,
			BulkParentID:       &bulk.ID,
			SchedulerID:        schedulerID,
			UploadedBy:         mandate.ID,
			TransferOption:     domain.TransferBulk,
			SourceAccount:      payload.SourceAccount,
			DestinationAccount: item.DestinationAccount,
			DestinationBank:    item.DestinationBank,
			Amount:             item.Amount,
			Narration:          item.Narration,
			State:              domain.StateCreated,
		})
	}

	if err := s.repo.CreateBulkTransferRequest(ctx, bulk, children); err != nil {
		return nil, fmt.Errorf("failed to create bulk transfer request: %w", err)
	}

	if err := s.machine.ReleaseSubmittedBulk(ctx, bulk, mandate); err != nil {
		return nil, err
	}
	return bulk, nil
}

// AdvanceResult carries whichever kind of request an Advance call touched.
type AdvanceResult struct {
	Single *domain.TransferRequest     `json:"request,omitempty"`
	Bulk   *domain.BulkTransferRequest `json:"bulk_request,omitempty"`
}

// Advance applies one role-gated transition to the identified request,
// single or bulk.
func (s *Service) Advance(ctx context.Context, mandateID uuid.UUID, requestID uuid.UUID, payload domain.AdvancePayload) (*AdvanceResult, error) {
	mandate, err := s.loadActingMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}

	request, err := s.machine.Advance(ctx, requestID, mandate, payload)
	if err == nil {
		return &AdvanceResult{Single: request}, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	bulk, err := s.machine.AdvanceBulk(ctx, requestID, mandate, payload)
	if err != nil {
		return nil, err
	}
	return &AdvanceResult{Bulk: bulk}, nil
}

// GetTransferRequest loads a request together with its audit trail.
func (s *Service) GetTransferRequest(ctx context.Context, requestID uuid.UUID) (*domain.TransferRequest, []domain.ApprovalAudit, error) {
	request, err := s.repo.FindTransferRequestByID(ctx, requestID)
	if err != nil {
		if err == store.ErrRequestNotFound {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	audit, err := s.repo.ListApprovalAudit(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return request, audit, nil
}

// IssueOTP issues a fresh one-time token for the mandate and hands it to the
// notification pipeline for out-of-band delivery.
func (s *Service) IssueOTP(ctx context.Context, mandateID uuid.UUID) error {
	mandate, err := s.repo.FindMandateByID(ctx, mandateID)
	if err != nil {
		if err == store.ErrMandateNotFound {
			return ErrNotFound
		}
		return err
	}
	if !mandate.Active {
		return ErrPermissionDenied
	}
	_, err = s.otp.Issue(ctx, mandate)
	return err
}

// ChangePassword sets a new password for the mandate. The change is gated by
// a valid OTP and flips the password-changed flag that unlocks financial
// actions.
func (s *Service) ChangePassword(ctx context.Context, mandateID uuid.UUID, otp, newPassword string) error {
	mandate, err := s.repo.FindMandateByID(ctx, mandateID)
	if err != nil {
		if err == store.ErrMandateNotFound {
			return ErrNotFound
		}
		return err
	}
	if !mandate.Active {
		return ErrPermissionDenied
	}
	if len(newPassword) < minPasswordLength {
		return ErrInvalidAction
	}
	if err := s.otp.Validate(ctx, mandate, otp); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.UpdateMandatePassword(ctx, mandate.ID, string(hash)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	log.Printf("level=info component=mandate msg=\"password changed\" mandate_id=%s", mandate.ID)
	return nil
}

// ScheduleTick runs one sweep over due schedulers. Exposed for external cron
// triggers alongside the in-process driver.
func (s *Service) ScheduleTick(ctx context.Context) int {
	return s.sweep.SweepDueSchedulers(ctx)
}

// createScheduler materializes a recurrence plan as an inactive scheduler.
// The authorizer's final approval activates it.
func (s *Service) createScheduler(ctx context.Context, institutionID uuid.UUID, plan *domain.SchedulePlan) (*domain.TransferScheduler, error) {
	if !plan.ScheduleType.Valid() {
		return nil, ErrInvalidSchedule
	}
	if plan.EndDate.Before(plan.StartDate) {
		return nil, ErrInvalidSchedule
	}
	if plan.DayOfMonth != nil && (*plan.DayOfMonth < 1 || *plan.DayOfMonth > 31) {
		return nil, ErrInvalidSchedule
	}

	scheduler := &domain.TransferScheduler{
		ID:            uuid.New(),
		InstitutionID: institutionID,
		ScheduleType:  plan.ScheduleType,
		DayOfMonth:    plan.DayOfMonth,
		DayOfWeek:     plan.DayOfWeek,
		Status:        domain.SchedulerInactive,
		StartDate:     plan.StartDate,
		EndDate:       plan.EndDate,
		NextJobDate:   plan.StartDate,
	}
	if err := s.repo.CreateScheduler(ctx, scheduler); err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return scheduler, nil
}
