/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the approval-service needs. Keeping the interface here decouples the
 * workflow engine from PostgreSQL and lets the app-layer tests run against
 * hand-rolled fakes.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/approval-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Institution, limit and mandate methods
	FindInstitutionByID(ctx context.Context, institutionID uuid.UUID) (*domain.Institution, error)
	FindLimitByInstitutionID(ctx context.Context, institutionID uuid.UUID) (*domain.Limit, error)
	FindMandateByID(ctx context.Context, mandateID uuid.UUID) (*domain.Mandate, error)
	FindMandatesByRole(ctx context.Context, institutionID uuid.UUID, role domain.Role) ([]domain.Mandate, error)
	FindMandatesByInstitution(ctx context.Context, institutionID uuid.UUID) ([]domain.Mandate, error)
	SetMandateOTP(ctx context.Context, mandateID uuid.UUID, otpHash string, expiresAt time.Time) error
	ClearMandateOTP(ctx context.Context, mandateID uuid.UUID) error
	UpdateMandatePassword(ctx context.Context, mandateID uuid.UUID, passwordHash string) error

	// Transfer request methods
	CreateTransferRequest(ctx context.Context, req *domain.TransferRequest) error
	CreateBulkTransferRequest(ctx context.Context, bulk *domain.BulkTransferRequest, children []domain.TransferRequest) error
	FindTransferRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.TransferRequest, error)
	FindBulkTransferRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.BulkTransferRequest, error)
	FindBulkChildren(ctx context.Context, bulkID uuid.UUID) ([]domain.TransferRequest, error)
	// TransitionTransferRequest conditionally moves a request from one state to
	// another in a single atomic statement. It reports false when the request
	// was not in `from` anymore (a concurrent transition won).
	TransitionTransferRequest(ctx context.Context, requestID uuid.UUID, from, to domain.RequestState, declineReason *string) (bool, error)
	TransitionBulkTransferRequest(ctx context.Context, requestID uuid.UUID, from, to domain.RequestState, declineReason *string) (bool, error)
	RecordExecutionResult(ctx context.Context, requestID uuid.UUID, executionErr *string) error
	SumApprovedTransfersForDay(ctx context.Context, institutionID uuid.UUID, day time.Time) (int64, error)

	// Approval audit trail methods
	AppendApprovalAudit(ctx context.Context, entry *domain.ApprovalAudit) error
	ListApprovalAudit(ctx context.Context, requestID uuid.UUID) ([]domain.ApprovalAudit, error)

	// Scheduler methods
	CreateScheduler(ctx context.Context, scheduler *domain.TransferScheduler) error
	FindSchedulerByID(ctx context.Context, schedulerID uuid.UUID) (*domain.TransferScheduler, error)
	ActivateScheduler(ctx context.Context, schedulerID uuid.UUID) error
	FindDueSchedulers(ctx context.Context, now time.Time) ([]domain.TransferScheduler, error)
	// RollSchedulerForward persists the calculator's result: last/next job
	// dates and the completed flag, in one statement.
	RollSchedulerForward(ctx context.Context, schedulerID uuid.UUID, lastJobDate time.Time, nextJobDate time.Time, completed bool) error
	FindApprovedRequestsByScheduler(ctx context.Context, schedulerID uuid.UUID) ([]domain.TransferRequest, error)

	// Bill payment methods
	FindBillPaymentRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.BillPaymentRequest, error)
	RecordBillVendResult(ctx context.Context, requestID uuid.UUID, providerRef *string, vendToken *string, vendErr *string) error
}
