/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed for institutions, mandates,
 * limits, transfer requests, the approval audit trail, recurrence schedulers
 * and bill-payment records.
 *
 * @notes
 * - State transitions are single conditional UPDATE statements keyed on the
 *   expected current state, so a concurrent transition loses cleanly instead
 *   of clobbering gate flags.
 * - The daily total is computed with a SUM over approved requests created on
 *   the target day, never maintained as a counter.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corepay/approval-service/internal/domain"
)

var (
	ErrInstitutionNotFound = errors.New("institution not found")
	ErrLimitNotFound       = errors.New("limit not found")
	ErrMandateNotFound     = errors.New("mandate not found")
	ErrRequestNotFound     = errors.New("transfer request not found")
	ErrSchedulerNotFound   = errors.New("scheduler not found")
	ErrBillRequestNotFound = errors.New("bill payment request not found")
)

// PostgresRepository is a concrete implementation of the Repository interface
// for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindInstitutionByID retrieves an institution by its ID.
func (r *PostgresRepository) FindInstitutionByID(ctx context.Context, institutionID uuid.UUID) (*domain.Institution, error) {
	var inst domain.Institution
	query := `SELECT id, name, bank_code, ledger_ref, created_at, updated_at FROM institutions WHERE id = $1`
	err := r.db.QueryRow(ctx, query, institutionID).Scan(
		&inst.ID, &inst.Name, &inst.BankCode, &inst.LedgerRef, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInstitutionNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// FindLimitByInstitutionID retrieves the single limit owned by an institution.
func (r *PostgresRepository) FindLimitByInstitutionID(ctx context.Context, institutionID uuid.UUID) (*domain.Limit, error) {
	var limit domain.Limit
	query := `SELECT id, institution_id, daily_limit, transfer_limit, checked, verified, approved, created_at, updated_at
	          FROM limits WHERE institution_id = $1`
	err := r.db.QueryRow(ctx, query, institutionID).Scan(
		&limit.ID, &limit.InstitutionID, &limit.DailyLimit, &limit.TransferLimit,
		&limit.Checked, &limit.Verified, &limit.Approved, &limit.CreatedAt, &limit.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLimitNotFound
		}
		return nil, err
	}
	return &limit, nil
}

const mandateColumns = `id, institution_id, full_name, email, phone, role, active, password_changed, password_hash, otp_hash, otp_expires_at, created_at, updated_at`

func scanMandate(row pgx.Row) (*domain.Mandate, error) {
	var m domain.Mandate
	err := row.Scan(
		&m.ID, &m.InstitutionID, &m.FullName, &m.Email, &m.Phone, &m.Role,
		&m.Active, &m.PasswordChanged, &m.PasswordHash, &m.OTPHash, &m.OTPExpiresAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindMandateByID retrieves a mandate by its ID.
func (r *PostgresRepository) FindMandateByID(ctx context.Context, mandateID uuid.UUID) (*domain.Mandate, error) {
	query := fmt.Sprintf(`SELECT %s FROM mandates WHERE id = $1`, mandateColumns)
	m, err := scanMandate(r.db.QueryRow(ctx, query, mandateID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMandateNotFound
		}
		return nil, err
	}
	return m, nil
}

// FindMandatesByRole retrieves all active mandates of an institution holding
// the given role. Used for notification fan-out after a transition.
func (r *PostgresRepository) FindMandatesByRole(ctx context.Context, institutionID uuid.UUID, role domain.Role) ([]domain.Mandate, error) {
	query := fmt.Sprintf(`SELECT %s FROM mandates WHERE institution_id = $1 AND role = $2 AND active = true`, mandateColumns)
	rows, err := r.db.Query(ctx, query, institutionID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMandates(rows)
}

// FindMandatesByInstitution retrieves every active mandate of an institution.
func (r *PostgresRepository) FindMandatesByInstitution(ctx context.Context, institutionID uuid.UUID) ([]domain.Mandate, error) {
	query := fmt.Sprintf(`SELECT %s FROM mandates WHERE institution_id = $1 AND active = true`, mandateColumns)
	rows, err := r.db.Query(ctx, query, institutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMandates(rows)
}

func collectMandates(rows pgx.Rows) ([]domain.Mandate, error) {
	var mandates []domain.Mandate
	for rows.Next() {
		m, err := scanMandate(rows)
		if err != nil {
			return nil, err
		}
		mandates = append(mandates, *m)
	}
	return mandates, rows.Err()
}

// SetMandateOTP stores a freshly issued OTP hash and its expiry on a mandate.
func (r *PostgresRepository) SetMandateOTP(ctx context.Context, mandateID uuid.UUID, otpHash string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE mandates SET otp_hash = $2, otp_expires_at = $3, updated_at = NOW() WHERE id = $1`,
		mandateID, otpHash, expiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMandateNotFound
	}
	return nil
}

// ClearMandateOTP consumes the mandate's OTP after a successful validation.
func (r *PostgresRepository) ClearMandateOTP(ctx context.Context, mandateID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE mandates SET otp_hash = NULL, otp_expires_at = NULL, updated_at = NOW() WHERE id = $1`,
		mandateID,
	)
	return err
}

// UpdateMandatePassword stores a new password hash and marks the mandate as
// having completed its initial password change.
func (r *PostgresRepository) UpdateMandatePassword(ctx context.Context, mandateID uuid.UUID, passwordHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE mandates SET password_hash = $2, password_changed = true, updated_at = NOW() WHERE id = $1`,
		mandateID, passwordHash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMandateNotFound
	}
	return nil
}

const transferColumns = `id, institution_id, bulk_parent_id, scheduler_id, uploaded_by, transfer_option, source_account, destination_account, destination_bank, amount, narration, state, decline_reason, last_execution_error, created_at, updated_at`

func scanTransfer(row pgx.Row) (*domain.TransferRequest, error) {
	var t domain.TransferRequest
	err := row.Scan(
		&t.ID, &t.InstitutionID, &t.BulkParentID, &t.SchedulerID, &t.UploadedBy,
		&t.TransferOption, &t.SourceAccount, &t.DestinationAccount, &t.DestinationBank,
		&t.Amount, &t.Narration, &t.State, &t.DeclineReason, &t.LastExecutionError,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTransferRequest inserts a new pending transfer request.
func (r *PostgresRepository) CreateTransferRequest(ctx context.Context, req *domain.TransferRequest) error {
	query := `INSERT INTO transfer_requests
	          (id, institution_id, bulk_parent_id, scheduler_id, uploaded_by, transfer_option,
	           source_account, destination_account, destination_bank, amount, narration, state, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`
	_, err := r.db.Exec(ctx, query,
		req.ID, req.InstitutionID, req.BulkParentID, req.SchedulerID, req.UploadedBy,
		req.TransferOption, req.SourceAccount, req.DestinationAccount, req.DestinationBank,
		req.Amount, req.Narration, req.State,
	)
	return err
}

// CreateBulkTransferRequest inserts a bulk parent and its children in one
// transaction so a partially written batch is never visible.
func (r *PostgresRepository) CreateBulkTransferRequest(ctx context.Context, bulk *domain.BulkTransferRequest, children []domain.TransferRequest) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO bulk_transfer_requests
		 (id, institution_id, scheduler_id, uploaded_by, source_account, total_amount, child_count, narration, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		bulk.ID, bulk.InstitutionID, bulk.SchedulerID, bulk.UploadedBy, bulk.SourceAccount,
		bulk.TotalAmount, bulk.ChildCount, bulk.Narration, bulk.State,
	)
	if err != nil {
		return err
	}

	for i := range children {
		child := &children[i]
		_, err = tx.Exec(ctx,
			`INSERT INTO transfer_requests
			 (id, institution_id, bulk_parent_id, scheduler_id, uploaded_by, transfer_option,
			  source_account, destination_account, destination_bank, amount, narration, state, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`,
			child.ID, child.InstitutionID, child.BulkParentID, child.SchedulerID, child.UploadedBy,
			child.TransferOption, child.SourceAccount, child.DestinationAccount, child.DestinationBank,
			child.Amount, child.Narration, child.State,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// FindTransferRequestByID retrieves a single transfer request.
func (r *PostgresRepository) FindTransferRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.TransferRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfer_requests WHERE id = $1`, transferColumns)
	t, err := scanTransfer(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return t, nil
}

// FindBulkTransferRequestByID retrieves a bulk parent request.
func (r *PostgresRepository) FindBulkTransferRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.BulkTransferRequest, error) {
	var b domain.BulkTransferRequest
	query := `SELECT id, institution_id, scheduler_id, uploaded_by, source_account, total_amount, child_count, narration, state, decline_reason, created_at, updated_at
	          FROM bulk_transfer_requests WHERE id = $1`
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&b.ID, &b.InstitutionID, &b.SchedulerID, &b.UploadedBy, &b.SourceAccount,
		&b.TotalAmount, &b.ChildCount, &b.Narration, &b.State, &b.DeclineReason,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &b, nil
}

// FindBulkChildren retrieves every bulk-option child under a parent.
func (r *PostgresRepository) FindBulkChildren(ctx context.Context, bulkID uuid.UUID) ([]domain.TransferRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfer_requests WHERE bulk_parent_id = $1 AND transfer_option = $2 ORDER BY created_at`, transferColumns)
	rows, err := r.db.Query(ctx, query, bulkID, domain.TransferBulk)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []domain.TransferRequest
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, *t)
	}
	return children, rows.Err()
}

// TransitionTransferRequest atomically advances a request's state. The UPDATE
// is keyed on the expected current state so concurrent transitions serialize
// at the database.
func (r *PostgresRepository) TransitionTransferRequest(ctx context.Context, requestID uuid.UUID, from, to domain.RequestState, declineReason *string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE transfer_requests SET state = $3, decline_reason = COALESCE($4, decline_reason), updated_at = NOW()
		 WHERE id = $1 AND state = $2`,
		requestID, from, to, declineReason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionBulkTransferRequest atomically advances a bulk parent's state
// and mirrors the new state onto its children, since children share the
// parent's approval gates.
func (r *PostgresRepository) TransitionBulkTransferRequest(ctx context.Context, requestID uuid.UUID, from, to domain.RequestState, declineReason *string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE bulk_transfer_requests SET state = $3, decline_reason = COALESCE($4, decline_reason), updated_at = NOW()
		 WHERE id = $1 AND state = $2`,
		requestID, from, to, declineReason,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE transfer_requests SET state = $2, decline_reason = COALESCE($3, decline_reason), updated_at = NOW()
		 WHERE bulk_parent_id = $1`,
		requestID, to, declineReason,
	)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RecordExecutionResult stores the outcome of a ledger execution attempt. A
// nil executionErr clears any previous failure.
func (r *PostgresRepository) RecordExecutionResult(ctx context.Context, requestID uuid.UUID, executionErr *string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE transfer_requests SET last_execution_error = $2, updated_at = NOW() WHERE id = $1`,
		requestID, executionErr,
	)
	return err
}

// SumApprovedTransfersForDay computes the institution's total approved
// transfer amount for the day containing `day`.
func (r *PostgresRepository) SumApprovedTransfersForDay(ctx context.Context, institutionID uuid.UUID, day time.Time) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM transfer_requests
	          WHERE institution_id = $1 AND state = $2 AND created_at >= $3 AND created_at < $4`
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	err := r.db.QueryRow(ctx, query, institutionID, domain.StateApproved, start, start.AddDate(0, 0, 1)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// AppendApprovalAudit inserts one audit trail entry.
func (r *PostgresRepository) AppendApprovalAudit(ctx context.Context, entry *domain.ApprovalAudit) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO approval_audit (id, request_id, mandate_id, role, action, result_state, decline_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		entry.ID, entry.RequestID, entry.MandateID, entry.Role, entry.Action, entry.ResultState, entry.DeclineReason,
	)
	return err
}

// ListApprovalAudit retrieves a request's audit trail in transition order.
func (r *PostgresRepository) ListApprovalAudit(ctx context.Context, requestID uuid.UUID) ([]domain.ApprovalAudit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, request_id, mandate_id, role, action, result_state, decline_reason, created_at
		 FROM approval_audit WHERE request_id = $1 ORDER BY created_at`,
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ApprovalAudit
	for rows.Next() {
		var e domain.ApprovalAudit
		if err := rows.Scan(&e.ID, &e.RequestID, &e.MandateID, &e.Role, &e.Action, &e.ResultState, &e.DeclineReason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const schedulerColumns = `id, institution_id, schedule_type, day_of_month, day_of_week, status, completed, start_date, end_date, last_job_date, next_job_date, created_at, updated_at`

func scanScheduler(row pgx.Row) (*domain.TransferScheduler, error) {
	var s domain.TransferScheduler
	err := row.Scan(
		&s.ID, &s.InstitutionID, &s.ScheduleType, &s.DayOfMonth, &s.DayOfWeek,
		&s.Status, &s.Completed, &s.StartDate, &s.EndDate, &s.LastJobDate, &s.NextJobDate,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateScheduler inserts a new recurrence definition.
func (r *PostgresRepository) CreateScheduler(ctx context.Context, scheduler *domain.TransferScheduler) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO transfer_schedulers
		 (id, institution_id, schedule_type, day_of_month, day_of_week, status, completed, start_date, end_date, last_job_date, next_job_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())`,
		scheduler.ID, scheduler.InstitutionID, scheduler.ScheduleType, scheduler.DayOfMonth,
		scheduler.DayOfWeek, scheduler.Status, scheduler.Completed, scheduler.StartDate,
		scheduler.EndDate, scheduler.LastJobDate, scheduler.NextJobDate,
	)
	return err
}

// FindSchedulerByID retrieves a scheduler by its ID.
func (r *PostgresRepository) FindSchedulerByID(ctx context.Context, schedulerID uuid.UUID) (*domain.TransferScheduler, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfer_schedulers WHERE id = $1`, schedulerColumns)
	s, err := scanScheduler(r.db.QueryRow(ctx, query, schedulerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSchedulerNotFound
		}
		return nil, err
	}
	return s, nil
}

// ActivateScheduler flips a scheduler to active. Called by the authorizer's
// final approval; completed schedulers are never reactivated.
func (r *PostgresRepository) ActivateScheduler(ctx context.Context, schedulerID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transfer_schedulers SET status = $2, updated_at = NOW() WHERE id = $1 AND completed = false`,
		schedulerID, domain.SchedulerActive,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSchedulerNotFound
	}
	return nil
}

// FindDueSchedulers selects every scheduler due for dispatch at `now`.
func (r *PostgresRepository) FindDueSchedulers(ctx context.Context, now time.Time) ([]domain.TransferScheduler, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM transfer_schedulers
		 WHERE status = $1 AND completed = false AND next_job_date <= $2 AND end_date >= $2`,
		schedulerColumns,
	)
	rows, err := r.db.Query(ctx, query, domain.SchedulerActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedulers []domain.TransferScheduler
	for rows.Next() {
		s, err := scanScheduler(rows)
		if err != nil {
			return nil, err
		}
		schedulers = append(schedulers, *s)
	}
	return schedulers, rows.Err()
}

// RollSchedulerForward persists a recurrence-calculator result.
func (r *PostgresRepository) RollSchedulerForward(ctx context.Context, schedulerID uuid.UUID, lastJobDate time.Time, nextJobDate time.Time, completed bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transfer_schedulers SET last_job_date = $2, next_job_date = $3, completed = $4, updated_at = NOW() WHERE id = $1`,
		schedulerID, lastJobDate, nextJobDate, completed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSchedulerNotFound
	}
	return nil
}

// FindApprovedRequestsByScheduler loads every fully approved request linked
// to a scheduler, ready for dispatch.
func (r *PostgresRepository) FindApprovedRequestsByScheduler(ctx context.Context, schedulerID uuid.UUID) ([]domain.TransferRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfer_requests WHERE scheduler_id = $1 AND state = $2`, transferColumns)
	rows, err := r.db.Query(ctx, query, schedulerID, domain.StateApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.TransferRequest
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *t)
	}
	return requests, rows.Err()
}

// FindBillPaymentRequestByID retrieves a bill-payment record.
func (r *PostgresRepository) FindBillPaymentRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.BillPaymentRequest, error) {
	var b domain.BillPaymentRequest
	query := `SELECT id, institution_id, uploaded_by, bill_type, source_account, amount, customer_ref, provider_code, package_code, state, provider_ref, vend_token, vend_error, created_at, updated_at
	          FROM bill_payment_requests WHERE id = $1`
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&b.ID, &b.InstitutionID, &b.UploadedBy, &b.BillType, &b.SourceAccount, &b.Amount,
		&b.CustomerRef, &b.ProviderCode, &b.PackageCode, &b.State, &b.ProviderRef, &b.VendToken,
		&b.VendError, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBillRequestNotFound
		}
		return nil, err
	}
	return &b, nil
}

// RecordBillVendResult stores the provider's vend acknowledgement on a bill
// request. Failures are recorded for reconciliation, not retried.
func (r *PostgresRepository) RecordBillVendResult(ctx context.Context, requestID uuid.UUID, providerRef *string, vendToken *string, vendErr *string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE bill_payment_requests
		 SET provider_ref = COALESCE($2, provider_ref), vend_token = COALESCE($3, vend_token), vend_error = $4, updated_at = NOW()
		 WHERE id = $1`,
		requestID, providerRef, vendToken, vendErr,
	)
	return err
}
