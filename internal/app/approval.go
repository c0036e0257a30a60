/**
 * @description
 * The approval state machine. Advances a transfer (or bulk transfer) request
 * through created -> checked -> verified -> approved/declined using
 * role-gated transitions, appends an audit entry per transition, fans
 * notifications out to the next role in the chain, and on full approval
 * either activates the linked scheduler or hands the request to the transfer
 * orchestrator.
 *
 * Key behaviors:
 * - Every transition first validates the acting mandate's OTP; a stale or
 *   mismatched token aborts before any state is touched.
 * - Transitions on one request serialize behind a per-request lock; the
 *   loser of a race observes AlreadyProcessed or NotReady, never corrupted
 *   gates. The conditional UPDATE in the store is the second line of
 *   defense across processes.
 * - Notification dispatch and orchestrated execution are asynchronous and
 *   never block the transition path.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/approval-service/internal/domain"
	"github.com/corepay/approval-service/internal/store"
)

// Executor is the orchestrator contract the state machine hands approved
// requests to.
type Executor interface {
	ExecuteSingle(ctx context.Context, request *domain.TransferRequest) domain.ExecutionAck
	ExecuteBulk(ctx context.Context, bulk *domain.BulkTransferRequest) []domain.ExecutionAck
}

// requestLocks serializes transitions per request id. Entries are
// reference-counted and evicted once the last holder releases, so the
// registry stays bounded by the number of in-flight transitions.
type requestLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*requestLock
}

type requestLock struct {
	mu   sync.Mutex
	refs int
}

func newRequestLocks() *requestLocks {
	return &requestLocks{locks: make(map[uuid.UUID]*requestLock)}
}

func (l *requestLocks) acquire(id uuid.UUID) *requestLock {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &requestLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()
	entry.mu.Lock()
	return entry
}

func (l *requestLocks) release(id uuid.UUID, entry *requestLock) {
	entry.mu.Unlock()
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}

// ApprovalMachine applies role-gated transitions to requests.
type ApprovalMachine struct {
	repo     store.Repository
	otp      *OTPGate
	notifier Notifier
	executor Executor
	locks    *requestLocks
}

// NewApprovalMachine creates the state machine.
func NewApprovalMachine(repo store.Repository, otp *OTPGate, notifier Notifier, executor Executor) *ApprovalMachine {
	return &ApprovalMachine{
		repo:     repo,
		otp:      otp,
		notifier: notifier,
		executor: executor,
		locks:    newRequestLocks(),
	}
}

// decideTransition is the pure legality core of the machine: given the
// current state and the acting role's action, return the resulting state or
// the sentinel explaining why the transition is illegal.
func decideTransition(current domain.RequestState, role domain.Role, action domain.ApprovalAction, hasReason bool) (domain.RequestState, error) {
	if action != domain.ActionApprove && action != domain.ActionDecline {
		return current, ErrInvalidAction
	}
	if current == domain.StateDeclined {
		return current, ErrAlreadyProcessed
	}

	switch role {
	case domain.RoleUploader:
		// The uploader's only move is releasing a freshly created request
		// into the chain.
		if action != domain.ActionApprove {
			return current, ErrInvalidAction
		}
		if current.Checked() {
			return current, ErrAlreadyProcessed
		}
		return domain.StateChecked, nil

	case domain.RoleVerifier:
		if !current.Checked() {
			return current, ErrNotReady
		}
		if current.Verified() {
			return current, ErrAlreadyProcessed
		}
		if action == domain.ActionDecline {
			if !hasReason {
				return current, ErrInvalidAction
			}
			return domain.StateDeclined, nil
		}
		return domain.StateVerified, nil

	case domain.RoleAuthorizer:
		if !current.Checked() || !current.Verified() {
			return current, ErrNotReady
		}
		if current.Approved() {
			return current, ErrAlreadyProcessed
		}
		if action == domain.ActionDecline {
			if !hasReason {
				return current, ErrInvalidAction
			}
			return domain.StateDeclined, nil
		}
		return domain.StateApproved, nil
	}

	return current, ErrInvalidAction
}

// Advance applies one role-gated transition to a single transfer request.
func (m *ApprovalMachine) Advance(ctx context.Context, requestID uuid.UUID, mandate *domain.Mandate, payload domain.AdvancePayload) (*domain.TransferRequest, error) {
	lock := m.locks.acquire(requestID)
	defer m.locks.release(requestID, lock)

	request, err := m.repo.FindTransferRequestByID(ctx, requestID)
	if err != nil {
		if err == store.ErrRequestNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if request.InstitutionID != mandate.InstitutionID {
		return nil, ErrPermissionDenied
	}
	if request.BulkParentID != nil {
		// Children share their parent's gates; every transition goes through
		// the bulk parent and cascades down.
		return nil, ErrInvalidAction
	}

	// OTP check happens before any gate is touched; a failure leaves the
	// request exactly as it was.
	if err := m.otp.Validate(ctx, mandate, payload.OTP); err != nil {
		return nil, err
	}

	next, err := decideTransition(request.State, mandate.Role, payload.Action, hasText(payload.DeclineReason))
	if err != nil {
		return nil, err
	}

	updated, err := m.repo.TransitionTransferRequest(ctx, requestID, request.State, next, payload.DeclineReason)
	if err != nil {
		return nil, fmt.Errorf("failed to persist transition: %w", err)
	}
	if !updated {
		// A concurrent transition moved the request first.
		return nil, ErrAlreadyProcessed
	}

	previous := request.State
	request.State = next
	if next == domain.StateDeclined {
		request.DeclineReason = payload.DeclineReason
	}

	m.appendAudit(ctx, requestID, mandate, payload, next)
	m.fanOutNotifications(ctx, request.InstitutionID, mandate.Role, next, request.Narration)

	if next == domain.StateApproved {
		m.onFullApproval(ctx, request)
	}

	log.Printf("level=info component=approval msg=\"transition applied\" request_id=%s role=%s from=%s to=%s", requestID, mandate.Role, previous, next)
	return request, nil
}

// AdvanceBulk applies one role-gated transition to a bulk parent request.
// The transition rules are identical; full approval fans out to the
// orchestrator's bulk path instead of a single execution.
func (m *ApprovalMachine) AdvanceBulk(ctx context.Context, requestID uuid.UUID, mandate *domain.Mandate, payload domain.AdvancePayload) (*domain.BulkTransferRequest, error) {
	lock := m.locks.acquire(requestID)
	defer m.locks.release(requestID, lock)

	bulk, err := m.repo.FindBulkTransferRequestByID(ctx, requestID)
	if err != nil {
		if err == store.ErrRequestNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if bulk.InstitutionID != mandate.InstitutionID {
		return nil, ErrPermissionDenied
	}

	if err := m.otp.Validate(ctx, mandate, payload.OTP); err != nil {
		return nil, err
	}

	next, err := decideTransition(bulk.State, mandate.Role, payload.Action, hasText(payload.DeclineReason))
	if err != nil {
		return nil, err
	}

	updated, err := m.repo.TransitionBulkTransferRequest(ctx, requestID, bulk.State, next, payload.DeclineReason)
	if err != nil {
		return nil, fmt.Errorf("failed to persist transition: %w", err)
	}
	if !updated {
		return nil, ErrAlreadyProcessed
	}

	bulk.State = next
	if next == domain.StateDeclined {
		bulk.DeclineReason = payload.DeclineReason
	}

	m.appendAudit(ctx, requestID, mandate, payload, next)
	m.fanOutNotifications(ctx, bulk.InstitutionID, mandate.Role, next, bulk.Narration)

	if next == domain.StateApproved {
		if bulk.Scheduled() {
			if err := m.repo.ActivateScheduler(ctx, *bulk.SchedulerID); err != nil {
				log.Printf("level=error component=approval msg=\"scheduler activation failed\" scheduler_id=%s err=%v", *bulk.SchedulerID, err)
			}
		} else {
			go func(b domain.BulkTransferRequest) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				m.executor.ExecuteBulk(ctx, &b)
			}(*bulk)
		}
	}

	return bulk, nil
}

// ReleaseSubmitted moves a freshly created request into checked on behalf of
// the submitting uploader. The submitter's OTP was already validated during
// submission, so the gate is not consulted again.
func (m *ApprovalMachine) ReleaseSubmitted(ctx context.Context, request *domain.TransferRequest, mandate *domain.Mandate) error {
	updated, err := m.repo.TransitionTransferRequest(ctx, request.ID, domain.StateCreated, domain.StateChecked, nil)
	if err != nil {
		return fmt.Errorf("failed to release request: %w", err)
	}
	if !updated {
		return ErrAlreadyProcessed
	}
	request.State = domain.StateChecked
	m.appendAudit(ctx, request.ID, mandate, domain.AdvancePayload{Action: domain.ActionApprove}, domain.StateChecked)
	m.fanOutNotifications(ctx, request.InstitutionID, mandate.Role, domain.StateChecked, request.Narration)
	return nil
}

// ReleaseSubmittedBulk is ReleaseSubmitted for a bulk parent.
func (m *ApprovalMachine) ReleaseSubmittedBulk(ctx context.Context, bulk *domain.BulkTransferRequest, mandate *domain.Mandate) error {
	updated, err := m.repo.TransitionBulkTransferRequest(ctx, bulk.ID, domain.StateCreated, domain.StateChecked, nil)
	if err != nil {
		return fmt.Errorf("failed to release bulk request: %w", err)
	}
	if !updated {
		return ErrAlreadyProcessed
	}
	bulk.State = domain.StateChecked
	m.appendAudit(ctx, bulk.ID, mandate, domain.AdvancePayload{Action: domain.ActionApprove}, domain.StateChecked)
	m.fanOutNotifications(ctx, bulk.InstitutionID, mandate.Role, domain.StateChecked, bulk.Narration)
	return nil
}

// onFullApproval routes an approved single request: scheduled requests defer
// to the scheduler driver, everything else goes straight to the orchestrator.
// Settlement failure never reverses the approval.
func (m *ApprovalMachine) onFullApproval(ctx context.Context, request *domain.TransferRequest) {
	if request.Scheduled() {
		if err := m.repo.ActivateScheduler(ctx, *request.SchedulerID); err != nil {
			log.Printf("level=error component=approval msg=\"scheduler activation failed\" scheduler_id=%s err=%v", *request.SchedulerID, err)
		}
		return
	}
	go func(r domain.TransferRequest) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		m.executor.ExecuteSingle(ctx, &r)
	}(*request)
}

func (m *ApprovalMachine) appendAudit(ctx context.Context, requestID uuid.UUID, mandate *domain.Mandate, payload domain.AdvancePayload, result domain.RequestState) {
	entry := &domain.ApprovalAudit{
		ID:            uuid.New(),
		RequestID:     requestID,
		MandateID:     mandate.ID,
		Role:          mandate.Role,
		Action:        payload.Action,
		ResultState:   result,
		DeclineReason: payload.DeclineReason,
	}
	if err := m.repo.AppendApprovalAudit(ctx, entry); err != nil {
		// The transition already committed; losing an audit row is logged,
		// not surfaced.
		log.Printf("level=error component=approval msg=\"audit append failed\" request_id=%s err=%v", requestID, err)
	}
}

// fanOutNotifications tells the next role in the chain (or everyone, on a
// terminal decision) that the request needs or received attention.
func (m *ApprovalMachine) fanOutNotifications(ctx context.Context, institutionID uuid.UUID, actor domain.Role, result domain.RequestState, narration string) {
	if m.notifier == nil {
		return
	}

	var recipients []domain.Mandate
	var err error
	var subject string

	switch {
	case result == domain.StateChecked:
		recipients, err = m.repo.FindMandatesByRole(ctx, institutionID, domain.RoleVerifier)
		subject = "Transfer request awaiting verification"
	case result == domain.StateVerified:
		recipients, err = m.repo.FindMandatesByRole(ctx, institutionID, domain.RoleAuthorizer)
		subject = "Transfer request awaiting authorization"
	case result == domain.StateApproved:
		recipients, err = m.repo.FindMandatesByInstitution(ctx, institutionID)
		subject = "Transfer request fully approved"
	case result == domain.StateDeclined:
		recipients, err = m.repo.FindMandatesByInstitution(ctx, institutionID)
		subject = "Transfer request declined"
	default:
		return
	}
	if err != nil {
		log.Printf("level=warn component=approval msg=\"notification recipients lookup failed\" institution_id=%s err=%v", institutionID, err)
		return
	}

	body := fmt.Sprintf("Request %q moved to %s by the %s.", narration, result, actor)
	for _, r := range recipients {
		m.notifier.SendEmail(r.Email, subject, body)
	}
}

func hasText(s *string) bool {
	return s != nil && *s != ""
}
