package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/corepay/approval-service/internal/domain"
	"github.com/corepay/approval-service/internal/store"
	"github.com/corepay/approval-service/pkg/billpayclient"
	"github.com/corepay/approval-service/pkg/ledgerclient"
)

// fakeRepo is an in-memory store.Repository for app-layer tests. All methods
// copy on read so tests cannot mutate stored rows through returned pointers.
type fakeRepo struct {
	mu sync.Mutex

	institutions map[uuid.UUID]domain.Institution
	limits       map[uuid.UUID]domain.Limit // keyed by institution id
	mandates     map[uuid.UUID]domain.Mandate
	transfers    map[uuid.UUID]domain.TransferRequest
	bulks        map[uuid.UUID]domain.BulkTransferRequest
	schedulers   map[uuid.UUID]domain.TransferScheduler
	bills        map[uuid.UUID]domain.BillPaymentRequest
	audits       []domain.ApprovalAudit

	// approvedToday is the canned answer for SumApprovedTransfersForDay.
	approvedToday int64
	// rollErr injects a failure into RollSchedulerForward per scheduler.
	rollErr map[uuid.UUID]error
}

var _ store.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		institutions: make(map[uuid.UUID]domain.Institution),
		limits:       make(map[uuid.UUID]domain.Limit),
		mandates:     make(map[uuid.UUID]domain.Mandate),
		transfers:    make(map[uuid.UUID]domain.TransferRequest),
		bulks:        make(map[uuid.UUID]domain.BulkTransferRequest),
		schedulers:   make(map[uuid.UUID]domain.TransferScheduler),
		bills:        make(map[uuid.UUID]domain.BillPaymentRequest),
		rollErr:      make(map[uuid.UUID]error),
	}
}

func (r *fakeRepo) FindInstitutionByID(_ context.Context, institutionID uuid.UUID) (*domain.Institution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.institutions[institutionID]
	if !ok {
		return nil, store.ErrInstitutionNotFound
	}
	return &inst, nil
}

func (r *fakeRepo) FindLimitByInstitutionID(_ context.Context, institutionID uuid.UUID) (*domain.Limit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit, ok := r.limits[institutionID]
	if !ok {
		return nil, store.ErrLimitNotFound
	}
	return &limit, nil
}

func (r *fakeRepo) FindMandateByID(_ context.Context, mandateID uuid.UUID) (*domain.Mandate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mandate, ok := r.mandates[mandateID]
	if !ok {
		return nil, store.ErrMandateNotFound
	}
	return &mandate, nil
}

func (r *fakeRepo) FindMandatesByRole(_ context.Context, institutionID uuid.UUID, role domain.Role) ([]domain.Mandate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Mandate
	for _, m := range r.mandates {
		if m.InstitutionID == institutionID && m.Role == role {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindMandatesByInstitution(_ context.Context, institutionID uuid.UUID) ([]domain.Mandate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Mandate
	for _, m := range r.mandates {
		if m.InstitutionID == institutionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRepo) SetMandateOTP(_ context.Context, mandateID uuid.UUID, otpHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mandate, ok := r.mandates[mandateID]
	if !ok {
		return store.ErrMandateNotFound
	}
	mandate.OTPHash = &otpHash
	mandate.OTPExpiresAt = &expiresAt
	r.mandates[mandateID] = mandate
	return nil
}

func (r *fakeRepo) ClearMandateOTP(_ context.Context, mandateID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mandate, ok := r.mandates[mandateID]
	if !ok {
		return store.ErrMandateNotFound
	}
	mandate.OTPHash = nil
	mandate.OTPExpiresAt = nil
	r.mandates[mandateID] = mandate
	return nil
}

func (r *fakeRepo) UpdateMandatePassword(_ context.Context, mandateID uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mandate, ok := r.mandates[mandateID]
	if !ok {
		return store.ErrMandateNotFound
	}
	mandate.PasswordHash = passwordHash
	mandate.PasswordChanged = true
	r.mandates[mandateID] = mandate
	return nil
}

func (r *fakeRepo) CreateTransferRequest(_ context.Context, req *domain.TransferRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers[req.ID] = *req
	return nil
}

func (r *fakeRepo) CreateBulkTransferRequest(_ context.Context, bulk *domain.BulkTransferRequest, children []domain.TransferRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bulks[bulk.ID] = *bulk
	for _, child := range children {
		r.transfers[child.ID] = child
	}
	return nil
}

func (r *fakeRepo) FindTransferRequestByID(_ context.Context, requestID uuid.UUID) (*domain.TransferRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.transfers[requestID]
	if !ok {
		return nil, store.ErrRequestNotFound
	}
	return &req, nil
}

func (r *fakeRepo) FindBulkTransferRequestByID(_ context.Context, requestID uuid.UUID) (*domain.BulkTransferRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bulk, ok := r.bulks[requestID]
	if !ok {
		return nil, store.ErrRequestNotFound
	}
	return &bulk, nil
}

func (r *fakeRepo) FindBulkChildren(_ context.Context, bulkID uuid.UUID) ([]domain.TransferRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TransferRequest
	for _, req := range r.transfers {
		if req.BulkParentID != nil && *req.BulkParentID == bulkID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *fakeRepo) TransitionTransferRequest(_ context.Context, requestID uuid.UUID, from, to domain.RequestState, declineReason *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.transfers[requestID]
	if !ok {
		return false, nil
	}
	if req.State != from {
		return false, nil
	}
	req.State = to
	if to == domain.StateDeclined {
		req.DeclineReason = declineReason
	}
	r.transfers[requestID] = req
	return true, nil
}

func (r *fakeRepo) TransitionBulkTransferRequest(_ context.Context, requestID uuid.UUID, from, to domain.RequestState, declineReason *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bulk, ok := r.bulks[requestID]
	if !ok {
		return false, nil
	}
	if bulk.State != from {
		return false, nil
	}
	bulk.State = to
	if to == domain.StateDeclined {
		bulk.DeclineReason = declineReason
	}
	r.bulks[requestID] = bulk
	for id, child := range r.transfers {
		if child.BulkParentID != nil && *child.BulkParentID == requestID {
			child.State = to
			if to == domain.StateDeclined {
				child.DeclineReason = declineReason
			}
			r.transfers[id] = child
		}
	}
	return true, nil
}

func (r *fakeRepo) RecordExecutionResult(_ context.Context, requestID uuid.UUID, executionErr *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.transfers[requestID]
	if !ok {
		return store.ErrRequestNotFound
	}
	req.LastExecutionError = executionErr
	r.transfers[requestID] = req
	return nil
}

func (r *fakeRepo) SumApprovedTransfersForDay(_ context.Context, _ uuid.UUID, _ time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.approvedToday, nil
}

func (r *fakeRepo) AppendApprovalAudit(_ context.Context, entry *domain.ApprovalAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, *entry)
	return nil
}

func (r *fakeRepo) ListApprovalAudit(_ context.Context, requestID uuid.UUID) ([]domain.ApprovalAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ApprovalAudit
	for _, entry := range r.audits {
		if entry.RequestID == requestID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateScheduler(_ context.Context, scheduler *domain.TransferScheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedulers[scheduler.ID] = *scheduler
	return nil
}

func (r *fakeRepo) FindSchedulerByID(_ context.Context, schedulerID uuid.UUID) (*domain.TransferScheduler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scheduler, ok := r.schedulers[schedulerID]
	if !ok {
		return nil, store.ErrSchedulerNotFound
	}
	return &scheduler, nil
}

func (r *fakeRepo) ActivateScheduler(_ context.Context, schedulerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scheduler, ok := r.schedulers[schedulerID]
	if !ok {
		return store.ErrSchedulerNotFound
	}
	scheduler.Status = domain.SchedulerActive
	r.schedulers[schedulerID] = scheduler
	return nil
}

func (r *fakeRepo) FindDueSchedulers(_ context.Context, now time.Time) ([]domain.TransferScheduler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TransferScheduler
	for _, scheduler := range r.schedulers {
		s := scheduler
		if s.Due(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepo) RollSchedulerForward(_ context.Context, schedulerID uuid.UUID, lastJobDate time.Time, nextJobDate time.Time, completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rollErr[schedulerID]; err != nil {
		return err
	}
	scheduler, ok := r.schedulers[schedulerID]
	if !ok {
		return store.ErrSchedulerNotFound
	}
	scheduler.LastJobDate = &lastJobDate
	scheduler.NextJobDate = nextJobDate
	scheduler.Completed = completed
	r.schedulers[schedulerID] = scheduler
	return nil
}

func (r *fakeRepo) FindApprovedRequestsByScheduler(_ context.Context, schedulerID uuid.UUID) ([]domain.TransferRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TransferRequest
	for _, req := range r.transfers {
		if req.SchedulerID != nil && *req.SchedulerID == schedulerID && req.State == domain.StateApproved {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindBillPaymentRequestByID(_ context.Context, requestID uuid.UUID) (*domain.BillPaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.bills[requestID]
	if !ok {
		return nil, store.ErrBillRequestNotFound
	}
	return &bill, nil
}

func (r *fakeRepo) RecordBillVendResult(_ context.Context, requestID uuid.UUID, providerRef *string, vendToken *string, vendErr *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.bills[requestID]
	if !ok {
		return store.ErrBillRequestNotFound
	}
	bill.ProviderRef = providerRef
	bill.VendToken = vendToken
	bill.VendError = vendErr
	r.bills[requestID] = bill
	return nil
}

// seedInstitution creates an institution with an approved limit and returns
// its id.
func (r *fakeRepo) seedInstitution(t *testing.T, dailyLimit, transferLimit int64) uuid.UUID {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.institutions[id] = domain.Institution{
		ID:        id,
		Name:      "First Harbor Microfinance",
		BankCode:  "090286",
		LedgerRef: "cust-" + id.String()[:8],
	}
	r.limits[id] = domain.Limit{
		ID:            uuid.New(),
		InstitutionID: id,
		DailyLimit:    dailyLimit,
		TransferLimit: transferLimit,
		Checked:       true,
		Verified:      true,
		Approved:      true,
	}
	return id
}

// seedMandate creates an active, password-changed mandate in the role.
func (r *fakeRepo) seedMandate(t *testing.T, institutionID uuid.UUID, role domain.Role) *domain.Mandate {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	mandate := domain.Mandate{
		ID:              uuid.New(),
		InstitutionID:   institutionID,
		FullName:        string(role) + " signatory",
		Email:           string(role) + "@firstharbor.example",
		Phone:           "+2348012345678",
		Role:            role,
		Active:          true,
		PasswordChanged: true,
	}
	r.mandates[mandate.ID] = mandate
	out := mandate
	return &out
}

// armOTP stores a known token hash on the mandate, both in the repo and on
// the in-memory struct the caller holds.
func (r *fakeRepo) armOTP(t *testing.T, mandate *domain.Mandate, token string, expiresAt time.Time) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash test token: %v", err)
	}
	if err := r.SetMandateOTP(context.Background(), mandate.ID, string(hash), expiresAt); err != nil {
		t.Fatalf("failed to arm OTP: %v", err)
	}
	hashStr := string(hash)
	mandate.OTPHash = &hashStr
	mandate.OTPExpiresAt = &expiresAt
}

// recordingNotifier captures fan-out traffic.
type recordingNotifier struct {
	mu     sync.Mutex
	emails []string // recipient addresses in send order
	sms    []string
}

func (n *recordingNotifier) SendEmail(to, _, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, to)
}

func (n *recordingNotifier) SendSMS(to, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sms = append(n.sms, to)
}

func (n *recordingNotifier) emailCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.emails)
}

// fakeLedger implements both BalanceFetcher and Charger.
type fakeLedger struct {
	mu        sync.Mutex
	balance   int64
	charges   []ledgerclient.ChargeRequest
	chargeErr map[string]error // keyed by destination account
}

func (l *fakeLedger) GetAvailableBalance(_ context.Context, _, _ string) (*ledgerclient.BalanceResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &ledgerclient.BalanceResponse{AvailableBalance: l.balance}, nil
}

func (l *fakeLedger) Charge(_ context.Context, charge ledgerclient.ChargeRequest) (*ledgerclient.ChargeResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.chargeErr[charge.Destination]; err != nil {
		return nil, err
	}
	l.charges = append(l.charges, charge)
	return &ledgerclient.ChargeResponse{
		Reference: charge.Reference,
		LedgerRef: "lgr-" + charge.Reference[:8],
		Status:    "completed",
	}, nil
}

func (l *fakeLedger) chargeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.charges)
}

// fakeVendor is a canned bill-payment provider.
type fakeVendor struct {
	vendErr error
	token   *string
}

func (v *fakeVendor) Vend(_ context.Context, vend billpayclient.VendRequest) (*billpayclient.VendResponse, error) {
	if v.vendErr != nil {
		return nil, v.vendErr
	}
	return &billpayclient.VendResponse{
		Status:      "completed",
		ProviderRef: "prov-" + vend.Reference[:8],
		Token:       v.token,
	}, nil
}

// signalExecutor reports every dispatch on a channel so tests can wait for
// the machine's asynchronous execution hand-off.
type signalExecutor struct {
	singles chan uuid.UUID
	bulks   chan uuid.UUID
}

func newSignalExecutor() *signalExecutor {
	return &signalExecutor{
		singles: make(chan uuid.UUID, 16),
		bulks:   make(chan uuid.UUID, 16),
	}
}

func (e *signalExecutor) ExecuteSingle(_ context.Context, request *domain.TransferRequest) domain.ExecutionAck {
	e.singles <- request.ID
	return domain.ExecutionAck{RequestID: request.ID, Status: "completed"}
}

func (e *signalExecutor) ExecuteBulk(_ context.Context, bulk *domain.BulkTransferRequest) []domain.ExecutionAck {
	e.bulks <- bulk.ID
	return nil
}

// awaitDispatch waits for one single-request dispatch or fails the test.
func (e *signalExecutor) awaitDispatch(t *testing.T) uuid.UUID {
	t.Helper()
	select {
	case id := <-e.singles:
		return id
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for execution dispatch")
		return uuid.Nil
	}
}

// expectNoDispatch asserts nothing reached the executor within a short grace
// window.
func (e *signalExecutor) expectNoDispatch(t *testing.T) {
	t.Helper()
	select {
	case id := <-e.singles:
		t.Fatalf("unexpected execution dispatch for %s", id)
	case id := <-e.bulks:
		t.Fatalf("unexpected bulk execution dispatch for %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

// fixedLimiter returns a canned attempt count.
type fixedLimiter struct {
	count int
	err   error
}

func (l *fixedLimiter) ConsumeRateLimit(_ context.Context, _, _ string, _ int, _ time.Duration) (int, int, error) {
	if l.err != nil {
		return 0, 0, l.err
	}
	return l.count, 0, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func errFor(msg string) error { return fmt.Errorf("%s", msg) }
