/**
 * @description
 * This file defines the transfer-request domain models: the request lifecycle
 * state, single and bulk transfer requests, the approval audit trail, and the
 * DTOs accepted by the API layer.
 *
 * @notes
 * - The lifecycle is an explicit enumerated state rather than loose booleans.
 *   The legality chain is created -> checked -> verified -> approved, with
 *   declined terminal from any state. Helper predicates expose the gate view
 *   (Checked/Verified/Approved) that the rest of the service reasons with.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestState is the lifecycle state of a transfer (or bulk) request.
type RequestState string

const (
	StateCreated  RequestState = "created"
	StateChecked  RequestState = "checked"
	StateVerified RequestState = "verified"
	StateApproved RequestState = "approved"
	StateDeclined RequestState = "declined"
)

// Checked reports whether the uploader gate has been passed. Gates are
// monotonic until a decline, which freezes the request.
func (s RequestState) Checked() bool {
	return s == StateChecked || s == StateVerified || s == StateApproved
}

// Verified reports whether the verifier gate has been passed.
func (s RequestState) Verified() bool {
	return s == StateVerified || s == StateApproved
}

// Approved reports whether the authorizer gate has been passed.
func (s RequestState) Approved() bool {
	return s == StateApproved
}

// Terminal reports whether no further transition is legal.
func (s RequestState) Terminal() bool {
	return s == StateApproved || s == StateDeclined
}

// ApprovalAction is the decision a mandate takes on a request.
type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionDecline ApprovalAction = "decline"
)

// TransferOption distinguishes standalone requests from children of a bulk
// request.
type TransferOption string

const (
	TransferSingle TransferOption = "single"
	TransferBulk   TransferOption = "bulk"
)

// TransferRequest is one funds-movement intent. It is owned by its
// institution, optionally belongs to a bulk parent, and optionally links to a
// recurrence scheduler. Mutations happen only through the approval state
// machine.
type TransferRequest struct {
	ID                 uuid.UUID      `json:"id"`
	InstitutionID      uuid.UUID      `json:"institution_id"`
	BulkParentID       *uuid.UUID     `json:"bulk_parent_id,omitempty"`
	SchedulerID        *uuid.UUID     `json:"scheduler_id,omitempty"`
	UploadedBy         uuid.UUID      `json:"uploaded_by"`
	TransferOption     TransferOption `json:"transfer_option"`
	SourceAccount      string         `json:"source_account"`
	DestinationAccount string         `json:"destination_account"`
	DestinationBank    string         `json:"destination_bank"`
	Amount             int64          `json:"amount"` // in kobo
	Narration          string         `json:"narration"`
	State              RequestState   `json:"state"`
	DeclineReason      *string        `json:"decline_reason,omitempty"`
	LastExecutionError *string        `json:"last_execution_error,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Scheduled reports whether execution of this request is deferred to the
// scheduler driver instead of running immediately on full approval.
func (t *TransferRequest) Scheduled() bool {
	return t.SchedulerID != nil
}

// BulkTransferRequest groups many child TransferRequests under one approval
// lifecycle. Its total amount is the sum of its children.
type BulkTransferRequest struct {
	ID            uuid.UUID    `json:"id"`
	InstitutionID uuid.UUID    `json:"institution_id"`
	SchedulerID   *uuid.UUID   `json:"scheduler_id,omitempty"`
	UploadedBy    uuid.UUID    `json:"uploaded_by"`
	SourceAccount string       `json:"source_account"`
	TotalAmount   int64        `json:"total_amount"` // in kobo
	ChildCount    int          `json:"child_count"`
	Narration     string       `json:"narration"`
	State         RequestState `json:"state"`
	DeclineReason *string      `json:"decline_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Scheduled reports whether the bulk request defers execution to the
// scheduler driver.
func (b *BulkTransferRequest) Scheduled() bool {
	return b.SchedulerID != nil
}

// ApprovalAudit is one entry in a request's audit trail. Every state-machine
// transition appends exactly one entry.
type ApprovalAudit struct {
	ID            uuid.UUID      `json:"id"`
	RequestID     uuid.UUID      `json:"request_id"`
	MandateID     uuid.UUID      `json:"mandate_id"`
	Role          Role           `json:"role"`
	Action        ApprovalAction `json:"action"`
	ResultState   RequestState   `json:"result_state"`
	DeclineReason *string        `json:"decline_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// SubmitTransferPayload is the DTO for submitting a new single transfer.
type SubmitTransferPayload struct {
	SourceAccount      string          `json:"source_account"`
	DestinationAccount string          `json:"destination_account"`
	DestinationBank    string          `json:"destination_bank"`
	Amount             int64           `json:"amount"` // in kobo
	Narration          string          `json:"narration"`
	Schedule           *SchedulePlan   `json:"schedule,omitempty"`
	OTP                string          `json:"otp"`
}

// SubmitBulkTransferPayload is the DTO for submitting a bulk transfer with
// its children in one request.
type SubmitBulkTransferPayload struct {
	SourceAccount string              `json:"source_account"`
	Narration     string              `json:"narration"`
	Transfers     []BulkTransferItem  `json:"transfers"`
	Schedule      *SchedulePlan       `json:"schedule,omitempty"`
	OTP           string              `json:"otp"`
}

// BulkTransferItem is one child instruction within a bulk submission.
type BulkTransferItem struct {
	DestinationAccount string `json:"destination_account"`
	DestinationBank    string `json:"destination_bank"`
	Amount             int64  `json:"amount"` // in kobo
	Narration          string `json:"narration"`
}

// AdvancePayload is the DTO for advancing a request through the state
// machine.
type AdvancePayload struct {
	Action        ApprovalAction `json:"action"`
	DeclineReason *string        `json:"decline_reason,omitempty"`
	OTP           string         `json:"otp"`
}

// ExecutionAck is the acknowledgement recorded after handing a request to the
// ledger collaborator.
type ExecutionAck struct {
	RequestID uuid.UUID `json:"request_id"`
	LedgerRef string    `json:"ledger_ref,omitempty"`
	Status    string    `json:"status"`
	Err       string    `json:"error,omitempty"`
}

// Failed reports whether the execution attempt did not settle.
func (a ExecutionAck) Failed() bool {
	return a.Err != ""
}
