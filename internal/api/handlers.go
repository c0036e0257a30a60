/**
 * @description
 * This file contains the HTTP handlers for the approval-service's API
 * endpoints. Handlers parse incoming requests, call the appropriate methods
 * on the application service, and map sentinel errors from the workflow
 * engine onto HTTP statuses.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/corepay/approval-service/internal/app"
	"github.com/corepay/approval-service/internal/domain"
)

// ApprovalHandlers holds the application service that handlers use.
type ApprovalHandlers struct {
	service *app.Service
}

// NewApprovalHandlers creates a new instance of ApprovalHandlers.
func NewApprovalHandlers(service *app.Service) *ApprovalHandlers {
	return &ApprovalHandlers{service: service}
}

type changePasswordPayload struct {
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

type requestDetailResponse struct {
	Request *domain.TransferRequest `json:"request"`
	Audit   []domain.ApprovalAudit  `json:"audit"`
}

type tickResponse struct {
	SchedulersProcessed int `json:"schedulers_processed"`
}

// SubmitTransferHandler handles submission of a single transfer request.
func (h *ApprovalHandlers) SubmitTransferHandler(w http.ResponseWriter, r *http.Request) {
	mandateID, ok := GetMandateID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Missing mandate identity")
		return
	}

	var payload domain.SubmitTransferPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if payload.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}

	request, err := h.service.SubmitTransfer(r.Context(), mandateID, payload)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, request)
}

// SubmitBulkTransferHandler handles submission of a bulk transfer request.
func (h *ApprovalHandlers) SubmitBulkTransferHandler(w http.ResponseWriter, r *http.Request) {
	mandateID, ok := GetMandateID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Missing mandate identity")
		return
	}

	var payload domain.SubmitBulkTransferPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(payload.Transfers) == 0 {
		h.writeError(w, http.StatusBadRequest, "At least one transfer is required")
		return
	}
	for _, item := range payload.Transfers {
		if item.Amount <= 0 {
			h.writeError(w, http.StatusBadRequest, "Every transfer amount must be positive")
			return
		}
	}

	bulk, err := h.service.SubmitBulkTransfer(r.Context(), mandateID, payload)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bulk)
}

// AdvanceHandler applies one role-gated transition to a request.
func (h *ApprovalHandlers) AdvanceHandler(w http.ResponseWriter, r *http.Request) {
	mandateID, ok := GetMandateID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Missing mandate identity")
		return
	}

	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request id")
		return
	}

	var payload domain.AdvancePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Advance(r.Context(), mandateID, requestID, payload)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetRequestHandler returns a transfer request with its audit trail.
func (h *ApprovalHandlers) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request id")
		return
	}

	request, audit, err := h.service.GetTransferRequest(r.Context(), requestID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, requestDetailResponse{Request: request, Audit: audit})
}

// IssueOTPHandler issues a one-time token for the acting mandate. The token
// travels out-of-band; the response never contains it.
func (h *ApprovalHandlers) IssueOTPHandler(w http.ResponseWriter, r *http.Request) {
	mandateID, ok := GetMandateID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Missing mandate identity")
		return
	}

	if err := h.service.IssueOTP(r.Context(), mandateID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"message": "One-time code sent"})
}

// ChangePasswordHandler sets a new password for the acting mandate.
func (h *ApprovalHandlers) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	mandateID, ok := GetMandateID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Missing mandate identity")
		return
	}

	var payload changePasswordPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.ChangePassword(r.Context(), mandateID, payload.OTP, payload.NewPassword); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

// ScheduleTickHandler runs one sweep over due schedulers. Intended for
// external cron triggers.
func (h *ApprovalHandlers) ScheduleTickHandler(w http.ResponseWriter, r *http.Request) {
	processed := h.service.ScheduleTick(r.Context())
	h.writeJSON(w, http.StatusOK, tickResponse{SchedulersProcessed: processed})
}

// writeServiceError maps workflow sentinels onto HTTP statuses.
func (h *ApprovalHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Request not found")
	case errors.Is(err, app.ErrPermissionDenied):
		h.writeError(w, http.StatusForbidden, "Not permitted for this mandate")
	case errors.Is(err, app.ErrLimitExceeded):
		h.writeError(w, http.StatusUnprocessableEntity, "Amount exceeds per-transfer limit")
	case errors.Is(err, app.ErrDailyLimitExceeded):
		h.writeError(w, http.StatusUnprocessableEntity, "Amount exceeds remaining daily limit")
	case errors.Is(err, app.ErrLimitNotUsable):
		h.writeError(w, http.StatusUnprocessableEntity, "Institution limit is not approved for use")
	case errors.Is(err, app.ErrInsufficientBalance):
		h.writeError(w, http.StatusUnprocessableEntity, "Insufficient available balance")
	case errors.Is(err, app.ErrNotReady):
		h.writeError(w, http.StatusConflict, "Request has not passed the preceding gate")
	case errors.Is(err, app.ErrAlreadyProcessed):
		h.writeError(w, http.StatusConflict, "Request already processed at this gate")
	case errors.Is(err, app.ErrInvalidAction):
		h.writeError(w, http.StatusBadRequest, "Invalid approval action")
	case errors.Is(err, app.ErrInvalidSchedule):
		h.writeError(w, http.StatusBadRequest, "Invalid schedule definition")
	case errors.Is(err, app.ErrInvalidToken):
		h.writeError(w, http.StatusUnauthorized, "Invalid one-time code")
	case errors.Is(err, app.ErrExpiredToken):
		h.writeError(w, http.StatusUnauthorized, "One-time code has expired")
	case errors.Is(err, app.ErrOTPThrottled):
		h.writeError(w, http.StatusTooManyRequests, "Too many code attempts; try again shortly")
	default:
		log.Printf("level=error component=api msg=\"unexpected service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *ApprovalHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *ApprovalHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
