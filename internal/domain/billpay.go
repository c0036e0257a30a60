package domain

import (
	"time"

	"github.com/google/uuid"
)

// BillType identifies the category of a bill-payment request.
type BillType string

const (
	BillAirtime     BillType = "airtime"
	BillData        BillType = "data"
	BillCable       BillType = "cable"
	BillElectricity BillType = "electricity"
)

// BillPaymentRequest is a lightweight transaction record for bill vending.
// It shares the transfer request's approval state convention but its payload
// is opaque to the core; the bill-payment collaborator interprets it.
type BillPaymentRequest struct {
	ID            uuid.UUID    `json:"id"`
	InstitutionID uuid.UUID    `json:"institution_id"`
	UploadedBy    uuid.UUID    `json:"uploaded_by"`
	BillType      BillType     `json:"bill_type"`
	SourceAccount string       `json:"source_account"`
	Amount        int64        `json:"amount"` // in kobo
	CustomerRef   string       `json:"customer_ref"` // phone, smartcard or meter number
	ProviderCode  string       `json:"provider_code"`
	PackageCode   string       `json:"package_code,omitempty"`
	State         RequestState `json:"state"`
	ProviderRef   *string      `json:"provider_ref,omitempty"`
	VendToken     *string      `json:"vend_token,omitempty"` // electricity token etc.
	VendError     *string      `json:"vend_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
