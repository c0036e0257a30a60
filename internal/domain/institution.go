/**
 * @description
 * This file defines the corporate-side domain models for the approval-service:
 * institutions, their transaction limits, and the mandates (named signatories)
 * allowed to act on their behalf.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (kobo) to
 *   avoid floating-point inaccuracies with financial data.
 * - A mandate carries exactly one role for its whole lifetime; the three-role
 *   chain (uploader -> verifier -> authorizer) is what drives the approval
 *   state machine.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies a mandate's position in the approval chain.
type Role string

const (
	RoleUploader   Role = "uploader"
	RoleVerifier   Role = "verifier"
	RoleAuthorizer Role = "authorizer"
)

// Valid reports whether the role is one of the three known chain roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUploader, RoleVerifier, RoleAuthorizer:
		return true
	}
	return false
}

// Institution represents a corporate account holder. It exclusively owns one
// Limit and its mandates.
type Institution struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	BankCode  string    `json:"bank_code"`
	LedgerRef string    `json:"ledger_ref"` // customer reference at the ledger collaborator
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Limit holds an institution's transaction ceilings. The three flags gate
// whether the limit itself may be used, not any individual transfer: a
// transfer may draw on a limit only while `approved` is true.
type Limit struct {
	ID            uuid.UUID `json:"id"`
	InstitutionID uuid.UUID `json:"institution_id"`
	DailyLimit    int64     `json:"daily_limit"`    // in kobo
	TransferLimit int64     `json:"transfer_limit"` // in kobo, per single transfer
	Checked       bool      `json:"checked"`
	Verified      bool      `json:"verified"`
	Approved      bool      `json:"approved"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Mandate is a named signatory bound 1:1 to a person and scoped to exactly
// one institution. Only an active mandate that has changed its initial
// password may perform financial actions.
type Mandate struct {
	ID              uuid.UUID  `json:"id"`
	InstitutionID   uuid.UUID  `json:"institution_id"`
	FullName        string     `json:"full_name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	Role            Role       `json:"role"`
	Active          bool       `json:"active"`
	PasswordChanged bool       `json:"password_changed"`
	PasswordHash    string     `json:"-"`
	OTPHash         *string    `json:"-"`
	OTPExpiresAt    *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CanTransact reports whether the mandate is allowed to perform financial
// actions at all, independent of its role.
func (m *Mandate) CanTransact() bool {
	return m.Active && m.PasswordChanged
}
