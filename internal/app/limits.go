/**
 * @description
 * Limit policy: pure read-side validation of a proposed transfer amount
 * against the institution's per-transfer and daily ceilings, plus a
 * real-time balance check for institutions whose bank integration exposes
 * one. Errors are terminal to the submission; nothing is retried here.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/approval-service/internal/domain"
	"github.com/corepay/approval-service/internal/store"
	"github.com/corepay/approval-service/pkg/ledgerclient"
)

// BalanceFetcher is the slice of the ledger client the limit policy needs.
type BalanceFetcher interface {
	GetAvailableBalance(ctx context.Context, customerRef, account string) (*ledgerclient.BalanceResponse, error)
}

// BankDirectory answers per-institution integration capabilities. Injected at
// bootstrap from configuration instead of living in a process-wide set.
type BankDirectory interface {
	HasRealtimeBalance(bankCode string) bool
}

// StaticBankDirectory is a BankDirectory built once from config.
type StaticBankDirectory struct {
	realtimeBalance map[string]bool
}

// NewStaticBankDirectory builds a directory from the list of bank codes whose
// integration exposes a real-time balance.
func NewStaticBankDirectory(realtimeBalanceBanks []string) *StaticBankDirectory {
	m := make(map[string]bool, len(realtimeBalanceBanks))
	for _, code := range realtimeBalanceBanks {
		m[code] = true
	}
	return &StaticBankDirectory{realtimeBalance: m}
}

func (d *StaticBankDirectory) HasRealtimeBalance(bankCode string) bool {
	return d.realtimeBalance[bankCode]
}

// LimitPolicy validates transfer amounts before a request is created.
type LimitPolicy struct {
	repo   store.Repository
	ledger BalanceFetcher
	banks  BankDirectory
	now    func() time.Time
}

// NewLimitPolicy creates a limit policy.
func NewLimitPolicy(repo store.Repository, ledger BalanceFetcher, banks BankDirectory) *LimitPolicy {
	return &LimitPolicy{repo: repo, ledger: ledger, banks: banks, now: time.Now}
}

// Validate checks a proposed amount for the acting mandate and source
// account. Only uploaders may submit; the institution's limit record must
// itself be approved for use.
func (p *LimitPolicy) Validate(ctx context.Context, mandate *domain.Mandate, amount int64, sourceAccount string) error {
	if mandate.Role != domain.RoleUploader {
		return ErrPermissionDenied
	}

	limit, err := p.repo.FindLimitByInstitutionID(ctx, mandate.InstitutionID)
	if err != nil {
		return fmt.Errorf("failed to load institution limit: %w", err)
	}
	if !limit.Approved {
		return ErrLimitNotUsable
	}
	if amount > limit.TransferLimit {
		return ErrLimitExceeded
	}

	todayTotal, err := p.todayTotal(ctx, mandate.InstitutionID)
	if err != nil {
		return fmt.Errorf("failed to compute today's total: %w", err)
	}
	if amount+todayTotal > limit.DailyLimit {
		return ErrDailyLimitExceeded
	}

	institution, err := p.repo.FindInstitutionByID(ctx, mandate.InstitutionID)
	if err != nil {
		return fmt.Errorf("failed to load institution: %w", err)
	}
	if p.banks != nil && p.banks.HasRealtimeBalance(institution.BankCode) && p.ledger != nil {
		balance, err := p.ledger.GetAvailableBalance(ctx, institution.LedgerRef, sourceAccount)
		if err != nil {
			return fmt.Errorf("balance query failed: %w", err)
		}
		if balance.AvailableBalance <= 0 || amount > balance.AvailableBalance {
			return ErrInsufficientBalance
		}
	}

	return nil
}

func (p *LimitPolicy) todayTotal(ctx context.Context, institutionID uuid.UUID) (int64, error) {
	return p.repo.SumApprovedTransfersForDay(ctx, institutionID, p.now())
}
