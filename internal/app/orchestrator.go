/**
 * @description
 * Transfer orchestrator: hands fully approved requests to the ledger
 * collaborator and bill payloads to the bill-payment provider, recording
 * acknowledgements. Approval and settlement are decoupled: an execution
 * failure is recorded and logged for manual reconciliation, never retried
 * here and never rolling back the approved state.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/corepay/approval-service/internal/domain"
	"github.com/corepay/approval-service/internal/store"
	"github.com/corepay/approval-service/pkg/billpayclient"
	"github.com/corepay/approval-service/pkg/ledgerclient"
)

// Charger is the slice of the ledger client the orchestrator needs.
type Charger interface {
	Charge(ctx context.Context, charge ledgerclient.ChargeRequest) (*ledgerclient.ChargeResponse, error)
}

// Vendor is the bill-payment provider contract.
type Vendor interface {
	Vend(ctx context.Context, vend billpayclient.VendRequest) (*billpayclient.VendResponse, error)
}

// Orchestrator executes approved requests against external collaborators.
type Orchestrator struct {
	repo    store.Repository
	ledger  Charger
	billpay Vendor
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(repo store.Repository, ledger Charger, billpay Vendor) *Orchestrator {
	return &Orchestrator{repo: repo, ledger: ledger, billpay: billpay}
}

// ExecuteSingle hands one approved request to the ledger and records the
// acknowledgement. The request id doubles as the idempotency reference.
func (o *Orchestrator) ExecuteSingle(ctx context.Context, request *domain.TransferRequest) domain.ExecutionAck {
	ack := domain.ExecutionAck{RequestID: request.ID}

	resp, err := o.ledger.Charge(ctx, ledgerclient.ChargeRequest{
		Account:         request.SourceAccount,
		DestinationBank: request.DestinationBank,
		Destination:     request.DestinationAccount,
		Amount:          request.Amount,
		Reference:       request.ID.String(),
		Narration:       request.Narration,
	})
	if err != nil {
		ack.Status = "failed"
		ack.Err = err.Error()
		errText := err.Error()
		if recErr := o.repo.RecordExecutionResult(ctx, request.ID, &errText); recErr != nil {
			log.Printf("level=error component=orchestrator msg=\"failed to record execution error\" request_id=%s err=%v", request.ID, recErr)
		}
		log.Printf("level=error component=orchestrator msg=\"ledger charge failed; flagged for reconciliation\" request_id=%s err=%v", request.ID, err)
		return ack
	}

	ack.Status = resp.Status
	ack.LedgerRef = resp.LedgerRef
	if recErr := o.repo.RecordExecutionResult(ctx, request.ID, nil); recErr != nil {
		log.Printf("level=warn component=orchestrator msg=\"failed to clear execution error\" request_id=%s err=%v", request.ID, recErr)
	}
	log.Printf("level=info component=orchestrator msg=\"ledger charge acknowledged\" request_id=%s ledger_ref=%s status=%s", request.ID, resp.LedgerRef, resp.Status)
	return ack
}

// ExecuteBulk iterates every bulk-option child under the parent and executes
// each one, aggregating partial failures without aborting the remaining
// children.
func (o *Orchestrator) ExecuteBulk(ctx context.Context, bulk *domain.BulkTransferRequest) []domain.ExecutionAck {
	children, err := o.repo.FindBulkChildren(ctx, bulk.ID)
	if err != nil {
		log.Printf("level=error component=orchestrator msg=\"failed to load bulk children\" bulk_id=%s err=%v", bulk.ID, err)
		return nil
	}

	acks := make([]domain.ExecutionAck, 0, len(children))
	failures := 0
	for i := range children {
		ack := o.ExecuteSingle(ctx, &children[i])
		if ack.Failed() {
			failures++
		}
		acks = append(acks, ack)
	}

	log.Printf("level=info component=orchestrator msg=\"bulk execution finished\" bulk_id=%s children=%d failures=%d", bulk.ID, len(children), failures)
	return acks
}

// ExecuteBill vends an approved bill payload through the provider and
// records the acknowledgement (including any vend token).
func (o *Orchestrator) ExecuteBill(ctx context.Context, bill *domain.BillPaymentRequest) (domain.ExecutionAck, error) {
	ack := domain.ExecutionAck{RequestID: bill.ID}
	if o.billpay == nil {
		return ack, fmt.Errorf("bill payment provider not configured")
	}

	resp, err := o.billpay.Vend(ctx, billpayclient.VendRequest{
		BillType:     string(bill.BillType),
		ProviderCode: bill.ProviderCode,
		PackageCode:  bill.PackageCode,
		CustomerRef:  bill.CustomerRef,
		Amount:       bill.Amount,
		Reference:    bill.ID.String(),
	})
	if err != nil {
		errText := err.Error()
		if recErr := o.repo.RecordBillVendResult(ctx, bill.ID, nil, nil, &errText); recErr != nil {
			log.Printf("level=error component=orchestrator msg=\"failed to record vend error\" bill_id=%s err=%v", bill.ID, recErr)
		}
		ack.Status = "failed"
		ack.Err = err.Error()
		log.Printf("level=error component=orchestrator msg=\"bill vend failed\" bill_id=%s err=%v", bill.ID, err)
		return ack, err
	}

	if recErr := o.repo.RecordBillVendResult(ctx, bill.ID, &resp.ProviderRef, resp.Token, nil); recErr != nil {
		log.Printf("level=warn component=orchestrator msg=\"failed to record vend result\" bill_id=%s err=%v", bill.ID, recErr)
	}
	ack.Status = resp.Status
	ack.LedgerRef = resp.ProviderRef
	return ack, nil
}
