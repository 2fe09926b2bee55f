// Package bridge keeps the two ledgers eventually consistent: it mirrors new
// escrow agreements onto the chain, reacts to chain deposits by settling the
// ledger lineage, and pushes the terminal outcome back onto the chain.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"

	"escrowbridge/internal/chain"
	"escrowbridge/internal/codec"
	"escrowbridge/internal/dealmap"
	"escrowbridge/internal/escrow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Settlement step names, in execution order.
const (
	StepBuyerConfirm  = "buyer_confirm"
	StepSellerConfirm = "seller_confirm"
	StepRelease       = "release"
	StepChainRelease  = "chain_release"
)

// Step statuses.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusNotRun  = "not_run"
)

// Settlement outcomes.
const (
	OutcomeSettled         = "settled"
	OutcomeAlreadySettled  = "already_settled"
	OutcomeNotYetDeposited = "not_yet_deposited"
	OutcomeFailed          = "failed"
)

// Step reports one settlement step's result.
type Step struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	TxHash string `json:"txHash,omitempty"`
}

// SettleResult reports how far a settlement got. On partial failure the
// remaining steps are listed as not run; nothing is rolled back.
type SettleResult struct {
	ContractID string `json:"contractId"`
	DealID     string `json:"dealId"`
	Outcome    string `json:"outcome"`
	Steps      []Step `json:"steps"`
}

// CreateResult reports a mirrored deal creation.
type CreateResult struct {
	DealID string          `json:"dealId"`
	TxHash string          `json:"txHash"`
	Amount decimal.Decimal `json:"amount"`
}

// Roles holds the resolved fallback party ids used when a lineage payload is
// no longer fetchable.
type Roles struct {
	Agent  string
	Buyer  string
	Seller string
	Bank   string
}

// Bridge composes the state machine, the chain client and the mapping store.
type Bridge struct {
	escrow   *escrow.Service
	chain    chain.Client
	deals    dealmap.Store
	roles    Roles
	decimals int
}

func New(esc *escrow.Service, chainClient chain.Client, deals dealmap.Store, roles Roles, decimals int) *Bridge {
	if decimals <= 0 {
		decimals = codec.TokenDecimals
	}
	return &Bridge{
		escrow:   esc,
		chain:    chainClient,
		deals:    deals,
		roles:    roles,
		decimals: decimals,
	}
}

// CreateDeal mirrors an established escrow agreement onto the chain and
// records the deal-id mapping. The deal id is derived from the contract id,
// so the release path can re-derive it without consulting the store.
func (b *Bridge) CreateDeal(ctx context.Context, contractID, buyerAddr, sellerAddr string, price decimal.Decimal) (CreateResult, error) {
	if contractID == "" {
		return CreateResult{}, fmt.Errorf("contract id is required")
	}
	if !common.IsHexAddress(buyerAddr) {
		return CreateResult{}, fmt.Errorf("invalid buyer address %q", buyerAddr)
	}
	if !common.IsHexAddress(sellerAddr) {
		return CreateResult{}, fmt.Errorf("invalid seller address %q", sellerAddr)
	}

	amount, err := codec.ToChainUnits(price, b.decimals)
	if err != nil {
		return CreateResult{}, err
	}

	dealID := codec.DealID(contractID)
	txHash, err := b.chain.CreateDeal(ctx, dealID,
		common.HexToAddress(buyerAddr), common.HexToAddress(sellerAddr), amount)
	if err != nil {
		return CreateResult{}, fmt.Errorf("create chain deal: %w", err)
	}

	if err := b.deals.Put(ctx, dealID.Hex(), contractID); err != nil {
		// The chain deal exists; losing the mapping only disables the
		// deposit trigger, manual settle still works.
		log.Printf("[bridge] mapping store write failed for %s: %v", dealID.Hex(), err)
	}

	log.Printf("[bridge] created chain deal %s for escrow %s (tx %s)", dealID.Hex(), contractID, txHash)
	return CreateResult{
		DealID: dealID.Hex(),
		TxHash: txHash,
		Amount: codec.FromChainUnits(amount, b.decimals),
	}, nil
}

// Settle drives the lineage through buyer confirm, seller confirm and release
// on the ledger, then mirrors the release on the chain. Steps that find their
// state already advanced are skipped; duplicate triggers end at the chain
// deal's done flag. A failed chain release after a completed ledger release
// leaves the documented inconsistency window, closed only by invoking Settle
// again.
func (b *Bridge) Settle(ctx context.Context, contractID string) (SettleResult, error) {
	dealID := codec.DealID(contractID)
	res := SettleResult{ContractID: contractID, DealID: dealID.Hex()}

	lineage, err := b.escrow.Lineage(ctx, contractID, b.roles.Agent)
	if err != nil {
		log.Printf("[bridge] lineage fetch for %s failed: %v", contractID, err)
	}

	buyer, seller, agent := b.roles.Buyer, b.roles.Seller, b.roles.Agent
	if lineage != nil {
		buyer, seller, agent = lineage.Buyer, lineage.Seller, lineage.Agent
	}

	ledgerSteps := []struct {
		name string
		run  func(context.Context) (string, error)
	}{
		{StepBuyerConfirm, func(ctx context.Context) (string, error) {
			return b.escrow.BuyerConfirm(ctx, buyer, lineage)
		}},
		{StepSellerConfirm, func(ctx context.Context) (string, error) {
			return b.escrow.SellerConfirm(ctx, seller, lineage)
		}},
		{StepRelease, func(ctx context.Context) (string, error) {
			return b.escrow.Release(ctx, agent, lineage)
		}},
	}

	for i, step := range ledgerSteps {
		_, err := step.run(ctx)
		switch {
		case err == nil:
			res.Steps = append(res.Steps, Step{Name: step.name, Status: StatusOK})
		case isNoActiveContract(err):
			res.Steps = append(res.Steps, Step{Name: step.name, Status: StatusSkipped, Detail: "already advanced"})
		default:
			res.Steps = append(res.Steps, Step{Name: step.name, Status: StatusFailed, Detail: err.Error()})
			for _, rest := range ledgerSteps[i+1:] {
				res.Steps = append(res.Steps, Step{Name: rest.name, Status: StatusNotRun})
			}
			res.Steps = append(res.Steps, Step{Name: StepChainRelease, Status: StatusNotRun})
			res.Outcome = OutcomeFailed
			return res, fmt.Errorf("settle %s at %s: %w", contractID, step.name, err)
		}
	}

	// Idempotency gate before the chain mirror: a deal that was never funded
	// must not release, and a finished deal means a duplicate trigger.
	deal, err := b.chain.Deal(ctx, dealID)
	if err != nil {
		log.Printf("[bridge] deal state read for %s failed, attempting release anyway: %v", dealID.Hex(), err)
	} else {
		if !deal.Deposited {
			res.Steps = append(res.Steps, Step{Name: StepChainRelease, Status: StatusSkipped, Detail: "not yet deposited"})
			res.Outcome = OutcomeNotYetDeposited
			return res, nil
		}
		if deal.Done {
			res.Steps = append(res.Steps, Step{Name: StepChainRelease, Status: StatusSkipped, Detail: "already settled"})
			res.Outcome = OutcomeAlreadySettled
			return res, nil
		}
	}

	txHash, err := b.chain.Release(ctx, dealID)
	if err != nil {
		res.Steps = append(res.Steps, Step{Name: StepChainRelease, Status: StatusFailed, Detail: err.Error()})
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("settle %s at %s: %w", contractID, StepChainRelease, err)
	}

	res.Steps = append(res.Steps, Step{Name: StepChainRelease, Status: StatusOK, TxHash: txHash})
	res.Outcome = OutcomeSettled
	log.Printf("[bridge] settled escrow %s, chain release tx %s", contractID, txHash)
	return res, nil
}

func isNoActiveContract(err error) bool {
	return errors.Is(err, escrow.ErrNoActiveContract)
}
