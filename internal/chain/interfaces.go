package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotConnected means the chain endpoint is unreachable. The watcher treats
// it as "do not start"; request paths surface it to the caller.
var ErrNotConnected = errors.New("chain endpoint not connected")

// ErrConfirmationTimeout means the transaction was broadcast but its inclusion
// is unknown within the wait window. Callers must treat the chain state as
// indeterminate, not as a failed write.
var ErrConfirmationTimeout = errors.New("confirmation timed out")

// Deal mirrors the on-chain escrow record.
type Deal struct {
	Buyer     common.Address
	Seller    common.Address
	Amount    *big.Int
	Deposited bool
	Done      bool
}

// Deposit is one observed Deposited event.
type Deposit struct {
	DealID common.Hash
	Buyer  common.Address
	Amount *big.Int
	Block  uint64
}

// Client abstracts the on-chain escrow interaction.
type Client interface {
	CreateDeal(ctx context.Context, dealID common.Hash, buyer, seller common.Address, amount *big.Int) (txHash string, err error)
	Release(ctx context.Context, dealID common.Hash) (txHash string, err error)
	Refund(ctx context.Context, dealID common.Hash) (txHash string, err error)
	Deal(ctx context.Context, dealID common.Hash) (Deal, error)
	// DepositsSince returns Deposited events from block fromBlock up to the
	// current head, and the block to resume from on the next poll.
	DepositsSince(ctx context.Context, fromBlock uint64) ([]Deposit, uint64, error)
	// Head returns the current block height.
	Head(ctx context.Context) (uint64, error)
	Ping(ctx context.Context) error
}
