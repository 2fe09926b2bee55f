package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// FakeClient emulates the StablecoinEscrow contract in memory. It backs tests
// and keyless runs where no chain credentials are configured.
type FakeClient struct {
	mu        sync.Mutex
	deals     map[common.Hash]*Deal
	events    []Deposit
	block     uint64
	connected bool

	CreateCalls  int
	ReleaseCalls int
	RefundCalls  int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		deals:     make(map[common.Hash]*Deal),
		block:     1,
		connected: true,
	}
}

// SetConnected controls what Ping reports.
func (f *FakeClient) SetConnected(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = up
}

func (f *FakeClient) CreateDeal(_ context.Context, dealID common.Hash, buyer, seller common.Address, amount *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if _, exists := f.deals[dealID]; exists {
		return "", fmt.Errorf("deal %s already exists", dealID.Hex())
	}
	f.deals[dealID] = &Deal{
		Buyer:  buyer,
		Seller: seller,
		Amount: new(big.Int).Set(amount),
	}
	return fakeTxHash("createDeal", dealID), nil
}

// Deposit marks a deal funded and records the Deposited event, standing in
// for the external buyer action the bridge never performs itself.
func (f *FakeClient) Deposit(dealID common.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, ok := f.deals[dealID]
	if !ok {
		return fmt.Errorf("deal %s not found", dealID.Hex())
	}
	if deal.Deposited {
		return fmt.Errorf("deal %s already funded", dealID.Hex())
	}
	deal.Deposited = true
	f.block++
	f.events = append(f.events, Deposit{
		DealID: dealID,
		Buyer:  deal.Buyer,
		Amount: new(big.Int).Set(deal.Amount),
		Block:  f.block,
	})
	return nil
}

// EmitDeposit records a Deposited event without a matching deal, for
// exercising the watcher's unmapped-notification path.
func (f *FakeClient) EmitDeposit(dealID common.Hash, buyer common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block++
	f.events = append(f.events, Deposit{
		DealID: dealID,
		Buyer:  buyer,
		Amount: new(big.Int).Set(amount),
		Block:  f.block,
	})
}

func (f *FakeClient) Release(_ context.Context, dealID common.Hash) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReleaseCalls++
	return f.close(dealID)
}

func (f *FakeClient) Refund(_ context.Context, dealID common.Hash) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefundCalls++
	return f.close(dealID)
}

func (f *FakeClient) close(dealID common.Hash) (string, error) {
	deal, ok := f.deals[dealID]
	if !ok {
		return "", fmt.Errorf("deal %s not found", dealID.Hex())
	}
	if !deal.Deposited {
		return "", fmt.Errorf("deal %s not funded", dealID.Hex())
	}
	if deal.Done {
		return "", fmt.Errorf("deal %s already closed", dealID.Hex())
	}
	deal.Done = true
	f.block++
	return fakeTxHash("close", dealID), nil
}

// Deal returns the zero record for unknown ids, like the contract's mapping.
func (f *FakeClient) Deal(_ context.Context, dealID common.Hash) (Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, ok := f.deals[dealID]
	if !ok {
		return Deal{Amount: big.NewInt(0)}, nil
	}
	out := *deal
	out.Amount = new(big.Int).Set(deal.Amount)
	return out, nil
}

func (f *FakeClient) DepositsSince(_ context.Context, fromBlock uint64) ([]Deposit, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, fromBlock, ErrNotConnected
	}
	var out []Deposit
	for _, ev := range f.events {
		if ev.Block >= fromBlock {
			out = append(out, ev)
		}
	}
	return out, f.block + 1, nil
}

func (f *FakeClient) Head(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return 0, ErrNotConnected
	}
	return f.block, nil
}

func (f *FakeClient) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	return nil
}

// Block reports the fake chain height.
func (f *FakeClient) Block() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block
}

func fakeTxHash(method string, dealID common.Hash) string {
	return crypto.Keccak256Hash([]byte(method), dealID.Bytes()).Hex()
}
