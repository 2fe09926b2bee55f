package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"escrowbridge/internal/chain"
	"escrowbridge/internal/dealmap"
)

// Settler is the settlement entry point the watcher triggers.
type Settler interface {
	Settle(ctx context.Context, contractID string) (SettleResult, error)
}

// Watcher polls the chain for Deposited events and settles the mapped
// lineages. Deposits without a mapping did not originate from this bridge
// and are skipped. Duplicate deliveries are absorbed by the settler's
// done-flag check, so the watcher keeps no dedup state.
type Watcher struct {
	chain    chain.Client
	deals    dealmap.Store
	settler  Settler
	interval time.Duration

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	running   atomic.Bool
	fromBlock uint64
}

func NewWatcher(chainClient chain.Client, deals dealmap.Store, settler Settler, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		chain:    chainClient,
		deals:    deals,
		settler:  settler,
		interval: interval,
	}
}

// Start begins polling from the current chain head. When the chain is not
// reachable the watcher does not start and stays observably down; there is
// no retry, the bridge features are unavailable for this process lifetime.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running.Load() {
		return fmt.Errorf("watcher already running")
	}

	head, err := w.chain.Head(ctx)
	if err != nil {
		return fmt.Errorf("watcher not started: %w", err)
	}
	w.fromBlock = head + 1

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running.Store(true)

	go w.loop(loopCtx)
	log.Printf("[watch] deposit watcher started from block %d", head)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poll loop is live (health checks read this).
func (w *Watcher) Running() bool {
	return w.running.Load()
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		w.running.Store(false)
		close(w.done)
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	deposits, next, err := w.chain.DepositsSince(ctx, w.fromBlock)
	if err != nil {
		// Transient fetch failure: keep the cursor, try again next tick.
		log.Printf("[watch] deposit fetch failed: %v", err)
		return
	}
	w.fromBlock = next

	for _, dep := range deposits {
		dealID := dep.DealID.Hex()
		contractID, ok, err := w.deals.Get(ctx, dealID)
		if err != nil {
			log.Printf("[watch] mapping lookup for %s failed: %v", dealID, err)
			continue
		}
		if !ok {
			// Not a deal this bridge originated.
			log.Printf("[watch] no escrow mapping for deal %s, skipping", dealID)
			continue
		}

		log.Printf("[watch] deposit on deal %s (buyer %s, amount %s), settling escrow %s",
			dealID, dep.Buyer.Hex(), dep.Amount, contractID)
		if _, err := w.settler.Settle(ctx, contractID); err != nil {
			log.Printf("[watch] settlement of %s failed: %v", contractID, err)
		}
	}
}
