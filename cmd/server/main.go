package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrowbridge/internal/bridge"
	"escrowbridge/internal/chain"
	"escrowbridge/internal/config"
	"escrowbridge/internal/dealmap"
	"escrowbridge/internal/escrow"
	"escrowbridge/internal/ledger"
	"escrowbridge/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	var deals dealmap.Store = dealmap.NewMemoryStore()
	var storeHealth func(context.Context) error
	if cfg.Service.MappingDSN != "" {
		pg, err := dealmap.NewPostgresStore(ctx, cfg.Service.MappingDSN)
		if err != nil {
			log.Fatalf("mapping store error: %v", err)
		}
		defer pg.Close()
		deals = pg
		storeHealth = pg.Ping
	}

	ledgerClient, err := ledger.NewClient(ledger.ClientConfig{
		BaseURL:       cfg.Ledger.APIURL,
		ApplicationID: cfg.Ledger.ApplicationID,
		LedgerID:      cfg.Ledger.LedgerID,
		Timeout:       cfg.Ledger.Timeout,
	})
	if err != nil {
		log.Fatalf("ledger client error: %v", err)
	}

	resolver := ledger.NewResolver(ledgerClient)
	if err := resolver.Refresh(ctx); err != nil {
		log.Printf("[ledger] initial party cache refresh failed: %v", err)
	}

	esc := escrow.NewService(ledgerClient, escrow.NewTemplates(cfg.Ledger.PackageID))

	var chainClient chain.Client = chain.NewFakeClient()
	if cfg.Chain.PrivateKey != "" {
		ethClient, err := chain.NewEthClient(ctx, chain.EthClientConfig{
			RPCURL:         cfg.Chain.RPCURL,
			PrivateKeyHex:  cfg.Chain.PrivateKey,
			EscrowAddress:  cfg.Deployment.Contracts.StablecoinEscrow,
			ConfirmTimeout: cfg.Chain.ConfirmTimeout,
		})
		if err != nil {
			log.Fatalf("chain client error: %v", err)
		}
		chainClient = ethClient
	} else {
		log.Printf("[eth] no broker key configured, using in-memory chain client")
	}

	roles := bridge.Roles{
		Agent:  resolver.Resolve(ctx, cfg.Parties.Agent),
		Buyer:  resolver.Resolve(ctx, cfg.Parties.Buyer),
		Seller: resolver.Resolve(ctx, cfg.Parties.Seller),
		Bank:   resolver.Resolve(ctx, cfg.Parties.Bank),
	}
	br := bridge.New(esc, chainClient, deals, roles, cfg.Chain.TokenDecimals)

	watcher := bridge.NewWatcher(chainClient, deals, br, cfg.Service.WatcherInterval)
	if err := watcher.Start(ctx); err != nil {
		// No retry: deposit-driven settlement stays unavailable for this
		// process lifetime, manual settles still work.
		log.Printf("[watch] %v", err)
	}

	apiServer := server.NewServer(cfg, server.Deps{
		Escrow:       esc,
		Bridge:       br,
		Resolver:     resolver,
		Watcher:      watcher,
		LedgerHealth: ledgerClient.Ready,
		ChainHealth:  chainClient.Ping,
		StoreHealth:  storeHealth,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}
