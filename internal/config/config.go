package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// DeploymentConfig represents deployments.json: the addresses of the
// on-chain contracts this bridge talks to.
type DeploymentConfig struct {
	ChainID   int64 `json:"chainId"`
	Contracts struct {
		StablecoinEscrow string `json:"StablecoinEscrow"`
		StablecoinToken  string `json:"StablecoinToken"`
	} `json:"contracts"`
}

// LedgerConfig covers the contract ledger's JSON API.
type LedgerConfig struct {
	APIURL        string
	ApplicationID string
	LedgerID      string
	PackageID     string
	Timeout       time.Duration
}

// PartyConfig names the fixed role aliases on the contract ledger.
type PartyConfig struct {
	Agent  string
	Buyer  string
	Seller string
	Bank   string
}

// ChainConfig covers the smart-contract chain.
type ChainConfig struct {
	RPCURL         string
	PrivateKey     string
	TokenDecimals  int
	ConfirmTimeout time.Duration
}

// ServiceConfig covers the HTTP surface and the bridge's own knobs.
type ServiceConfig struct {
	HTTPPort        int
	HMACSecret      string
	HMACClockSkew   time.Duration
	WatcherInterval time.Duration
	MappingDSN      string
}

// AppConfig ties together deployment info, ledger and chain settings.
type AppConfig struct {
	Deployment DeploymentConfig
	Ledger     LedgerConfig
	Parties    PartyConfig
	Chain      ChainConfig
	Service    ServiceConfig
}

// Load aggregates configuration from environment and the optional
// deployments file.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Ledger: LedgerConfig{
			APIURL:        envOr("DAML_API_URL", "http://localhost:7575/v1"),
			ApplicationID: envOr("DAML_APP_ID", "escrow-bridge"),
			LedgerID:      envOr("DAML_LEDGER_ID", "participant1"),
			PackageID:     envOr("DAML_PACKAGE_ID", "*"),
			Timeout:       time.Duration(envOrInt("DAML_TIMEOUT_SECONDS", 20)) * time.Second,
		},
		Parties: PartyConfig{
			Agent:  envOr("PARTY_AGENT", "Escrow-1"),
			Buyer:  envOr("PARTY_BUYER", "Alice-1"),
			Seller: envOr("PARTY_SELLER", "Bob-1"),
			Bank:   envOr("PARTY_BANK", "Bank-1"),
		},
		Chain: ChainConfig{
			RPCURL:         envOr("ETH_RPC_URL", ""),
			PrivateKey:     envOr("ETH_BROKER_PRIVATE_KEY", ""),
			TokenDecimals:  envOrInt("TOKEN_DECIMALS", 6),
			ConfirmTimeout: time.Duration(envOrInt("ETH_CONFIRM_TIMEOUT_SECONDS", 120)) * time.Second,
		},
		Service: ServiceConfig{
			HTTPPort:        envOrInt("API_HTTP_PORT", 8080),
			HMACSecret:      envOr("BRIDGE_HMAC_SECRET", ""),
			HMACClockSkew:   time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			WatcherInterval: time.Duration(envOrInt("WATCHER_INTERVAL_SECONDS", 5)) * time.Second,
			MappingDSN:      envOr("MAPPING_STORE_DSN", ""),
		},
	}

	if path := envOr("DEPLOYMENTS_PATH", ""); path != "" {
		deploy, err := loadDeployments(path)
		if err != nil {
			return nil, fmt.Errorf("load deployments: %w", err)
		}
		cfg.Deployment = *deploy
	}

	// Env overrides the deployments file.
	if addr := envOr("SEPOLIA_ESCROW_ADDRESS", ""); addr != "" {
		cfg.Deployment.Contracts.StablecoinEscrow = addr
	}
	if addr := envOr("SEPOLIA_TOKEN_ADDRESS", ""); addr != "" {
		cfg.Deployment.Contracts.StablecoinToken = addr
	}

	if cfg.Chain.PrivateKey != "" && cfg.Deployment.Contracts.StablecoinEscrow == "" {
		return nil, errors.New("escrow contract address is required when a broker key is configured")
	}

	return cfg, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
