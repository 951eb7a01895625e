// Package config turns environment settings into typed configuration that is
// read once at process start and passed to the components that need it.
package config

import (
	"strings"
	"time"

	"github.com/ManuelReschke/MindShield/internal/pkg/env"
)

const (
	LedgerBackendMemory   = "memory"
	LedgerBackendEthereum = "ethereum"
)

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Backend            string
	RPCURL             string
	ContractAddress    string
	ChainID            int64
	OperatorKey        string
	SignerKeys         []string
	SubmitTimeout      time.Duration
	SubmitRetries      int
	FiatRate           string
	PermissivePayments bool
}

// ReconcilerConfig tunes the event reconciler.
type ReconcilerConfig struct {
	Name           string
	Lanes          int
	RepairInterval time.Duration
	MaxBackoff     time.Duration
}

// PayoutConfig configures the withdrawal provider.
type PayoutConfig struct {
	StripeSecretKey string
	Currency        string
	FrontendURL     string
}

// ArchiveConfig configures the optional raw event archive.
type ArchiveConfig struct {
	MongoURI   string
	Database   string
	Collection string
}

func LoadLedgerConfig() LedgerConfig {
	backend := strings.ToLower(strings.TrimSpace(env.GetEnv("LEDGER_BACKEND", LedgerBackendMemory)))
	if backend != LedgerBackendEthereum {
		backend = LedgerBackendMemory
	}
	return LedgerConfig{
		Backend:            backend,
		RPCURL:             env.GetEnv("LEDGER_RPC_URL", "ws://127.0.0.1:8545"),
		ContractAddress:    env.GetEnv("LEDGER_CONTRACT_ADDRESS", ""),
		ChainID:            int64(env.GetEnvInt("LEDGER_CHAIN_ID", 31337)),
		OperatorKey:        env.GetEnv("LEDGER_PRIVATE_KEY", ""),
		SignerKeys:         splitList(env.GetEnv("LEDGER_SIGNER_KEYS", "")),
		SubmitTimeout:      env.GetEnvDuration("LEDGER_SUBMIT_TIMEOUT", 60*time.Second),
		SubmitRetries:      env.GetEnvInt("LEDGER_SUBMIT_RETRIES", 3),
		FiatRate:           env.GetEnv("LEDGER_FIAT_RATE", "1"),
		PermissivePayments: env.GetEnvBool("LEDGER_PERMISSIVE_PAYMENTS", false),
	}
}

func LoadReconcilerConfig() ReconcilerConfig {
	lanes := env.GetEnvInt("RECONCILER_LANES", 4)
	if lanes <= 0 {
		lanes = 1
	}
	return ReconcilerConfig{
		Name:           env.GetEnv("RECONCILER_NAME", "data-license"),
		Lanes:          lanes,
		RepairInterval: env.GetEnvDuration("RECONCILER_REPAIR_INTERVAL", 2*time.Minute),
		MaxBackoff:     env.GetEnvDuration("RECONCILER_MAX_BACKOFF", 30*time.Second),
	}
}

func LoadPayoutConfig() PayoutConfig {
	return PayoutConfig{
		StripeSecretKey: strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		Currency:        strings.ToLower(env.GetEnv("STRIPE_CURRENCY", "inr")),
		FrontendURL:     strings.TrimRight(env.GetEnv("FRONTEND_URL", "http://localhost:5000"), "/"),
	}
}

func LoadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		MongoURI:   strings.TrimSpace(env.GetEnv("MONGO_URI", "")),
		Database:   env.GetEnv("MONGO_DATABASE", "mindshield"),
		Collection: env.GetEnv("MONGO_EVENT_COLLECTION", "ledger_events"),
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
