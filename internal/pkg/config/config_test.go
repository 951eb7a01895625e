package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/MindShield/internal/pkg/env"
)

func TestLoadLedgerConfigDefaults(t *testing.T) {
	prev := env.Env
	env.Env = map[string]string{}
	t.Cleanup(func() { env.Env = prev })

	cfg := LoadLedgerConfig()
	assert.Equal(t, LedgerBackendMemory, cfg.Backend)
	assert.Equal(t, int64(31337), cfg.ChainID)
	assert.Equal(t, 60*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, "1", cfg.FiatRate)
	assert.False(t, cfg.PermissivePayments)
	assert.Empty(t, cfg.SignerKeys)
}

func TestLoadLedgerConfigOverrides(t *testing.T) {
	prev := env.Env
	env.Env = map[string]string{
		"LEDGER_BACKEND":        "Ethereum",
		"LEDGER_SIGNER_KEYS":    " 0xaa, ,0xbb ",
		"LEDGER_SUBMIT_TIMEOUT": "5s",
	}
	t.Cleanup(func() { env.Env = prev })

	cfg := LoadLedgerConfig()
	assert.Equal(t, LedgerBackendEthereum, cfg.Backend)
	assert.Equal(t, []string{"0xaa", "0xbb"}, cfg.SignerKeys)
	assert.Equal(t, 5*time.Second, cfg.SubmitTimeout)
}

func TestLoadReconcilerConfigClampsLanes(t *testing.T) {
	prev := env.Env
	env.Env = map[string]string{"RECONCILER_LANES": "0"}
	t.Cleanup(func() { env.Env = prev })

	assert.Equal(t, 1, LoadReconcilerConfig().Lanes)
}
