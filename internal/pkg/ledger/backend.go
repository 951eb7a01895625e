package ledger

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MindShield/internal/pkg/config"
)

// OpenBackend builds the backend selected by cfg.Backend. The returned func
// releases it and is never nil.
func OpenBackend(ctx context.Context, cfg config.LedgerConfig) (Backend, func(), error) {
	switch cfg.Backend {
	case config.LedgerBackendEthereum:
		b, err := DialEthereum(ctx, cfg)
		if err != nil {
			return nil, func() {}, err
		}
		return b, b.Close, nil
	default:
		log.Warn("[Ledger] Using the in-memory ledger; state is lost on restart")
		return NewMemoryLedger(WithPermissivePayments(cfg.PermissivePayments)), func() {}, nil
	}
}
