package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyRing maps wallet addresses to the private keys that sign for them.
type KeyRing struct {
	keys map[common.Address]*ecdsa.PrivateKey
}

// NewKeyRing parses hex encoded secp256k1 private keys, with or without 0x.
func NewKeyRing(hexKeys ...string) (*KeyRing, error) {
	kr := &KeyRing{keys: make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys))}
	for i, raw := range hexKeys {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if raw == "" {
			continue
		}
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("signer key %d: %w", i, err)
		}
		kr.keys[crypto.PubkeyToAddress(key.PublicKey)] = key
	}
	return kr, nil
}

// Key returns the signing key for addr.
func (k *KeyRing) Key(addr common.Address) (*ecdsa.PrivateKey, bool) {
	if k == nil {
		return nil, false
	}
	key, ok := k.keys[addr]
	return key, ok
}

// Addresses lists the wallets the ring can sign for.
func (k *KeyRing) Addresses() []common.Address {
	if k == nil {
		return nil
	}
	out := make([]common.Address, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr)
	}
	return out
}
