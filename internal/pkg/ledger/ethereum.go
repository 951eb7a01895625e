package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ManuelReschke/MindShield/internal/pkg/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gofiber/fiber/v2/log"
)

// licenseTuple mirrors the struct returned by getLicenseDetails.
type licenseTuple struct {
	User           common.Address
	Company        common.Address
	DataTypes      string
	MonthlyPayment *big.Int
	StartTime      *big.Int
	EndTime        *big.Int
	IsActive       bool
}

type licenseLog struct {
	User      common.Address
	Company   common.Address
	LicenseID *big.Int `abi:"licenseId"`
}

type paymentLog struct {
	User    common.Address
	Company common.Address
	Amount  *big.Int `abi:"amount"`
}

// EthereumBackend drives a deployed DataLicense contract over JSON-RPC.
// Transactions are signed locally with keys from a KeyRing; the operator key
// is part of the ring.
type EthereumBackend struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	keys     *KeyRing
	operator common.Address
}

// DialEthereum connects to cfg.RPCURL and binds the contract at
// cfg.ContractAddress. A websocket URL is required for live event delivery.
func DialEthereum(ctx context.Context, cfg config.LedgerConfig) (*EthereumBackend, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("%w: contract address %q", ErrInvalidAddress, cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(DataLicenseABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	keys, err := NewKeyRing(append([]string{cfg.OperatorKey}, cfg.SignerKeys...)...)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	b := &EthereumBackend{
		client:  client,
		abi:     parsed,
		address: common.HexToAddress(cfg.ContractAddress),
		chainID: big.NewInt(cfg.ChainID),
		keys:    keys,
	}
	if op := strings.TrimPrefix(strings.TrimSpace(cfg.OperatorKey), "0x"); op != "" {
		key, err := crypto.HexToECDSA(op)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("operator key: %w", err)
		}
		b.operator = crypto.PubkeyToAddress(key.PublicKey)
	}
	b.contract = bind.NewBoundContract(b.address, parsed, client, client, client)

	log.Infof("[Ledger] Bound DataLicense at %s (chain %d, %d signer keys)", b.address.Hex(), cfg.ChainID, len(keys.Addresses()))
	return b, nil
}

// Close releases the RPC connection.
func (b *EthereumBackend) Close() {
	b.client.Close()
}

// Operator returns the address of the operator key, or the zero address.
func (b *EthereumBackend) Operator() common.Address {
	return b.operator
}

func (b *EthereumBackend) signer(op string, from common.Address) (*ecdsa.PrivateKey, error) {
	key, ok := b.keys.Key(from)
	if !ok {
		return nil, &SubmissionError{Op: op, Err: fmt.Errorf("no signing key for %s", from.Hex())}
	}
	return key, nil
}

// transact signs, sends and awaits one contract call.
func (b *EthereumBackend) transact(ctx context.Context, op string, from common.Address, value *big.Int, args ...interface{}) (*Receipt, error) {
	key, err := b.signer(op, from)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, b.chainID)
	if err != nil {
		return nil, &SubmissionError{Op: op, Err: err}
	}
	opts.Context = ctx
	opts.Value = value

	tx, err := b.contract.Transact(opts, op, args...)
	if err != nil {
		// gas estimation executes the call, so deterministic reverts surface here
		if reason, ok := revertReason(err); ok {
			return nil, &RevertedError{Op: op, Reason: reason}
		}
		return nil, &SubmissionError{Op: op, Err: err}
	}

	receipt, err := bind.WaitMined(ctx, b.client, tx)
	if err != nil {
		return nil, &SubmissionError{Op: op, TxHash: tx.Hash().Hex(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &RevertedError{Op: op, TxHash: tx.Hash().Hex(), Reason: ReasonTransactionFailed}
	}
	return &Receipt{TxHash: tx.Hash(), BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

// revertReason extracts the Solidity revert string from an RPC error.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(encoded); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len("execution reverted"):], ":"))
		if reason == "" {
			reason = ReasonTransactionFailed
		}
		return reason, true
	}
	return "", false
}

func (b *EthereumBackend) RegisterUser(ctx context.Context, from common.Address, username string) (*Receipt, error) {
	return b.transact(ctx, "registerUser", from, nil, username)
}

func (b *EthereumBackend) GrantAccess(ctx context.Context, from, company common.Address, dataTypes string, monthlyPayment *big.Int, durationMonths uint64) (*Receipt, error) {
	return b.transact(ctx, "grantAccess", from, nil, company, dataTypes, monthlyPayment, new(big.Int).SetUint64(durationMonths))
}

func (b *EthereumBackend) RevokeAccess(ctx context.Context, from, company common.Address) (*Receipt, error) {
	return b.transact(ctx, "revokeAccess", from, nil, company)
}

// PayUser sends amount as the transaction value, as the contract forwards it.
func (b *EthereumBackend) PayUser(ctx context.Context, from, user common.Address, amount *big.Int) (*Receipt, error) {
	return b.transact(ctx, "payUser", from, amount, user, amount)
}

func (b *EthereumBackend) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ledger %s: empty result", method)
	}
	return out, nil
}

func (b *EthereumBackend) IsAccessActive(ctx context.Context, user, company common.Address) (bool, error) {
	out, err := b.call(ctx, "isAccessActive", user, company)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (b *EthereumBackend) GetUserEarnings(ctx context.Context, user common.Address) (*big.Int, error) {
	out, err := b.call(ctx, "getUserEarnings", user)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (b *EthereumBackend) GetUserLicenses(ctx context.Context, user common.Address) ([]uint64, error) {
	out, err := b.call(ctx, "getUserLicenses", user)
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	ids := make([]uint64, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, id.Uint64())
	}
	return ids, nil
}

func (b *EthereumBackend) GetLicenseDetails(ctx context.Context, licenseID uint64) (*License, error) {
	out, err := b.call(ctx, "getLicenseDetails", new(big.Int).SetUint64(licenseID))
	if err != nil {
		return nil, err
	}
	t := *abi.ConvertType(out[0], new(licenseTuple)).(*licenseTuple)
	if t.User == (common.Address{}) {
		return nil, ErrLicenseNotFound
	}
	return &License{
		ID:             licenseID,
		User:           t.User,
		Company:        t.Company,
		DataTypes:      t.DataTypes,
		MonthlyPayment: t.MonthlyPayment,
		StartTime:      t.StartTime.Int64(),
		EndTime:        t.EndTime.Int64(),
		IsActive:       t.IsActive,
	}, nil
}

func (b *EthereumBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return b.client.BlockNumber(ctx)
}

// decode turns a raw contract log into an Event.
func (b *EthereumBackend) decode(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return Event{}, errors.New("log without topics")
	}
	def, err := b.abi.EventByID(l.Topics[0])
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		Kind:        EventKind(def.Name),
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}
	switch ev.Kind {
	case EventAccessGranted, EventAccessRevoked:
		var out licenseLog
		if err := b.contract.UnpackLog(&out, def.Name, l); err != nil {
			return Event{}, err
		}
		ev.User, ev.Company, ev.LicenseID = out.User, out.Company, out.LicenseID.Uint64()
	case EventPaymentMade:
		var out paymentLog
		if err := b.contract.UnpackLog(&out, def.Name, l); err != nil {
			return Event{}, err
		}
		ev.User, ev.Company, ev.Amount = out.User, out.Company, out.Amount
	default:
		return Event{}, fmt.Errorf("unexpected event %s", def.Name)
	}
	return ev, nil
}

func logBefore(a, b types.Log) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	return a.Index < b.Index
}

// SubscribeEvents subscribes to new logs first, then backfills history from
// fromBlock, so no log falls between the two. Live logs already covered by
// the backfill are skipped; removed (reorged) logs are ignored.
func (b *EthereumBackend) SubscribeEvents(ctx context.Context, fromBlock uint64, sink chan<- Event) (event.Subscription, error) {
	query := ethereum.FilterQuery{Addresses: []common.Address{b.address}}
	live := make(chan types.Log, 128)
	sub, err := b.client.SubscribeFilterLogs(ctx, query, live)
	if err != nil {
		return nil, fmt.Errorf("subscribe ledger logs: %w", err)
	}

	query.FromBlock = new(big.Int).SetUint64(fromBlock)
	history, err := b.client.FilterLogs(ctx, query)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("backfill ledger logs: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()

		var last *types.Log
		deliver := func(l types.Log) bool {
			if l.Removed || l.BlockNumber < fromBlock {
				return true
			}
			if last != nil && !logBefore(*last, l) {
				return true
			}
			ev, err := b.decode(l)
			if err != nil {
				log.Warnf("[Ledger] Skipping undecodable log %s:%d: %v", l.TxHash.Hex(), l.Index, err)
				return true
			}
			select {
			case sink <- ev:
				cp := l
				last = &cp
				return true
			case <-quit:
				return false
			}
		}

		for _, l := range history {
			if !deliver(l) {
				return nil
			}
		}
		for {
			select {
			case l := <-live:
				if !deliver(l) {
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}
