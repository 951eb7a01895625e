package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/MindShield/internal/pkg/config"
	"github.com/ManuelReschke/MindShield/internal/pkg/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
)

const defaultSubmitTimeout = 60 * time.Second

// GrantRequest describes a license the user grants to a company.
// MonthlyPayment is a decimal ether amount.
type GrantRequest struct {
	Company        string
	DataTypes      []string
	MonthlyPayment string
	DurationMonths uint64
}

// LicenseDetail is the application view of a License with the payment in ether.
type LicenseDetail struct {
	ID             uint64 `json:"id"`
	User           string `json:"user"`
	Company        string `json:"company"`
	DataTypes      string `json:"dataTypes"`
	MonthlyPayment string `json:"monthlyPayment"`
	StartTime      int64  `json:"startTime"`
	EndTime        int64  `json:"endTime"`
	IsActive       bool   `json:"isActive"`
}

// Client is the typed entry point to the ledger used by the API and the
// reconciler. Mutating calls block until confirmation or the submit timeout
// and return the transaction hash.
type Client struct {
	backend            Backend
	timeout            time.Duration
	permissivePayments bool
	fiat               FiatConverter
}

// NewClient wraps backend using the timeouts, payment policy and fiat rate of cfg.
func NewClient(backend Backend, cfg config.LedgerConfig) (*Client, error) {
	fiat, err := NewFiatConverter(cfg.FiatRate)
	if err != nil {
		return nil, err
	}
	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	return &Client{
		backend:            backend,
		timeout:            timeout,
		permissivePayments: cfg.PermissivePayments,
		fiat:               fiat,
	}, nil
}

// Backend returns the wrapped backend.
func (c *Client) Backend() Backend {
	return c.backend
}

// Fiat returns the converter from ledger amounts to paise.
func (c *Client) Fiat() FiatConverter {
	return c.fiat
}

// ParseAddress validates a hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func parsePair(a, b string) (common.Address, common.Address, error) {
	first, err := ParseAddress(a)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	second, err := ParseAddress(b)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return first, second, nil
}

// submit runs one mutating call under the submit timeout and normalizes its
// error into the ledger taxonomy.
func (c *Client) submit(ctx context.Context, op string, fn func(ctx context.Context) (*Receipt, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	receipt, err := fn(ctx)
	took := time.Since(started)

	if err == nil {
		metrics.ObserveLedgerSubmission(op, metrics.OutcomeOK, took)
		log.Infof("[Ledger] %s confirmed in block %d (%s)", op, receipt.BlockNumber, receipt.TxHash.Hex())
		return receipt.TxHash.Hex(), nil
	}

	var reverted *RevertedError
	if errors.As(err, &reverted) {
		metrics.ObserveLedgerSubmission(op, metrics.OutcomeReverted, took)
		log.Warnf("[Ledger] %s reverted: %s", op, reverted.Reason)
		return reverted.TxHash, err
	}

	metrics.ObserveLedgerSubmission(op, metrics.OutcomeFailed, took)
	var submission *SubmissionError
	if !errors.As(err, &submission) {
		submission = &SubmissionError{Op: op, Err: err}
		err = submission
	}
	log.Errorf("[Ledger] %s failed after %s: %v", op, took.Round(time.Millisecond), err)
	return submission.TxHash, err
}

// RegisterUser associates a display name with the wallet.
func (c *Client) RegisterUser(ctx context.Context, wallet, username string) (string, error) {
	from, err := ParseAddress(wallet)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "registerUser", func(ctx context.Context) (*Receipt, error) {
		return c.backend.RegisterUser(ctx, from, username)
	})
}

// GrantAccess creates a new license from wallet to req.Company.
func (c *Client) GrantAccess(ctx context.Context, wallet string, req GrantRequest) (string, error) {
	from, company, err := parsePair(wallet, req.Company)
	if err != nil {
		return "", err
	}
	payment, err := ParseEther(req.MonthlyPayment)
	if err != nil {
		return "", err
	}
	dataTypes := strings.Join(cleanDataTypes(req.DataTypes), ",")
	return c.submit(ctx, "grantAccess", func(ctx context.Context) (*Receipt, error) {
		return c.backend.GrantAccess(ctx, from, company, dataTypes, payment, req.DurationMonths)
	})
}

// RevokeAccess deactivates the current license from wallet to company.
func (c *Client) RevokeAccess(ctx context.Context, wallet, company string) (string, error) {
	from, to, err := parsePair(wallet, company)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "revokeAccess", func(ctx context.Context) (*Receipt, error) {
		return c.backend.RevokeAccess(ctx, from, to)
	})
}

// PayUser credits amount (decimal ether) from payer to user. Unless
// permissive payments are enabled the payer must hold an active license
// from the user; the check runs before anything is signed.
func (c *Client) PayUser(ctx context.Context, payer, user, amount string) (string, error) {
	from, to, err := parsePair(payer, user)
	if err != nil {
		return "", err
	}
	wei, err := ParseEther(amount)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "payUser", func(ctx context.Context) (*Receipt, error) {
		if !c.permissivePayments {
			active, err := c.backend.IsAccessActive(ctx, to, from)
			if err != nil {
				return nil, &SubmissionError{Op: "payUser", Err: err}
			}
			if !active {
				return nil, &RevertedError{Op: "payUser", Reason: ReasonPayerNotLicensed}
			}
		}
		return c.backend.PayUser(ctx, from, to, wei)
	})
}

func (c *Client) IsAccessActive(ctx context.Context, user, company string) (bool, error) {
	u, co, err := parsePair(user, company)
	if err != nil {
		return false, err
	}
	return c.backend.IsAccessActive(ctx, u, co)
}

// GetUserEarnings returns the user's accumulated earnings in ether.
func (c *Client) GetUserEarnings(ctx context.Context, user string) (string, error) {
	u, err := ParseAddress(user)
	if err != nil {
		return "", err
	}
	wei, err := c.backend.GetUserEarnings(ctx, u)
	if err != nil {
		return "", err
	}
	return FormatEther(wei), nil
}

func (c *Client) GetUserLicenses(ctx context.Context, user string) ([]uint64, error) {
	u, err := ParseAddress(user)
	if err != nil {
		return nil, err
	}
	return c.backend.GetUserLicenses(ctx, u)
}

func (c *Client) GetLicenseDetails(ctx context.Context, licenseID uint64) (*LicenseDetail, error) {
	l, err := c.backend.GetLicenseDetails(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	return toDetail(l), nil
}

// ListLicenses fetches the details of every license of the user, in
// license order.
func (c *Client) ListLicenses(ctx context.Context, user string) ([]LicenseDetail, error) {
	ids, err := c.GetUserLicenses(ctx, user)
	if err != nil {
		return nil, err
	}
	details := make([]LicenseDetail, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			d, err := c.GetLicenseDetails(gctx, id)
			if err != nil {
				return fmt.Errorf("license %d: %w", id, err)
			}
			details[i] = *d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return details, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// Subscribe streams ledger events from fromBlock into sink.
func (c *Client) Subscribe(ctx context.Context, fromBlock uint64, sink chan<- Event) (event.Subscription, error) {
	return c.backend.SubscribeEvents(ctx, fromBlock, sink)
}

func toDetail(l *License) *LicenseDetail {
	return &LicenseDetail{
		ID:             l.ID,
		User:           l.User.Hex(),
		Company:        l.Company.Hex(),
		DataTypes:      l.DataTypes,
		MonthlyPayment: FormatEther(l.MonthlyPayment),
		StartTime:      l.StartTime,
		EndTime:        l.EndTime,
		IsActive:       l.IsActive,
	}
}

func cleanDataTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
