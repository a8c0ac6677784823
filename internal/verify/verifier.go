package verify

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/terminal-bench/ledgerboard/internal/ledger"
	"github.com/terminal-bench/ledgerboard/pkg/amount"
)

// Rejection reasons, surfaced verbatim to the submitter
const (
	ReasonBadAddress      = "bad_address"
	ReasonTxNotSuccessful = "tx_not_successful"
	ReasonMemoNotAllowed  = "memo_not_allowed"
	ReasonTxTooOld        = "tx_too_old"
	ReasonNoValidPayment  = "no_valid_payment"
)

// RecencyWindow is how old a transaction's ledger-recorded creation time may
// be at verification time. Anything older is considered a stale broadcast and
// rejected.
const RecencyWindow = 30 * time.Minute

// UnitAmount is the exact payment amount a qualifying payment must carry.
var UnitAmount = amount.MustParse("1.0000000")

var addressPattern = regexp.MustCompile(`^G[A-Z2-7]{55}$`)

// RejectionError reports a failed verification check
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "verification rejected: " + e.Reason
}

// NormalizeAddress uppercases a claimed payer address
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// ValidAddress reports whether a normalized address matches the account
// identifier pattern (56 chars, leading G, base-32 alphabet)
func ValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}

// LedgerClient is the read-only slice of the ledger API the verifier needs
type LedgerClient interface {
	Transaction(ctx context.Context, txRef string) (*ledger.Transaction, error)
	Operations(ctx context.Context, txRef string) ([]ledger.Operation, error)
}

// Verifier decides whether a claimed transaction reference represents a
// single qualifying payment from the claimed payer to the treasury. It makes
// no writes; the only side effect is the ledger fetch.
type Verifier struct {
	client      LedgerClient
	treasury    string
	assetCode   string
	assetIssuer string
	now         func() time.Time
}

// Config holds verifier configuration
type Config struct {
	Client      LedgerClient
	Treasury    string
	AssetCode   string
	AssetIssuer string

	// Now overrides the clock in tests
	Now func() time.Time
}

// New creates a new payment verifier
func New(cfg Config) *Verifier {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		client:      cfg.Client,
		treasury:    cfg.Treasury,
		assetCode:   cfg.AssetCode,
		assetIssuer: cfg.AssetIssuer,
		now:         now,
	}
}

// Verify runs the full check sequence for a transaction reference and claimed
// payer address. On success it returns the ledger-recorded payment time. A
// failed check returns a *RejectionError; a ledger fetch failure returns the
// client's error unchanged.
func (v *Verifier) Verify(ctx context.Context, txRef, claimedAddress string) (time.Time, error) {
	addr := NormalizeAddress(claimedAddress)
	if !ValidAddress(addr) {
		return time.Time{}, &RejectionError{Reason: ReasonBadAddress}
	}

	tx, err := v.client.Transaction(ctx, txRef)
	if err != nil {
		return time.Time{}, err
	}

	if !tx.Successful {
		return time.Time{}, &RejectionError{Reason: ReasonTxNotSuccessful}
	}

	// Memos are a side channel; a qualifying payment carries none.
	if tx.MemoType != "" && tx.MemoType != "none" {
		return time.Time{}, &RejectionError{Reason: ReasonMemoNotAllowed}
	}

	if v.now().Sub(tx.CreatedAt) > RecencyWindow {
		return time.Time{}, &RejectionError{Reason: ReasonTxTooOld}
	}

	ops, err := v.client.Operations(ctx, txRef)
	if err != nil {
		return time.Time{}, err
	}

	// Exactly one operation must qualify. Zero means the claimed payment is
	// not in this transaction; more than one means a multi-payment transaction
	// is trying to earn multiple credits.
	matches := 0
	for _, op := range ops {
		if v.qualifies(op, addr) {
			matches++
		}
	}
	if matches != 1 {
		return time.Time{}, &RejectionError{Reason: ReasonNoValidPayment}
	}

	return tx.CreatedAt, nil
}

func (v *Verifier) qualifies(op ledger.Operation, payer string) bool {
	if op.Type != "payment" {
		return false
	}
	if op.To != v.treasury || op.From != payer {
		return false
	}
	// Native-asset payments carry no code/issuer and never match.
	if op.AssetCode != v.assetCode || op.AssetIssuer != v.assetIssuer {
		return false
	}
	paid, err := amount.Parse(op.Amount)
	if err != nil {
		return false
	}
	return paid.Equal(UnitAmount)
}
