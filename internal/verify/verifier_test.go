package verify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/ledgerboard/internal/ledger"
)

const (
	testTreasury = "GBTREASURY7T7T7T7T7T7T7T7T7T7T7T7T7T7T7T7T7T7T7T7T7T7T7T"
	testIssuer   = "GBISSUER7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A7A"
	testPayer    = "GAPAYER22B22B22B22B22B22B22B22B22B22B22B22B22B22B22B22B2"
	testCode     = "GAME"
)

type fakeLedger struct {
	tx      *ledger.Transaction
	ops     []ledger.Operation
	txErr   error
	opsErr  error
	txCalls int
	opCalls int
}

func (f *fakeLedger) Transaction(ctx context.Context, txRef string) (*ledger.Transaction, error) {
	f.txCalls++
	return f.tx, f.txErr
}

func (f *fakeLedger) Operations(ctx context.Context, txRef string) ([]ledger.Operation, error) {
	f.opCalls++
	return f.ops, f.opsErr
}

func goodTx(age time.Duration, now time.Time) *ledger.Transaction {
	return &ledger.Transaction{
		Hash:       "tx1",
		Successful: true,
		MemoType:   "none",
		CreatedAt:  now.Add(-age),
	}
}

func goodOp() ledger.Operation {
	return ledger.Operation{
		Type:        "payment",
		From:        testPayer,
		To:          testTreasury,
		AssetType:   "credit_alphanum4",
		AssetCode:   testCode,
		AssetIssuer: testIssuer,
		Amount:      "1.0000000",
	}
}

func newTestVerifier(f *fakeLedger, now time.Time) *Verifier {
	return New(Config{
		Client:      f,
		Treasury:    testTreasury,
		AssetCode:   testCode,
		AssetIssuer: testIssuer,
		Now:         func() time.Time { return now },
	})
}

func assertRejected(t *testing.T, err error, reason string) {
	t.Helper()
	var rej *RejectionError
	require.True(t, errors.As(err, &rej), "expected rejection, got %v", err)
	assert.Equal(t, reason, rej.Reason)
}

func TestAddressPattern(t *testing.T) {
	t.Run("valid address passes", func(t *testing.T) {
		assert.True(t, ValidAddress(testPayer))
	})

	t.Run("lowercase input is normalized before matching", func(t *testing.T) {
		assert.True(t, ValidAddress(NormalizeAddress(strings.ToLower(testPayer))))
	})

	for _, bad := range []string{
		"",
		"G",
		testPayer + "A",                         // 57 chars
		testPayer[:55],                          // 55 chars
		"X" + testPayer[1:],                     // wrong prefix
		strings.Replace(testPayer, "2", "1", 1), // 1 not in alphabet
		strings.Replace(testPayer, "2", "0", 1), // 0 not in alphabet
	} {
		t.Run("rejects "+bad, func(t *testing.T) {
			assert.False(t, ValidAddress(NormalizeAddress(bad)))
		})
	}
}

func TestVerifyBadAddressSkipsLedger(t *testing.T) {
	f := &fakeLedger{}
	v := newTestVerifier(f, time.Now())

	_, err := v.Verify(context.Background(), "tx1", "not-an-address")
	assertRejected(t, err, ReasonBadAddress)
	assert.Zero(t, f.txCalls, "no ledger call for a malformed address")
	assert.Zero(t, f.opCalls)
}

func TestVerifyChecksInOrder(t *testing.T) {
	now := time.Now()

	t.Run("unsuccessful transaction", func(t *testing.T) {
		tx := goodTx(2*time.Minute, now)
		tx.Successful = false
		f := &fakeLedger{tx: tx, ops: []ledger.Operation{goodOp()}}

		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		assertRejected(t, err, ReasonTxNotSuccessful)
		assert.Zero(t, f.opCalls, "short-circuits before fetching operations")
	})

	t.Run("memo present", func(t *testing.T) {
		tx := goodTx(2*time.Minute, now)
		tx.MemoType = "text"
		f := &fakeLedger{tx: tx}

		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		assertRejected(t, err, ReasonMemoNotAllowed)
	})

	t.Run("absent memo type is allowed", func(t *testing.T) {
		tx := goodTx(2*time.Minute, now)
		tx.MemoType = ""
		f := &fakeLedger{tx: tx, ops: []ledger.Operation{goodOp()}}

		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		assert.NoError(t, err)
	})

	t.Run("stale transaction", func(t *testing.T) {
		f := &fakeLedger{tx: goodTx(31*time.Minute, now)}

		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		assertRejected(t, err, ReasonTxTooOld)
	})

	t.Run("transaction just inside the window", func(t *testing.T) {
		f := &fakeLedger{tx: goodTx(29*time.Minute, now), ops: []ledger.Operation{goodOp()}}

		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		assert.NoError(t, err)
	})
}

func TestVerifyQualifyingPayment(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(*ledger.Operation)
	}{
		{"wrong type", func(op *ledger.Operation) { op.Type = "create_account" }},
		{"wrong destination", func(op *ledger.Operation) { op.To = testPayer }},
		{"wrong source", func(op *ledger.Operation) { op.From = testTreasury }},
		{"wrong asset code", func(op *ledger.Operation) { op.AssetCode = "OTHER" }},
		{"wrong issuer", func(op *ledger.Operation) { op.AssetIssuer = testPayer }},
		{"native asset", func(op *ledger.Operation) {
			op.AssetType = "native"
			op.AssetCode = ""
			op.AssetIssuer = ""
		}},
		{"wrong amount", func(op *ledger.Operation) { op.Amount = "2.0000000" }},
		{"near-unit amount", func(op *ledger.Operation) { op.Amount = "0.9999999" }},
		{"unparseable amount", func(op *ledger.Operation) { op.Amount = "one" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := goodOp()
			tc.mutate(&op)
			f := &fakeLedger{tx: goodTx(time.Minute, now), ops: []ledger.Operation{op}}

			_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
			assertRejected(t, err, ReasonNoValidPayment)
		})
	}

	t.Run("zero operations", func(t *testing.T) {
		f := &fakeLedger{tx: goodTx(time.Minute, now)}

		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		assertRejected(t, err, ReasonNoValidPayment)
	})

	t.Run("two qualifying payments", func(t *testing.T) {
		f := &fakeLedger{tx: goodTx(time.Minute, now), ops: []ledger.Operation{goodOp(), goodOp()}}

		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		assertRejected(t, err, ReasonNoValidPayment)
	})

	t.Run("one qualifying among noise", func(t *testing.T) {
		noise := goodOp()
		noise.Type = "manage_offer"
		f := &fakeLedger{tx: goodTx(time.Minute, now), ops: []ledger.Operation{noise, goodOp()}}

		paidAt, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		require.NoError(t, err)
		assert.Equal(t, f.tx.CreatedAt, paidAt)
	})

	t.Run("amount equal in value but different representation", func(t *testing.T) {
		op := goodOp()
		op.Amount = "1"
		f := &fakeLedger{tx: goodTx(time.Minute, now), ops: []ledger.Operation{op}}

		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		assert.NoError(t, err)
	})
}

func TestVerifyPropagatesLedgerErrors(t *testing.T) {
	now := time.Now()
	unavail := &ledger.UnavailableError{Status: 503}

	t.Run("transaction fetch", func(t *testing.T) {
		f := &fakeLedger{txErr: unavail}
		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		var u *ledger.UnavailableError
		assert.True(t, errors.As(err, &u))
	})

	t.Run("operations fetch", func(t *testing.T) {
		f := &fakeLedger{tx: goodTx(time.Minute, now), opsErr: unavail}
		_, err := newTestVerifier(f, now).Verify(context.Background(), "tx1", testPayer)
		var u *ledger.UnavailableError
		assert.True(t, errors.As(err, &u))
	})
}
