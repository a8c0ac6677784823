package submission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/terminal-bench/ledgerboard/internal/leaderboard"
	"github.com/terminal-bench/ledgerboard/internal/verify"
	"github.com/terminal-bench/ledgerboard/pkg/metrics"
	"github.com/terminal-bench/ledgerboard/shared/events"
)

// topSnapshot is how many entries a successful submission response carries
const topSnapshot = 10

// Request is one submission as received from the client
type Request struct {
	TxHash  string
	Address string

	// Score is nil when the field was absent or not numeric
	Score *float64

	// Best-effort provenance, never used in verification
	IP        string
	UserAgent string

	CorrelationID string
}

// Result is a successful submission outcome
type Result struct {
	Entry leaderboard.Entry
	Top   []leaderboard.Entry
}

// Store is the slice of the leaderboard store the pipeline drives
type Store interface {
	IsConsumed(ctx context.Context, txHash string) (bool, error)
	Insert(ctx context.Context, e *leaderboard.Entry) error
	Prune(ctx context.Context, capacity int) (int64, error)
	TopN(ctx context.Context, n int) ([]leaderboard.Entry, error)
}

// Publisher publishes pipeline events. messaging.Client satisfies it.
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Pipeline runs a submission through verification and ranked storage:
// shape check, address check, replay pre-check, ledger verification, insert,
// prune, snapshot. Rejections exit before any write; only a fully verified
// submission reaches the store.
type Pipeline struct {
	verifier *verify.Verifier
	store    Store
	events   Publisher         // optional
	metrics  *metrics.Recorder // optional
}

// New creates a submission pipeline. events and recorder may be nil.
func New(verifier *verify.Verifier, store Store, pub Publisher, rec *metrics.Recorder) *Pipeline {
	return &Pipeline{
		verifier: verifier,
		store:    store,
		events:   pub,
		metrics:  rec,
	}
}

// Submit processes one submission request. Error values map onto the
// user-visible taxonomy: ErrMissingFields and *verify.RejectionError are
// 400-class, ErrReplay is 409, *ledger.UnavailableError is 500-class and
// retryable, anything else is an unexpected storage failure.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	res, err := p.run(ctx, req)
	p.record(req, res, err, time.Since(start))
	return res, err
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	if req.TxHash == "" || req.Address == "" || req.Score == nil {
		return nil, ErrMissingFields
	}

	addr := verify.NormalizeAddress(req.Address)
	if !verify.ValidAddress(addr) {
		return nil, &verify.RejectionError{Reason: verify.ReasonBadAddress}
	}

	// Cheap replay pre-check before paying for a ledger round trip. The
	// insert below is the authoritative guard.
	consumed, err := p.store.IsConsumed(ctx, req.TxHash)
	if err != nil {
		return nil, fmt.Errorf("replay pre-check failed: %w", err)
	}
	if consumed {
		return nil, ErrReplay
	}

	paidAt, err := p.verifier.Verify(ctx, req.TxHash, addr)
	if err != nil {
		return nil, err
	}

	entry := leaderboard.Entry{
		Address:   addr,
		Score:     leaderboard.Normalize(*req.Score),
		TxHash:    req.TxHash,
		PaidAt:    paidAt,
		IP:        req.IP,
		UserAgent: req.UserAgent,
	}
	if err := p.store.Insert(ctx, &entry); err != nil {
		if errors.Is(err, leaderboard.ErrDuplicateTx) {
			// Lost the race to a concurrent duplicate; same outcome as the
			// pre-check hit.
			return nil, ErrReplay
		}
		return nil, fmt.Errorf("failed to store entry: %w", err)
	}

	// The entry is durable from here on; prune and snapshot problems are
	// logged but do not fail the submission.
	removed, err := p.store.Prune(ctx, leaderboard.Capacity)
	if err != nil {
		log.Printf("prune after insert failed: %v", err)
	} else if removed > 0 {
		p.publish(events.LeaderboardPruned, events.PrunedData{
			Removed:  removed,
			Capacity: leaderboard.Capacity,
		}, events.Metadata{Source: "ledgerboard", CorrelationID: req.CorrelationID})
	}

	top, err := p.store.TopN(ctx, topSnapshot)
	if err != nil {
		log.Printf("top snapshot failed: %v", err)
		top = nil
	}

	return &Result{Entry: entry, Top: top}, nil
}

func (p *Pipeline) record(req Request, res *Result, err error, elapsed time.Duration) {
	meta := events.Metadata{Source: "ledgerboard", CorrelationID: req.CorrelationID}

	switch {
	case err == nil:
		p.metrics.Submission("accepted", "", res.Entry.Score, elapsed)
		p.publish(events.ScoreAccepted, events.ScoreAcceptedData{
			Address: res.Entry.Address,
			Score:   res.Entry.Score,
			TxHash:  res.Entry.TxHash,
			PaidAt:  res.Entry.PaidAt,
		}, meta)

	case errors.Is(err, ErrReplay):
		p.metrics.Submission("replay", "", 0, elapsed)
		p.publish(events.ScoreRejected, events.ScoreRejectedData{
			TxHash: req.TxHash,
			Reason: "tx_already_used",
		}, meta)

	default:
		var rej *verify.RejectionError
		if errors.As(err, &rej) {
			p.metrics.Submission("rejected", rej.Reason, 0, elapsed)
			p.publish(events.ScoreRejected, events.ScoreRejectedData{
				Address: req.Address,
				TxHash:  req.TxHash,
				Reason:  rej.Reason,
			}, meta)
			return
		}
		if errors.Is(err, ErrMissingFields) {
			p.metrics.Submission("rejected", "missing_fields", 0, elapsed)
			return
		}
		p.metrics.Submission("error", "", 0, elapsed)
	}
}

func (p *Pipeline) publish(eventType string, data interface{}, meta events.Metadata) {
	if p.events == nil {
		return
	}
	ev, err := events.NewEvent(eventType, data, meta)
	if err != nil {
		return
	}
	if err := p.events.Publish(eventType, ev); err != nil {
		log.Printf("failed to publish %s: %v", eventType, err)
	}
}
