package leaderboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Capacity is how many top-ranked entries survive pruning
const Capacity = 100

// ErrDuplicateTx reports that an entry with the same transaction hash already
// exists. The unique index on tx_hash is the authoritative replay guard; this
// error is how a lost insert race surfaces.
var ErrDuplicateTx = errors.New("transaction already used")

// Entry is one accepted submission
type Entry struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	Score     int64     `json:"score"`
	TxHash    string    `json:"tx_hash"`
	PaidAt    time.Time `json:"paid_at"`
	CreatedAt time.Time `json:"created_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// rankOrder is the total order used for both reads and pruning. The id
// tie-break guarantees no two entries ever compare equal, which pruning to an
// exact capacity requires.
const rankOrder = "score DESC, created_at ASC, id ASC"

// Store persists leaderboard entries in Postgres
type Store struct {
	db    *sql.DB
	cache *Cache
}

// NewStore creates a store. cache may be nil.
func NewStore(db *sql.DB, cache *Cache) *Store {
	return &Store{db: db, cache: cache}
}

// EnsureSchema creates the score_entries table and its indexes if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS score_entries (
			id         BIGSERIAL PRIMARY KEY,
			address    TEXT        NOT NULL,
			score      BIGINT      NOT NULL,
			tx_hash    TEXT        NOT NULL UNIQUE,
			paid_at    TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ip         TEXT        NOT NULL DEFAULT '',
			user_agent TEXT        NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("failed to create score_entries: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS score_entries_rank_idx
		ON score_entries (score DESC, created_at ASC, id ASC)`)
	if err != nil {
		return fmt.Errorf("failed to create rank index: %w", err)
	}
	return nil
}

// IsConsumed reports whether a transaction hash has already been accepted.
// This is a fast-path pre-check only; Insert's unique constraint is the
// guarantee.
func (s *Store) IsConsumed(ctx context.Context, txHash string) (bool, error) {
	var consumed bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM score_entries WHERE tx_hash = $1)",
		txHash,
	).Scan(&consumed)
	if err != nil {
		return false, fmt.Errorf("failed to check tx hash: %w", err)
	}
	return consumed, nil
}

// Insert appends an entry, filling in ID and CreatedAt from the database.
// Returns ErrDuplicateTx when the tx_hash is already present.
func (s *Store) Insert(ctx context.Context, e *Entry) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO score_entries (address, score, tx_hash, paid_at, ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		e.Address, e.Score, e.TxHash, e.PaidAt, e.IP, e.UserAgent,
	).Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateTx
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	s.cache.Invalidate(ctx)
	return nil
}

// Prune deletes every entry outside the top capacity window. It is idempotent
// and safe to run concurrently: repeated pruning converges to the same
// surviving set.
func (s *Store) Prune(ctx context.Context, capacity int) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM score_entries WHERE id NOT IN (
			SELECT id FROM score_entries ORDER BY %s LIMIT $1
		)`, rankOrder),
		capacity,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune entries: %w", err)
	}

	removed, _ := res.RowsAffected()
	if removed > 0 {
		s.cache.Invalidate(ctx)
	}
	return removed, nil
}

// TopN returns the first n entries by ranking order. Reads go through the
// cache when one is configured; a miss reads the full capacity window from
// the database and repopulates it.
func (s *Store) TopN(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > Capacity {
		n = Capacity
	}

	if top, ok := s.cache.Get(ctx); ok {
		if len(top) > n {
			top = top[:n]
		}
		return top, nil
	}

	top, err := s.queryTop(ctx, Capacity)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, top)

	if len(top) > n {
		top = top[:n]
	}
	return top, nil
}

func (s *Store) queryTop(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, address, score, tx_hash, paid_at, created_at, ip, user_agent
		 FROM score_entries ORDER BY %s LIMIT $1`, rankOrder),
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Address, &e.Score, &e.TxHash,
			&e.PaidAt, &e.CreatedAt, &e.IP, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// All returns every stored entry in ranking order, provenance included. Used
// by the admin surface only.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	return s.queryTop(ctx, Capacity)
}
