package leaderboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store tests run against a real Postgres, pointed at by TEST_DATABASE_URL,
// and are skipped otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, nil)
	require.NoError(t, store.EnsureSchema(context.Background()))

	_, err = db.Exec("TRUNCATE score_entries RESTART IDENTITY")
	require.NoError(t, err)

	return store
}

func testEntry(txHash string, score int64) *Entry {
	return &Entry{
		Address: "GAPAYER22B22B22B22B22B22B22B22B22B22B22B22B22B22B22B22B2",
		Score:   score,
		TxHash:  txHash,
		PaidAt:  time.Now().Add(-time.Minute),
	}
}

func TestInsertAssignsIDAndCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := testEntry("tx-1", 10)
	require.NoError(t, store.Insert(ctx, e))
	assert.NotZero(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestInsertDuplicateTxHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testEntry("tx-1", 10)))

	// Same tx hash with a different score and address must still be refused.
	dup := testEntry("tx-1", 99)
	dup.Address = "GBOTHER42C42C42C42C42C42C42C42C42C42C42C42C42C42C42C42C4"
	err := store.Insert(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateTx)

	consumed, err := store.IsConsumed(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = store.IsConsumed(ctx, "tx-2")
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestConcurrentDuplicateInsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Insert(ctx, testEntry("tx-race", 50))
		}()
	}
	wg.Wait()
	close(results)

	var successes, duplicates int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrDuplicateTx):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, duplicates)
}

func TestRankingOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two ties on score; insertion order decides rank via created_at then id.
	require.NoError(t, store.Insert(ctx, testEntry("tx-a", 50)))
	require.NoError(t, store.Insert(ctx, testEntry("tx-b", 70)))
	require.NoError(t, store.Insert(ctx, testEntry("tx-c", 50)))

	top, err := store.TopN(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)

	assert.Equal(t, "tx-b", top[0].TxHash)
	assert.Equal(t, "tx-a", top[1].TxHash)
	assert.Equal(t, "tx-c", top[2].TxHash)
}

func TestPruneKeepsTopCapacity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < Capacity+20; i++ {
		require.NoError(t, store.Insert(ctx, testEntry(fmt.Sprintf("tx-%03d", i), int64(i))))
	}

	removed, err := store.Prune(ctx, Capacity)
	require.NoError(t, err)
	assert.Equal(t, int64(20), removed)

	// Idempotent: a second prune removes nothing.
	removed, err = store.Prune(ctx, Capacity)
	require.NoError(t, err)
	assert.Zero(t, removed)

	top, err := store.TopN(ctx, Capacity)
	require.NoError(t, err)
	require.Len(t, top, Capacity)

	// The 20 lowest scores are the ones that fell off.
	assert.Equal(t, int64(Capacity+19), top[0].Score)
	assert.Equal(t, int64(20), top[len(top)-1].Score)
}

func TestTopNClamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(ctx, testEntry(fmt.Sprintf("tx-%d", i), int64(i))))
	}

	top, err := store.TopN(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, top, 3)

	top, err = store.TopN(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, top, 5)

	top, err = store.TopN(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, top)
}
