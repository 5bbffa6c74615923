package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokersplit/internal/round"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRound(t *testing.T, code string) *round.Round {
	t.Helper()
	now := time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC)
	r, err := round.New(round.Options{
		Code:        code,
		BuyIn:       decimal.RequireFromString("12.50"),
		Names:       []string{"Alice", "Bob", "Carol"},
		DealerToken: "tok-" + code,
		Now:         now,
	})
	require.NoError(t, err)
	return r
}

func TestStoreOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r := newRound(t, "ABCDEF")
	require.NoError(t, s.CreateRound(ctx, r))

	exists, err := s.CodeExists(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := s.LoadRound(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, r.ID, loaded.ID)
	assert.Equal(t, "tok-ABCDEF", loaded.DealerToken)
	assert.True(t, loaded.BuyIn.Equal(r.BuyIn))
	assert.Equal(t, round.PhasePlaying, loaded.Phase)
	assert.True(t, loaded.CreatedAt.Equal(r.CreatedAt))
	require.Len(t, loaded.Players, 3)
	assert.Equal(t, "Alice", loaded.Players[0].Name)
	assert.False(t, loaded.Players[0].Wins.Valid)

	// Mutate and save.
	require.NoError(t, loaded.AddBuyIn(loaded.Players[1].ID))
	require.NoError(t, loaded.CashOut(loaded.Players[2].ID, decimal.RequireFromString("7.25")))
	_, err = loaded.AddPlayer("Dave")
	require.NoError(t, err)
	loaded.UpdatedAt = loaded.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.SaveRound(ctx, loaded))

	again, err := s.LoadRound(ctx, "ABCDEF")
	require.NoError(t, err)
	require.Len(t, again.Players, 4)
	assert.Equal(t, 2, again.Players[1].BuyIns)
	assert.True(t, again.Players[2].CashedOut)
	assert.True(t, again.Players[2].Wins.Valid)
	assert.True(t, again.Players[2].Wins.Decimal.Equal(decimal.RequireFromString("7.25")))
	assert.Equal(t, "Dave", again.Players[3].Name)
	assert.True(t, again.UpdatedAt.Equal(loaded.UpdatedAt))
	assert.True(t, again.Pot().Equal(decimal.RequireFromString("62.5")))
}

func TestStoreLoadMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LoadRound(context.Background(), "ZZZZZZ")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := s.CodeExists(context.Background(), "ZZZZZZ")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreSaveUnknownRound(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveRound(context.Background(), newRound(t, "NEVER2"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDuplicateCode(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateRound(ctx, newRound(t, "SAME22")))
	assert.Error(t, s.CreateRound(ctx, newRound(t, "SAME22")))
}

func TestStoreStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	playing := newRound(t, "PLAY22")
	require.NoError(t, s.CreateRound(ctx, playing))

	settling := newRound(t, "SETL22")
	require.NoError(t, settling.EndGame())
	require.NoError(t, s.CreateRound(ctx, settling))

	done := newRound(t, "DONE22")
	require.NoError(t, done.EndGame())
	for _, p := range done.Players {
		require.NoError(t, done.SetWins(p.ID, done.BuyIn))
	}
	require.NoError(t, done.Finalize())
	require.NoError(t, s.CreateRound(ctx, done))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 1, Completed: 2, Total: 3}, stats)
}

func TestStoreListRoundsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	list, err := s.ListRounds(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	older := newRound(t, "OLD222")
	require.NoError(t, s.CreateRound(ctx, older))

	newer := newRound(t, "NEW222")
	// Sub-second offsets must still order correctly.
	newer.CreatedAt = newer.CreatedAt.Add(1500 * time.Millisecond)
	require.NoError(t, newer.AddBuyIn(newer.Players[0].ID))
	require.NoError(t, newer.EndGame())
	require.NoError(t, s.CreateRound(ctx, newer))

	list, err = s.ListRounds(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "NEW222", list[0].Code)
	assert.Equal(t, round.PhaseSettlement, list[0].Phase)
	assert.Equal(t, 3, list[0].Players)
	assert.True(t, list[0].Pot.Equal(decimal.RequireFromString("50")))
	assert.True(t, list[0].CreatedAt.Equal(newer.CreatedAt))

	assert.Equal(t, "OLD222", list[1].Code)
	assert.True(t, list[1].Pot.Equal(decimal.RequireFromString("37.5")))
}

func TestStoreDeleteRound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateRound(ctx, newRound(t, "GONE22")))
	require.NoError(t, s.CreateRound(ctx, newRound(t, "KEEP22")))

	require.NoError(t, s.DeleteRound(ctx, "GONE22"))

	_, err := s.LoadRound(ctx, "GONE22")
	assert.ErrorIs(t, err, ErrNotFound)

	var orphans int
	require.NoError(t, s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM players WHERE round_id NOT IN (SELECT id FROM rounds)").Scan(&orphans))
	assert.Zero(t, orphans, "players are removed with their round")

	kept, err := s.LoadRound(ctx, "KEEP22")
	require.NoError(t, err)
	assert.Len(t, kept.Players, 3)

	assert.ErrorIs(t, s.DeleteRound(ctx, "GONE22"), ErrNotFound)
}
