package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"waveScope/internal/model"
	"waveScope/internal/storage"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("wave_test"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		tcpostgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{"test": "wave-store", "test-name": t.Name()}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, MigrateUp(dsn, zap.NewNop()))

	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestStoreDuelRoundLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	insert := func(address string, role model.Role, logIndex uint64) bool {
		var inserted bool
		err := store.InRound(ctx, model.GameDuel, "R1", func(tx storage.Tx) error {
			acct, err := tx.EnsureAccount(ctx, address, at)
			if err != nil {
				return err
			}
			inserted, err = tx.InsertBet(ctx, model.Bet{
				AccountID: acct.ID, Address: address, RoundID: "R1", GameKind: model.GameDuel,
				Role: role, Stake: "100", Outcome: model.OutcomePending, Payout: "0",
				TxHash: "0xaa", LogIndex: logIndex, CreatedAt: at,
			})
			return err
		})
		require.NoError(t, err)
		return inserted
	}

	assert.True(t, insert("0xa", model.RoleCreator, 1))
	assert.False(t, insert("0xa", model.RoleCreator, 1), "same origin log")
	assert.False(t, insert("0xc", model.RoleCreator, 9), "same duel role")
	assert.True(t, insert("0xb", model.RoleChallenger, 2))

	err := store.InRound(ctx, model.GameDuel, "R1", func(tx storage.Tx) error {
		bets, err := tx.RoundBets(ctx, model.GameDuel, "R1")
		require.NoError(t, err)
		require.Len(t, bets, 2)
		for _, bet := range bets {
			outcome, payout := model.OutcomeLoss, "0"
			if bet.Address == "0xa" {
				outcome, payout = model.OutcomeWin, "180"
			}
			require.NoError(t, tx.ResolveBet(ctx, bet.ID, outcome, payout))
		}
		appended, err := tx.AppendWin(ctx, model.WinHistoryRow{
			Address: "0xa", GameKind: model.GameDuel, RoundID: "R1", Reward: "180", Stake: "100", EventTimeMs: at.UnixMilli(),
		})
		require.NoError(t, err)
		require.True(t, appended)
		return tx.IncrementLeaderboard(ctx, model.LeaderboardEntry{
			Address: "0xa", GameKind: model.GameDuel, Wins: 1, TotalXP: 100, TotalReward: 180,
		})
	})
	require.NoError(t, err)

	bets, err := store.BetsByRound(ctx, model.GameDuel, "R1")
	require.NoError(t, err)
	for _, bet := range bets {
		switch bet.Role {
		case model.RoleCreator:
			assert.Equal(t, model.OutcomeWin, bet.Outcome)
			assert.Equal(t, "180", bet.Payout)
		case model.RoleChallenger:
			assert.Equal(t, model.OutcomeLoss, bet.Outcome)
			assert.Equal(t, "0", bet.Payout)
		}
	}

	rank, row, err := store.LeaderboardRank(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
	assert.Equal(t, int64(1), row.Wins)
	assert.Equal(t, 180.0, row.TotalReward)

	wins, err := store.RecentWins(ctx, 10)
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.Equal(t, "180", wins[0].Reward)
}

func TestStoreRollsBackFailedRound(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.InRound(ctx, model.GamePool, "P1", func(tx storage.Tx) error {
		if _, err := tx.EnsureAccount(ctx, "0xd", time.Now()); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = store.AccountByAddress(ctx, "0xd")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreAdminBan(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	acct, err := store.UpsertAccount(ctx, "0xe", "")
	require.NoError(t, err)
	assert.Equal(t, "0xe", acct.Username)

	banned, err := store.SetBanned(ctx, acct.ID, true)
	require.NoError(t, err)
	assert.True(t, banned.Banned)
	require.NotNil(t, banned.BannedAt)

	unbanned, err := store.SetBanned(ctx, acct.ID, false)
	require.NoError(t, err)
	assert.False(t, unbanned.Banned)
	assert.Nil(t, unbanned.BannedAt)
}
