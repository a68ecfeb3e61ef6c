package storage

import (
	"context"
	"errors"
	"time"

	"waveScope/internal/model"
)

// ErrNotFound is returned by reads that match nothing.
var ErrNotFound = errors.New("not found")

// Tx is the write surface available while a round is locked.
type Tx interface {
	// EnsureAccount returns the account for address, creating it if absent,
	// and refreshes its last-active time.
	EnsureAccount(ctx context.Context, address string, seenAt time.Time) (model.Account, error)
	// FindBet returns the bet holding role in a round.
	FindBet(ctx context.Context, kind model.GameKind, roundID string, role model.Role) (model.Bet, bool, error)
	// InsertBet stores a new bet. It reports false when the bet's origin log
	// or its duel (round, role) slot is already taken.
	InsertBet(ctx context.Context, bet model.Bet) (bool, error)
	RoundBets(ctx context.Context, kind model.GameKind, roundID string) ([]model.Bet, error)
	// ResolveBet moves a pending bet to its final outcome. Final bets are left unchanged.
	ResolveBet(ctx context.Context, betID string, outcome model.Outcome, payout string) error
	// RoundWin returns the round's history row, if it has been settled.
	RoundWin(ctx context.Context, kind model.GameKind, roundID string) (model.WinHistoryRow, bool, error)
	// AppendWin stores a history row. It reports false when the round already has one.
	AppendWin(ctx context.Context, row model.WinHistoryRow) (bool, error)
	IncrementLeaderboard(ctx context.Context, entry model.LeaderboardEntry) error
}

// Store serializes writes per round.
type Store interface {
	// InRound runs fn with exclusive write access to one round. Changes made
	// through tx are committed only when fn returns nil.
	InRound(ctx context.Context, kind model.GameKind, roundID string, fn func(tx Tx) error) error
}

// Page selects a slice of a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default and maximum page size.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// LeaderboardFilter narrows a leaderboard query. Zero value means all games.
type LeaderboardFilter struct {
	GameKind    model.GameKind
	PoolVariant *bool
}

// Reader is the query surface for external collaborators.
type Reader interface {
	AccountByAddress(ctx context.Context, address string) (model.Account, error)
	BetsByAccount(ctx context.Context, accountID string, page Page) ([]model.Bet, error)
	BetsByRound(ctx context.Context, kind model.GameKind, roundID string) ([]model.Bet, error)
	RecentBets(ctx context.Context, page Page) ([]model.Bet, error)
	// LeaderboardTop sums entries per address, ordered by total XP then wins.
	LeaderboardTop(ctx context.Context, filter LeaderboardFilter, limit int) ([]model.LeaderboardRow, error)
	// LeaderboardRank returns the 1-based position of address in the unfiltered leaderboard.
	LeaderboardRank(ctx context.Context, address string) (int, model.LeaderboardRow, error)
	RecentWins(ctx context.Context, limit int) ([]model.WinHistoryRow, error)
}

// HistorySource feeds analytics.
type HistorySource interface {
	HistorySince(ctx context.Context, sinceMs int64) ([]model.WinHistoryRow, error)
	BetTimesSince(ctx context.Context, since time.Time) ([]time.Time, error)
}

// Admin is the administrative write surface.
type Admin interface {
	UpsertAccount(ctx context.Context, address, username string) (model.Account, error)
	SetBanned(ctx context.Context, accountID string, banned bool) (model.Account, error)
}

// LeaderboardLess orders rows by total XP, then wins, then address.
func LeaderboardLess(a, b model.LeaderboardRow) bool {
	if a.TotalXP != b.TotalXP {
		return a.TotalXP > b.TotalXP
	}
	if a.Wins != b.Wins {
		return a.Wins > b.Wins
	}
	return a.Address < b.Address
}
