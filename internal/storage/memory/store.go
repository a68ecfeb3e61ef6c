// Package memory is an in-process Store used by tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"waveScope/internal/model"
	"waveScope/internal/numeric"
	"waveScope/internal/storage"
)

type lbKey struct {
	address string
	kind    model.GameKind
	variant int8
}

type state struct {
	accounts    map[string]model.Account
	bets        []model.Bet
	history     []model.WinHistoryRow
	leaderboard map[lbKey]model.LeaderboardEntry
}

func (s state) clone() state {
	out := state{
		accounts:    make(map[string]model.Account, len(s.accounts)),
		bets:        append([]model.Bet(nil), s.bets...),
		history:     append([]model.WinHistoryRow(nil), s.history...),
		leaderboard: make(map[lbKey]model.LeaderboardEntry, len(s.leaderboard)),
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.leaderboard {
		out.leaderboard[k] = v
	}
	return out
}

// Store keeps all entities in memory. Every InRound call runs under one
// store-wide lock and is rolled back when fn fails.
type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time

	// FailReads makes history reads fail, for exercising error paths.
	FailReads error
}

func New() *Store {
	return &Store{
		st: state{
			accounts:    make(map[string]model.Account),
			leaderboard: make(map[lbKey]model.LeaderboardEntry),
		},
		now: time.Now,
	}
}

func (s *Store) InRound(ctx context.Context, _ model.GameKind, _ string, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.st.clone()
	if err := fn(&tx{st: &s.st, now: s.now}); err != nil {
		s.st = saved
		return err
	}
	return nil
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) EnsureAccount(_ context.Context, address string, seenAt time.Time) (model.Account, error) {
	acct, ok := t.st.accounts[address]
	if !ok {
		acct = model.Account{
			ID:        uuid.NewString(),
			Address:   address,
			Username:  address,
			CreatedAt: t.now().UTC(),
		}
	}
	acct.LastActive = seenAt
	t.st.accounts[address] = acct
	return acct, nil
}

func (t *tx) FindBet(_ context.Context, kind model.GameKind, roundID string, role model.Role) (model.Bet, bool, error) {
	for _, bet := range t.st.bets {
		if bet.GameKind == kind && bet.RoundID == roundID && bet.Role == role {
			return bet, true, nil
		}
	}
	return model.Bet{}, false, nil
}

func (t *tx) InsertBet(_ context.Context, bet model.Bet) (bool, error) {
	for _, existing := range t.st.bets {
		if existing.TxHash == bet.TxHash && existing.LogIndex == bet.LogIndex {
			return false, nil
		}
		if bet.GameKind == model.GameDuel && existing.GameKind == model.GameDuel &&
			existing.RoundID == bet.RoundID && existing.Role == bet.Role {
			return false, nil
		}
	}
	if bet.ID == "" {
		bet.ID = uuid.NewString()
	}
	t.st.bets = append(t.st.bets, bet)
	return true, nil
}

func (t *tx) RoundBets(_ context.Context, kind model.GameKind, roundID string) ([]model.Bet, error) {
	return filterBets(t.st.bets, func(b model.Bet) bool {
		return b.GameKind == kind && b.RoundID == roundID
	}), nil
}

func (t *tx) ResolveBet(_ context.Context, betID string, outcome model.Outcome, payout string) error {
	for i := range t.st.bets {
		if t.st.bets[i].ID != betID {
			continue
		}
		if t.st.bets[i].Outcome != model.OutcomePending {
			return nil
		}
		t.st.bets[i].Outcome = outcome
		t.st.bets[i].Payout = payout
		return nil
	}
	return storage.ErrNotFound
}

func (t *tx) RoundWin(_ context.Context, kind model.GameKind, roundID string) (model.WinHistoryRow, bool, error) {
	for _, row := range t.st.history {
		if row.GameKind == kind && row.RoundID == roundID {
			return row, true, nil
		}
	}
	return model.WinHistoryRow{}, false, nil
}

func (t *tx) AppendWin(_ context.Context, row model.WinHistoryRow) (bool, error) {
	for _, existing := range t.st.history {
		if existing.GameKind == row.GameKind && existing.RoundID == row.RoundID {
			return false, nil
		}
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	t.st.history = append(t.st.history, row)
	return true, nil
}

func (t *tx) IncrementLeaderboard(_ context.Context, entry model.LeaderboardEntry) error {
	key := lbKey{address: entry.Address, kind: entry.GameKind, variant: variantKey(entry.PoolVariant)}
	current, ok := t.st.leaderboard[key]
	if !ok {
		current = model.LeaderboardEntry{Address: entry.Address, GameKind: entry.GameKind, PoolVariant: entry.PoolVariant}
	}
	current.Wins += entry.Wins
	current.TotalXP += entry.TotalXP
	current.TotalReward += entry.TotalReward
	t.st.leaderboard[key] = current
	return nil
}

func (s *Store) AccountByAddress(_ context.Context, address string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.st.accounts[address]
	if !ok {
		return model.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) BetsByAccount(_ context.Context, accountID string, page storage.Page) ([]model.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bets := filterBets(s.st.bets, func(b model.Bet) bool { return b.AccountID == accountID })
	return paginate(newestFirst(bets), page), nil
}

func (s *Store) BetsByRound(_ context.Context, kind model.GameKind, roundID string) ([]model.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterBets(s.st.bets, func(b model.Bet) bool {
		return b.GameKind == kind && b.RoundID == roundID
	}), nil
}

func (s *Store) RecentBets(_ context.Context, page storage.Page) ([]model.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return paginate(newestFirst(append([]model.Bet(nil), s.st.bets...)), page), nil
}

func (s *Store) LeaderboardTop(_ context.Context, filter storage.LeaderboardFilter, limit int) ([]model.LeaderboardRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.leaderboardRows(filter)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Store) LeaderboardRank(_ context.Context, address string) (int, model.LeaderboardRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.leaderboardRows(storage.LeaderboardFilter{}) {
		if row.Address == address {
			return i + 1, row, nil
		}
	}
	return 0, model.LeaderboardRow{}, storage.ErrNotFound
}

func (s *Store) leaderboardRows(filter storage.LeaderboardFilter) []model.LeaderboardRow {
	byAddress := make(map[string]*model.LeaderboardRow)
	for key, entry := range s.st.leaderboard {
		if filter.GameKind != "" && key.kind != filter.GameKind {
			continue
		}
		if filter.PoolVariant != nil && key.variant != variantKey(filter.PoolVariant) {
			continue
		}
		row, ok := byAddress[key.address]
		if !ok {
			row = &model.LeaderboardRow{Address: key.address}
			if acct, found := s.st.accounts[key.address]; found {
				row.Username = acct.Username
			}
			byAddress[key.address] = row
		}
		row.Wins += entry.Wins
		row.TotalXP += entry.TotalXP
		row.TotalReward += entry.TotalReward
	}

	rows := make([]model.LeaderboardRow, 0, len(byAddress))
	for _, row := range byAddress {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return storage.LeaderboardLess(rows[i], rows[j]) })
	return rows
}

// LeaderboardEntry returns the raw entry for one key, for tests.
func (s *Store) LeaderboardEntry(address string, kind model.GameKind, variant *bool) (model.LeaderboardEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.st.leaderboard[lbKey{address: address, kind: kind, variant: variantKey(variant)}]
	return entry, ok
}

func (s *Store) RecentWins(_ context.Context, limit int) ([]model.WinHistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := append([]model.WinHistoryRow(nil), s.st.history...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].EventTimeMs > rows[j].EventTimeMs })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Store) HistorySince(_ context.Context, sinceMs int64) ([]model.WinHistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var rows []model.WinHistoryRow
	for _, row := range s.st.history {
		if row.EventTimeMs >= sinceMs {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *Store) BetTimesSince(_ context.Context, since time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var out []time.Time
	for _, bet := range s.st.bets {
		if !bet.CreatedAt.Before(since) {
			out = append(out, bet.CreatedAt)
		}
	}
	return out, nil
}

// AppendHistory inserts history rows directly, for seeding analytics tests.
func (s *Store) AppendHistory(rows ...model.WinHistoryRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.history = append(s.st.history, rows...)
}

// AppendBets inserts bets directly, for seeding analytics tests.
func (s *Store) AppendBets(bets ...model.Bet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.bets = append(s.st.bets, bets...)
}

func (s *Store) UpsertAccount(_ context.Context, address, username string) (model.Account, error) {
	address = numeric.NormalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.st.accounts[address]
	if !ok {
		acct = model.Account{ID: uuid.NewString(), Address: address, Username: address, CreatedAt: s.now().UTC()}
	}
	if username != "" {
		acct.Username = username
	}
	s.st.accounts[address] = acct
	return acct, nil
}

func (s *Store) SetBanned(_ context.Context, accountID string, banned bool) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for address, acct := range s.st.accounts {
		if acct.ID != accountID {
			continue
		}
		acct.Banned = banned
		acct.BannedAt = nil
		if banned {
			at := s.now().UTC()
			acct.BannedAt = &at
		}
		s.st.accounts[address] = acct
		return acct, nil
	}
	return model.Account{}, storage.ErrNotFound
}

func variantKey(v *bool) int8 {
	switch {
	case v == nil:
		return -1
	case *v:
		return 1
	default:
		return 0
	}
}

func filterBets(bets []model.Bet, keep func(model.Bet) bool) []model.Bet {
	var out []model.Bet
	for _, bet := range bets {
		if keep(bet) {
			out = append(out, bet)
		}
	}
	return out
}

func newestFirst(bets []model.Bet) []model.Bet {
	sort.SliceStable(bets, func(i, j int) bool { return bets[i].CreatedAt.After(bets[j].CreatedAt) })
	return bets
}

func paginate(bets []model.Bet, page storage.Page) []model.Bet {
	page = page.Normalize()
	if page.Offset >= len(bets) {
		return nil
	}
	end := page.Offset + page.Limit
	if end > len(bets) {
		end = len(bets)
	}
	return bets[page.Offset:end]
}
