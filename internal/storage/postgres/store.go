package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"waveScope/internal/model"
	"waveScope/internal/numeric"
	"waveScope/internal/storage"
)

// Store persists game state in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InRound runs fn in a transaction holding an advisory lock on the round, so
// writers in other processes are serialized too.
func (s *Store) InRound(ctx context.Context, kind model.GameKind, roundID string, fn func(tx storage.Tx) error) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(kind)+":"+roundID); err != nil {
			return fmt.Errorf("lock round: %w", err)
		}
		return fn(&roundTx{tx: tx})
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type roundTx struct {
	tx pgx.Tx
}

const accountColumns = `id::text, address, username, banned, banned_at, avatar, last_active, created_at`

func (t *roundTx) EnsureAccount(ctx context.Context, address string, seenAt time.Time) (model.Account, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO accounts (id, address, username, last_active, created_at)
		VALUES ($1, $2, $2, $3, now())
		ON CONFLICT (address) DO UPDATE
		SET last_active = GREATEST(accounts.last_active, EXCLUDED.last_active)
		RETURNING `+accountColumns,
		uuid.NewString(), address, seenAt,
	)
	acct, err := scanAccount(row)
	if err != nil {
		return model.Account{}, fmt.Errorf("ensure account: %w", err)
	}
	return acct, nil
}

const betColumns = `
	b.id::text, b.account_id::text, b.address, a.username, b.round_id, b.game_kind, b.role,
	b.stake::text, b.outcome, b.payout::text, b.pool_variant, b.tx_hash, b.log_index, b.created_at`

const betFrom = ` FROM bets b JOIN accounts a ON a.id = b.account_id `

func (t *roundTx) FindBet(ctx context.Context, kind model.GameKind, roundID string, role model.Role) (model.Bet, bool, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+betColumns+betFrom+`
		WHERE b.game_kind = $1 AND b.round_id = $2 AND b.role = $3
		ORDER BY b.created_at
		LIMIT 1`,
		string(kind), roundID, string(role),
	)
	bet, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Bet{}, false, nil
		}
		return model.Bet{}, false, fmt.Errorf("find bet: %w", err)
	}
	return bet, true, nil
}

func (t *roundTx) InsertBet(ctx context.Context, bet model.Bet) (bool, error) {
	if bet.ID == "" {
		bet.ID = uuid.NewString()
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO bets (
			id, account_id, address, round_id, game_kind, role, stake, outcome, payout,
			pool_variant, tx_hash, log_index, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9::text::numeric, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`,
		bet.ID,
		bet.AccountID,
		bet.Address,
		bet.RoundID,
		string(bet.GameKind),
		string(bet.Role),
		bet.Stake,
		string(bet.Outcome),
		bet.Payout,
		bet.PoolVariant,
		bet.TxHash,
		int64(bet.LogIndex),
		bet.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert bet: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *roundTx) RoundBets(ctx context.Context, kind model.GameKind, roundID string) ([]model.Bet, error) {
	return queryBets(ctx, t.tx, `SELECT `+betColumns+betFrom+`
		WHERE b.game_kind = $1 AND b.round_id = $2
		ORDER BY b.created_at, b.log_index`,
		string(kind), roundID,
	)
}

func (t *roundTx) ResolveBet(ctx context.Context, betID string, outcome model.Outcome, payout string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bets SET outcome = $2, payout = $3::text::numeric
		WHERE id = $1 AND outcome = 'pending'`,
		betID, string(outcome), payout,
	)
	if err != nil {
		return fmt.Errorf("resolve bet: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bets WHERE id = $1)`, betID).Scan(&exists); err != nil {
		return fmt.Errorf("resolve bet: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}

func (t *roundTx) RoundWin(ctx context.Context, kind model.GameKind, roundID string) (model.WinHistoryRow, bool, error) {
	var (
		row  model.WinHistoryRow
		kstr string
	)
	err := t.tx.QueryRow(ctx, `SELECT `+historyColumns+` FROM win_history
		WHERE game_kind = $1 AND round_id = $2`,
		string(kind), roundID,
	).Scan(&row.ID, &row.Address, &kstr, &row.RoundID, &row.Reward, &row.Stake, &row.PoolVariant, &row.EventTimeMs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WinHistoryRow{}, false, nil
		}
		return model.WinHistoryRow{}, false, fmt.Errorf("round win: %w", err)
	}
	row.GameKind = model.GameKind(kstr)
	return row, true, nil
}

func (t *roundTx) AppendWin(ctx context.Context, row model.WinHistoryRow) (bool, error) {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO win_history (id, address, game_kind, round_id, reward, stake, pool_variant, event_time_ms)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8)
		ON CONFLICT (game_kind, round_id) DO NOTHING`,
		row.ID,
		row.Address,
		string(row.GameKind),
		row.RoundID,
		row.Reward,
		row.Stake,
		row.PoolVariant,
		row.EventTimeMs,
	)
	if err != nil {
		return false, fmt.Errorf("append win: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *roundTx) IncrementLeaderboard(ctx context.Context, entry model.LeaderboardEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO leaderboard (address, game_kind, pool_variant, wins, total_xp, total_reward, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (address, game_kind, pool_variant) DO UPDATE SET
			wins = leaderboard.wins + EXCLUDED.wins,
			total_xp = leaderboard.total_xp + EXCLUDED.total_xp,
			total_reward = leaderboard.total_reward + EXCLUDED.total_reward,
			updated_at = now()`,
		entry.Address,
		string(entry.GameKind),
		variantKey(entry.PoolVariant),
		entry.Wins,
		entry.TotalXP,
		entry.TotalReward,
	)
	if err != nil {
		return fmt.Errorf("increment leaderboard: %w", err)
	}
	return nil
}

func (s *Store) AccountByAddress(ctx context.Context, address string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE address = $1`, address)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, storage.ErrNotFound
		}
		return model.Account{}, err
	}
	return acct, nil
}

func (s *Store) BetsByAccount(ctx context.Context, accountID string, page storage.Page) ([]model.Bet, error) {
	page = page.Normalize()
	return queryBets(ctx, s.pool, `SELECT `+betColumns+betFrom+`
		WHERE b.account_id = $1
		ORDER BY b.created_at DESC, b.log_index DESC
		LIMIT $2 OFFSET $3`,
		accountID, page.Limit, page.Offset,
	)
}

func (s *Store) BetsByRound(ctx context.Context, kind model.GameKind, roundID string) ([]model.Bet, error) {
	return queryBets(ctx, s.pool, `SELECT `+betColumns+betFrom+`
		WHERE b.game_kind = $1 AND b.round_id = $2
		ORDER BY b.created_at, b.log_index`,
		string(kind), roundID,
	)
}

func (s *Store) RecentBets(ctx context.Context, page storage.Page) ([]model.Bet, error) {
	page = page.Normalize()
	return queryBets(ctx, s.pool, `SELECT `+betColumns+betFrom+`
		ORDER BY b.created_at DESC, b.log_index DESC
		LIMIT $1 OFFSET $2`,
		page.Limit, page.Offset,
	)
}

func (s *Store) LeaderboardTop(ctx context.Context, filter storage.LeaderboardFilter, limit int) ([]model.LeaderboardRow, error) {
	var variant *int16
	if filter.PoolVariant != nil {
		v := variantKey(filter.PoolVariant)
		variant = &v
	}
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT l.address, COALESCE(a.username, l.address),
			SUM(l.wins)::bigint, SUM(l.total_xp), SUM(l.total_reward)
		FROM leaderboard l
		LEFT JOIN accounts a ON a.address = l.address
		WHERE ($1::text = '' OR l.game_kind = $1::text)
			AND ($2::smallint IS NULL OR l.pool_variant = $2::smallint)
		GROUP BY l.address, a.username
		ORDER BY SUM(l.total_xp) DESC, SUM(l.wins) DESC, l.address ASC
		LIMIT $3`,
		string(filter.GameKind), variant, limitArg,
	)
	if err != nil {
		return nil, fmt.Errorf("leaderboard top: %w", err)
	}
	defer rows.Close()

	var out []model.LeaderboardRow
	for rows.Next() {
		var row model.LeaderboardRow
		if err := rows.Scan(&row.Address, &row.Username, &row.Wins, &row.TotalXP, &row.TotalReward); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) LeaderboardRank(ctx context.Context, address string) (int, model.LeaderboardRow, error) {
	var (
		row  model.LeaderboardRow
		rank int64
	)
	err := s.pool.QueryRow(ctx, `
		WITH totals AS (
			SELECT address, SUM(wins)::bigint AS wins, SUM(total_xp) AS xp, SUM(total_reward) AS reward
			FROM leaderboard
			GROUP BY address
		)
		SELECT t.address, COALESCE(a.username, t.address), t.wins, t.xp, t.reward,
			(SELECT COUNT(*) FROM totals o
				WHERE o.xp > t.xp
					OR (o.xp = t.xp AND o.wins > t.wins)
					OR (o.xp = t.xp AND o.wins = t.wins AND o.address < t.address)) + 1
		FROM totals t
		LEFT JOIN accounts a ON a.address = t.address
		WHERE t.address = $1`,
		address,
	).Scan(&row.Address, &row.Username, &row.Wins, &row.TotalXP, &row.TotalReward, &rank)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, model.LeaderboardRow{}, storage.ErrNotFound
		}
		return 0, model.LeaderboardRow{}, fmt.Errorf("leaderboard rank: %w", err)
	}
	return int(rank), row, nil
}

const historyColumns = `id::text, address, game_kind, round_id, reward::text, stake::text, pool_variant, event_time_ms`

func (s *Store) RecentWins(ctx context.Context, limit int) ([]model.WinHistoryRow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryHistory(ctx, `SELECT `+historyColumns+` FROM win_history
		ORDER BY event_time_ms DESC LIMIT $1`, limit)
}

func (s *Store) HistorySince(ctx context.Context, sinceMs int64) ([]model.WinHistoryRow, error) {
	return s.queryHistory(ctx, `SELECT `+historyColumns+` FROM win_history
		WHERE event_time_ms >= $1 ORDER BY event_time_ms`, sinceMs)
}

func (s *Store) queryHistory(ctx context.Context, sql string, args ...any) ([]model.WinHistoryRow, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []model.WinHistoryRow
	for rows.Next() {
		var (
			row  model.WinHistoryRow
			kind string
		)
		if err := rows.Scan(&row.ID, &row.Address, &kind, &row.RoundID, &row.Reward, &row.Stake, &row.PoolVariant, &row.EventTimeMs); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		row.GameKind = model.GameKind(kind)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) BetTimesSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT created_at FROM bets WHERE created_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("query bet times: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan bet time: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAccount(ctx context.Context, address, username string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, address, username, created_at)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), $2), now())
		ON CONFLICT (address) DO UPDATE
		SET username = COALESCE(NULLIF($3, ''), accounts.username)
		RETURNING `+accountColumns,
		uuid.NewString(), numeric.NormalizeAddress(address), username,
	)
	acct, err := scanAccount(row)
	if err != nil {
		return model.Account{}, fmt.Errorf("upsert account: %w", err)
	}
	return acct, nil
}

func (s *Store) SetBanned(ctx context.Context, accountID string, banned bool) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET banned = $2, banned_at = CASE WHEN $2 THEN now() ELSE NULL END
		WHERE id = $1
		RETURNING `+accountColumns,
		accountID, banned,
	)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, storage.ErrNotFound
		}
		return model.Account{}, fmt.Errorf("set banned: %w", err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var acct model.Account
	err := row.Scan(&acct.ID, &acct.Address, &acct.Username, &acct.Banned, &acct.BannedAt, &acct.Avatar, &acct.LastActive, &acct.CreatedAt)
	return acct, err
}

func scanBet(row pgx.Row) (model.Bet, error) {
	var (
		bet                 model.Bet
		kind, role, outcome string
		logIndex            int64
	)
	err := row.Scan(
		&bet.ID, &bet.AccountID, &bet.Address, &bet.Username, &bet.RoundID, &kind, &role,
		&bet.Stake, &outcome, &bet.Payout, &bet.PoolVariant, &bet.TxHash, &logIndex, &bet.CreatedAt,
	)
	if err != nil {
		return model.Bet{}, err
	}
	bet.GameKind = model.GameKind(kind)
	bet.Role = model.Role(role)
	bet.Outcome = model.Outcome(outcome)
	bet.LogIndex = uint64(logIndex)
	return bet, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryBets(ctx context.Context, q querier, sql string, args ...any) ([]model.Bet, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query bets: %w", err)
	}
	defer rows.Close()

	var out []model.Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		out = append(out, bet)
	}
	return out, rows.Err()
}

func variantKey(v *bool) int16 {
	switch {
	case v == nil:
		return -1
	case *v:
		return 1
	default:
		return 0
	}
}
