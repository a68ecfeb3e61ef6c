package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"waveScope/internal/broadcast"
	"waveScope/internal/model"
	"waveScope/internal/numeric"
	"waveScope/internal/storage"
)

// Publisher receives notifications after a write commits.
type Publisher interface {
	BetPlaced(row broadcast.BetPlaced)
	HistoryAppended(row model.WinHistoryRow)
	PoolCreated(notice broadcast.PoolCreatedNotice)
	PayoutClaimed(notice broadcast.PayoutNotice)
	LeaderboardChanged()
}

// AnalyticsTrigger is told when data feeding analytics has changed.
type AnalyticsTrigger interface {
	NotifyNewHistoryRow()
}

// Engine turns decoded contract events into bets, win history and
// leaderboard increments. Writes for one round are serialized.
type Engine struct {
	store     storage.Store
	publisher Publisher
	analytics AnalyticsTrigger
	audit     *storage.AuditLog
	logger    *zap.Logger
	locks     *keyedMutex
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for skipped and applied events.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPublisher receives notifications after each committed change.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithAnalytics is notified whenever a round is settled.
func WithAnalytics(a AnalyticsTrigger) Option {
	return func(e *Engine) { e.analytics = a }
}

// WithAuditLog records pool creations and payout claims.
func WithAuditLog(audit *storage.AuditLog) Option {
	return func(e *Engine) { e.audit = audit }
}

// New builds an Engine that applies events to store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: zap.NewNop(),
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle applies one decoded event.
func (e *Engine) Handle(ctx context.Context, event model.Event) error {
	switch ev := event.(type) {
	case *model.ChallengeCreated:
		return e.placeBet(ctx, model.GameDuel, ev.Round, model.RoleCreator, ev.Creator, ev.Stake, ev.EventMeta)
	case *model.EnteredChallenge:
		return e.placeBet(ctx, model.GameDuel, ev.Round, model.RoleChallenger, ev.Account, ev.Stake, ev.EventMeta)
	case *model.EnteredPool:
		return e.placeBet(ctx, model.GamePool, ev.Pool, model.RoleEntrant, ev.Account, ev.Stake, ev.EventMeta)
	case *model.DuelWinnerDrawn:
		timeMs := numeric.TimestampMs(ev.Time)
		if timeMs == 0 {
			timeMs = blockTimeMs(ev.EventMeta)
		}
		return e.Settle(ctx, model.Settlement{
			GameKind: model.GameDuel,
			RoundID:  e.decimal("round", ev.Round),
			Winner:   ev.Winner,
			Reward:   e.decimal("reward", ev.Reward),
			Stake:    e.decimal("stake", ev.Stake),
			TimeMs:   timeMs,
		})
	case *model.PoolWinnerDrawn:
		return e.Settle(ctx, model.Settlement{
			GameKind:    model.GamePool,
			RoundID:     e.decimal("pool", ev.Pool),
			Winner:      ev.Winner,
			Reward:      e.decimal("reward", ev.Reward),
			TimeMs:      blockTimeMs(ev.EventMeta),
			PoolVariant: ev.PoolVariant,
		})
	case *model.PoolCreated:
		return e.poolCreated(ev)
	case *model.PayoutClaimed:
		return e.payoutClaimed(ev)
	default:
		return fmt.Errorf("unsupported event %T", event)
	}
}

func (e *Engine) placeBet(ctx context.Context, kind model.GameKind, round *big.Int, role model.Role, account string, stake *big.Int, meta model.EventMeta) error {
	roundID := e.decimal("round", round)
	address := numeric.NormalizeAddress(account)
	bet := model.Bet{
		Address:   address,
		RoundID:   roundID,
		GameKind:  kind,
		Role:      role,
		Stake:     e.decimal("stake", stake),
		Outcome:   model.OutcomePending,
		Payout:    "0",
		TxHash:    meta.TxHash,
		LogIndex:  meta.LogIndex,
		CreatedAt: time.UnixMilli(blockTimeMs(meta)).UTC(),
	}

	var placed bool
	err := e.inRound(ctx, kind, roundID, func(tx storage.Tx) error {
		placed = false
		acct, err := tx.EnsureAccount(ctx, address, e.now().UTC())
		if err != nil {
			return fmt.Errorf("ensure account: %w", err)
		}
		if kind == model.GameDuel {
			_, found, err := tx.FindBet(ctx, kind, roundID, role)
			if err != nil {
				return fmt.Errorf("find bet: %w", err)
			}
			if found {
				e.logger.Debug("bet already recorded", zap.String("round", roundID), zap.String("role", string(role)))
				return nil
			}
		}

		bet.AccountID = acct.ID
		bet.Username = acct.Username
		if err := e.resolveLate(ctx, tx, &bet); err != nil {
			return err
		}
		inserted, err := tx.InsertBet(ctx, bet)
		if err != nil {
			return fmt.Errorf("insert bet: %w", err)
		}
		if !inserted {
			e.logger.Debug("duplicate bet skipped",
				zap.String("round", roundID),
				zap.String("tx", meta.TxHash),
				zap.Uint64("log_index", meta.LogIndex),
			)
			return nil
		}
		placed = true
		return nil
	})
	if err != nil {
		return err
	}
	if !placed {
		return nil
	}

	e.logger.Info("bet placed",
		zap.String("game", string(kind)),
		zap.String("round", roundID),
		zap.String("role", string(role)),
		zap.String("account", address),
		zap.String("stake", bet.Stake),
	)
	if e.publisher != nil {
		e.publisher.BetPlaced(betRow(bet, bet.CreatedAt.UnixMilli()))
	}
	if e.analytics != nil {
		e.analytics.NotifyNewHistoryRow()
	}
	return nil
}

// resolveLate finalizes a bet whose round was settled before the entry was
// seen. It wins only if it belongs to the winner and the round has no
// winning bet yet.
func (e *Engine) resolveLate(ctx context.Context, tx storage.Tx, bet *model.Bet) error {
	win, settled, err := tx.RoundWin(ctx, bet.GameKind, bet.RoundID)
	if err != nil {
		return fmt.Errorf("load round win: %w", err)
	}
	if !settled {
		return nil
	}

	bet.Outcome, bet.Payout = model.OutcomeLoss, "0"
	if bet.Address == win.Address {
		bets, err := tx.RoundBets(ctx, bet.GameKind, bet.RoundID)
		if err != nil {
			return fmt.Errorf("load round bets: %w", err)
		}
		hasWinner := false
		for _, other := range bets {
			if other.Outcome == model.OutcomeWin {
				hasWinner = true
				break
			}
		}
		if !hasWinner {
			bet.Outcome, bet.Payout = model.OutcomeWin, win.Reward
		}
	}
	e.logger.Info("entry arrived after settlement",
		zap.String("game", string(bet.GameKind)),
		zap.String("round", bet.RoundID),
		zap.String("account", bet.Address),
		zap.String("outcome", string(bet.Outcome)),
	)
	return nil
}

// Settle resolves a round in one transaction: the winner's bet wins, every
// other pending bet loses, a history row is appended and the winner's
// leaderboard entry is incremented. A round that already has a history row
// is left untouched, so replayed winner events are harmless.
func (e *Engine) Settle(ctx context.Context, s model.Settlement) error {
	s.Winner = numeric.NormalizeAddress(s.Winner)
	if s.Reward == "" {
		s.Reward = "0"
	}

	var (
		settled   bool
		row       model.WinHistoryRow
		resolved  []model.Bet
		winner    model.Account
		winningID string
	)
	err := e.inRound(ctx, s.GameKind, s.RoundID, func(tx storage.Tx) error {
		settled, resolved, winningID = false, nil, ""

		acct, err := tx.EnsureAccount(ctx, s.Winner, e.now().UTC())
		if err != nil {
			return fmt.Errorf("ensure account: %w", err)
		}
		winner = acct

		bets, err := tx.RoundBets(ctx, s.GameKind, s.RoundID)
		if err != nil {
			return fmt.Errorf("load round bets: %w", err)
		}

		stake := s.Stake
		switch s.GameKind {
		case model.GameDuel:
			for _, bet := range bets {
				if bet.Address == s.Winner {
					winningID = bet.ID
					break
				}
			}
		case model.GamePool:
			if bet, ok := selectPoolWinner(bets, s); ok {
				winningID = bet.ID
				stake = bet.Stake
			}
		}
		if stake == "" {
			stake = "0"
		}

		row = model.WinHistoryRow{
			Address:     s.Winner,
			GameKind:    s.GameKind,
			RoundID:     s.RoundID,
			Reward:      s.Reward,
			Stake:       stake,
			PoolVariant: s.PoolVariant,
			EventTimeMs: s.TimeMs,
		}
		appended, err := tx.AppendWin(ctx, row)
		if err != nil {
			return fmt.Errorf("append win: %w", err)
		}
		if !appended {
			e.logger.Debug("round already settled", zap.String("game", string(s.GameKind)), zap.String("round", s.RoundID))
			return nil
		}

		for _, bet := range bets {
			if bet.Outcome != model.OutcomePending {
				continue
			}
			outcome, payout := model.OutcomeLoss, "0"
			if bet.ID == winningID {
				outcome, payout = model.OutcomeWin, s.Reward
			}
			if err := tx.ResolveBet(ctx, bet.ID, outcome, payout); err != nil {
				return fmt.Errorf("resolve bet %s: %w", bet.ID, err)
			}
			bet.Outcome, bet.Payout = outcome, payout
			resolved = append(resolved, bet)
		}

		err = tx.IncrementLeaderboard(ctx, model.LeaderboardEntry{
			Address:     s.Winner,
			GameKind:    s.GameKind,
			PoolVariant: s.PoolVariant,
			Wins:        1,
			TotalXP:     e.number("stake", stake),
			TotalReward: e.number("reward", s.Reward),
		})
		if err != nil {
			return fmt.Errorf("increment leaderboard: %w", err)
		}
		settled = true
		return nil
	})
	if err != nil {
		return err
	}
	if !settled {
		return nil
	}

	if winningID == "" {
		e.logger.Warn("winner drawn without a recorded entry",
			zap.String("game", string(s.GameKind)),
			zap.String("round", s.RoundID),
			zap.String("winner", s.Winner),
			zap.Int("bets", len(resolved)),
		)
	}
	e.logger.Info("round settled",
		zap.String("game", string(s.GameKind)),
		zap.String("round", s.RoundID),
		zap.String("winner", s.Winner),
		zap.String("reward", s.Reward),
		zap.Int("bets", len(resolved)),
	)

	if e.publisher != nil {
		e.publisher.LeaderboardChanged()
		e.publisher.HistoryAppended(row)
		// the winner's entry was never seen; announce the win on its own
		if winningID == "" {
			username := winner.Username
			if username == "" {
				username = winner.Address
			}
			e.publisher.BetPlaced(broadcast.BetPlaced{
				Username:    username,
				GameKind:    s.GameKind,
				Amount:      row.Stake,
				Outcome:     model.OutcomeWin,
				Payout:      row.Reward,
				TimestampMs: s.TimeMs,
				Multiplier:  numeric.Multiplier(row.Reward, row.Stake),
			})
		}
		for _, bet := range resolved {
			e.publisher.BetPlaced(betRow(bet, s.TimeMs))
		}
	}
	if e.analytics != nil {
		e.analytics.NotifyNewHistoryRow()
	}
	return nil
}

func (e *Engine) poolCreated(ev *model.PoolCreated) error {
	notice := broadcast.PoolCreatedNotice{
		PoolID:      e.decimal("pool", ev.Pool),
		BaseToken:   numeric.NormalizeAddress(ev.BaseToken),
		Limit:       e.decimal("limit", ev.Limit),
		TicketPrice: e.decimal("ticket_price", ev.TicketPrice),
		PoolVariant: ev.PoolVariant,
	}
	err := e.audit.Append(storage.AuditRecord{
		Event:       ev.Name(),
		RoundID:     notice.PoolID,
		Detail:      notice,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		RecordedAt:  e.now().UTC(),
	})
	if err != nil {
		e.logger.Warn("audit pool created", zap.String("pool", notice.PoolID), zap.Error(err))
	}
	if e.publisher != nil {
		e.publisher.PoolCreated(notice)
	}
	return nil
}

func (e *Engine) payoutClaimed(ev *model.PayoutClaimed) error {
	notice := broadcast.PayoutNotice{
		PoolID:      e.decimal("pool", ev.Pool),
		Winner:      numeric.NormalizeAddress(ev.Winner),
		Amount:      e.decimal("amount", ev.Amount),
		TimestampMs: blockTimeMs(ev.EventMeta),
	}
	err := e.audit.Append(storage.AuditRecord{
		Event:       ev.Name(),
		RoundID:     notice.PoolID,
		Account:     notice.Winner,
		Amount:      notice.Amount,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		RecordedAt:  e.now().UTC(),
	})
	if err != nil {
		e.logger.Warn("audit payout claimed", zap.String("pool", notice.PoolID), zap.Error(err))
	}
	if e.publisher != nil {
		e.publisher.PayoutClaimed(notice)
	}
	return nil
}

func (e *Engine) inRound(ctx context.Context, kind model.GameKind, roundID string, fn func(tx storage.Tx) error) error {
	unlock := e.locks.Lock(string(kind) + ":" + roundID)
	defer unlock()
	return e.store.InRound(ctx, kind, roundID, fn)
}

func (e *Engine) decimal(field string, v any) string {
	s, ok := numeric.DecimalString(v)
	if !ok {
		e.logger.Debug("numeric fallback", zap.String("field", field), zap.Any("value", v))
	}
	return s
}

func (e *Engine) number(field string, v any) float64 {
	f, ok := numeric.SafeNumber(v)
	if !ok {
		e.logger.Debug("numeric fallback", zap.String("field", field), zap.Any("value", v))
	}
	return f
}

func blockTimeMs(meta model.EventMeta) int64 {
	return numeric.TimestampMs(meta.BlockTime)
}

func betRow(bet model.Bet, timestampMs int64) broadcast.BetPlaced {
	row := broadcast.BetPlaced{
		Username:    bet.Username,
		GameKind:    bet.GameKind,
		Amount:      bet.Stake,
		Outcome:     bet.Outcome,
		TimestampMs: timestampMs,
	}
	if row.Username == "" {
		row.Username = bet.Address
	}
	if bet.Outcome == model.OutcomeWin {
		row.Payout = bet.Payout
		row.Multiplier = numeric.Multiplier(bet.Payout, bet.Stake)
	}
	return row
}
