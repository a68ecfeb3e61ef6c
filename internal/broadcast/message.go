package broadcast

import (
	"context"
	"fmt"

	"waveScope/internal/model"
	"waveScope/internal/storage"
)

// MessageType names a real-time notification.
type MessageType string

const (
	TypeLeaderboardUpdated MessageType = "leaderboard_updated"
	TypeHistoryAppended    MessageType = "history_appended"
	TypeBetPlaced          MessageType = "bet_placed"
	TypeUsersUpdated       MessageType = "users_updated"
	TypeAnalyticsUpdated   MessageType = "analytics_updated"
	TypeAccountKicked      MessageType = "account_kicked"
)

// Message is one notification. A non-empty AccountID limits delivery to
// that account's subscribers.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	AccountID string      `json:"-"`
}

// Sink receives published messages. Publish must not block on slow consumers.
type Sink interface {
	Publish(msg Message)
}

// Sinks publishes to every member in order.
type Sinks []Sink

func (s Sinks) Publish(msg Message) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(msg)
		}
	}
}

// BetPlaced is a row for the live bets feed.
type BetPlaced struct {
	Username    string         `json:"username"`
	GameKind    model.GameKind `json:"gameKind"`
	Amount      string         `json:"amount"`
	Outcome     model.Outcome  `json:"outcome"`
	Payout      string         `json:"payout,omitempty"`
	TimestampMs int64          `json:"timestampMs"`
	Multiplier  *float64       `json:"multiplier,omitempty"`
}

// History entry kinds carried on the history_appended channel.
const (
	HistoryWin           = "win"
	HistoryPoolCreated   = "pool_created"
	HistoryPayoutClaimed = "payout_claimed"
)

// HistoryEntry is the payload of history_appended. Exactly one of the
// pointer fields is set, matching Kind.
type HistoryEntry struct {
	Kind          string               `json:"kind"`
	Win           *model.WinHistoryRow `json:"win,omitempty"`
	PoolCreated   *PoolCreatedNotice   `json:"poolCreated,omitempty"`
	PayoutClaimed *PayoutNotice        `json:"payoutClaimed,omitempty"`
}

type PoolCreatedNotice struct {
	PoolID      string `json:"poolId"`
	BaseToken   string `json:"baseToken"`
	Limit       string `json:"limit"`
	TicketPrice string `json:"ticketPrice"`
	PoolVariant bool   `json:"poolVariant"`
}

type PayoutNotice struct {
	PoolID      string `json:"poolId"`
	Winner      string `json:"winner"`
	Amount      string `json:"amount"`
	TimestampMs int64  `json:"timestampMs"`
}

type AccountKicked struct {
	AccountID string `json:"accountId"`
}

// LeaderboardSource is the read side the leaderboard broadcast needs.
type LeaderboardSource interface {
	LeaderboardTop(ctx context.Context, filter storage.LeaderboardFilter, limit int) ([]model.LeaderboardRow, error)
}

// LeaderboardMessage builds a leaderboard_updated message from the current top size rows.
func LeaderboardMessage(ctx context.Context, src LeaderboardSource, size int) (Message, error) {
	rows, err := src.LeaderboardTop(ctx, storage.LeaderboardFilter{}, size)
	if err != nil {
		return Message{}, fmt.Errorf("load leaderboard: %w", err)
	}
	if rows == nil {
		rows = []model.LeaderboardRow{}
	}
	return Message{Type: TypeLeaderboardUpdated, Data: rows}, nil
}
