package model

import "time"

// GameKind distinguishes the two game contracts.
type GameKind string

const (
	GameDuel GameKind = "duel"
	GamePool GameKind = "pool"
)

// Label is the human-facing name used in analytics.
func (k GameKind) Label() string {
	switch k {
	case GameDuel:
		return "Coin Flip"
	case GamePool:
		return "Prize Pool"
	default:
		return string(k)
	}
}

type Role string

const (
	RoleCreator    Role = "creator"
	RoleChallenger Role = "challenger"
	RoleEntrant    Role = "entrant"
)

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
)

// Account is a wallet observed on chain or created by an admin.
type Account struct {
	ID         string     `json:"id"`
	Address    string     `json:"address"`
	Username   string     `json:"username"`
	Banned     bool       `json:"banned"`
	BannedAt   *time.Time `json:"banned_at,omitempty"`
	Avatar     string     `json:"avatar,omitempty"`
	LastActive time.Time  `json:"last_active"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Bet is one participant's stake in one round. Amounts are base-10 integer strings.
type Bet struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Address     string    `json:"address"`
	Username    string    `json:"username"`
	RoundID     string    `json:"round_id"`
	GameKind    GameKind  `json:"game_kind"`
	Role        Role      `json:"role"`
	Stake       string    `json:"stake"`
	Outcome     Outcome   `json:"outcome"`
	Payout      string    `json:"payout"`
	PoolVariant *bool     `json:"pool_variant,omitempty"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint64    `json:"log_index"`
	CreatedAt   time.Time `json:"created_at"`
}

// WinHistoryRow is an immutable record of one resolved win.
type WinHistoryRow struct {
	ID          string   `json:"id"`
	Address     string   `json:"address"`
	GameKind    GameKind `json:"game_kind"`
	RoundID     string   `json:"round_id"`
	Reward      string   `json:"reward"`
	Stake       string   `json:"stake"`
	PoolVariant *bool    `json:"pool_variant,omitempty"`
	EventTimeMs int64    `json:"event_time_ms"`
}

// LeaderboardEntry aggregates wins per (address, game kind, pool variant).
type LeaderboardEntry struct {
	Address     string   `json:"address"`
	GameKind    GameKind `json:"game_kind"`
	PoolVariant *bool    `json:"pool_variant,omitempty"`
	Wins        int64    `json:"wins"`
	TotalXP     float64  `json:"total_xp"`
	TotalReward float64  `json:"total_reward"`
}

// LeaderboardRow is an entry summed across game kinds for one address.
type LeaderboardRow struct {
	Address     string  `json:"address"`
	Username    string  `json:"username,omitempty"`
	Wins        int64   `json:"wins"`
	TotalXP     float64 `json:"total_xp"`
	TotalReward float64 `json:"total_reward"`
}

// Settlement carries everything needed to resolve one round.
type Settlement struct {
	GameKind    GameKind
	RoundID     string
	Winner      string
	Reward      string
	Stake       string
	TimeMs      int64
	PoolVariant *bool
}
