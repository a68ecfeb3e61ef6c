package model

import (
	"fmt"
	"math/big"
)

// Event names as emitted by the game contracts.
const (
	EventChallengeCreated = "ChallengeCreated"
	EventEnteredChallenge = "EnteredChallenge"
	EventDuelWinnerDrawn  = "DuelWinnerDrawn"
	EventPoolCreated      = "PoolCreated"
	EventEnteredPool      = "EnteredPool"
	EventPoolWinnerDrawn  = "PoolWinnerDrawn"
	EventPayoutClaimed    = "PayoutClaimed"
)

// Event is a decoded contract event. Numeric fields keep their raw on-chain
// values. Events are handled by pointer.
type Event interface {
	Name() string
	Kind() GameKind
	RoundRef() *big.Int
	Origin() EventMeta
	SetBlockTime(ts uint64)
}

// EventMeta locates the log an event was decoded from.
type EventMeta struct {
	Contract    string `json:"contract"`
	BlockNumber uint64 `json:"block_number"`
	BlockTime   uint64 `json:"block_time"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
}

func (m EventMeta) Origin() EventMeta { return m }

// SetBlockTime fills in the block time once it has been resolved.
func (m *EventMeta) SetBlockTime(ts uint64) { m.BlockTime = ts }

// Key identifies the source log across redeliveries.
func (m EventMeta) Key() string {
	return fmt.Sprintf("%d:%s:%d", m.BlockNumber, m.TxHash, m.LogIndex)
}

type ChallengeCreated struct {
	EventMeta
	Round   *big.Int `json:"round"`
	Creator string   `json:"creator"`
	Stake   *big.Int `json:"stake"`
}

func (ChallengeCreated) Name() string         { return EventChallengeCreated }
func (ChallengeCreated) Kind() GameKind       { return GameDuel }
func (e ChallengeCreated) RoundRef() *big.Int { return e.Round }

type EnteredChallenge struct {
	EventMeta
	Round   *big.Int `json:"round"`
	Account string   `json:"account"`
	Stake   *big.Int `json:"stake"`
}

func (EnteredChallenge) Name() string         { return EventEnteredChallenge }
func (EnteredChallenge) Kind() GameKind       { return GameDuel }
func (e EnteredChallenge) RoundRef() *big.Int { return e.Round }

// DuelWinnerDrawn resolves a duel. Result is the raw on-chain flip result.
type DuelWinnerDrawn struct {
	EventMeta
	Round        *big.Int `json:"round"`
	ParticipantA string   `json:"participant_a"`
	ParticipantB string   `json:"participant_b"`
	Stake        *big.Int `json:"stake"`
	Result       bool     `json:"result"`
	Winner       string   `json:"winner"`
	Time         *big.Int `json:"time"`
	Reward       *big.Int `json:"reward"`
}

func (DuelWinnerDrawn) Name() string         { return EventDuelWinnerDrawn }
func (DuelWinnerDrawn) Kind() GameKind       { return GameDuel }
func (e DuelWinnerDrawn) RoundRef() *big.Int { return e.Round }

type PoolCreated struct {
	EventMeta
	Pool        *big.Int `json:"pool"`
	BaseToken   string   `json:"base_token"`
	Limit       *big.Int `json:"limit"`
	TicketPrice *big.Int `json:"ticket_price"`
	PoolVariant bool     `json:"pool_variant"`
}

func (PoolCreated) Name() string         { return EventPoolCreated }
func (PoolCreated) Kind() GameKind       { return GamePool }
func (e PoolCreated) RoundRef() *big.Int { return e.Pool }

type EnteredPool struct {
	EventMeta
	Pool    *big.Int `json:"pool"`
	Account string   `json:"account"`
	Stake   *big.Int `json:"stake"`
}

func (EnteredPool) Name() string         { return EventEnteredPool }
func (EnteredPool) Kind() GameKind       { return GamePool }
func (e EnteredPool) RoundRef() *big.Int { return e.Pool }

// PoolWinnerDrawn resolves a pool round. PoolVariant is nil for the
// three-field form of the event.
type PoolWinnerDrawn struct {
	EventMeta
	Pool        *big.Int `json:"pool"`
	Winner      string   `json:"winner"`
	Reward      *big.Int `json:"reward"`
	PoolVariant *bool    `json:"pool_variant,omitempty"`
}

func (PoolWinnerDrawn) Name() string         { return EventPoolWinnerDrawn }
func (PoolWinnerDrawn) Kind() GameKind       { return GamePool }
func (e PoolWinnerDrawn) RoundRef() *big.Int { return e.Pool }

type PayoutClaimed struct {
	EventMeta
	Pool   *big.Int `json:"pool"`
	Winner string   `json:"winner"`
	Amount *big.Int `json:"amount"`
}

func (PayoutClaimed) Name() string         { return EventPayoutClaimed }
func (PayoutClaimed) Kind() GameKind       { return GamePool }
func (e PayoutClaimed) RoundRef() *big.Int { return e.Pool }
