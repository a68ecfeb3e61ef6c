package model

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestEventAmountsStayLossless(t *testing.T) {
	reward, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	event := DuelWinnerDrawn{
		EventMeta: EventMeta{TxHash: "0x01", BlockNumber: 1, LogIndex: 2},
		Round:     big.NewInt(9),
		Winner:    "0x1111111111111111111111111111111111111111",
		Reward:    reward,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if string(decoded["reward"]) != "123456789012345678901234567890" {
		t.Fatalf("reward lost precision: %s", decoded["reward"])
	}
	if string(decoded["tx_hash"]) != `"0x01"` {
		t.Fatalf("meta not flattened: %s", data)
	}
}

func TestEventRoundRefAndKind(t *testing.T) {
	var events = []Event{
		&ChallengeCreated{Round: big.NewInt(1)},
		&EnteredPool{Pool: big.NewInt(2)},
		&PayoutClaimed{Pool: big.NewInt(3)},
	}
	kinds := []GameKind{GameDuel, GamePool, GamePool}
	for i, event := range events {
		event.SetBlockTime(uint64(i))
		if event.Origin().BlockTime != uint64(i) {
			t.Fatalf("%s: block time not set", event.Name())
		}
		if event.Kind() != kinds[i] {
			t.Fatalf("%s: kind %s", event.Name(), event.Kind())
		}
		if event.RoundRef().Int64() != int64(i+1) {
			t.Fatalf("%s: round %s", event.Name(), event.RoundRef())
		}
	}
}

func TestGameKindLabel(t *testing.T) {
	if GameDuel.Label() != "Coin Flip" || GamePool.Label() != "Prize Pool" {
		t.Fatalf("unexpected labels")
	}
	if GameKind("other").Label() != "other" {
		t.Fatalf("unknown kinds keep their name")
	}
}

func TestEventMetaKey(t *testing.T) {
	meta := EventMeta{BlockNumber: 36000000, TxHash: "0xdef456", LogIndex: 12, BlockTime: 1700000000}
	if meta.Key() != "36000000:0xdef456:12" {
		t.Fatalf("unexpected key: %s", meta.Key())
	}
	// block time is resolved later and is not part of the identity
	meta.SetBlockTime(0)
	if meta.Key() != "36000000:0xdef456:12" {
		t.Fatalf("key changed with block time: %s", meta.Key())
	}
}
