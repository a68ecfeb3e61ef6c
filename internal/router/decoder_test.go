package router

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveScope/internal/model"
)

func TestDecodeChallengeEvents(t *testing.T) {
	decoder := newTestDecoder(t)

	created := buildLog(t, challengeAddr, challengeEvent(t, "ChallengeCreated"),
		[]common.Hash{topicFromInt(7), topicFromAddress(alice)}, big.NewInt(100))
	event, err := decoder.Decode(created)
	require.NoError(t, err)
	cc, ok := event.(*model.ChallengeCreated)
	require.True(t, ok, "got %T", event)
	assert.Equal(t, "7", cc.Round.String())
	assert.Equal(t, alice.Hex(), cc.Creator)
	assert.Equal(t, "100", cc.Stake.String())
	assert.Equal(t, uint64(12345), cc.BlockNumber)
	assert.Equal(t, challengeAddr.Hex(), cc.Contract)

	entered := buildLog(t, challengeAddr, challengeEvent(t, "EnteredChallenge"),
		[]common.Hash{topicFromInt(7), topicFromAddress(bob)}, big.NewInt(100))
	event, err = decoder.Decode(entered)
	require.NoError(t, err)
	ec, ok := event.(*model.EnteredChallenge)
	require.True(t, ok)
	assert.Equal(t, bob.Hex(), ec.Account)
}

func TestDecodeDuelWinnerDrawn(t *testing.T) {
	decoder := newTestDecoder(t)
	reward, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	log := buildLog(t, challengeAddr, challengeEvent(t, "WinnerDrawn"),
		[]common.Hash{topicFromInt(7), topicFromAddress(alice)},
		alice, bob, big.NewInt(100), true, big.NewInt(1700000000), reward)

	event, err := decoder.Decode(log)
	require.NoError(t, err)
	won, ok := event.(*model.DuelWinnerDrawn)
	require.True(t, ok)
	assert.Equal(t, alice.Hex(), won.Winner)
	assert.Equal(t, alice.Hex(), won.ParticipantA)
	assert.Equal(t, bob.Hex(), won.ParticipantB)
	assert.True(t, won.Result)
	assert.Equal(t, "1700000000", won.Time.String())
	assert.Equal(t, reward.String(), won.Reward.String())
	assert.Equal(t, model.GameDuel, won.Kind())
}

func TestDecodePoolEvents(t *testing.T) {
	decoder := newTestDecoder(t)

	created := buildLog(t, poolAddr, poolEvent(t, "PoolCreated"),
		[]common.Hash{topicFromInt(3)}, bob, big.NewInt(1000), big.NewInt(10), true)
	event, err := decoder.Decode(created)
	require.NoError(t, err)
	pc := event.(*model.PoolCreated)
	assert.Equal(t, bob.Hex(), pc.BaseToken)
	assert.True(t, pc.PoolVariant)
	assert.Equal(t, "10", pc.TicketPrice.String())

	winner := buildLog(t, poolAddr, poolEvent(t, "WinnerDrawn"),
		[]common.Hash{topicFromInt(3), topicFromAddress(alice)}, big.NewInt(900), false)
	event, err = decoder.Decode(winner)
	require.NoError(t, err)
	pw := event.(*model.PoolWinnerDrawn)
	require.NotNil(t, pw.PoolVariant)
	assert.False(t, *pw.PoolVariant)
	assert.Equal(t, "900", pw.Reward.String())

	legacy := buildLog(t, poolAddr, legacyPoolWinnerEvent(t),
		[]common.Hash{topicFromInt(3), topicFromAddress(alice)}, big.NewInt(900))
	event, err = decoder.Decode(legacy)
	require.NoError(t, err)
	assert.Nil(t, event.(*model.PoolWinnerDrawn).PoolVariant)

	claimed := buildLog(t, poolAddr, poolEvent(t, "PayoutClaimed"),
		[]common.Hash{topicFromInt(3), topicFromAddress(alice)}, big.NewInt(900))
	event, err = decoder.Decode(claimed)
	require.NoError(t, err)
	assert.Equal(t, "900", event.(*model.PayoutClaimed).Amount.String())
}

func TestDecodeUnknownAndMalformed(t *testing.T) {
	decoder := newTestDecoder(t)

	// a pool event emitted by the duel contract is not routed
	wrongContract := buildLog(t, challengeAddr, poolEvent(t, "EnteredPool"),
		[]common.Hash{topicFromInt(3), topicFromAddress(alice)}, big.NewInt(10))
	_, err := decoder.Decode(wrongContract)
	assert.True(t, errors.Is(err, ErrUnknownEvent))
	assert.False(t, decoder.CanDecode(challengeAddr, poolEvent(t, "EnteredPool").ID))
	assert.True(t, decoder.CanDecode(poolAddr, poolEvent(t, "EnteredPool").ID))

	truncated := buildLog(t, poolAddr, poolEvent(t, "EnteredPool"),
		[]common.Hash{topicFromInt(3), topicFromAddress(alice)}, big.NewInt(10))
	truncated.Data = truncated.Data[:8]
	_, err = decoder.Decode(truncated)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownEvent))

	missingTopic := buildLog(t, poolAddr, poolEvent(t, "EnteredPool"),
		[]common.Hash{topicFromInt(3)}, big.NewInt(10))
	_, err = decoder.Decode(missingTopic)
	require.Error(t, err)

	empty := truncated
	empty.Topics = nil
	_, err = decoder.Decode(empty)
	require.Error(t, err)
}

func TestDecodeRecord(t *testing.T) {
	decoder := newTestDecoder(t)
	log := buildLog(t, poolAddr, poolEvent(t, "EnteredPool"),
		[]common.Hash{topicFromInt(4), topicFromAddress(bob)}, big.NewInt(25))

	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}
	record := model.LogRecord{
		BlockNumber: 99,
		TxHash:      "0xabc0000000000000000000000000000000000000000000000000000000000001",
		LogIndex:    5,
		Address:     poolAddr.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Timestamp:   1700000000,
	}

	event, err := decoder.DecodeRecord(record)
	require.NoError(t, err)
	entry := event.(*model.EnteredPool)
	assert.Equal(t, "4", entry.Pool.String())
	assert.Equal(t, "25", entry.Stake.String())
	assert.Equal(t, uint64(1700000000), entry.BlockTime)
	assert.Equal(t, uint64(5), entry.LogIndex)

	record.Address = "not-an-address"
	_, err = decoder.DecodeRecord(record)
	require.Error(t, err)
}
