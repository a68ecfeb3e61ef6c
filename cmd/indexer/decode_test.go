package main

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveScope/internal/contracts"
	"waveScope/internal/model"
	"waveScope/internal/router"
)

type collectWriter struct {
	values []interface{}
}

func (w *collectWriter) Write(value interface{}) error {
	w.values = append(w.values, value)
	return nil
}

func recordLine(t *testing.T, record model.LogRecord) string {
	t.Helper()
	line, err := json.Marshal(record)
	require.NoError(t, err)
	return string(line)
}

func TestDecodeStream(t *testing.T) {
	challenge := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	pool := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	creator := common.HexToAddress("0x1111111111111111111111111111111111111111")

	decoder, err := router.NewDecoder(challenge, pool)
	require.NoError(t, err)

	parsed, err := contracts.ChallengeFlipABI()
	require.NoError(t, err)
	created := parsed.Events["ChallengeCreated"]
	data, err := created.Inputs.NonIndexed().Pack(big.NewInt(100))
	require.NoError(t, err)

	good := model.LogRecord{
		BlockNumber: 10,
		TxHash:      "0xabc",
		LogIndex:    2,
		Address:     challenge.Hex(),
		Topics: []string{
			created.ID.Hex(),
			common.BigToHash(big.NewInt(7)).Hex(),
			common.BytesToHash(creator.Bytes()).Hex(),
		},
		Data:      hexutil.Encode(data),
		Timestamp: 1700000000,
	}
	unknown := good
	unknown.Topics = []string{common.HexToHash("0xfeed").Hex()}
	malformed := good
	malformed.Data = "0x01"
	noTopics := good
	noTopics.Topics = nil

	input := strings.Join([]string{
		recordLine(t, good),
		"",
		recordLine(t, unknown),
		recordLine(t, malformed),
		recordLine(t, noTopics),
		"{not json",
	}, "\n")

	out := &collectWriter{}
	errOut := &collectWriter{}
	stats, err := decodeStream(strings.NewReader(input), decoder, out, errOut)
	require.NoError(t, err)

	assert.Equal(t, decodeStats{total: 5, decoded: 1, skipped: 1, failed: 3}, stats)
	require.Len(t, out.values, 1)
	typed := out.values[0].(model.TypedEvent)
	assert.Equal(t, model.EventChallengeCreated, typed.EventName)
	assert.Equal(t, uint64(1700000000), typed.Timestamp)
	assert.Equal(t, created.ID.Hex(), typed.Raw.Topic0)

	ev, ok := typed.Decoded.(*model.ChallengeCreated)
	require.True(t, ok)
	assert.Equal(t, int64(7), ev.Round.Int64())
	assert.Equal(t, int64(100), ev.Stake.Int64())

	require.Len(t, errOut.values, 3)
	first := errOut.values[0].(model.DecodeError)
	assert.Equal(t, uint64(10), first.BlockNumber)
	assert.Equal(t, created.ID.Hex(), first.Topic0)
	assert.Equal(t, "missing topic0", errOut.values[1].(model.DecodeError).Error)
}
