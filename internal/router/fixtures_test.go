package router

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"waveScope/internal/contracts"
	"waveScope/internal/metrics"
)

var (
	challengeAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	poolAddr      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice         = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob           = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func challengeEvent(t *testing.T, name string) abi.Event {
	t.Helper()
	parsed, err := contracts.ChallengeFlipABI()
	require.NoError(t, err)
	event, ok := parsed.Events[name]
	require.True(t, ok, name)
	return event
}

func poolEvent(t *testing.T, name string) abi.Event {
	t.Helper()
	parsed, err := contracts.PrizePoolABI()
	require.NoError(t, err)
	event, ok := parsed.Events[name]
	require.True(t, ok, name)
	return event
}

func legacyPoolWinnerEvent(t *testing.T) abi.Event {
	t.Helper()
	parsed, err := contracts.PrizePoolLegacyABI()
	require.NoError(t, err)
	return parsed.Events["WinnerDrawn"]
}

func buildLog(t *testing.T, contract common.Address, event abi.Event, indexed []common.Hash, values ...interface{}) types.Log {
	t.Helper()
	data, err := event.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)

	topics := append([]common.Hash{event.ID}, indexed...)
	return types.Log{
		Address:     contract,
		Topics:      topics,
		Data:        data,
		BlockNumber: 12345,
		TxHash:      common.HexToHash("0xdef0"),
		Index:       1,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func topicFromInt(v int64) common.Hash {
	return common.BigToHash(big.NewInt(v))
}

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	decoder, err := NewDecoder(challengeAddr, poolAddr)
	require.NoError(t, err)
	return decoder
}

func testutilValue(m *metrics.Metrics, reason string) float64 {
	return testutil.ToFloat64(m.EventsDropped.WithLabelValues(reason))
}

func promValue(c prometheus.Collector) float64 {
	return testutil.ToFloat64(c)
}
