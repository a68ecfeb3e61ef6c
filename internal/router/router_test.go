package router

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveScope/internal/metrics"
	"waveScope/internal/model"
)

type recordingHandler struct {
	mu      sync.Mutex
	events  []model.Event
	panicOn string
}

func (h *recordingHandler) Handle(_ context.Context, event model.Event) error {
	if event.Origin().TxHash == h.panicOn {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandler) snapshot() []model.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Event(nil), h.events...)
}

func entryLog(t *testing.T, round int64, index uint, account common.Address) types.Log {
	log := buildLog(t, poolAddr, poolEvent(t, "EnteredPool"),
		[]common.Hash{topicFromInt(round), topicFromAddress(account)}, big.NewInt(int64(index)))
	log.Index = index
	return log
}

func TestRouterDropsDuplicatesRemovedAndUnknown(t *testing.T) {
	handler := &recordingHandler{}
	m := metrics.New()
	r := New(newTestDecoder(t), handler, Config{Workers: 2}, WithMetrics(m),
		WithBlockTime(func(context.Context, uint64) (uint64, error) { return 1700000000, nil }))
	ctx := context.Background()
	r.Start(ctx)

	log := entryLog(t, 1, 1, alice)
	r.HandleLog(ctx, log)
	r.HandleLog(ctx, log)

	removed := entryLog(t, 1, 2, alice)
	removed.Removed = true
	r.HandleLog(ctx, removed)

	unknown := entryLog(t, 1, 3, alice)
	unknown.Topics[0] = common.HexToHash("0x01")
	r.HandleLog(ctx, unknown)

	r.Stop()

	events := handler.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1700000000), events[0].Origin().BlockTime)
	assert.Equal(t, 1.0, testutilValue(m, "duplicate"))
	assert.Equal(t, 1.0, testutilValue(m, "removed"))
	assert.Equal(t, 1.0, testutilValue(m, "unknown"))
}

func TestRouterKeepsRoundOrder(t *testing.T) {
	handler := &recordingHandler{}
	r := New(newTestDecoder(t), handler, Config{Workers: 4, QueueSize: 1})
	ctx := context.Background()
	r.Start(ctx)

	for i := uint(1); i <= 50; i++ {
		r.HandleLog(ctx, entryLog(t, 9, i, bob))
	}
	r.Stop()

	events := handler.snapshot()
	require.Len(t, events, 50)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Origin().LogIndex)
	}
}

func TestRouterRecoversHandlerPanic(t *testing.T) {
	first := entryLog(t, 1, 1, alice)
	first.TxHash = common.HexToHash("0xbad")
	handler := &recordingHandler{panicOn: first.TxHash.Hex()}

	m := metrics.New()
	r := New(newTestDecoder(t), handler, Config{Workers: 1}, WithMetrics(m))
	ctx := context.Background()
	r.Start(ctx)

	r.HandleLog(ctx, first)
	r.HandleLog(ctx, entryLog(t, 1, 2, alice))
	r.Stop()

	require.Len(t, handler.snapshot(), 1)
	assert.Equal(t, 1.0, promValue(m.HandlerPanics))
}

func TestRouterFallsBackToWallClock(t *testing.T) {
	handler := &recordingHandler{}
	r := New(newTestDecoder(t), handler, Config{Workers: 1},
		WithBlockTime(func(context.Context, uint64) (uint64, error) { return 0, errors.New("node down") }))
	ctx := context.Background()
	r.Start(ctx)
	r.HandleLog(ctx, entryLog(t, 1, 1, alice))
	r.Stop()

	events := handler.snapshot()
	require.Len(t, events, 1)
	assert.NotZero(t, events[0].Origin().BlockTime)
}

func TestRouterStopIsIdempotent(t *testing.T) {
	r := New(newTestDecoder(t), &recordingHandler{}, Config{})
	r.Start(context.Background())
	r.Stop()
	r.Stop()
	r.HandleLog(context.Background(), entryLog(t, 1, 1, alice))
}
