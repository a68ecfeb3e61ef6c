package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	challenge = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	pool      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// fakeSource streams queued logs per contract and fails its subscriptions
// when kill is called.
type fakeSource struct {
	logs   map[common.Address][]types.Log
	dead   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

func newFakeSource(logs map[common.Address][]types.Log) *fakeSource {
	return &fakeSource{logs: logs, dead: make(chan struct{})}
}

func (f *fakeSource) kill() { f.once.Do(func() { close(f.dead) }) }

func (f *fakeSource) SubscribeLogs(_ context.Context, address common.Address, ch chan<- types.Log) (ethereum.Subscription, error) {
	pending := f.logs[address]
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, l := range pending {
			select {
			case ch <- l:
			case <-quit:
				return nil
			}
		}
		select {
		case <-f.dead:
			return errors.New("websocket: close 1006")
		case <-quit:
			return nil
		}
	}), nil
}

func (f *fakeSource) BlockTimestamp(context.Context, uint64) (uint64, error) { return 1234, nil }

func (f *fakeSource) Close() { f.closed.Store(true) }

type collector struct {
	mu   sync.Mutex
	logs []types.Log
}

func (c *collector) handle(_ context.Context, l types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, l)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	h := func(context.Context, types.Log) {}
	for _, endpoint := range []string{"", "http://node:8545", "ws://", "::bad"} {
		_, err := New(Config{Endpoint: endpoint, Contracts: []common.Address{challenge}}, h)
		assert.Error(t, err, endpoint)
	}
	_, err := New(Config{Endpoint: "wss://node.example/ws"}, h)
	assert.Error(t, err)

	s, err := New(Config{Endpoint: "wss://node.example/ws", Contracts: []common.Address{challenge}}, h)
	require.NoError(t, err)
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, defaultReconnectDelay, s.cfg.ReconnectDelay)
}

func TestSubscribesEveryContract(t *testing.T) {
	src := newFakeSource(map[common.Address][]types.Log{
		challenge: {{Address: challenge, Index: 1}},
		pool:      {{Address: pool, Index: 2}, {Address: pool, Index: 3}},
	})
	c := &collector{}
	s, err := New(Config{Endpoint: "ws://node", Contracts: []common.Address{challenge, pool}}, c.handle,
		WithDialer(func(context.Context) (LogSource, error) { return src, nil }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return c.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Subscribed, s.State())

	ts, err := s.BlockTime(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), ts)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Disconnected, s.State())
	assert.True(t, src.closed.Load())

	_, err = s.BlockTime(context.Background(), 7)
	assert.Error(t, err)
}

func TestReconnectsAfterTransportError(t *testing.T) {
	first := newFakeSource(map[common.Address][]types.Log{challenge: {{Address: challenge, Index: 1}}})
	second := newFakeSource(map[common.Address][]types.Log{challenge: {{Address: challenge, Index: 2}}})

	var dials atomic.Int32
	dialer := func(context.Context) (LogSource, error) {
		switch dials.Add(1) {
		case 1:
			return first, nil
		case 2:
			return nil, errors.New("connection refused")
		default:
			return second, nil
		}
	}

	var (
		mu     sync.Mutex
		states []State
	)
	c := &collector{}
	s, err := New(Config{Endpoint: "ws://node", Contracts: []common.Address{challenge}, ReconnectDelay: 20 * time.Millisecond},
		c.handle,
		WithDialer(dialer),
		WithStateHook(func(st State) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, st)
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	started := time.Now()
	first.kill()

	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Subscribed, s.State())
	// one failed dial in between: two delays
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
	assert.Equal(t, int32(3), dials.Load())
	assert.True(t, first.closed.Load())

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		Connecting, Subscribed, Disconnected,
		Connecting, Disconnected,
		Connecting, Subscribed, Disconnected,
	}, states)
}

func TestCancelInterruptsReconnectDelay(t *testing.T) {
	s, err := New(Config{Endpoint: "ws://node", Contracts: []common.Address{challenge}, ReconnectDelay: time.Hour},
		func(context.Context, types.Log) {},
		WithDialer(func(context.Context) (LogSource, error) { return nil, errors.New("down") }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == Disconnected }, time.Second, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "subscribed", Subscribed.String())
}
