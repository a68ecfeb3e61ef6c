package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveScope/internal/model"
	"waveScope/internal/storage/memory"
)

type countingSource struct {
	*memory.Store
	calls atomic.Int32
}

func (s *countingSource) HistorySince(ctx context.Context, sinceMs int64) ([]model.WinHistoryRow, error) {
	s.calls.Add(1)
	return s.Store.HistorySince(ctx, sinceMs)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type snapshots struct {
	mu  sync.Mutex
	got []model.AnalyticsSnapshot
}

func (s *snapshots) AnalyticsUpdated(snap model.AnalyticsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, snap)
}

func (s *snapshots) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func newCache(t *testing.T, cfg Config) (*Cache, *countingSource, *clock, *snapshots) {
	t.Helper()
	src := &countingSource{Store: memory.New()}
	clk := &clock{now: fixedNow}
	pub := &snapshots{}
	c := New(src, cfg, WithPublisher(pub))
	c.now = clk.Now
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c, src, clk, pub
}

func TestGetServesCachedSnapshot(t *testing.T) {
	c, src, clk, _ := newCache(t, Config{MaxAge: 10 * time.Second})
	ctx := context.Background()

	first, err := c.Get(ctx, 7)
	require.NoError(t, err)
	clk.Advance(5 * time.Second)
	second, err := c.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())

	// a different window is never served from cache
	other, err := c.Get(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, other.WindowDays)
	assert.Equal(t, int32(2), src.calls.Load())

	clk.Advance(11 * time.Second)
	_, err = c.Get(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestGetClampsWindow(t *testing.T) {
	c, _, _, _ := newCache(t, Config{})
	snap, err := c.Get(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, MaxDays, snap.WindowDays)
	assert.Len(t, snap.DailyStats, MaxDays)
}

func TestDebounceCoalescesBurst(t *testing.T) {
	c, src, _, pub := newCache(t, Config{Debounce: 40 * time.Millisecond})

	for i := 0; i < 5; i++ {
		c.NotifyNewHistoryRow()
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestDebounceSpacedCallsRecomputeTwice(t *testing.T) {
	c, src, _, pub := newCache(t, Config{Debounce: 20 * time.Millisecond})

	c.NotifyNewHistoryRow()
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	c.NotifyNewHistoryRow()
	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestScheduledRecomputeUsesLastRequestedWindow(t *testing.T) {
	c, _, _, pub := newCache(t, Config{Debounce: 10 * time.Millisecond})
	_, err := c.Get(context.Background(), 14)
	require.NoError(t, err)

	c.NotifyNewHistoryRow()
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, 14, pub.got[0].WindowDays)
}

func TestRecomputeFailureKeepsSnapshot(t *testing.T) {
	c, src, clk, pub := newCache(t, Config{Debounce: 10 * time.Millisecond})
	ctx := context.Background()

	src.AppendHistory(win("0xa", model.GameDuel, "5", fixedNow.Add(-time.Hour)))
	good, err := c.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 1, good.Live.WinsToday)

	src.FailReads = errors.New("store unavailable")
	clk.Advance(time.Minute)

	stale, err := c.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, good, stale)

	c.NotifyNewHistoryRow()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, pub.count())

	_, err = c.Get(ctx, 3)
	assert.Error(t, err)
}

func TestStopCancelsPendingRecompute(t *testing.T) {
	src := &countingSource{Store: memory.New()}
	pub := &snapshots{}
	c := New(src, Config{Debounce: 30 * time.Millisecond}, WithPublisher(pub))

	c.NotifyNewHistoryRow()
	c.Stop()
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 0, pub.count())
	assert.Equal(t, int32(0), src.calls.Load())

	// notifications after Stop are ignored
	c.NotifyNewHistoryRow()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, pub.count())
}
