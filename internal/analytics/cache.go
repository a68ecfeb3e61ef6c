package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"waveScope/internal/metrics"
	"waveScope/internal/model"
	"waveScope/internal/storage"
)

// Publisher receives every snapshot produced by a debounced recompute.
type Publisher interface {
	AnalyticsUpdated(snapshot model.AnalyticsSnapshot)
}

// Config bounds the snapshot window and how often it is recomputed.
type Config struct {
	Days     int
	MaxAge   time.Duration
	Debounce time.Duration
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.Days == 0 {
		c.Days = DefaultDays
	}
	c.Days = ClampDays(c.Days)
	if c.MaxAge <= 0 {
		c.MaxAge = 10 * time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = 1500 * time.Millisecond
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Cache serves analytics snapshots and recomputes them after history
// changes, coalescing bursts of changes into one recompute.
type Cache struct {
	source    storage.HistorySource
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time

	computeMu sync.Mutex

	mu       sync.Mutex
	snapshot *model.AnalyticsSnapshot
	at       time.Time
	days     int
	timer    *time.Timer
	gen      uint64
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for recompute failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics counts recomputes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithPublisher receives every snapshot from a scheduled recompute.
func WithPublisher(p Publisher) Option {
	return func(c *Cache) { c.publisher = p }
}

// New builds a Cache over source. Nothing is computed until the first Get
// or NotifyNewHistoryRow.
func New(source storage.HistorySource, cfg Config, opts ...Option) *Cache {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		source: source,
		logger: zap.NewNop(),
		cfg:    cfg,
		now:    time.Now,
		days:   cfg.Days,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start binds scheduled recomputes to ctx.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
}

// Stop cancels any pending recompute and waits for a running one.
func (c *Cache) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancel()
	c.mu.Unlock()

	c.inflight.Wait()
}

// Get returns the snapshot for a days-long window, recomputing it when the
// cached one is older than MaxAge or covers a different window. When a
// recompute fails, a cached snapshot for the same window is served instead.
func (c *Cache) Get(ctx context.Context, days int) (model.AnalyticsSnapshot, error) {
	days = ClampDays(days)

	c.mu.Lock()
	c.days = days
	if snap, ok := c.freshLocked(days); ok {
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	snap, err := c.recompute(ctx, days)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.snapshot != nil && c.snapshot.WindowDays == days {
			c.logger.Error("analytics recompute failed, serving previous snapshot", zap.Int("days", days), zap.Error(err))
			return *c.snapshot, nil
		}
		return model.AnalyticsSnapshot{}, err
	}
	return snap, nil
}

func (c *Cache) freshLocked(days int) (model.AnalyticsSnapshot, bool) {
	if c.snapshot == nil || c.snapshot.WindowDays != days {
		return model.AnalyticsSnapshot{}, false
	}
	if c.now().Sub(c.at) >= c.cfg.MaxAge {
		return model.AnalyticsSnapshot{}, false
	}
	return *c.snapshot, true
}

// NotifyNewHistoryRow schedules a recompute and broadcast for the most
// recently requested window after the debounce delay. A call made while a
// recompute is pending replaces it.
func (c *Cache) NotifyNewHistoryRow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.cfg.Debounce, func() { c.fire(gen) })
}

func (c *Cache) fire(gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	days, ctx := c.days, c.ctx
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	defer func() {
		if rec := recover(); rec != nil {
			c.metrics.Recomputed(false)
			c.logger.Error("analytics recompute panic", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	snap, err := c.recompute(ctx, days)
	if err != nil {
		c.logger.Error("scheduled analytics recompute failed", zap.Int("days", days), zap.Error(err))
		return
	}
	if c.publisher != nil {
		c.publisher.AnalyticsUpdated(snap)
	}
}

func (c *Cache) recompute(ctx context.Context, days int) (model.AnalyticsSnapshot, error) {
	c.computeMu.Lock()
	defer c.computeMu.Unlock()

	started := c.now()
	snap, err := Compute(ctx, c.source, days, started, c.cfg.Location)
	if err != nil {
		c.metrics.Recomputed(false)
		return model.AnalyticsSnapshot{}, err
	}
	c.metrics.Recomputed(true)

	c.mu.Lock()
	c.snapshot = &snap
	c.at = started
	c.mu.Unlock()

	c.logger.Debug("analytics recomputed",
		zap.Int("days", days),
		zap.Duration("took", time.Since(started)),
	)
	return snap, nil
}
