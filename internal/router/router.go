package router

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"waveScope/internal/metrics"
	"waveScope/internal/model"
	"waveScope/internal/numeric"
)

// Handler applies a decoded event.
type Handler interface {
	Handle(ctx context.Context, event model.Event) error
}

// BlockTimeFunc resolves a block number to its timestamp in seconds.
type BlockTimeFunc func(ctx context.Context, number uint64) (uint64, error)

// Config sizes the dispatch workers.
type Config struct {
	Workers   int
	QueueSize int
	SeenSize  int
}

// Router decodes raw logs and dispatches typed events to the handler. Events
// for the same round always land on the same worker, so they are handled in
// arrival order; different rounds proceed concurrently.
type Router struct {
	decoder   *Decoder
	handler   Handler
	blockTime BlockTimeFunc
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	seen   *lru.Cache[string, struct{}]
	shards []chan model.Event
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger for dropped logs and handler failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records decode, drop and handler counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithBlockTime sets the lookup used to stamp events with their block time.
func WithBlockTime(fn BlockTimeFunc) Option {
	return func(r *Router) { r.blockTime = fn }
}

// New builds a Router. Call Start before feeding logs.
func New(decoder *Decoder, handler Handler, cfg Config, opts ...Option) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SeenSize <= 0 {
		cfg.SeenSize = 10000
	}

	r := &Router{
		decoder: decoder,
		handler: handler,
		logger:  zap.NewNop(),
		now:     time.Now,
		seen:    lru.NewCache[string, struct{}](cfg.SeenSize),
		shards:  make([]chan model.Event, cfg.Workers),
	}
	for i := range r.shards {
		r.shards[i] = make(chan model.Event, cfg.QueueSize)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the workers. Handlers receive ctx.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	for _, ch := range r.shards {
		r.wg.Add(1)
		go r.worker(ctx, ch)
	}
}

// Stop stops accepting logs and waits for queued events to be handled.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, ch := range r.shards {
		close(ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// HandleLog decodes one raw log and queues it for its round's worker.
// Removed, redelivered, unknown and malformed logs are dropped with a warning.
func (r *Router) HandleLog(ctx context.Context, log types.Log) {
	if log.Removed {
		r.metrics.Dropped("removed")
		r.logger.Warn("dropping removed log",
			zap.String("tx", log.TxHash.Hex()),
			zap.Uint("log_index", log.Index),
			zap.Uint64("block", log.BlockNumber),
		)
		return
	}

	key := logMeta(log).Key()
	if r.seen.Contains(key) {
		r.metrics.Dropped("duplicate")
		r.logger.Debug("dropping redelivered log", zap.String("key", key))
		return
	}

	event, err := r.decoder.Decode(log)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownEvent) {
			reason = "unknown"
		}
		r.metrics.Dropped(reason)
		r.logger.Warn("dropping undecodable log",
			zap.String("reason", reason),
			zap.String("contract", log.Address.Hex()),
			zap.String("tx", log.TxHash.Hex()),
			zap.Uint("log_index", log.Index),
			zap.Error(err),
		)
		return
	}
	r.seen.Add(key, struct{}{})
	r.metrics.Decoded(event.Name())

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("router stopped, dropping event", zap.String("event", event.Name()), zap.String("key", key))
		return
	}
	select {
	case r.shards[r.shardFor(event)] <- event:
	case <-ctx.Done():
	}
}

func (r *Router) shardFor(event model.Event) int {
	h := fnv.New32a()
	h.Write([]byte(event.Kind()))
	h.Write([]byte{':'})
	h.Write([]byte(numeric.ToDecimalString(event.RoundRef())))
	return int(h.Sum32() % uint32(len(r.shards)))
}

func (r *Router) worker(ctx context.Context, ch <-chan model.Event) {
	defer r.wg.Done()
	for event := range ch {
		r.dispatch(ctx, event)
	}
}

func (r *Router) dispatch(ctx context.Context, event model.Event) {
	name := eventName(event)
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.Panicked()
			r.logger.Error("event handler panic",
				zap.String("event", name),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()

	r.stampBlockTime(ctx, event)

	if err := r.handler.Handle(ctx, event); err != nil {
		r.metrics.HandlerFailed(name)
		origin := event.Origin()
		r.logger.Error("handle event failed",
			zap.String("event", name),
			zap.String("round", numeric.ToDecimalString(event.RoundRef())),
			zap.String("tx", origin.TxHash),
			zap.Uint64("log_index", origin.LogIndex),
			zap.Error(err),
		)
	}
	r.metrics.ObserveHandle(name, started)
}

func (r *Router) stampBlockTime(ctx context.Context, event model.Event) {
	origin := event.Origin()
	if origin.BlockTime != 0 {
		return
	}
	if r.blockTime != nil {
		ts, err := r.blockTime(ctx, origin.BlockNumber)
		if err == nil && ts != 0 {
			event.SetBlockTime(ts)
			return
		}
		r.logger.Warn("block time lookup failed, using wall clock",
			zap.Uint64("block", origin.BlockNumber),
			zap.Error(err),
		)
	}
	event.SetBlockTime(uint64(r.now().Unix()))
}
