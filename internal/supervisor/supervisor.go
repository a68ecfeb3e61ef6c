package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"waveScope/internal/chain"
	"waveScope/internal/metrics"
)

// State is the connection state of a Supervisor.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	defaultReconnectDelay = 2 * time.Second
	dialTimeout           = 15 * time.Second
	logBuffer             = 256
)

var errSubscriptionClosed = errors.New("log subscription closed")

// LogSource is a live connection able to stream contract logs.
type LogSource interface {
	SubscribeLogs(ctx context.Context, address common.Address, ch chan<- types.Log) (ethereum.Subscription, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	Close()
}

// Dialer opens a new LogSource.
type Dialer func(ctx context.Context) (LogSource, error)

// LogHandler receives every raw log from every subscription.
type LogHandler func(ctx context.Context, log types.Log)

// Config names the endpoint and the contracts to follow.
type Config struct {
	Endpoint       string
	Contracts      []common.Address
	ReconnectDelay time.Duration
}

// Supervisor keeps one log subscription per contract alive, redialing after
// a fixed delay whenever the connection or a subscription fails.
type Supervisor struct {
	cfg     Config
	handler LogHandler
	dial    Dialer
	onState func(State)
	logger  *zap.Logger
	metrics *metrics.Metrics

	state atomic.Int32

	mu      sync.RWMutex
	current LogSource
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger for connection changes.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics tracks state and reconnects on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Supervisor) { s.dial = d }
}

// WithStateHook is called on every state change.
func WithStateHook(fn func(State)) Option {
	return func(s *Supervisor) { s.onState = fn }
}

// New validates the endpoint and builds a Supervisor. It does not connect.
func New(cfg Config, handler LogHandler, opts ...Option) (*Supervisor, error) {
	endpoint, err := chain.ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if len(cfg.Contracts) == 0 {
		return nil, errors.New("at least one contract address is required")
	}
	if handler == nil {
		return nil, errors.New("log handler is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	wsURL := endpoint.String()
	s := &Supervisor{
		cfg:     cfg,
		handler: handler,
		logger:  zap.NewNop(),
		dial: func(ctx context.Context) (LogSource, error) {
			return chain.NewClient(ctx, wsURL)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.metrics.SetSupervisorState(int(st))
	s.logger.Debug("supervisor state", zap.Stringer("state", st))
	if s.onState != nil {
		s.onState(st)
	}
}

// Run connects and keeps reconnecting until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.setState(Connecting)
		err := s.session(ctx)
		s.setState(Disconnected)
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopped")
			return nil
		}

		s.metrics.Reconnect()
		s.logger.Warn("ledger connection lost, reconnecting",
			zap.Duration("delay", s.cfg.ReconnectDelay),
			zap.Error(err),
		)
		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("supervisor stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (s *Supervisor) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	src, err := s.dial(dialCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.Endpoint, err)
	}
	defer src.Close()

	s.mu.Lock()
	s.current = src
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	logs := make(chan types.Log, logBuffer)
	errc := make(chan error, len(s.cfg.Contracts))
	subs := make([]ethereum.Subscription, 0, len(s.cfg.Contracts))
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for _, address := range s.cfg.Contracts {
		sub, err := src.SubscribeLogs(ctx, address, logs)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", address.Hex(), err)
		}
		subs = append(subs, sub)
		go func(sub ethereum.Subscription) {
			err := <-sub.Err()
			if err == nil {
				err = errSubscriptionClosed
			}
			errc <- err
		}(sub)
	}

	s.setState(Subscribed)
	s.logger.Info("subscribed to contract logs", zap.Int("contracts", len(subs)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case log := <-logs:
			s.handler(ctx, log)
		}
	}
}

// BlockTime resolves a block timestamp through the live connection.
func (s *Supervisor) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	s.mu.RLock()
	src := s.current
	s.mu.RUnlock()
	if src == nil {
		return 0, errors.New("not connected")
	}
	return src.BlockTimestamp(ctx, number)
}
