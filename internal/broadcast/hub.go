package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"waveScope/internal/metrics"
)

const (
	sendQueueSize  = 50
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	initialTimeout = 5 * time.Second
)

// InitialFunc produces the message sent to a subscriber right after it connects.
type InitialFunc func(ctx context.Context) (Message, error)

// Hub fans messages out to websocket subscribers. Each subscriber has its
// own bounded queue; a full queue drops the message for that subscriber only.
type Hub struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	initial  InitialFunc
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	peers     map[*peer]struct{}
	byAccount map[string]map[*peer]struct{}
	closed    bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger for subscriber events.
func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHubMetrics tracks subscribers and sent messages on m.
func WithHubMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithInitial sets the message pushed to every new subscriber.
func WithInitial(fn InitialFunc) HubOption {
	return func(h *Hub) { h.initial = fn }
}

// NewHub builds an empty Hub. Mount it as an http.Handler.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:    zap.NewNop(),
		peers:     make(map[*peer]struct{}),
		byAccount: make(map[string]map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the dashboard is served from a different origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request. The optional account query parameter
// subscribes the connection to that account's targeted messages.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	p := &peer{
		account: r.URL.Query().Get("account"),
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
	if !h.register(p) {
		conn.Close()
		return
	}

	if h.initial != nil {
		ctx, cancel := context.WithTimeout(r.Context(), initialTimeout)
		msg, err := h.initial(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("initial message failed", zap.Error(err))
		} else if payload, err := json.Marshal(msg); err == nil {
			p.enqueue(payload)
		}
	}

	go p.writeLoop(h)
	go p.readLoop(h)
}

// Publish encodes msg once and queues it for every matching subscriber.
func (h *Hub) Publish(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode broadcast message", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	targets := h.peers
	if msg.AccountID != "" {
		targets = h.byAccount[msg.AccountID]
	}
	for p := range targets {
		if !p.enqueue(payload) {
			h.metrics.SlowSubscriber(string(msg.Type))
			h.logger.Warn("subscriber queue full, dropping message",
				zap.String("type", string(msg.Type)),
				zap.String("account", p.account),
				zap.Int("queued", len(p.send)),
			)
		}
	}
	h.metrics.Sent(string(msg.Type))
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		h.unregister(p)
	}
}

func (h *Hub) register(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p] = struct{}{}
	if p.account != "" {
		set, ok := h.byAccount[p.account]
		if !ok {
			set = make(map[*peer]struct{})
			h.byAccount[p.account] = set
		}
		set[p] = struct{}{}
	}
	h.metrics.SetSubscribers(len(h.peers))
	h.logger.Debug("subscriber connected", zap.String("account", p.account))
	return true
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	if _, ok := h.peers[p]; ok {
		delete(h.peers, p)
		if set := h.byAccount[p.account]; set != nil {
			delete(set, p)
			if len(set) == 0 {
				delete(h.byAccount, p.account)
			}
		}
		h.metrics.SetSubscribers(len(h.peers))
		h.logger.Debug("subscriber disconnected", zap.String("account", p.account))
	}
	h.mu.Unlock()
	p.stop()
}

type peer struct {
	account string
	conn    *websocket.Conn
	send    chan []byte

	done     chan struct{}
	stopOnce sync.Once
}

func (p *peer) enqueue(payload []byte) bool {
	select {
	case p.send <- payload:
		return true
	default:
		return false
	}
}

func (p *peer) stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

func (p *peer) writeLoop(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.unregister(p)
	}()
	for {
		select {
		case payload := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("subscriber write failed", zap.String("account", p.account), zap.Error(err))
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

// readLoop only services control frames; subscribers never send data.
func (p *peer) readLoop(h *Hub) {
	defer h.unregister(p)
	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}
