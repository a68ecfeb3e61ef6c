package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Envelope is the JSON body of every NATS message.
type Envelope struct {
	ID   string      `json:"id"`
	Type MessageType `json:"type"`
	TS   int64       `json:"ts"`
	Data any         `json:"data,omitempty"`
}

// NATSSink republishes messages to NATS subjects under a prefix.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// DialNATS connects to servers and returns a sink publishing under prefix.
func DialNATS(servers, prefix string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("waveScope"),
		nats.MaxReconnects(-1),
		nats.NoEcho(),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("nats disconnected", zap.Error(err))
				return
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", zap.String("subject", subject), zap.Error(err))
		}),
	}

	nc, err := nats.Connect(servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("connected to nats", zap.String("servers", servers), zap.String("prefix", prefix))
	return &NATSSink{nc: nc, prefix: prefix, logger: logger, now: time.Now}, nil
}

// Subject maps a message to its NATS subject.
func (s *NATSSink) Subject(msg Message) string {
	if msg.Type == TypeAccountKicked && msg.AccountID != "" {
		return fmt.Sprintf("%s.account.%s.kicked", s.prefix, msg.AccountID)
	}
	return s.prefix + "." + string(msg.Type)
}

func (s *NATSSink) encode(msg Message) ([]byte, error) {
	return json.Marshal(Envelope{
		ID:   uuid.NewString(),
		Type: msg.Type,
		TS:   s.now().UnixMilli(),
		Data: msg.Data,
	})
}

// Publish is asynchronous; the client buffers while reconnecting.
func (s *NATSSink) Publish(msg Message) {
	body, err := s.encode(msg)
	if err != nil {
		s.logger.Error("encode nats envelope", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	subject := s.Subject(msg)
	if err := s.nc.Publish(subject, body); err != nil {
		s.logger.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// RelayAdmin forwards account_kicked and users_updated messages published by
// other processes, such as the account command, to local.
func (s *NATSSink) RelayAdmin(local Sink) error {
	subjects := []string{
		s.prefix + ".account.*.kicked",
		s.prefix + "." + string(TypeUsersUpdated),
	}
	for _, subject := range subjects {
		_, err := s.nc.Subscribe(subject, func(m *nats.Msg) {
			msg, err := decodeEnvelope(m.Data)
			if err != nil {
				s.logger.Warn("drop relayed message", zap.String("subject", m.Subject), zap.Error(err))
				return
			}
			local.Publish(msg)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	return nil
}

func decodeEnvelope(body []byte) (Message, error) {
	var env struct {
		Type MessageType     `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeAccountKicked:
		var kicked AccountKicked
		if err := json.Unmarshal(env.Data, &kicked); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if kicked.AccountID == "" {
			return Message{}, fmt.Errorf("%s without account id", env.Type)
		}
		return Message{Type: env.Type, Data: kicked, AccountID: kicked.AccountID}, nil
	case TypeUsersUpdated:
		return Message{Type: env.Type}, nil
	default:
		return Message{}, fmt.Errorf("unexpected message type %q", env.Type)
	}
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() {
	if err := s.nc.Drain(); err != nil {
		s.logger.Warn("nats drain failed", zap.Error(err))
		s.nc.Close()
	}
}
