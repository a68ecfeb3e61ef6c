package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSSubject(t *testing.T) {
	s := &NATSSink{prefix: "wave"}

	assert.Equal(t, "wave.bet_placed", s.Subject(Message{Type: TypeBetPlaced}))
	assert.Equal(t, "wave.leaderboard_updated", s.Subject(Message{Type: TypeLeaderboardUpdated}))
	assert.Equal(t, "wave.account.acct-9.kicked", s.Subject(Message{Type: TypeAccountKicked, AccountID: "acct-9"}))
}

func TestNATSEnvelope(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &NATSSink{prefix: "wave", now: func() time.Time { return at }}

	body, err := s.encode(Message{Type: TypeAccountKicked, Data: AccountKicked{AccountID: "a1"}, AccountID: "a1"})
	require.NoError(t, err)

	var env struct {
		ID   string          `json:"id"`
		Type MessageType     `json:"type"`
		TS   int64           `json:"ts"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))

	_, err = uuid.Parse(env.ID)
	assert.NoError(t, err)
	assert.Equal(t, TypeAccountKicked, env.Type)
	assert.Equal(t, at.UnixMilli(), env.TS)
	assert.JSONEq(t, `{"accountId":"a1"}`, string(env.Data))
}

func TestDecodeEnvelopeRoundTrip(t *testing.T) {
	s := &NATSSink{prefix: "wave", now: time.Now}

	body, err := s.encode(Message{Type: TypeAccountKicked, Data: AccountKicked{AccountID: "a1"}, AccountID: "a1"})
	require.NoError(t, err)
	msg, err := decodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, Message{Type: TypeAccountKicked, Data: AccountKicked{AccountID: "a1"}, AccountID: "a1"}, msg)

	body, err = s.encode(Message{Type: TypeUsersUpdated})
	require.NoError(t, err)
	msg, err = decodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, TypeUsersUpdated, msg.Type)
	assert.Empty(t, msg.AccountID)
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `{`,
		"no account":   `{"type":"account_kicked","data":{}}`,
		"foreign type": `{"type":"bet_placed","data":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeEnvelope([]byte(body))
			assert.Error(t, err)
		})
	}
}
