package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveScope/internal/model"
)

func TestAuditLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	log := NewAuditLog(path)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(AuditRecord{Event: "PayoutClaimed", RoundID: "3", Amount: "900", RecordedAt: now}))
	require.NoError(t, log.Append(AuditRecord{Event: "PoolCreated", RoundID: "4", RecordedAt: now}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var got []AuditRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record AuditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		got = append(got, record)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "PayoutClaimed", got[0].Event)
	assert.Equal(t, "900", got[0].Amount)
	assert.Equal(t, "4", got[1].RoundID)
}

func TestAuditLogDisabled(t *testing.T) {
	var nilLog *AuditLog
	assert.NoError(t, nilLog.Append(AuditRecord{Event: "x"}))
	assert.NoError(t, NewAuditLog("").Append(AuditRecord{Event: "x"}))
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Limit: 50}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: 500, Offset: 0}, Page{Limit: 9999, Offset: -3}.Normalize())
}

func TestLeaderboardLess(t *testing.T) {
	a := model.LeaderboardRow{Address: "a", TotalXP: 10, Wins: 1}
	b := model.LeaderboardRow{Address: "b", TotalXP: 10, Wins: 2}
	c := model.LeaderboardRow{Address: "c", TotalXP: 20}
	assert.True(t, LeaderboardLess(c, a))
	assert.True(t, LeaderboardLess(b, a))
	assert.False(t, LeaderboardLess(a, b))
}
