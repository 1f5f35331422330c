package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageAppendsAuditLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "auth.log")

	events := []AuthEvent{
		{Type: EventUserRegistered, UserID: 1, Username: "alice", OccurredAt: "2026-01-01T00:00:00Z"},
		{Type: EventSessionIssued, UserID: 1, TokenID: "abc123", RevokedCount: 1, OccurredAt: "2026-01-01T00:01:00Z"},
		{Type: EventSessionRevoked, UserID: 1, TokenID: "abc123", OccurredAt: "2026-01-01T00:02:00Z"},
	}
	for _, ev := range events {
		body, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, handleMessage(body, path))
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t, `[2026-01-01T00:00:00Z] user.registered | user_id=1 | username="alice"`, lines[0])
	assert.Equal(t, `[2026-01-01T00:01:00Z] session.issued | user_id=1 | token=abc123 | revoked=1`, lines[1])
	assert.Equal(t, `[2026-01-01T00:02:00Z] session.revoked | user_id=1 | token=abc123`, lines[2])
}

func TestHandleMessageRejectsBadPayloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")

	assert.Error(t, handleMessage([]byte("not json"), path))
	assert.Error(t, handleMessage([]byte(`{"user_id":1}`), path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
