package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wellpass/internal/auth"
	"github.com/DukeRupert/wellpass/internal/domain"
	"github.com/DukeRupert/wellpass/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// setTestEnv configures an in-memory deployment and returns its archive
// directory.
func setTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENV", "development")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("STORE_PROVIDER", "memory")
	t.Setenv("CACHE_PROVIDER", "memory")
	t.Setenv("STORAGE_PROVIDER", "local")
	t.Setenv("LOCAL_STORAGE_PATH", dir)
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("FORCE_OFFLINE", "false")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestTokenCmd(t *testing.T) {
	setTestEnv(t)

	out, err := execute(t, "token", "--role", "coach", "--coach-id", "c1", "--coach-name", "Dana", "--ttl", "1h")
	require.NoError(t, err)

	sess, err := auth.NewTokens(testSecret, time.Hour).Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, domain.Session{Role: domain.RoleCoach, CoachID: "c1", CoachName: "Dana"}, sess)
}

func TestTokenCmd_InvalidSession(t *testing.T) {
	setTestEnv(t)

	_, err := execute(t, "token", "--role", "coach")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--coach-id")

	_, err = execute(t, "token", "--role", "owner")
	require.Error(t, err)
}

func TestQueueCmd_EmptyQueue(t *testing.T) {
	setTestEnv(t)

	out, err := execute(t, "queue", "list")
	require.NoError(t, err)
	assert.Equal(t, "queue is empty\n", out)

	out, err = execute(t, "queue", "replay")
	require.NoError(t, err)
	assert.Equal(t, "applied 0, remaining 0\n", out)
}

func TestQueueCmd_DropRequiresConfirmation(t *testing.T) {
	setTestEnv(t)

	_, err := execute(t, "queue", "drop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err := execute(t, "queue", "drop", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "dropped 0 queued writes\n", out)
}

func TestQueueCmd_ReplayOffline(t *testing.T) {
	setTestEnv(t)
	t.Setenv("FORCE_OFFLINE", "true")

	_, err := execute(t, "queue", "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestPurgeCmd(t *testing.T) {
	setTestEnv(t)

	out, err := execute(t, "purge", "--before", "2024-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 0 clients deleted before 2024-01-01")

	_, err = execute(t, "purge", "--before", "yesterday")
	require.Error(t, err)
}

func TestMigrateCmd_MemoryStore(t *testing.T) {
	setTestEnv(t)

	for _, sub := range []string{"up", "status", "down"} {
		_, err := execute(t, "migrate", sub)
		assert.ErrorIs(t, err, errNoDatabase, sub)
	}
}

func TestInvalidConfig(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SESSION_SECRET", "short")

	_, err := execute(t, "queue", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET")
}

func TestArchiveCmd(t *testing.T) {
	dir := setTestEnv(t)

	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: dir}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	key, err := storage.NewArchive(local).Save(context.Background(), "client-1", storage.ReasonRetentionExpired,
		map[string]any{"clientName": "Jane Doe"})
	require.NoError(t, err)

	out, err := execute(t, "archive", "list", "client-1")
	require.NoError(t, err)
	assert.Contains(t, out, key)

	out, err = execute(t, "archive", "list", "client-2")
	require.NoError(t, err)
	assert.Equal(t, "no archived copies of client-2\n", out)

	out, err = execute(t, "archive", "show", key)
	require.NoError(t, err)
	assert.Contains(t, out, `"clientId": "client-1"`)
	assert.Contains(t, out, `"reason": "retention_expired"`)
	assert.Contains(t, out, `"clientName": "Jane Doe"`)

	_, err = execute(t, "archive", "show", "clients/client-1/archive/0.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archived copy")
}
