package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestArchiveKey(t *testing.T) {
	at := time.Unix(1760700000, 0)
	assert.Equal(t, "clients/abc/archive/1760700000.json", ArchiveKey("abc", at))
	assert.Equal(t, "clients/abc/archive/", ArchivePrefix("abc"))
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"clients/a/archive/1.json", false},
		{"", true},
		{"/etc/passwd", true},
		{"clients/../../etc/passwd", true},
		{"clients/..hidden/x.json", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := validateKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocalStorage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	key := "clients/a/archive/1.json"

	require.NoError(t, s.Put(ctx, key, strings.NewReader(`{"a":1}`), PutOptions{}))

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	err = s.Put(ctx, key, strings.NewReader(`{}`), PutOptions{})
	assert.ErrorIs(t, err, ErrKeyExists)
	require.NoError(t, s.Put(ctx, key, strings.NewReader(`{"a":2}`), PutOptions{Overwrite: true}))

	rc, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, `{"a":2}`, string(body))
	assert.Equal(t, int64(7), info.Size)
	assert.Equal(t, "application/json", info.ContentType)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key), "delete is idempotent")
	_, _, err = s.Get(ctx, key)
	assert.True(t, IsNotFound(err))
}

func TestLocalStorage_MaxSize(t *testing.T) {
	s := newLocal(t)
	err := s.Put(context.Background(), "big.json", strings.NewReader("0123456789"), PutOptions{MaxSize: 4})
	assert.ErrorIs(t, err, ErrTooLarge)

	exists, err := s.Exists(context.Background(), "big.json")
	require.NoError(t, err)
	assert.False(t, exists, "oversized objects are not kept")
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	err := newLocal(t).Put(context.Background(), "../escape.json", strings.NewReader("x"), PutOptions{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestArchive_SaveVersionsLoad(t *testing.T) {
	ctx := context.Background()
	a := NewArchive(newLocal(t))
	first := time.Unix(1760000000, 0)
	a.now = func() time.Time { return first }

	key, err := a.Save(ctx, "client-1", ReasonRecycleBinEmptied, map[string]any{"clientName": "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "clients/client-1/archive/1760000000.json", key)

	a.now = func() time.Time { return first.Add(time.Hour) }
	_, err = a.Save(ctx, "client-1", ReasonRetentionExpired, map[string]any{"clientName": "Ana L"})
	require.NoError(t, err)
	_, err = a.Save(ctx, "client-2", ReasonRetentionExpired, map[string]any{})
	require.NoError(t, err)

	versions, err := a.Versions(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, key, versions[0].Key)

	loaded, err := a.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "client-1", loaded.ClientID)
	assert.Equal(t, ReasonRecycleBinEmptied, loaded.Reason)
	assert.Equal(t, "Ana", loaded.Fields["clientName"])
	assert.True(t, first.Equal(loaded.ArchivedAt))
}
