package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ArchivedClient is the JSON document written for a permanently removed client.
type ArchivedClient struct {
	ClientID   string         `json:"clientId"`
	ArchivedAt time.Time      `json:"archivedAt"`
	Reason     string         `json:"reason"`
	Fields     map[string]any `json:"fields"`
}

// Archive reasons
const (
	ReasonRecycleBinEmptied = "recycle_bin_emptied"
	ReasonRetentionExpired  = "retention_expired"
)

// maxArchiveSize bounds a single archived document.
const maxArchiveSize = 5 << 20

// Archive writes copies of client documents before they are hard-deleted.
type Archive struct {
	storage Storage
	now     func() time.Time
}

// NewArchive creates an archive on s.
func NewArchive(s Storage) *Archive {
	return &Archive{storage: s, now: time.Now}
}

// Save writes a copy of a client document and returns its key.
func (a *Archive) Save(ctx context.Context, clientID, reason string, fields map[string]any) (string, error) {
	at := a.now().UTC()
	data, err := json.Marshal(ArchivedClient{
		ClientID:   clientID,
		ArchivedAt: at,
		Reason:     reason,
		Fields:     fields,
	})
	if err != nil {
		return "", fmt.Errorf("encode archive: %w", err)
	}

	key := ArchiveKey(clientID, at)
	err = a.storage.Put(ctx, key, bytes.NewReader(data), PutOptions{
		ContentType: "application/json",
		MaxSize:     maxArchiveSize,
		Overwrite:   true,
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Versions lists the archived copies of a client, oldest first.
func (a *Archive) Versions(ctx context.Context, clientID string) ([]ObjectInfo, error) {
	return a.storage.List(ctx, ArchivePrefix(clientID))
}

// Load reads an archived copy.
func (a *Archive) Load(ctx context.Context, key string) (ArchivedClient, error) {
	rc, _, err := a.storage.Get(ctx, key)
	if err != nil {
		return ArchivedClient{}, err
	}
	defer rc.Close()

	var out ArchivedClient
	if err := json.NewDecoder(rc).Decode(&out); err != nil {
		return ArchivedClient{}, fmt.Errorf("decode archive %s: %w", key, err)
	}
	return out, nil
}
