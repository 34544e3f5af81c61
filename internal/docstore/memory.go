package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Fields are round-tripped through JSON so
// documents read back have the same shape as from Postgres.
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]map[string][]byte // collection -> id -> JSON object
	now   func() time.Time
	fault error
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]map[string][]byte),
		now:  time.Now,
	}
}

// SetClock replaces the clock used for ServerTimestamp.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetFault makes every operation fail with err until cleared with nil.
// Wrap ErrUnavailable to simulate the store going offline.
func (m *Memory) SetFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = err
}

func (m *Memory) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault != nil {
		return "", m.fault
	}

	set, _ := resolve(fields, m.now())
	data, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	id := uuid.NewString()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string][]byte)
	}
	m.docs[collection][id] = data
	return id, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault != nil {
		return m.fault
	}

	stored, ok := m.docs[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	var doc map[string]any
	if err := json.Unmarshal(stored, &doc); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	set, remove := resolve(fields, m.now())
	for k, v := range set {
		doc[k] = v
	}
	for _, k := range remove {
		delete(doc, k)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	m.docs[collection][id] = data
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fault != nil {
		return Document{}, false, m.fault
	}

	stored, ok := m.docs[collection][id]
	if !ok {
		return Document{}, false, nil
	}
	doc, err := decodeDocument(id, stored)
	if err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

func (m *Memory) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fault != nil {
		return nil, m.fault
	}

	out := make([]Document, 0, len(m.docs[collection]))
	for id, stored := range m.docs[collection] {
		doc, err := decodeDocument(id, stored)
		if err != nil {
			return nil, err
		}
		if matches(doc, q.Filters) {
			out = append(out, doc)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy == "" {
			return out[i].ID < out[j].ID
		}
		a, aok := fieldText(out[i].Fields, q.OrderBy)
		b, bok := fieldText(out[j].Fields, q.OrderBy)
		// Missing values sort last in both directions
		if !aok || !bok {
			if aok == bok {
				return out[i].ID < out[j].ID
			}
			return aok
		}
		if a == b {
			return out[i].ID < out[j].ID
		}
		if q.Desc {
			return a > b
		}
		return a < b
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault != nil {
		return m.fault
	}
	delete(m.docs[collection], id)
	return nil
}

func (m *Memory) DeleteMany(ctx context.Context, collection string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault != nil {
		return 0, m.fault
	}
	var n int64
	for _, id := range ids {
		if _, ok := m.docs[collection][id]; ok {
			delete(m.docs[collection], id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fault
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[collection])
}

func decodeDocument(id string, data []byte) (Document, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return Document{ID: id, Fields: fields}, nil
}

func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		got, ok := fieldText(doc.Fields, f.Field)
		if !ok {
			return false
		}
		want, _ := compareText(f.Value)
		switch f.Op {
		case OpEq:
			if got != want {
				return false
			}
		case OpLte:
			if got > want {
				return false
			}
		}
	}
	return true
}

// fieldText returns a scalar field in text form. Missing, null and
// non-scalar fields report false.
func fieldText(fields map[string]any, name string) (string, bool) {
	v, ok := fields[name]
	if !ok || v == nil {
		return "", false
	}
	switch v.(type) {
	case map[string]any, []any:
		return "", false
	}
	s, err := compareText(v)
	if err != nil {
		return "", false
	}
	return s, true
}
