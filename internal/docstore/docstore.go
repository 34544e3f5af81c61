// Package docstore is the client for the persistent document store that
// holds the authoritative client roster.
//
// Documents are schemaless JSON objects grouped in collections. Field values
// written through Insert and Update may be any JSON-encodable value or one
// of the sentinels DeleteField and ServerTimestamp. Documents read back are
// JSON-shaped: objects are map[string]any, arrays []any, numbers float64 and
// timestamps strings in TimeFormat.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// TimeFormat is the encoding of timestamps inside documents. Its fixed width
// makes lexical order equal chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Sentinel is a placeholder field value resolved by the store.
type Sentinel int

const (
	// DeleteField removes the field from the document.
	DeleteField Sentinel = iota + 1

	// ServerTimestamp is replaced by the store's current time.
	ServerTimestamp
)

func (s Sentinel) String() string {
	switch s {
	case DeleteField:
		return "deleteField"
	case ServerTimestamp:
		return "serverTimestamp"
	default:
		return "sentinel(" + strconv.Itoa(int(s)) + ")"
	}
}

var (
	// ErrNotFound is returned when updating or deleting a missing document.
	ErrNotFound = errors.New("document not found")

	// ErrUnavailable is returned when the store cannot be reached. Writes that
	// fail with it are safe to retry later.
	ErrUnavailable = errors.New("document store unavailable")

	// ErrInvalidQuery is returned for filters or orderings the store cannot serve.
	ErrInvalidQuery = errors.New("invalid query")
)

// IsUnavailable returns true if err means the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Fields is a set of document fields.
type Fields map[string]any

// Document is a stored document.
type Document struct {
	ID     string
	Fields map[string]any
}

// Op is a filter comparison.
type Op string

const (
	OpEq  Op = "=="
	OpLte Op = "<="
)

// Filter restricts a query to documents whose field compares to Value.
// Values are compared in their text form, so OpLte is meaningful for
// strings and time.Time values.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents from a collection.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int // zero means no limit
}

// Store is the persistent document store.
type Store interface {
	// Insert creates a document with a generated ID and returns the ID.
	Insert(ctx context.Context, collection string, fields Fields) (string, error)

	// Update merges fields into an existing document. It returns ErrNotFound
	// if the document does not exist.
	Update(ctx context.Context, collection, id string, fields Fields) error

	// Get returns a document. The boolean is false when it does not exist.
	Get(ctx context.Context, collection, id string) (Document, bool, error)

	// Query returns the documents matching q.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Delete removes a document permanently. Deleting a missing document is
	// not an error.
	Delete(ctx context.Context, collection, id string) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// BatchDeleter is implemented by stores that can remove many documents in
// one round trip.
type BatchDeleter interface {
	DeleteMany(ctx context.Context, collection string, ids []string) (int64, error)
}

// resolve replaces sentinels in fields. It returns the fields to set and
// the names of the fields to remove.
func resolve(fields Fields, now time.Time) (map[string]any, []string) {
	set := make(map[string]any, len(fields))
	remove := []string{}
	for k, v := range fields {
		s, ok := v.(Sentinel)
		switch {
		case ok && s == DeleteField:
			remove = append(remove, k)
		case ok && s == ServerTimestamp:
			set[k] = now.UTC().Format(TimeFormat)
		default:
			set[k] = normalizeValue(v)
		}
	}
	sort.Strings(remove)
	return set, remove
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(TimeFormat)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(TimeFormat)
	default:
		return v
	}
}

// compareText is the text form a filter value is compared in.
func compareText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case time.Time:
		return t.UTC().Format(TimeFormat), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: unsupported filter value %T", ErrInvalidQuery, v)
	}
}

func validateQuery(q Query) error {
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("%w: empty filter field", ErrInvalidQuery)
		}
		if f.Op != OpEq && f.Op != OpLte {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, f.Op)
		}
		if _, err := compareText(f.Value); err != nil {
			return err
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}
