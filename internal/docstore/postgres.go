package docstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Postgres stores documents as jsonb rows in the documents table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a store on an open database handle. The documents
// table is created by the embedded migrations.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	now, err := p.serverTime(ctx, p.db)
	if err != nil {
		return "", classify("insert", err)
	}

	set, _ := resolve(fields, now)
	data, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	id := uuid.NewString()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $4)`,
		collection, id, pqtype.NullRawMessage{RawMessage: data, Valid: true}, now)
	if err != nil {
		return "", classify("insert", err)
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fields Fields) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("update", err)
	}
	defer tx.Rollback()

	now, err := p.serverTime(ctx, tx)
	if err != nil {
		return classify("update", err)
	}

	set, remove := resolve(fields, now)
	patch, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET data = (data || $3::jsonb) - $4::text[], updated_at = $5
		WHERE collection = $1 AND id = $2`,
		collection, id, pqtype.NullRawMessage{RawMessage: patch, Valid: true}, pq.Array(remove), now)
	if err != nil {
		return classify("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update", err)
	}
	if n == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return classify("update", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Document{}, false, nil
	}

	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, classify("get", err)
	}

	doc, err := decodeDocument(id, raw)
	if err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

func (p *Postgres) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	stmt, args := buildQuery(collection, q)
	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, classify("query", err)
		}
		doc, err := decodeDocument(id, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query", err)
	}
	return docs, nil
}

// buildQuery renders q as SQL. Field names are bound as parameters.
func buildQuery(collection string, q Query) (string, []any) {
	var b strings.Builder
	args := []any{collection}
	b.WriteString(`SELECT id::text, data FROM documents WHERE collection = $1`)

	for _, f := range q.Filters {
		value, _ := compareText(f.Value)
		args = append(args, f.Field, value)
		field := "$" + strconv.Itoa(len(args)-1)
		param := "$" + strconv.Itoa(len(args))
		switch f.Op {
		case OpEq:
			fmt.Fprintf(&b, ` AND data->>%s = %s`, field, param)
		case OpLte:
			fmt.Fprintf(&b, ` AND data->>%s COLLATE "C" <= %s`, field, param)
		}
	}

	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, ` ORDER BY data->>$%d COLLATE "C" %s NULLS LAST, id`, len(args), dir)
	} else {
		b.WriteString(` ORDER BY id`)
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return classify("delete", err)
	}
	return nil
}

// DeleteMany removes several documents in one statement and returns how
// many were removed.
func (p *Postgres) DeleteMany(ctx context.Context, collection string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id::text = ANY($2::text[])`,
		collection, pq.Array(ids))
	if err != nil {
		return 0, classify("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("delete", err)
	}
	return n, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) serverTime(ctx context.Context, q queryer) (time.Time, error) {
	var now time.Time
	if err := q.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, err
	}
	return now.UTC(), nil
}

// classify wraps connection-level failures with ErrUnavailable so callers
// can tell a transient outage from a rejected write.
func classify(op string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("docstore %s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("docstore %s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception; 57P01-03: server shutting down.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	return false
}
