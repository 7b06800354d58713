package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore is the single-node DocumentStore. It runs in WAL mode with a
// single connection, so writes are serialized by the driver.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path and applies the schema.
// It is idempotent.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var doc Document
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, doc, created_at, updated_at FROM documents WHERE collection = ? AND id = ?
	`, collection, id).Scan(&doc.ID, &doc.Version, &data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	doc.Data = json.RawMessage(data)
	return doc, nil
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	query, args, err := buildSQLiteQuery(collection, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var doc Document
		var data string
		if err := rows.Scan(&doc.ID, &doc.Version, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Data = json.RawMessage(data)
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func buildSQLiteQuery(collection string, q Query) (string, []any, error) {
	var b strings.Builder
	args := []any{collection}
	b.WriteString(`SELECT id, version, doc, created_at, updated_at FROM documents WHERE collection = ?`)

	for _, f := range q.Filters {
		path := "$." + f.Field
		switch f.Op {
		case OpEq:
			value, err := jsonValue(f.Value)
			if err != nil {
				return "", nil, err
			}
			switch v := value.(type) {
			case nil:
				b.WriteString(` AND json_extract(doc, ?) IS NULL`)
				args = append(args, path)
			case bool:
				b.WriteString(` AND json_extract(doc, ?) = ?`)
				flag := 0
				if v {
					flag = 1
				}
				args = append(args, path, flag)
			case string, float64:
				b.WriteString(` AND json_extract(doc, ?) = ?`)
				args = append(args, path, v)
			default:
				encoded, err := json.Marshal(v)
				if err != nil {
					return "", nil, fmt.Errorf("encode filter value: %w", err)
				}
				b.WriteString(` AND json(json_extract(doc, ?)) = json(?)`)
				args = append(args, path, string(encoded))
			}
		case OpGte, OpLte:
			op := ">="
			if f.Op == OpLte {
				op = "<="
			}
			fmt.Fprintf(&b, ` AND julianday(json_extract(doc, ?)) %s julianday(?)`, op)
			args = append(args, path, f.Value.(time.Time).UTC().Format(time.RFC3339Nano))
		}
	}

	if q.OrderBy != nil {
		direction := "ASC"
		if q.OrderBy.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&b, ` ORDER BY julianday(json_extract(doc, ?)) %s, id ASC`, direction)
		args = append(args, "$."+q.OrderBy.Field)
	} else {
		b.WriteString(` ORDER BY id ASC`)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, ` LIMIT %d`, q.Limit)
	}
	return b.String(), args, nil
}

func (s *SQLiteStore) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	if doc.ID == "" {
		return Document{}, fmt.Errorf("create document: id is required")
	}
	if doc.Version <= 0 {
		doc.Version = 1
	}
	data, err := withVersion(doc.Data, doc.Version)
	if err != nil {
		return Document{}, err
	}
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, version, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO NOTHING
	`, collection, doc.ID, doc.Version, string(data), now, now)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Document{}, fmt.Errorf("insert document rows: %w", err)
	}
	if affected == 0 {
		return Document{}, ErrAlreadyExists
	}
	doc.Data = data
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return doc, nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, data json.RawMessage, expectedVersion int64) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT version, created_at FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&current, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("read document version: %w", err)
	}
	if expectedVersion > 0 && current != expectedVersion {
		return Document{}, ErrVersionConflict
	}

	next := current + 1
	body, err := withVersion(data, next)
	if err != nil {
		return Document{}, err
	}
	now := s.now()
	result, err := tx.ExecContext(ctx, `
		UPDATE documents SET doc = ?, version = ?, updated_at = ?
		WHERE collection = ? AND id = ? AND version = ?
	`, string(body), next, now, collection, id, current)
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Document{}, fmt.Errorf("update document rows: %w", err)
	}
	if affected == 0 {
		return Document{}, ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit update: %w", err)
	}
	return Document{ID: id, Version: next, Data: body, CreatedAt: createdAt, UpdatedAt: now}, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
