package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var doc Document
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, doc, created_at, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&doc.ID, &doc.Version, &data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	doc.Data = data
	return doc, nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	query, args, err := buildPostgresQuery(collection, q)
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
		var data []byte
		if err := rows.Scan(&doc.ID, &doc.Version, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Data = data
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func buildPostgresQuery(collection string, q Query) (string, []any, error) {
	var b strings.Builder
	args := []any{collection}
	b.WriteString(`SELECT id, version, doc, created_at, updated_at FROM documents WHERE collection = $1`)

	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, f := range q.Filters {
		switch f.Op {
		case OpEq:
			encoded, err := json.Marshal(f.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode filter value: %w", err)
			}
			key := next(f.Field)
			fmt.Fprintf(&b, ` AND doc -> %s::text = %s::jsonb`, key, next(string(encoded)))
		case OpGte, OpLte:
			key := next(f.Field)
			op := ">="
			if f.Op == OpLte {
				op = "<="
			}
			fmt.Fprintf(&b, ` AND (doc ->> %s::text)::timestamptz %s %s`, key, op, next(f.Value.(time.Time)))
		}
	}

	if q.OrderBy != nil {
		direction := "ASC"
		if q.OrderBy.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&b, ` ORDER BY (doc ->> %s::text)::timestamptz %s, id ASC`, next(q.OrderBy.Field), direction)
	} else {
		b.WriteString(` ORDER BY id ASC`)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, ` LIMIT %d`, q.Limit)
	}
	return b.String(), args, nil
}

func (s *PostgresStore) Create(ctx context.Context, collection string, doc Document) (Document, error) {
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

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO documents (collection, id, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, NOW(), NOW())
		ON CONFLICT (collection, id) DO NOTHING
		RETURNING created_at, updated_at
	`, collection, doc.ID, doc.Version, string(data)).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrAlreadyExists
	}
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	doc.Data = data
	return doc, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, data json.RawMessage, expectedVersion int64) (Document, error) {
	var doc Document
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET doc = jsonb_set($3::jsonb, '{version}', to_jsonb(version + 1)),
			version = version + 1,
			updated_at = NOW()
		WHERE collection = $1 AND id = $2 AND ($4::bigint = 0 OR version = $4::bigint)
		RETURNING id, version, doc, created_at, updated_at
	`, collection, id, string(data), expectedVersion).Scan(&doc.ID, &doc.Version, &body, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`, collection, id).Scan(&exists); err != nil {
			return Document{}, fmt.Errorf("check document: %w", err)
		}
		if !exists {
			return Document{}, ErrNotFound
		}
		return Document{}, ErrVersionConflict
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	doc.Data = body
	return doc, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
