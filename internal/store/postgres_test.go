package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresCreateConflictMapsToAlreadyExists(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO documents`)).
		WithArgs("weekly_workbooks", "wb_1", int64(1), sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Create(context.Background(), "weekly_workbooks", Document{ID: "wb_1", Data: json.RawMessage(`{"status":"active"}`)})
	assert.True(t, errors.Is(err, ErrAlreadyExists), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateDistinguishesConflictFromMissing(t *testing.T) {
	s, mock := newMockStore(t)
	body := json.RawMessage(`{"status":"completed"}`)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE documents`)).
		WithArgs("role_sections", "rs_1", string(body), int64(4)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("role_sections", "rs_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := s.Update(context.Background(), "role_sections", "rs_1", body, 4)
	assert.True(t, errors.Is(err, ErrVersionConflict), "got %v", err)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE documents`)).
		WithArgs("role_sections", "rs_2", string(body), int64(4)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("role_sections", "rs_2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = s.Update(context.Background(), "role_sections", "rs_2", body, 4)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateReturnsStoredDocument(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE documents`)).
		WithArgs("role_sections", "rs_1", `{"roleTitle":"Dad"}`, int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "doc", "created_at", "updated_at"}).
			AddRow("rs_1", int64(3), []byte(`{"roleTitle":"Dad","version":3}`), now, now))

	doc, err := s.Update(context.Background(), "role_sections", "rs_1", json.RawMessage(`{"roleTitle":"Dad"}`), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Version)
	assert.JSONEq(t, `{"roleTitle":"Dad","version":3}`, string(doc.Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildPostgresQuery(t *testing.T) {
	weekStart := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	query, args, err := buildPostgresQuery(CollectionWorkbooks, Query{
		Filters: []Filter{Eq("personId", "p1"), Eq("status", "active"), Gte("startDate", weekStart)},
		OrderBy: &OrderBy{Field: "startDate", Desc: true},
		Limit:   1,
	})
	require.NoError(t, err)

	assert.Contains(t, query, `doc -> $2::text = $3::jsonb`)
	assert.Contains(t, query, `(doc ->> $6::text)::timestamptz >= $7`)
	assert.Contains(t, query, `ORDER BY (doc ->> $8::text)::timestamptz DESC, id ASC`)
	assert.Contains(t, query, `LIMIT 1`)
	assert.Equal(t, []any{CollectionWorkbooks, "personId", `"p1"`, "status", `"active"`, "startDate", weekStart, "startDate"}, args)
}

func TestPostgresQueryScansRows(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, version, doc, created_at, updated_at FROM documents WHERE collection = $1`)).
		WithArgs(CollectionRoleSections, "manualId", `"man_1"`, "createdAt").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "doc", "created_at", "updated_at"}).
			AddRow("rs_2", int64(1), []byte(`{"roleSectionId":"rs_2"}`), now, now).
			AddRow("rs_1", int64(4), []byte(`{"roleSectionId":"rs_1"}`), now, now))

	docs, err := s.Query(context.Background(), CollectionRoleSections, Query{
		Filters: []Filter{Eq("manualId", "man_1")},
		OrderBy: &OrderBy{Field: "createdAt", Desc: true},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "rs_2", docs[0].ID)
	assert.Equal(t, int64(4), docs[1].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}
