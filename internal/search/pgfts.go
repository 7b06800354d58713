package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// role_sections collection as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// roleItemsSQL unnests every searchable list of a role section into
// (kind, item_key, text) rows.
const roleItemsSQL = `
	SELECT 'trigger' AS kind, coalesce(t->>'id', t->>'description') AS item_key, t->>'description' AS text
		FROM jsonb_array_elements(coalesce(d.doc->'triggers', '[]'::jsonb)) t
	UNION ALL
	SELECT 'strategy', coalesce(s->>'id', s->>'description'), s->>'description'
		FROM jsonb_array_elements(coalesce(d.doc->'whatWorks', '[]'::jsonb)) s
	UNION ALL
	SELECT 'strategy', coalesce(s->>'id', s->>'description'), s->>'description'
		FROM jsonb_array_elements(coalesce(d.doc->'whatDoesntWork', '[]'::jsonb)) s
	UNION ALL
	SELECT 'boundary', coalesce(b->>'id', b->>'description'), b->>'description'
		FROM jsonb_array_elements(coalesce(d.doc->'boundaries', '[]'::jsonb)) b
	UNION ALL
	SELECT 'strength', x, x
		FROM jsonb_array_elements_text(coalesce(d.doc->'strengths', '[]'::jsonb)) x
	UNION ALL
	SELECT 'challenge', x, x
		FROM jsonb_array_elements_text(coalesce(d.doc->'challenges', '[]'::jsonb)) x`

// Search ranks matching items with ts_rank and builds snippets with
// ts_headline. The whole-document predicate lets the GIN index prune
// sections before unnesting.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []Result{}, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.TenantID}
	where := []string{
		"d.collection = 'role_sections'",
		"d.doc->>'familyId' = $2",
		"to_tsvector('english', d.doc::text) @@ " + tsQuery,
		"to_tsvector('english', item.text) @@ " + tsQuery,
	}
	if q.ManualID != "" {
		args = append(args, q.ManualID)
		where = append(where, fmt.Sprintf("d.doc->>'manualId' = $%d", len(args)))
	}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		where = append(where, fmt.Sprintf("item.kind = $%d", len(args)))
	}

	dataSQL := fmt.Sprintf(`SELECT d.id, d.doc->>'familyId', coalesce(d.doc->>'manualId', ''),
			item.kind, item.item_key, item.text,
			ts_headline('english', item.text, %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM documents d
		CROSS JOIN LATERAL (%s) item
		WHERE %s
		ORDER BY ts_rank(to_tsvector('english', item.text), %s) DESC, d.id, item.kind
		LIMIT %d`,
		tsQuery, roleItemsSQL, strings.Join(where, " AND "), tsQuery, q.limit())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		var kind, key string
		if err := rows.Scan(&r.RoleSectionID, &r.TenantID, &r.ManualID, &kind, &key, &r.Text, &r.Snippet); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Kind = Kind(kind)
		r.ID = itemID(r.RoleSectionID, r.Kind, key)
		results = append(results, r)
	}
	return results, rows.Err()
}
