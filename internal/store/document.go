package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrVersionConflict = errors.New("document version conflict")
)

// Document is one JSON record in a collection. Version is maintained by the
// store and mirrored into the body's "version" field on every write.
type Document struct {
	ID        string
	Version   int64
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Op string

const (
	OpEq  Op = "=="
	OpGte Op = ">="
	OpLte Op = "<="
)

// Filter compares a top-level JSON field. Eq compares JSON values; Gte and Lte
// require a time.Time value and compare the field as an RFC 3339 timestamp.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

func Gte(field string, value time.Time) Filter {
	return Filter{Field: field, Op: OpGte, Value: value}
}

func Lte(field string, value time.Time) Filter {
	return Filter{Field: field, Op: OpLte, Value: value}
}

// OrderBy sorts by a timestamp field.
type OrderBy struct {
	Field string
	Desc  bool
}

type Query struct {
	Filters []Filter
	OrderBy *OrderBy
	Limit   int
}

// DocumentStore is the persistence contract the repositories depend on. Every
// call touches exactly one collection; there are no cross-document
// transactions.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Create(ctx context.Context, collection string, doc Document) (Document, error)
	// Update replaces the document body. When expectedVersion > 0 the write only
	// succeeds if the stored version still equals it. The stored version always
	// advances by one.
	Update(ctx context.Context, collection, id string, data json.RawMessage, expectedVersion int64) (Document, error)
	Delete(ctx context.Context, collection, id string) error
	Ping(ctx context.Context) error
	Close() error
}

func (f Filter) validate() error {
	if !validField(f.Field) {
		return fmt.Errorf("invalid filter field %q", f.Field)
	}
	switch f.Op {
	case OpEq:
		return nil
	case OpGte, OpLte:
		if _, ok := f.Value.(time.Time); !ok {
			return fmt.Errorf("range filter on %q requires a time value", f.Field)
		}
		return nil
	default:
		return fmt.Errorf("unsupported filter op %q", f.Op)
	}
}

func (q Query) validate() error {
	for _, f := range q.Filters {
		if err := f.validate(); err != nil {
			return err
		}
	}
	if q.OrderBy != nil && !validField(q.OrderBy.Field) {
		return fmt.Errorf("invalid order field %q", q.OrderBy.Field)
	}
	if q.Limit < 0 {
		return fmt.Errorf("invalid limit %d", q.Limit)
	}
	return nil
}

func validField(field string) bool {
	if field == "" || len(field) > 64 {
		return false
	}
	for _, r := range field {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// withVersion rewrites the top-level "version" field of a JSON object.
func withVersion(data json.RawMessage, version int64) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	if fields == nil {
		return nil, errors.New("document body must be a JSON object")
	}
	encoded, err := json.Marshal(version)
	if err != nil {
		return nil, err
	}
	fields["version"] = encoded
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode document body: %w", err)
	}
	return out, nil
}

// Decode unmarshals a document body into target.
func Decode[T any](doc Document) (T, error) {
	var out T
	if err := json.Unmarshal(doc.Data, &out); err != nil {
		return out, fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	return out, nil
}
