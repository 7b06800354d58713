package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory. It honours the same
// compare-and-swap and filter semantics as the SQL stores.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (m *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	type candidate struct {
		doc    Document
		fields map[string]any
	}
	matched := make([]candidate, 0)
	for _, doc := range m.collections[collection] {
		var fields map[string]any
		if err := json.Unmarshal(doc.Data, &fields); err != nil {
			m.mu.RUnlock()
			return nil, fmt.Errorf("decode document %s: %w", doc.ID, err)
		}
		ok, err := matchFilters(fields, q.Filters)
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		if ok {
			matched = append(matched, candidate{doc: cloneDocument(doc), fields: fields})
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if q.OrderBy == nil {
			return matched[i].doc.ID < matched[j].doc.ID
		}
		left := fieldTime(matched[i].fields, q.OrderBy.Field)
		right := fieldTime(matched[j].fields, q.OrderBy.Field)
		if left.Equal(right) {
			return matched[i].doc.ID < matched[j].doc.ID
		}
		if q.OrderBy.Desc {
			return left.After(right)
		}
		return left.Before(right)
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]Document, 0, len(matched))
	for _, item := range matched {
		out = append(out, item.doc)
	}
	return out, nil
}

func (m *MemoryStore) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
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

	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]Document)
		m.collections[collection] = docs
	}
	if _, exists := docs[doc.ID]; exists {
		return Document{}, ErrAlreadyExists
	}
	now := m.now()
	stored := Document{ID: doc.ID, Version: doc.Version, Data: data, CreatedAt: now, UpdatedAt: now}
	docs[doc.ID] = stored
	return cloneDocument(stored), nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, data json.RawMessage, expectedVersion int64) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if expectedVersion > 0 && current.Version != expectedVersion {
		return Document{}, ErrVersionConflict
	}
	next := current.Version + 1
	body, err := withVersion(data, next)
	if err != nil {
		return Document{}, err
	}
	stored := Document{ID: id, Version: next, Data: body, CreatedAt: current.CreatedAt, UpdatedAt: m.now()}
	m.collections[collection][id] = stored
	return cloneDocument(stored), nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close() error {
	return nil
}

func cloneDocument(doc Document) Document {
	doc.Data = bytes.Clone(doc.Data)
	return doc
}

func matchFilters(fields map[string]any, filters []Filter) (bool, error) {
	for _, f := range filters {
		value, present := fields[f.Field]
		switch f.Op {
		case OpEq:
			want, err := jsonValue(f.Value)
			if err != nil {
				return false, err
			}
			if !present || !reflect.DeepEqual(value, want) {
				return false, nil
			}
		case OpGte, OpLte:
			bound := f.Value.(time.Time)
			got, ok := parseTimeValue(value)
			if !ok {
				return false, nil
			}
			if f.Op == OpGte && got.Before(bound) {
				return false, nil
			}
			if f.Op == OpLte && got.After(bound) {
				return false, nil
			}
		}
	}
	return true, nil
}

// jsonValue normalizes a Go value to the shape encoding/json decodes into.
func jsonValue(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode filter value: %w", err)
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("decode filter value: %w", err)
	}
	return out, nil
}

func parseTimeValue(value any) (time.Time, bool) {
	raw, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func fieldTime(fields map[string]any, field string) time.Time {
	parsed, _ := parseTimeValue(fields[field])
	return parsed
}
