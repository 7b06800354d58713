package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is a substring index kept in process. It backs memory and
// sqlite deployments where neither Meilisearch nor Postgres FTS is available.
type MemoryIndex struct {
	mu       sync.RWMutex
	sections map[string][]Item
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{sections: make(map[string][]Item)}
}

func (m *MemoryIndex) Healthy() bool {
	return true
}

func (m *MemoryIndex) ReplaceSection(_ context.Context, sectionID string, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(items) == 0 {
		delete(m.sections, sectionID)
		return nil
	}
	m.sections[sectionID] = append([]Item(nil), items...)
	return nil
}

func (m *MemoryIndex) DeleteSection(_ context.Context, sectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sections, sectionID)
	return nil
}

// Search matches items containing every word of the query, case-insensitively.
func (m *MemoryIndex) Search(_ context.Context, q Query) ([]Result, error) {
	words := strings.Fields(strings.ToLower(q.Text))
	if len(words) == 0 {
		return []Result{}, nil
	}

	m.mu.RLock()
	matches := make([]Item, 0)
	for _, items := range m.sections {
		for _, item := range items {
			if item.TenantID != q.TenantID {
				continue
			}
			if q.ManualID != "" && item.ManualID != q.ManualID {
				continue
			}
			if q.Kind != "" && item.Kind != q.Kind {
				continue
			}
			if containsAll(strings.ToLower(item.Text), words) {
				matches = append(matches, item)
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].RoleSectionID != matches[j].RoleSectionID {
			return matches[i].RoleSectionID < matches[j].RoleSectionID
		}
		if matches[i].Kind != matches[j].Kind {
			return matches[i].Kind < matches[j].Kind
		}
		return matches[i].Text < matches[j].Text
	})
	if len(matches) > q.limit() {
		matches = matches[:q.limit()]
	}

	results := make([]Result, 0, len(matches))
	for _, item := range matches {
		results = append(results, Result{Item: item, Snippet: item.Text})
	}
	return results, nil
}

func containsAll(text string, words []string) bool {
	for _, word := range words {
		if !strings.Contains(text, word) {
			return false
		}
	}
	return true
}
