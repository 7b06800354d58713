package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxRoleItems = "role_items"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *zap.Logger
}

// NewMeili creates a Meilisearch client and configures the index. A failed
// initial connection leaves the client unhealthy; the health loop keeps
// probing.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxRoleItems,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxRoleItems), zap.Error(err))
	}

	index := m.client.Index(idxRoleItems)
	filterable := []interface{}{"tenantId", "manualId", "roleSectionId", "kind"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxRoleItems), zap.Error(err))
	}
	searchable := []string{"text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxRoleItems), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, error) {
	if !m.healthy.Load() {
		return nil, errUnhealthy
	}

	filters := []string{fmt.Sprintf("tenantId = %q", q.TenantID)}
	if q.ManualID != "" {
		filters = append(filters, fmt.Sprintf("manualId = %q", q.ManualID))
	}
	if q.Kind != "" {
		filters = append(filters, fmt.Sprintf("kind = %q", string(q.Kind)))
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxRoleItems,
			Query:                 q.Text,
			Limit:                 int64(q.limit()),
			Filter:                filters,
			AttributesToHighlight: []string{"text"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0)
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{Item: Item{
		ID:            decodeString(hit, "id"),
		TenantID:      decodeString(hit, "tenantId"),
		ManualID:      decodeString(hit, "manualId"),
		RoleSectionID: decodeString(hit, "roleSectionId"),
		Kind:          Kind(decodeString(hit, "kind")),
		Text:          decodeString(hit, "text"),
	}}
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "text"), r.Text)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// ReplaceSection drops every item of the section, then adds items.
func (m *Meili) ReplaceSection(ctx context.Context, sectionID string, items []Item) error {
	if err := m.DeleteSection(ctx, sectionID); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if _, err := m.client.Index(idxRoleItems).AddDocuments(items, nil); err != nil {
		return fmt.Errorf("add items: %w", err)
	}
	return nil
}

func (m *Meili) DeleteSection(_ context.Context, sectionID string) error {
	filter := fmt.Sprintf("roleSectionId = %q", sectionID)
	if _, err := m.client.Index(idxRoleItems).DeleteDocumentsByFilter(filter, nil); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	return nil
}
