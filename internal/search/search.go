package search

import (
	"context"
	"strings"

	"github.com/scottring/ParentPulse-sub002/internal/store"
	"github.com/scottring/ParentPulse-sub002/internal/util"
)

// Kind identifies which role-section list an item came from.
type Kind string

const (
	KindTrigger   Kind = "trigger"
	KindStrategy  Kind = "strategy"
	KindBoundary  Kind = "boundary"
	KindStrength  Kind = "strength"
	KindChallenge Kind = "challenge"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTrigger, KindStrategy, KindBoundary, KindStrength, KindChallenge:
		return true
	}
	return false
}

// Item is one searchable entry of a role section.
type Item struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	ManualID      string `json:"manualId"`
	RoleSectionID string `json:"roleSectionId"`
	Kind          Kind   `json:"kind"`
	Text          string `json:"text"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	Item
	Snippet string `json:"snippet"`
}

// Query describes a search request. TenantID is always applied.
type Query struct {
	Text     string
	TenantID string
	ManualID string
	Kind     Kind // empty = all kinds
	Limit    int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
	Healthy() bool
}

// Indexer keeps an index in step with role-section writes.
type Indexer interface {
	ReplaceSection(ctx context.Context, sectionID string, items []Item) error
	DeleteSection(ctx context.Context, sectionID string) error
}

// ItemsFor flattens the searchable lists of a section.
func ItemsFor(section store.RoleSection) []Item {
	items := make([]Item, 0, len(section.Triggers)+len(section.WhatWorks)+len(section.WhatDoesntWork)+len(section.Boundaries))
	add := func(kind Kind, key, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		items = append(items, Item{
			ID:            itemID(section.RoleSectionID, kind, key),
			TenantID:      section.FamilyID,
			ManualID:      section.ManualID,
			RoleSectionID: section.RoleSectionID,
			Kind:          kind,
			Text:          text,
		})
	}
	for _, trigger := range section.Triggers {
		add(KindTrigger, trigger.ID, trigger.Description)
	}
	for _, strategy := range section.WhatWorks {
		add(KindStrategy, strategy.ID, strategy.Description)
	}
	for _, strategy := range section.WhatDoesntWork {
		add(KindStrategy, strategy.ID, strategy.Description)
	}
	for _, boundary := range section.Boundaries {
		add(KindBoundary, boundary.ID, boundary.Description)
	}
	for _, strength := range section.Strengths {
		add(KindStrength, strength, strength)
	}
	for _, challenge := range section.Challenges {
		add(KindChallenge, challenge, challenge)
	}
	return items
}

// itemID is stable for the same entry so reindexing overwrites rather than
// duplicates. Plain string lists have no ids, so their text is the key.
func itemID(sectionID string, kind Kind, key string) string {
	return util.DeterministicID("item", sectionID, string(kind), key)
}
