// Package generation talks to the collaborator that proposes weekly
// activities for a workbook.
package generation

import (
	"context"

	"github.com/scottring/ParentPulse-sub002/internal/store"
)

// Generator proposes activities for one person's week. Implementations return
// domain errors: Transient when the collaborator was unreachable or too slow,
// GenerationFailed when it answered but the answer is unusable.
type Generator interface {
	Generate(ctx context.Context, bundle ContextBundle) ([]ActivityProposal, error)
}

// ContextBundle is what the collaborator knows about the person. It is derived
// from role sections and never written back.
type ContextBundle struct {
	PersonID               string                  `json:"personId"`
	PersonName             string                  `json:"personName"`
	ManualID               string                  `json:"manualId"`
	RelationshipType       store.RoleType          `json:"relationshipType"`
	Triggers               []TriggerSummary        `json:"triggers"`
	WhatWorks              []StrategySummary       `json:"whatWorks"`
	WhatDoesntWork         []StrategySummary       `json:"whatDoesntWork"`
	Boundaries             []BoundarySummary       `json:"boundaries"`
	Assessments            []LayerScore            `json:"assessments"`
	PreviousWeekReflection *store.WeeklyReflection `json:"previousWeekReflection,omitempty"`
	ActivityCount          int                     `json:"activityCount,omitempty"`
}

type TriggerSummary struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Severity    store.Severity `json:"severity"`
}

type StrategySummary struct {
	ID            string `json:"id"`
	Description   string `json:"description"`
	Effectiveness int    `json:"effectiveness,omitempty"`
}

// LayerScore is one layer of the weekly self-assessment: layers run 1 to 6
// and scores 1 to 10.
type LayerScore struct {
	LayerID int    `json:"layerId"`
	Score   int    `json:"score"`
	Notes   string `json:"notes,omitempty"`
}

// Valid reports whether the layer and score are in range.
func (l LayerScore) Valid() bool {
	return l.LayerID >= 1 && l.LayerID <= 6 && l.Score >= 1 && l.Score <= 10
}

type BoundarySummary struct {
	Description string                 `json:"description"`
	Category    store.BoundaryCategory `json:"category"`
}

// ActivityProposal is one suggested activity. SuggestedDay counts from Monday
// (0) to Sunday (6).
type ActivityProposal struct {
	Type         string `json:"type"`
	Description  string `json:"description,omitempty"`
	SuggestedDay *int   `json:"suggestedDay,omitempty"`
}
