package workbook

import (
	"sort"

	"github.com/scottring/ParentPulse-sub002/internal/generation"
	"github.com/scottring/ParentPulse-sub002/internal/store"
)

// Person names who the workbook is for, with their latest layer scores.
type Person struct {
	ID          string
	Name        string
	Assessments []generation.LayerScore
}

// BuildGenerationContext summarises the sections that describe person into the
// bundle the generation collaborator expects. Sections about other people are
// ignored. The first matching section decides the manual and relationship.
// Out-of-range scores are dropped; for a repeated layer the last score wins.
func BuildGenerationContext(sections []store.RoleSection, person Person, previous *store.WeeklyReflection) generation.ContextBundle {
	bundle := generation.ContextBundle{
		PersonID:               person.ID,
		PersonName:             person.Name,
		Triggers:               []generation.TriggerSummary{},
		WhatWorks:              []generation.StrategySummary{},
		WhatDoesntWork:         []generation.StrategySummary{},
		Boundaries:             []generation.BoundarySummary{},
		Assessments:            layerScores(person.Assessments),
		PreviousWeekReflection: previous,
	}
	for _, section := range sections {
		if section.RelatedPersonID != "" && section.RelatedPersonID != person.ID {
			continue
		}
		if bundle.ManualID == "" {
			bundle.ManualID = section.ManualID
			bundle.RelationshipType = section.RoleType
		}
		if bundle.PersonName == "" {
			bundle.PersonName = section.RelatedPersonName
		}
		for _, trigger := range section.Triggers {
			bundle.Triggers = append(bundle.Triggers, generation.TriggerSummary{
				ID:          trigger.ID,
				Description: trigger.Description,
				Severity:    trigger.Severity,
			})
		}
		bundle.WhatWorks = appendStrategies(bundle.WhatWorks, section.WhatWorks)
		bundle.WhatDoesntWork = appendStrategies(bundle.WhatDoesntWork, section.WhatDoesntWork)
		for _, boundary := range section.Boundaries {
			bundle.Boundaries = append(bundle.Boundaries, generation.BoundarySummary{
				Description: boundary.Description,
				Category:    boundary.Category,
			})
		}
	}
	return bundle
}

func appendStrategies(dst []generation.StrategySummary, strategies []store.RoleStrategy) []generation.StrategySummary {
	for _, strategy := range strategies {
		dst = append(dst, generation.StrategySummary{
			ID:            strategy.ID,
			Description:   strategy.Description,
			Effectiveness: strategy.Effectiveness,
		})
	}
	return dst
}

func layerScores(scores []generation.LayerScore) []generation.LayerScore {
	byLayer := make(map[int]generation.LayerScore, len(scores))
	for _, score := range scores {
		if score.Valid() {
			byLayer[score.LayerID] = score
		}
	}
	out := make([]generation.LayerScore, 0, len(byLayer))
	for _, score := range byLayer {
		out = append(out, score)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LayerID < out[j].LayerID })
	return out
}
