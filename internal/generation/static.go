package generation

import (
	"context"
	"fmt"
	"sort"
)

var (
	calmingTypes  = []string{"calm-down-toolbox", "transition-timer", "feeling-thermometer", "body-signals"}
	buildingTypes = []string{"strength-reflection", "daily-win", "courage-moment", "gratitude"}
)

// StaticGenerator derives proposals from the bundle without any remote call.
// The same bundle always yields the same proposals.
type StaticGenerator struct {
	// Count is used when the bundle does not ask for a number. Defaults to 3.
	Count int
}

func (g StaticGenerator) Generate(ctx context.Context, bundle ContextBundle) ([]ActivityProposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	count := bundle.ActivityCount
	if count <= 0 {
		count = g.Count
	}
	if count <= 0 {
		count = 3
	}

	strategies := append([]StrategySummary(nil), bundle.WhatWorks...)
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Effectiveness > strategies[j].Effectiveness
	})

	proposals := make([]ActivityProposal, 0, count)
	for i := 0; i < count; i++ {
		day := (i * 2) % 7
		proposal := ActivityProposal{Type: "emotion-checkin", SuggestedDay: &day}
		switch {
		case i < len(bundle.Triggers):
			trigger := bundle.Triggers[i]
			proposal.Type = calmingTypes[i%len(calmingTypes)]
			proposal.Description = fmt.Sprintf("Practise staying calm around: %s", trigger.Description)
		case i-len(bundle.Triggers) < len(strategies):
			strategy := strategies[i-len(bundle.Triggers)]
			proposal.Type = buildingTypes[i%len(buildingTypes)]
			proposal.Description = fmt.Sprintf("Build on what works: %s", strategy.Description)
		default:
			proposal.Description = fmt.Sprintf("Check in with %s about the week", nameOr(bundle.PersonName, "them"))
		}
		proposals = append(proposals, proposal)
	}
	return proposals, nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
