package workbook

import (
	"strings"
	"time"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/generation"
)

type CreateInput struct {
	PersonID    string          `json:"personId"`
	PersonName  string          `json:"personName"`
	ManualID    string          `json:"manualId"`
	Goals       []GoalInput     `json:"parentGoals"`
	Activities  []ActivityInput `json:"dailyActivities"`
	GeneratedBy string          `json:"generatedBy,omitempty"`
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.PersonID) == "" {
		return domain.Validation("PERSON_REQUIRED", "personId is required", nil)
	}
	if strings.TrimSpace(in.ManualID) == "" {
		return domain.Validation("MANUAL_REQUIRED", "manualId is required", nil)
	}
	for _, goal := range in.Goals {
		if strings.TrimSpace(goal.Description) == "" {
			return domain.Validation("DESCRIPTION_REQUIRED", "goal description is required", nil)
		}
	}
	for _, activity := range in.Activities {
		if strings.TrimSpace(activity.Type) == "" {
			return domain.Validation("ACTIVITY_TYPE_REQUIRED", "activity type is required", nil)
		}
	}
	return nil
}

type GoalInput struct {
	ID                string `json:"id,omitempty"`
	Description       string `json:"description"`
	TargetFrequency   string `json:"targetFrequency"`
	RelatedTriggerID  string `json:"relatedTriggerId,omitempty"`
	RelatedStrategyID string `json:"relatedStrategyId,omitempty"`
}

type ActivityInput struct {
	ID          string     `json:"id,omitempty"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

type ReflectionInput struct {
	WhatWorkedWell         string   `json:"whatWorkedWell"`
	WhatWasChallenging     string   `json:"whatWasChallenging"`
	InsightsLearned        string   `json:"insightsLearned"`
	AdjustmentsForNextWeek string   `json:"adjustmentsForNextWeek"`
	AISuggestions          []string `json:"aiSuggestions,omitempty"`
}

// RegenerateOptions controls one regeneration. With a nil Context the
// collaborator only sees the person, the manual and last week's reflection.
// A zero Timeout uses the repository default.
type RegenerateOptions struct {
	Context *generation.ContextBundle
	Timeout time.Duration
}
