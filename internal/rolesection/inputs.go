package rolesection

import (
	"strings"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/store"
)

// Bucket names one of the two strategy lists.
type Bucket string

const (
	BucketWorks  Bucket = "works"
	BucketDoesnt Bucket = "doesnt"
)

func (b Bucket) Valid() bool {
	return b == BucketWorks || b == BucketDoesnt
}

type CreateInput struct {
	ManualID          string          `json:"manualId"`
	RoleType          store.RoleType  `json:"roleType"`
	RoleTitle         string          `json:"roleTitle"`
	RoleDescription   string          `json:"roleDescription,omitempty"`
	RoleOverview      string          `json:"roleOverview,omitempty"`
	RelatedPersonID   string          `json:"relatedPersonId,omitempty"`
	RelatedPersonName string          `json:"relatedPersonName,omitempty"`
	Contributors      []string        `json:"contributors,omitempty"`
	ContributorNames  []string        `json:"contributorNames,omitempty"`
	Strengths         []string        `json:"strengths,omitempty"`
	Challenges        []string        `json:"challenges,omitempty"`
	ImportantContext  []string        `json:"importantContext,omitempty"`
	Triggers          []TriggerInput  `json:"triggers,omitempty"`
	WhatWorks         []StrategyInput `json:"whatWorks,omitempty"`
	WhatDoesntWork    []StrategyInput `json:"whatDoesntWork,omitempty"`
	Boundaries        []BoundaryInput `json:"boundaries,omitempty"`
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.ManualID) == "" {
		return domain.Validation("MANUAL_REQUIRED", "manualId is required", nil)
	}
	if !in.RoleType.Valid() {
		return domain.Validation("INVALID_ROLE_TYPE", "roleType is not recognised", map[string]any{"roleType": in.RoleType})
	}
	if strings.TrimSpace(in.RoleTitle) == "" {
		return domain.Validation("ROLE_TITLE_REQUIRED", "roleTitle is required", nil)
	}
	for _, trigger := range in.Triggers {
		if err := trigger.validate(); err != nil {
			return err
		}
	}
	for _, strategy := range append(append([]StrategyInput{}, in.WhatWorks...), in.WhatDoesntWork...) {
		if err := strategy.validate(); err != nil {
			return err
		}
	}
	for _, boundary := range in.Boundaries {
		if err := boundary.validate(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDetails changes descriptive fields. Nil fields are left untouched.
type UpdateDetails struct {
	RoleTitle         *string              `json:"roleTitle,omitempty"`
	RoleDescription   *string              `json:"roleDescription,omitempty"`
	RoleOverview      *string              `json:"roleOverview,omitempty"`
	RelatedPersonID   *string              `json:"relatedPersonId,omitempty"`
	RelatedPersonName *string              `json:"relatedPersonName,omitempty"`
	Strengths         *[]string            `json:"strengths,omitempty"`
	Challenges        *[]string            `json:"challenges,omitempty"`
	ImportantContext  *[]string            `json:"importantContext,omitempty"`
	EmergingPatterns  *[]store.RolePattern `json:"emergingPatterns,omitempty"`

	RelatedJournalEntries *[]string `json:"relatedJournalEntries,omitempty"`
	RelatedKnowledgeIDs   *[]string `json:"relatedKnowledgeIds,omitempty"`
}

func (u UpdateDetails) empty() bool {
	return u.RoleTitle == nil && u.RoleDescription == nil && u.RoleOverview == nil &&
		u.RelatedPersonID == nil && u.RelatedPersonName == nil &&
		u.Strengths == nil && u.Challenges == nil && u.ImportantContext == nil &&
		u.EmergingPatterns == nil && u.RelatedJournalEntries == nil && u.RelatedKnowledgeIDs == nil
}

func (u UpdateDetails) validate() error {
	if u.empty() {
		return domain.Validation("NO_CHANGES", "at least one field must be supplied", nil)
	}
	if u.RoleTitle != nil && strings.TrimSpace(*u.RoleTitle) == "" {
		return domain.Validation("ROLE_TITLE_REQUIRED", "roleTitle cannot be blank", nil)
	}
	return nil
}

// ContributorInput names a family member who may edit the section.
type ContributorInput struct {
	ContributorID string `json:"contributorId"`
	Name          string `json:"name,omitempty"`
}

func (in ContributorInput) validate() error {
	if strings.TrimSpace(in.ContributorID) == "" {
		return domain.Validation("CONTRIBUTOR_REQUIRED", "contributorId is required", nil)
	}
	return nil
}

type TriggerInput struct {
	Description          string         `json:"description"`
	Context              string         `json:"context"`
	TypicalResponse      string         `json:"typicalResponse"`
	DeescalationStrategy string         `json:"deescalationStrategy,omitempty"`
	Severity             store.Severity `json:"severity"`
}

func (in TriggerInput) validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return domain.Validation("DESCRIPTION_REQUIRED", "trigger description is required", nil)
	}
	if !in.Severity.Valid() {
		return domain.Validation("INVALID_SEVERITY", "severity must be mild, moderate or significant", map[string]any{"severity": in.Severity})
	}
	return nil
}

type StrategyInput struct {
	Description   string           `json:"description"`
	Context       string           `json:"context"`
	Effectiveness int              `json:"effectiveness,omitempty"`
	SourceType    store.SourceType `json:"sourceType,omitempty"`
	SourceID      string           `json:"sourceId,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

func (in StrategyInput) validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return domain.Validation("DESCRIPTION_REQUIRED", "strategy description is required", nil)
	}
	if in.Effectiveness != 0 {
		if err := validateRating(in.Effectiveness); err != nil {
			return err
		}
	}
	if in.SourceType != "" && !in.SourceType.Valid() {
		return domain.Validation("INVALID_SOURCE_TYPE", "sourceType is not recognised", map[string]any{"sourceType": in.SourceType})
	}
	return nil
}

func validateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return domain.Validation("RATING_OUT_OF_RANGE", "effectiveness must be between 1 and 5", map[string]any{"effectiveness": rating})
	}
	return nil
}

type BoundaryInput struct {
	Description  string                 `json:"description"`
	Category     store.BoundaryCategory `json:"category"`
	Context      string                 `json:"context,omitempty"`
	Consequences string                 `json:"consequences,omitempty"`
}

func (in BoundaryInput) validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return domain.Validation("DESCRIPTION_REQUIRED", "boundary description is required", nil)
	}
	if !in.Category.Valid() {
		return domain.Validation("INVALID_CATEGORY", "category must be immovable, negotiable or preference", map[string]any{"category": in.Category})
	}
	return nil
}

type NoteInput struct {
	Note      string             `json:"note"`
	Category  store.NoteCategory `json:"category"`
	IsPrivate bool               `json:"isPrivate"`
}

func (in NoteInput) validate() error {
	if strings.TrimSpace(in.Note) == "" {
		return domain.Validation("NOTE_REQUIRED", "note is required", nil)
	}
	if !in.Category.Valid() {
		return domain.Validation("INVALID_CATEGORY", "category is not recognised", map[string]any{"category": in.Category})
	}
	return nil
}

type ContributionInput struct {
	// ContributorID defaults to the acting contributor.
	ContributorID         string `json:"contributorId,omitempty"`
	Perspective           string `json:"perspective"`
	RelationshipToSubject string `json:"relationshipToSubject"`
	ClosenessWeight       int    `json:"closenessWeight"`
}

func (in ContributionInput) validate() error {
	if strings.TrimSpace(in.Perspective) == "" {
		return domain.Validation("PERSPECTIVE_REQUIRED", "perspective is required", nil)
	}
	return validateCloseness(in.ClosenessWeight)
}

func validateCloseness(weight int) error {
	if weight < 1 || weight > 5 {
		return domain.Validation("CLOSENESS_OUT_OF_RANGE", "closenessWeight must be between 1 and 5", map[string]any{"closenessWeight": weight})
	}
	return nil
}

// ContributionUpdate changes an existing narrative. Nil fields are untouched.
type ContributionUpdate struct {
	Perspective           *string `json:"perspective,omitempty"`
	RelationshipToSubject *string `json:"relationshipToSubject,omitempty"`
	ClosenessWeight       *int    `json:"closenessWeight,omitempty"`
}

func (u ContributionUpdate) validate() error {
	if u.Perspective == nil && u.RelationshipToSubject == nil && u.ClosenessWeight == nil {
		return domain.Validation("NO_CHANGES", "at least one field must be supplied", nil)
	}
	if u.Perspective != nil && strings.TrimSpace(*u.Perspective) == "" {
		return domain.Validation("PERSPECTIVE_REQUIRED", "perspective cannot be blank", nil)
	}
	if u.ClosenessWeight != nil {
		return validateCloseness(*u.ClosenessWeight)
	}
	return nil
}
