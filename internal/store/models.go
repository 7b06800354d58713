package store

import (
	"encoding/json"
	"time"
)

const (
	CollectionRoleSections = "role_sections"
	CollectionWorkbooks    = "weekly_workbooks"
)

type RoleType string

const (
	RoleParent       RoleType = "parent"
	RoleChild        RoleType = "child"
	RoleSpouse       RoleType = "spouse"
	RoleSibling      RoleType = "sibling"
	RoleFriend       RoleType = "friend"
	RoleProfessional RoleType = "professional"
	RoleCaregiver    RoleType = "caregiver"
	RolePetOwner     RoleType = "pet_owner"
	RoleOther        RoleType = "other"
)

func (r RoleType) Valid() bool {
	switch r {
	case RoleParent, RoleChild, RoleSpouse, RoleSibling, RoleFriend,
		RoleProfessional, RoleCaregiver, RolePetOwner, RoleOther:
		return true
	}
	return false
}

// RoleSection is one collaboratively edited sub-record of a person's manual.
type RoleSection struct {
	RoleSectionID string   `json:"roleSectionId"`
	FamilyID      string   `json:"familyId"`
	ManualID      string   `json:"manualId"`
	RoleType      RoleType `json:"roleType"`
	RoleTitle     string   `json:"roleTitle"`

	RoleDescription   string `json:"roleDescription,omitempty"`
	RoleOverview      string `json:"roleOverview,omitempty"`
	RelatedPersonID   string `json:"relatedPersonId,omitempty"`
	RelatedPersonName string `json:"relatedPersonName,omitempty"`

	Contributors     []string `json:"contributors"`
	ContributorNames []string `json:"contributorNames"`

	Triggers                  []RoleTrigger              `json:"triggers"`
	WhatWorks                 []RoleStrategy             `json:"whatWorks"`
	WhatDoesntWork            []RoleStrategy             `json:"whatDoesntWork"`
	Strengths                 []string                   `json:"strengths"`
	Challenges                []string                   `json:"challenges"`
	ImportantContext          []string                   `json:"importantContext"`
	Boundaries                []RoleBoundary             `json:"boundaries"`
	EmergingPatterns          []RolePattern              `json:"emergingPatterns"`
	ProgressNotes             []RoleProgressNote         `json:"progressNotes"`
	RoleOverviewContributions []RoleOverviewContribution `json:"roleOverviewContributions"`

	RelatedJournalEntries []string `json:"relatedJournalEntries"`
	RelatedKnowledgeIDs   []string `json:"relatedKnowledgeIds"`
	ActiveStrategicPlanID string   `json:"activeStrategicPlanId,omitempty"`

	Version      int64     `json:"version"`
	LastEditedBy string    `json:"lastEditedBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Normalize replaces every nil content list with an empty one so readers never
// have to distinguish absent from empty.
func (s *RoleSection) Normalize() {
	if s.Contributors == nil {
		s.Contributors = []string{}
	}
	if s.ContributorNames == nil {
		s.ContributorNames = []string{}
	}
	if s.Triggers == nil {
		s.Triggers = []RoleTrigger{}
	}
	for i := range s.Triggers {
		if s.Triggers[i].ConfirmedByOthers == nil {
			s.Triggers[i].ConfirmedByOthers = []string{}
		}
	}
	if s.WhatWorks == nil {
		s.WhatWorks = []RoleStrategy{}
	}
	if s.WhatDoesntWork == nil {
		s.WhatDoesntWork = []RoleStrategy{}
	}
	if s.Strengths == nil {
		s.Strengths = []string{}
	}
	if s.Challenges == nil {
		s.Challenges = []string{}
	}
	if s.ImportantContext == nil {
		s.ImportantContext = []string{}
	}
	if s.Boundaries == nil {
		s.Boundaries = []RoleBoundary{}
	}
	if s.EmergingPatterns == nil {
		s.EmergingPatterns = []RolePattern{}
	}
	if s.ProgressNotes == nil {
		s.ProgressNotes = []RoleProgressNote{}
	}
	if s.RoleOverviewContributions == nil {
		s.RoleOverviewContributions = []RoleOverviewContribution{}
	}
	if s.RelatedJournalEntries == nil {
		s.RelatedJournalEntries = []string{}
	}
	if s.RelatedKnowledgeIDs == nil {
		s.RelatedKnowledgeIDs = []string{}
	}
}

// IsContributor reports whether actorID may edit the section.
func (s RoleSection) IsContributor(actorID string) bool {
	for _, id := range s.Contributors {
		if id == actorID {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityMild        Severity = "mild"
	SeverityModerate    Severity = "moderate"
	SeveritySignificant Severity = "significant"
)

func (s Severity) Valid() bool {
	return s == SeverityMild || s == SeverityModerate || s == SeveritySignificant
}

type RoleTrigger struct {
	ID                   string    `json:"id"`
	Description          string    `json:"description"`
	Context              string    `json:"context"`
	TypicalResponse      string    `json:"typicalResponse"`
	DeescalationStrategy string    `json:"deescalationStrategy,omitempty"`
	Severity             Severity  `json:"severity"`
	IdentifiedDate       time.Time `json:"identifiedDate"`
	IdentifiedBy         string    `json:"identifiedBy"`
	ConfirmedByOthers    []string  `json:"confirmedByOthers"`
}

type SourceType string

const (
	SourceDiscovered    SourceType = "discovered"
	SourceRecommended   SourceType = "recommended"
	SourceProfessional  SourceType = "professional"
	SourceKnowledgeBase SourceType = "knowledge_base"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceDiscovered, SourceRecommended, SourceProfessional, SourceKnowledgeBase:
		return true
	}
	return false
}

type RoleStrategy struct {
	ID            string     `json:"id"`
	Description   string     `json:"description"`
	Context       string     `json:"context"`
	Effectiveness int        `json:"effectiveness,omitempty"`
	AddedDate     time.Time  `json:"addedDate"`
	AddedBy       string     `json:"addedBy"`
	SourceType    SourceType `json:"sourceType"`
	SourceID      string     `json:"sourceId,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

type BoundaryCategory string

const (
	BoundaryImmovable  BoundaryCategory = "immovable"
	BoundaryNegotiable BoundaryCategory = "negotiable"
	BoundaryPreference BoundaryCategory = "preference"
)

func (c BoundaryCategory) Valid() bool {
	return c == BoundaryImmovable || c == BoundaryNegotiable || c == BoundaryPreference
}

type RoleBoundary struct {
	ID           string           `json:"id"`
	Description  string           `json:"description"`
	Category     BoundaryCategory `json:"category"`
	Context      string           `json:"context,omitempty"`
	Consequences string           `json:"consequences,omitempty"`
	AddedDate    time.Time        `json:"addedDate"`
	AddedBy      string           `json:"addedBy"`
}

type RolePattern struct {
	ID             string    `json:"id"`
	Description    string    `json:"description"`
	Frequency      string    `json:"frequency"`
	FirstObserved  time.Time `json:"firstObserved"`
	LastObserved   time.Time `json:"lastObserved"`
	Confidence     string    `json:"confidence"`
	RelatedEntries []string  `json:"relatedEntries"`
	IdentifiedBy   string    `json:"identifiedBy"`
}

type NoteCategory string

const (
	NoteImprovement NoteCategory = "improvement"
	NoteChallenge   NoteCategory = "challenge"
	NoteInsight     NoteCategory = "insight"
	NoteMilestone   NoteCategory = "milestone"
	NoteConcern     NoteCategory = "concern"
)

func (c NoteCategory) Valid() bool {
	switch c {
	case NoteImprovement, NoteChallenge, NoteInsight, NoteMilestone, NoteConcern:
		return true
	}
	return false
}

type RoleProgressNote struct {
	ID        string       `json:"id"`
	Date      time.Time    `json:"date"`
	Note      string       `json:"note"`
	Category  NoteCategory `json:"category"`
	AddedBy   string       `json:"addedBy"`
	IsPrivate bool         `json:"isPrivate"`
}

type RoleOverviewContribution struct {
	ID                    string    `json:"id"`
	ContributorID         string    `json:"contributorId"`
	ContributorName       string    `json:"contributorName"`
	Perspective           string    `json:"perspective"`
	RelationshipToSubject string    `json:"relationshipToSubject"`
	ClosenessWeight       int       `json:"closenessWeight"`
	AddedAt               time.Time `json:"addedAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

type WorkbookStatus string

const (
	WorkbookActive    WorkbookStatus = "active"
	WorkbookCompleted WorkbookStatus = "completed"
)

// Workbook is bounded to one ISO week for one person.
type Workbook struct {
	WorkbookID  string         `json:"workbookId"`
	FamilyID    string         `json:"familyId"`
	ManualID    string         `json:"manualId"`
	PersonID    string         `json:"personId"`
	PersonName  string         `json:"personName,omitempty"`
	WeekNumber  int            `json:"weekNumber"`
	WeekYear    int            `json:"weekYear"`
	StartDate   time.Time      `json:"startDate"`
	EndDate     time.Time      `json:"endDate"`
	Status      WorkbookStatus `json:"status"`
	GeneratedBy string         `json:"generatedBy"`

	ParentGoals      []ParentBehaviorGoal `json:"parentGoals"`
	DailyActivities  []DailyActivity      `json:"dailyActivities"`
	WeeklyReflection *WeeklyReflection    `json:"weeklyReflection,omitempty"`

	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (w *Workbook) Normalize() {
	if w.ParentGoals == nil {
		w.ParentGoals = []ParentBehaviorGoal{}
	}
	for i := range w.ParentGoals {
		if w.ParentGoals[i].CompletionLog == nil {
			w.ParentGoals[i].CompletionLog = []GoalCompletion{}
		}
	}
	if w.DailyActivities == nil {
		w.DailyActivities = []DailyActivity{}
	}
}

type ParentBehaviorGoal struct {
	ID                string           `json:"id"`
	Description       string           `json:"description"`
	TargetFrequency   string           `json:"targetFrequency"`
	RelatedTriggerID  string           `json:"relatedTriggerId,omitempty"`
	RelatedStrategyID string           `json:"relatedStrategyId,omitempty"`
	CompletionLog     []GoalCompletion `json:"completionLog"`
	CreatedDate       time.Time        `json:"createdDate"`
}

type GoalCompletion struct {
	Date      time.Time `json:"date"`
	Completed bool      `json:"completed"`
	Notes     string    `json:"notes,omitempty"`
	AddedBy   string    `json:"addedBy"`
}

type DailyActivity struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Description   string          `json:"description,omitempty"`
	Date          time.Time       `json:"date"`
	Completed     bool            `json:"completed"`
	ChildResponse json.RawMessage `json:"childResponse,omitempty"`
	ParentNotes   string          `json:"parentNotes,omitempty"`
	RecordedBy    string          `json:"recordedBy,omitempty"`
}

type WeeklyReflection struct {
	WhatWorkedWell         string    `json:"whatWorkedWell"`
	WhatWasChallenging     string    `json:"whatWasChallenging"`
	InsightsLearned        string    `json:"insightsLearned"`
	AdjustmentsForNextWeek string    `json:"adjustmentsForNextWeek"`
	AISuggestions          []string  `json:"aiSuggestions,omitempty"`
	CompletedDate          time.Time `json:"completedDate"`
	CompletedBy            string    `json:"completedBy"`
}
