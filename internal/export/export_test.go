package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/scottring/ParentPulse-sub002/internal/store"
)

func printableSection() store.RoleSection {
	return store.RoleSection{
		RoleSectionID:    "rs-1",
		RoleType:         store.RoleParent,
		RoleTitle:        "Mom to Emma",
		RoleDescription:  "Primary caregiver on weekdays",
		ContributorNames: []string{"Avery", "Sam"},
		Triggers: []store.RoleTrigger{
			{Severity: store.SeverityModerate, Description: "Loud noises at bedtime", TypicalResponse: "Covers ears and hides"},
			{Severity: store.SeverityMild, Description: "Rushed mornings", DeescalationStrategy: "Give a five minute warning"},
		},
		WhatWorks: []store.RoleStrategy{
			{Description: "Calm voice and a countdown", Effectiveness: 4},
			{Description: "Choice between two options"},
		},
		WhatDoesntWork: []store.RoleStrategy{{Description: "Raising my voice"}},
		Boundaries:     []store.RoleBoundary{{Category: store.BoundaryImmovable, Description: "No screens after eight"}},
		Strengths:      []string{"Funny", "Curious"},
		RoleOverviewContributions: []store.RoleOverviewContribution{
			{Perspective: "She lights up around animals", ContributorName: "Sam", RelationshipToSubject: "parent"},
		},
		Version:   3,
		UpdatedAt: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderRoleSectionHTMLGolden(t *testing.T) {
	html, err := RenderRoleSectionHTML(TemplateData{
		Section:     printableSection(),
		GeneratedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "role_section", []byte(html))
}

func TestRenderRoleSectionHTMLEscapesContent(t *testing.T) {
	section := printableSection()
	section.Triggers[0].Description = `<script>alert("x")</script>`
	html, err := RenderRoleSectionHTML(TemplateData{Section: section})
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestRenderRoleSectionHTMLEmptyLists(t *testing.T) {
	html, err := RenderRoleSectionHTML(TemplateData{Section: store.RoleSection{RoleTitle: "Dad", RoleType: store.RoleParent}})
	require.NoError(t, err)
	assert.Contains(t, html, "<h2>Triggers</h2>\n  <ul>\n  </ul>")
	assert.NotContains(t, html, "Strengths")
	assert.NotContains(t, html, "Perspectives")
}

func TestRoleSectionPDFRequiresChrome(t *testing.T) {
	svc := NewService()
	svc.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	_, err := svc.RoleSectionPDF(context.Background(), printableSection())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPDFDependencyMissing))
}

func TestWorkbookSheet(t *testing.T) {
	day := time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)
	wb := store.Workbook{
		PersonName: "Emma",
		WeekYear:   2026,
		WeekNumber: 42,
		ParentGoals: []store.ParentBehaviorGoal{
			{
				Description:     "Pause before answering",
				TargetFrequency: "daily",
				CompletionLog: []store.GoalCompletion{
					{Date: day, Completed: true, Notes: "Went well", AddedBy: "Avery"},
					{Date: day.AddDate(0, 0, 1), Completed: false, AddedBy: "Sam"},
				},
			},
			{Description: "Read together", TargetFrequency: "3x"},
		},
		DailyActivities: []store.DailyActivity{
			{Type: "emotion-checkin", Date: day, Completed: true, ChildResponse: json.RawMessage(`{ "emotion": "happy" }`)},
			{Type: "calm-down-toolbox", Description: "Pick a tool", Date: day.AddDate(0, 0, 2)},
		},
	}

	result, err := NewService().WorkbookSheet(wb)
	require.NoError(t, err)
	assert.Equal(t, "Emma-2026-W42.xlsx", result.Filename)
	assert.Equal(t, MimeXLSX, result.MimeType)

	f, err := excelize.OpenReader(bytes.NewReader(result.Data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{goalsSheet, activitiesSheet}, f.GetSheetList())

	goals, err := f.GetRows(goalsSheet)
	require.NoError(t, err)
	require.Len(t, goals, 4)
	assert.Equal(t, goalHeaders, goals[0])
	assert.Equal(t, []string{"Pause before answering", "daily", "Tue 2026-10-13", "Yes", "Went well", "Avery"}, goals[1])
	assert.Equal(t, "No", goals[2][3])
	assert.Equal(t, []string{"Read together", "3x"}, goals[3])

	activities, err := f.GetRows(activitiesSheet)
	require.NoError(t, err)
	require.Len(t, activities, 3)
	assert.Equal(t, `{"emotion":"happy"}`, activities[1][5])
	assert.Equal(t, "Pick a tool", activities[2][2])
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "Mom-to-Emma", sanitizeFilename("Mom to Emma!"))
	assert.Equal(t, "export", sanitizeFilename("???"))
	assert.Len(t, sanitizeFilename(strings.Repeat("a", 80)), 50)
}
