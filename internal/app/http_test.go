package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottring/ParentPulse-sub002/internal/archive"
	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/export"
	"github.com/scottring/ParentPulse-sub002/internal/generation"
	"github.com/scottring/ParentPulse-sub002/internal/gitrepo"
	"github.com/scottring/ParentPulse-sub002/internal/identity"
	"github.com/scottring/ParentPulse-sub002/internal/rolesection"
	"github.com/scottring/ParentPulse-sub002/internal/search"
	"github.com/scottring/ParentPulse-sub002/internal/store"
	"github.com/scottring/ParentPulse-sub002/internal/workbook"
)

var (
	testSecret = []byte("test-secret")
	alice      = domain.ActorContext{ActorID: "u_alice", ActorName: "Alice", TenantID: "fam_1"}
	bob        = domain.ActorContext{ActorID: "u_bob", ActorName: "Bob", TenantID: "fam_1"}
	eve        = domain.ActorContext{ActorID: "u_eve", ActorName: "Eve", TenantID: "fam_2"}
	testNow    = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
)

// pingStore lets a test fail the readiness check.
type pingStore struct {
	store.DocumentStore
	pingErr error
}

func (p *pingStore) Ping(ctx context.Context) error {
	if p.pingErr != nil {
		return p.pingErr
	}
	return p.DocumentStore.Ping(ctx)
}

type capturingGenerator struct {
	bundles []generation.ContextBundle
}

func (g *capturingGenerator) Generate(ctx context.Context, bundle generation.ContextBundle) ([]generation.ActivityProposal, error) {
	g.bundles = append(g.bundles, bundle)
	return generation.StaticGenerator{}.Generate(ctx, bundle)
}

type harness struct {
	service   *Service
	server    *HTTPServer
	docs      *pingStore
	archive   *archive.Memory
	generator *capturingGenerator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		docs:      &pingStore{DocumentStore: store.NewMemoryStore()},
		archive:   archive.NewMemory(),
		generator: &capturingGenerator{},
	}
	h.service = New(Deps{
		Docs:      h.docs,
		Generator: h.generator,
		Search:    search.NewService(nil, search.NewMemoryIndex(), nil),
		History:   gitrepo.New(t.TempDir()),
		Archive:   h.archive,
		Exporter:  export.NewService(),
		Secret:    testSecret,
		SectionOptions: []rolesection.Option{
			rolesection.WithClock(func() time.Time { return testNow }),
		},
		WorkbookOptions: []workbook.Option{
			workbook.WithClock(workbook.ClockFunc(func() time.Time { return testNow })),
		},
	})
	h.server = NewHTTPServer(h.service, "*", nil)
	return h
}

func token(t *testing.T, actor domain.ActorContext) string {
	t.Helper()
	signed, err := identity.Issue(testSecret, actor, time.Hour)
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, actor domain.ActorContext, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Authorization", "Bearer "+token(t, actor))
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]any](t, rr)["code"].(string)
}

func (h *harness) createSection(t *testing.T) store.RoleSection {
	t.Helper()
	rr := h.do(t, alice, http.MethodPost, "/api/manuals/man_1/role-sections", map[string]any{
		"roleType":          "parent",
		"roleTitle":         "Mom to Sam",
		"relatedPersonId":   "p_sam",
		"relatedPersonName": "Sam",
		"contributors":      []string{"u_bob"},
		"contributorNames":  []string{"Bob"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[store.RoleSection](t, rr)
}

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t)

	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	h.docs.pingErr = errors.New("connection refused")
	rr = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "not_ready", body["status"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "req-123", rr.Header().Get("X-Request-ID"))
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t)

	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/workbooks/active", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rr))

	req := httptest.NewRequest(http.MethodGet, "/api/workbooks/active", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "TOKEN_INVALID", errorCode(t, rr))

	expired, err := identity.Issue(testSecret, alice, -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/workbooks/active", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rr = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "TOKEN_EXPIRED", errorCode(t, rr))
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	h := newHarness(t)
	section := h.createSection(t)

	assert.Equal(t, http.StatusNotFound, h.do(t, alice, http.MethodGet, "/api/nothing", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, alice, http.MethodGet, "/api/role-sections/"+section.RoleSectionID+"/nothing", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(t, alice, http.MethodPut, "/api/role-sections/"+section.RoleSectionID, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(t, alice, http.MethodGet, "/api/role-sections/"+section.RoleSectionID+"/triggers", nil).Code)

	rr := h.do(t, alice, http.MethodPatch, "/api/role-sections/"+section.RoleSectionID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "NO_CHANGES", errorCode(t, rr))

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/role-sections/"+section.RoleSectionID, strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+token(t, alice))
	h.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_BODY", errorCode(t, rr))
}

func TestRoleSectionLifecycle(t *testing.T) {
	h := newHarness(t)
	section := h.createSection(t)
	id := section.RoleSectionID
	assert.Equal(t, int64(1), section.Version)
	assert.Equal(t, []string{"u_alice", "u_bob"}, section.Contributors)

	rr := h.do(t, alice, http.MethodPost, "/api/role-sections/"+id+"/triggers", map[string]any{
		"description":     "Loud noises at bedtime",
		"context":         "Evenings",
		"typicalResponse": "Covers ears",
		"severity":        "moderate",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	section = decode[store.RoleSection](t, rr)
	require.Len(t, section.Triggers, 1)
	triggerID := section.Triggers[0].ID

	rr = h.do(t, bob, http.MethodPost, "/api/role-sections/"+id+"/triggers/"+triggerID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	section = decode[store.RoleSection](t, rr)
	assert.Equal(t, []string{"u_bob"}, section.Triggers[0].ConfirmedByOthers)
	assert.Equal(t, int64(3), section.Version)

	rr = h.do(t, alice, http.MethodPost, "/api/role-sections/"+id+"/triggers/"+triggerID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(3), decode[store.RoleSection](t, rr).Version)

	rr = h.do(t, alice, http.MethodPost, "/api/role-sections/"+id+"/triggers", map[string]any{
		"description": "Rushed mornings",
		"severity":    "extreme",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "INVALID_SEVERITY", errorCode(t, rr))

	rr = h.do(t, alice, http.MethodPatch, "/api/role-sections/"+id, map[string]any{"strengths": []string{"Funny"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"Funny"}, decode[store.RoleSection](t, rr).Strengths)

	rr = h.do(t, eve, http.MethodGet, "/api/role-sections/"+id, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(t, bob, http.MethodGet, "/api/role-sections/"+id+"/permissions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"canEdit": true, "canView": true}, decode[map[string]any](t, rr))

	rr = h.do(t, alice, http.MethodGet, "/api/manuals/man_1/role-sections?roleType=parent", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[map[string][]store.RoleSection](t, rr)["roleSections"], 1)

	rr = h.do(t, alice, http.MethodGet, "/api/manuals/man_1/role-sections?roleType=child", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[map[string][]store.RoleSection](t, rr)["roleSections"])

	rr = h.do(t, alice, http.MethodDelete, "/api/role-sections/"+id+"/triggers/"+triggerID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[store.RoleSection](t, rr).Triggers)

	rr = h.do(t, alice, http.MethodDelete, "/api/role-sections/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = h.do(t, alice, http.MethodGet, "/api/role-sections/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = h.do(t, alice, http.MethodDelete, "/api/role-sections/"+id, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestContributorsEndpoints(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, alice, http.MethodPost, "/api/manuals/man_1/role-sections", map[string]any{
		"roleType":  "child",
		"roleTitle": "Sam as a child",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := decode[store.RoleSection](t, rr).RoleSectionID
	base := "/api/role-sections/" + id

	rr = h.do(t, alice, http.MethodPost, base+"/triggers", map[string]any{"description": "Loud noises", "severity": "mild"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	section := decode[store.RoleSection](t, rr)
	assert.Equal(t, int64(2), section.Version)
	triggerID := section.Triggers[0].ID

	rr = h.do(t, bob, http.MethodPost, base+"/triggers/"+triggerID+"/confirm", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(t, alice, http.MethodPost, base+"/contributors", map[string]any{"contributorId": "u_bob", "name": "Bob"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	section = decode[store.RoleSection](t, rr)
	assert.Equal(t, int64(3), section.Version)
	assert.Equal(t, []string{"u_alice", "u_bob"}, section.Contributors)
	assert.Equal(t, []string{"Alice", "Bob"}, section.ContributorNames)

	rr = h.do(t, bob, http.MethodPost, base+"/triggers/"+triggerID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	section = decode[store.RoleSection](t, rr)
	assert.Equal(t, int64(4), section.Version)
	assert.Equal(t, []string{"u_bob"}, section.Triggers[0].ConfirmedByOthers)

	rr = h.do(t, bob, http.MethodDelete, base+"/contributors/u_alice", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"u_bob"}, decode[store.RoleSection](t, rr).Contributors)

	rr = h.do(t, bob, http.MethodDelete, base+"/contributors/u_bob", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "LAST_CONTRIBUTOR", errorCode(t, rr))

	rr = h.do(t, bob, http.MethodPut, base+"/contributors", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestStrategiesBoundariesAndContributions(t *testing.T) {
	h := newHarness(t)
	id := h.createSection(t).RoleSectionID
	base := "/api/role-sections/" + id

	rr := h.do(t, alice, http.MethodPost, base+"/strategies", map[string]any{
		"description":   "Countdown from five",
		"effectiveness": 3,
		"sourceType":    "discovered",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	section := decode[store.RoleSection](t, rr)
	require.Len(t, section.WhatWorks, 1)
	strategyID := section.WhatWorks[0].ID

	rr = h.do(t, alice, http.MethodPut, base+"/strategies/"+strategyID+"/effectiveness", map[string]any{"rating": 5})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, decode[store.RoleSection](t, rr).WhatWorks[0].Effectiveness)

	rr = h.do(t, alice, http.MethodPut, base+"/strategies/"+strategyID+"/effectiveness", map[string]any{"rating": 9})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = h.do(t, alice, http.MethodPost, base+"/strategies/"+strategyID+"/move", map[string]any{"from": "works", "to": "doesnt"})
	require.Equal(t, http.StatusOK, rr.Code)
	section = decode[store.RoleSection](t, rr)
	assert.Empty(t, section.WhatWorks)
	require.Len(t, section.WhatDoesntWork, 1)

	rr = h.do(t, alice, http.MethodPut, base+"/strategies/"+strategyID+"/effectiveness", map[string]any{"rating": 2})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(t, alice, http.MethodDelete, base+"/strategies/"+strategyID+"?bucket=doesnt", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[store.RoleSection](t, rr).WhatDoesntWork)

	rr = h.do(t, alice, http.MethodPost, base+"/boundaries", map[string]any{"description": "No screens after eight", "category": "immovable"})
	require.Equal(t, http.StatusOK, rr.Code)
	boundaryID := decode[store.RoleSection](t, rr).Boundaries[0].ID
	rr = h.do(t, alice, http.MethodDelete, base+"/boundaries/"+boundaryID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[store.RoleSection](t, rr).Boundaries)

	rr = h.do(t, alice, http.MethodPost, base+"/progress-notes", map[string]any{"note": "Calmer week", "category": "improvement", "isPrivate": true})
	require.Equal(t, http.StatusOK, rr.Code)
	notes := decode[store.RoleSection](t, rr).ProgressNotes
	require.Len(t, notes, 1)
	assert.True(t, notes[0].IsPrivate)

	rr = h.do(t, bob, http.MethodPost, base+"/overview-contributions", map[string]any{"perspective": "Loves animals", "relationshipToSubject": "parent", "closenessWeight": 4})
	require.Equal(t, http.StatusOK, rr.Code)
	contributions := decode[store.RoleSection](t, rr).RoleOverviewContributions
	require.Len(t, contributions, 1)
	contributionID := contributions[0].ID

	rr = h.do(t, bob, http.MethodPut, base+"/overview-contributions/"+contributionID, map[string]any{"perspective": "Loves horses"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Loves horses", decode[store.RoleSection](t, rr).RoleOverviewContributions[0].Perspective)

	rr = h.do(t, bob, http.MethodDelete, base+"/overview-contributions/"+contributionID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[store.RoleSection](t, rr).RoleOverviewContributions)
}

func TestSectionHistoryEndpoints(t *testing.T) {
	h := newHarness(t)
	id := h.createSection(t).RoleSectionID
	rr := h.do(t, alice, http.MethodPost, "/api/role-sections/"+id+"/triggers", map[string]any{"description": "Loud noises", "severity": "mild"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(t, alice, http.MethodGet, "/api/role-sections/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	commits := decode[map[string][]gitrepo.CommitInfo](t, rr)["commits"]
	require.Len(t, commits, 2)
	assert.Equal(t, "Alice", commits[0].Author)
	first := commits[1]

	rr = h.do(t, alice, http.MethodGet, "/api/role-sections/"+id+"/history/"+first.ShortHash, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snapshot := decode[SectionSnapshot](t, rr)
	assert.Equal(t, int64(1), snapshot.Section.Version)
	assert.Equal(t, first.Hash, snapshot.Commit.Hash)
	assert.Contains(t, snapshot.ChangedFields, "triggers")

	rr = h.do(t, alice, http.MethodGet, "/api/role-sections/"+id+"/history/"+strings.Repeat("f", 40), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(t, alice, http.MethodGet, "/api/role-sections/"+id+"/history?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(t, eve, http.MethodGet, "/api/role-sections/"+id+"/history", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSearchFollowsWrites(t *testing.T) {
	h := newHarness(t)
	id := h.createSection(t).RoleSectionID
	rr := h.do(t, alice, http.MethodPost, "/api/role-sections/"+id+"/triggers", map[string]any{"description": "Loud noises at bedtime", "severity": "mild"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(t, alice, http.MethodGet, "/api/search?q=noises", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	response := decode[search.Response](t, rr)
	require.Len(t, response.Results, 1)
	assert.Equal(t, search.KindTrigger, response.Results[0].Kind)
	assert.Equal(t, id, response.Results[0].RoleSectionID)

	rr = h.do(t, eve, http.MethodGet, "/api/search?q=noises", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[search.Response](t, rr).Results)

	rr = h.do(t, alice, http.MethodGet, "/api/search?q=noises&kind=bogus", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = h.do(t, alice, http.MethodDelete, "/api/role-sections/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = h.do(t, alice, http.MethodGet, "/api/search?q=noises", nil)
	assert.Empty(t, decode[search.Response](t, rr).Results)
}

func TestWorkbookLifecycle(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, alice, http.MethodPost, "/api/people/p_sam/workbooks", map[string]any{
		"personName":      "Sam",
		"manualId":        "man_1",
		"parentGoals":     []map[string]any{{"description": "Pause before answering", "targetFrequency": "daily"}},
		"dailyActivities": []map[string]any{{"type": "emotion-checkin"}, {"type": "daily-win"}},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	wb := decode[store.Workbook](t, rr)
	assert.Equal(t, "p_sam", wb.PersonID)
	assert.Equal(t, 42, wb.WeekNumber)
	base := "/api/workbooks/" + wb.WorkbookID

	rr = h.do(t, alice, http.MethodPost, "/api/people/p_sam/workbooks", map[string]any{"manualId": "man_1"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = h.do(t, bob, http.MethodGet, "/api/people/p_sam/workbooks/active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, wb.WorkbookID, decode[map[string]store.Workbook](t, rr)["workbook"].WorkbookID)

	rr = h.do(t, alice, http.MethodGet, "/api/people/p_other/workbooks/active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"workbook":null}`, rr.Body.String())

	goalID := wb.ParentGoals[0].ID
	for _, completed := range []bool{true, false} {
		rr = h.do(t, bob, http.MethodPost, base+"/goals/"+goalID+"/completions", map[string]any{"completed": completed, "notes": "tried"})
		require.Equal(t, http.StatusOK, rr.Code)
	}
	log := decode[store.Workbook](t, rr).ParentGoals[0].CompletionLog
	require.Len(t, log, 2)
	assert.True(t, log[0].Completed)
	assert.False(t, log[1].Completed)

	activityID := wb.DailyActivities[0].ID
	rr = h.do(t, alice, http.MethodPost, base+"/activities/"+activityID+"/complete", map[string]any{
		"childResponse": map[string]any{"emotion": "happy", "intensity": nil},
		"parentNotes":   "Good chat",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	activity := decode[store.Workbook](t, rr).DailyActivities[0]
	assert.True(t, activity.Completed)
	assert.JSONEq(t, `{"emotion":"happy"}`, string(activity.ChildResponse))

	rr = h.do(t, alice, http.MethodPost, base+"/regenerate", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	regenerated := decode[store.Workbook](t, rr)
	assert.Equal(t, activityID, regenerated.DailyActivities[0].ID)
	assert.Greater(t, len(regenerated.DailyActivities), 1)

	rr = h.do(t, alice, http.MethodPut, base+"/reflection", map[string]any{"whatWorkedWell": "Bedtime"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, decode[store.Workbook](t, rr).WeeklyReflection)

	rr = h.do(t, alice, http.MethodGet, base+"/export.xlsx", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, export.MimeXLSX, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "Sam-2026-W42.xlsx")

	rr = h.do(t, alice, http.MethodPost, base+"/complete", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, store.WorkbookCompleted, decode[store.Workbook](t, rr).Status)

	rr = h.do(t, alice, http.MethodGet, "/api/people/p_sam/workbooks/archive", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode[map[string][]archive.Entry](t, rr)["entries"]
	require.Len(t, entries, 1)
	assert.Equal(t, "2026-W42", entries[0].WeekKey)

	rr = h.do(t, alice, http.MethodPost, base+"/regenerate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "WORKBOOK_COMPLETED", errorCode(t, rr))

	rr = h.do(t, alice, http.MethodGet, "/api/people/p_sam/workbooks/history?weeks=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[map[string][]store.Workbook](t, rr)["workbooks"], 1)

	rr = h.do(t, eve, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRegenerateBuildsContextFromSections(t *testing.T) {
	h := newHarness(t)
	id := h.createSection(t).RoleSectionID
	rr := h.do(t, alice, http.MethodPost, "/api/role-sections/"+id+"/triggers", map[string]any{"description": "Loud noises", "severity": "significant"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = h.do(t, alice, http.MethodPost, "/api/role-sections/"+id+"/strategies", map[string]any{"description": "Countdown", "effectiveness": 4})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = h.do(t, alice, http.MethodPost, "/api/role-sections/"+id+"/strategies", map[string]any{"description": "Raised voice"})
	require.Equal(t, http.StatusOK, rr.Code)
	raised := decode[store.RoleSection](t, rr).WhatWorks[1].ID
	rr = h.do(t, alice, http.MethodPost, "/api/role-sections/"+id+"/strategies/"+raised+"/move", map[string]any{"from": "works", "to": "doesnt"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(t, alice, http.MethodPost, "/api/people/p_sam/workbooks", map[string]any{"personName": "Sam", "manualId": "man_1"})
	require.Equal(t, http.StatusCreated, rr.Code)
	wbID := decode[store.Workbook](t, rr).WorkbookID

	rr = h.do(t, alice, http.MethodPost, "/api/workbooks/"+wbID+"/regenerate", map[string]any{
		"assessments": []map[string]any{{"layerId": 3, "score": 7}, {"layerId": 1, "score": 4, "notes": "Noisy week"}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Len(t, h.generator.bundles, 1)
	bundle := h.generator.bundles[0]
	assert.Equal(t, "p_sam", bundle.PersonID)
	assert.Equal(t, "man_1", bundle.ManualID)
	assert.Equal(t, store.RoleParent, bundle.RelationshipType)
	require.Len(t, bundle.Triggers, 1)
	assert.Equal(t, store.SeveritySignificant, bundle.Triggers[0].Severity)
	require.Len(t, bundle.WhatWorks, 1)
	assert.Equal(t, 4, bundle.WhatWorks[0].Effectiveness)
	require.Len(t, bundle.WhatDoesntWork, 1)
	assert.Equal(t, "Raised voice", bundle.WhatDoesntWork[0].Description)
	assert.Equal(t, []generation.LayerScore{
		{LayerID: 1, Score: 4, Notes: "Noisy week"},
		{LayerID: 3, Score: 7},
	}, bundle.Assessments)

	rr = h.do(t, alice, http.MethodPost, "/api/workbooks/"+wbID+"/regenerate", map[string]any{
		"context": map[string]any{"personId": "p_sam", "personName": "Sam", "manualId": "man_9"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, h.generator.bundles, 2)
	assert.Equal(t, "man_9", h.generator.bundles[1].ManualID)
	assert.Empty(t, h.generator.bundles[1].Triggers)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, reader *bufio.Reader) sseEvent {
	t.Helper()
	var event sseEvent
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event.name != "" {
				return event
			}
		case strings.HasPrefix(line, "event: "):
			event.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			event.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSectionEventsStreamSnapshots(t *testing.T) {
	h := newHarness(t)
	section := h.createSection(t)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/role-sections/"+section.RoleSectionID+"/events?access_token="+token(t, bob), nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, "snapshot", first.name)
	var initial store.RoleSection
	require.NoError(t, json.Unmarshal([]byte(first.data), &initial))
	assert.Equal(t, int64(1), initial.Version)

	_, err = h.service.Sections().AddTrigger(context.Background(), alice, section.RoleSectionID, rolesection.TriggerInput{
		Description: "Loud noises",
		Severity:    store.SeverityMild,
	})
	require.NoError(t, err)

	next := readEvent(t, reader)
	assert.Equal(t, "snapshot", next.name)
	var updated store.RoleSection
	require.NoError(t, json.Unmarshal([]byte(next.data), &updated))
	assert.Equal(t, int64(2), updated.Version)
	require.Len(t, updated.Triggers, 1)

	require.NoError(t, h.service.Sections().Delete(context.Background(), alice, section.RoleSectionID))
	gone := readEvent(t, reader)
	assert.Equal(t, "deleted", gone.name)
	assert.Equal(t, "null", gone.data)
}

func TestSectionEventsRejectOtherFamilies(t *testing.T) {
	h := newHarness(t)
	section := h.createSection(t)
	rr := h.do(t, eve, http.MethodGet, "/api/role-sections/"+section.RoleSectionID+"/events", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestActiveWorkbookEventsFollowCompletion(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/people/p_sam/workbooks/active/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, alice))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, "none", readEvent(t, reader).name)

	wb, err := h.service.Workbooks().Create(context.Background(), alice, workbook.CreateInput{PersonID: "p_sam", PersonName: "Sam", ManualID: "man_1"})
	require.NoError(t, err)
	created := readEvent(t, reader)
	assert.Equal(t, "snapshot", created.name)
	assert.Contains(t, created.data, wb.WorkbookID)

	_, err = h.service.Workbooks().Complete(context.Background(), alice, wb.WorkbookID)
	require.NoError(t, err)
	assert.Equal(t, "none", readEvent(t, reader).name)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", domain.NotFound("ROLE_SECTION_NOT_FOUND", "missing"), http.StatusNotFound, "ROLE_SECTION_NOT_FOUND"},
		{"conflict", domain.VersionConflict("stale", nil), http.StatusConflict, "VERSION_CONFLICT"},
		{"generation", domain.GenerationFailed("bad", nil), http.StatusBadGateway, "GENERATION_FAILED"},
		{"no history", gitrepo.ErrNoHistory, http.StatusNotFound, "REVISION_NOT_FOUND"},
		{"not archived", archive.ErrNotArchived, http.StatusNotFound, "NOT_ARCHIVED"},
		{"pdf", export.ErrPDFDependencyMissing, http.StatusServiceUnavailable, "PDF_UNAVAILABLE"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
