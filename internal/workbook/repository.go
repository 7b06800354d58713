// Package workbook manages the weekly workbooks: one per person per ISO week,
// with an append-only goal log and regenerated daily activities.
package workbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/generation"
	"github.com/scottring/ParentPulse-sub002/internal/store"
	"github.com/scottring/ParentPulse-sub002/internal/util"
)

const (
	DefaultGenerationTimeout = 60 * time.Second
	DefaultHistoryWeeks      = 4
)

type Event struct {
	Op       string
	Actor    domain.ActorContext
	Workbook store.Workbook
}

type Observer interface {
	WorkbookChanged(ctx context.Context, event Event)
}

type Repository struct {
	docs       store.DocumentStore
	generator  generation.Generator
	clock      Clock
	loc        *time.Location
	genTimeout time.Duration
	retry      store.RetryPolicy
	itemID     func() string
	observers  []Observer
	logger     *zap.Logger
}

type Option func(*Repository)

func WithClock(clock Clock) Option {
	return func(r *Repository) { r.clock = clock }
}

// WithLocation sets the zone weeks are computed in.
func WithLocation(loc *time.Location) Option {
	return func(r *Repository) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func WithGenerationTimeout(timeout time.Duration) Option {
	return func(r *Repository) {
		if timeout > 0 {
			r.genTimeout = timeout
		}
	}
}

func WithRetryPolicy(policy store.RetryPolicy) Option {
	return func(r *Repository) { r.retry = policy }
}

func WithObserver(observer Observer) Option {
	return func(r *Repository) { r.observers = append(r.observers, observer) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

func NewRepository(docs store.DocumentStore, generator generation.Generator, opts ...Option) *Repository {
	r := &Repository{
		docs:       docs,
		generator:  generator,
		clock:      SystemClock,
		loc:        time.UTC,
		genTimeout: DefaultGenerationTimeout,
		retry:      store.DefaultRetryPolicy(),
		itemID:     util.ItemID,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) AddObserver(observer Observer) {
	r.observers = append(r.observers, observer)
}

// CurrentWeek is the week "now" falls in.
func (r *Repository) CurrentWeek() Week {
	return WeekOf(r.clock.Now(), r.loc)
}

// GetActiveForWeek returns the person's active workbook for the current week,
// or nil when there is none.
func (r *Repository) GetActiveForWeek(ctx context.Context, actor domain.ActorContext, personID string) (*store.Workbook, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	week := r.CurrentWeek()
	workbooks, err := r.query(ctx, actor, store.Query{
		Filters: []store.Filter{
			store.Eq("personId", personID),
			store.Eq("familyId", actor.TenantID),
			store.Eq("status", store.WorkbookActive),
			store.Gte("startDate", week.Start),
			store.Lte("startDate", week.End),
		},
		Limit: 1,
	})
	if err != nil || len(workbooks) == 0 {
		return nil, err
	}
	return &workbooks[0], nil
}

// ListActiveForFamily returns every active workbook of the actor's family for
// the current week.
func (r *Repository) ListActiveForFamily(ctx context.Context, actor domain.ActorContext) ([]store.Workbook, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	week := r.CurrentWeek()
	return r.query(ctx, actor, store.Query{
		Filters: []store.Filter{
			store.Eq("familyId", actor.TenantID),
			store.Eq("status", store.WorkbookActive),
			store.Gte("startDate", week.Start),
			store.Lte("startDate", week.End),
		},
		OrderBy: &store.OrderBy{Field: "startDate", Desc: true},
	})
}

// History returns the person's most recent workbooks, newest first.
func (r *Repository) History(ctx context.Context, actor domain.ActorContext, personID string, weekCount int) ([]store.Workbook, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if weekCount <= 0 {
		weekCount = DefaultHistoryWeeks
	}
	return r.query(ctx, actor, store.Query{
		Filters: []store.Filter{
			store.Eq("personId", personID),
			store.Eq("familyId", actor.TenantID),
		},
		OrderBy: &store.OrderBy{Field: "startDate", Desc: true},
		Limit:   weekCount,
	})
}

// PreviousReflection returns the reflection of the person's latest workbook
// that started before the given week, if any.
func (r *Repository) PreviousReflection(ctx context.Context, actor domain.ActorContext, personID string, before Week) (*store.WeeklyReflection, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	workbooks, err := r.query(ctx, actor, store.Query{
		Filters: []store.Filter{
			store.Eq("personId", personID),
			store.Eq("familyId", actor.TenantID),
			store.Lte("startDate", before.Start.Add(-time.Millisecond)),
		},
		OrderBy: &store.OrderBy{Field: "startDate", Desc: true},
		Limit:   1,
	})
	if err != nil || len(workbooks) == 0 {
		return nil, err
	}
	return workbooks[0].WeeklyReflection, nil
}

func (r *Repository) Get(ctx context.Context, actor domain.ActorContext, id string) (store.Workbook, error) {
	if err := actor.Validate(); err != nil {
		return store.Workbook{}, err
	}
	wb, _, err := r.load(ctx, id)
	if err != nil {
		return store.Workbook{}, err
	}
	if wb.FamilyID != actor.TenantID {
		return store.Workbook{}, notAuthorized()
	}
	return wb, nil
}

func (r *Repository) Create(ctx context.Context, actor domain.ActorContext, in CreateInput) (store.Workbook, error) {
	if err := actor.Validate(); err != nil {
		return store.Workbook{}, err
	}
	if err := in.validate(); err != nil {
		return store.Workbook{}, err
	}
	existing, err := r.GetActiveForWeek(ctx, actor, in.PersonID)
	if err != nil {
		return store.Workbook{}, err
	}
	if existing != nil {
		return store.Workbook{}, alreadyExists()
	}

	now := r.clock.Now().UTC()
	week := WeekOf(now, r.loc)
	generatedBy := strings.TrimSpace(in.GeneratedBy)
	if generatedBy == "" {
		generatedBy = "ai"
	}
	wb := store.Workbook{
		WorkbookID:  util.DeterministicID("wb", actor.TenantID, in.PersonID, week.Key()),
		FamilyID:    actor.TenantID,
		ManualID:    in.ManualID,
		PersonID:    in.PersonID,
		PersonName:  in.PersonName,
		WeekNumber:  week.Number,
		WeekYear:    week.Year,
		StartDate:   week.Start,
		EndDate:     week.End,
		Status:      store.WorkbookActive,
		GeneratedBy: generatedBy,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, goal := range in.Goals {
		id := goal.ID
		if id == "" {
			id = r.itemID()
		}
		wb.ParentGoals = append(wb.ParentGoals, store.ParentBehaviorGoal{
			ID:                id,
			Description:       strings.TrimSpace(goal.Description),
			TargetFrequency:   goal.TargetFrequency,
			RelatedTriggerID:  goal.RelatedTriggerID,
			RelatedStrategyID: goal.RelatedStrategyID,
			CompletionLog:     []store.GoalCompletion{},
			CreatedDate:       now,
		})
	}
	for i, activity := range in.Activities {
		id := activity.ID
		if id == "" {
			id = r.itemID()
		}
		date := week.Day(i % 7)
		if activity.Date != nil {
			date = *activity.Date
		}
		wb.DailyActivities = append(wb.DailyActivities, store.DailyActivity{
			ID:          id,
			Type:        activity.Type,
			Description: activity.Description,
			Date:        date,
		})
	}
	wb.Normalize()

	data, err := json.Marshal(wb)
	if err != nil {
		return store.Workbook{}, fmt.Errorf("encode workbook: %w", err)
	}
	doc, err := r.docs.Create(ctx, store.CollectionWorkbooks, store.Document{ID: wb.WorkbookID, Version: 1, Data: data})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return store.Workbook{}, r.weekTaken(ctx, wb.WorkbookID)
		}
		return store.Workbook{}, storeError("create workbook", err)
	}
	created, err := decodeWorkbook(doc)
	if err != nil {
		return store.Workbook{}, err
	}
	r.logger.Info("workbook created",
		zap.String("workbook_id", created.WorkbookID),
		zap.String("person_id", created.PersonID),
		zap.String("week", week.Key()),
	)
	r.notify(ctx, Event{Op: "create", Actor: actor, Workbook: created})
	return created, nil
}

// LogGoalCompletion appends one entry to the goal's log. Earlier entries are
// never touched.
func (r *Repository) LogGoalCompletion(ctx context.Context, actor domain.ActorContext, workbookID, goalID string, completed bool, notes string) (store.Workbook, error) {
	return r.mutate(ctx, actor, workbookID, "log_goal_completion", func(wb *store.Workbook) (bool, error) {
		for i := range wb.ParentGoals {
			goal := &wb.ParentGoals[i]
			if goal.ID != goalID {
				continue
			}
			log := make([]store.GoalCompletion, 0, len(goal.CompletionLog)+1)
			log = append(log, goal.CompletionLog...)
			goal.CompletionLog = append(log, store.GoalCompletion{
				Date:      r.clock.Now().UTC(),
				Completed: completed,
				Notes:     strings.TrimSpace(notes),
				AddedBy:   actor.ActorID,
			})
			return true, nil
		}
		return false, domain.NotFound("GOAL_NOT_FOUND", "goal not found")
	})
}

// CompleteActivity records the response to an activity. Null values inside the
// response are dropped before it is stored.
func (r *Repository) CompleteActivity(ctx context.Context, actor domain.ActorContext, workbookID, activityID string, response json.RawMessage, notes string) (store.Workbook, error) {
	cleaned, err := stripNulls(response)
	if err != nil {
		return store.Workbook{}, domain.Validation("INVALID_RESPONSE", "response must be valid JSON", nil)
	}
	if len(cleaned) > 0 && cleaned[0] != '{' {
		return store.Workbook{}, domain.Validation("INVALID_RESPONSE", "response must be a JSON object", nil)
	}
	return r.mutate(ctx, actor, workbookID, "complete_activity", func(wb *store.Workbook) (bool, error) {
		for i := range wb.DailyActivities {
			activity := &wb.DailyActivities[i]
			if activity.ID != activityID {
				continue
			}
			activity.Completed = true
			activity.ChildResponse = cleaned
			activity.ParentNotes = strings.TrimSpace(notes)
			activity.RecordedBy = actor.ActorID
			return true, nil
		}
		return false, domain.NotFound("ACTIVITY_NOT_FOUND", "activity not found")
	})
}

// RegenerateActivities replaces the incomplete activities with fresh
// proposals. Completed activities are kept as they are. The collaborator is
// called once, before anything is written; if it fails nothing changes.
func (r *Repository) RegenerateActivities(ctx context.Context, actor domain.ActorContext, workbookID string, opts RegenerateOptions) (store.Workbook, error) {
	current, err := r.Get(ctx, actor, workbookID)
	if err != nil {
		return store.Workbook{}, err
	}
	if current.Status == store.WorkbookCompleted {
		return store.Workbook{}, workbookCompleted()
	}

	bundle, err := r.bundleFor(ctx, actor, current, opts.Context)
	if err != nil {
		return store.Workbook{}, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.genTimeout
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	proposals, err := r.generator.Generate(genCtx, bundle)
	cancel()
	if err != nil {
		r.logger.Warn("activity generation failed", zap.String("workbook_id", workbookID), zap.Error(err))
		return store.Workbook{}, generationError(ctx, err)
	}

	generated := r.activitiesFrom(proposals, WeekOf(current.StartDate, r.loc))
	return r.mutate(ctx, actor, workbookID, "regenerate_activities", func(wb *store.Workbook) (bool, error) {
		// The workbook may have been completed while the collaborator ran.
		if wb.Status == store.WorkbookCompleted {
			return false, workbookCompleted()
		}
		kept := make([]store.DailyActivity, 0, len(wb.DailyActivities)+len(generated))
		for _, activity := range wb.DailyActivities {
			if activity.Completed {
				kept = append(kept, activity)
			}
		}
		wb.DailyActivities = append(kept, generated...)
		return true, nil
	})
}

func workbookCompleted() error {
	return domain.Validation("WORKBOOK_COMPLETED", "completed workbooks cannot be regenerated", nil)
}

func (r *Repository) SaveReflection(ctx context.Context, actor domain.ActorContext, workbookID string, in ReflectionInput) (store.Workbook, error) {
	return r.mutate(ctx, actor, workbookID, "save_reflection", func(wb *store.Workbook) (bool, error) {
		wb.WeeklyReflection = &store.WeeklyReflection{
			WhatWorkedWell:         in.WhatWorkedWell,
			WhatWasChallenging:     in.WhatWasChallenging,
			InsightsLearned:        in.InsightsLearned,
			AdjustmentsForNextWeek: in.AdjustmentsForNextWeek,
			AISuggestions:          in.AISuggestions,
			CompletedDate:          r.clock.Now().UTC(),
			CompletedBy:            actor.ActorID,
		}
		return true, nil
	})
}

// Complete closes the workbook. Completing it again changes nothing.
func (r *Repository) Complete(ctx context.Context, actor domain.ActorContext, workbookID string) (store.Workbook, error) {
	return r.mutate(ctx, actor, workbookID, "complete", func(wb *store.Workbook) (bool, error) {
		if wb.Status == store.WorkbookCompleted {
			return false, nil
		}
		now := r.clock.Now().UTC()
		wb.Status = store.WorkbookCompleted
		wb.CompletedAt = &now
		return true, nil
	})
}

func (r *Repository) bundleFor(ctx context.Context, actor domain.ActorContext, wb store.Workbook, supplied *generation.ContextBundle) (generation.ContextBundle, error) {
	var bundle generation.ContextBundle
	if supplied != nil {
		bundle = *supplied
	} else {
		previous, err := r.PreviousReflection(ctx, actor, wb.PersonID, WeekOf(wb.StartDate, r.loc))
		if err != nil {
			return generation.ContextBundle{}, err
		}
		bundle = generation.ContextBundle{PreviousWeekReflection: previous}
	}
	if bundle.PersonID == "" {
		bundle.PersonID = wb.PersonID
	}
	if bundle.PersonName == "" {
		bundle.PersonName = wb.PersonName
	}
	if bundle.ManualID == "" {
		bundle.ManualID = wb.ManualID
	}
	if bundle.ActivityCount == 0 {
		for _, activity := range wb.DailyActivities {
			if !activity.Completed {
				bundle.ActivityCount++
			}
		}
	}
	return bundle, nil
}

// activitiesFrom stamps ids and dates onto proposals. A proposal without a
// day lands on today when today is inside the week, else spreads from Monday.
func (r *Repository) activitiesFrom(proposals []generation.ActivityProposal, week Week) []store.DailyActivity {
	today := -1
	if now := r.clock.Now(); week.Contains(now) {
		local := now.In(week.Start.Location())
		today = (int(local.Weekday()) + 6) % 7
	}
	out := make([]store.DailyActivity, 0, len(proposals))
	for i, proposal := range proposals {
		day := i % 7
		switch {
		case proposal.SuggestedDay != nil:
			day = *proposal.SuggestedDay
		case today >= 0:
			day = today
		}
		out = append(out, store.DailyActivity{
			ID:          r.itemID(),
			Type:        proposal.Type,
			Description: proposal.Description,
			Date:        week.Day(day),
		})
	}
	return out
}

func (r *Repository) query(ctx context.Context, actor domain.ActorContext, q store.Query) ([]store.Workbook, error) {
	docs, err := r.docs.Query(ctx, store.CollectionWorkbooks, q)
	if err != nil {
		return nil, storeError("query workbooks", err)
	}
	workbooks := make([]store.Workbook, 0, len(docs))
	for _, doc := range docs {
		wb, err := decodeWorkbook(doc)
		if err != nil {
			return nil, err
		}
		if wb.FamilyID != actor.TenantID {
			return nil, notAuthorized()
		}
		workbooks = append(workbooks, wb)
	}
	return workbooks, nil
}

func (r *Repository) mutate(ctx context.Context, actor domain.ActorContext, id, op string, fn func(wb *store.Workbook) (bool, error)) (store.Workbook, error) {
	if err := actor.Validate(); err != nil {
		return store.Workbook{}, err
	}

	var result store.Workbook
	var wrote bool
	err := store.RetryOnConflict(ctx, r.retry, func(ctx context.Context) error {
		wb, version, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if wb.FamilyID != actor.TenantID {
			return notAuthorized()
		}
		changed, err := fn(&wb)
		if err != nil {
			return err
		}
		if !changed {
			result, wrote = wb, false
			return nil
		}

		wb.UpdatedAt = r.clock.Now().UTC()
		wb.Normalize()
		data, err := json.Marshal(wb)
		if err != nil {
			return fmt.Errorf("encode workbook: %w", err)
		}
		doc, err := r.docs.Update(ctx, store.CollectionWorkbooks, id, data, version)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				r.logger.Debug("workbook version conflict", zap.String("workbook_id", id), zap.String("op", op), zap.Int64("version", version))
			}
			return err
		}
		result, err = decodeWorkbook(doc)
		wrote = err == nil
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			return store.Workbook{}, domain.VersionConflict("workbook was modified concurrently", err)
		case errors.Is(err, store.ErrNotFound):
			return store.Workbook{}, workbookNotFound()
		case domain.KindOf(err) != "":
			return store.Workbook{}, err
		default:
			return store.Workbook{}, storeError("update workbook", err)
		}
	}
	if wrote {
		r.notify(ctx, Event{Op: op, Actor: actor, Workbook: result})
	}
	return result, nil
}

func (r *Repository) load(ctx context.Context, id string) (store.Workbook, int64, error) {
	doc, err := r.docs.Get(ctx, store.CollectionWorkbooks, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Workbook{}, 0, workbookNotFound()
	}
	if err != nil {
		return store.Workbook{}, 0, storeError("load workbook", err)
	}
	wb, err := decodeWorkbook(doc)
	if err != nil {
		return store.Workbook{}, 0, err
	}
	return wb, doc.Version, nil
}

func (r *Repository) notify(ctx context.Context, event Event) {
	for _, observer := range r.observers {
		observer.WorkbookChanged(ctx, event)
	}
}

func decodeWorkbook(doc store.Document) (store.Workbook, error) {
	wb, err := store.Decode[store.Workbook](doc)
	if err != nil {
		return store.Workbook{}, err
	}
	wb.Version = doc.Version
	wb.Normalize()
	return wb, nil
}

// generationError folds every collaborator failure into GenerationFailed,
// keeping a Transient cause visible so callers can tell it is retryable.
func generationError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	switch domain.KindOf(err) {
	case domain.KindGenerationFailed:
		return err
	case domain.KindTransient:
		return domain.GenerationFailed("activity generation failed", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.GenerationFailed("activity generation timed out", domain.Transient("generation timed out", err))
	}
	return domain.GenerationFailed("activity generation failed", err)
}

func workbookNotFound() error {
	return domain.NotFound("WORKBOOK_NOT_FOUND", "workbook not found")
}

func notAuthorized() error {
	return domain.NotAuthorized("WORKBOOK_FORBIDDEN", "actor may not access this workbook")
}

func alreadyExists() error {
	return domain.AlreadyExists("WORKBOOK_EXISTS", "an active workbook already exists for this week")
}

// weekTaken reports why the week's workbook id is already in use.
func (r *Repository) weekTaken(ctx context.Context, workbookID string) error {
	doc, err := r.docs.Get(ctx, store.CollectionWorkbooks, workbookID)
	if err != nil {
		return alreadyExists()
	}
	existing, err := decodeWorkbook(doc)
	if err != nil || existing.Status != store.WorkbookCompleted {
		return alreadyExists()
	}
	return domain.AlreadyExists("WORKBOOK_WEEK_CLOSED", "this week's workbook is already completed")
}

func storeError(action string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Transient(action+" failed", err)
}
