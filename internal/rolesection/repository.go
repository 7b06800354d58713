// Package rolesection owns the collaboratively edited RoleSection documents.
// Every mutation is a read-modify-write guarded by the document version, so
// concurrent contributors get a VersionConflict instead of a lost update.
package rolesection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/rbac"
	"github.com/scottring/ParentPulse-sub002/internal/store"
	"github.com/scottring/ParentPulse-sub002/internal/util"
)

// Event describes a committed change. Section is the full snapshot after the
// write; on delete only RoleSectionID and FamilyID are set.
type Event struct {
	Op      string
	Actor   domain.ActorContext
	Section store.RoleSection
	Deleted bool
}

// Observer is notified after every committed write, in call order.
type Observer interface {
	RoleSectionChanged(ctx context.Context, event Event)
}

type Repository struct {
	docs      store.DocumentStore
	now       func() time.Time
	newID     func(prefix string) string
	itemID    func() string
	retry     store.RetryPolicy
	observers []Observer
	logger    *zap.Logger
}

type Option func(*Repository)

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
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

func NewRepository(docs store.DocumentStore, opts ...Option) *Repository {
	r := &Repository{
		docs:   docs,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  util.NewID,
		itemID: util.ItemID,
		retry:  store.DefaultRetryPolicy(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddObserver registers an observer after construction.
func (r *Repository) AddObserver(observer Observer) {
	r.observers = append(r.observers, observer)
}

// List returns every section of a manual, newest first.
func (r *Repository) List(ctx context.Context, actor domain.ActorContext, manualID string) ([]store.RoleSection, error) {
	return r.query(ctx, actor, store.Eq("manualId", manualID))
}

// ListByRoleType narrows List to one role type.
func (r *Repository) ListByRoleType(ctx context.Context, actor domain.ActorContext, manualID string, roleType store.RoleType) ([]store.RoleSection, error) {
	if !roleType.Valid() {
		return nil, domain.Validation("INVALID_ROLE_TYPE", "roleType is not recognised", map[string]any{"roleType": roleType})
	}
	return r.query(ctx, actor, store.Eq("manualId", manualID), store.Eq("roleType", roleType))
}

// ListForPerson returns the sections describing relationships with personID,
// used to build generation context for that person's workbook.
func (r *Repository) ListForPerson(ctx context.Context, actor domain.ActorContext, personID string) ([]store.RoleSection, error) {
	return r.query(ctx, actor, store.Eq("relatedPersonId", personID))
}

func (r *Repository) query(ctx context.Context, actor domain.ActorContext, filters ...store.Filter) ([]store.RoleSection, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	filters = append([]store.Filter{store.Eq("familyId", actor.TenantID)}, filters...)
	docs, err := r.docs.Query(ctx, store.CollectionRoleSections, store.Query{
		Filters: filters,
		OrderBy: &store.OrderBy{Field: "createdAt", Desc: true},
	})
	if err != nil {
		return nil, storeError("list role sections", err)
	}
	sections := make([]store.RoleSection, 0, len(docs))
	for _, doc := range docs {
		section, err := decodeSection(doc)
		if err != nil {
			return nil, err
		}
		if section.FamilyID != actor.TenantID {
			return nil, notAuthorized()
		}
		sections = append(sections, section)
	}
	return sections, nil
}

func (r *Repository) Get(ctx context.Context, actor domain.ActorContext, id string) (store.RoleSection, error) {
	if err := actor.Validate(); err != nil {
		return store.RoleSection{}, err
	}
	section, _, err := r.load(ctx, id)
	if err != nil {
		return store.RoleSection{}, err
	}
	if section.FamilyID != actor.TenantID {
		return store.RoleSection{}, notAuthorized()
	}
	return section, nil
}

// Permissions reports what actor may do with the section.
func (r *Repository) Permissions(ctx context.Context, actor domain.ActorContext, id string) (rbac.Permissions, error) {
	if err := actor.Validate(); err != nil {
		return rbac.Permissions{}, err
	}
	section, _, err := r.load(ctx, id)
	if err != nil {
		return rbac.Permissions{}, err
	}
	relation := rbac.RelationFor(section.FamilyID, section.Contributors, actor.ActorID, actor.TenantID)
	return rbac.PermissionsFor(relation), nil
}

func (r *Repository) Create(ctx context.Context, actor domain.ActorContext, in CreateInput) (store.RoleSection, error) {
	if err := actor.Validate(); err != nil {
		return store.RoleSection{}, err
	}
	if err := in.validate(); err != nil {
		return store.RoleSection{}, err
	}

	now := r.now()
	section := store.RoleSection{
		RoleSectionID:     r.newID("rs"),
		FamilyID:          actor.TenantID,
		ManualID:          in.ManualID,
		RoleType:          in.RoleType,
		RoleTitle:         strings.TrimSpace(in.RoleTitle),
		RoleDescription:   in.RoleDescription,
		RoleOverview:      in.RoleOverview,
		RelatedPersonID:   in.RelatedPersonID,
		RelatedPersonName: in.RelatedPersonName,
		Strengths:         in.Strengths,
		Challenges:        in.Challenges,
		ImportantContext:  in.ImportantContext,
		Version:           1,
		LastEditedBy:      actor.ActorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	section.Contributors, section.ContributorNames = contributorsWithCreator(in.Contributors, in.ContributorNames, actor)
	for _, trigger := range in.Triggers {
		section.Triggers = append(section.Triggers, r.newTrigger(actor, trigger, now))
	}
	for _, strategy := range in.WhatWorks {
		section.WhatWorks = append(section.WhatWorks, r.newStrategy(actor, strategy, now))
	}
	for _, strategy := range in.WhatDoesntWork {
		section.WhatDoesntWork = append(section.WhatDoesntWork, r.newStrategy(actor, strategy, now))
	}
	for _, boundary := range in.Boundaries {
		section.Boundaries = append(section.Boundaries, r.newBoundary(actor, boundary, now))
	}
	section.Normalize()

	data, err := json.Marshal(section)
	if err != nil {
		return store.RoleSection{}, fmt.Errorf("encode role section: %w", err)
	}
	doc, err := r.docs.Create(ctx, store.CollectionRoleSections, store.Document{ID: section.RoleSectionID, Version: 1, Data: data})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return store.RoleSection{}, domain.AlreadyExists("ROLE_SECTION_EXISTS", "role section already exists")
		}
		return store.RoleSection{}, storeError("create role section", err)
	}
	created, err := decodeSection(doc)
	if err != nil {
		return store.RoleSection{}, err
	}
	r.notify(ctx, Event{Op: "create", Actor: actor, Section: created})
	return created, nil
}

// Update applies a named change to the descriptive fields.
func (r *Repository) Update(ctx context.Context, actor domain.ActorContext, id string, details UpdateDetails) (store.RoleSection, error) {
	if err := details.validate(); err != nil {
		return store.RoleSection{}, err
	}
	return r.mutate(ctx, actor, id, "update", func(section *store.RoleSection) (bool, error) {
		if details.RoleTitle != nil {
			section.RoleTitle = strings.TrimSpace(*details.RoleTitle)
		}
		if details.RoleDescription != nil {
			section.RoleDescription = *details.RoleDescription
		}
		if details.RoleOverview != nil {
			section.RoleOverview = *details.RoleOverview
		}
		if details.RelatedPersonID != nil {
			section.RelatedPersonID = *details.RelatedPersonID
		}
		if details.RelatedPersonName != nil {
			section.RelatedPersonName = *details.RelatedPersonName
		}
		if details.Strengths != nil {
			section.Strengths = append([]string{}, (*details.Strengths)...)
		}
		if details.Challenges != nil {
			section.Challenges = append([]string{}, (*details.Challenges)...)
		}
		if details.ImportantContext != nil {
			section.ImportantContext = append([]string{}, (*details.ImportantContext)...)
		}
		if details.EmergingPatterns != nil {
			section.EmergingPatterns = r.stampPatterns(actor, *details.EmergingPatterns)
		}
		if details.RelatedJournalEntries != nil {
			section.RelatedJournalEntries = dedupe(*details.RelatedJournalEntries)
		}
		if details.RelatedKnowledgeIDs != nil {
			section.RelatedKnowledgeIDs = dedupe(*details.RelatedKnowledgeIDs)
		}
		return true, nil
	})
}

// Delete removes the section. Deleting an absent id succeeds.
func (r *Repository) Delete(ctx context.Context, actor domain.ActorContext, id string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	section, _, err := r.load(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := authorizeEdit(section, actor); err != nil {
		return err
	}
	if err := r.docs.Delete(ctx, store.CollectionRoleSections, id); err != nil {
		return storeError("delete role section", err)
	}
	r.notify(ctx, Event{
		Op:      "delete",
		Actor:   actor,
		Section: store.RoleSection{RoleSectionID: id, FamilyID: section.FamilyID, ManualID: section.ManualID},
		Deleted: true,
	})
	return nil
}

// mutate runs one read-modify-write cycle under compare-and-swap, retrying the
// whole cycle on conflict. fn reports whether it changed anything; when it did
// not, nothing is written and the current snapshot is returned.
func (r *Repository) mutate(ctx context.Context, actor domain.ActorContext, id, op string, fn func(section *store.RoleSection) (bool, error)) (store.RoleSection, error) {
	if err := actor.Validate(); err != nil {
		return store.RoleSection{}, err
	}

	var result store.RoleSection
	var wrote bool
	err := store.RetryOnConflict(ctx, r.retry, func(ctx context.Context) error {
		section, version, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if err := authorizeEdit(section, actor); err != nil {
			return err
		}
		changed, err := fn(&section)
		if err != nil {
			return err
		}
		if !changed {
			result, wrote = section, false
			return nil
		}

		section.UpdatedAt = r.now()
		section.LastEditedBy = actor.ActorID
		section.Normalize()
		data, err := json.Marshal(section)
		if err != nil {
			return fmt.Errorf("encode role section: %w", err)
		}
		doc, err := r.docs.Update(ctx, store.CollectionRoleSections, id, data, version)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				r.logger.Debug("role section version conflict", zap.String("role_section_id", id), zap.String("op", op), zap.Int64("version", version))
			}
			return err
		}
		result, err = decodeSection(doc)
		wrote = err == nil
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			return store.RoleSection{}, domain.VersionConflict("role section was modified concurrently", err)
		case errors.Is(err, store.ErrNotFound):
			return store.RoleSection{}, sectionNotFound()
		case domain.KindOf(err) != "":
			return store.RoleSection{}, err
		default:
			return store.RoleSection{}, storeError("update role section", err)
		}
	}
	if wrote {
		r.notify(ctx, Event{Op: op, Actor: actor, Section: result})
	}
	return result, nil
}

func (r *Repository) load(ctx context.Context, id string) (store.RoleSection, int64, error) {
	doc, err := r.docs.Get(ctx, store.CollectionRoleSections, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.RoleSection{}, 0, sectionNotFound()
	}
	if err != nil {
		return store.RoleSection{}, 0, storeError("load role section", err)
	}
	section, err := decodeSection(doc)
	if err != nil {
		return store.RoleSection{}, 0, err
	}
	return section, doc.Version, nil
}

func (r *Repository) notify(ctx context.Context, event Event) {
	for _, observer := range r.observers {
		observer.RoleSectionChanged(ctx, event)
	}
}

func decodeSection(doc store.Document) (store.RoleSection, error) {
	section, err := store.Decode[store.RoleSection](doc)
	if err != nil {
		return store.RoleSection{}, err
	}
	section.Version = doc.Version
	section.Normalize()
	return section, nil
}

func authorizeEdit(section store.RoleSection, actor domain.ActorContext) error {
	relation := rbac.RelationFor(section.FamilyID, section.Contributors, actor.ActorID, actor.TenantID)
	if !rbac.Can(relation, rbac.ActionEdit) {
		return notAuthorized()
	}
	return nil
}

func contributorsWithCreator(ids, names []string, actor domain.ActorContext) ([]string, []string) {
	outIDs := make([]string, 0, len(ids)+1)
	outNames := make([]string, 0, len(ids)+1)
	seen := make(map[string]bool, len(ids)+1)
	add := func(id, name string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		if strings.TrimSpace(name) == "" {
			name = id
		}
		seen[id] = true
		outIDs = append(outIDs, id)
		outNames = append(outNames, name)
	}
	add(actor.ActorID, actor.DisplayName())
	for i, id := range ids {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		add(id, name)
	}
	return outIDs, outNames
}

// dedupe trims ids and drops blanks and repeats, keeping first occurrence order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func sectionNotFound() error {
	return domain.NotFound("ROLE_SECTION_NOT_FOUND", "role section not found")
}

func notAuthorized() error {
	return domain.NotAuthorized("ROLE_SECTION_FORBIDDEN", "actor may not access this role section")
}

// storeError classifies a store failure. Cancellation and every backend
// failure are transient from the caller's point of view.
func storeError(action string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Transient(action+" failed", err)
}
