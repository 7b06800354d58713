package rolesection

import (
	"context"
	"strings"
	"time"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/store"
)

func (r *Repository) AddTrigger(ctx context.Context, actor domain.ActorContext, id string, in TriggerInput) (store.RoleSection, error) {
	if err := in.validate(); err != nil {
		return store.RoleSection{}, err
	}
	return r.mutate(ctx, actor, id, "add_trigger", func(section *store.RoleSection) (bool, error) {
		section.Triggers = append(section.Triggers, r.newTrigger(actor, in, r.now()))
		return true, nil
	})
}

// ConfirmTrigger records that actor has also observed the trigger. The author
// and anyone who already confirmed are ignored without a write.
func (r *Repository) ConfirmTrigger(ctx context.Context, actor domain.ActorContext, id, triggerID string) (store.RoleSection, error) {
	return r.mutate(ctx, actor, id, "confirm_trigger", func(section *store.RoleSection) (bool, error) {
		i := triggerIndex(section.Triggers, triggerID)
		if i < 0 {
			return false, itemNotFound("TRIGGER_NOT_FOUND", "trigger")
		}
		trigger := &section.Triggers[i]
		if trigger.IdentifiedBy == actor.ActorID || contains(trigger.ConfirmedByOthers, actor.ActorID) {
			return false, nil
		}
		confirmed := make([]string, 0, len(trigger.ConfirmedByOthers)+1)
		confirmed = append(confirmed, trigger.ConfirmedByOthers...)
		trigger.ConfirmedByOthers = append(confirmed, actor.ActorID)
		return true, nil
	})
}

func (r *Repository) RemoveTrigger(ctx context.Context, actor domain.ActorContext, id, triggerID string) (store.RoleSection, error) {
	return r.mutate(ctx, actor, id, "remove_trigger", func(section *store.RoleSection) (bool, error) {
		i := triggerIndex(section.Triggers, triggerID)
		if i < 0 {
			return false, nil
		}
		section.Triggers = append(section.Triggers[:i:i], section.Triggers[i+1:]...)
		return true, nil
	})
}

func (r *Repository) AddStrategy(ctx context.Context, actor domain.ActorContext, id string, bucket Bucket, in StrategyInput) (store.RoleSection, error) {
	if err := validateBucket(bucket); err != nil {
		return store.RoleSection{}, err
	}
	if err := in.validate(); err != nil {
		return store.RoleSection{}, err
	}
	return r.mutate(ctx, actor, id, "add_strategy", func(section *store.RoleSection) (bool, error) {
		list := strategies(section, bucket)
		*list = append(*list, r.newStrategy(actor, in, r.now()))
		return true, nil
	})
}

func (r *Repository) RemoveStrategy(ctx context.Context, actor domain.ActorContext, id, strategyID string, bucket Bucket) (store.RoleSection, error) {
	if err := validateBucket(bucket); err != nil {
		return store.RoleSection{}, err
	}
	return r.mutate(ctx, actor, id, "remove_strategy", func(section *store.RoleSection) (bool, error) {
		list := strategies(section, bucket)
		i := strategyIndex(*list, strategyID)
		if i < 0 {
			return false, nil
		}
		*list = append((*list)[:i:i], (*list)[i+1:]...)
		return true, nil
	})
}

// MoveStrategy moves a strategy between the two lists in one write.
func (r *Repository) MoveStrategy(ctx context.Context, actor domain.ActorContext, id, strategyID string, from, to Bucket) (store.RoleSection, error) {
	if err := validateBucket(from); err != nil {
		return store.RoleSection{}, err
	}
	if err := validateBucket(to); err != nil {
		return store.RoleSection{}, err
	}
	if from == to {
		return store.RoleSection{}, domain.Validation("SAME_BUCKET", "from and to must differ", map[string]any{"bucket": from})
	}
	return r.mutate(ctx, actor, id, "move_strategy", func(section *store.RoleSection) (bool, error) {
		source := strategies(section, from)
		i := strategyIndex(*source, strategyID)
		if i < 0 {
			return false, itemNotFound("STRATEGY_NOT_FOUND", "strategy")
		}
		moved := (*source)[i]
		*source = append((*source)[:i:i], (*source)[i+1:]...)

		target := strategies(section, to)
		if j := strategyIndex(*target, strategyID); j >= 0 {
			(*target)[j] = moved
			return true, nil
		}
		*target = append(*target, moved)
		return true, nil
	})
}

// UpdateStrategyEffectiveness rates a strategy in whatWorks. Strategies that
// did not work carry no rating.
func (r *Repository) UpdateStrategyEffectiveness(ctx context.Context, actor domain.ActorContext, id, strategyID string, rating int) (store.RoleSection, error) {
	if err := validateRating(rating); err != nil {
		return store.RoleSection{}, err
	}
	return r.mutate(ctx, actor, id, "rate_strategy", func(section *store.RoleSection) (bool, error) {
		i := strategyIndex(section.WhatWorks, strategyID)
		if i < 0 {
			return false, itemNotFound("STRATEGY_NOT_FOUND", "strategy")
		}
		if section.WhatWorks[i].Effectiveness == rating {
			return false, nil
		}
		section.WhatWorks[i].Effectiveness = rating
		return true, nil
	})
}

func (r *Repository) AddBoundary(ctx context.Context, actor domain.ActorContext, id string, in BoundaryInput) (store.RoleSection, error) {
	if err := in.validate(); err != nil {
		return store.RoleSection{}, err
	}
	return r.mutate(ctx, actor, id, "add_boundary", func(section *store.RoleSection) (bool, error) {
		section.Boundaries = append(section.Boundaries, r.newBoundary(actor, in, r.now()))
		return true, nil
	})
}

func (r *Repository) RemoveBoundary(ctx context.Context, actor domain.ActorContext, id, boundaryID string) (store.RoleSection, error) {
	return r.mutate(ctx, actor, id, "remove_boundary", func(section *store.RoleSection) (bool, error) {
		for i, boundary := range section.Boundaries {
			if boundary.ID == boundaryID {
				section.Boundaries = append(section.Boundaries[:i:i], section.Boundaries[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
}

func (r *Repository) AddProgressNote(ctx context.Context, actor domain.ActorContext, id string, in NoteInput) (store.RoleSection, error) {
	if err := in.validate(); err != nil {
		return store.RoleSection{}, err
	}
	return r.mutate(ctx, actor, id, "add_progress_note", func(section *store.RoleSection) (bool, error) {
		section.ProgressNotes = append(section.ProgressNotes, store.RoleProgressNote{
			ID:        r.itemID(),
			Date:      r.now(),
			Note:      strings.TrimSpace(in.Note),
			Category:  in.Category,
			AddedBy:   actor.ActorID,
			IsPrivate: in.IsPrivate,
		})
		return true, nil
	})
}

// AddOverviewContribution stores one contributor's narrative. Each contributor
// owns a single slot: adding again replaces the text and keeps addedAt.
func (r *Repository) AddOverviewContribution(ctx context.Context, actor domain.ActorContext, id string, in ContributionInput) (store.RoleSection, error) {
	if err := in.validate(); err != nil {
		return store.RoleSection{}, err
	}
	contributorID := strings.TrimSpace(in.ContributorID)
	if contributorID == "" {
		contributorID = actor.ActorID
	}
	return r.mutate(ctx, actor, id, "add_overview_contribution", func(section *store.RoleSection) (bool, error) {
		now := r.now()
		for i := range section.RoleOverviewContributions {
			existing := &section.RoleOverviewContributions[i]
			if existing.ContributorID != contributorID {
				continue
			}
			existing.Perspective = in.Perspective
			existing.RelationshipToSubject = in.RelationshipToSubject
			existing.ClosenessWeight = in.ClosenessWeight
			existing.UpdatedAt = now
			return true, nil
		}
		section.RoleOverviewContributions = append(section.RoleOverviewContributions, store.RoleOverviewContribution{
			ID:                    r.itemID(),
			ContributorID:         contributorID,
			ContributorName:       contributorName(*section, actor, contributorID),
			Perspective:           in.Perspective,
			RelationshipToSubject: in.RelationshipToSubject,
			ClosenessWeight:       in.ClosenessWeight,
			AddedAt:               now,
			UpdatedAt:             now,
		})
		return true, nil
	})
}

func (r *Repository) UpdateOverviewContribution(ctx context.Context, actor domain.ActorContext, id, contributionID string, update ContributionUpdate) (store.RoleSection, error) {
	if err := update.validate(); err != nil {
		return store.RoleSection{}, err
	}
	return r.mutate(ctx, actor, id, "update_overview_contribution", func(section *store.RoleSection) (bool, error) {
		for i := range section.RoleOverviewContributions {
			contribution := &section.RoleOverviewContributions[i]
			if contribution.ID != contributionID {
				continue
			}
			if update.Perspective != nil {
				contribution.Perspective = *update.Perspective
			}
			if update.RelationshipToSubject != nil {
				contribution.RelationshipToSubject = *update.RelationshipToSubject
			}
			if update.ClosenessWeight != nil {
				contribution.ClosenessWeight = *update.ClosenessWeight
			}
			contribution.UpdatedAt = r.now()
			return true, nil
		}
		return false, itemNotFound("CONTRIBUTION_NOT_FOUND", "overview contribution")
	})
}

func (r *Repository) RemoveOverviewContribution(ctx context.Context, actor domain.ActorContext, id, contributionID string) (store.RoleSection, error) {
	return r.mutate(ctx, actor, id, "remove_overview_contribution", func(section *store.RoleSection) (bool, error) {
		for i, contribution := range section.RoleOverviewContributions {
			if contribution.ID == contributionID {
				section.RoleOverviewContributions = append(section.RoleOverviewContributions[:i:i], section.RoleOverviewContributions[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
}

// AddContributor grants edit access. contributors and contributorNames stay
// index-aligned; adding someone already present only refreshes their name.
func (r *Repository) AddContributor(ctx context.Context, actor domain.ActorContext, id string, in ContributorInput) (store.RoleSection, error) {
	if err := in.validate(); err != nil {
		return store.RoleSection{}, err
	}
	contributorID := strings.TrimSpace(in.ContributorID)
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = contributorID
	}
	return r.mutate(ctx, actor, id, "add_contributor", func(section *store.RoleSection) (bool, error) {
		alignContributorNames(section)
		for i, existing := range section.Contributors {
			if existing != contributorID {
				continue
			}
			if strings.TrimSpace(in.Name) == "" || section.ContributorNames[i] == name {
				return false, nil
			}
			section.ContributorNames[i] = name
			return true, nil
		}
		section.Contributors = append(section.Contributors, contributorID)
		section.ContributorNames = append(section.ContributorNames, name)
		return true, nil
	})
}

// RemoveContributor revokes edit access. The last contributor cannot be
// removed; removing someone absent is a no-op.
func (r *Repository) RemoveContributor(ctx context.Context, actor domain.ActorContext, id, contributorID string) (store.RoleSection, error) {
	return r.mutate(ctx, actor, id, "remove_contributor", func(section *store.RoleSection) (bool, error) {
		alignContributorNames(section)
		for i, existing := range section.Contributors {
			if existing != contributorID {
				continue
			}
			if len(section.Contributors) == 1 {
				return false, domain.Validation("LAST_CONTRIBUTOR", "a role section needs at least one contributor", nil)
			}
			section.Contributors = append(section.Contributors[:i:i], section.Contributors[i+1:]...)
			section.ContributorNames = append(section.ContributorNames[:i:i], section.ContributorNames[i+1:]...)
			return true, nil
		}
		return false, nil
	})
}

// alignContributorNames pads or trims the name list to match the id list.
func alignContributorNames(section *store.RoleSection) {
	names := make([]string, len(section.Contributors))
	for i, id := range section.Contributors {
		if i < len(section.ContributorNames) && section.ContributorNames[i] != "" {
			names[i] = section.ContributorNames[i]
		} else {
			names[i] = id
		}
	}
	section.ContributorNames = names
}

func (r *Repository) newTrigger(actor domain.ActorContext, in TriggerInput, now time.Time) store.RoleTrigger {
	return store.RoleTrigger{
		ID:                   r.itemID(),
		Description:          strings.TrimSpace(in.Description),
		Context:              in.Context,
		TypicalResponse:      in.TypicalResponse,
		DeescalationStrategy: in.DeescalationStrategy,
		Severity:             in.Severity,
		IdentifiedDate:       now,
		IdentifiedBy:         actor.ActorID,
		ConfirmedByOthers:    []string{},
	}
}

func (r *Repository) newStrategy(actor domain.ActorContext, in StrategyInput, now time.Time) store.RoleStrategy {
	source := in.SourceType
	if source == "" {
		source = store.SourceDiscovered
	}
	return store.RoleStrategy{
		ID:            r.itemID(),
		Description:   strings.TrimSpace(in.Description),
		Context:       in.Context,
		Effectiveness: in.Effectiveness,
		AddedDate:     now,
		AddedBy:       actor.ActorID,
		SourceType:    source,
		SourceID:      in.SourceID,
		Notes:         in.Notes,
	}
}

func (r *Repository) newBoundary(actor domain.ActorContext, in BoundaryInput, now time.Time) store.RoleBoundary {
	return store.RoleBoundary{
		ID:           r.itemID(),
		Description:  strings.TrimSpace(in.Description),
		Category:     in.Category,
		Context:      in.Context,
		Consequences: in.Consequences,
		AddedDate:    now,
		AddedBy:      actor.ActorID,
	}
}

// stampPatterns fills ids and provenance the caller left blank.
func (r *Repository) stampPatterns(actor domain.ActorContext, patterns []store.RolePattern) []store.RolePattern {
	now := r.now()
	out := make([]store.RolePattern, len(patterns))
	for i, pattern := range patterns {
		if pattern.ID == "" {
			pattern.ID = r.itemID()
		}
		if pattern.IdentifiedBy == "" {
			pattern.IdentifiedBy = actor.ActorID
		}
		if pattern.FirstObserved.IsZero() {
			pattern.FirstObserved = now
		}
		if pattern.LastObserved.IsZero() {
			pattern.LastObserved = pattern.FirstObserved
		}
		if pattern.RelatedEntries == nil {
			pattern.RelatedEntries = []string{}
		}
		out[i] = pattern
	}
	return out
}

func strategies(section *store.RoleSection, bucket Bucket) *[]store.RoleStrategy {
	if bucket == BucketDoesnt {
		return &section.WhatDoesntWork
	}
	return &section.WhatWorks
}

func validateBucket(bucket Bucket) error {
	if !bucket.Valid() {
		return domain.Validation("INVALID_BUCKET", "bucket must be works or doesnt", map[string]any{"bucket": bucket})
	}
	return nil
}

func triggerIndex(triggers []store.RoleTrigger, id string) int {
	for i, trigger := range triggers {
		if trigger.ID == id {
			return i
		}
	}
	return -1
}

func strategyIndex(list []store.RoleStrategy, id string) int {
	for i, strategy := range list {
		if strategy.ID == id {
			return i
		}
	}
	return -1
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func contributorName(section store.RoleSection, actor domain.ActorContext, contributorID string) string {
	if contributorID == actor.ActorID {
		return actor.DisplayName()
	}
	for i, id := range section.Contributors {
		if id == contributorID && i < len(section.ContributorNames) {
			return section.ContributorNames[i]
		}
	}
	return contributorID
}

func itemNotFound(code, what string) error {
	return domain.NotFound(code, what+" not found")
}
