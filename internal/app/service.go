// Package app exposes the manual repositories over HTTP and fans their writes
// out to live subscribers, search, history and the archive.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/archive"
	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/export"
	"github.com/scottring/ParentPulse-sub002/internal/generation"
	"github.com/scottring/ParentPulse-sub002/internal/gitrepo"
	"github.com/scottring/ParentPulse-sub002/internal/identity"
	"github.com/scottring/ParentPulse-sub002/internal/live"
	"github.com/scottring/ParentPulse-sub002/internal/rolesection"
	"github.com/scottring/ParentPulse-sub002/internal/search"
	"github.com/scottring/ParentPulse-sub002/internal/store"
	"github.com/scottring/ParentPulse-sub002/internal/workbook"
)

// Deps are the collaborators a Service is built from. Only Docs and Secret
// are required. A nil History records no section history; the other fields
// fall back to in-process defaults.
type Deps struct {
	Docs      store.DocumentStore
	Generator generation.Generator
	Hub       live.Hub
	Search    *search.Service
	History   *gitrepo.Service
	Archive   archive.Archiver
	Exporter  *export.Service
	Secret    []byte
	Logger    *zap.Logger

	SectionOptions  []rolesection.Option
	WorkbookOptions []workbook.Option
}

type Service struct {
	docs      store.DocumentStore
	sections  *rolesection.Repository
	workbooks *workbook.Repository
	hub       live.Hub
	search    *search.Service
	history   *gitrepo.Service
	archive   archive.Archiver
	exporter  *export.Service
	secret    []byte
	logger    *zap.Logger
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		docs:     deps.Docs,
		hub:      deps.Hub,
		search:   deps.Search,
		history:  deps.History,
		archive:  deps.Archive,
		exporter: deps.Exporter,
		secret:   deps.Secret,
		logger:   logger,
	}
	if s.hub == nil {
		s.hub = live.NewMemoryHub(logger)
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewMemoryIndex(), logger)
	}
	if s.archive == nil {
		s.archive = archive.Noop{}
	}
	if s.exporter == nil {
		s.exporter = export.NewService(export.WithLogger(logger))
	}
	generator := deps.Generator
	if generator == nil {
		generator = generation.StaticGenerator{}
	}

	sectionOpts := append([]rolesection.Option{rolesection.WithLogger(logger)}, deps.SectionOptions...)
	s.sections = rolesection.NewRepository(deps.Docs, append(sectionOpts, rolesection.WithObserver(s))...)
	workbookOpts := append([]workbook.Option{workbook.WithLogger(logger)}, deps.WorkbookOptions...)
	s.workbooks = workbook.NewRepository(deps.Docs, generator, append(workbookOpts, workbook.WithObserver(s))...)
	return s
}

func (s *Service) Sections() *rolesection.Repository {
	return s.sections
}

func (s *Service) Workbooks() *workbook.Repository {
	return s.workbooks
}

func (s *Service) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

// ActorFromToken resolves a bearer token to the acting contributor.
func (s *Service) ActorFromToken(token string) (domain.ActorContext, error) {
	return identity.Parse(s.secret, token)
}

// RoleSectionChanged implements rolesection.Observer.
func (s *Service) RoleSectionChanged(ctx context.Context, event rolesection.Event) {
	id := event.Section.RoleSectionID
	if event.Deleted {
		s.publish(ctx, live.RoleSectionTopic(id), nil)
		s.search.RemoveSection(id)
		return
	}
	s.publish(ctx, live.RoleSectionTopic(id), event.Section)
	s.search.IndexSection(event.Section)
	if s.history == nil {
		return
	}
	if _, err := s.history.Record(event.Section, event.Actor.DisplayName(), event.Op); err != nil {
		s.logger.Error("record section history",
			zap.String("role_section_id", id),
			zap.String("op", event.Op),
			zap.Error(err),
		)
	}
}

// WorkbookChanged implements workbook.Observer.
func (s *Service) WorkbookChanged(ctx context.Context, event workbook.Event) {
	wb := event.Workbook
	s.publish(ctx, live.WorkbookTopic(wb.WorkbookID), wb)

	// The person topic only follows the current week.
	if s.workbooks.CurrentWeek().Contains(wb.StartDate) {
		if wb.Status == store.WorkbookActive {
			s.publish(ctx, live.WorkbookPersonTopic(wb.FamilyID, wb.PersonID), wb)
		} else {
			s.publish(ctx, live.WorkbookPersonTopic(wb.FamilyID, wb.PersonID), nil)
		}
	}

	if event.Op == "complete" && wb.Status == store.WorkbookCompleted {
		key, err := s.archive.Put(context.WithoutCancel(ctx), wb)
		if err != nil {
			s.logger.Error("archive workbook", zap.String("workbook_id", wb.WorkbookID), zap.Error(err))
			return
		}
		if key != "" {
			s.logger.Info("workbook archived", zap.String("workbook_id", wb.WorkbookID), zap.String("key", key))
		}
	}
}

// publish sends a snapshot; a nil value is sent as JSON null.
func (s *Service) publish(ctx context.Context, topic string, value any) {
	payload := []byte("null")
	if value != nil {
		encoded, err := json.Marshal(value)
		if err != nil {
			s.logger.Error("encode live snapshot", zap.String("topic", topic), zap.Error(err))
			return
		}
		payload = encoded
	}
	if err := s.hub.Publish(context.WithoutCancel(ctx), topic, payload); err != nil {
		s.logger.Warn("publish live snapshot", zap.String("topic", topic), zap.Error(err))
	}
}

// RegenerateRequest carries the optional inputs of a regeneration. Assessments
// are only used when no Context is supplied.
type RegenerateRequest struct {
	Context     *generation.ContextBundle `json:"context"`
	Assessments []generation.LayerScore  `json:"assessments"`
	Timeout     time.Duration            `json:"-"`
}

// RegenerateActivities regenerates a workbook's open activities. Without a
// supplied bundle the context is built from the person's role sections, the
// given layer scores and last week's reflection.
func (s *Service) RegenerateActivities(ctx context.Context, actor domain.ActorContext, workbookID string, req RegenerateRequest) (store.Workbook, error) {
	bundle := req.Context
	if bundle == nil {
		wb, err := s.workbooks.Get(ctx, actor, workbookID)
		if err != nil {
			return store.Workbook{}, err
		}
		built, err := s.generationContext(ctx, actor, wb, req.Assessments)
		if err != nil {
			return store.Workbook{}, err
		}
		bundle = &built
	}
	return s.workbooks.RegenerateActivities(ctx, actor, workbookID, workbook.RegenerateOptions{
		Context: bundle,
		Timeout: req.Timeout,
	})
}

func (s *Service) generationContext(ctx context.Context, actor domain.ActorContext, wb store.Workbook, scores []generation.LayerScore) (generation.ContextBundle, error) {
	sections, err := s.sections.ListForPerson(ctx, actor, wb.PersonID)
	if err != nil {
		return generation.ContextBundle{}, err
	}
	week := workbook.WeekOf(wb.StartDate, wb.StartDate.Location())
	previous, err := s.workbooks.PreviousReflection(ctx, actor, wb.PersonID, week)
	if err != nil {
		return generation.ContextBundle{}, err
	}
	bundle := workbook.BuildGenerationContext(sections, workbook.Person{ID: wb.PersonID, Name: wb.PersonName, Assessments: scores}, previous)
	if bundle.ManualID == "" {
		bundle.ManualID = wb.ManualID
	}
	return bundle, nil
}

// SectionHistory lists recorded versions of a section the actor can see. A
// section with nothing recorded has an empty history.
func (s *Service) SectionHistory(ctx context.Context, actor domain.ActorContext, sectionID string, limit int) ([]gitrepo.CommitInfo, error) {
	if _, err := s.sections.Get(ctx, actor, sectionID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	commits, err := s.history.History(sectionID, limit)
	if errors.Is(err, gitrepo.ErrNoHistory) {
		return []gitrepo.CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read section history: %w", err)
	}
	return commits, nil
}

type SectionSnapshot struct {
	Commit  gitrepo.CommitInfo `json:"commit"`
	Section store.RoleSection  `json:"section"`
	// ChangedFields lists what differs between this version and the live one.
	ChangedFields []string `json:"changedFields"`
}

func (s *Service) SectionSnapshot(ctx context.Context, actor domain.ActorContext, sectionID, hash string) (SectionSnapshot, error) {
	current, err := s.sections.Get(ctx, actor, sectionID)
	if err != nil {
		return SectionSnapshot{}, err
	}
	if s.history == nil {
		return SectionSnapshot{}, gitrepo.ErrNoHistory
	}
	section, commit, err := s.history.SnapshotAt(sectionID, hash)
	if err != nil {
		return SectionSnapshot{}, err
	}
	changed, err := gitrepo.ChangedFields(section, current)
	if err != nil {
		return SectionSnapshot{}, err
	}
	if changed == nil {
		changed = []string{}
	}
	return SectionSnapshot{Commit: commit, Section: section, ChangedFields: changed}, nil
}

func (s *Service) ExportSectionPDF(ctx context.Context, actor domain.ActorContext, sectionID string) (*export.Result, error) {
	section, err := s.sections.Get(ctx, actor, sectionID)
	if err != nil {
		return nil, err
	}
	return s.exporter.RoleSectionPDF(ctx, section)
}

func (s *Service) ExportWorkbookSheet(ctx context.Context, actor domain.ActorContext, workbookID string) (*export.Result, error) {
	wb, err := s.workbooks.Get(ctx, actor, workbookID)
	if err != nil {
		return nil, err
	}
	return s.exporter.WorkbookSheet(wb)
}

// ArchiveWorkbook stores a completed workbook again, for example after the
// archive was unreachable when it was completed.
func (s *Service) ArchiveWorkbook(ctx context.Context, actor domain.ActorContext, workbookID string) (string, error) {
	wb, err := s.workbooks.Get(ctx, actor, workbookID)
	if err != nil {
		return "", err
	}
	if wb.Status != store.WorkbookCompleted {
		return "", domain.Validation("WORKBOOK_ACTIVE", "only completed workbooks are archived", nil)
	}
	key, err := s.archive.Put(ctx, wb)
	if err != nil {
		return "", fmt.Errorf("archive workbook: %w", err)
	}
	return key, nil
}

func (s *Service) ArchivedWorkbooks(ctx context.Context, actor domain.ActorContext, personID string) ([]archive.Entry, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	entries, err := s.archive.List(ctx, actor.TenantID, personID)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	return entries, nil
}

func (s *Service) Search(ctx context.Context, actor domain.ActorContext, text, manualID string, kind search.Kind) (search.Response, error) {
	return s.search.Search(ctx, actor, text, manualID, kind)
}

// ReindexSearch feeds every stored section to the search indexes. It is
// used at startup when the fallback index lives in process.
func (s *Service) ReindexSearch(ctx context.Context) error {
	docs, err := s.docs.Query(ctx, store.CollectionRoleSections, store.Query{})
	if err != nil {
		return fmt.Errorf("list role sections: %w", err)
	}
	sections := make([]store.RoleSection, 0, len(docs))
	for _, doc := range docs {
		section, err := store.Decode[store.RoleSection](doc)
		if err != nil {
			return err
		}
		sections = append(sections, section)
	}
	s.search.Reindex(ctx, sections)
	s.logger.Info("search index rebuilt", zap.Int("sections", len(sections)))
	return nil
}

// WatchSection streams snapshots of one section until ctx is done.
func (s *Service) WatchSection(ctx context.Context, actor domain.ActorContext, sectionID string) (<-chan live.Snapshot[store.RoleSection], error) {
	if _, err := s.sections.Get(ctx, actor, sectionID); err != nil {
		return nil, err
	}
	return live.Watch(ctx, s.hub, live.RoleSectionTopic(sectionID), func(ctx context.Context) (store.RoleSection, bool, error) {
		section, err := s.sections.Get(ctx, actor, sectionID)
		if errors.Is(err, domain.ErrNotFound) {
			return store.RoleSection{}, false, nil
		}
		return section, err == nil, err
	})
}

func (s *Service) WatchWorkbook(ctx context.Context, actor domain.ActorContext, workbookID string) (<-chan live.Snapshot[store.Workbook], error) {
	if _, err := s.workbooks.Get(ctx, actor, workbookID); err != nil {
		return nil, err
	}
	return live.Watch(ctx, s.hub, live.WorkbookTopic(workbookID), func(ctx context.Context) (store.Workbook, bool, error) {
		wb, err := s.workbooks.Get(ctx, actor, workbookID)
		if errors.Is(err, domain.ErrNotFound) {
			return store.Workbook{}, false, nil
		}
		return wb, err == nil, err
	})
}

// WatchActiveWorkbook follows whichever workbook is active for the person
// this week.
func (s *Service) WatchActiveWorkbook(ctx context.Context, actor domain.ActorContext, personID string) (<-chan live.Snapshot[store.Workbook], error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	return live.Watch(ctx, s.hub, live.WorkbookPersonTopic(actor.TenantID, personID), func(ctx context.Context) (store.Workbook, bool, error) {
		wb, err := s.workbooks.GetActiveForWeek(ctx, actor, personID)
		if err != nil || wb == nil {
			return store.Workbook{}, false, err
		}
		return *wb, true, nil
	})
}
