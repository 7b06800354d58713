package search

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/store"
)

// sectionWriter is the remote index that receives queued section writes.
type sectionWriter interface {
	Healthy() bool
	ReplaceSection(ctx context.Context, sectionID string, items []Item) error
	DeleteSection(ctx context.Context, sectionID string) error
}

type indexJob struct {
	sectionID string
	items     []Item
	remove    bool
}

const indexQueueSize = 256

// Service is the facade that tries Meilisearch first and falls back to the
// secondary searcher (Postgres FTS or the memory index).
type Service struct {
	meili    *Meili
	remote   sectionWriter
	fallback Searcher
	logger   *zap.Logger

	jobs      chan indexJob
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, fallback Searcher, logger *zap.Logger) *Service {
	s := newService(fallback, logger)
	if meili != nil {
		s.meili = meili
		s.startWriter(meili)
	}
	return s
}

func newService(fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{fallback: fallback, logger: logger, stop: make(chan struct{})}
}

// startWriter applies remote writes one at a time in the order they were
// queued, so a later revision of a section is never overwritten by an
// earlier one.
func (s *Service) startWriter(remote sectionWriter) {
	s.remote = remote
	s.jobs = make(chan indexJob, indexQueueSize)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.jobs:
				s.apply(job)
			case <-s.stop:
				for {
					select {
					case job := <-s.jobs:
						s.apply(job)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Service) apply(job indexJob) {
	if job.remove {
		if err := s.remote.DeleteSection(context.Background(), job.sectionID); err != nil {
			s.logger.Error("meili remove section", zap.String("role_section_id", job.sectionID), zap.Error(err))
		}
		return
	}
	if err := s.remote.ReplaceSection(context.Background(), job.sectionID, job.items); err != nil {
		s.logger.Error("meili index section", zap.String("role_section_id", job.sectionID), zap.Error(err))
	}
}

func (s *Service) enqueue(job indexJob) {
	if s.remote == nil || !s.remote.Healthy() {
		return
	}
	select {
	case <-s.stop:
		s.logger.Warn("search closed, dropping index write", zap.String("role_section_id", job.sectionID))
		return
	default:
	}
	select {
	case s.jobs <- job:
	case <-s.stop:
		s.logger.Warn("search closed, dropping index write", zap.String("role_section_id", job.sectionID))
	}
}

// Close flushes queued remote writes and stops the writer.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}

// Search finds items of the actor's family. Blank text returns no results.
func (s *Service) Search(ctx context.Context, actor domain.ActorContext, text, manualID string, kind Kind) (Response, error) {
	if err := actor.Validate(); err != nil {
		return Response{}, err
	}
	if kind != "" && !kind.Valid() {
		return Response{}, domain.Validation("INVALID_KIND", "unknown search kind", map[string]any{"kind": kind})
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Response{Results: []Result{}, Query: text}, nil
	}
	q := Query{Text: text, TenantID: actor.TenantID, ManualID: manualID, Kind: kind}

	if s.meili != nil && s.meili.Healthy() {
		results, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Query: text}, nil
		}
		s.logger.Warn("meilisearch error, falling back", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: text}, nil
	}

	results, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: text}, nil
	}
	return Response{Results: nonNil(results), Query: text}, nil
}

// IndexSection pushes the section's items. Meilisearch writes are queued and
// applied in order; an in-process fallback index is updated synchronously.
func (s *Service) IndexSection(section store.RoleSection) {
	items := ItemsFor(section)
	if indexer, ok := s.fallback.(Indexer); ok {
		if err := indexer.ReplaceSection(context.Background(), section.RoleSectionID, items); err != nil {
			s.logger.Error("index section", zap.String("role_section_id", section.RoleSectionID), zap.Error(err))
		}
	}
	s.enqueue(indexJob{sectionID: section.RoleSectionID, items: items})
}

// RemoveSection drops every item of a deleted section.
func (s *Service) RemoveSection(sectionID string) {
	if indexer, ok := s.fallback.(Indexer); ok {
		if err := indexer.DeleteSection(context.Background(), sectionID); err != nil {
			s.logger.Error("remove section", zap.String("role_section_id", sectionID), zap.Error(err))
		}
	}
	s.enqueue(indexJob{sectionID: sectionID, remove: true})
}

// Reindex rebuilds the indexes from every supplied section.
func (s *Service) Reindex(ctx context.Context, sections []store.RoleSection) {
	for _, section := range sections {
		if err := ctx.Err(); err != nil {
			return
		}
		s.IndexSection(section)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
