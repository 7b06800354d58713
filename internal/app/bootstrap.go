package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/archive"
	"github.com/scottring/ParentPulse-sub002/internal/config"
	"github.com/scottring/ParentPulse-sub002/internal/export"
	"github.com/scottring/ParentPulse-sub002/internal/generation"
	"github.com/scottring/ParentPulse-sub002/internal/gitrepo"
	"github.com/scottring/ParentPulse-sub002/internal/live"
	"github.com/scottring/ParentPulse-sub002/internal/rolesection"
	"github.com/scottring/ParentPulse-sub002/internal/search"
	"github.com/scottring/ParentPulse-sub002/internal/store"
	"github.com/scottring/ParentPulse-sub002/internal/workbook"
)

// Bootstrap builds a Service from configuration. The returned func releases
// every connection that was opened and must be called once the Service is no
// longer used.
func Bootstrap(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Service, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Service, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	docs, db, err := store.OpenDocumentStore(ctx, store.Options{
		Driver:        cfg.StoreDriver,
		DatabaseURL:   cfg.DatabaseURL,
		SQLitePath:    cfg.SQLitePath,
		MigrationsDir: cfg.MigrationsDir,
	})
	if err != nil {
		return fail(fmt.Errorf("open %s store: %w", cfg.StoreDriver, err))
	}
	closers = append(closers, func() { _ = docs.Close() })

	var hub live.Hub
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisHub, err := live.NewRedisHub(cfg.RedisURL, logger)
		if err != nil {
			return fail(fmt.Errorf("redis connection failed: %w", err))
		}
		closers = append(closers, func() { _ = redisHub.Close() })
		hub = redisHub
		logger.Info("using redis for live updates")
	} else {
		hub = live.NewMemoryHub(logger)
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		closers = append(closers, meili.Close)
	}
	var fallback search.Searcher
	if db == nil {
		fallback = search.NewMemoryIndex()
	} else {
		fallback = search.NewPgFTS(db)
	}

	var history *gitrepo.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			return fail(fmt.Errorf("create history dir: %w", err))
		}
		history = gitrepo.New(cfg.HistoryDir)
	}

	var archiver archive.Archiver = archive.Noop{}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchiver, err := archive.NewMinio(ctx, archive.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.ArchiveBucket,
		})
		if err != nil {
			return fail(fmt.Errorf("archive connection failed: %w", err))
		}
		archiver = minioArchiver
	}

	var generator generation.Generator = generation.StaticGenerator{}
	if strings.TrimSpace(cfg.GenerationURL) != "" {
		generator = generation.NewHTTPGenerator(cfg.GenerationURL, cfg.GenerationAPIKey, cfg.GenerationTimeout,
			generation.WithLogger(logger))
	} else {
		logger.Warn("GENERATION_URL not set, using static activities")
	}

	loc, err := workbook.LoadLocation(cfg.WeekTimezone)
	if err != nil {
		return fail(fmt.Errorf("week timezone %q: %w", cfg.WeekTimezone, err))
	}
	retry := store.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.CASMaxAttempts
	searchService := search.NewService(meili, fallback, logger)
	closers = append(closers, searchService.Close)

	service := New(Deps{
		Docs:      docs,
		Generator: generator,
		Hub:       hub,
		Search:    searchService,
		History:   history,
		Archive:   archiver,
		Exporter:  export.NewService(export.WithLogger(logger)),
		Secret:    []byte(cfg.IdentitySecret),
		Logger:    logger,
		SectionOptions: []rolesection.Option{
			rolesection.WithRetryPolicy(retry),
		},
		WorkbookOptions: []workbook.Option{
			workbook.WithLocation(loc),
			workbook.WithGenerationTimeout(cfg.GenerationTimeout),
			workbook.WithRetryPolicy(retry),
		},
	})

	// The in-process index starts empty on every boot.
	if db == nil && meili == nil {
		if err := service.ReindexSearch(ctx); err != nil {
			logger.Warn("search reindex failed", zap.Error(err))
		}
	}
	return service, cleanup, nil
}
