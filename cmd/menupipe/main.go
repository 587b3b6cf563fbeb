// Package main wires together the menu pipeline service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/api"
	"github.com/grazeapp/menupipe/internal/artifact"
	"github.com/grazeapp/menupipe/internal/clock/system"
	"github.com/grazeapp/menupipe/internal/config"
	"github.com/grazeapp/menupipe/internal/crawl"
	"github.com/grazeapp/menupipe/internal/embed"
	"github.com/grazeapp/menupipe/internal/hash/sha256"
	"github.com/grazeapp/menupipe/internal/id/uuid"
	"github.com/grazeapp/menupipe/internal/label"
	"github.com/grazeapp/menupipe/internal/logging"
	"github.com/grazeapp/menupipe/internal/menuparse"
	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/ocr"
	"github.com/grazeapp/menupipe/internal/pipeline"
	publishermem "github.com/grazeapp/menupipe/internal/publisher/memory"
	publisherps "github.com/grazeapp/menupipe/internal/publisher/pubsub"
	queuemem "github.com/grazeapp/menupipe/internal/queue/memory"
	queuepg "github.com/grazeapp/menupipe/internal/queue/postgres"
	"github.com/grazeapp/menupipe/internal/score"
	"github.com/grazeapp/menupipe/internal/search"
	searchmem "github.com/grazeapp/menupipe/internal/search/memory"
	"github.com/grazeapp/menupipe/internal/search/milvus"
	"github.com/grazeapp/menupipe/internal/search/rediscache"
	storagegcs "github.com/grazeapp/menupipe/internal/storage/gcs"
	storagelocal "github.com/grazeapp/menupipe/internal/storage/local"
	storagemem "github.com/grazeapp/menupipe/internal/storage/memory"
	storemem "github.com/grazeapp/menupipe/internal/store/memory"
	storepg "github.com/grazeapp/menupipe/internal/store/postgres"
	"github.com/grazeapp/menupipe/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	backend, err := buildBackend(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer backend.close()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	artifacts := artifact.NewService(blobs, backend.artifacts, hasher, clock, idGen)

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	index, cache, err := buildSearchBackends(ctx, cfg)
	if err != nil {
		return err
	}

	embedder, err := embed.NewHTTPEmbedder(embed.ClientConfig{
		Endpoint:  cfg.Embed.Endpoint,
		APIKey:    os.Getenv("MENUPIPE_EMBED_API_KEY"),
		Model:     cfg.Embed.Model,
		Dimension: cfg.Embed.Dimension,
		BatchSize: cfg.Embed.BatchSize,
		RPS:       cfg.Embed.RPS,
		Timeout:   time.Duration(cfg.Embed.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("embedding client: %w", err)
	}

	ocrEngine, err := ocr.NewHTTPEngine(ocr.EngineConfig{
		Endpoint: cfg.OCR.Endpoint,
		APIKey:   os.Getenv("MENUPIPE_OCR_API_KEY"),
		Timeout:  time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("ocr engine: %w", err)
	}

	var classifier pipeline.Classifier
	if cfg.Label.Endpoint != "" {
		httpClassifier, err := label.NewHTTPClassifier(label.ClassifierConfig{
			Endpoint: cfg.Label.Endpoint,
			APIKey:   os.Getenv("MENUPIPE_LABEL_API_KEY"),
			Timeout:  time.Duration(cfg.Label.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("label classifier: %w", err)
		}
		classifier = httpClassifier
	} else {
		logger.Info("label classifier endpoint not set, rule labeling only")
	}

	recomputer := score.NewRecomputer(backend.menus, backend.places, logger.Named("score"))
	searchSvc := search.NewService(search.ServiceConfig{
		TopK:     cfg.Search.TopK,
		CacheTTL: time.Duration(cfg.Search.CacheTTLSeconds) * time.Second,
	}, embedder, index, backend.menus, backend.places, cache, logger.Named("search"))

	fetcher := crawl.NewCollyFetcher(crawl.CollyConfig{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.CrawlTimeout(),
	})
	var headless crawl.Fetcher
	if cfg.Crawler.HeadlessEnabled {
		headlessFetcher, err := crawl.NewHeadlessFetcher(crawl.HeadlessConfig{
			MaxParallel:       cfg.Crawler.HeadlessParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Crawler.HeadlessNavSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = headlessFetcher
		}
	}

	crawlStage := crawl.NewStage(crawl.StageConfig{
		AssetTimeout: cfg.AssetTimeout(),
		MaxAssets:    cfg.Crawler.MaxAssets,
	}, crawl.StageDeps{
		Queue:     backend.queue,
		Artifacts: artifacts,
		Runs:      backend.runs,
		Places:    backend.places,
		Fetcher:   fetcher,
		Headless:  headless,
		Detector:  crawl.NewDetector(cfg.Crawler.PromotionBodySize),
		Robots:    crawl.NewRobotsEnforcer(true, cfg.Crawler.UserAgent, logger.Named("robots")),
		Publisher: publisher,
		Clock:     clock,
		IDs:       idGen,
		Logger:    logger.Named("crawl"),
	})
	ocrStage := ocr.NewStage(backend.queue, artifacts, ocrEngine, idGen, logger.Named("ocr"))
	parseStage := menuparse.NewStage(backend.queue, artifacts, backend.menus, recomputer, clock, idGen, logger.Named("parse"))
	labelStage := label.NewStage(backend.queue, backend.menus, recomputer, classifier, clock, idGen, logger.Named("label"))
	embedStage := embed.NewStage(backend.menus, embedder, index, clock, logger.Named("embed"))

	dispatcher := worker.NewDispatcher(backend.queue, []worker.Pool{
		{Handler: crawlStage, Count: cfg.Workers.Crawl},
		{Handler: ocrStage, Count: cfg.Workers.OCR},
		{Handler: parseStage, Count: cfg.Workers.Parse},
		{Handler: labelStage, Count: cfg.Workers.Label},
		{Handler: embedStage, Count: cfg.Workers.Embed},
	}, time.Duration(cfg.Queue.PollIntervalMs)*time.Millisecond, logger.Named("worker"))

	apiServer := api.NewServer(cfg, api.Deps{
		Places:     backend.places,
		Menus:      backend.menus,
		Runs:       backend.runs,
		Queue:      backend.queue,
		Search:     searchSvc,
		Recomputer: recomputer,
		IDs:        idGen,
		Clock:      clock,
		Logger:     logger.Named("api"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatcherDone := make(chan error, 1)
	go func() {
		logger.Info("dispatcher started")
		dispatcherDone <- dispatcher.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-dispatcherDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// backend bundles the persistence layer so run can swap memory and
// Postgres implementations behind one seam.
type backend struct {
	queue     pipeline.JobQueue
	places    pipeline.PlaceStore
	menus     pipeline.MenuStore
	runs      pipeline.CrawlRunStore
	artifacts pipeline.ArtifactStore
	close     func()
}

func buildBackend(ctx context.Context, cfg config.Config, clock pipeline.Clock) (*backend, error) {
	if cfg.DB.DSN == "" {
		return &backend{
			queue: queuemem.NewQueue(clock, queuemem.Config{
				BackoffBase: cfg.BackoffBase(),
				BackoffCap:  cfg.BackoffCap(),
			}),
			places:    storemem.NewPlaceStore(),
			menus:     storemem.NewMenuStore(),
			runs:      storemem.NewCrawlRunStore(),
			artifacts: storemem.NewArtifactStore(),
			close:     func() {},
		}, nil
	}

	pool, err := storepg.NewPool(ctx, storepg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	places, err := storepg.NewPlaceStore(pool)
	if err != nil {
		return nil, err
	}
	menus, err := storepg.NewMenuStore(pool)
	if err != nil {
		return nil, err
	}
	runs, err := storepg.NewCrawlRunStore(pool)
	if err != nil {
		return nil, err
	}
	artifacts, err := storepg.NewArtifactStore(pool)
	if err != nil {
		return nil, err
	}
	queue, err := queuepg.NewQueue(ctx, queuepg.Config{
		DSN:         cfg.DB.DSN,
		MaxConns:    cfg.DB.MaxConns,
		MinConns:    cfg.DB.MinConns,
		BackoffBase: cfg.BackoffBase(),
		BackoffCap:  cfg.BackoffCap(),
	}, clock)
	if err != nil {
		return nil, fmt.Errorf("postgres queue: %w", err)
	}
	return &backend{
		queue:     queue,
		places:    places,
		menus:     menus,
		runs:      runs,
		artifacts: artifacts,
		close:     pool.Close,
	}, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (pipeline.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "", "memory":
		return storagemem.NewBlobStore(), nil
	case "local":
		return storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return storagegcs.New(client, storagegcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (pipeline.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return publishermem.New(), func() {}, nil
	}
	client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := publisherps.New(client)
	return pub, func() {
		pub.Close()
		_ = client.Close()
	}, nil
}

func buildSearchBackends(ctx context.Context, cfg config.Config) (pipeline.VectorIndex, pipeline.QueryCache, error) {
	var index pipeline.VectorIndex
	if cfg.Search.MilvusAddr != "" {
		milvusIndex, err := milvus.NewIndex(ctx, milvus.Config{
			Address:    cfg.Search.MilvusAddr,
			Username:   os.Getenv("MENUPIPE_MILVUS_USERNAME"),
			Password:   os.Getenv("MENUPIPE_MILVUS_PASSWORD"),
			Collection: cfg.Search.MilvusColl,
			Dimension:  cfg.Embed.Dimension,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("milvus index: %w", err)
		}
		index = milvusIndex
	} else {
		index = searchmem.NewIndex()
	}

	var cache pipeline.QueryCache
	if cfg.Search.RedisAddr != "" {
		redisCache, err := rediscache.NewCache(ctx, rediscache.Config{
			Addr:     cfg.Search.RedisAddr,
			Password: os.Getenv("MENUPIPE_REDIS_PASSWORD"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		cache = redisCache
	} else {
		cache = searchmem.NewCache()
	}
	return index, cache, nil
}
