package guard

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"fraudguard/internal/action"
	"fraudguard/internal/api"
	"fraudguard/internal/config"
	"fraudguard/internal/detections"
	"fraudguard/internal/detector"
	"fraudguard/internal/ingest"
	"fraudguard/internal/metrics"
	"fraudguard/internal/profile"
	"fraudguard/internal/rule"
	"fraudguard/internal/scorer"
	"fraudguard/internal/storage"
)

const Version = "0.3.0"

// Runtime assembles the full pipeline from configuration: storage, metrics,
// detectors, rule engine, scorer, executor, ingest sources and the admin
// API. Hosts embedding the pipeline in-process construct the pieces
// themselves instead.
type Runtime struct {
	Cfg        *config.Manager
	Guard      *Guard
	Registry   *detector.Registry
	Profiles   *profile.Service
	Rules      *rule.Engine
	Executor   *action.Executor
	Detections *detections.Store
	Collector  *metrics.Collector
	Store      storage.Store
	Logger     *slog.Logger

	apiServer  *http.Server
	restServer *http.Server
}

func NewRuntime(cfg *config.Manager, logger *slog.Logger) (*Runtime, error) {
	current := cfg.Get()
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(current.Storage)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(current.Metrics.SampleLimit)
	registry := detector.NewDefaultRegistry(current.Detectors, collector)
	profiles := profile.NewService(store, logger)
	sc := scorer.New(registry, profiles, current.Scoring, logger)
	engine := rule.NewEngine(store, rule.NewExprEvaluator(collector), logger)
	detectionStore := detections.NewStore(current.Detections.StoreLimit, store, logger)
	executor := action.NewExecutor(detectionStore, logger)

	rt := &Runtime{
		Cfg:        cfg,
		Registry:   registry,
		Profiles:   profiles,
		Rules:      engine,
		Executor:   executor,
		Detections: detectionStore,
		Collector:  collector,
		Store:      store,
		Logger:     logger,
	}
	rt.Guard = New(cfg, engine, sc, executor, collector, logger)
	return rt, nil
}

// Start initializes storage, launches the pipeline loop, the ingest sources
// and the admin API, then returns. Everything winds down when ctx is
// canceled.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.Store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := rt.Store.Init(initCtx); err != nil {
			return err
		}
	}

	rt.Guard.Start(ctx)
	rt.restServer = ingest.StartREST(ctx, rt.Cfg, rt.Guard.Events(), rt.Logger)
	ingest.StartKafka(ctx, rt.Cfg, rt.Guard.Events(), rt.Logger)
	rt.apiServer = api.Start(ctx, rt.Cfg, rt.Detections, rt.Profiles, rt.Rules, rt.Executor, rt.Collector, rt.Registry.Names(), rt.Logger, Version)
	return nil
}

// Close waits for the pipeline loop to drain and releases storage.
func (rt *Runtime) Close() error {
	rt.Guard.Wait()
	if rt.Store != nil {
		return rt.Store.Close()
	}
	return nil
}
