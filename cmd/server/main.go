// Server exposes the sync REST API: job submission, namespace management,
// and health. Requires DATABASE_URL plus API keys for the platforms in use.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outreach-sync-engine/internal/config"
	"outreach-sync-engine/internal/db"
	"outreach-sync-engine/internal/enrichment"
	eventrepo "outreach-sync-engine/internal/event/repository"
	leadrepo "outreach-sync-engine/internal/lead/repository"
	"outreach-sync-engine/internal/namespace"
	nsrepo "outreach-sync-engine/internal/namespace/repository"
	"outreach-sync-engine/internal/notify"
	"outreach-sync-engine/internal/platform"
	"outreach-sync-engine/internal/ratelimit"
	"outreach-sync-engine/internal/retry"
	"outreach-sync-engine/internal/scoring"
	scoringrepo "outreach-sync-engine/internal/scoring/repository"
	"outreach-sync-engine/internal/server"
	jobrepo "outreach-sync-engine/internal/syncjob/repository"
	"outreach-sync-engine/internal/syncjob/service"
	"outreach-sync-engine/internal/telemetry"
	"outreach-sync-engine/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "outreach-sync-engine", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	registry, err := namespace.NewRegistry(ctx, nsrepo.NewPostgresRepository(conn))
	if err != nil {
		log.Fatalf("namespace registry: %v", err)
	}

	engine, err := loadEngine(ctx, scoringrepo.NewPostgresRepository(conn))
	if err != nil {
		log.Fatalf("scoring config: %v", err)
	}

	limiter := ratelimit.New(cfg.RateLimitWait())
	limits, err := cfg.PlatformLimits()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	for _, l := range limits {
		limiter.Configure(l.Platform, ratelimit.Limits{
			RequestsPerSecond: l.RequestsPerSecond,
			MaxBatch:          l.MaxBatch,
		})
	}

	attio := platform.NewAttioConnector(cfg.AttioBaseURL, cfg.AttioAPIKey, limiter)
	connectors := platform.Set{}
	for _, c := range []platform.Connector{
		platform.NewInstantlyConnector(cfg.InstantlyBaseURL, cfg.InstantlyAPIKey, limiter),
		platform.NewSmartleadConnector(cfg.SmartleadBaseURL, cfg.SmartleadAPIKey, limiter),
		attio,
	} {
		connectors[c.Name()] = c
	}

	jobs := jobrepo.NewPostgresRepository(conn)
	orch := service.NewOrchestrator(service.Options{
		Connectors:        connectors,
		Registry:          registry,
		Leads:             leadrepo.NewPostgresRepository(conn),
		Events:            eventrepo.NewPostgresRepository(conn),
		Jobs:              jobs,
		Watermarks:        jobrepo.NewPostgresWatermarkRepository(conn),
		Limiter:           limiter,
		Engine:            engine,
		Enricher:          buildEnrichment(cfg),
		CRM:               attio,
		RetryPolicy:       retryPolicy(cfg),
		BatchTimeout:      cfg.BatchTimeoutDuration(),
		DefaultBatchSize:  cfg.DefaultBatchSize,
		MaxConcurrent:     cfg.MaxConcurrentTasks,
		MinBehaviorExport: cfg.MinBehaviorScoreForExport,
	})

	tracker := service.NewTracker(jobs, orch, registry, connectors.Names(), buildNotifiers(cfg, providers)...)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.New(tracker, registry, connectors, conn).Router(),
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}

// loadEngine builds the scoring engine from the active stored config,
// falling back to the built-in defaults when none has been seeded yet.
func loadEngine(ctx context.Context, repo scoringrepo.Repository) (*scoring.Engine, error) {
	raw, err := repo.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		cfg, err := scoring.DefaultRawConfig().Resolve()
		if err != nil {
			return nil, err
		}
		log.Println("scoring: no active config stored, using built-in defaults")
		return scoring.NewEngine(cfg), nil
	}
	cfg, err := scoring.ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	return scoring.NewEngine(cfg), nil
}

// buildEnrichment assembles the enrichment chain from the configured sources.
// Returns nil when no source is configured; leads then keep their stored ICP scores.
func buildEnrichment(cfg *config.Config) *enrichment.Chain {
	var steps []enrichment.Step
	if cfg.EnrichAIURL != "" {
		steps = append(steps, enrichment.Step{
			Source:        enrichment.NewHTTPSource("ai", cfg.EnrichAIURL, cfg.EnrichAIKey),
			MinConfidence: 0.7,
		})
	}
	if cfg.EnrichSecondaryURL != "" {
		steps = append(steps, enrichment.Step{
			Source:        enrichment.NewHTTPSource("secondary", cfg.EnrichSecondaryURL, cfg.EnrichSecondaryKey),
			MinConfidence: 0.5,
		})
	}
	if cfg.EnrichPrimaryURL != "" {
		steps = append(steps, enrichment.Step{
			Source:        enrichment.NewHTTPSource("primary", cfg.EnrichPrimaryURL, cfg.EnrichPrimaryKey),
			MinConfidence: 0.5,
		})
	}
	if len(steps) == 0 {
		return nil
	}
	return enrichment.NewChain(steps...)
}

func buildNotifiers(cfg *config.Config, providers *otel.Providers) []service.JobNotifier {
	var notifiers []service.JobNotifier
	if k := notify.NewKafkaNotifier(cfg.KafkaBrokersList(), cfg.KafkaTopic); k != nil {
		notifiers = append(notifiers, k)
	}
	notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.CallbackURL))
	metrics, err := telemetry.NewMetricsNotifier(providers.MeterProvider.Meter("outreach-sync-engine"))
	if err != nil {
		log.Printf("telemetry: metrics disabled: %v", err)
	} else {
		notifiers = append(notifiers, metrics)
	}
	return notifiers
}

func retryPolicy(cfg *config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = cfg.RetryMaxAttempts
	p.BaseBackoff = cfg.RetryBackoff()
	return p
}
