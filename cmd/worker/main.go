// Worker submits recurring incremental syncs on a fixed interval. Set
// SCHEDULER_INTERVAL (e.g. "1h") plus DATABASE_URL and the platform API keys.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

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
	"outreach-sync-engine/internal/scheduler"
	"outreach-sync-engine/internal/scoring"
	scoringrepo "outreach-sync-engine/internal/scoring/repository"
	jobrepo "outreach-sync-engine/internal/syncjob/repository"
	"outreach-sync-engine/internal/syncjob/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}
	interval := cfg.SchedulerIntervalDuration()
	if interval <= 0 {
		log.Fatal("worker: SCHEDULER_INTERVAL is required (e.g. 1h)")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	bootCtx := context.Background()
	registry, err := namespace.NewRegistry(bootCtx, nsrepo.NewPostgresRepository(conn))
	if err != nil {
		log.Fatalf("namespace registry: %v", err)
	}

	engine, err := loadEngine(bootCtx, scoringrepo.NewPostgresRepository(conn))
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

	retryPolicy := retry.DefaultPolicy()
	retryPolicy.MaxAttempts = cfg.RetryMaxAttempts
	retryPolicy.BaseBackoff = cfg.RetryBackoff()

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
		RetryPolicy:       retryPolicy,
		BatchTimeout:      cfg.BatchTimeoutDuration(),
		DefaultBatchSize:  cfg.DefaultBatchSize,
		MaxConcurrent:     cfg.MaxConcurrentTasks,
		MinBehaviorExport: cfg.MinBehaviorScoreForExport,
	})

	var notifiers []service.JobNotifier
	if k := notify.NewKafkaNotifier(cfg.KafkaBrokersList(), cfg.KafkaTopic); k != nil {
		notifiers = append(notifiers, k)
	}
	notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.CallbackURL))

	tracker := service.NewTracker(jobs, orch, registry, connectors.Names(), notifiers...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: scheduling incremental syncs for %v every %v", connectors.Names(), interval)
	scheduler.New(tracker, connectors.Names(), interval).Run(ctx)
	log.Println("worker: stopped")
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
