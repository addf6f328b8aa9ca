package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"BlogPublisher/internal/config"
	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/infrastructure/airtable"
	"BlogPublisher/internal/infrastructure/extract"
	"BlogPublisher/internal/infrastructure/journal"
	"BlogPublisher/internal/infrastructure/lease"
	"BlogPublisher/internal/infrastructure/llm"
	"BlogPublisher/internal/infrastructure/metrics"
	"BlogPublisher/internal/infrastructure/scheduler"
	"BlogPublisher/internal/infrastructure/telegram"
	"BlogPublisher/internal/infrastructure/wordpress"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/ports"
	"BlogPublisher/internal/transport/httpapi"
	"BlogPublisher/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	composer  *usecase.Composer
	journal   ports.Journal
	pool      *pgxpool.Pool
	redis     *redis.Client
}

// New builds the application. Optional collaborators (journal, lease,
// alerts, generator) are enabled by their configuration keys.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.NewWithFormat(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	location := cfg.Scheduler.Location()
	store := airtable.NewClient(cfg.RecordStore, location, baseLogger.With("component", "airtable"))
	publisher := wordpress.NewPublisher(cfg.CMS, baseLogger.With("component", "wordpress"))

	deps := usecase.PipelineDeps{
		Store:       store,
		Publisher:   publisher,
		Metrics:     metrics.NewRecorder(a.registry),
		Logger:      baseLogger.With("component", "pipeline"),
		Location:    location,
		RecordDelay: cfg.Scheduler.RecordDelay,
	}

	if cfg.Journal.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Journal.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect journal database: %w", err)
		}
		a.pool = pool
		j := journal.NewPostgresJournal(pool)
		if err := j.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		a.journal = j
		deps.Journal = j
	}

	if cfg.Lease.RedisAddr != "" {
		leaseCfg := cfg.Lease
		leaseCfg.TTL = cfg.LeaseTTL()
		if leaseCfg.TTL != cfg.Lease.TTL {
			baseLogger.Warn("lease ttl raised to cover the publish retry budget",
				"configured", cfg.Lease.TTL, "effective", leaseCfg.TTL)
		}
		a.redis = lease.NewClient(leaseCfg)
		deps.Lease = lease.NewRedisLease(a.redis, leaseCfg, baseLogger.With("component", "lease"))
	}

	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		deps.Notifier = telegram.NewNotifier(cfg.Notifications.Telegram)
	}

	a.pipeline = usecase.NewPipeline(deps)
	a.scheduler = usecase.NewScheduler(
		scheduler.NewIntervalScheduler(cfg.Scheduler.PollInterval),
		a.pipeline,
		baseLogger.With("component", "scheduler"),
	)

	if cfg.Generator.APIKey != "" {
		a.composer = usecase.NewComposer(
			extract.NewHTMLExtractor(nil),
			llm.NewClient(cfg.Generator),
			store,
			a.pipeline,
			baseLogger.With("component", "composer"),
		)
	}

	return a, nil
}

// Trigger performs exactly one pipeline cycle.
func (a *Application) Trigger(ctx context.Context, req usecase.Request) (domain.CycleSummary, error) {
	return a.pipeline.Run(ctx, req)
}

// RunLoop runs the poll loop until ctx is cancelled.
func (a *Application) RunLoop(ctx context.Context, req usecase.Request) error {
	return a.scheduler.WithRequest(req).Run(ctx)
}

// Serve runs the HTTP trigger surface and the poll loop together.
func (a *Application) Serve(ctx context.Context, withLoop bool) error {
	server := httpapi.NewServer(a.pipeline, a.registry, a.cfg.Server, a.logger.With("component", "http"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	if withLoop {
		g.Go(func() error { return a.scheduler.Run(ctx) })
	}
	return g.Wait()
}

// Compose generates and stores a new record.
func (a *Application) Compose(ctx context.Context, req usecase.ComposeRequest) (usecase.ComposeResult, error) {
	if a.composer == nil {
		return usecase.ComposeResult{}, fmt.Errorf("draft composition needs GEMINI_API_KEY")
	}
	return a.composer.Compose(ctx, req)
}

// Inconsistencies lists live posts whose write-back failed.
func (a *Application) Inconsistencies(ctx context.Context, limit uint64) ([]domain.JournalEntry, error) {
	if a.journal == nil {
		return nil, fmt.Errorf("the publication journal needs DATABASE_DSN")
	}
	return a.journal.Inconsistencies(ctx, limit)
}

// Location is the configured scheduler timezone.
func (a *Application) Location() *time.Location {
	return a.cfg.Scheduler.Location()
}

// Close releases database and cache connections.
func (a *Application) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
}
