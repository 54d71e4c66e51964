package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fraudwatch/internal/alerting"
	"fraudwatch/internal/api"
	"fraudwatch/internal/cache"
	"fraudwatch/internal/config"
	"fraudwatch/internal/fetcher"
	"fraudwatch/internal/fraud"
	"fraudwatch/internal/metrics"
	"fraudwatch/internal/scheduler"
	"fraudwatch/internal/service"
	"fraudwatch/internal/storage"
	"fraudwatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// newSource picks the snapshot source. A file path overrides the configured kind.
func (a *App) newSource(ctx context.Context, file string) (fetcher.SnapshotFetcher, func(), error) {
	if file != "" {
		return fetcher.File{Path: file}, func() {}, nil
	}

	switch a.Config.Source.Kind {
	case config.SourceFile:
		return fetcher.File{Path: a.Config.Source.File}, func() {}, nil
	case config.SourcePostgres:
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		if store == nil {
			return nil, nil, errors.New("database.dsn not configured; cannot read transactions")
		}
		return store, closeStore, nil
	default:
		src := a.Config.Source
		return fetcher.NewHTTP(fetcher.HTTPOptions{
			BaseURL:   src.BaseURL,
			Path:      src.Path,
			Timeout:   src.RequestTimeout,
			UserAgent: src.UserAgent,
			Token:     src.Token,
		}, a.Logger), func() {}, nil
	}
}

func (a *App) newEngine() *fraud.Engine {
	return fraud.NewEngine(a.Config.Detection.Workers, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openCache(ctx context.Context) (*cache.RedisCache, error) {
	if !a.Config.Cache.Enabled {
		return nil, nil
	}
	cfg := a.Config.Cache
	return cache.NewRedisCache(ctx, cache.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Key:      cfg.Key,
		TTL:      cfg.TTL,
	})
}

func (a *App) serviceOptions() service.Options {
	return service.Options{
		Detection: a.Config.DetectionOptions(),
		Window:    a.Config.Source.Window,
		Timeout:   a.Config.Source.RequestTimeout,
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
		Channels:  a.Config.Alerting.Channels,
		AlertsOn:  a.Config.Alerting.Enabled,
		AlertFilter: alerting.FilterOptions{
			MinSeverity: fraud.Severity(a.Config.Alerting.MinSeverity),
			Cooldown:    a.Config.Alerting.Cooldown,
			MaxFlags:    a.Config.Alerting.MaxFlags,
		},
	}
}

// Run executes the long-running refresh service and HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, closeSource, err := a.newSource(ctx, "")
	if err != nil {
		return err
	}
	defer closeSource()

	deps := service.Deps{
		Source:   source,
		Engine:   a.newEngine(),
		Notifier: a.newNotifier(),
		Metrics:  metrics.New(),
		Scheduler: scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			RunOnStart:   a.Config.Scheduler.RunOnStart,
		}, a.Logger),
	}

	if store, ok := source.(*storage.Store); ok {
		deps.Locker = store
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store != nil {
			deps.Locker = store
			defer closeStore()
		} else {
			a.Logger.Warn().Msg("database.dsn not configured; refresh lock disabled")
		}
	}

	redisCache, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	if redisCache != nil {
		deps.Cache = redisCache
		defer redisCache.Close()
	}

	svc := service.New(deps, a.serviceOptions(), a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Str("source", a.Config.Source.Kind).Msg("starting refresh service")
		err := svc.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("refresh service: %w", err)
		}
		return nil
	})

	if a.Config.Server.Enabled {
		srv := api.NewServer(api.Options{
			Addr:         a.Config.Server.Addr,
			ReadTimeout:  a.Config.Server.ReadTimeout,
			WriteTimeout: a.Config.Server.WriteTimeout,
			MaxBodyBytes: a.Config.Server.MaxBodyBytes,
			Version:      version.Version,
			RefreshRate:  a.Config.Server.RefreshRate,
			RefreshBurst: a.Config.Server.RefreshBurst,
		}, svc, deps.Metrics, a.Logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

// analyzeOnce fetches one snapshot and runs the engine over it.
func (a *App) analyzeOnce(ctx context.Context, file string, window fetcher.Window, opts fraud.Options) (*fraud.FraudAnalyticsData, error) {
	source, closeSource, err := a.newSource(ctx, file)
	if err != nil {
		return nil, err
	}
	defer closeSource()

	txs, err := source.FetchSnapshot(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	data, err := a.newEngine().Analyze(ctx, txs, opts)
	if err != nil {
		return nil, fmt.Errorf("analyze snapshot: %w", err)
	}
	return data, nil
}

// SnapshotOptions select the snapshot a one-shot command works on.
type SnapshotOptions struct {
	File                   string
	From                   *time.Time
	To                     *time.Time
	HighFrequencyThreshold *int
	ThresholdAmount        *decimal.Decimal
}

func (a *App) resolve(opts SnapshotOptions) (fetcher.Window, fraud.Options) {
	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	window := fetcher.WindowEndingAt(to, a.Config.Source.Window)
	if opts.From != nil {
		window.Start = opts.From.UTC()
	}

	detection := a.Config.DetectionOptions()
	if opts.HighFrequencyThreshold != nil {
		detection.HighFrequencyThreshold = *opts.HighFrequencyThreshold
	}
	if opts.ThresholdAmount != nil {
		detection.ThresholdAmount = *opts.ThresholdAmount
	}
	return window, detection
}

// ExportOptions hold parameters for exporting an analysis.
type ExportOptions struct {
	SnapshotOptions
	PNGPath string
	CSVDir  string
}

// AnalyzeOptions configure the analyze command.
type AnalyzeOptions struct {
	SnapshotOptions
	JSON  bool
	Limit int
}

// ReplayOptions configure the replay job.
type ReplayOptions struct {
	SnapshotOptions
	Step    time.Duration
	Workers int
}

// Migrate applies the schema under database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := storage.Migrate(a.Config.Database.DSN, a.Config.Database.MigrationsPath, a.Logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "schema version: %d  changed: %t\n", res.Version, res.Changed)
	if res.Dirty {
		return fmt.Errorf("schema version %d is dirty", res.Version)
	}
	return nil
}
