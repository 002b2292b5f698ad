package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rank-alerts/internal/alerting"
	"rank-alerts/internal/analysis"
	"rank-alerts/internal/config"
	"rank-alerts/internal/fetcher"
	"rank-alerts/internal/logging"
	"rank-alerts/internal/metrics"
	"rank-alerts/internal/monitor"
	"rank-alerts/internal/scheduler"
	"rank-alerts/internal/server"
	"rank-alerts/internal/snapshot"
	"rank-alerts/internal/storage"
	"rank-alerts/internal/ws"
	"rank-alerts/pkg/retry"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newFetcher() fetcher.RankFetcher {
	cfg := a.Config.Fetcher
	return fetcher.NewDataForSEO(fetcher.Options{
		BaseURL:         cfg.BaseURL,
		Login:           cfg.Login,
		Password:        cfg.Password,
		LocationCode:    cfg.LocationCode,
		LanguageCode:    cfg.LanguageCode,
		Depth:           cfg.Depth,
		CompetitorLimit: cfg.CompetitorLimit,
		Timeout:         cfg.RequestTimeout,
		UserAgent:       cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifiers() []alerting.Notifier {
	var notifiers []alerting.Notifier
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if a.Config.Alerting.Webhook.Enabled {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(a.Config.Alerting.Webhook.URL, 10*time.Second, a.Logger))
	}
	return notifiers
}

func (a *App) retryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	if a.Config.Retry.Attempts > 0 {
		cfg.Attempts = a.Config.Retry.Attempts
	}
	if a.Config.Retry.BaseDelay > 0 {
		cfg.BaseDelay = a.Config.Retry.BaseDelay
	}
	if a.Config.Retry.MaxDelay > 0 {
		cfg.MaxDelay = a.Config.Retry.MaxDelay
	}
	if a.Config.Retry.Multiplier > 0 {
		cfg.Multiplier = a.Config.Retry.Multiplier
	}
	if a.Config.Retry.JitterFactor >= 0 {
		cfg.JitterFactor = a.Config.Retry.JitterFactor
	}
	return cfg
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

// Run executes the long-running monitoring service: the HTTP/WebSocket
// listener, the per-project monitoring loops, and the retention pruner.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	hub := ws.NewHub(met, a.Logger)
	snapshots := snapshot.NewStore(a.Config.Retention.History)
	analyzer := analysis.NewAnalyzer(a.Config.Analysis.Window, a.Config.Analysis.MinSamples)
	cooldown := alerting.NewCooldownGate(a.Config.Alerting.Cooldown, a.Config.Alerting.EscalationMargin)
	classifier := alerting.NewClassifier(alerting.Thresholds{
		Drop:       a.Config.Alerting.DropThreshold,
		Gain:       a.Config.Alerting.GainThreshold,
		Volatility: a.Config.Alerting.VolatilityThreshold,
	}, cooldown, a.Logger)

	var alertStore storage.AlertStore
	var historyStore storage.HistoryStore
	if store != nil {
		alertStore = store
		historyStore = store
	}

	dispatcher := alerting.NewDispatcher(alertStore, hub, a.newNotifiers(), met, a.Logger)

	supervisor := monitor.NewSupervisor(ctx, monitor.Deps{
		Fetcher:    a.newFetcher(),
		Snapshots:  snapshots,
		Analyzer:   analyzer,
		Classifier: classifier,
		Dispatcher: dispatcher,
		Cooldown:   cooldown,
		History:    historyStore,
		Broadcast:  hub,
		Metrics:    met,
	}, monitor.Options{
		Interval:          a.Config.Monitor.Interval,
		Concurrency:       a.Config.Monitor.Concurrency,
		FetchTimeout:      a.Config.Monitor.FetchTimeout,
		FailureAlertAfter: a.Config.Monitor.FailureAlertAfter,
		Retry:             a.retryConfig(),
	}, a.Logger)
	defer supervisor.StopAll()

	srv := server.New(a.Config.Server, server.Deps{
		Hub:      hub,
		Handler:  supervisor,
		Monitor:  supervisor,
		Alerts:   alertStore,
		History:  historyStore,
		Gatherer: registry,
	}, a.Logger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	if store != nil {
		group.Go(func() error {
			return a.runRetention(groupCtx, store)
		})
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// runRetention trims durable alerts and ranking history past the retention
// horizon once per hour.
func (a *App) runRetention(ctx context.Context, store *storage.Store) error {
	retention := a.Config.Retention.History
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	sched := scheduler.New(scheduler.Options{Interval: time.Hour}, a.Logger)
	return sched.Run(ctx, func(tickCtx context.Context, at time.Time) error {
		cutoff := at.Add(-retention)
		if err := store.DeleteSnapshotsBefore(tickCtx, cutoff); err != nil {
			a.Logger.Warn().Err(err).Msg("history retention sweep failed")
		}
		if err := store.DeleteAlertsBefore(tickCtx, cutoff); err != nil {
			a.Logger.Warn().Err(err).Msg("alert retention sweep failed")
		}
		return nil
	})
}

// ExportOptions hold parameters for exporting keyword history.
type ExportOptions struct {
	ProjectID string
	Keyword   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AlertsOptions configure the alerts listing command.
type AlertsOptions struct {
	ProjectID  string
	UnreadOnly bool
	Limit      int
}

// SimulateOptions configure the alert simulation.
type SimulateOptions struct {
	ProjectID string
	Keyword   string
	Positions []int
}
