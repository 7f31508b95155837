// ABOUTME: Wires the store, engine client, bridge, notifier, scheduler and gateway from config
// ABOUTME: Shared by the parley server and the parley-admin tool so both act on the same components

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/chatlog"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/dialogue"
	"github.com/2389/parley/internal/gateway"
	"github.com/2389/parley/internal/notify"
	"github.com/2389/parley/internal/onboarding"
	"github.com/2389/parley/internal/scheduler"
	"github.com/2389/parley/internal/store"
)

// App holds every long-lived component of a parley process.
type App struct {
	Config     *config.Config
	Store      store.Store
	Audit      *chatlog.Writer
	Languages  *dialogue.Languages
	Engine     *dialogue.Client
	Hub        *notify.PingHub
	Notifier   *notify.Service
	OneSignal  *notify.OneSignal // nil unless the onesignal backend is configured
	Bridge     *chat.Bridge
	Negotiator *onboarding.Negotiator
	Chat       *chat.Service
	Scheduler  *scheduler.Scheduler
	Location   *time.Location

	logger *slog.Logger
}

// Build opens the store and constructs the components described by cfg.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loc, err := time.LoadLocation(cfg.Chat.AuditTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading audit timezone: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	audit, err := chatlog.New(cfg.Chat.AuditDir, loc, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	sender, oneSignal, err := notify.NewSender(cfg.Notifications)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating push sender: %w", err)
	}

	langs := dialogue.NewLanguages(cfg.Dialogue.Languages, cfg.Dialogue.DefaultLanguage)
	engine := dialogue.NewClient(dialogue.Options{
		EngineURL:  cfg.Dialogue.EngineURL,
		TrackerURL: cfg.Dialogue.TrackerURL,
		ActionURL:  cfg.Dialogue.ActionURL,
		Timeout:    cfg.Dialogue.Timeout,
	}, langs)

	hub := notify.NewPingHub(logger)
	notifier := notify.NewService(st, sender, hub, notify.Options{
		DefaultMessage: cfg.Notifications.DefaultMessage,
		Timeout:        cfg.Notifications.Timeout,
	}, logger)

	bridge := chat.NewBridge(st, engine, langs, notifier, audit, chat.BridgeOptions{
		BotIdentity: cfg.Chat.BotIdentity,
		Timeout:     cfg.Chat.BridgeTimeout,
	}, logger)

	negotiator := onboarding.NewNegotiator(st, []onboarding.Field{onboarding.LanguageField(langs)}, logger)

	chatSvc := chat.NewService(st, bridge, negotiator, notifier, audit, chat.ServiceOptions{
		AsyncBridge: cfg.Chat.AsyncBridge,
	}, logger)

	sched := scheduler.New(st, bridge, audit, scheduler.Options{Stagger: cfg.Tasks.Stagger}, logger)

	return &App{
		Config:     cfg,
		Store:      st,
		Audit:      audit,
		Languages:  langs,
		Engine:     engine,
		Hub:        hub,
		Notifier:   notifier,
		OneSignal:  oneSignal,
		Bridge:     bridge,
		Negotiator: negotiator,
		Chat:       chatSvc,
		Scheduler:  sched,
		Location:   loc,
		logger:     logger.With("component", "app"),
	}, nil
}

// Gateway builds the HTTP gateway over the app's components.
func (a *App) Gateway() (*gateway.Gateway, error) {
	verifier, err := auth.NewJWTVerifier([]byte(a.Config.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}

	return gateway.New(a.Config, gateway.Services{
		Store:      a.Store,
		Chat:       a.Chat,
		Bridge:     a.Bridge,
		Negotiator: a.Negotiator,
		Buttons:    a.Engine,
		Pings:      notify.NewPingWaiter(a.Store, a.Hub, a.Config.Ping.Wait, a.Config.Ping.Interval),
		Scheduler:  a.Scheduler,
		Resolver:   auth.NewResolver(a.Store, a.logger),
		Verifier:   verifier,
		Secret:     auth.NewSecretChecker(a.Config.Auth.BackendSecret),
		Audit:      a.Audit,
	}, a.logger)
}

// Runner builds the task runner executing scheduled events.
func (a *App) Runner() *scheduler.Runner {
	return scheduler.NewRunner(a.Store, a.Scheduler, scheduler.RunnerOptions{
		BusyInterval: a.Config.Tasks.BusyInterval,
		IdleInterval: a.Config.Tasks.PollInterval,
		LockTimeout:  a.Config.Tasks.LockTimeout,
	}, a.logger)
}

// Jobs lists the task role's periodic jobs. Jobs without a source are left out.
func (a *App) Jobs() []scheduler.Job {
	var jobs []scheduler.Job
	if path := a.Config.Tasks.SchedulePath; path != "" {
		jobs = append(jobs, scheduler.Job{
			Name:     "reconcile_schedule",
			Interval: a.Config.Tasks.ReconcileInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Scheduler.ReconcileFile(ctx, path)
				return err
			},
		})
	}
	if a.OneSignal != nil {
		refresher := notify.NewRefresher(a.OneSignal, a.Store, a.logger)
		jobs = append(jobs, scheduler.Job{
			Name:     "refresh_push_ids",
			Interval: a.Config.Notifications.RefreshInterval,
			Run: func(ctx context.Context) error {
				_, err := refresher.Refresh(ctx)
				return err
			},
		})
	}
	return jobs
}

// Close waits for in-flight background work, then releases the store.
func (a *App) Close() error {
	a.Bridge.Wait()
	a.Notifier.Wait()
	a.Hub.Close()
	return a.Store.Close()
}
