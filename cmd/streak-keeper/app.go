package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/streak-keeper/internal/backfill"
	"github.com/hochfrequenz/streak-keeper/internal/commitstore"
	"github.com/hochfrequenz/streak-keeper/internal/config"
	"github.com/hochfrequenz/streak-keeper/internal/gitexec"
	"github.com/hochfrequenz/streak-keeper/internal/notify"
	"github.com/hochfrequenz/streak-keeper/internal/planner"
	"github.com/hochfrequenz/streak-keeper/internal/scheduler"
)

// app bundles the wired components for one command invocation
type app struct {
	cfg        *config.Config
	logger     *logrus.Entry
	store      *commitstore.Store
	dispatcher *scheduler.Dispatcher
	svc        *backfill.Service
}

type appOptions struct {
	// withDispatcher runs executions in this process
	withDispatcher bool
	settings       backfill.SettingsProvider
}

func newApp(c *config.Config, logger *logrus.Entry, opts appOptions) (*app, error) {
	if c.General.DatabaseDriver != "postgres" {
		if err := os.MkdirAll(filepath.Dir(c.General.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	store, err := commitstore.Open(c.General.DatabaseDriver, c.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening commit store: %w", err)
	}

	a := &app{cfg: c, logger: logger, store: store}

	settings := opts.settings
	if settings == nil {
		settings = c
	}
	svcCfg := backfill.Config{
		Store:    store,
		Planner:  planner.New(nil),
		Settings: settings,
		Notifier: buildNotifier(c),
		Logger:   logger,
	}

	if opts.withDispatcher {
		if err := os.MkdirAll(c.General.WorkDir, 0755); err != nil {
			store.Close()
			return nil, fmt.Errorf("creating work directory: %w", err)
		}
		executor := gitexec.New(gitexec.Config{
			WorkDir:     c.General.WorkDir,
			Branch:      c.Git.Branch,
			AuthorName:  c.Git.AuthorName,
			AuthorEmail: c.Git.AuthorEmail,
			Credentials: gitexec.NewEnvCredentials(c.Git.TokenEnv),
			Logger:      logger,
		})
		var svc *backfill.Service
		d, err := scheduler.New(scheduler.Config{
			Store:            store,
			Executor:         executor,
			Logger:           logger,
			Tick:             c.Schedule.Tick,
			MaxParallel:      c.Schedule.MaxParallel,
			ExecutionTimeout: c.ExecutionTimeout(),
			OnOutcome: func(o scheduler.Outcome) {
				svc.HandleOutcome(o)
			},
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		svcCfg.Queue = d
		svc = backfill.NewService(svcCfg)
		a.dispatcher, a.svc = d, svc
		return a, nil
	}

	a.svc = backfill.NewService(svcCfg)
	return a, nil
}

func (a *app) Close() error {
	a.svc.Flush()
	return a.store.Close()
}

func buildNotifier(c *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if c.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if c.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(c.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

// openApp wires the components for commands that only touch the store
func openApp() (*app, error) {
	return newApp(cfg, log, appOptions{})
}

// runningApp wires the components including an in-process dispatcher
func runningApp(settings backfill.SettingsProvider) (*app, error) {
	return newApp(cfg, log, appOptions{withDispatcher: true, settings: settings})
}
