// Package app wires configuration, storage, the event registry and the
// control loops into one daemon lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"remindd/internal/config"
	"remindd/internal/directory"
	"remindd/internal/event"
	"remindd/internal/keyaction"
	"remindd/internal/monitor"
	"remindd/internal/services/dispatch"
	"remindd/internal/services/notify"
	"remindd/internal/services/scheduling"
	"remindd/internal/services/trigger"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	registry *event.Registry
	mon      monitor.Reporter

	sched *scheduling.Service
	disp  *dispatch.Service
	notif *notify.Service
	trig  *trigger.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the daemon from a config file. A nil sender falls back to
// logging each notification, which keeps the daemon useful without a
// push transport wired in.
func New(cfgPath string, sender notify.Sender) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("component", "boot"))
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	})
	log = log.With(logx.String("component", "app"))

	busy, err := config.ParseDurationField("storage.busyTimeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, logs.Logger().With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	mon := monitor.NewLog(logs.Logger())

	var dir directory.Directory
	if len(cfg.Users) > 0 {
		users := make([]directory.User, len(cfg.Users))
		for i, u := range cfg.Users {
			users[i] = directory.User{ID: u.ID, Timezone: u.Timezone, Enabled: u.Enabled}
		}
		dir = directory.NewStatic(users)
	} else {
		dir = directory.NewStoreBacked(store, logs.Logger())
	}

	registry := event.NewRegistry()
	if err := registry.Register(event.TypeReminder, event.ReminderHandler()); err != nil {
		return nil, err
	}
	if err := registry.Register(keyaction.TypeKeyAction, keyaction.Handler()); err != nil {
		return nil, err
	}

	if sender == nil {
		sender = logSender{log: logs.Logger()}
	}
	sendTimeout, err := config.ParseDurationField("notify.sendTimeout", cfg.Notify.SendTimeout)
	if err != nil {
		return nil, err
	}
	notif := notify.New(notify.Config{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		RatePerSec:  cfg.Notify.RatePerSec,
		SendTimeout: sendTimeout,
	}, sender, logs.Logger())

	sched, err := scheduling.New(scheduling.Config{
		CutoffHHMM: cfg.Trigger.RebuildTimeOrDefault(),
	}, store, dir, mon, logs.Logger())
	if err != nil {
		return nil, err
	}

	disp := dispatch.New(dispatch.Config{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}, store, registry, notif, mon, logs.Logger())

	trig := trigger.New(trigger.Config{
		Workers:     cfg.Trigger.Workers,
		QueueSize:   cfg.Trigger.QueueSize,
		HistorySize: cfg.Trigger.HistorySize,
		Timezone:    "UTC",
	}, logs.Logger())

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		store:    store,
		registry: registry,
		mon:      mon,
		sched:    sched,
		disp:     disp,
		notif:    notif,
		trig:     trig,
	}, nil
}

// Scheduling exposes the scheduling core for callers embedding the app.
func (a *App) Scheduling() *scheduling.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	cfg := a.cfgm.Get()
	tick, err := cfg.Trigger.TickInterval()
	if err != nil {
		return err
	}
	timeout, err := cfg.Trigger.Timeout()
	if err != nil {
		return err
	}

	a.notif.Start(runCtx)
	a.disp.Start(runCtx)

	if _, err := a.trig.AddDaily("cache.rebuild", cfg.Trigger.RebuildTimeOrDefault(), timeout,
		a.sched.NightlyRebuild); err != nil {
		return err
	}
	if _, err := a.trig.AddInterval("dispatch.tick", tick, timeout,
		func(c context.Context) error {
			return a.disp.Tick(c, time.Now().UTC())
		}); err != nil {
		return err
	}
	a.trig.Start(runCtx)

	// Reconcile the config's declared definitions into the store before
	// the first rebuild so their occurrences land in the cache.
	if err := a.sched.Sync(runCtx, a.registry, cfg.Events); err != nil {
		a.mon.Report(err, "app.start.sync", nil, nil)
	}

	// Seed the cache on boot so the first day does not wait for 03:00.
	if err := a.sched.NightlyRebuild(runCtx); err != nil {
		a.mon.Report(err, "app.start.rebuild", nil, nil)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(runCtx, newCfg)
			}
		}
	}()

	a.log.Info("remindd started",
		logx.String("rebuild", cfg.Trigger.RebuildTimeOrDefault()),
		logx.Duration("tick", tick),
		logx.String("types", fmt.Sprint(a.registry.Tags())))
	return nil
}

// applyConfig pushes a hot-reloaded config into the running services.
// Storage and dispatch pool changes need a restart and a warning says so.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	})

	sendTimeout, err := config.ParseDurationField("notify.sendTimeout", cfg.Notify.SendTimeout)
	if err == nil {
		a.notif.Apply(notify.Config{
			Workers:     cfg.Notify.Workers,
			QueueSize:   cfg.Notify.QueueSize,
			RatePerSec:  cfg.Notify.RatePerSec,
			SendTimeout: sendTimeout,
		})
	}
	a.trig.Apply(trigger.Config{
		Workers:     cfg.Trigger.Workers,
		QueueSize:   cfg.Trigger.QueueSize,
		HistorySize: cfg.Trigger.HistorySize,
		Timezone:    "UTC",
	})

	if err := a.sched.Sync(ctx, a.registry, cfg.Events); err != nil {
		a.mon.Report(err, "app.reload.sync", nil, nil)
	}

	a.log.Info("config applied; storage and loop schedules take effect on restart")
}

func (a *App) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.trig.Stop(ctx)
	a.disp.Stop(ctx)
	a.notif.Stop(ctx)
	a.wg.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("remindd stopped")
	_ = a.logs.Close()
}

// logSender is the default notification transport: it writes each
// rendered reminder to the log.
type logSender struct {
	log logx.Logger
}

func (s logSender) Send(_ context.Context, userID, text string, payload map[string]any) error {
	s.log.Info("reminder",
		logx.String("user", userID),
		logx.String("text", text),
		logx.Any("payload", payload))
	return nil
}
