// Package app assembles the watcher: config, logging, provider client,
// tracker loop, notifier pipeline, digest schedule, chat commands, and the
// optional debug listener, all under one supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	telegram "tailwatch/internal/adapters/telegram"
	"tailwatch/internal/config"
	"tailwatch/internal/digest"
	"tailwatch/internal/eventbus"
	"tailwatch/internal/notifier"
	"tailwatch/internal/observability"
	"tailwatch/internal/observability/debugsrv"
	"tailwatch/internal/provider/fr24"
	rtsup "tailwatch/internal/runtime/supervisor"
	"tailwatch/internal/services/scheduler"
	"tailwatch/internal/storage"
	"tailwatch/internal/tracker"
	"tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"
	"tailwatch/pkg/sdnotify"
)

type App struct {
	cfgPath string
	// cfg is the config at construction. Live values flow through the reload
	// fanout; this is only read again during Start.
	cfg  *config.Config
	cfgm *config.ConfigManager // nil when running without a config file

	sup *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	rec   *eventbus.Recorder
	store storage.Store

	adapter transport.Adapter
	target  transport.ChatTarget

	client *fr24.Client
	track  *tracker.Service
	notif  *notifier.Service
	sched  *scheduler.Service
	dig    *digest.Service
	debug  *debugsrv.Service

	updates chan transport.Update
}

// NewApp builds the full service from the config file at cfgPath. An empty
// path means no file: credentials and settings come from the environment and
// hot reload is unavailable.
func NewApp(cfgPath string) (*App, error) {
	var (
		cfgm *config.ConfigManager
		cfg  *config.Config
	)
	if strings.TrimSpace(cfgPath) != "" {
		cfgm = config.NewConfigManager(cfgPath)
		c, err := cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
		cfg = c
	} else {
		cfg = config.FromEnv()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	log = log.With(logx.String("comp", "app"))

	target, err := chatTarget(cfg)
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	stopGrace, err := config.ParseDurationField("telegram.stop_grace", cfg.Telegram.StopGrace)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		StopGrace:   stopGrace,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	rec := eventbus.NewRecorder(64)

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", scfg.Driver))
	}

	client, err := fr24.New(mapProviderConfig(cfg), log.With(logx.String("comp", "fr24")))
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus, store)

	tcfg, err := mapTrackerConfig(cfg)
	if err != nil {
		return nil, err
	}
	track := tracker.New(tcfg, client, notif, target, log.With(logx.String("comp", "tracker")), bus, store)

	sched := scheduler.New(scheduler.Config{
		Workers:        1,
		DefaultTimeout: digestRunTimeout,
		HistorySize:    20,
		Timezone:       cfg.Digest.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	dcfg, err := mapDigestConfig(cfg)
	if err != nil {
		return nil, err
	}
	dig := digest.New(dcfg, client, notif, target, log.With(logx.String("comp", "digest")), bus)

	dbg := debugsrv.New(debugsrv.FromConfig(cfg.Debug), log.With(logx.String("comp", "debugsrv")))

	a := &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		rec:     rec,
		store:   store,
		adapter: ad,
		target:  target,
		client:  client,
		track:   track,
		notif:   notif,
		sched:   sched,
		dig:     dig,
		debug:   dbg,
		updates: make(chan transport.Update, 64),
	}

	// Status views for the debug listener. The registry is live; the
	// supervisor view joins in Start once the supervisor exists.
	dbg.RegisterStatus("tracker", func() any { return track.Published() })
	dbg.RegisterStatus("scheduler", func() any { return sched.Snapshot() })
	dbg.RegisterStatus("notifier", func() any { return notif.Snapshot() })
	dbg.RegisterStatus("events", func() any { return rec.Recent() })

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.debug.RegisterStatus("supervisor", func() any { return a.sup.Snapshot() })

	// Transactional config reload: validate before commit/publish.
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
			return config.Validate(cfg)
		})
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	// The tracker loop is the core of the process. Restart it on panic or
	// unexpected error, but give up quickly when it keeps failing: the only
	// error it returns by contract is a credential rejected before any fetch
	// ever succeeded, and that must take the process down.
	a.sup.GoRestart("tracker.run", func(c context.Context) error {
		return a.track.Run(c)
	},
		rtsup.WithRestartBackoff(2*time.Second, 30*time.Second),
		rtsup.WithMaxRestarts(3),
		rtsup.WithPublishFirstError(true),
		rtsup.WithFatalOnFinalError(true),
	)

	a.applyDigest(a.sup.Context(), a.cfg)
	a.debug.Apply(a.sup.Context(), debugsrv.FromConfig(a.cfg.Debug))

	// Retain recent bus events for the debug listener.
	a.sup.Go0("eventbus.record", func(c context.Context) {
		a.rec.Run(c, a.bus)
	})

	// Mirror bus traffic into metrics and debug logs.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.observe", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				observability.CountBusEvent(e.Kind)
				a.log.Debug("event", logx.String("kind", e.Kind), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.dispatchCommands(c, a.updates)
	})

	// Best-effort Telegram /menu autocomplete.
	if up, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu.update", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menuCommands()); err != nil {
				a.log.Warn("menu command update failed", logx.Err(err))
			}
		})
	}

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			last := a.cfgm.Get()
			for {
				select {
				case <-c.Done():
					return
				case newCfg, ok := <-sub:
					if !ok {
						return
					}
					// Coalesce bursts: keep only the latest config.
					for {
						select {
						case newer := <-sub:
							if newer != nil {
								newCfg = newer
							}
						default:
							goto APPLY
						}
					}
				APPLY:
					a.applyConfig(c, last, newCfg)
					last = newCfg
				}
			}
		})

		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	sdnotify.Ready()
	if wd := sdnotify.WatchdogInterval(); wd > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			sdnotify.RunWatchdog(c, wd)
		})
	}

	a.log.Info("app started", logx.String("registration", a.cfg.Provider.Registration))
	return nil
}

// applyConfig pushes a validated config update into the running services.
// Sections that cannot be re-applied live are called out instead.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "provider", "telegram", "storage":
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	// Logging first so the remaining steps log at the new level.
	a.logs.Apply(logx.Config{
		Level:  newCfg.Logging.Level,
		Format: newCfg.Logging.Format,
		File:   logx.FileConfig{Enabled: newCfg.Logging.File.Enabled, Path: newCfg.Logging.File.Path},
	})

	// The tracker picks the new cadence up at its next cycle.
	if tcfg, err := mapTrackerConfig(newCfg); err != nil {
		a.log.Warn("invalid tracker config; keeping previous", logx.Err(err))
	} else {
		a.track.Apply(tcfg)
	}

	prevNotif := a.notif.Enabled()
	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		if prevNotif && !ncfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prevNotif && ncfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	a.applyDigest(ctx, newCfg)
	a.debug.Apply(ctx, debugsrv.FromConfig(newCfg.Debug))

	a.bus.Publish(eventbus.Event{Kind: eventbus.KindConfigReloaded})
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// applyDigest reconciles the digest service and its daily schedule with cfg.
// Used for both initial setup and hot reload; every step is idempotent.
func (a *App) applyDigest(ctx context.Context, cfg *config.Config) {
	dcfg, err := mapDigestConfig(cfg)
	if err != nil {
		a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
		return
	}
	a.dig.Apply(dcfg)
	a.sched.Apply(scheduler.Config{
		Workers:        1,
		DefaultTimeout: digestRunTimeout,
		HistorySize:    20,
		Timezone:       cfg.Digest.Timezone,
	})

	if !cfg.Digest.Enabled {
		if a.sched.Remove(digestJobName) {
			a.log.Info("digest disabled via config")
		}
		return
	}

	at := strings.TrimSpace(cfg.Digest.At)
	if at == "" {
		at = config.DefaultDigestAt
	}
	if _, err := a.sched.AddDaily(digestJobName, at, digestRunTimeout, a.dig.Run); err != nil {
		a.log.Warn("digest schedule rejected", logx.String("at", at), logx.Err(err))
		return
	}
	a.sched.Start(ctx)
	a.log.Info("digest scheduled", logx.String("at", at), logx.String("tz", strings.TrimSpace(cfg.Digest.Timezone)))
}

func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	sdnotify.Stopping()
	a.log.Info("stopping", logx.String("reason", reason))

	// Cancel the run context first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("debugsrv", 1*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (tracker loop, config watch, dispatcher).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
