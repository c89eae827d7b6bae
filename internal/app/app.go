// Package app wires config, logging, storage, scheduling, and the Telegram
// transport into one runnable bot.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/config"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/services/notify"
	"remindbot/internal/services/reminders"
	"remindbot/internal/services/timers"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

// StopReason names why the app is shutting down, for the final log line.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter kit.Adapter
	timers  *timers.Registry
	notif   *notify.Service
	rem     *reminders.Service
	router  *router.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       resolveToken(cfg),
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	reg, err := timers.New(timers.Config{Timezone: cfg.Reminders.Timezone},
		logSvc.Logger().With(logx.String("comp", "timers")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notify.New(ncfg, ad, logSvc.Logger().With(logx.String("comp", "notify")))

	rem := reminders.New(store, reg, notif, logSvc.Logger().With(logx.String("comp", "reminders")))

	handlerTimeout, err := config.ParseDurationField("reminders.handler_timeout", cfg.Reminders.HandlerTimeout)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rt := router.New(logSvc.Logger().With(logx.String("comp", "router")), ad, rem, router.Options{
		BotName:        cfg.Telegram.BotName,
		HandlerTimeout: handlerTimeout,
	})

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		timers:  reg,
		notif:   notif,
		rem:     rem,
		router:  rt,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	// Arm persisted reminders before taking traffic so a /list right after
	// startup reflects what is actually scheduled.
	if err := a.rem.Start(ctx); err != nil {
		return err
	}
	a.timers.Start()

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.router.Start(a.sup.Context(), a.updates)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Tell systemd we are up; a no-op outside a Type=notify unit.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: act only on the newest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
					continue
				default:
				}
				break
			}

			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}

			for _, s := range sections {
				switch s {
				case "logging":
					a.logs.Apply(mapLoggingConfig(newCfg))
				case "notifier":
					if ncfg, err := mapNotifierConfig(newCfg); err != nil {
						a.log.Warn("invalid notifier config, keeping previous", logx.Err(err))
					} else {
						a.notif.Apply(ncfg)
					}
				case "storage", "telegram", "reminders":
					a.log.Warn("section changed, restart required to take effect", logx.String("section", s))
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err == nil && sent {
		a.log.Debug("sd_notify stopping sent")
	}

	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()

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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	// Intake first, then dispatch, then timers, then the store underneath.
	step("router", 2*time.Second, func(c context.Context) error { return a.router.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("reminders", time.Second, func(c context.Context) error { return a.rem.Stop(c) })
	step("timers", 2*time.Second, func(c context.Context) error { return a.timers.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}

// resolveToken prefers the config file and falls back to the environment,
// which godotenv fills from a .env file when one is present.
func resolveToken(cfg *config.Config) string {
	if tok := strings.TrimSpace(cfg.Telegram.Token); tok != "" {
		return tok
	}
	return strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN"))
}

func validateConfig(cfg *config.Config) error {
	if resolveToken(cfg) == "" {
		return fmt.Errorf("telegram.token is required (config or TELEGRAM_TOKEN)")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("reminders.handler_timeout", cfg.Reminders.HandlerTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Reminders.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reminders.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	return nil
}
