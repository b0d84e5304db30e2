// Package app wires the bot: config, logging, store, LeetCode source, LLM
// augmentation, backfill, dispatch, the Discord session and the ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lcdaily/internal/augment"
	"lcdaily/internal/backfill"
	"lcdaily/internal/config"
	"lcdaily/internal/discord"
	"lcdaily/internal/dispatch"
	"lcdaily/internal/llm"
	"lcdaily/internal/observability"
	"lcdaily/internal/problems"
	"lcdaily/internal/runtime/supervisor"
	"lcdaily/internal/source/leetcode"
	"lcdaily/internal/storage"
	"lcdaily/internal/task/scheduler"
	logx "lcdaily/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	metrics *observability.Metrics
	store   *storage.SQLite

	source   *leetcode.Client
	catalog  *problems.Catalog
	coord    *augment.Coordinator // nil when no LLM is configured
	backfill *backfill.Fetcher
	dispatch *dispatch.Scheduler

	session      *discord.Session
	poster       *discord.Poster
	interactions *discord.Interactions

	sched *scheduler.Service
	ops   *observability.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The Discord sink needs the poster, which needs the session; bootstrap
	// without a sender and install it below.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	metrics := observability.NewMetrics()

	lcCfg, err := mapLeetCodeConfig(cfg)
	if err != nil {
		return fail(err)
	}
	refresh, err := mapRatingsRefresh(cfg)
	if err != nil {
		return fail(err)
	}
	source := leetcode.New(lcCfg, log.With(logx.String("comp", "leetcode")), metrics)
	catalog := problems.NewCatalog(store, source, log, problems.WithRatings(source, refresh))

	var coord *augment.Coordinator
	llmCfg, err := mapLLMConfig(cfg)
	if err != nil {
		return fail(err)
	}
	client, err := llm.New(llmCfg, log, metrics)
	switch {
	case errors.Is(err, llm.ErrDisabled):
		log.Info("llm disabled; daily posts omit the translate and hints buttons")
	case err != nil:
		return fail(err)
	default:
		ttl, _ := cfg.LLMCacheTTL()
		gen := augment.NewLLMGenerator(catalog, client, cfg.LLM.Language, log)
		coord = augment.NewCoordinator(gen, store, log, augment.WithTTL(ttl), augment.WithMetrics(metrics))
		log.Info("llm enabled", logx.String("provider", orDefault(cfg.LLM.Provider, llm.ProviderGemini)),
			logx.String("model", client.Model()), logx.Duration("cache_ttl", ttl))
	}

	fetcher := backfill.New(source, store, mapBackfillConfig(cfg), log, metrics)

	session, err := discord.NewSession(cfg.Discord.Token, log)
	if err != nil {
		return fail(err)
	}
	poster := discord.NewPoster(session, log, discord.WithAugmentButtons(coord != nil))
	logSvc.SetSender(poster)

	timeout, err := config.ParseDurationOrDefault("discord.interaction_timeout", cfg.Discord.InteractionTimeout, 2*time.Minute)
	if err != nil {
		return fail(err)
	}
	var aug discord.Augmenter
	if coord != nil {
		aug = coord
	}
	interactions := discord.NewInteractions(aug, catalog, timeout, log)
	session.AddHandler(interactions.Handle)

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return fail(err)
	}
	disp := dispatch.New(store, catalog, poster, dcfg, log, metrics)

	sched := scheduler.New(scheduler.Config{Timezone: orDefault(cfg.Schedule.Timezone, "UTC")},
		log.With(logx.String("comp", "scheduler")))

	ops := observability.NewServer(mapOpsConfig(cfg), metrics, store.Ping, log.With(logx.String("comp", "ops")))

	return &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		metrics:      metrics,
		store:        store,
		source:       source,
		catalog:      catalog,
		coord:        coord,
		backfill:     fetcher,
		dispatch:     disp,
		session:      session,
		poster:       poster,
		interactions: interactions,
		sched:        sched,
		ops:          ops,
	}, nil
}

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	cfg := a.cfgm.Get()

	if err := a.seedGuilds(ctx, cfg); err != nil {
		return err
	}
	if err := a.registerJobs(cfg); err != nil {
		return err
	}

	a.interactions.Bind(a.sup.Context())
	a.sup.GoRestart("discord.gateway", a.session.Run,
		supervisor.WithRestartBackoff(time.Second, time.Minute), supervisor.WithPublishFirstError(true))

	a.sched.Start(a.sup.Context())

	if cfg.Ops.Enabled {
		a.sup.GoRestart("ops.server", a.ops.Serve,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second), supervisor.WithMaxRestarts(5))
	}

	if cfg.Backfill.OnStart {
		a.sup.Go("backfill.startup", a.startupBackfill)
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("llm", a.coord != nil), logx.Bool("ops", cfg.Ops.Enabled), logx.Int("guild_seeds", len(cfg.Guilds)))
	return nil
}

// applyConfig re-applies the hot-reloadable parts of the config: logging,
// the LLM cache TTL, guild seeds and job schedules.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := strings.Join(sections, ",")
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)

	a.logs.Apply(mapLogConfig(newCfg))

	if ttl, err := newCfg.LLMCacheTTL(); err == nil {
		a.store.SetLLMTTL(ttl)
		if a.coord != nil {
			a.coord.SetTTL(ttl)
		}
	}
	if err := a.seedGuilds(ctx, newCfg); err != nil {
		a.log.Warn("guild seeds not applied", logx.Err(err))
	}
	a.sched.Apply(scheduler.Config{Timezone: orDefault(newCfg.Schedule.Timezone, "UTC")})
	if err := a.registerJobs(newCfg); err != nil {
		a.log.Warn("job schedules not applied; keeping previous", logx.Err(err))
	}

	for _, s := range sections {
		switch s {
		case "discord", "storage", "leetcode", "ops":
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
