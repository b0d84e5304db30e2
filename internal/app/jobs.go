package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lcdaily/internal/backfill"
	"lcdaily/internal/config"
	"lcdaily/internal/task/scheduler"
	logx "lcdaily/pkg/logx"
)

const (
	jobDispatch = "dispatch.tick"
	jobPrune    = "cache.prune"
	jobBackfill = "backfill"
)

// registerJobs (re)registers the scheduled jobs from cfg. Jobs read the live
// config when they run, so only schedules are captured here.
func (a *App) registerJobs(cfg *config.Config) error {
	if err := a.sched.Add(jobDispatch, orDefault(cfg.Schedule.Tick, config.DefaultTick), 0, a.dispatch.Run); err != nil {
		return err
	}
	if err := a.sched.Add(jobPrune, orDefault(cfg.Schedule.Prune, config.DefaultPrune), time.Minute, a.pruneCache); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Backfill.Schedule) == "" {
		a.sched.Remove(jobBackfill)
		return nil
	}
	timeout, err := config.ParseDurationOrDefault("backfill.timeout", cfg.Backfill.Timeout, 30*time.Minute)
	if err != nil {
		return err
	}
	return a.sched.Add(jobBackfill, cfg.Backfill.Schedule, timeout, a.runBackfill)
}

// pruneCache deletes LLM results older than the cache TTL.
func (a *App) pruneCache(ctx context.Context) error {
	ttl, err := a.cfgm.Get().LLMCacheTTL()
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	n, err := a.store.PruneLLMResults(ctx, time.Now().Add(-ttl))
	if err != nil {
		return fmt.Errorf("prune llm results: %w", err)
	}
	if n > 0 {
		a.log.Info("llm cache pruned", logx.Int64("rows", n), logx.Duration("ttl", ttl))
	}
	return nil
}

// startupBackfill runs the backfill job once. When the job is scheduled it goes
// through the scheduler, so it never overlaps a scheduled run.
func (a *App) startupBackfill(ctx context.Context) error {
	err := a.sched.Trigger(jobBackfill)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		return a.runBackfill(ctx)
	case errors.Is(err, scheduler.ErrJobRunning):
		a.log.Info("startup backfill skipped; scheduled run in progress")
		return nil
	}
	return err
}

// runBackfill fills the last backfill.days days for every configured site.
func (a *App) runBackfill(ctx context.Context) error {
	cfg := a.cfgm.Get()
	days := cfg.Backfill.Days
	if days <= 0 {
		days = config.DefaultBackfillDay
	}
	var errs []error
	for _, site := range backfillSites(cfg) {
		start, end := backfill.LastDays(site, time.Now(), days)
		sum, err := a.backfill.Run(ctx, backfill.Request{
			Site:           site,
			Start:          start,
			End:            end,
			MaxConcurrency: cfg.Backfill.MaxConcurrency,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("backfill %s: %w", site, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if sum.Failed > 0 {
			errs = append(errs, fmt.Errorf("backfill %s: %d date(s) failed", site, sum.Failed))
		}
	}
	return errors.Join(errs...)
}
