// Package dispatch posts the daily challenge to every configured guild once
// per guild-local day, at or after the guild's post time.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lcdaily/internal/domain"
	"lcdaily/internal/observability"
	logx "lcdaily/pkg/logx"
)

type GuildStore interface {
	ListGuildConfigs(ctx context.Context) ([]domain.GuildConfig, error)
	MarkPosted(ctx context.Context, guildID, date string) error
}

type Catalog interface {
	Daily(ctx context.Context, site domain.Site, date string) (domain.Problem, error)
}

type Poster interface {
	PostDaily(ctx context.Context, guild domain.GuildConfig, p domain.Problem) error
}

type Config struct {
	// MaxParallel bounds guilds dispatched at once. Default 4.
	MaxParallel int
	// PostTimeout bounds one guild's fetch+post+mark. Default 30s.
	PostTimeout time.Duration
}

// Result is the per-guild outcome of a tick.
type Result string

const (
	ResultPosted        Result = "posted"
	ResultNotDue        Result = "not_due"
	ResultAlreadyPosted Result = "already_posted"
	ResultConfigMissing Result = "config_missing"
	ResultInvalid       Result = "invalid"
	ResultFailed        Result = "failed"
	ResultBusy          Result = "busy"
)

type Report struct {
	Results map[string]Result
	Errors  map[string]error
}

func (r Report) Count(res Result) int {
	n := 0
	for _, v := range r.Results {
		if v == res {
			n++
		}
	}
	return n
}

type Scheduler struct {
	store   GuildStore
	catalog Catalog
	poster  Poster
	cfg     Config
	log     logx.Logger
	metrics *observability.Metrics
	now     func() time.Time

	locks sync.Map // guildID -> *sync.Mutex
}

func New(store GuildStore, catalog Catalog, poster Poster, cfg Config, log logx.Logger, metrics *observability.Metrics) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.PostTimeout <= 0 {
		cfg.PostTimeout = 30 * time.Second
	}
	return &Scheduler{
		store:   store,
		catalog: catalog,
		poster:  poster,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "dispatch")),
		metrics: metrics,
		now:     time.Now,
	}
}

// Run performs one tick at the current time. It is the scheduler job body.
func (s *Scheduler) Run(ctx context.Context) error {
	rep := s.Tick(ctx, s.now())
	if n := rep.Count(ResultFailed); n > 0 {
		return fmt.Errorf("dispatch: %d guild(s) failed", n)
	}
	return nil
}

// Tick evaluates every guild at now and dispatches the due ones. A guild's
// failure never affects its siblings and leaves its LastPostedDate untouched,
// so the next tick retries it.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) Report {
	start := time.Now()
	defer func() { s.metrics.DispatchTick(time.Since(start)) }()

	rep := Report{Results: map[string]Result{}, Errors: map[string]error{}}
	guilds, err := s.store.ListGuildConfigs(ctx)
	if err != nil {
		s.log.Error("list guild configs failed", logx.Err(err))
		return rep
	}

	var mu sync.Mutex
	set := func(id string, res Result, err error) {
		mu.Lock()
		rep.Results[id] = res
		if err != nil {
			rep.Errors[id] = err
		}
		mu.Unlock()
		s.metrics.Dispatch(string(res))
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxParallel)
	for _, guild := range guilds {
		g.Go(func() error {
			res, err := s.guild(ctx, guild, now)
			set(guild.GuildID, res, err)
			return nil
		})
	}
	_ = g.Wait()

	if posted := rep.Count(ResultPosted); posted > 0 || len(rep.Errors) > 0 {
		s.log.Info("dispatch tick",
			logx.Int("guilds", len(guilds)), logx.Int("posted", posted),
			logx.Int("failed", rep.Count(ResultFailed)), logx.Int("invalid", rep.Count(ResultInvalid)))
	}
	return rep
}

func (s *Scheduler) guild(ctx context.Context, g domain.GuildConfig, now time.Time) (Result, error) {
	log := s.log.With(logx.String("guild", g.GuildID))
	if strings.TrimSpace(g.ChannelID) == "" {
		log.Debug("guild has no channel configured")
		return ResultConfigMissing, nil
	}

	localDate, due, err := Due(g, now)
	if err != nil {
		log.Warn("guild schedule invalid", logx.Err(err))
		return ResultInvalid, err
	}
	if !due {
		if g.LastPostedDate == localDate {
			return ResultAlreadyPosted, nil
		}
		return ResultNotDue, nil
	}

	mu := s.lock(g.GuildID)
	if !mu.TryLock() {
		log.Debug("previous dispatch still running")
		return ResultBusy, nil
	}
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PostTimeout)
	defer cancel()

	site := g.Site
	if site == "" {
		site = domain.SiteCOM
	}
	p, err := s.catalog.Daily(ctx, site, site.Today(now))
	if err != nil {
		log.Warn("daily challenge unavailable", logx.Err(err))
		return ResultFailed, fmt.Errorf("fetch daily: %w", err)
	}
	if err := s.poster.PostDaily(ctx, g, p); err != nil {
		log.Warn("post failed", logx.String("problem", p.ID), logx.Err(err))
		return ResultFailed, fmt.Errorf("post: %w", err)
	}
	if err := s.store.MarkPosted(ctx, g.GuildID, localDate); err != nil {
		// The message is out; a failed mark means a possible repost next tick.
		log.Error("mark posted failed", logx.String("date", localDate), logx.Err(err))
		return ResultFailed, fmt.Errorf("mark posted: %w", err)
	}
	log.Info("daily challenge posted", logx.String("date", localDate), logx.String("problem", p.ID))
	return ResultPosted, nil
}

func (s *Scheduler) lock(guildID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(guildID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Due reports the guild-local date at now and whether the guild should be
// posted to: local time at or past the post time and nothing posted for that
// date yet. A guild that missed its time (downtime) is due until it posts.
func Due(g domain.GuildConfig, now time.Time) (string, bool, error) {
	loc, hh, mm, err := g.Schedule()
	if err != nil {
		return "", false, err
	}
	local := now.In(loc)
	localDate := local.Format(domain.DateLayout)
	postAt := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
	if local.Before(postAt) || g.LastPostedDate == localDate {
		return localDate, false, nil
	}
	return localDate, true, nil
}
