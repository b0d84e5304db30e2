// Package backfill fills the daily-challenge history for a date range with
// bounded concurrency and retries.
package backfill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"lcdaily/internal/domain"
	"lcdaily/internal/observability"
	"lcdaily/internal/task/retry"
	logx "lcdaily/pkg/logx"
)

const DefaultMaxConcurrency = 5

type Source interface {
	FetchDailyChallenge(ctx context.Context, site domain.Site, date string) (domain.Problem, error)
}

type Store interface {
	ListDailyDates(ctx context.Context, site domain.Site, from, to string) ([]string, error)
	InsertDailyIfAbsent(ctx context.Context, rec domain.DailyChallenge, p domain.Problem) (bool, error)
}

type Config struct {
	// MaxConcurrency is used when a Request leaves it unset.
	MaxConcurrency int
	// Retry applies to transient source errors only.
	Retry retry.Policy
}

type Request struct {
	Site           domain.Site
	Start, End     string // YYYY-MM-DD, inclusive
	MaxConcurrency int
}

type Summary struct {
	RunID           string
	Site            domain.Site
	Start, End      string
	Fetched         int
	SkippedExisting int
	Missing         int
	Failed          int
	Cancelled       int
	Elapsed         time.Duration
}

func (s Summary) Total() int {
	return s.Fetched + s.SkippedExisting + s.Missing + s.Failed + s.Cancelled
}

type Fetcher struct {
	source  Source
	store   Store
	cfg     Config
	log     logx.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func New(source Source, store Store, cfg Config, log logx.Logger, metrics *observability.Metrics) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Fetcher{
		source:  source,
		store:   store,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "backfill")),
		metrics: metrics,
		now:     time.Now,
	}
}

type outcome int

const (
	fetched outcome = iota
	skipped
	missing
	failed
	cancelled
)

var outcomeNames = [...]string{"fetched", "skipped_existing", "missing", "failed", "cancelled"}

func (o outcome) String() string { return outcomeNames[o] }

// Run fetches every date of [Start, End] not yet stored. Dates after the
// site's today are dropped. On cancellation it stops scheduling, lets running
// tasks observe ctx and returns the partial summary with ctx's error.
func (f *Fetcher) Run(ctx context.Context, req Request) (Summary, error) {
	started := time.Now()
	if req.Site == "" {
		req.Site = domain.SiteCOM
	}
	dates, err := f.dates(req)
	if err != nil {
		return Summary{}, err
	}
	k := req.MaxConcurrency
	if k <= 0 {
		k = f.cfg.MaxConcurrency
	}

	sum := Summary{RunID: uuid.NewString(), Site: req.Site, Start: req.Start, End: req.End}
	log := f.log.With(logx.String("run_id", sum.RunID), logx.String("site", string(req.Site)))
	if len(dates) == 0 {
		sum.Elapsed = time.Since(started)
		return sum, nil
	}
	sum.End = dates[len(dates)-1]

	existing, err := f.store.ListDailyDates(ctx, req.Site, dates[0], dates[len(dates)-1])
	if err != nil {
		return Summary{}, fmt.Errorf("list stored dates: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		have[d] = struct{}{}
	}

	log.Info("backfill started",
		logx.String("start", dates[0]), logx.String("end", sum.End),
		logx.Int("dates", len(dates)), logx.Int("stored", len(have)), logx.Int("concurrency", k))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(o outcome) {
		mu.Lock()
		switch o {
		case fetched:
			sum.Fetched++
		case skipped:
			sum.SkippedExisting++
		case missing:
			sum.Missing++
		case failed:
			sum.Failed++
		case cancelled:
			sum.Cancelled++
		}
		mu.Unlock()
		f.metrics.BackfillDate(string(req.Site), o.String())
	}

	sem := semaphore.NewWeighted(int64(k))
	for i, date := range dates {
		if _, ok := have[date]; ok {
			record(skipped)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			for _, d := range dates[i:] {
				if _, ok := have[d]; ok {
					record(skipped)
				} else {
					record(cancelled)
				}
			}
			break
		}
		wg.Add(1)
		go func(date string) {
			defer wg.Done()
			defer sem.Release(1)
			record(f.one(ctx, log, req.Site, date))
		}(date)
	}
	wg.Wait()

	sum.Elapsed = time.Since(started)
	log.Info("backfill finished",
		logx.Int("fetched", sum.Fetched), logx.Int("skipped_existing", sum.SkippedExisting),
		logx.Int("missing", sum.Missing), logx.Int("failed", sum.Failed),
		logx.Int("cancelled", sum.Cancelled), logx.Duration("elapsed", sum.Elapsed))
	return sum, ctx.Err()
}

func (f *Fetcher) one(ctx context.Context, log logx.Logger, site domain.Site, date string) outcome {
	policy := f.cfg.Retry
	policy.Retryable = domain.IsTransient
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Debug("retrying date", logx.String("date", date), logx.Int("attempt", attempt),
			logx.Duration("delay", delay), logx.Err(err))
	}

	var p domain.Problem
	_, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var ferr error
		p, ferr = f.source.FetchDailyChallenge(ctx, site, date)
		return ferr
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return cancelled
	case domain.IsNotFound(err):
		log.Debug("no challenge for date", logx.String("date", date))
		return missing
	default:
		log.Warn("date failed", logx.String("date", date), logx.Err(err))
		return failed
	}

	p.Site = site
	inserted, err := f.store.InsertDailyIfAbsent(ctx, domain.DailyChallenge{Site: site, Date: date, ProblemID: p.ID}, p)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled
		}
		log.Warn("store date failed", logx.String("date", date), logx.Err(err))
		return failed
	}
	if !inserted {
		return skipped
	}
	return fetched
}

// dates expands the inclusive range, dropping days after the site's today.
func (f *Fetcher) dates(req Request) ([]string, error) {
	start, err := time.Parse(domain.DateLayout, req.Start)
	if err != nil {
		return nil, fmt.Errorf("start date: %w", err)
	}
	end, err := time.Parse(domain.DateLayout, req.End)
	if err != nil {
		return nil, fmt.Errorf("end date: %w", err)
	}
	if start.After(end) {
		return nil, fmt.Errorf("start %s is after end %s", req.Start, req.End)
	}
	today, _ := time.Parse(domain.DateLayout, req.Site.Today(f.now()))
	if end.After(today) {
		end = today
	}
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(domain.DateLayout))
	}
	return out, nil
}

// LastDays returns the inclusive range covering the n most recent days on site.
func LastDays(site domain.Site, now time.Time, n int) (string, string) {
	if n < 1 {
		n = 1
	}
	end := now.In(site.Location())
	start := end.AddDate(0, 0, -(n - 1))
	return start.Format(domain.DateLayout), end.Format(domain.DateLayout)
}
