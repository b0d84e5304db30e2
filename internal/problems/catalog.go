// Package problems resolves daily challenges and problem details, reading the
// store first and falling back to the upstream source.
package problems

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"lcdaily/internal/domain"
	logx "lcdaily/pkg/logx"
)

// Store is the subset of the durable store the catalog needs.
type Store interface {
	GetDailyChallenge(ctx context.Context, site domain.Site, date string) (domain.DailyChallenge, error)
	InsertDailyIfAbsent(ctx context.Context, rec domain.DailyChallenge, p domain.Problem) (bool, error)
	GetProblem(ctx context.Context, site domain.Site, id string) (domain.Problem, error)
	UpsertProblem(ctx context.Context, p domain.Problem) error
}

// Source is the upstream problem data source.
type Source interface {
	FetchDailyChallenge(ctx context.Context, site domain.Site, date string) (domain.Problem, error)
	FetchProblemByID(ctx context.Context, site domain.Site, id string) (domain.Problem, error)
}

// RatingSource supplies the contest rating table.
type RatingSource interface {
	FetchRatings(ctx context.Context) (domain.Ratings, error)
}

// ratingsRetry is how long a failed table download is not retried.
const ratingsRetry = 10 * time.Minute

type Catalog struct {
	store  Store
	source Source
	log    logx.Logger
	now    func() time.Time

	ratings        RatingSource
	ratingsRefresh time.Duration
	ratingsGroup   singleflight.Group
	ratingsMu      sync.Mutex
	table          domain.Ratings
	tableFetched   time.Time
	tableRetry     time.Time
}

type Option func(*Catalog)

// WithRatings fills Problem.Rating from src, downloading the table at most
// once per refresh.
func WithRatings(src RatingSource, refresh time.Duration) Option {
	return func(c *Catalog) {
		c.ratings = src
		c.ratingsRefresh = refresh
	}
}

func NewCatalog(store Store, source Source, log logx.Logger, opts ...Option) *Catalog {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Catalog{store: store, source: source, log: log.With(logx.String("comp", "problems")), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Daily returns the daily challenge of date on site. A record missing from the
// store is fetched and inserted if absent; when another writer got there first
// the stored record wins.
func (c *Catalog) Daily(ctx context.Context, site domain.Site, date string) (domain.Problem, error) {
	p, err := c.daily(ctx, site, date)
	if err != nil {
		return p, err
	}
	c.enrich(ctx, &p)
	return p, nil
}

// Problem returns a problem with its statement. Rows stored without content
// (from the listing or the daily feed) are completed from the source.
func (c *Catalog) Problem(ctx context.Context, site domain.Site, id string) (domain.Problem, error) {
	p, err := c.problem(ctx, site, id)
	if err != nil {
		return p, err
	}
	c.enrich(ctx, &p)
	return p, nil
}

func (c *Catalog) daily(ctx context.Context, site domain.Site, date string) (domain.Problem, error) {
	rec, err := c.store.GetDailyChallenge(ctx, site, date)
	switch {
	case err == nil:
		p, perr := c.store.GetProblem(ctx, site, rec.ProblemID)
		if perr == nil {
			return p, nil
		}
		if !domain.IsNotFound(perr) {
			return domain.Problem{}, fmt.Errorf("load problem %s: %w", rec.ProblemID, perr)
		}
		c.log.Warn("daily record without problem row", logx.String("site", string(site)), logx.String("date", date))
	case !domain.IsNotFound(err):
		return domain.Problem{}, fmt.Errorf("load daily %s: %w", date, err)
	}

	p, err := c.source.FetchDailyChallenge(ctx, site, date)
	if err != nil {
		return domain.Problem{}, err
	}
	if p.ID == "" {
		return domain.Problem{}, &domain.PermanentError{Op: "daily", Err: errors.New("source returned a problem without id")}
	}
	p.Site = site
	inserted, err := c.store.InsertDailyIfAbsent(ctx, domain.DailyChallenge{Site: site, Date: date, ProblemID: p.ID}, p)
	if err != nil {
		// The post can still go out; the next caller retries the insert.
		c.log.Warn("store daily failed", logx.String("date", date), logx.Err(err))
		return p, nil
	}
	if !inserted {
		if rec, err := c.store.GetDailyChallenge(ctx, site, date); err == nil && rec.ProblemID != p.ID {
			if stored, err := c.store.GetProblem(ctx, site, rec.ProblemID); err == nil {
				return stored, nil
			}
		}
	}
	return p, nil
}

func (c *Catalog) problem(ctx context.Context, site domain.Site, id string) (domain.Problem, error) {
	p, err := c.store.GetProblem(ctx, site, id)
	if err == nil && p.Content != "" {
		return p, nil
	}
	if err != nil && !domain.IsNotFound(err) {
		return domain.Problem{}, fmt.Errorf("load problem %s: %w", id, err)
	}

	fresh, ferr := c.source.FetchProblemByID(ctx, site, id)
	if ferr != nil {
		if err == nil {
			// Serve what we have rather than nothing.
			c.log.Warn("problem detail refresh failed", logx.String("id", id), logx.Err(ferr))
			return p, nil
		}
		return domain.Problem{}, ferr
	}
	fresh.Site = site
	if err := c.store.UpsertProblem(ctx, fresh); err != nil {
		c.log.Warn("store problem failed", logx.String("id", id), logx.Err(err))
	}
	return fresh, nil
}

// enrich sets the ratings of p and its similar problems, storing p when a
// rating changed. Rating failures never fail the lookup.
func (c *Catalog) enrich(ctx context.Context, p *domain.Problem) {
	if c.ratings == nil {
		return
	}
	table, ok := c.ratingTable(ctx)
	if !ok {
		return
	}
	changed := false
	if r, ok := table.Lookup(p.ID, p.Slug); ok && r != p.Rating {
		p.Rating = r
		changed = true
	}
	for i := range p.Similar {
		if r, ok := table.Lookup("", p.Similar[i].Slug); ok && r != p.Similar[i].Rating {
			p.Similar[i].Rating = r
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := c.store.UpsertProblem(ctx, *p); err != nil {
		c.log.Warn("store rating failed", logx.String("id", p.ID), logx.Err(err))
	}
}

// ratingTable returns the cached table, downloading it when stale. A stale
// table keeps being served while downloads fail.
func (c *Catalog) ratingTable(ctx context.Context) (domain.Ratings, bool) {
	c.ratingsMu.Lock()
	now := c.now()
	table := c.table
	fresh := len(table.ByID) > 0 && (c.ratingsRefresh <= 0 || now.Sub(c.tableFetched) < c.ratingsRefresh)
	backoff := now.Before(c.tableRetry)
	c.ratingsMu.Unlock()
	if fresh || backoff {
		return table, len(table.ByID) > 0
	}

	v, err, _ := c.ratingsGroup.Do("ratings", func() (any, error) {
		r, err := c.ratings.FetchRatings(ctx)
		c.ratingsMu.Lock()
		defer c.ratingsMu.Unlock()
		if err != nil {
			c.tableRetry = c.now().Add(ratingsRetry)
			return c.table, err
		}
		c.table = r
		c.tableFetched = c.now()
		c.log.Info("ratings loaded", logx.Int("problems", len(r.ByID)))
		return r, nil
	})
	if err != nil {
		c.log.Warn("ratings download failed", logx.Err(err))
	}
	table = v.(domain.Ratings)
	return table, len(table.ByID) > 0
}
