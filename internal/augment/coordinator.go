// Package augment serves LLM translations and hints. The Coordinator
// deduplicates concurrent requests per (user, problem, kind) and caches
// results per (problem, kind, variant).
package augment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lcdaily/internal/domain"
	"lcdaily/internal/observability"
	logx "lcdaily/pkg/logx"
)

// Outcome tells the caller whether its request ran.
type Outcome int

const (
	// Proceeded means the caller got content, from cache or a fresh generation.
	Proceeded Outcome = iota
	// AlreadyInProgress means the same user already has this exact request
	// running. It is not an error.
	AlreadyInProgress
)

func (o Outcome) String() string {
	if o == AlreadyInProgress {
		return "already_in_progress"
	}
	return "proceeded"
}

type Request struct {
	UserID    string
	ProblemID string
	Site      domain.Site
	Kind      domain.AugmentKind
	// Variant is the reply language. Empty uses the generator default.
	Variant string
}

type Result struct {
	Outcome Outcome
	Content string
	Model   string
	Cached  bool
}

// Generated is what a Generator produced. Cacheable is false for replies
// that are shown as-is but should not be stored (malformed output).
type Generated struct {
	Content   string
	Model     string
	Cacheable bool
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Generated, error)
}

// ResultCache is the durable LLM result store.
type ResultCache interface {
	GetLLMResult(ctx context.Context, key domain.LLMKey, notBefore time.Time) (domain.LLMResult, error)
	PutLLMResult(ctx context.Context, r domain.LLMResult) error
}

// inflightKey names one user's request for one problem; a problem is a
// (site, id) pair since com and cn number some problems differently.
type inflightKey struct {
	userID    string
	site      domain.Site
	problemID string
	kind      domain.AugmentKind
}

type Coordinator struct {
	gen     Generator
	cache   ResultCache
	log     logx.Logger
	metrics *observability.Metrics
	now     func() time.Time

	ttlMu sync.RWMutex
	ttl   time.Duration

	mu       sync.Mutex
	inflight map[inflightKey]struct{}
}

type Option func(*Coordinator)

// WithTTL bounds cache reads; 0 accepts results of any age.
func WithTTL(ttl time.Duration) Option { return func(c *Coordinator) { c.ttl = ttl } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func WithMetrics(m *observability.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

func NewCoordinator(gen Generator, cache ResultCache, log logx.Logger, opts ...Option) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Coordinator{
		gen:      gen,
		cache:    cache,
		log:      log.With(logx.String("comp", "augment")),
		now:      time.Now,
		inflight: map[inflightKey]struct{}{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetTTL changes the cache horizon at runtime (config reload).
func (c *Coordinator) SetTTL(ttl time.Duration) {
	c.ttlMu.Lock()
	c.ttl = ttl
	c.ttlMu.Unlock()
}

func (c *Coordinator) TTL() time.Duration {
	c.ttlMu.RLock()
	defer c.ttlMu.RUnlock()
	return c.ttl
}

// Request returns cached content when fresh, otherwise generates it unless the
// same user already has the same (problem, kind) in flight.
func (c *Coordinator) Request(ctx context.Context, req Request) (Result, error) {
	if req.ProblemID == "" || req.Kind == "" {
		return Result{}, errors.New("augment: problem id and kind are required")
	}
	if req.Site == "" {
		req.Site = domain.SiteCOM
	}
	key := domain.LLMKey{Site: req.Site, ProblemID: req.ProblemID, Kind: req.Kind, Variant: req.Variant}
	log := c.log.With(
		logx.String("user", req.UserID),
		logx.String("problem", req.ProblemID),
		logx.String("kind", string(req.Kind)),
	)

	if hit, ok := c.lookup(ctx, key, log); ok {
		c.metrics.Augment(string(req.Kind), "cached")
		return Result{Outcome: Proceeded, Content: hit.Content, Model: hit.Model, Cached: true}, nil
	}

	ik := inflightKey{userID: req.UserID, site: req.Site, problemID: req.ProblemID, kind: req.Kind}
	if !c.acquire(ik) {
		c.metrics.Augment(string(req.Kind), "duplicate")
		log.Debug("augmentation already in progress")
		return Result{Outcome: AlreadyInProgress}, nil
	}
	defer c.release(ik)

	c.metrics.AugmentInflight(1)
	defer c.metrics.AugmentInflight(-1)

	out, err := c.gen.Generate(ctx, req)
	if err != nil {
		c.metrics.Augment(string(req.Kind), "failed")
		return Result{}, fmt.Errorf("augment %s %s: %w", req.Kind, req.ProblemID, err)
	}
	if out.Cacheable {
		rec := domain.LLMResult{LLMKey: key, Content: out.Content, Model: out.Model, CreatedAt: c.now()}
		if err := c.cache.PutLLMResult(ctx, rec); err != nil {
			log.Warn("cache write failed", logx.Err(err))
		}
	}
	c.metrics.Augment(string(req.Kind), "generated")
	return Result{Outcome: Proceeded, Content: out.Content, Model: out.Model}, nil
}

func (c *Coordinator) lookup(ctx context.Context, key domain.LLMKey, log logx.Logger) (domain.LLMResult, bool) {
	var notBefore time.Time
	if ttl := c.TTL(); ttl > 0 {
		notBefore = c.now().Add(-ttl)
	}
	hit, err := c.cache.GetLLMResult(ctx, key, notBefore)
	if err != nil {
		if !domain.IsNotFound(err) {
			log.Warn("cache read failed, treating as miss", logx.Err(err))
		}
		return domain.LLMResult{}, false
	}
	return hit, true
}

// acquire is the atomic test-and-insert on the in-flight set.
func (c *Coordinator) acquire(k inflightKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[k]; busy {
		return false
	}
	c.inflight[k] = struct{}{}
	return true
}

func (c *Coordinator) release(k inflightKey) {
	c.mu.Lock()
	delete(c.inflight, k)
	c.mu.Unlock()
}

// InFlight reports how many requests are generating right now.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
