package augment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lcdaily/internal/domain"
	logx "lcdaily/pkg/logx"
)

type memCache struct {
	mu   sync.Mutex
	rows map[domain.LLMKey]domain.LLMResult
	puts int
}

func newMemCache() *memCache { return &memCache{rows: map[domain.LLMKey]domain.LLMResult{}} }

func (m *memCache) GetLLMResult(_ context.Context, key domain.LLMKey, notBefore time.Time) (domain.LLMResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[key]
	if !ok || (!notBefore.IsZero() && r.CreatedAt.Before(notBefore)) {
		return domain.LLMResult{}, fmt.Errorf("llm: %w", domain.ErrNotFound)
	}
	return r, nil
}

func (m *memCache) PutLLMResult(_ context.Context, r domain.LLMResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.rows[r.LLMKey] = r
	return nil
}

type genFunc func(ctx context.Context, req Request) (Generated, error)

func (f genFunc) Generate(ctx context.Context, req Request) (Generated, error) { return f(ctx, req) }

func ok(content string) genFunc {
	return func(context.Context, Request) (Generated, error) {
		return Generated{Content: content, Model: "m", Cacheable: true}, nil
	}
}

func translate(user, problem string) Request {
	return Request{UserID: user, ProblemID: problem, Site: domain.SiteCOM, Kind: domain.KindTranslate}
}

func TestConcurrentDuplicatesRunOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	gate := make(chan struct{})
	gen := genFunc(func(ctx context.Context, _ Request) (Generated, error) {
		calls.Add(1)
		<-gate
		return Generated{Content: "done", Cacheable: true}, nil
	})
	c := NewCoordinator(gen, newMemCache(), logx.Nop())

	const n = 10
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := c.Request(context.Background(), translate("u1", "1"))
			assert.NoError(t, err)
			results <- res
		}()
	}

	dups := 0
	for dups < n-1 {
		select {
		case r := <-results:
			require.Equal(t, AlreadyInProgress, r.Outcome)
			dups++
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d duplicates returned", dups)
		}
	}
	close(gate)
	last := <-results
	assert.Equal(t, Proceeded, last.Outcome)
	assert.Equal(t, "done", last.Content)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 0, c.InFlight())
}

func TestKeyReleasedOnEveryExit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		c := NewCoordinator(genFunc(func(context.Context, Request) (Generated, error) {
			return Generated{Content: "x"}, nil
		}), newMemCache(), logx.Nop())
		_, err := c.Request(ctx, translate("u", "1"))
		require.NoError(t, err)
		assert.Equal(t, 0, c.InFlight())
	})

	t.Run("failure", func(t *testing.T) {
		cache := newMemCache()
		c := NewCoordinator(genFunc(func(context.Context, Request) (Generated, error) {
			return Generated{}, &domain.LLMError{Provider: "p", Err: errors.New("quota")}
		}), cache, logx.Nop())
		_, err := c.Request(ctx, translate("u", "1"))
		require.Error(t, err)
		assert.True(t, domain.IsLLM(err))
		assert.Equal(t, 0, c.InFlight())
		assert.Equal(t, 0, cache.puts, "failures are never cached")

		// A retry by the same user proceeds rather than reporting a duplicate.
		_, err = c.Request(ctx, translate("u", "1"))
		require.Error(t, err)
	})

	t.Run("panic", func(t *testing.T) {
		var calls atomic.Int32
		c := NewCoordinator(genFunc(func(context.Context, Request) (Generated, error) {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return Generated{Content: "ok"}, nil
		}), newMemCache(), logx.Nop())

		func() {
			defer func() { _ = recover() }()
			_, _ = c.Request(ctx, translate("u", "1"))
		}()
		assert.Equal(t, 0, c.InFlight())

		res, err := c.Request(ctx, translate("u", "1"))
		require.NoError(t, err)
		assert.Equal(t, Proceeded, res.Outcome)
	})
}

func TestOnlyExactKeyCollides(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int32
	gen := genFunc(func(_ context.Context, req Request) (Generated, error) {
		calls.Add(1)
		if req.UserID == "u1" && req.Site == domain.SiteCOM && req.ProblemID == "1" && req.Kind == domain.KindTranslate {
			entered <- struct{}{}
			<-gate
		}
		return Generated{Content: "x"}, nil
	})
	c := NewCoordinator(gen, newMemCache(), logx.Nop())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Request(ctx, translate("u1", "1"))
	}()
	<-entered

	others := []Request{
		translate("u2", "1"),
		translate("u1", "2"),
		{UserID: "u1", ProblemID: "1", Site: domain.SiteCOM, Kind: domain.KindInspire},
		{UserID: "u1", ProblemID: "1", Site: domain.SiteCN, Kind: domain.KindTranslate},
	}
	for _, r := range others {
		res, err := c.Request(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, Proceeded, res.Outcome, "%+v", r)
	}
	res, err := c.Request(ctx, translate("u1", "1"))
	require.NoError(t, err)
	assert.Equal(t, AlreadyInProgress, res.Outcome)

	close(gate)
	<-done
	assert.EqualValues(t, 5, calls.Load())
}

func TestCacheHitAndExpiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	var calls atomic.Int32
	gen := genFunc(func(context.Context, Request) (Generated, error) {
		calls.Add(1)
		return Generated{Content: fmt.Sprintf("v%d", calls.Load()), Model: "m", Cacheable: true}, nil
	})
	cache := newMemCache()
	c := NewCoordinator(gen, cache, logx.Nop(), WithTTL(7*24*time.Hour), WithClock(func() time.Time { return clock() }))
	ctx := context.Background()

	res, err := c.Request(ctx, translate("u1", "1"))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "v1", res.Content)

	// Any user hits the cache for the same (problem, kind, variant).
	res, err = c.Request(ctx, translate("u2", "1"))
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "v1", res.Content)
	assert.EqualValues(t, 1, calls.Load())

	// A different variant is a different cache key.
	res, err = c.Request(ctx, Request{UserID: "u1", ProblemID: "1", Site: domain.SiteCOM, Kind: domain.KindTranslate, Variant: "ja"})
	require.NoError(t, err)
	assert.False(t, res.Cached)

	now = now.Add(8 * 24 * time.Hour)
	res, err = c.Request(ctx, translate("u1", "1"))
	require.NoError(t, err)
	assert.False(t, res.Cached, "expired entries are ignored")
	assert.EqualValues(t, 3, calls.Load())
}

func TestUncacheableResultIsNotStored(t *testing.T) {
	t.Parallel()
	cache := newMemCache()
	c := NewCoordinator(genFunc(func(context.Context, Request) (Generated, error) {
		return Generated{Content: "raw text"}, nil
	}), cache, logx.Nop())
	res, err := c.Request(context.Background(), translate("u", "1"))
	require.NoError(t, err)
	assert.Equal(t, "raw text", res.Content)
	assert.Equal(t, 0, cache.puts)

	cache2 := newMemCache()
	c2 := NewCoordinator(ok("fine"), cache2, logx.Nop())
	_, err = c2.Request(context.Background(), translate("u", "1"))
	require.NoError(t, err)
	assert.Equal(t, 1, cache2.puts)
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()
	c := NewCoordinator(ok("x"), newMemCache(), logx.Nop())
	_, err := c.Request(context.Background(), Request{UserID: "u"})
	assert.Error(t, err)
}
