// Package leetcode fetches daily challenges, problem details and recent
// submissions from the LeetCode GraphQL API.
package leetcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"lcdaily/internal/domain"
	"lcdaily/internal/observability"
	logx "lcdaily/pkg/logx"
)

type Config struct {
	// RatePerSec paces outgoing requests across the whole client. Default 2.
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	UserAgent  string
	// RatingsURL serves the contest rating table. Default DefaultRatingsURL.
	RatingsURL string
	// BaseURL overrides https://leetcode.<site> (tests).
	BaseURL map[domain.Site]string
}

// Client is safe for concurrent use.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	cfg     Config
	log     logx.Logger
	metrics *observability.Metrics
	now     func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	months  map[string]monthEntry
	listing map[domain.Site]map[string]string // id -> slug
}

type monthEntry struct {
	byDate    map[string]monthlyChallenge
	fetchedAt time.Time
}

func New(cfg Config, log logx.Logger, metrics *observability.Metrics) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatingsURL == "" {
		cfg.RatingsURL = DefaultRatingsURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; lcdaily)"
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		now:     time.Now,
		months:  map[string]monthEntry{},
		listing: map[domain.Site]map[string]string{},
	}
}

func (c *Client) baseURL(site domain.Site) string {
	if u, ok := c.cfg.BaseURL[site]; ok && u != "" {
		return strings.TrimSuffix(u, "/")
	}
	return site.BaseURL()
}

type gqlRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

// graphql posts one operation and decodes "data" into out.
func (c *Client) graphql(ctx context.Context, site domain.Site, op, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars, OperationName: op})
	if err != nil {
		return &domain.PermanentError{Op: op, Err: err}
	}
	raw, err := c.do(ctx, op, http.MethodPost, c.baseURL(site)+"/graphql", site, bytes.NewReader(body))
	if err != nil {
		return err
	}

	var env struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return &domain.PermanentError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	if len(env.Errors) > 0 {
		msg := env.Errors[0].Message
		low := strings.ToLower(msg)
		if strings.Contains(low, "not exist") || strings.Contains(low, "not found") {
			return fmt.Errorf("%s: %s: %w", op, msg, domain.ErrNotFound)
		}
		return &domain.PermanentError{Op: op, Err: errors.New(msg)}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%s: empty data: %w", op, domain.ErrNotFound)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &domain.PermanentError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// do performs one paced request and classifies the outcome.
func (c *Client) do(ctx context.Context, op, method, url string, site domain.Site, body io.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &domain.PermanentError{Op: op, Err: err}
	}
	base := c.baseURL(site)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", base+"/problemset/")
	req.Header.Set("Origin", base)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.metrics.SourceRequest(op, "transient")
		return nil, &domain.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		c.metrics.SourceRequest(op, "transient")
		return nil, &domain.TransientError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.metrics.SourceRequest(op, "ok")
		return raw, nil
	case resp.StatusCode == http.StatusNotFound:
		c.metrics.SourceRequest(op, "not_found")
		return nil, fmt.Errorf("%s: HTTP 404: %w", op, domain.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.metrics.SourceRequest(op, "transient")
		return nil, &domain.TransientError{
			Op:    op,
			Err:   fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(raw)),
			After: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	default:
		c.metrics.SourceRequest(op, "permanent")
		return nil, &domain.PermanentError{Op: op, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(raw))}
	}
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func snippet(b []byte) string {
	s := strings.Join(strings.Fields(string(b)), " ")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
