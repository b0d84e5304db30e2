package leetcode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"lcdaily/internal/domain"
)

// FetchProblemBySlug loads the full problem including its statement.
func (c *Client) FetchProblemBySlug(ctx context.Context, site domain.Site, slug string) (domain.Problem, error) {
	slug = strings.Trim(strings.TrimSpace(slug), "/")
	if slug == "" {
		return domain.Problem{}, &domain.PermanentError{Op: "detail", Err: fmt.Errorf("empty slug")}
	}
	var out struct {
		Question *questionDetail `json:"question"`
	}
	if err := c.graphql(ctx, site, "getQuestionDetail", queryDetail, map[string]any{"titleSlug": slug}, &out); err != nil {
		return domain.Problem{}, err
	}
	if out.Question == nil {
		return domain.Problem{}, fmt.Errorf("problem %s: %w", slug, domain.ErrNotFound)
	}
	p := out.Question.toProblem(site)
	if site == domain.SiteCN && p.ACRate > 0 && p.ACRate <= 1 {
		p.ACRate *= 100
	}
	return p, nil
}

// FetchProblemByID resolves a frontend id through the problem listing and then
// loads the detail.
func (c *Client) FetchProblemByID(ctx context.Context, site domain.Site, id string) (domain.Problem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Problem{}, &domain.PermanentError{Op: "problemByID", Err: fmt.Errorf("empty id")}
	}
	slugs, err := c.slugIndex(ctx, site)
	if err != nil {
		return domain.Problem{}, err
	}
	slug, ok := slugs[id]
	if !ok {
		return domain.Problem{}, fmt.Errorf("problem %s/%s: %w", site, id, domain.ErrNotFound)
	}
	return c.FetchProblemBySlug(ctx, site, slug)
}

// slugIndex memoizes the id -> slug listing per site. The listing only grows,
// so an unknown id triggers at most one refresh per singleflight window.
func (c *Client) slugIndex(ctx context.Context, site domain.Site) (map[string]string, error) {
	c.mu.Lock()
	idx, ok := c.listing[site]
	c.mu.Unlock()
	if ok {
		return idx, nil
	}

	v, err, _ := c.group.Do("listing:"+string(site), func() (any, error) {
		raw, err := c.do(ctx, "problemList", http.MethodGet, c.baseURL(site)+"/api/problems/algorithms/", site, nil)
		if err != nil {
			return nil, err
		}
		var l listing
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, &domain.PermanentError{Op: "problemList", Err: fmt.Errorf("decode: %w", err)}
		}
		idx := make(map[string]string, len(l.StatStatusPairs))
		for _, p := range l.StatStatusPairs {
			if p.Stat.Hide || p.Stat.Slug == "" {
				continue
			}
			idx[p.Stat.FrontendQuestionID.String()] = p.Stat.Slug
		}
		c.mu.Lock()
		c.listing[site] = idx
		c.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

// InvalidateListing drops the memoized id index so the next lookup refetches.
func (c *Client) InvalidateListing(site domain.Site) {
	c.mu.Lock()
	delete(c.listing, site)
	c.mu.Unlock()
}

func parseUnix(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
