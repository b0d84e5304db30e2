package leetcode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"lcdaily/internal/domain"
)

// DefaultRatingsURL is the community-maintained contest rating table.
const DefaultRatingsURL = "https://raw.githubusercontent.com/zerotrac/leetcode_problem_rating/main/ratings.txt"

// FetchRatings downloads the contest rating table. The file is tab separated
// with a header row: rating, id, title, title_cn, slug, contest, index.
func (c *Client) FetchRatings(ctx context.Context) (domain.Ratings, error) {
	raw, err := c.do(ctx, "ratings", http.MethodGet, c.cfg.RatingsURL, domain.SiteCOM, nil)
	if err != nil {
		return domain.Ratings{}, err
	}
	r := parseRatings(raw)
	if len(r.ByID) == 0 {
		return domain.Ratings{}, &domain.PermanentError{Op: "ratings", Err: fmt.Errorf("no rows in %d bytes", len(raw))}
	}
	return r, nil
}

func parseRatings(raw []byte) domain.Ratings {
	r := domain.Ratings{ByID: map[string]float64{}, BySlug: map[string]float64{}}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		parts := strings.Split(strings.TrimSpace(sc.Text()), "\t")
		if len(parts) < 2 {
			continue
		}
		rating, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil || rating <= 0 {
			continue
		}
		id := strings.TrimSpace(parts[1])
		if _, err := strconv.Atoi(id); err != nil {
			continue
		}
		r.ByID[id] = rating
		if len(parts) > 4 {
			if slug := strings.TrimSpace(parts[4]); slug != "" {
				r.BySlug[slug] = rating
			}
		}
	}
	return r
}
