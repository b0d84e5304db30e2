package leetcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lcdaily/internal/domain"
	logx "lcdaily/pkg/logx"
)

// The monthly feed starts in April 2020.
var firstMonthly = time.Date(2020, time.April, 1, 0, 0, 0, 0, time.UTC)

// currentMonthTTL bounds how long the still-growing month is memoized.
const currentMonthTTL = time.Hour

// FetchDailyChallenge returns the problem that was the daily challenge on
// date (YYYY-MM-DD, in the site's own calendar).
//
// Today's record comes from the live query on both sites. Past dates are only
// available on com through the monthly feed; cn history is reported NotFound.
func (c *Client) FetchDailyChallenge(ctx context.Context, site domain.Site, date string) (domain.Problem, error) {
	day, err := time.ParseInLocation(domain.DateLayout, date, site.Location())
	if err != nil {
		return domain.Problem{}, &domain.PermanentError{Op: "daily", Err: fmt.Errorf("bad date %q", date)}
	}
	today := site.Today(c.now())
	if date > today {
		return domain.Problem{}, &domain.PermanentError{Op: "daily", Err: fmt.Errorf("date %s is after today (%s)", date, today)}
	}

	if date == today {
		rec, err := c.fetchToday(ctx, site)
		if err != nil {
			return domain.Problem{}, err
		}
		if rec.Date == date {
			return c.withDetail(ctx, site, rec.Question.toProblem(site)), nil
		}
		// The site has not rolled over yet (or already has); fall back to history.
		c.log.Debug("today record date mismatch",
			logx.String("site", string(site)), logx.String("want", date), logx.String("got", rec.Date))
	}

	if site != domain.SiteCOM {
		return domain.Problem{}, fmt.Errorf("daily %s %s: history unavailable: %w", site, date, domain.ErrNotFound)
	}
	if day.Before(firstMonthly) {
		return domain.Problem{}, fmt.Errorf("daily %s: before first record: %w", date, domain.ErrNotFound)
	}

	byDate, err := c.month(ctx, day.Year(), day.Month())
	if err != nil {
		return domain.Problem{}, err
	}
	ch, ok := byDate[date]
	if !ok || ch.Question.TitleSlug == "" {
		return domain.Problem{}, fmt.Errorf("daily %s: %w", date, domain.ErrNotFound)
	}
	p, err := c.FetchProblemBySlug(ctx, site, ch.Question.TitleSlug)
	if err != nil {
		return domain.Problem{}, err
	}
	if p.ID == "" {
		p.ID = ch.Question.QuestionFrontendID
	}
	return p, nil
}

func (c *Client) fetchToday(ctx context.Context, site domain.Site) (todayRecord, error) {
	if site == domain.SiteCN {
		var out struct {
			TodayRecord []todayRecord `json:"todayRecord"`
		}
		if err := c.graphql(ctx, site, "questionOfToday", queryTodayCN, nil, &out); err != nil {
			return todayRecord{}, err
		}
		if len(out.TodayRecord) == 0 {
			return todayRecord{}, fmt.Errorf("today cn: empty record: %w", domain.ErrNotFound)
		}
		return out.TodayRecord[0], nil
	}

	var out struct {
		Active *todayRecord `json:"activeDailyCodingChallengeQuestion"`
	}
	if err := c.graphql(ctx, site, "questionOfToday", queryTodayCOM, nil, &out); err != nil {
		return todayRecord{}, err
	}
	if out.Active == nil {
		return todayRecord{}, fmt.Errorf("today com: empty record: %w", domain.ErrNotFound)
	}
	return *out.Active, nil
}

// withDetail fills the statement from the detail query. The daily record is
// enough to post, so a failed detail lookup only loses Content.
func (c *Client) withDetail(ctx context.Context, site domain.Site, p domain.Problem) domain.Problem {
	d, err := c.FetchProblemBySlug(ctx, site, p.Slug)
	if err != nil {
		c.log.Warn("problem detail unavailable", logx.String("slug", p.Slug), logx.Err(err))
		return p
	}
	p.Content = d.Content
	if p.TitleCN == "" {
		p.TitleCN = d.TitleCN
	}
	if len(p.Tags) == 0 {
		p.Tags = d.Tags
	}
	p.Similar = d.Similar
	return p
}

// month returns the challenges of one month keyed by date. Closed months are
// memoized for the life of the client, the current one for currentMonthTTL.
func (c *Client) month(ctx context.Context, year int, m time.Month) (map[string]monthlyChallenge, error) {
	key := fmt.Sprintf("%04d-%02d", year, int(m))
	now := c.now()
	current := now.UTC().Format("2006-01") == key

	c.mu.Lock()
	e, ok := c.months[key]
	c.mu.Unlock()
	if ok && (!current || now.Sub(e.fetchedAt) < currentMonthTTL) {
		return e.byDate, nil
	}

	v, err, _ := c.group.Do("month:"+key, func() (any, error) {
		var out struct {
			V2 *struct {
				Challenges []monthlyChallenge `json:"challenges"`
			} `json:"dailyCodingChallengeV2"`
		}
		vars := map[string]any{"year": year, "month": int(m)}
		if err := c.graphql(ctx, domain.SiteCOM, "dailyCodingQuestionRecords", queryMonthly, vars, &out); err != nil {
			return nil, err
		}
		if out.V2 == nil {
			return nil, fmt.Errorf("month %s: %w", key, domain.ErrNotFound)
		}
		byDate := make(map[string]monthlyChallenge, len(out.V2.Challenges))
		for _, ch := range out.V2.Challenges {
			byDate[ch.Date] = ch
		}
		c.mu.Lock()
		c.months[key] = monthEntry{byDate: byDate, fetchedAt: c.now()}
		c.mu.Unlock()
		return byDate, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]monthlyChallenge), nil
}

// FetchRecentSubmissions lists a user's latest accepted submissions on com.
func (c *Client) FetchRecentSubmissions(ctx context.Context, username string, limit int) ([]domain.Submission, error) {
	if username == "" {
		return nil, &domain.PermanentError{Op: "recentAc", Err: errors.New("empty username")}
	}
	if limit <= 0 {
		limit = 20
	}
	var out struct {
		List []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			TitleSlug string `json:"titleSlug"`
			Timestamp string `json:"timestamp"`
		} `json:"recentAcSubmissionList"`
	}
	vars := map[string]any{"username": username, "limit": limit}
	if err := c.graphql(ctx, domain.SiteCOM, "recentAcSubmissions", queryRecentAC, vars, &out); err != nil {
		return nil, err
	}
	subs := make([]domain.Submission, 0, len(out.List))
	for _, s := range out.List {
		var ts time.Time
		if secs, err := parseUnix(s.Timestamp); err == nil {
			ts = time.Unix(secs, 0).UTC()
		}
		subs = append(subs, domain.Submission{ID: s.ID, Title: s.Title, Slug: s.TitleSlug, Timestamp: ts})
	}
	return subs, nil
}
