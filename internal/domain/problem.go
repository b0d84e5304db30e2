// Package domain holds the types shared by the fetcher, scheduler, store and
// Discord layers.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for daily records and
// GuildConfig.LastPostedDate.
const DateLayout = "2006-01-02"

// Site identifies a LeetCode site.
type Site string

const (
	SiteCOM Site = "com"
	SiteCN  Site = "cn"
)

func ParseSite(s string) (Site, error) {
	switch Site(strings.ToLower(strings.TrimSpace(s))) {
	case "", SiteCOM:
		return SiteCOM, nil
	case SiteCN:
		return SiteCN, nil
	}
	return "", fmt.Errorf("unknown site %q (want com or cn)", s)
}

// Location is the timezone the site rolls its daily challenge over in.
func (s Site) Location() *time.Location {
	if s == SiteCN {
		if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
			return loc
		}
		return time.FixedZone("CST", 8*3600)
	}
	return time.UTC
}

// Today returns the site's current calendar date at now.
func (s Site) Today(now time.Time) string {
	return now.In(s.Location()).Format(DateLayout)
}

func (s Site) BaseURL() string { return "https://leetcode." + string(s) }

// Problem is immutable once fetched.
type Problem struct {
	ID         string   `json:"id"`
	Site       Site     `json:"site"`
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	TitleCN    string   `json:"title_cn,omitempty"`
	Difficulty string   `json:"difficulty"`
	Tags       []string `json:"tags"`
	Link       string   `json:"link"`
	ACRate     float64  `json:"ac_rate"`
	PaidOnly   bool     `json:"paid_only"`
	// Content is the problem statement as served by the site (HTML).
	Content string `json:"content,omitempty"`
	// Rating is the contest difficulty rating, 0 when the problem is unrated.
	Rating  float64          `json:"rating,omitempty"`
	Similar []SimilarProblem `json:"similar,omitempty"`
}

// SimilarProblem is one entry of a problem's "similar questions" list.
type SimilarProblem struct {
	Slug       string  `json:"slug"`
	Title      string  `json:"title"`
	TitleCN    string  `json:"title_cn,omitempty"`
	Difficulty string  `json:"difficulty"`
	Rating     float64 `json:"rating,omitempty"`
}

// Ratings is the contest rating table. Frontend ids are shared by both sites.
type Ratings struct {
	ByID   map[string]float64
	BySlug map[string]float64
}

// Lookup finds a rating by id, then by slug.
func (r Ratings) Lookup(id, slug string) (float64, bool) {
	if v, ok := r.ByID[id]; ok && id != "" {
		return v, true
	}
	if v, ok := r.BySlug[slug]; ok && slug != "" {
		return v, true
	}
	return 0, false
}

// DailyChallenge links a (site, date) to the problem of that day.
type DailyChallenge struct {
	Site      Site
	Date      string
	ProblemID string
}

// Submission is one accepted submission from a user's recent list.
type Submission struct {
	ID        string
	Title     string
	Slug      string
	Timestamp time.Time
}
