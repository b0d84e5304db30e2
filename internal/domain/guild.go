package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPostTime = "00:00"
	DefaultTimezone = "UTC"
)

// GuildConfig is the per-guild posting configuration.
type GuildConfig struct {
	GuildID   string
	ChannelID string
	RoleID    string
	PostTime  string
	Timezone  string
	Site      Site
	// LastPostedDate is the guild-local date of the last successful post.
	LastPostedDate string
	UpdatedAt      time.Time
}

// Schedule resolves the guild's location and post time. Empty fields fall
// back to the defaults.
func (g GuildConfig) Schedule() (*time.Location, int, int, error) {
	tz := strings.TrimSpace(g.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("guild %s: timezone %q: %w", g.GuildID, tz, err)
	}
	pt := strings.TrimSpace(g.PostTime)
	if pt == "" {
		pt = DefaultPostTime
	}
	hh, mm, err := ParseHHMM(pt)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("guild %s: %w", g.GuildID, err)
	}
	return loc, hh, mm, nil
}

// ParseHHMM parses a 24h wall clock "HH:MM".
func ParseHHMM(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid post time %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}
