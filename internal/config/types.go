package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lcdaily/internal/domain"
)

type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	LeetCode LeetCodeConfig `json:"leetcode,omitempty"`
	LLM      LLMConfig      `json:"llm,omitempty"`
	Schedule ScheduleConfig `json:"schedule,omitempty"`
	Backfill BackfillConfig `json:"backfill,omitempty"`
	Ops      OpsConfig      `json:"ops,omitempty"`

	// Guilds are seed rows upserted into the store on load and on reload.
	// The stored LastPostedDate is never overwritten by a seed.
	Guilds []GuildSeed `json:"guilds,omitempty"`
}

type DiscordConfig struct {
	// Token may be left empty and supplied through DISCORD_TOKEN.
	Token string `json:"token,omitempty"`
	// InteractionTimeout bounds one button interaction (lookup + LLM). Default "2m".
	InteractionTimeout string `json:"interaction_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
	Discord LoggingSinkConfig `json:"discord"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingSinkConfig mirrors warn+ log lines into a Discord channel.
type LoggingSinkConfig struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	// Path of the SQLite file. Overridden by DATABASE_PATH.
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// PruneEvery triggers an opportunistic LLM cache prune every N writes.
	PruneEvery uint64 `json:"prune_every,omitempty"`
}

type LeetCodeConfig struct {
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	Burst          int     `json:"burst,omitempty"`
	Timeout        string  `json:"timeout,omitempty"`
	RatingsURL     string  `json:"ratings_url,omitempty"`
	RatingsRefresh string  `json:"ratings_refresh,omitempty"`
}

type LLMConfig struct {
	// Provider is gemini (default), openai or zhipu.
	Provider string `json:"provider,omitempty"`
	// APIKey may come from GOOGLE_GEMINI_API_KEY or LLM_API_KEY. Empty disables
	// translate and inspire.
	APIKey      string   `json:"api_key,omitempty"`
	BaseURL     string   `json:"base_url,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	// CacheTTL bounds how long a generated result is served. Default "168h";
	// "0s" keeps results forever.
	CacheTTL *string `json:"cache_ttl,omitempty"`
	// Language of translations and hints. Default zh-TW.
	Language string `json:"language,omitempty"`
}

type ScheduleConfig struct {
	// Timezone for cron expressions of the jobs below. Default UTC.
	Timezone string `json:"timezone,omitempty"`
	// Tick drives the dispatch scheduler. Default "every:1m".
	Tick string `json:"tick,omitempty"`
	// Prune drives LLM cache pruning. Default "cron:0 30 3 * * *".
	Prune            string `json:"prune,omitempty"`
	DispatchParallel int    `json:"dispatch_parallel,omitempty"`
	PostTimeout      string `json:"post_timeout,omitempty"`
	// DefaultPostTime and DefaultTimezone fill guild seeds that leave them
	// empty. Overridden by POST_TIME and TIMEZONE.
	DefaultPostTime string `json:"default_post_time,omitempty"`
	DefaultTimezone string `json:"default_timezone,omitempty"`
}

type BackfillConfig struct {
	OnStart bool `json:"on_start,omitempty"`
	// Schedule runs a backfill of the last Days days; empty disables it.
	Schedule       string   `json:"schedule,omitempty"`
	Days           int      `json:"days,omitempty"`
	Sites          []string `json:"sites,omitempty"`
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
	Timeout        string   `json:"timeout,omitempty"`
}

type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

type GuildSeed struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	RoleID    string `json:"role_id,omitempty"`
	PostTime  string `json:"post_time,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	Site      string `json:"site,omitempty"`
}

const (
	DefaultTick        = "every:1m"
	DefaultPrune       = "cron:0 30 3 * * *"
	DefaultCacheTTL    = 7 * 24 * time.Hour
	DefaultBackfillDay = 7
)

// GuildConfigs converts the seeds to domain rows, filling the schedule
// defaults.
func (c *Config) GuildConfigs() []domain.GuildConfig {
	out := make([]domain.GuildConfig, 0, len(c.Guilds))
	for _, g := range c.Guilds {
		gc := domain.GuildConfig{
			GuildID:   strings.TrimSpace(g.GuildID),
			ChannelID: strings.TrimSpace(g.ChannelID),
			RoleID:    strings.TrimSpace(g.RoleID),
			PostTime:  strings.TrimSpace(g.PostTime),
			Timezone:  strings.TrimSpace(g.Timezone),
			Site:      domain.Site(strings.ToLower(strings.TrimSpace(g.Site))),
		}
		if gc.PostTime == "" {
			gc.PostTime = c.Schedule.DefaultPostTime
		}
		if gc.Timezone == "" {
			gc.Timezone = c.Schedule.DefaultTimezone
		}
		out = append(out, gc)
	}
	return out
}

// LLMCacheTTL returns the configured retention; zero means unbounded.
func (c *Config) LLMCacheTTL() (time.Duration, error) {
	if c.LLM.CacheTTL == nil {
		return DefaultCacheTTL, nil
	}
	return ParseDurationField("llm.cache_ttl", *c.LLM.CacheTTL)
}

// LLMTemperature returns the configured sampling temperature, default 0.2.
func (c *Config) LLMTemperature() float64 {
	if c.LLM.Temperature == nil {
		return 0.2
	}
	return *c.LLM.Temperature
}

// Validate checks everything that can be checked without I/O.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		add(errors.New("storage.path is required"))
	}
	for _, f := range []struct{ path, raw string }{
		{"discord.interaction_timeout", c.Discord.InteractionTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"leetcode.timeout", c.LeetCode.Timeout},
		{"leetcode.ratings_refresh", c.LeetCode.RatingsRefresh},
		{"llm.timeout", c.LLM.Timeout},
		{"schedule.post_timeout", c.Schedule.PostTimeout},
		{"backfill.timeout", c.Backfill.Timeout},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}
	_, err := c.LLMCacheTTL()
	add(err)

	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "", "gemini", "openai", "zhipu":
	default:
		add(fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.Schedule.DefaultPostTime != "" {
		if _, _, err := domain.ParseHHMM(c.Schedule.DefaultPostTime); err != nil {
			add(fmt.Errorf("schedule.default_post_time: %w", err))
		}
	}
	if c.Schedule.DefaultTimezone != "" {
		if _, err := time.LoadLocation(c.Schedule.DefaultTimezone); err != nil {
			add(fmt.Errorf("schedule.default_timezone: %w", err))
		}
	}
	if c.Backfill.Days < 0 {
		add(errors.New("backfill.days must be >= 0"))
	}
	for _, s := range c.Backfill.Sites {
		if _, err := domain.ParseSite(s); err != nil {
			add(fmt.Errorf("backfill.sites: %w", err))
		}
	}

	seen := map[string]bool{}
	for i, g := range c.GuildConfigs() {
		if g.GuildID == "" {
			add(fmt.Errorf("guilds[%d]: guild_id is required", i))
			continue
		}
		if seen[g.GuildID] {
			add(fmt.Errorf("guilds[%d]: duplicate guild_id %s", i, g.GuildID))
		}
		seen[g.GuildID] = true
		if _, err := domain.ParseSite(string(g.Site)); err != nil {
			add(fmt.Errorf("guilds[%d]: %w", i, err))
		}
		if _, _, _, err := g.Schedule(); err != nil {
			add(fmt.Errorf("guilds[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
