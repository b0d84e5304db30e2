package app

import (
	"fmt"
	"strings"
	"time"

	"lcdaily/internal/backfill"
	"lcdaily/internal/config"
	"lcdaily/internal/dispatch"
	"lcdaily/internal/domain"
	"lcdaily/internal/llm"
	"lcdaily/internal/observability"
	"lcdaily/internal/source/leetcode"
	"lcdaily/internal/storage"
	"lcdaily/internal/task/retry"
	logx "lcdaily/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			ChannelID:  cfg.Logging.Discord.ChannelID,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	ttl, err := cfg.LLMCacheTTL()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy, PruneEvery: cfg.Storage.PruneEvery, LLMTTL: ttl}, nil
}

func mapLeetCodeConfig(cfg *config.Config) (leetcode.Config, error) {
	timeout, err := config.ParseDurationOrDefault("leetcode.timeout", cfg.LeetCode.Timeout, 15*time.Second)
	if err != nil {
		return leetcode.Config{}, err
	}
	return leetcode.Config{
		RatePerSec: cfg.LeetCode.RatePerSec,
		Burst:      cfg.LeetCode.Burst,
		Timeout:    timeout,
		RatingsURL: cfg.LeetCode.RatingsURL,
	}, nil
}

func mapRatingsRefresh(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("leetcode.ratings_refresh", cfg.LeetCode.RatingsRefresh, 24*time.Hour)
}

func mapLLMConfig(cfg *config.Config) (llm.Config, error) {
	timeout, err := config.ParseDurationOrDefault("llm.timeout", cfg.LLM.Timeout, 60*time.Second)
	if err != nil {
		return llm.Config{}, err
	}
	return llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLMTemperature(),
		Timeout:     timeout,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	timeout, err := config.ParseDurationOrDefault("schedule.post_timeout", cfg.Schedule.PostTimeout, 30*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{MaxParallel: cfg.Schedule.DispatchParallel, PostTimeout: timeout}, nil
}

func mapBackfillConfig(cfg *config.Config) backfill.Config {
	return backfill.Config{
		MaxConcurrency: cfg.Backfill.MaxConcurrency,
		Retry: retry.Policy{
			MaxAttempts: 4,
			Base:        time.Second,
			MaxDelay:    30 * time.Second,
			Jitter:      0.2,
		},
	}
}

func mapOpsConfig(cfg *config.Config) observability.ServerConfig {
	return observability.ServerConfig{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
	}
}

// backfillSites resolves backfill.sites; empty means com only.
func backfillSites(cfg *config.Config) []domain.Site {
	if len(cfg.Backfill.Sites) == 0 {
		return []domain.Site{domain.SiteCOM}
	}
	out := make([]domain.Site, 0, len(cfg.Backfill.Sites))
	for _, s := range cfg.Backfill.Sites {
		if site, err := domain.ParseSite(s); err == nil {
			out = append(out, site)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
