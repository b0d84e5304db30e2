package config

import (
	"reflect"
	"strings"

	logx "lcdaily/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging. Secrets (token, api key) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Discord != newCfg.Discord {
		changed = append(changed, "discord")
		attrs = append(attrs, logx.Bool("discord.token_set", strings.TrimSpace(newCfg.Discord.Token) != ""))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.LeetCode != newCfg.LeetCode {
		changed = append(changed, "leetcode")
	}

	oldTTL, _ := oldCfg.LLMCacheTTL()
	newTTL, _ := newCfg.LLMCacheTTL()
	if oldCfg.LLM.Provider != newCfg.LLM.Provider ||
		oldCfg.LLM.Model != newCfg.LLM.Model ||
		oldCfg.LLM.BaseURL != newCfg.LLM.BaseURL ||
		oldCfg.LLM.Language != newCfg.LLM.Language ||
		oldCfg.LLM.Timeout != newCfg.LLM.Timeout ||
		oldCfg.LLMTemperature() != newCfg.LLMTemperature() ||
		oldTTL != newTTL ||
		(oldCfg.LLM.APIKey != "") != (newCfg.LLM.APIKey != "") {
		changed = append(changed, "llm")
		attrs = append(attrs,
			logx.String("llm.provider", newCfg.LLM.Provider),
			logx.Duration("llm.cache_ttl", newTTL),
			logx.Bool("llm.api_key_set", strings.TrimSpace(newCfg.LLM.APIKey) != ""),
		)
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.String("schedule.tick", newCfg.Schedule.Tick))
	}
	if !reflect.DeepEqual(oldCfg.Backfill, newCfg.Backfill) {
		changed = append(changed, "backfill")
	}
	if oldCfg.Ops.Enabled != newCfg.Ops.Enabled || oldCfg.Ops.Addr != newCfg.Ops.Addr ||
		oldCfg.Ops.AllowInsecure != newCfg.Ops.AllowInsecure || oldCfg.Ops.Pprof != newCfg.Ops.Pprof ||
		oldCfg.Ops.Token != newCfg.Ops.Token {
		changed = append(changed, "ops")
		attrs = append(attrs, logx.Bool("ops.enabled", newCfg.Ops.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Guilds, newCfg.Guilds) {
		changed = append(changed, "guilds")
		attrs = append(attrs, logx.Int("guilds.count", len(newCfg.Guilds)))
	}
	return changed, attrs
}
