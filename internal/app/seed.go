package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lcdaily/internal/config"
	"lcdaily/internal/domain"
	logx "lcdaily/pkg/logx"
)

// GuildStore is the store slice guild seeding needs.
type GuildStore interface {
	ListGuildConfigs(ctx context.Context) ([]domain.GuildConfig, error)
	UpsertGuildConfig(ctx context.Context, g domain.GuildConfig) error
	DeleteGuildConfig(ctx context.Context, guildID string) error
}

// SeedReport counts what a seed pass changed.
type SeedReport struct {
	Upserted int
	Removed  []string
}

// seedGuilds syncs the configured guilds into the store. The store keeps each
// guild's LastPostedDate, so reloading never causes a repost.
func (a *App) seedGuilds(ctx context.Context, cfg *config.Config) error {
	rep, err := SeedGuilds(ctx, a.store, cfg)
	if rep.Upserted > 0 {
		a.log.Info("guild seeds applied", logx.Int("guilds", rep.Upserted))
	}
	for _, id := range rep.Removed {
		a.log.Info("guild removed from config; daily posts stopped", logx.String("guild", id))
	}
	return err
}

// SeedGuilds makes the stored guild set match cfg.Guilds: configured guilds are
// upserted and stored guilds missing from the config are deleted. A guild
// whose seed fails validation keeps its stored row.
func SeedGuilds(ctx context.Context, store GuildStore, cfg *config.Config) (SeedReport, error) {
	var (
		rep  SeedReport
		errs []error
	)
	configured := make(map[string]struct{}, len(cfg.Guilds))
	for _, g := range cfg.Guilds {
		configured[strings.TrimSpace(g.GuildID)] = struct{}{}
	}

	for _, g := range cfg.GuildConfigs() {
		site, err := domain.ParseSite(string(g.Site))
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", g.GuildID, err))
			continue
		}
		g.Site = site
		if err := store.UpsertGuildConfig(ctx, g); err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", g.GuildID, err))
			continue
		}
		rep.Upserted++
	}

	stored, err := store.ListGuildConfigs(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list guilds: %w", err))
		return rep, errors.Join(errs...)
	}
	for _, g := range stored {
		if _, ok := configured[g.GuildID]; ok {
			continue
		}
		if err := store.DeleteGuildConfig(ctx, g.GuildID); err != nil {
			errs = append(errs, fmt.Errorf("remove guild %s: %w", g.GuildID, err))
			continue
		}
		rep.Removed = append(rep.Removed, g.GuildID)
	}
	return rep, errors.Join(errs...)
}
