package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lcdaily/internal/domain"
)

type guildRow struct {
	GuildID        string `db:"guild_id"`
	ChannelID      string `db:"channel_id"`
	RoleID         string `db:"role_id"`
	PostTime       string `db:"post_time"`
	Timezone       string `db:"timezone"`
	Site           string `db:"site"`
	LastPostedDate string `db:"last_posted_date"`
	UpdatedAt      int64  `db:"updated_at"`
}

func (r guildRow) toDomain() domain.GuildConfig {
	return domain.GuildConfig{
		GuildID:        r.GuildID,
		ChannelID:      r.ChannelID,
		RoleID:         r.RoleID,
		PostTime:       r.PostTime,
		Timezone:       r.Timezone,
		Site:           domain.Site(r.Site),
		LastPostedDate: r.LastPostedDate,
		UpdatedAt:      time.Unix(r.UpdatedAt, 0),
	}
}

const guildColumns = `guild_id, channel_id, role_id, post_time, timezone, site, last_posted_date, updated_at`

func (s *SQLite) GetGuildConfig(ctx context.Context, guildID string) (domain.GuildConfig, error) {
	var row guildRow
	err := s.db.GetContext(ctx, &row, `SELECT `+guildColumns+` FROM guild_configs WHERE guild_id = ?`, guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GuildConfig{}, fmt.Errorf("guild %s: %w", guildID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.GuildConfig{}, err
	}
	return row.toDomain(), nil
}

func (s *SQLite) ListGuildConfigs(ctx context.Context) ([]domain.GuildConfig, error) {
	var rows []guildRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+guildColumns+` FROM guild_configs ORDER BY guild_id`); err != nil {
		return nil, err
	}
	out := make([]domain.GuildConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpsertGuildConfig writes the configurable fields. LastPostedDate is only
// written on insert; afterwards MarkPosted owns it.
func (s *SQLite) UpsertGuildConfig(ctx context.Context, g domain.GuildConfig) error {
	if g.GuildID == "" {
		return errors.New("guild id required")
	}
	if g.PostTime == "" {
		g.PostTime = domain.DefaultPostTime
	}
	if g.Timezone == "" {
		g.Timezone = domain.DefaultTimezone
	}
	if g.Site == "" {
		g.Site = domain.SiteCOM
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_configs (`+guildColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			role_id    = excluded.role_id,
			post_time  = excluded.post_time,
			timezone   = excluded.timezone,
			site       = excluded.site,
			updated_at = excluded.updated_at`,
		g.GuildID, g.ChannelID, g.RoleID, g.PostTime, g.Timezone, string(g.Site), g.LastPostedDate, s.now().Unix(),
	)
	return err
}

// MarkPosted records a successful post for the guild-local date.
func (s *SQLite) MarkPosted(ctx context.Context, guildID, date string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guild_configs SET last_posted_date = ?, updated_at = ? WHERE guild_id = ?`,
		date, s.now().Unix(), guildID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("guild %s: %w", guildID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLite) DeleteGuildConfig(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guild_configs WHERE guild_id = ?`, guildID)
	return err
}
