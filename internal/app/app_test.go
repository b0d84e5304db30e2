package app

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lcdaily/internal/config"
	"lcdaily/internal/dispatch"
	"lcdaily/internal/domain"
	"lcdaily/internal/storage"
	"lcdaily/internal/task/scheduler"
	logx "lcdaily/pkg/logx"
)

func openStore(t *testing.T) *storage.SQLite {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSeedGuildsKeepsLastPostedDate(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	cfg := &config.Config{
		Schedule: config.ScheduleConfig{DefaultPostTime: "07:30", DefaultTimezone: "Asia/Taipei"},
		Guilds: []config.GuildSeed{
			{GuildID: "g1", ChannelID: "c1"},
			{GuildID: "g2", ChannelID: "c2", Site: "cn", PostTime: "09:00", Timezone: "UTC"},
		},
	}

	rep, err := SeedGuilds(ctx, st, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Upserted)
	assert.Empty(t, rep.Removed)
	require.NoError(t, st.MarkPosted(ctx, "g1", "2025-03-01"))

	cfg.Guilds[0].ChannelID = "c1-new"
	_, err = SeedGuilds(ctx, st, cfg)
	require.NoError(t, err)

	g1, err := st.GetGuildConfig(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "c1-new", g1.ChannelID)
	assert.Equal(t, "07:30", g1.PostTime)
	assert.Equal(t, "Asia/Taipei", g1.Timezone)
	assert.Equal(t, domain.SiteCOM, g1.Site)
	assert.Equal(t, "2025-03-01", g1.LastPostedDate)

	g2, err := st.GetGuildConfig(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, domain.SiteCN, g2.Site)
}

func TestSeedGuildsReportsBadSite(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	cfg := &config.Config{Guilds: []config.GuildSeed{{GuildID: "bad", Site: "jp"}, {GuildID: "ok"}}}
	rep, err := SeedGuilds(context.Background(), st, cfg)
	assert.Error(t, err)
	assert.Equal(t, 1, rep.Upserted)
}

func TestSeedGuildsRemovesGuildsDroppedFromConfig(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	cfg := &config.Config{Guilds: []config.GuildSeed{
		{GuildID: "g1", ChannelID: "c1"},
		{GuildID: "g2", ChannelID: "c2"},
		{GuildID: "g3", ChannelID: "c3"},
	}}
	_, err := SeedGuilds(ctx, st, cfg)
	require.NoError(t, err)

	// g2 leaves the config; g3 stays but its edit is invalid.
	cfg.Guilds = []config.GuildSeed{
		{GuildID: "g1", ChannelID: "c1"},
		{GuildID: "g3", ChannelID: "c3", Site: "jp"},
	}
	rep, err := SeedGuilds(ctx, st, cfg)
	assert.Error(t, err)
	assert.Equal(t, []string{"g2"}, rep.Removed)

	_, err = st.GetGuildConfig(ctx, "g2")
	assert.True(t, domain.IsNotFound(err))
	g3, err := st.GetGuildConfig(ctx, "g3")
	require.NoError(t, err)
	assert.Equal(t, "c3", g3.ChannelID)

	all, err := st.ListGuildConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRegisterJobs(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	a := &App{
		log:      logx.Nop(),
		store:    st,
		sched:    scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop()),
		dispatch: dispatch.New(st, nil, nil, dispatch.Config{}, logx.Nop(), nil),
	}
	names := func() []string {
		var out []string
		for _, e := range a.sched.Entries() {
			out = append(out, e.Name)
		}
		return out
	}

	cfg := &config.Config{}
	require.NoError(t, a.registerJobs(cfg))
	assert.Equal(t, []string{jobPrune, jobDispatch}, names())

	cfg.Backfill.Schedule = "cron:0 0 1 * * *"
	require.NoError(t, a.registerJobs(cfg))
	assert.Equal(t, []string{jobBackfill, jobPrune, jobDispatch}, names())

	cfg.Backfill.Schedule = ""
	require.NoError(t, a.registerJobs(cfg))
	assert.Equal(t, []string{jobPrune, jobDispatch}, names())

	cfg.Schedule.Tick = "every:often"
	assert.Error(t, a.registerJobs(cfg))
}

func TestMappingDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Storage: config.StorageConfig{Path: "x.db"}}

	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)
	assert.Equal(t, config.DefaultCacheTTL, sc.LLMTTL)

	lc, err := mapLLMConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, lc.Timeout)
	assert.InDelta(t, 0.2, lc.Temperature, 1e-9)

	dc, err := mapDispatchConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, dc.PostTimeout)

	assert.Equal(t, []domain.Site{domain.SiteCOM}, backfillSites(cfg))
	cfg.Backfill.Sites = []string{"com", "CN"}
	assert.Equal(t, []domain.Site{domain.SiteCOM, domain.SiteCN}, backfillSites(cfg))

	cfg.Schedule.PostTimeout = "later"
	_, err = mapDispatchConfig(cfg)
	assert.Error(t, err)
}

func TestStartupBackfillDefersToRunningJob(t *testing.T) {
	t.Parallel()
	a := &App{log: logx.Nop(), sched: scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop())}

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, a.sched.Add(jobBackfill, "@daily", 0, func(context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}))
	done := make(chan error, 1)
	go func() { done <- a.sched.Trigger(jobBackfill) }()
	<-started

	require.NoError(t, a.startupBackfill(context.Background()))
	close(release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, runs.Load())
}
