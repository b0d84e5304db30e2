package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lcdaily/internal/domain"
	logx "lcdaily/pkg/logx"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func twoSum() domain.Problem {
	return domain.Problem{
		ID: "1", Site: domain.SiteCOM, Slug: "two-sum", Title: "Two Sum",
		Difficulty: "Easy", Tags: []string{"Array", "Hash Table"},
		Link: "https://leetcode.com/problems/two-sum/", ACRate: 55.2,
		Content: "<p>Given an array...</p>",
	}
}

func TestGuildConfigLifecycle(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	_, err := st.GetGuildConfig(ctx, "g1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, st.UpsertGuildConfig(ctx, domain.GuildConfig{GuildID: "g1", ChannelID: "c1"}))
	g, err := st.GetGuildConfig(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "00:00", g.PostTime)
	assert.Equal(t, "UTC", g.Timezone)
	assert.Equal(t, domain.SiteCOM, g.Site)
	assert.Empty(t, g.LastPostedDate)

	require.NoError(t, st.MarkPosted(ctx, "g1", "2025-03-01"))

	// Re-seeding the config must not reset the posted date.
	require.NoError(t, st.UpsertGuildConfig(ctx, domain.GuildConfig{
		GuildID: "g1", ChannelID: "c2", PostTime: "08:30", Timezone: "Asia/Taipei",
	}))
	g, err = st.GetGuildConfig(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "c2", g.ChannelID)
	assert.Equal(t, "08:30", g.PostTime)
	assert.Equal(t, "2025-03-01", g.LastPostedDate)

	require.ErrorIs(t, st.MarkPosted(ctx, "missing", "2025-03-01"), domain.ErrNotFound)

	require.NoError(t, st.UpsertGuildConfig(ctx, domain.GuildConfig{GuildID: "g0"}))
	all, err := st.ListGuildConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "g0", all[0].GuildID)

	require.NoError(t, st.DeleteGuildConfig(ctx, "g0"))
	all, err = st.ListGuildConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInsertDailyIfAbsent(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	rec := domain.DailyChallenge{Site: domain.SiteCOM, Date: "2025-03-01", ProblemID: "1"}

	inserted, err := st.InsertDailyIfAbsent(ctx, rec, twoSum())
	require.NoError(t, err)
	assert.True(t, inserted)

	other := rec
	other.ProblemID = "2"
	p2 := twoSum()
	p2.ID, p2.Slug = "2", "add-two-numbers"
	inserted, err = st.InsertDailyIfAbsent(ctx, other, p2)
	require.NoError(t, err)
	assert.False(t, inserted, "a recorded date is never overwritten")

	got, err := st.GetDailyChallenge(ctx, domain.SiteCOM, "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, "1", got.ProblemID)

	_, err = st.GetDailyChallenge(ctx, domain.SiteCN, "2025-03-01")
	require.ErrorIs(t, err, domain.ErrNotFound)

	p, err := st.GetProblem(ctx, domain.SiteCOM, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Array", "Hash Table"}, p.Tags)
	assert.Equal(t, "Two Sum", p.Title)

	dates, err := st.ListDailyDates(ctx, domain.SiteCOM, "2025-02-01", "2025-03-31")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-01"}, dates)
}

func TestInsertDailyIfAbsentConcurrent(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	rec := domain.DailyChallenge{Site: domain.SiteCOM, Date: "2025-03-02", ProblemID: "1"}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.InsertDailyIfAbsent(ctx, rec, twoSum())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
}

func TestUpsertProblemKeepsContent(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertProblem(ctx, twoSum()))
	listing := domain.Problem{ID: "1", Site: domain.SiteCOM, Slug: "two-sum", Title: "Two Sum", PaidOnly: false}
	require.NoError(t, st.UpsertProblem(ctx, listing))

	p, err := st.GetProblem(ctx, domain.SiteCOM, "1")
	require.NoError(t, err)
	assert.Equal(t, "<p>Given an array...</p>", p.Content)
	assert.Equal(t, "Easy", p.Difficulty)
	assert.Len(t, p.Tags, 2)
}

func TestUpsertProblemKeepsRatingAndSimilar(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	rated := twoSum()
	rated.Rating = 1200
	rated.Similar = []domain.SimilarProblem{{Slug: "3sum", Title: "3Sum", Difficulty: "Medium", Rating: 1700}}
	require.NoError(t, st.UpsertProblem(ctx, rated))
	require.NoError(t, st.UpsertProblem(ctx, twoSum()))

	p, err := st.GetProblem(ctx, domain.SiteCOM, "1")
	require.NoError(t, err)
	assert.Equal(t, 1200.0, p.Rating)
	assert.Equal(t, rated.Similar, p.Similar)
}

func TestOpenAddsMissingColumns(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE problems (
		site TEXT NOT NULL, id TEXT NOT NULL, slug TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '', title_cn TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT '', tags TEXT NOT NULL DEFAULT '[]',
		link TEXT NOT NULL DEFAULT '', ac_rate REAL NOT NULL DEFAULT 0,
		paid_only INTEGER NOT NULL DEFAULT 0, content TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (site, id))`)
	require.NoError(t, err)
	_, err = old.Exec(`INSERT INTO problems (site, id, slug, title) VALUES ('com', '1', 'two-sum', 'Two Sum')`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	st, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	p, err := st.GetProblem(ctx, domain.SiteCOM, "1")
	require.NoError(t, err)
	assert.Equal(t, "Two Sum", p.Title)
	assert.Zero(t, p.Rating)
	assert.Empty(t, p.Similar)

	p.Rating = 1300
	require.NoError(t, st.UpsertProblem(ctx, p))
	p, err = st.GetProblem(ctx, domain.SiteCOM, "1")
	require.NoError(t, err)
	assert.Equal(t, 1300.0, p.Rating)
}

func TestLLMResultTTL(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	key := domain.LLMKey{Site: domain.SiteCOM, ProblemID: "1", Kind: domain.KindTranslate, Variant: "zh-TW"}

	_, err := st.GetLLMResult(ctx, key, time.Time{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, st.PutLLMResult(ctx, domain.LLMResult{LLMKey: key, Content: "v1", Model: "m", CreatedAt: base}))
	got, err := st.GetLLMResult(ctx, key, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Content)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = st.GetLLMResult(ctx, key, base.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrNotFound, "rows older than the floor are expired")

	other := key
	other.Variant = "en"
	_, err = st.GetLLMResult(ctx, other, time.Time{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, st.PutLLMResult(ctx, domain.LLMResult{LLMKey: key, Content: "v2", CreatedAt: base.Add(2 * time.Hour)}))
	got, err = st.GetLLMResult(ctx, key, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)

	n, err := st.PruneLLMResults(ctx, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = st.GetLLMResult(ctx, key, time.Time{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
