package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lcdaily/internal/domain"
	logx "lcdaily/pkg/logx"
)

type memGuilds struct {
	mu     sync.Mutex
	guilds map[string]domain.GuildConfig
}

func newGuilds(gs ...domain.GuildConfig) *memGuilds {
	m := &memGuilds{guilds: map[string]domain.GuildConfig{}}
	for _, g := range gs {
		m.guilds[g.GuildID] = g
	}
	return m
}

func (m *memGuilds) ListGuildConfigs(context.Context) ([]domain.GuildConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.GuildConfig, 0, len(m.guilds))
	for _, g := range m.guilds {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

func (m *memGuilds) MarkPosted(_ context.Context, id, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[id]
	if !ok {
		return domain.ErrNotFound
	}
	g.LastPostedDate = date
	m.guilds[id] = g
	return nil
}

func (m *memGuilds) last(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guilds[id].LastPostedDate
}

type catalogFunc func(ctx context.Context, site domain.Site, date string) (domain.Problem, error)

func (f catalogFunc) Daily(ctx context.Context, site domain.Site, date string) (domain.Problem, error) {
	return f(ctx, site, date)
}

func staticDaily(context.Context, domain.Site, string) (domain.Problem, error) {
	return domain.Problem{ID: "1", Title: "Two Sum"}, nil
}

type poster struct {
	mu      sync.Mutex
	posts   []string
	fail    map[string]error
	block   map[string]chan struct{}
	started map[string]bool
}

func (p *poster) PostDaily(ctx context.Context, g domain.GuildConfig, _ domain.Problem) error {
	p.mu.Lock()
	err := p.fail[g.GuildID]
	ch := p.block[g.GuildID]
	if p.started == nil {
		p.started = map[string]bool{}
	}
	p.started[g.GuildID] = true
	p.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.posts = append(p.posts, g.GuildID)
	p.mu.Unlock()
	return nil
}

func (p *poster) hasStarted(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started[id]
}

func (p *poster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

func guild(id, postTime, tz string) domain.GuildConfig {
	return domain.GuildConfig{GuildID: id, ChannelID: "ch-" + id, PostTime: postTime, Timezone: tz, Site: domain.SiteCOM}
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPostTimeBoundaryFiresOnce(t *testing.T) {
	t.Parallel()
	store := newGuilds(guild("g1", "08:00", "UTC"))
	p := &poster{}
	s := New(store, catalogFunc(staticDaily), p, Config{}, logx.Nop(), nil)
	ctx := context.Background()

	rep := s.Tick(ctx, at("2025-03-01T07:59:00Z"))
	assert.Equal(t, ResultNotDue, rep.Results["g1"])
	assert.Equal(t, 0, p.count())

	rep = s.Tick(ctx, at("2025-03-01T08:00:00Z"))
	assert.Equal(t, ResultPosted, rep.Results["g1"])
	assert.Equal(t, "2025-03-01", store.last("g1"))

	rep = s.Tick(ctx, at("2025-03-01T08:01:00Z"))
	assert.Equal(t, ResultAlreadyPosted, rep.Results["g1"])
	rep = s.Tick(ctx, at("2025-03-01T23:59:00Z"))
	assert.Equal(t, ResultAlreadyPosted, rep.Results["g1"])
	assert.Equal(t, 1, p.count())

	rep = s.Tick(ctx, at("2025-03-02T08:00:00Z"))
	assert.Equal(t, ResultPosted, rep.Results["g1"])
	assert.Equal(t, 2, p.count())
}

func TestCatchUpAfterDowntime(t *testing.T) {
	t.Parallel()
	store := newGuilds(guild("g1", "08:00", "UTC"))
	p := &poster{}
	s := New(store, catalogFunc(staticDaily), p, Config{}, logx.Nop(), nil)

	// Process was down at 08:00 and comes back at 09:00.
	rep := s.Tick(context.Background(), at("2025-03-01T09:00:00Z"))
	assert.Equal(t, ResultPosted, rep.Results["g1"])
	assert.Equal(t, 1, p.count())
}

func TestFailedPostKeepsDateAndRetries(t *testing.T) {
	t.Parallel()
	store := newGuilds(guild("g1", "08:00", "UTC"))
	p := &poster{fail: map[string]error{"g1": errors.New("discord 503")}}
	s := New(store, catalogFunc(staticDaily), p, Config{}, logx.Nop(), nil)
	ctx := context.Background()

	rep := s.Tick(ctx, at("2025-03-01T08:00:00Z"))
	assert.Equal(t, ResultFailed, rep.Results["g1"])
	assert.Error(t, rep.Errors["g1"])
	assert.Empty(t, store.last("g1"))

	p.mu.Lock()
	p.fail = nil
	p.mu.Unlock()
	rep = s.Tick(ctx, at("2025-03-01T08:01:00Z"))
	assert.Equal(t, ResultPosted, rep.Results["g1"])
	assert.Equal(t, "2025-03-01", store.last("g1"))
}

func TestFetchFailureKeepsDate(t *testing.T) {
	t.Parallel()
	store := newGuilds(guild("g1", "08:00", "UTC"))
	failing := catalogFunc(func(context.Context, domain.Site, string) (domain.Problem, error) {
		return domain.Problem{}, &domain.TransientError{Op: "daily", Err: errors.New("timeout")}
	})
	s := New(store, failing, &poster{}, Config{}, logx.Nop(), nil)

	s.now = func() time.Time { return at("2025-03-01T08:00:00Z") }
	assert.Error(t, s.Run(context.Background()))
	assert.Empty(t, store.last("g1"))
}

func TestMissingChannelIsSkipped(t *testing.T) {
	t.Parallel()
	noChannel := guild("g1", "08:00", "UTC")
	noChannel.ChannelID = ""
	store := newGuilds(noChannel, guild("g2", "08:00", "UTC"))
	p := &poster{}
	s := New(store, catalogFunc(staticDaily), p, Config{}, logx.Nop(), nil)

	rep := s.Tick(context.Background(), at("2025-03-01T08:00:00Z"))
	assert.Equal(t, ResultConfigMissing, rep.Results["g1"])
	assert.NotContains(t, rep.Errors, "g1")
	assert.Equal(t, ResultPosted, rep.Results["g2"])
	assert.Equal(t, 1, p.count())
}

func TestGuildFailureIsolation(t *testing.T) {
	t.Parallel()
	var gs []domain.GuildConfig
	for i := 0; i < 6; i++ {
		gs = append(gs, guild(fmt.Sprintf("g%d", i), "08:00", "UTC"))
	}
	bad := guild("bad-tz", "08:00", "Mars/Olympus")
	store := newGuilds(append(gs, bad)...)
	p := &poster{fail: map[string]error{"g0": errors.New("missing permissions")}}
	s := New(store, catalogFunc(staticDaily), p, Config{MaxParallel: 2}, logx.Nop(), nil)

	rep := s.Tick(context.Background(), at("2025-03-01T08:00:00Z"))
	assert.Equal(t, ResultFailed, rep.Results["g0"])
	assert.Equal(t, ResultInvalid, rep.Results["bad-tz"])
	assert.Equal(t, 5, rep.Count(ResultPosted))
	for i := 1; i < 6; i++ {
		assert.Equal(t, "2025-03-01", store.last(fmt.Sprintf("g%d", i)))
	}
}

func TestSlowGuildDoesNotOverlapOrBlockOthers(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	store := newGuilds(guild("slow", "08:00", "UTC"), guild("fast", "08:00", "UTC"))
	p := &poster{block: map[string]chan struct{}{"slow": gate}}
	s := New(store, catalogFunc(staticDaily), p, Config{MaxParallel: 4}, logx.Nop(), nil)
	ctx := context.Background()

	first := make(chan Report, 1)
	go func() { first <- s.Tick(ctx, at("2025-03-01T08:00:00Z")) }()

	require.Eventually(t, func() bool {
		return store.last("fast") == "2025-03-01" && p.hasStarted("slow")
	}, 2*time.Second, 5*time.Millisecond)

	// A second tick while the first still holds "slow" skips it.
	rep := s.Tick(ctx, at("2025-03-01T08:01:00Z"))
	assert.Equal(t, ResultBusy, rep.Results["slow"])
	assert.Equal(t, ResultAlreadyPosted, rep.Results["fast"])

	close(gate)
	assert.Equal(t, ResultPosted, (<-first).Results["slow"])
	assert.Equal(t, 2, p.count())
}

func TestGuildLocalTimezones(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		guild    domain.GuildConfig
		now      string
		wantDue  bool
		wantDate string
	}{
		{"taipei before", guild("tw", "08:00", "Asia/Taipei"), "2025-02-28T23:59:00Z", false, "2025-03-01"},
		{"taipei at", guild("tw", "08:00", "Asia/Taipei"), "2025-03-01T00:00:00Z", true, "2025-03-01"},
		{"new york previous day", guild("ny", "20:00", "America/New_York"), "2025-03-02T01:00:00Z", true, "2025-03-01"},
		{"new york dst", guild("ny", "09:00", "America/New_York"), "2025-03-10T12:59:00Z", false, "2025-03-10"},
		{"new york dst at", guild("ny", "09:00", "America/New_York"), "2025-03-10T13:00:00Z", true, "2025-03-10"},
		{"defaults", domain.GuildConfig{GuildID: "d", ChannelID: "c"}, "2025-03-01T00:00:00Z", true, "2025-03-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			date, due, err := Due(tc.guild, at(tc.now))
			require.NoError(t, err)
			assert.Equal(t, tc.wantDue, due)
			assert.Equal(t, tc.wantDate, date)
		})
	}

	_, _, err := Due(guild("x", "25:00", "UTC"), at("2025-03-01T00:00:00Z"))
	assert.Error(t, err)
}

func TestDailyUsesSiteToday(t *testing.T) {
	t.Parallel()
	var asked string
	cat := catalogFunc(func(_ context.Context, site domain.Site, date string) (domain.Problem, error) {
		asked = string(site) + "/" + date
		return domain.Problem{ID: "1"}, nil
	})
	g := guild("cn", "07:00", "Asia/Shanghai")
	g.Site = domain.SiteCN
	s := New(newGuilds(g), cat, &poster{}, Config{MaxParallel: 1}, logx.Nop(), nil)

	rep := s.Tick(context.Background(), at("2025-03-01T23:30:00Z"))
	require.Equal(t, ResultPosted, rep.Results["cn"])
	assert.Equal(t, "cn/2025-03-02", asked)
}
