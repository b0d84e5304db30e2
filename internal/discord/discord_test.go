package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lcdaily/internal/augment"
	"lcdaily/internal/domain"
	logx "lcdaily/pkg/logx"
)

func TestCustomIDRoundTrip(t *testing.T) {
	t.Parallel()
	b := Button{Action: ActionInspire, Site: domain.SiteCN, ProblemID: "1234"}
	assert.Equal(t, "lc:inspire:cn:1234", b.CustomID())

	got, err := ParseCustomID(b.CustomID())
	require.NoError(t, err)
	assert.Equal(t, b, got)

	for _, bad := range []string{"", "confirm_delete_1", "lc:inspire:cn", "lc:drop:com:1", "lc:translate:jp:1", "lc:translate:com:"} {
		_, err := ParseCustomID(bad)
		assert.Error(t, err, bad)
	}
}

func twoSum() domain.Problem {
	return domain.Problem{
		ID: "1", Site: domain.SiteCOM, Slug: "two-sum", Title: "Two Sum", Difficulty: "Easy",
		Tags: []string{"Array", "Hash Table"}, Link: "https://leetcode.com/problems/two-sum/", ACRate: 51.23,
		Content: "<p>Given an array <code>nums</code>.</p>",
	}
}

func TestDailyMessage(t *testing.T) {
	t.Parallel()
	g := domain.GuildConfig{GuildID: "g", ChannelID: "c", RoleID: "42"}
	msg := DailyMessage(g, twoSum(), "2025-03-01", true)

	assert.Equal(t, "<@&42>", msg.Content)
	assert.Equal(t, []string{"42"}, msg.AllowedMentions.Roles)
	require.Len(t, msg.Embeds, 1)
	e := msg.Embeds[0]
	assert.Equal(t, "1. Two Sum", e.Title)
	assert.Equal(t, 0x00B8A3, e.Color)
	assert.Equal(t, "2025-03-01", e.Footer.Text)

	assert.Equal(t, []string{"lc:desc:com:1", "lc:translate:com:1", "lc:inspire:com:1"}, customIDs(t, msg))

	noRole := DailyMessage(domain.GuildConfig{GuildID: "g", ChannelID: "c"}, twoSum(), "2025-03-01", false)
	assert.Empty(t, noRole.Content)
	assert.Empty(t, noRole.AllowedMentions.Roles)
	assert.Equal(t, []string{"lc:desc:com:1"}, customIDs(t, noRole))
}

func customIDs(t *testing.T, msg *discordgo.MessageSend) []string {
	t.Helper()
	row, ok := msg.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	var ids []string
	for _, c := range row.Components {
		if b, ok := c.(discordgo.Button); ok && b.CustomID != "" {
			ids = append(ids, b.CustomID)
		}
	}
	return ids
}

func fieldValue(e *discordgo.MessageEmbed, name string) (string, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func TestDailyMessageRatingAndSimilar(t *testing.T) {
	t.Parallel()
	p := twoSum()
	p.Rating = 1234.6
	p.Similar = []domain.SimilarProblem{
		{Slug: "3sum", Title: "3Sum", TitleCN: "三数之和", Difficulty: "Medium", Rating: 1709.4},
		{Slug: "4sum", Title: "4Sum", Difficulty: "Medium"},
		{Slug: "two-sum-ii", Title: "Two Sum II", Difficulty: "Medium"},
		{Slug: "two-sum-iv", Title: "Two Sum IV", Difficulty: "Easy"},
	}
	e := DailyMessage(domain.GuildConfig{}, p, "2025-03-01", false).Embeds[0]

	rating, ok := fieldValue(e, "Rating")
	require.True(t, ok)
	assert.Equal(t, "1235", rating)

	similar, ok := fieldValue(e, "Similar questions")
	require.True(t, ok)
	lines := strings.Split(similar, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "- [3Sum](https://leetcode.com/problems/3sum/) · Medium · 1709", lines[0])
	assert.Equal(t, "- [4Sum](https://leetcode.com/problems/4sum/) · Medium", lines[1])
	assert.NotContains(t, similar, "Two Sum IV")

	p.Site = domain.SiteCN
	cn := DailyMessage(domain.GuildConfig{}, p, "2025-03-01", false).Embeds[0]
	similar, _ = fieldValue(cn, "Similar questions")
	assert.Contains(t, similar, "- [三数之和](https://leetcode.cn/problems/3sum/)")

	plain := DailyMessage(domain.GuildConfig{}, twoSum(), "2025-03-01", false).Embeds[0]
	_, ok = fieldValue(plain, "Rating")
	assert.False(t, ok)
	_, ok = fieldValue(plain, "Similar questions")
	assert.False(t, ok)
}

type fakeAPI struct {
	channel string
	sent    *discordgo.MessageSend
	err     error
}

func (f *fakeAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.sent = data
	return &discordgo.Message{ID: "m"}, f.err
}

func TestPosterPostDaily(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	p := NewPoster(api, logx.Nop())
	p.now = func() time.Time { return time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	err := p.PostDaily(ctx, domain.GuildConfig{GuildID: "g"}, twoSum())
	assert.ErrorIs(t, err, domain.ErrConfigurationMissing)

	require.NoError(t, p.PostDaily(ctx, domain.GuildConfig{GuildID: "g", ChannelID: "c1"}, twoSum()))
	assert.Equal(t, "c1", api.channel)
	assert.Equal(t, "2025-03-01", api.sent.Embeds[0].Footer.Text)
	assert.Equal(t, []string{"lc:desc:com:1"}, customIDs(t, api.sent))

	withLLM := NewPoster(api, logx.Nop(), WithAugmentButtons(true))
	require.NoError(t, withLLM.PostDaily(ctx, domain.GuildConfig{GuildID: "g", ChannelID: "c1"}, twoSum()))
	assert.Len(t, customIDs(t, api.sent), 3)
}

func TestPosterClassifiesErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"server", &discordgo.RESTError{Response: &http.Response{StatusCode: 502, Status: "502 Bad Gateway"}}, true},
		{"rate", &discordgo.RESTError{Response: &http.Response{StatusCode: 429, Status: "429"}}, true},
		{"forbidden", &discordgo.RESTError{Response: &http.Response{StatusCode: 403, Status: "403 Forbidden"}}, false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := NewPoster(&fakeAPI{err: tc.err}, logx.Nop())
			err := p.PostMessage(context.Background(), "c", "hello")
			require.Error(t, err)
			assert.Equal(t, tc.transient, domain.IsTransient(err))
		})
	}
}

func TestPostMessageTruncates(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	p := NewPoster(api, logx.Nop())
	require.NoError(t, p.SendLog(context.Background(), "logs", strings.Repeat("x", 3000)))
	assert.Equal(t, augment.MessageLimit, len([]rune(api.sent.Content)))
}

type augFunc func(ctx context.Context, req augment.Request) (augment.Result, error)

func (f augFunc) Request(ctx context.Context, req augment.Request) (augment.Result, error) {
	return f(ctx, req)
}

type lookupFunc func(ctx context.Context, site domain.Site, id string) (domain.Problem, error)

func (f lookupFunc) Problem(ctx context.Context, site domain.Site, id string) (domain.Problem, error) {
	return f(ctx, site, id)
}

func TestInteractionReplies(t *testing.T) {
	t.Parallel()
	lookup := lookupFunc(func(_ context.Context, _ domain.Site, id string) (domain.Problem, error) {
		if id == "1" {
			return twoSum(), nil
		}
		return domain.Problem{}, domain.ErrNotFound
	})
	var seen augment.Request
	aug := augFunc(func(_ context.Context, req augment.Request) (augment.Result, error) {
		seen = req
		switch req.ProblemID {
		case "busy":
			return augment.Result{Outcome: augment.AlreadyInProgress}, nil
		case "llm":
			return augment.Result{}, &domain.LLMError{Provider: "gemini", Err: errors.New("quota")}
		case "slow":
			return augment.Result{}, &domain.TransientError{Op: "detail", Err: errors.New("503")}
		case "gone":
			return augment.Result{}, domain.ErrNotFound
		}
		return augment.Result{Outcome: augment.Proceeded, Content: "translated"}, nil
	})
	h := NewInteractions(aug, lookup, time.Second, logx.Nop())
	ctx := context.Background()

	cases := []struct {
		btn  Button
		want string
	}{
		{Button{ActionTranslate, domain.SiteCOM, "1"}, "translated"},
		{Button{ActionInspire, domain.SiteCOM, "busy"}, NoticeInProgress},
		{Button{ActionInspire, domain.SiteCOM, "llm"}, NoticeLLMFailed},
		{Button{ActionTranslate, domain.SiteCOM, "slow"}, NoticeTryLater},
		{Button{ActionTranslate, domain.SiteCOM, "gone"}, NoticeNotFound},
		{Button{ActionDescription, domain.SiteCOM, "404"}, NoticeNotFound},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, h.Reply(ctx, "u1", tc.btn), "%+v", tc.btn)
	}

	_ = h.Reply(ctx, "u7", Button{ActionInspire, domain.SiteCN, "1"})
	assert.Equal(t, augment.Request{UserID: "u7", ProblemID: "1", Site: domain.SiteCN, Kind: domain.KindInspire}, seen)

	desc := h.Reply(ctx, "u1", Button{ActionDescription, domain.SiteCOM, "1"})
	assert.True(t, strings.HasPrefix(desc, "**1. Two Sum**"))
	assert.Contains(t, desc, "Given an array nums.")

	disabled := NewInteractions(nil, lookup, time.Second, logx.Nop())
	assert.Equal(t, NoticeDisabled, disabled.Reply(ctx, "u1", Button{ActionTranslate, domain.SiteCOM, "1"}))
}

func TestInteractionPanicAndShutdown(t *testing.T) {
	t.Parallel()
	aug := augFunc(func(context.Context, augment.Request) (augment.Result, error) {
		panic("generator blew up")
	})
	lookup := lookupFunc(func(context.Context, domain.Site, string) (domain.Problem, error) {
		return twoSum(), nil
	})
	h := NewInteractions(aug, lookup, time.Minute, logx.Nop())
	assert.Equal(t, NoticeFailed, h.Reply(context.Background(), "u1", Button{ActionTranslate, domain.SiteCOM, "1"}))

	runCtx, stop := context.WithCancel(context.Background())
	h.Bind(runCtx)
	reqCtx, cancel := h.requestContext()
	defer cancel()
	stop()
	select {
	case <-reqCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("request context outlived the run context")
	}
}
