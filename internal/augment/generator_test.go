package augment

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lcdaily/internal/domain"
	logx "lcdaily/pkg/logx"
)

type lookupFunc func(ctx context.Context, site domain.Site, id string) (domain.Problem, error)

func (f lookupFunc) Problem(ctx context.Context, site domain.Site, id string) (domain.Problem, error) {
	return f(ctx, site, id)
}

type replyClient struct {
	reply  string
	prompt string
}

func (r *replyClient) Model() string { return "test-model" }

func (r *replyClient) Generate(_ context.Context, prompt string) (string, error) {
	r.prompt = prompt
	return r.reply, nil
}

func twoSum(context.Context, domain.Site, string) (domain.Problem, error) {
	return domain.Problem{
		ID: "1", Title: "Two Sum", Difficulty: "Easy", Tags: []string{"Array"},
		Content: "<p>Given an array of integers <code>nums</code>.</p>",
	}, nil
}

func TestLLMGeneratorTranslate(t *testing.T) {
	t.Parallel()
	client := &replyClient{reply: `{"thinking":"...","translation":"給定一個整數陣列 nums。"}`}
	g := NewLLMGenerator(lookupFunc(twoSum), client, "", logx.Nop())

	out, err := g.Generate(context.Background(), translate("u", "1"))
	require.NoError(t, err)
	assert.True(t, out.Cacheable)
	assert.Equal(t, "test-model", out.Model)
	assert.Contains(t, out.Content, "**1. Two Sum**")
	assert.Contains(t, out.Content, "給定一個整數陣列")
	assert.Contains(t, client.prompt, "Given an array of integers nums.")
	assert.NotContains(t, client.prompt, "<code>")
}

func TestLLMGeneratorInspire(t *testing.T) {
	t.Parallel()
	client := &replyClient{reply: `{"thinking":"t","traps":"duplicates","algorithms":"hash map","inspiration":"||complement||"}`}
	g := NewLLMGenerator(lookupFunc(twoSum), client, "en", logx.Nop())

	out, err := g.Generate(context.Background(), Request{ProblemID: "1", Site: domain.SiteCOM, Kind: domain.KindInspire})
	require.NoError(t, err)
	assert.True(t, out.Cacheable)
	assert.Contains(t, out.Content, "**Traps**\nduplicates")
	assert.Contains(t, out.Content, "**Inspiration**\n||complement||")
	assert.Contains(t, client.prompt, "Tags: Array")
}

func TestLLMGeneratorMalformedReplyIsShownNotCached(t *testing.T) {
	t.Parallel()
	client := &replyClient{reply: "I think you should use a hash map."}
	g := NewLLMGenerator(lookupFunc(twoSum), client, "", logx.Nop())

	out, err := g.Generate(context.Background(), translate("u", "1"))
	require.NoError(t, err)
	assert.False(t, out.Cacheable)
	assert.Equal(t, "I think you should use a hash map.", out.Content)
}

func TestLLMGeneratorNeedsStatement(t *testing.T) {
	t.Parallel()
	empty := lookupFunc(func(context.Context, domain.Site, string) (domain.Problem, error) {
		return domain.Problem{ID: "9"}, nil
	})
	g := NewLLMGenerator(empty, &replyClient{reply: "{}"}, "", logx.Nop())
	_, err := g.Generate(context.Background(), translate("u", "9"))
	assert.True(t, domain.IsNotFound(err))
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", Truncate("abc", 5))
	long := strings.Repeat("字", MessageLimit+10)
	got := Truncate(long, MessageLimit)
	assert.Equal(t, MessageLimit, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}
