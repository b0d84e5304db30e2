package augment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lcdaily/internal/domain"
	"lcdaily/internal/llm"
	"lcdaily/internal/problems"
	logx "lcdaily/pkg/logx"
)

// ProblemLookup resolves a problem with its statement.
type ProblemLookup interface {
	Problem(ctx context.Context, site domain.Site, id string) (domain.Problem, error)
}

// LLMGenerator renders the prompt for a kind, calls the model and formats the
// structured reply for chat.
type LLMGenerator struct {
	problems ProblemLookup
	client   llm.Client
	language string
	log      logx.Logger
}

func NewLLMGenerator(problems ProblemLookup, client llm.Client, language string, log logx.Logger) *LLMGenerator {
	if language == "" {
		language = llm.DefaultLanguage
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LLMGenerator{problems: problems, client: client, language: language, log: log.With(logx.String("comp", "augment.llm"))}
}

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (Generated, error) {
	p, err := g.problems.Problem(ctx, req.Site, req.ProblemID)
	if err != nil {
		return Generated{}, fmt.Errorf("load problem: %w", err)
	}
	body := problems.PlainText(p.Content)
	if body == "" {
		return Generated{}, fmt.Errorf("problem %s has no statement: %w", p.ID, domain.ErrNotFound)
	}
	lang := req.Variant
	if lang == "" {
		lang = g.language
	}
	in := llm.PromptInput{Title: p.Title, Difficulty: p.Difficulty, Tags: p.Tags, Text: body, Language: lang}

	var prompt string
	switch req.Kind {
	case domain.KindTranslate:
		prompt, err = llm.TranslatePrompt(in)
	case domain.KindInspire:
		prompt, err = llm.InspirePrompt(in)
	default:
		return Generated{}, fmt.Errorf("unsupported kind %q", req.Kind)
	}
	if err != nil {
		return Generated{}, err
	}

	raw, err := g.client.Generate(ctx, prompt)
	if err != nil {
		return Generated{}, err
	}

	var content string
	switch req.Kind {
	case domain.KindTranslate:
		var t llm.Translation
		t, err = llm.ParseTranslation(raw)
		content = formatTranslation(p, t)
	case domain.KindInspire:
		var hint llm.Inspiration
		hint, err = llm.ParseInspiration(raw)
		content = formatInspiration(p, hint)
	}
	if errors.Is(err, llm.ErrMalformed) {
		g.log.Warn("llm reply not structured, showing raw text", logx.String("problem", p.ID), logx.Err(err))
		return Generated{Content: Truncate(strings.TrimSpace(raw), MessageLimit), Model: g.client.Model(), Cacheable: false}, nil
	}
	if err != nil {
		return Generated{}, err
	}
	return Generated{Content: content, Model: g.client.Model(), Cacheable: true}, nil
}
