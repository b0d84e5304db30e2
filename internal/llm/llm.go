// Package llm talks to chat-completion providers. Every provider is wrapped
// so failures surface as *domain.LLMError and latency is recorded.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lcdaily/internal/domain"
	"lcdaily/internal/observability"
	logx "lcdaily/pkg/logx"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderZhipu  = "zhipu"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	geminiModel   = "gemini-2.0-flash"
	openAIModel   = "gpt-4o-mini"
	zhipuModel    = "glm-4-flash"
)

// Client generates one completion for one prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Model names the model answering, recorded next to cached results.
	Model() string
}

type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// ErrDisabled is returned by New when no API key is configured.
var ErrDisabled = errors.New("llm disabled: no api key")

// New builds the configured provider. An empty provider means gemini through
// its OpenAI-compatible endpoint.
func New(cfg Config, log logx.Logger, metrics *observability.Metrics) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGemini
	}

	var next Client
	switch provider {
	case ProviderGemini:
		if cfg.BaseURL == "" {
			cfg.BaseURL = geminiBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = geminiModel
		}
		next = newOpenAI(cfg)
	case ProviderOpenAI:
		if cfg.Model == "" {
			cfg.Model = openAIModel
		}
		next = newOpenAI(cfg)
	case ProviderZhipu:
		if cfg.Model == "" {
			cfg.Model = zhipuModel
		}
		z, err := newZhipu(cfg)
		if err != nil {
			return nil, fmt.Errorf("zhipu client: %w", err)
		}
		next = z
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return Instrument(provider, next, cfg.Timeout, log, metrics), nil
}

// Instrument bounds each call by timeout, records latency and wraps failures
// (including empty completions) in *domain.LLMError.
func Instrument(provider string, next Client, timeout time.Duration, log logx.Logger, metrics *observability.Metrics) Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &instrumented{
		provider: provider,
		next:     next,
		timeout:  timeout,
		log:      log.With(logx.String("comp", "llm"), logx.String("provider", provider)),
		metrics:  metrics,
	}
}

type instrumented struct {
	provider string
	next     Client
	timeout  time.Duration
	log      logx.Logger
	metrics  *observability.Metrics
}

func (c *instrumented) Model() string { return c.next.Model() }

func (c *instrumented) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.next.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("empty completion")
	}
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.LLMCall(c.provider, "error", elapsed)
		c.log.Warn("llm call failed", logx.Duration("elapsed", elapsed), logx.Err(err))
		return "", &domain.LLMError{Provider: c.provider, Err: err}
	}
	c.metrics.LLMCall(c.provider, "ok", elapsed)
	c.log.Debug("llm call ok", logx.Duration("elapsed", elapsed), logx.Int("chars", len(out)))
	return out, nil
}
