package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"lcdaily/internal/augment"
	"lcdaily/internal/domain"
	logx "lcdaily/pkg/logx"
)

// MessageAPI is the slice of *discordgo.Session the poster needs.
type MessageAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Poster sends daily posts and plain messages. It also serves as the log
// sink sender.
type Poster struct {
	api            MessageAPI
	log            logx.Logger
	now            func() time.Time
	augmentButtons bool
}

type PosterOption func(*Poster)

// WithAugmentButtons adds the translate and hints buttons to daily posts.
// Leave it off when no LLM is configured.
func WithAugmentButtons(on bool) PosterOption {
	return func(p *Poster) { p.augmentButtons = on }
}

func NewPoster(api MessageAPI, log logx.Logger, opts ...PosterOption) *Poster {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poster{api: api, log: log.With(logx.String("comp", "discord.poster")), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Poster) PostDaily(ctx context.Context, g domain.GuildConfig, prob domain.Problem) error {
	if strings.TrimSpace(g.ChannelID) == "" {
		return fmt.Errorf("guild %s: %w", g.GuildID, domain.ErrConfigurationMissing)
	}
	site := prob.Site
	if site == "" {
		site = g.Site
	}
	prob.Site = site
	msg := DailyMessage(g, prob, site.Today(p.now()), p.augmentButtons)
	if _, err := p.api.ChannelMessageSendComplex(g.ChannelID, msg, discordgo.WithContext(ctx)); err != nil {
		return classify("post daily", err)
	}
	p.log.Debug("daily message sent", logx.String("guild", g.GuildID), logx.String("problem", prob.ID))
	return nil
}

// PostMessage sends plain text, truncated to the message limit.
func (p *Poster) PostMessage(ctx context.Context, channelID, content string) error {
	if channelID == "" {
		return domain.ErrConfigurationMissing
	}
	msg := &discordgo.MessageSend{
		Content:         augment.Truncate(content, augment.MessageLimit),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if _, err := p.api.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return classify("post message", err)
	}
	return nil
}

// SendLog implements logx.Sender.
func (p *Poster) SendLog(ctx context.Context, channelID, text string) error {
	return p.PostMessage(ctx, channelID, text)
}

// classify maps REST failures onto the domain error taxonomy.
func classify(op string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		code := rest.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= 500 {
			return &domain.TransientError{Op: op, Err: err}
		}
		return &domain.PermanentError{Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.TransientError{Op: op, Err: err}
}
