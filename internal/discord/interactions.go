package discord

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"lcdaily/internal/augment"
	"lcdaily/internal/domain"
	"lcdaily/internal/problems"
	logx "lcdaily/pkg/logx"
)

// User-visible notices, sent as ephemeral replies.
const (
	NoticeInProgress = "Your request for this problem is already in progress. The answer will show up here when it is ready."
	NoticeLLMFailed  = "Sorry, the assistant could not answer right now. Please try again in a moment."
	NoticeNotFound   = "That problem could not be found."
	NoticeTryLater   = "LeetCode is not responding right now, please try again later."
	NoticeDisabled   = "Translations and hints are not enabled on this bot."
	NoticeFailed     = "Something went wrong while handling that button."
)

type Augmenter interface {
	Request(ctx context.Context, req augment.Request) (augment.Result, error)
}

type ProblemLookup interface {
	Problem(ctx context.Context, site domain.Site, id string) (domain.Problem, error)
}

// Interactions answers the daily post buttons. Every reply is deferred first
// because LLM calls outlive Discord's three second window.
type Interactions struct {
	aug      Augmenter
	problems ProblemLookup
	timeout  time.Duration
	log      logx.Logger
	// base parents every request context; Bind sets it to the app run context.
	base atomic.Pointer[context.Context]
}

// NewInteractions builds the handler. aug may be nil when no LLM is configured.
func NewInteractions(aug Augmenter, problems ProblemLookup, timeout time.Duration, log logx.Logger) *Interactions {
	if log.IsZero() {
		log = logx.Nop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Interactions{aug: aug, problems: problems, timeout: timeout, log: log.With(logx.String("comp", "discord.interactions"))}
}

// Bind makes in-flight requests end when ctx does.
func (h *Interactions) Bind(ctx context.Context) { h.base.Store(&ctx) }

func (h *Interactions) requestContext() (context.Context, context.CancelFunc) {
	base := context.Background()
	if p := h.base.Load(); p != nil {
		base = *p
	}
	return context.WithTimeout(base, h.timeout)
}

// Handle is registered with Session.AddHandler.
func (h *Interactions) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("interaction handler panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	btn, err := ParseCustomID(i.MessageComponentData().CustomID)
	if err != nil {
		return
	}
	userID := interactionUser(i)
	log := h.log.With(logx.String("user", userID), logx.String("action", string(btn.Action)), logx.String("problem", btn.ProblemID))

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		log.Warn("defer interaction failed", logx.Err(err))
		return
	}

	ctx, cancel := h.requestContext()
	defer cancel()
	content := h.Reply(ctx, userID, btn)

	_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content:         augment.Truncate(content, augment.MessageLimit),
		Flags:           discordgo.MessageFlagsEphemeral,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		log.Warn("interaction followup failed", logx.Err(err))
	}
}

// Reply computes the text answer for one button press. A panic below it is
// answered with NoticeFailed.
func (h *Interactions) Reply(ctx context.Context, userID string, btn Button) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("interaction reply panic", logx.String("problem", btn.ProblemID),
				logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			reply = NoticeFailed
		}
	}()
	if btn.Action == ActionDescription {
		p, err := h.problems.Problem(ctx, btn.Site, btn.ProblemID)
		if err != nil {
			return h.notice(btn, err)
		}
		return describe(p)
	}

	kind, ok := btn.Action.Kind()
	if !ok {
		return NoticeFailed
	}
	if h.aug == nil {
		return NoticeDisabled
	}
	res, err := h.aug.Request(ctx, augment.Request{
		UserID:    userID,
		ProblemID: btn.ProblemID,
		Site:      btn.Site,
		Kind:      kind,
	})
	if err != nil {
		return h.notice(btn, err)
	}
	if res.Outcome == augment.AlreadyInProgress {
		return NoticeInProgress
	}
	return res.Content
}

func (h *Interactions) notice(btn Button, err error) string {
	switch {
	case domain.IsLLM(err):
		h.log.Warn("llm request failed", logx.String("problem", btn.ProblemID), logx.Err(err))
		return NoticeLLMFailed
	case domain.IsNotFound(err):
		return NoticeNotFound
	case domain.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return NoticeTryLater
	}
	h.log.Error("interaction failed", logx.String("problem", btn.ProblemID), logx.Err(err))
	return NoticeFailed
}

func describe(p domain.Problem) string {
	head := fmt.Sprintf("**%s. %s**", p.ID, p.Title)
	if p.Link != "" {
		head += "\n<" + p.Link + ">"
	}
	body := problems.PlainText(p.Content)
	if body == "" {
		body = "(statement unavailable)"
	}
	return augment.Truncate(head+"\n\n"+body, augment.MessageLimit)
}

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
