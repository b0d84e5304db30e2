// Package discord is the chat surface: the gateway session, daily posts,
// button interactions and the log channel sender.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	logx "lcdaily/pkg/logx"
)

// Session owns the gateway connection.
type Session struct {
	*discordgo.Session
	log logx.Logger
}

func NewSession(token string, log logx.Logger) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	dg, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds
	dg.StateEnabled = false
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Session{Session: dg, log: log.With(logx.String("comp", "discord"))}
	dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		s.log.Info("discord ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
	})
	return s, nil
}

// Run keeps the gateway open until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	<-ctx.Done()
	if err := s.Close(); err != nil {
		s.log.Warn("gateway close failed", logx.Err(err))
	}
	return nil
}
