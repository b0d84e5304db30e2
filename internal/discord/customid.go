package discord

import (
	"fmt"
	"strings"

	"lcdaily/internal/domain"
)

const customIDPrefix = "lc"

// Action is what a button on the daily post asks for.
type Action string

const (
	ActionDescription Action = "desc"
	ActionTranslate   Action = "translate"
	ActionInspire     Action = "inspire"
)

// Button is the decoded custom id "lc:<action>:<site>:<problem id>".
type Button struct {
	Action    Action
	Site      domain.Site
	ProblemID string
}

func (b Button) CustomID() string {
	return strings.Join([]string{customIDPrefix, string(b.Action), string(b.Site), b.ProblemID}, ":")
}

// ParseCustomID decodes a button id. Ids from other components return an error.
func ParseCustomID(id string) (Button, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 4 || parts[0] != customIDPrefix {
		return Button{}, fmt.Errorf("not a daily button: %q", id)
	}
	act := Action(parts[1])
	switch act {
	case ActionDescription, ActionTranslate, ActionInspire:
	default:
		return Button{}, fmt.Errorf("unknown button action %q", parts[1])
	}
	site, err := domain.ParseSite(parts[2])
	if err != nil {
		return Button{}, err
	}
	if parts[3] == "" {
		return Button{}, fmt.Errorf("button %q has no problem id", id)
	}
	return Button{Action: act, Site: site, ProblemID: parts[3]}, nil
}

// Kind maps an LLM-backed action to its augmentation kind.
func (a Action) Kind() (domain.AugmentKind, bool) {
	switch a {
	case ActionTranslate:
		return domain.KindTranslate, true
	case ActionInspire:
		return domain.KindInspire, true
	}
	return "", false
}
