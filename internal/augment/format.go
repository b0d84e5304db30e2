package augment

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"lcdaily/internal/domain"
	"lcdaily/internal/llm"
)

// MessageLimit is Discord's per-message character cap.
const MessageLimit = 2000

func formatTranslation(p domain.Problem, t llm.Translation) string {
	title := p.Title
	if p.TitleCN != "" {
		title = p.TitleCN
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s. %s**\n\n", p.ID, title)
	b.WriteString(t.Translation.String())
	return Truncate(b.String(), MessageLimit)
}

func formatInspiration(p domain.Problem, in llm.Inspiration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s. %s** · %s\n", p.ID, p.Title, p.Difficulty)
	section := func(head string, body string) {
		if body == "" {
			return
		}
		fmt.Fprintf(&b, "\n**%s**\n%s\n", head, body)
	}
	section("Thinking", in.Thinking.String())
	section("Traps", in.Traps.String())
	section("Algorithms", in.Algorithms.String())
	section("Inspiration", in.Inspiration.String())
	return Truncate(strings.TrimRight(b.String(), "\n"), MessageLimit)
}

// Truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
