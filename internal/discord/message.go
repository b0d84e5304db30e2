package discord

import (
	"fmt"
	"math"
	"strings"

	"github.com/bwmarrin/discordgo"

	"lcdaily/internal/domain"
)

var difficultyColor = map[string]int{
	"Easy":   0x00B8A3,
	"Medium": 0xFFC01E,
	"Hard":   0xFF375F,
}

// maxSimilar caps the related problems listed under a daily post.
const maxSimilar = 3

// DailyMessage builds the daily post: one embed, the buttons and an optional
// role mention. Translate and Hints are only offered when augment is set.
func DailyMessage(g domain.GuildConfig, p domain.Problem, date string, augment bool) *discordgo.MessageSend {
	site := p.Site
	if site == "" {
		site = domain.SiteCOM
	}
	title := fmt.Sprintf("%s. %s", p.ID, p.Title)
	if site == domain.SiteCN && p.TitleCN != "" {
		title = fmt.Sprintf("%s. %s", p.ID, p.TitleCN)
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Difficulty", Value: orDash(p.Difficulty), Inline: true},
		{Name: "AC rate", Value: fmt.Sprintf("%.1f%%", p.ACRate), Inline: true},
	}
	if p.Rating > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Rating", Value: formatRating(p.Rating), Inline: true})
	}
	if len(p.Tags) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Tags", Value: "||" + strings.Join(p.Tags, ", ") + "||"})
	}
	if p.PaidOnly {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Premium", Value: "Subscription required", Inline: true})
	}
	if lines := similarLines(site, p.Similar); lines != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Similar questions", Value: lines})
	}

	embed := &discordgo.MessageEmbed{
		Title:  title,
		URL:    p.Link,
		Color:  difficultyColor[p.Difficulty],
		Fields: fields,
		Author: &discordgo.MessageEmbedAuthor{Name: "LeetCode daily challenge"},
		Footer: &discordgo.MessageEmbedFooter{Text: date},
	}

	button := func(label string, a Action, style discordgo.ButtonStyle) discordgo.Button {
		return discordgo.Button{
			Label:    label,
			Style:    style,
			CustomID: Button{Action: a, Site: site, ProblemID: p.ID}.CustomID(),
		}
	}
	row := discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		button("Description", ActionDescription, discordgo.SecondaryButton),
	}}
	if augment {
		row.Components = append(row.Components,
			button("Translate", ActionTranslate, discordgo.PrimaryButton),
			button("Hints", ActionInspire, discordgo.SuccessButton),
		)
	}
	if p.Link != "" {
		row.Components = append(row.Components, discordgo.Button{Label: "Open", Style: discordgo.LinkButton, URL: p.Link})
	}

	msg := &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{row},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Roles: []string{},
		},
	}
	if g.RoleID != "" {
		msg.Content = fmt.Sprintf("<@&%s>", g.RoleID)
		msg.AllowedMentions.Roles = []string{g.RoleID}
	}
	return msg
}

func similarLines(site domain.Site, similar []domain.SimilarProblem) string {
	var b strings.Builder
	for i, sp := range similar {
		if i == maxSimilar {
			break
		}
		if sp.Slug == "" {
			continue
		}
		title := sp.Title
		if site == domain.SiteCN && sp.TitleCN != "" {
			title = sp.TitleCN
		}
		fmt.Fprintf(&b, "- [%s](%s/problems/%s/) · %s", orDash(title), site.BaseURL(), sp.Slug, orDash(sp.Difficulty))
		if sp.Rating > 0 {
			fmt.Fprintf(&b, " · %s", formatRating(sp.Rating))
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatRating(r float64) string {
	return fmt.Sprintf("%d", int(math.Round(r)))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
