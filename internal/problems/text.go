package problems

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// PlainText renders a problem statement (site HTML) as readable text for chat
// messages and LLM prompts. Superscripts become "^n", list items get a bullet
// and <pre> blocks keep their line breaks.
func PlainText(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}
	var b strings.Builder
	render(&b, doc, false)
	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	out := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}

func render(b *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		text := strings.ReplaceAll(n.Data, "\u00a0", " ")
		if pre {
			b.WriteString(text)
			return
		}
		b.WriteString(collapseSpace(text))
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Br:
			b.WriteByte('\n')
			return
		case atom.Sup:
			b.WriteByte('^')
		case atom.Li:
			b.WriteString("\n- ")
		case atom.Pre:
			pre = true
			b.WriteString("\n")
		case atom.Img:
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(b, c, pre)
	}
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.P, atom.Div, atom.Ul, atom.Ol, atom.Pre, atom.H1, atom.H2, atom.H3, atom.H4:
			b.WriteString("\n\n")
		}
	}
}

func collapseSpace(s string) string {
	if s == "" {
		return s
	}
	f := strings.Fields(s)
	if len(f) == 0 {
		// Pure whitespace between tags: keep a single separator.
		if strings.Contains(s, "\n") {
			return ""
		}
		return " "
	}
	out := strings.Join(f, " ")
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
