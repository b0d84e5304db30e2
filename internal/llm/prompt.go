package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// DefaultLanguage is the translation target when none is configured.
const DefaultLanguage = "zh-TW"

// PromptInput carries the problem fields the prompts reference.
type PromptInput struct {
	Title      string
	Difficulty string
	Tags       []string
	Text       string
	Language   string
}

const translateSource = `You are translating a LeetCode problem statement into {{.Language}}.
Keep every code identifier, variable name, formula and example value unchanged.
Keep the structure: examples, constraints and follow-up sections stay in order.

Reply with a single JSON object and nothing else:
{"thinking": "<short notes on terminology choices>", "translation": "<the translated statement>"}

Title: {{.Title}}

Statement:
{{.Text}}
`

const inspireSource = `You are a competitive programming coach. Help a student approach the problem below without solving it for them.
Do not write code. Wrap the decisive hints in Discord spoiler marks (||like this||).
Answer in {{.Language}}. Keep each field under 1000 characters.

Reply with a single JSON object and nothing else:
{"thinking": "<how you read the problem>", "traps": "<edge cases and common mistakes>", "algorithms": "<candidate techniques>", "inspiration": "<a guided hint>"}

Title: {{.Title}}
Difficulty: {{.Difficulty}}
Tags: {{join .Tags ", "}}

Statement:
{{.Text}}
`

var prompts = template.Must(template.New("translate").Funcs(template.FuncMap{"join": strings.Join}).Parse(translateSource))

func init() {
	template.Must(prompts.New("inspire").Parse(inspireSource))
}

func render(name string, in PromptInput) (string, error) {
	if in.Language == "" {
		in.Language = DefaultLanguage
	}
	var b bytes.Buffer
	if err := prompts.ExecuteTemplate(&b, name, in); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return b.String(), nil
}

func TranslatePrompt(in PromptInput) (string, error) { return render("translate", in) }

func InspirePrompt(in PromptInput) (string, error) { return render("inspire", in) }

// Translation is the structured translate reply.
type Translation struct {
	Thinking    text `json:"thinking"`
	Translation text `json:"translation"`
}

// Inspiration is the structured hint reply.
type Inspiration struct {
	Thinking    text `json:"thinking"`
	Traps       text `json:"traps"`
	Algorithms  text `json:"algorithms"`
	Inspiration text `json:"inspiration"`
}

// ErrMalformed marks a reply that is not the requested JSON object.
var ErrMalformed = errors.New("malformed llm reply")

func ParseTranslation(raw string) (Translation, error) {
	var t Translation
	if err := decodeReply(raw, &t); err != nil {
		return Translation{}, err
	}
	if strings.TrimSpace(string(t.Translation)) == "" {
		return Translation{}, fmt.Errorf("%w: empty translation", ErrMalformed)
	}
	return t, nil
}

func ParseInspiration(raw string) (Inspiration, error) {
	var in Inspiration
	if err := decodeReply(raw, &in); err != nil {
		return Inspiration{}, err
	}
	if in.Traps == "" && in.Algorithms == "" && in.Inspiration == "" {
		return Inspiration{}, fmt.Errorf("%w: no hint fields", ErrMalformed)
	}
	return in, nil
}

// decodeReply tolerates code fences and chatter around the JSON object.
func decodeReply(raw string, out any) error {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no json object", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// text accepts a JSON string or a list of strings; models return either.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	for i, l := range list {
		list[i] = "- " + strings.TrimSpace(l)
	}
	*t = text(strings.Join(list, "\n"))
	return nil
}

func (t text) String() string { return strings.TrimSpace(string(t)) }
