package slides

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/skeleton"
)

const systemPrompt = "You are an expert teacher who writes unique, educational lesson slides. " +
	"Always return a single valid JSON object with no markdown fences or commentary."

// previousSummaryRunes caps how much of each earlier slide is echoed back into the prompt.
const previousSummaryRunes = 100

var userTemplate = template.Must(template.New("slide").Parse(`Topic: {{.Topic}}
Subject: {{.Subject}}
Slide {{.Index}} of {{.Total}}: "{{.StageTitle}}"
Slide type: {{.Kind}}

Guidelines:
{{- range .Guidelines}}
- {{.}}
{{- end}}
{{- if .Previous}}

Previous slides (avoid repeating them):
{{- range .Previous}}
Slide {{.Position}}: "{{.Title}}" - {{.Summary}}
{{- end}}

IMPORTANT: do not restate anything the previous slides already covered. Build on them and address a different aspect of the topic.
{{- end}}`))

type previousLine struct {
	Position int
	Title    string
	Summary  string
}

type promptInput struct {
	Topic      string
	Subject    string
	Index      int
	Total      int
	StageTitle string
	Kind       lesson.Kind
	Guidelines []string
	Previous   []previousLine
}

func guidelines(index int, kind lesson.Kind) []string {
	var g []string
	if index == 1 {
		g = append(g, "Open the lesson: introduce the topic, why it matters and what the learner will achieve")
	}
	switch kind {
	case lesson.KindQuestion:
		g = append(g,
			"content is a clear, specific and challenging question about what was taught so far",
			"options holds exactly 4 plausible answers with only one correct",
			"correct_index is the zero-based position of the correct option",
			"rationale explains the correct answer in 3-4 sentences",
		)
	case lesson.KindClosing:
		g = append(g,
			"summary recaps the key ideas of the whole lesson",
			"final_tip gives one practical way to apply the knowledge",
		)
	default:
		g = append(g,
			"Use a unique, specific title (not generic)",
			"Focus on one aspect of the topic with concepts, practical examples and real applications",
			"content has at least 400 words in clear language without unexplained jargon",
			"image_description is a short English description of an illustrative image",
		)
	}
	return g
}

// summarize renders an earlier slide for the prompt. Questions are described without their
// options so the backend cannot copy them.
func summarize(s lesson.Slide) string {
	if s.Kind == lesson.KindQuestion {
		n := len(s.Options)
		if n == 0 {
			n = lesson.OptionCount
		}
		return fmt.Sprintf("Quiz with %d options about %s", n, strings.ToLower(s.Title))
	}
	text := strings.Join(strings.Fields(s.Content), " ")
	if s.Kind == lesson.KindClosing && text == "" {
		text = strings.Join(strings.Fields(s.Summary), " ")
	}
	if utf8.RuneCountInString(text) > previousSummaryRunes {
		text = string([]rune(text)[:previousSummaryRunes])
	}
	return text + "..."
}

func buildPrompt(in Input) (string, error) {
	kind := lesson.KindAt(in.Index)
	data := promptInput{
		Topic:      in.Topic,
		Subject:    in.Subject,
		Index:      in.Index,
		Total:      lesson.TotalSlides,
		StageTitle: skeleton.Title(in.Index),
		Kind:       kind,
		Guidelines: guidelines(in.Index, kind),
	}
	for _, p := range in.Previous {
		if p.Placeholder() {
			continue
		}
		data.Previous = append(data.Previous, previousLine{
			Position: p.Position,
			Title:    p.Title,
			Summary:  summarize(p),
		})
	}
	var b bytes.Buffer
	if err := userTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render slide prompt: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
