package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"hydrocare-rag/internal/models"
)

// Placeholder stands in for a missing score.
const Placeholder = "-"

// FormatScore renders a 1-5 score, or Placeholder when absent or out of range.
func FormatScore(score *int) string {
	if score == nil || *score < 1 || *score > 5 {
		return Placeholder
	}
	return strconv.Itoa(*score) + "/5"
}

// FormatSources renders page numbers as "p. 3, p. 7".
func FormatSources(pages []int) string {
	if len(pages) == 0 {
		return Placeholder
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("p. %d", p)
	}
	return strings.Join(parts, ", ")
}

// FormatDecision renders the judge decision in French.
func FormatDecision(decision string) string {
	switch decision {
	case models.DecisionKeep:
		return "conservée"
	case models.DecisionRevise:
		return "révisée"
	default:
		return Placeholder
	}
}

// FormatConfidence renders a 0-1 confidence as a percentage.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

// Theme styles the metadata lines printed under an answer.
type Theme struct {
	User     lipgloss.Style
	Label    lipgloss.Style
	Good     lipgloss.Style
	Warn     lipgloss.Style
	Muted    lipgloss.Style
	Severity map[string]lipgloss.Style
}

func DefaultTheme() *Theme {
	return &Theme{
		User:  lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		Label: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Good:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		Severity: map[string]lipgloss.Style{
			models.SeverityNone:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			models.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("148")),
			models.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			models.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("202")),
			models.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		},
	}
}

// maxIssues is how many judge issues are printed.
const maxIssues = 4

// TermRenderer prints answers as terminal Markdown.
type TermRenderer struct {
	markdown *glamour.TermRenderer
	theme    *Theme
}

// NewTermRenderer uses a glamour style name ("dark", "light", "notty", ...).
// A zero width disables wrapping.
func NewTermRenderer(style string, width int) (*TermRenderer, error) {
	md, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return &TermRenderer{markdown: md, theme: DefaultTheme()}, nil
}

func (r *TermRenderer) renderMarkdown(text string) string {
	out, err := r.markdown.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}

// RenderQuestion echoes the user's question.
func (r *TermRenderer) RenderQuestion(q string) string {
	return r.theme.User.Render("Vous: ") + q
}

// RenderAnswer prints the answer followed by scores, decision, issues and
// sources. Missing values show Placeholder.
func (r *TermRenderer) RenderAnswer(resp *models.ChatResponse) string {
	var b strings.Builder
	b.WriteString(r.renderMarkdown(resp.Answer))
	b.WriteString("\n\n")

	decision := FormatDecision(resp.Decision)
	decisionStyle := r.theme.Muted
	switch resp.Decision {
	case models.DecisionKeep:
		decisionStyle = r.theme.Good
	case models.DecisionRevise:
		decisionStyle = r.theme.Warn
	}

	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		r.theme.Label.Render("Fidélité:"), FormatScore(resp.Faithfulness),
		r.theme.Label.Render("Complétude:"), FormatScore(resp.Completeness),
		r.theme.Label.Render("Décision:"), decisionStyle.Render(decision),
	)
	for i, issue := range resp.Issues {
		if i == maxIssues {
			break
		}
		b.WriteString(r.theme.Muted.Render("  • "+issue) + "\n")
	}
	fmt.Fprintf(&b, "%s %s", r.theme.Label.Render("Sources:"), FormatSources(resp.Sources))
	return b.String()
}

// RenderDiagnosis prints an image analysis result.
func (r *TermRenderer) RenderDiagnosis(d *models.Diagnosis) string {
	var b strings.Builder
	sev, ok := r.theme.Severity[d.Severity]
	if !ok {
		sev = r.theme.Muted
	}

	fmt.Fprintf(&b, "%s %s (%s)\n", r.theme.Label.Render("Diagnostic:"), d.Disease, FormatConfidence(d.Confidence))
	fmt.Fprintf(&b, "%s %s\n", r.theme.Label.Render("Gravité:"), sev.Render(d.Severity))
	if d.Description != "" {
		b.WriteString(r.renderMarkdown(d.Description) + "\n")
	}
	for _, rec := range d.Recommendations {
		b.WriteString("  • " + rec + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
