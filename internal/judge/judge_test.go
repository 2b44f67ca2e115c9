package judge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrocare-rag/internal/models"
)

type stubGenerator struct {
	reply  string
	err    error
	prompt string
}

func (s *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

func intp(n int) *int { return &n }

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		faith    *int
		complete *int
		decision string
		revised  string
		issues   []string
	}{
		{
			name:     "strict json keep",
			raw:      `{"faithfulness": 5, "completeness": 4, "issues": [], "decision": "keep"}`,
			faith:    intp(5),
			complete: intp(4),
			decision: models.DecisionKeep,
			issues:   []string{},
		},
		{
			name:     "fenced json revise",
			raw:      "```json\n{\"faithfulness\": 2, \"completeness\": 3, \"issues\": [\"invente un chiffre\"], \"decision\": \"revise\", \"revised_answer\": \" pH 5.5-6.5 (p. 12) \"}\n```",
			faith:    intp(2),
			complete: intp(3),
			decision: models.DecisionRevise,
			revised:  "pH 5.5-6.5 (p. 12)",
			issues:   []string{"invente un chiffre"},
		},
		{
			name:     "string scores and missing decision below threshold",
			raw:      `{"faithfulness": "3", "completeness": "5"}`,
			faith:    intp(3),
			complete: intp(5),
			decision: models.DecisionRevise,
			issues:   []string{},
		},
		{
			name:     "unknown decision at threshold keeps",
			raw:      `{"faithfulness": 4.0, "completeness": 4, "decision": "maybe"}`,
			faith:    intp(4),
			complete: intp(4),
			decision: models.DecisionKeep,
			issues:   []string{},
		},
		{
			name:     "garbage defaults to keep",
			raw:      "je ne sais pas",
			decision: models.DecisionKeep,
			issues:   []string{},
		},
		{
			name:     "out of range and fractional scores dropped",
			raw:      `{"faithfulness": 9, "completeness": 3.5, "issues": "none"}`,
			decision: models.DecisionKeep,
			issues:   []string{},
		},
		{
			name:     "non string issues stringified",
			raw:      `{"faithfulness": 1, "completeness": 1, "issues": ["a", 2, null, "  "]}`,
			faith:    intp(1),
			complete: intp(1),
			decision: models.DecisionRevise,
			issues:   []string{"a", "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Parse(tt.raw, 4, 4)
			assert.Equal(t, tt.faith, v.Faithfulness)
			assert.Equal(t, tt.complete, v.Completeness)
			assert.Equal(t, tt.decision, v.Decision)
			assert.Equal(t, tt.revised, v.RevisedAnswer)
			assert.Equal(t, tt.issues, v.Issues)
		})
	}
}

func TestEvaluateBuildsPrompt(t *testing.T) {
	gen := &stubGenerator{reply: `{"faithfulness": 5, "completeness": 5, "decision": "keep"}`}
	j := New(gen, 4, 3)

	v, err := j.Evaluate(context.Background(), "Quel pH ?", "pH 6", "[p. 12] pH 5.5 à 6.5")
	require.NoError(t, err)

	assert.Equal(t, models.DecisionKeep, v.Decision)
	assert.Contains(t, gen.prompt, "Question:\nQuel pH ?")
	assert.Contains(t, gen.prompt, "Réponse:\npH 6")
	assert.Contains(t, gen.prompt, "CONTEXTE:\n[p. 12] pH 5.5 à 6.5")
	assert.Contains(t, gen.prompt, "< 4 ou < 3")
}

func TestEvaluatePropagatesModelError(t *testing.T) {
	j := New(&stubGenerator{err: errors.New("timeout")}, 4, 4)

	_, err := j.Evaluate(context.Background(), "q", "a", "c")
	assert.ErrorContains(t, err, "timeout")
}
