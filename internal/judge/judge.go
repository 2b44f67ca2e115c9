// Package judge scores a generated answer against its retrieval context and
// proposes a revision when the scores fall below the configured thresholds.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"hydrocare-rag/internal/llm"
	"hydrocare-rag/internal/models"
)

// Score bounds for faithfulness and completeness.
const (
	MinScore = 1
	MaxScore = 5
)

// Judge asks a low-temperature model to grade answers.
type Judge struct {
	model           llm.Generator
	faithfulnessMin int
	completenessMin int
}

func New(model llm.Generator, faithfulnessMin, completenessMin int) *Judge {
	return &Judge{
		model:           model,
		faithfulnessMin: faithfulnessMin,
		completenessMin: completenessMin,
	}
}

// Evaluate grades answer for question against context. Unparseable model
// output yields a verdict without scores and a threshold-derived decision.
func (j *Judge) Evaluate(ctx context.Context, question, answer, context string) (*models.Verdict, error) {
	raw, err := j.model.Generate(ctx, j.prompt(question, answer, context))
	if err != nil {
		return nil, fmt.Errorf("judge invocation failed: %w", err)
	}
	return Parse(raw, j.faithfulnessMin, j.completenessMin), nil
}

func (j *Judge) prompt(question, answer, context string) string {
	var b strings.Builder
	b.WriteString("Vous êtes un évaluateur impartial. Évaluez la réponse par rapport UNIQUEMENT au CONTEXTE.\n")
	b.WriteString("- Donnez des notes de 1 à 5: faithfulness (fidélité au contexte), completeness (couverture des points essentiels).\n")
	b.WriteString("- Listez brièvement les problèmes (issues) si présents (max 4).\n")
	fmt.Fprintf(&b, "- decision: 'revise' si l'une des notes < %d ou < %d, sinon 'keep'.\n", j.faithfulnessMin, j.completenessMin)
	b.WriteString("- Si decision='revise', proposez 'revised_answer' en français, concise et structurée, avec citations de pages (ex: p. 258), STRICTEMENT basées sur le CONTEXTE.\n")
	b.WriteString("Répondez en JSON EXACT avec les clés: faithfulness, completeness, issues, decision, revised_answer.\n\n")
	fmt.Fprintf(&b, "Question:\n%s\n\n", question)
	fmt.Fprintf(&b, "Réponse:\n%s\n\n", answer)
	fmt.Fprintf(&b, "CONTEXTE:\n%s\n\n", context)
	b.WriteString("JSON:")
	return b.String()
}

// Parse normalizes raw judge output. It accepts strict JSON or the outermost
// {...} block inside surrounding text such as a Markdown code fence.
func Parse(raw string, faithfulnessMin, completenessMin int) *models.Verdict {
	data := decodeObject(raw)

	v := &models.Verdict{
		Faithfulness: toScore(data["faithfulness"]),
		Completeness: toScore(data["completeness"]),
		Issues:       toIssues(data["issues"]),
	}

	if s, ok := data["revised_answer"].(string); ok {
		v.RevisedAnswer = strings.TrimSpace(s)
	}

	decision, _ := data["decision"].(string)
	switch decision {
	case models.DecisionKeep, models.DecisionRevise:
		v.Decision = decision
	default:
		f, c := MaxScore, MaxScore
		if v.Faithfulness != nil {
			f = *v.Faithfulness
		}
		if v.Completeness != nil {
			c = *v.Completeness
		}
		if f < faithfulnessMin || c < completenessMin {
			v.Decision = models.DecisionRevise
		} else {
			v.Decision = models.DecisionKeep
		}
	}

	return v
}

func decodeObject(raw string) map[string]any {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err == nil && data != nil {
		return data
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &data); err == nil && data != nil {
			return data
		}
	}
	return map[string]any{}
}

// toScore accepts integers, whole floats and numeric strings within 1-5.
func toScore(v any) *int {
	var n int
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return nil
		}
		n = int(x)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}

	if n < MinScore || n > MaxScore {
		return nil
	}
	return &n
}

func toIssues(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	issues := make([]string, 0, len(list))
	for _, item := range list {
		switch x := item.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				issues = append(issues, s)
			}
		case nil:
		default:
			issues = append(issues, fmt.Sprint(x))
		}
	}
	return issues
}
