package rag

import (
	"fmt"
	"strings"

	"hydrocare-rag/internal/models"
)

const repeatInstruction = "Instruction de style: c'est une répétition de la même question. " +
	"Reformule la réponse (style et tournure) mais conserve STRICTEMENT toutes les informations, " +
	"faits, valeurs numériques et citations de pages extraits du contexte. Ne retire aucun détail, " +
	"n'ajoute rien, ne modifie aucune valeur; change uniquement la formulation."

// dedupePrefix is how many leading runes identify a duplicate passage.
const dedupePrefix = 50

// NormalizeQuestion is the repetition key: whitespace runs collapsed to one
// space, trimmed and lower-cased.
func NormalizeQuestion(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// WithRepeatInstruction asks the model to rephrase without losing any fact.
func WithRepeatInstruction(q string) string {
	return q + "\n\n" + repeatInstruction
}

// BuildContextSnippet renders passages as "[p. N] text" blocks separated by
// blank lines. Duplicate passages (same page and leading text) are skipped,
// each passage is cut to snippetChars and the result to maxChars.
func BuildContextSnippet(passages []models.ScoredChunk, maxChars, snippetChars int) string {
	type dedupeKey struct {
		page   int
		prefix string
	}

	seen := make(map[dedupeKey]struct{})
	parts := make([]string, 0, len(passages))
	joinedLen := 0

	for _, p := range passages {
		key := dedupeKey{page: p.Page, prefix: truncateRunes(p.Content, dedupePrefix)}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		text := strings.TrimSpace(p.Content)
		if text == "" {
			continue
		}

		header := "[p.?]"
		if p.Page > 0 {
			header = fmt.Sprintf("[p. %d]", p.Page)
		}
		part := header + " " + truncateRunes(text, snippetChars)

		if len(parts) > 0 {
			joinedLen += 2
		}
		joinedLen += len([]rune(part))
		parts = append(parts, part)

		if joinedLen >= maxChars {
			break
		}
	}

	return truncateRunes(strings.Join(parts, "\n\n"), maxChars)
}

// SourcePages lists known page numbers in retrieval order without duplicates.
func SourcePages(passages []models.ScoredChunk) []int {
	pages := make([]int, 0, len(passages))
	seen := make(map[int]struct{})
	for _, p := range passages {
		if p.Page <= 0 {
			continue
		}
		if _, ok := seen[p.Page]; ok {
			continue
		}
		seen[p.Page] = struct{}{}
		pages = append(pages, p.Page)
	}
	return pages
}

// BuildPrompt assembles the grounded answer prompt. history may be empty.
func BuildPrompt(question, context string, history []models.Turn) string {
	var b strings.Builder
	b.WriteString("Vous êtes un assistant expert et fiable. Répondez en français, de manière claire, précise et utile,")
	b.WriteString(" en vous appuyant uniquement sur le CONTEXTE fourni. Si une information n'est pas présente dans le contexte,")
	b.WriteString(" dites-le explicitement et évitez toute spéculation.\n\n")

	if len(history) > 0 {
		b.WriteString("Historique de la conversation (pour le contexte uniquement):\n")
		for _, t := range history {
			fmt.Fprintf(&b, "- Utilisateur: %s\n  Assistant: %s\n", oneLine(t.Question, 300), oneLine(t.Answer, 500))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString("Consignes:\n")
	b.WriteString("- Répondez directement à la question en 1–3 paragraphes maximum, ou en liste à puces si c'est plus clair.\n")
	b.WriteString("- Utilisez les informations du contexte pour donner des détails concrets (définitions, étapes, paramètres, chiffres, exemples, formules) si disponibles.\n")
	b.WriteString("- Si le contexte est insuffisant: indiquez précisément ce qui manque et proposez 1–2 pistes de recherche ou questions de clarification, sans inventer.\n")
	b.WriteString("- Évitez les généralités, répétitions et remplissage; privilégiez des phrases courtes et des listes.\n\n")
	fmt.Fprintf(&b, "Contexte:\n%s\n\n", context)
	b.WriteString("Réponse:")
	return b.String()
}

func oneLine(s string, limit int) string {
	return truncateRunes(strings.Join(strings.Fields(s), " "), limit)
}

func truncateRunes(s string, n int) string {
	if n < 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
