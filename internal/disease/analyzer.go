// Package disease diagnoses plant diseases from leaf photos.
package disease

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"hydrocare-rag/internal/models"
)

// Analyzer inspects one image.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (*models.Diagnosis, error)
	// Loaded reports whether the analyzer can serve requests.
	Loaded() bool
}

// contentGenerator is the subset of *genai.Models the analyzer calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

const analysisPrompt = `Vous êtes un phytopathologiste spécialisé en cultures hydroponiques.
Analysez la photo de la plante et identifiez une éventuelle maladie, carence ou ravageur.
Répondez en JSON EXACT avec les clés:
- "disease": nom de la maladie en français, ou "Plante saine" si aucun problème n'est visible
- "confidence": nombre entre 0 et 1
- "description": 1 à 3 phrases décrivant les symptômes observés
- "severity": "none", "low", "medium", "high" ou "critical"
- "recommendations": liste de 2 à 5 actions concrètes adaptées à l'hydroponie (pH, EC, aération, hygiène du système)
Si l'image ne montre pas de plante, "disease" vaut "Indéterminé", "confidence" vaut 0 et "severity" vaut "none".`

// GeminiAnalyzer sends the image to a multimodal Gemini model with a JSON
// response contract.
type GeminiAnalyzer struct {
	models  contentGenerator
	model   string
	timeout time.Duration
}

func NewGeminiAnalyzer(client *genai.Client, model string, timeout time.Duration) *GeminiAnalyzer {
	return &GeminiAnalyzer{models: client.Models, model: model, timeout: timeout}
}

func (a *GeminiAnalyzer) Loaded() bool {
	return a.models != nil && a.model != ""
}

func (a *GeminiAnalyzer) Analyze(ctx context.Context, image []byte, mimeType string) (*models.Diagnosis, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(analysisPrompt),
		}, genai.RoleUser),
	}

	resp, err := a.models.GenerateContent(ctx, a.model, contents, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.2),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("image analysis request failed: %w", err)
	}

	return ParseDiagnosis(resp.Text())
}

// ParseDiagnosis decodes and normalizes the model's JSON. Confidence is
// clamped to [0, 1], percentages are rescaled and unknown severities map to
// medium.
func ParseDiagnosis(raw string) (*models.Diagnosis, error) {
	var payload struct {
		Disease         string   `json:"disease"`
		Confidence      float64  `json:"confidence"`
		Description     string   `json:"description"`
		Severity        string   `json:"severity"`
		Recommendations []string `json:"recommendations"`
	}

	body := strings.TrimSpace(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start != -1 && end > start {
		body = body[start : end+1]
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("unparseable analysis response: %w", err)
	}
	if strings.TrimSpace(payload.Disease) == "" {
		return nil, fmt.Errorf("analysis response has no disease")
	}

	d := &models.Diagnosis{
		Disease:         strings.TrimSpace(payload.Disease),
		Confidence:      normalizeConfidence(payload.Confidence),
		Description:     strings.TrimSpace(payload.Description),
		Severity:        normalizeSeverity(payload.Severity),
		Recommendations: make([]string, 0, len(payload.Recommendations)),
	}
	for _, r := range payload.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			d.Recommendations = append(d.Recommendations, r)
		}
	}
	return d, nil
}

func normalizeConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 && c <= 100 {
		c /= 100
	}
	return math.Min(c, 1)
}

func normalizeSeverity(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case models.SeverityNone, models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return s
	case "":
		return models.SeverityNone
	default:
		return models.SeverityMedium
	}
}
