package models

// Diagnosis is the result of POST /analyze.
type Diagnosis struct {
	Disease         string   `json:"disease"`
	Confidence      float64  `json:"confidence"`
	Description     string   `json:"description"`
	Severity        string   `json:"severity"`
	Recommendations []string `json:"recommendations"`
}

// Severity levels reported by the analyzer.
const (
	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)
