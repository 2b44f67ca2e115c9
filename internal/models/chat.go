// Package models holds the request, response and domain types shared across packages.
package models

// Judge decisions.
const (
	DecisionKeep   = "keep"
	DecisionRevise = "revise"
)

// ChatRequest is the body of POST /api/chat. An empty SessionID asks the
// server to open a new session.
type ChatRequest struct {
	Question  string `json:"question" validate:"notblank,max=4000"`
	SessionID string `json:"session_id"`
}

// ChatResponse is returned by POST /api/chat. Scores and decision are absent
// when the judge was disabled or failed.
type ChatResponse struct {
	Answer       string   `json:"answer"`
	SessionID    string   `json:"session_id"`
	Faithfulness *int     `json:"faithfulness,omitempty"`
	Completeness *int     `json:"completeness,omitempty"`
	Decision     string   `json:"decision,omitempty"`
	Issues       []string `json:"issues,omitempty"`
	Sources      []int    `json:"sources"`
}

// ResetRequest is the body of POST /api/reset-session.
type ResetRequest struct {
	SessionID string `json:"session_id"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health. ModelLoaded is only reported
// when the image analysis variant is enabled.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded *bool  `json:"model_loaded,omitempty"`
}

// Turn is one question/answer exchange kept in session memory.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Sources  []int  `json:"sources,omitempty"`
}

// Verdict is the normalized output of the answer judge.
type Verdict struct {
	Faithfulness  *int     `json:"faithfulness,omitempty"`
	Completeness  *int     `json:"completeness,omitempty"`
	Issues        []string `json:"issues"`
	Decision      string   `json:"decision"`
	RevisedAnswer string   `json:"revised_answer,omitempty"`
}
