package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hydrocare-rag/internal/models"
)

// MaxReports is how many analysis reports the history keeps.
const MaxReports = 10

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry. Response is set on assistant messages.
type Message struct {
	Role     string               `json:"role"`
	Text     string               `json:"text"`
	Response *models.ChatResponse `json:"response,omitempty"`
}

// Report is a saved disease analysis.
type Report struct {
	Filename  string           `json:"filename"`
	Diagnosis models.Diagnosis `json:"diagnosis"`
	CreatedAt time.Time        `json:"created_at"`
}

// State is everything the client persists between runs.
type State struct {
	SessionID  string    `json:"session_id,omitempty"`
	Transcript []Message `json:"transcript,omitempty"`
	Reports    []Report  `json:"reports,omitempty"`
}

// AddReport prepends r and drops reports beyond MaxReports.
func (s *State) AddReport(r Report) {
	s.Reports = append([]Report{r}, s.Reports...)
	if len(s.Reports) > MaxReports {
		s.Reports = s.Reports[:MaxReports]
	}
}

// LoadState reads path. A missing file is an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read client state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt client state %s: %w", path, err)
	}
	return &st, nil
}

func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write client state: %w", err)
	}
	return os.Rename(tmp, path)
}
