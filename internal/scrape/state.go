package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ArticleState is what resume mode remembers per URL.
type ArticleState struct {
	Hash    string `json:"hash"`
	Version int    `json:"version"`
}

// State maps article URLs to their last written version.
type State struct {
	Articles map[string]ArticleState `json:"articles"`
}

func NewState() *State {
	return &State{Articles: make(map[string]ArticleState)}
}

// LoadState reads path, returning an empty state when it does not exist.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	st := NewState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", path, err)
	}
	if st.Articles == nil {
		st.Articles = make(map[string]ArticleState)
	}
	return st, nil
}

// Save writes the state atomically through a temporary file.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return os.Rename(tmp, path)
}
