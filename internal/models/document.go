package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Chunk is one indexed passage of a source document.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Page      int       `json:"page,omitempty"` // 1-based, 0 when unknown
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// NewChunk builds a chunk with a deterministic ID so re-indexing a source
// replaces its previous chunks instead of duplicating them.
func NewChunk(source string, page, index int, content string) *Chunk {
	name := fmt.Sprintf("%s#%d#%d", source, page, index)
	return &Chunk{
		ID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String(),
		Source:  source,
		Page:    page,
		Content: content,
	}
}

// PageLabel renders the page the way citations show it.
func (c *Chunk) PageLabel() string {
	if c.Page <= 0 {
		return "?"
	}
	return fmt.Sprintf("%d", c.Page)
}

// ScoredChunk is a search hit with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk
	Similarity float32 `json:"similarity"`
}
