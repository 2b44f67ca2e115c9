package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hydrocare-rag/internal/models"
	"hydrocare-rag/internal/storage"
)

func TestSplitter(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{"fits in one chunk", 100, 0, "p1 ligne\n\np2 ligne", []string{"p1 ligne\n\np2 ligne"}},
		{"word boundaries", 7, 0, "aaa bbb ccc", []string{"aaa bbb", "ccc"}},
		{"character fallback", 4, 0, "abcdefghij", []string{"abcd", "efgh", "ij"}},
		{"overlap", 8, 4, "aa bb cc dd", []string{"aa bb cc", "cc dd"}},
		{"runes not bytes", 2, 0, "éééé", []string{"éé", "éé"}},
		{"blank", 10, 0, " \n\n ", []string{}},
		{
			"paragraphs before lines", 14, 0,
			"premier para\n\nsecond para\nsuite",
			[]string{"premier para", "second para", "suite"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewSplitter(tt.size, tt.overlap).Split(tt.text)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitterRespectsChunkSize(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("La solution nutritive doit être renouvelée régulièrement.")
		if i%5 == 4 {
			b.WriteString("\n\n")
		} else {
			b.WriteString(" ")
		}
	}

	chunks := NewSplitter(512, 0).Split(b.String())
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 512)
		assert.Equal(t, strings.TrimSpace(c), c)
	}
}

func writeJSONL(t *testing.T, articles ...models.Article) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "articles.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, a := range articles {
		require.NoError(t, enc.Encode(a))
	}
	_, err = f.WriteString("\n")
	require.NoError(t, err)
	return path
}

func TestLoadJSONL(t *testing.T) {
	path := writeJSONL(t,
		models.Article{URL: "https://x/1", Title: "Laitue", Markdown: "## pH\nEntre 5.5 et 6.5", Version: 1},
		models.Article{URL: "https://x/2", ListingTitle: "Tomate", Text: "EC 2.0", Version: 1},
		models.Article{URL: "https://x/1", Title: "Laitue", Markdown: "## pH\nEntre 5.8 et 6.2", Version: 2},
		models.Article{URL: "https://x/3"},
	)

	pages, err := Load(path)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "Laitue\n\n## pH\nEntre 5.8 et 6.2", pages[0].Text)
	assert.Equal(t, 2, pages[1].Number)
	assert.Equal(t, "Tomate\n\nEC 2.0", pages[1].Text)
	assert.Equal(t, "articles.jsonl", pages[1].Source)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("guide.docx")
	assert.ErrorContains(t, err, "unsupported")

	_, err = Load(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"url\": 1}\n"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "bad.jsonl:1")
}

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, c.err
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = c.Embed(ctx, t)
	}
	return out, nil
}

func TestIndexerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVectorStore()
	emb := &countingEmbedder{}
	ix := NewIndexer(NewSplitter(10, 0), emb, store, 2, zap.NewNop())

	pages := []Page{
		{Source: "guide.pdf", Number: 1, Text: "aaaa bbbb cccc"},
		{Source: "guide.pdf", Number: 2, Text: "dddd"},
	}

	n, err := ix.IndexPages(ctx, pages)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, emb.calls)

	_, err = ix.IndexPages(ctx, pages)
	require.NoError(t, err)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hits, err := store.Search(ctx, []float32{4, 1}, 10)
	require.NoError(t, err)
	pagesSeen := map[int]bool{}
	for _, h := range hits {
		pagesSeen[h.Page] = true
		assert.Equal(t, "guide.pdf", h.Source)
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, pagesSeen)
}

func TestIndexSources(t *testing.T) {
	path := writeJSONL(t, models.Article{URL: "https://x/1", Title: "Laitue", Text: "pH 6"})
	store := storage.NewMemoryVectorStore()
	ix := NewIndexer(NewSplitter(512, 0), &countingEmbedder{}, store, 0, nil)

	stats, err := ix.IndexSources(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, Stats{Sources: 1, Pages: 1, Chunks: 1}, stats)
}

func TestIndexerEmbedFailure(t *testing.T) {
	ix := NewIndexer(NewSplitter(512, 0), &countingEmbedder{err: errors.New("quota")}, storage.NewMemoryVectorStore(), 8, nil)
	_, err := ix.IndexPages(context.Background(), []Page{{Source: "s", Number: 1, Text: "x"}})
	assert.ErrorContains(t, err, "quota")
}
