// Package ingest builds the document index from PDF guides and scraped
// article exports.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"hydrocare-rag/internal/models"
)

// Page is a unit of source text with the page number citations refer to.
type Page struct {
	Source string
	Number int // 1-based
	Text   string
}

// Load reads a source by extension: .pdf page by page, .jsonl one page per
// article record.
func Load(path string) ([]Page, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return LoadPDF(path)
	case ".jsonl":
		return LoadJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", path)
	}
}

// LoadPDF extracts plain text from each page. Pages without text are skipped
// but keep their numbering.
func LoadPDF(path string) ([]Page, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	source := filepath.Base(path)
	pageCount := reader.NumPage()
	pages := make([]Page, 0, pageCount)

	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Source: source, Number: i, Text: text})
	}

	return pages, nil
}

// LoadJSONL reads scraped articles. Only the latest version of each URL is
// kept, numbered by its first appearance in the file.
func LoadJSONL(path string) ([]Page, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL: %w", err)
	}
	defer file.Close()

	source := filepath.Base(path)
	var (
		pages []Page
		index = make(map[string]int)
	)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var article models.Article
		if err := json.Unmarshal([]byte(raw), &article); err != nil {
			return nil, fmt.Errorf("%s:%d: invalid record: %w", source, line, err)
		}
		text := article.IndexText()
		if strings.TrimSpace(text) == "" {
			continue
		}

		if i, ok := index[article.URL]; ok && article.URL != "" {
			pages[i].Text = text
			continue
		}
		index[article.URL] = len(pages)
		pages = append(pages, Page{Source: source, Number: len(pages) + 1, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}

	return pages, nil
}
