package models

import "time"

// Section is a heading-delimited part of an article body. The intro before
// the first heading has an empty Heading and Level 0.
type Section struct {
	Heading   string `json:"heading,omitempty"`
	Level     int    `json:"level,omitempty"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

// Image is an illustration found in an article.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// Article is one scraped page, written as a JSONL record. A changed article
// is appended again with an incremented Version.
type Article struct {
	URL          string `json:"url"`
	CanonicalURL string `json:"canonical_url,omitempty"`

	ListingTitle    string `json:"listing_title,omitempty"`
	ListingExcerpt  string `json:"listing_excerpt,omitempty"`
	ListingDate     string `json:"listing_date,omitempty"`
	ListingCategory string `json:"listing_category,omitempty"`
	ListingImage    *Image `json:"listing_image,omitempty"`

	Title           string    `json:"title,omitempty"`
	Author          string    `json:"author,omitempty"`
	PublishedAt     string    `json:"published_at,omitempty"`
	MetaDescription string    `json:"meta_description,omitempty"`
	Categories      []string  `json:"categories"`
	Tags            []string  `json:"tags"`
	Headings        []string  `json:"headings"`
	Sections        []Section `json:"sections"`
	Text            string    `json:"text"`
	Markdown        string    `json:"markdown,omitempty"`
	WordCount       int       `json:"word_count"`
	Images          []Image   `json:"images"`
	InternalLinks   []string  `json:"internal_links"`
	ExternalLinks   []string  `json:"external_links"`

	Hash         string    `json:"hash"`
	Version      int       `json:"version"`
	PreviousHash string    `json:"previous_hash,omitempty"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// IndexText is the text the indexer embeds for this article.
func (a *Article) IndexText() string {
	body := a.Markdown
	if body == "" {
		body = a.Text
	}
	title := a.Title
	if title == "" {
		title = a.ListingTitle
	}
	if title == "" {
		return body
	}
	return title + "\n\n" + body
}
