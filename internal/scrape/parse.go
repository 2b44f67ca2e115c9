package scrape

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"hydrocare-rag/internal/models"
)

// Card is an article teaser from a category listing page.
type Card struct {
	URL      string
	Title    string
	Excerpt  string
	Date     string
	Category string
	Image    *models.Image
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// PageURL returns the listing URL for page n of a WordPress category.
func PageURL(base string, n int) string {
	if n <= 1 {
		return base
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return fmt.Sprintf("%spage/%d/", base, n)
}

// ParseListing extracts article cards, deduplicated by URL in page order.
// Relative links are resolved against base.
func ParseListing(html string, base *url.URL) ([]Card, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}

	var cards []Card
	seen := make(map[string]bool)

	doc.Find("article").Each(func(_ int, art *goquery.Selection) {
		link := art.Find("h2 a, h3 a, a.more-link, a.read-more").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		abs := resolve(base, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true

		card := Card{
			URL:      abs,
			Title:    cleanText(link.Text()),
			Excerpt:  cleanText(art.Find(".entry-summary, .post-excerpt, .excerpt, p").First().Text()),
			Category: cleanText(art.Find("a[rel='category tag'], .cat-links a").First().Text()),
			Date:     timeValue(art.Find("time").First()),
		}
		if img := art.Find("img").First(); img.Length() > 0 {
			src, _ := img.Attr("src")
			alt, _ := img.Attr("alt")
			card.Image = &models.Image{Src: src, Alt: strings.TrimSpace(alt)}
		}
		cards = append(cards, card)
	})

	return cards, nil
}

// ParseDetail extracts the article body, structure and links. Links are
// internal when they point at the same host as pageURL.
func ParseDetail(html string, pageURL *url.URL) (*models.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse article: %w", err)
	}

	// The title may sit in a header that sanitizing removes.
	title := cleanText(doc.Find("h1.entry-title, h1").First().Text())
	if title == "" {
		if cand := cleanText(doc.Find("article strong, main strong").First().Text()); len(strings.Fields(cand)) > 4 {
			title = cand
		}
	}

	doc.Find("script, style, noscript, form, nav, header, footer, aside").Remove()

	a := &models.Article{
		URL:             pageURL.String(),
		Title:           title,
		MetaDescription: metaDescription(doc),
		Categories:      texts(doc.Find("a[rel='category tag']")),
		Tags:            texts(doc.Find("a[rel='tag']")),
		Headings:        []string{},
		Images:          []models.Image{},
		InternalLinks:   []string{},
		ExternalLinks:   []string{},
	}
	if href, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok {
		a.CanonicalURL = strings.TrimSpace(href)
	}
	a.Author = cleanText(doc.Find(".author a, .byline a, a[rel='author'], span.author").First().Text())
	a.PublishedAt = timeValue(doc.Find("time").First())

	content := doc.Find("article .entry-content, .entry-content, main").First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}

	a.Sections = splitSections(content)
	parts := make([]string, 0, len(a.Sections))
	for _, s := range a.Sections {
		if s.Heading != "" {
			a.Headings = append(a.Headings, s.Heading)
		}
		parts = append(parts, s.Text)
	}
	a.Text = strings.Join(parts, "\n\n")
	a.WordCount = len(wordRe.FindAllString(a.Text, -1))

	if inner, err := goquery.OuterHtml(content); err == nil {
		if markdown, err := md.NewConverter(pageURL.Host, true, nil).ConvertString(inner); err == nil {
			a.Markdown = strings.TrimSpace(markdown)
		}
	}

	seenImg := make(map[string]bool)
	content.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" || seenImg[src] {
			return
		}
		seenImg[src] = true
		alt, _ := img.Attr("alt")
		a.Images = append(a.Images, models.Image{Src: src, Alt: strings.TrimSpace(alt)})
	})

	seenLink := make(map[string]bool)
	content.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		u, err := url.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || seenLink[href] {
			return
		}
		seenLink[href] = true
		if u.Host == pageURL.Host {
			a.InternalLinks = append(a.InternalLinks, href)
		} else {
			a.ExternalLinks = append(a.ExternalLinks, href)
		}
	})

	a.Hash = ContentHash(a.Title, a.Text)
	return a, nil
}

// ContentHash fingerprints an article for change detection.
func ContentHash(title, text string) string {
	sum := md5.Sum([]byte(title + text))
	return hex.EncodeToString(sum[:])
}

// splitSections cuts content at h2-h4 headings. Text before the first
// heading becomes an untitled section.
func splitSections(content *goquery.Selection) []models.Section {
	var (
		sections []models.Section
		heading  string
		level    int
		lines    []string
		started  bool
	)

	flush := func() {
		if !started && len(lines) == 0 {
			return
		}
		text := strings.Join(lines, "\n")
		sections = append(sections, models.Section{
			Heading:   heading,
			Level:     level,
			Text:      text,
			WordCount: len(wordRe.FindAllString(text, -1)),
		})
	}

	content.Children().Each(func(_ int, child *goquery.Selection) {
		name := goquery.NodeName(child)
		switch name {
		case "h2", "h3", "h4":
			flush()
			lines = nil
			started = true
			heading = cleanText(child.Text())
			level = int(name[1] - '0')
		default:
			if t := cleanText(child.Text()); t != "" {
				lines = append(lines, t)
			}
		}
	})
	flush()

	return sections
}

func metaDescription(doc *goquery.Document) string {
	if c, ok := doc.Find("meta[name='description']").First().Attr("content"); ok && strings.TrimSpace(c) != "" {
		return strings.TrimSpace(c)
	}
	if c, ok := doc.Find("meta[property='og:description']").First().Attr("content"); ok {
		return strings.TrimSpace(c)
	}
	return ""
}

func timeValue(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if dt, ok := sel.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
		return strings.TrimSpace(dt)
	}
	return cleanText(sel.Text())
}

func texts(sel *goquery.Selection) []string {
	out := []string{}
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := cleanText(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
