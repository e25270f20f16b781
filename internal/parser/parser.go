// Package parser extracts links and content from fetched HTML documents.
package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mkwatanabe/sitewatch/internal/crawler"
)

// Selectors tried in order to locate the main content region. The first
// match wins; body is the fallback.
var contentSelectors = []string{
	"main",
	"article",
	"div#content",
	"div.content",
	"div#main",
	"div.main",
	"div.post-content",
	"div.entry-content",
	"div[role=main]",
}

// Elements stripped from the content region before conversion and
// fingerprinting: chrome, scripts, and ads carry no page meaning.
var excludeSelectors = []string{
	"header",
	"footer",
	"nav",
	"aside",
	"div.sidebar",
	"div.advertisement",
	"script",
	"style",
	"iframe",
	"noscript",
	"div.comment",
}

// Parser implements crawler.Parser using goquery.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse extracts the title, meta description, main content, outbound
// links, and the content fingerprint from body. Links are resolved to
// absolute form against baseURL; eligibility filtering is the caller's
// job. The fingerprint covers whitespace-collapsed text only, so markup
// churn does not register as a content change.
func (p *Parser) Parse(body []byte, baseURL string) (crawler.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ParseResult{}, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return crawler.ParseResult{}, fmt.Errorf("parse base url: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	metaDesc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")

	links := extractLinks(doc, base)

	content := selectContent(doc)
	for _, sel := range excludeSelectors {
		content.Find(sel).Remove()
	}

	contentHTML, err := goquery.OuterHtml(content)
	if err != nil {
		return crawler.ParseResult{}, fmt.Errorf("render content: %w", err)
	}

	text := NormalizeText(content.Text())

	return crawler.ParseResult{
		Title:           title,
		MetaDescription: strings.TrimSpace(metaDesc),
		ContentHTML:     contentHTML,
		Fingerprint:     Fingerprint(text),
		Links:           links,
		Size:            len(body),
	}, nil
}

// selectContent returns the best main-content selection for the page.
func selectContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range contentSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

// extractLinks collects a[href] targets resolved against base. Duplicate
// hrefs within one page are collapsed to keep frontier offers cheap.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// NormalizeText collapses all runs of whitespace to single spaces so the
// fingerprint is stable across formatting-only changes.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Fingerprint returns the hex SHA-256 digest of normalized text.
func Fingerprint(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return hex.EncodeToString(sum[:])
}
