// Package markdown renders extracted page content as Markdown. The
// crawl engine consumes it only through the crawler.Converter interface;
// conversion rules can evolve without touching the engine.
package markdown

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/mkwatanabe/sitewatch/internal/crawler"
)

// Converter implements crawler.Converter with a compact element walker.
type Converter struct{}

// New creates a Converter.
func New() *Converter {
	return &Converter{}
}

// Convert renders page content as a Markdown document headed by the page
// title, meta description, and source URL. Relative image and link
// targets are resolved against pageURL.
func (c *Converter) Convert(page crawler.ParseResult, pageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.ContentHTML))
	if err != nil {
		return "", fmt.Errorf("parse content html: %w", err)
	}

	var b strings.Builder
	title := page.Title
	if title == "" {
		title = "No Title"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if page.MetaDescription != "" {
		fmt.Fprintf(&b, "*%s*\n\n", page.MetaDescription)
	}
	fmt.Fprintf(&b, "*Source: %s*\n\n", pageURL)

	w := &walker{base: base}
	for _, node := range doc.Selection.Nodes {
		w.walk(&b, node)
	}

	return tidy(b.String()), nil
}

type walker struct {
	base *url.URL
}

func (w *walker) walk(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(collapse(n.Data))
		return
	case html.ElementNode:
		w.element(b, n)
		return
	default:
		w.children(b, n)
	}
}

func (w *walker) children(b *strings.Builder, n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		w.walk(b, child)
	}
}

func (w *walker) element(b *strings.Builder, n *html.Node) {
	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		b.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		w.children(b, n)
		b.WriteString("\n\n")
	case "p", "div", "section", "article":
		b.WriteString("\n\n")
		w.children(b, n)
		b.WriteString("\n\n")
	case "br":
		b.WriteString("\n")
	case "hr":
		b.WriteString("\n\n---\n\n")
	case "ul", "ol":
		b.WriteString("\n\n")
		index := 1
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode || child.Data != "li" {
				continue
			}
			if n.Data == "ol" {
				fmt.Fprintf(b, "%d. ", index)
				index++
			} else {
				b.WriteString("* ")
			}
			w.children(b, child)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	case "a":
		href := attr(n, "href")
		var inner strings.Builder
		w.children(&inner, n)
		text := strings.TrimSpace(inner.String())
		if href == "" || strings.HasPrefix(href, "#") {
			b.WriteString(text)
			return
		}
		fmt.Fprintf(b, "[%s](%s)", text, w.resolve(href))
	case "img":
		src := attr(n, "src")
		if src == "" {
			return
		}
		fmt.Fprintf(b, "![%s](%s)", attr(n, "alt"), w.resolve(src))
	case "strong", "b":
		b.WriteString("**")
		w.children(b, n)
		b.WriteString("**")
	case "em", "i":
		b.WriteString("*")
		w.children(b, n)
		b.WriteString("*")
	case "code":
		if n.Parent != nil && n.Parent.Data == "pre" {
			w.children(b, n)
			return
		}
		b.WriteString("`")
		w.children(b, n)
		b.WriteString("`")
	case "pre":
		b.WriteString("\n\n```\n")
		b.WriteString(strings.TrimRight(rawText(n), "\n"))
		b.WriteString("\n```\n\n")
	case "blockquote":
		var inner strings.Builder
		w.children(&inner, n)
		b.WriteString("\n\n")
		for _, line := range strings.Split(strings.TrimSpace(inner.String()), "\n") {
			b.WriteString("> " + line + "\n")
		}
		b.WriteString("\n")
	case "table":
		w.table(b, n)
	case "script", "style", "iframe", "noscript":
		// dropped entirely
	default:
		w.children(b, n)
	}
}

// table renders rows as a pipe table, padding short rows so every row
// has the same cell count.
func (w *walker) table(b *strings.Builder, n *html.Node) {
	var rows [][]string
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "tr" {
			var cells []string
			for cell := node.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
					var inner strings.Builder
					w.children(&inner, cell)
					cells = append(cells, strings.TrimSpace(collapse(inner.String())))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)

	if len(rows) == 0 {
		return
	}
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	b.WriteString("\n\n")
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
		}
	}
	b.WriteString("\n")
}

func (w *walker) resolve(ref string) string {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return w.base.ResolveReference(parsed).String()
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func rawText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	return b.String()
}

// collapse squeezes runs of whitespace to a single space, keeping the
// leading/trailing space when the fragment had one so words joined from
// adjacent nodes stay separated.
func collapse(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	out := strings.Join(fields, " ")
	if s[0] == ' ' || s[0] == '\n' || s[0] == '\t' {
		out = " " + out
	}
	last := s[len(s)-1]
	if last == ' ' || last == '\n' || last == '\t' {
		out += " "
	}
	return out
}

// tidy compacts runs of three or more newlines into paragraph breaks.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n")) + "\n"
}
