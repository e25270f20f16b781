// Package export writes run artifacts: the combined site document, the
// change report, and the run summary.
package export

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"go.uber.org/zap"

	"github.com/mkwatanabe/sitewatch/internal/crawler"
	"github.com/mkwatanabe/sitewatch/internal/diff"
	"github.com/mkwatanabe/sitewatch/internal/storage"
)

// Exporter renders run artifacts and hands them to the artifact store.
type Exporter struct {
	store  storage.Provider
	logger *zap.Logger
}

// New creates an Exporter.
func New(store storage.Provider, logger *zap.Logger) *Exporter {
	return &Exporter{store: store, logger: logger}
}

// ExportSite writes the combined Markdown mirror of every Done page,
// headed by a table of contents, and returns the artifact URI.
func (e *Exporter) ExportSite(ctx context.Context, result *crawler.RunResult) (string, error) {
	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)

	md.H1("Table of Contents")
	items := make([]string, 0, len(result.Snapshots))
	for i, snap := range result.Snapshots {
		title := snap.Title
		if title == "" {
			title = snap.Key
		}
		items = append(items, fmt.Sprintf("%d. [%s](#%s)", i+1, title, anchor(title)))
	}
	md.PlainText(strings.Join(items, "\n"))
	if err := md.Build(); err != nil {
		return "", fmt.Errorf("build toc: %w", err)
	}

	for _, snap := range result.Snapshots {
		buf.WriteString("\n\n---\n\n")
		buf.WriteString(snap.Markdown)
	}

	uri, err := e.store.Save(ctx, "site.md", buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("save site document: %w", err)
	}
	e.logger.Info("site document written", zap.String("uri", uri))
	return uri, nil
}

// ExportDiffReport writes the change report: counts, per-class URL
// lists, and unified diffs for changed pages.
func (e *Exporter) ExportDiffReport(ctx context.Context, result *crawler.RunResult, previous map[string]crawler.Snapshot) (string, error) {
	if result.Diff == nil {
		return "", nil
	}
	d := result.Diff

	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)

	md.H1("Change Report - " + time.Now().Format("2006-01-02 15:04:05"))
	md.H2("Summary")
	md.Table(markdown.TableSet{
		Header: []string{"Class", "Count"},
		Rows: [][]string{
			{"Added", strconv.Itoa(len(d.Added))},
			{"Changed", strconv.Itoa(len(d.Changed))},
			{"Removed", strconv.Itoa(len(d.Removed))},
			{"Unchanged", strconv.Itoa(d.Unchanged)},
		},
	})

	writeURLSection(md, "Added Pages", d.Added, true)
	writeURLSection(md, "Changed Pages", d.Changed, true)
	writeURLSection(md, "Removed Pages", d.Removed, false)

	if len(d.Changed) > 0 {
		md.H2("Details")
		current := make(map[string]crawler.Snapshot, len(result.Snapshots))
		for _, snap := range result.Snapshots {
			current[snap.Key] = snap
		}
		for _, key := range d.Changed {
			prev, curr := previous[key], current[key]
			text, err := diff.Unified(prev.Markdown, curr.Markdown)
			if err != nil {
				e.logger.Warn("render page diff failed", zap.String("url", key), zap.Error(err))
				continue
			}
			md.H3(key)
			md.CodeBlocks(markdown.SyntaxHighlightDiff, text)
		}
	}

	if err := md.Build(); err != nil {
		return "", fmt.Errorf("build diff report: %w", err)
	}
	uri, err := e.store.Save(ctx, "diff_report.md", buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("save diff report: %w", err)
	}
	e.logger.Info("change report written", zap.String("uri", uri))
	return uri, nil
}

// ExportSummary writes the run summary, including the failure list and
// an explicit flag when the cache commit did not happen.
func (e *Exporter) ExportSummary(ctx context.Context, result *crawler.RunResult) (string, error) {
	s := result.Summary

	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)

	md.H1("Crawl Summary - " + time.Now().Format("2006-01-02 15:04:05"))
	rows := [][]string{
		{"Run ID", s.RunID},
		{"Seed", s.Seed},
		{"Done", strconv.Itoa(s.Done)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Skipped", strconv.Itoa(s.Skipped)},
		{"Retries", strconv.Itoa(s.Retries)},
		{"Duration", s.Duration.Round(time.Second).String()},
	}
	if s.CommitFailed {
		rows = append(rows, []string{"Cache Commit", "FAILED - next diff will compare against a stale snapshot"})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Field", "Value"},
		Rows:   rows,
	})

	if len(result.Failures) > 0 {
		md.H2("Failed Pages")
		failRows := make([][]string, 0, len(result.Failures))
		for _, f := range result.Failures {
			failRows = append(failRows, []string{f.URL, f.Reason, strconv.Itoa(f.Retries)})
		}
		md.Table(markdown.TableSet{
			Header: []string{"URL", "Reason", "Retries"},
			Rows:   failRows,
		})
	}

	if err := md.Build(); err != nil {
		return "", fmt.Errorf("build summary: %w", err)
	}
	uri, err := e.store.Save(ctx, "summary.md", buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("save summary: %w", err)
	}
	e.logger.Info("run summary written", zap.String("uri", uri))
	return uri, nil
}

func writeURLSection(md *markdown.Markdown, title string, keys []string, linked bool) {
	if len(keys) == 0 {
		return
	}
	md.H2(title)
	items := make([]string, 0, len(keys))
	for _, key := range keys {
		if linked {
			items = append(items, fmt.Sprintf("[%s](%s)", key, key))
		} else {
			items = append(items, key)
		}
	}
	md.BulletList(items...)
}

var anchorStrip = regexp.MustCompile(`[^\w\- ]`)
var anchorDash = regexp.MustCompile(`[\- ]+`)

// anchor derives a GitHub-style heading anchor from a title.
func anchor(title string) string {
	a := anchorStrip.ReplaceAllString(strings.ToLower(title), "")
	a = anchorDash.ReplaceAllString(a, "-")
	return strings.Trim(a, "-")
}
