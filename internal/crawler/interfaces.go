package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a URL, honoring the politeness gate, robots policy,
// and retry policy. Prior validators enable a conditional request; a
// not-modified response is reported via the result's Outcome tag.
type Fetcher interface {
	Fetch(ctx context.Context, url string, prior Validators) (FetchResult, error)
}

// Parser extracts links and content from a fetched HTML document. The
// fingerprint must be stable across markup-only churn.
type Parser interface {
	Parse(body []byte, baseURL string) (ParseResult, error)
}

// Converter renders extracted page content as Markdown. Conversion rules
// live outside the engine; only the returned string matters here.
type Converter interface {
	Convert(page ParseResult, pageURL string) (string, error)
}

// Cache persists the previous run's snapshots. Load never mutates state;
// Commit atomically replaces the whole store.
type Cache interface {
	Load(ctx context.Context) (map[string]Snapshot, error)
	Commit(ctx context.Context, snapshots map[string]Snapshot, entry HistoryEntry) error
}

// Clock returns the current time (swapped out in tests).
type Clock interface {
	Now() time.Time
}
