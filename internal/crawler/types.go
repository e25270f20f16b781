// Package crawler implements the crawl engine: the URL frontier, the
// worker scheduler, politeness pacing, and the types shared between the
// fetch, parse, cache, and diff subsystems.
package crawler

import (
	"time"
)

// EntryState is the lifecycle state of a frontier entry.
type EntryState int

// Frontier entry states. Done and Failed are terminal.
const (
	EntryPending EntryState = iota
	EntryInFlight
	EntryDone
	EntryFailed
)

// RunState is the lifecycle state of a crawl run.
type RunState int32

// Run states. Aborted is reached only when the run's output would be
// untrustworthy, e.g. the cache could not be loaded.
const (
	RunIdle RunState = iota
	RunRunning
	RunDraining
	RunCompleted
	RunAborted
)

// String implements fmt.Stringer for log output.
func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunDraining:
		return "draining"
	case RunCompleted:
		return "completed"
	case RunAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// URLRecord identifies one discovered URL within a run. Identity is the
// normalized key; records are never mutated after discovery.
type URLRecord struct {
	URL    string
	Key    string
	Depth  int
	Source string
}

// Validators holds the HTTP validator tokens used for conditional refetch.
type Validators struct {
	ETag         string
	LastModified string
}

// Empty reports whether no validator token is available.
func (v Validators) Empty() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Snapshot is the recorded result of fetching and parsing one URL in one
// run. Exactly one snapshot exists per normalized key per run.
type Snapshot struct {
	Key         string
	URL         string
	Title       string
	StatusCode  int
	Fingerprint string
	Size        int
	FetchedAt   time.Time
	Validators  Validators
	Markdown    string
	NotModified bool
	Retries     int
}

// Complete reports whether the snapshot carries everything a later run
// needs to reuse it on a 304 response. Rows written by an older cache
// schema may be partial; those are treated as cache misses.
func (s Snapshot) Complete() bool {
	return s.Fingerprint != "" && s.Markdown != ""
}

// Failure records a URL that could not be crawled, with the reason and
// how many retries were spent on it.
type Failure struct {
	Key     string
	URL     string
	Reason  string
	Retries int
}

// Outcome tags a fetch result so callers switch on the variant instead of
// inspecting status codes ad hoc.
type Outcome int

// Fetch outcome variants.
const (
	OutcomeSuccess Outcome = iota
	OutcomeNotModified
	OutcomeTransientFailure
	OutcomePermanentFailure
	OutcomeRejected
)

// FetchResult is the tagged result of fetching one URL, after the retry
// policy has been exhausted or a terminal response arrived.
type FetchResult struct {
	Outcome    Outcome
	StatusCode int
	Body       []byte
	Validators Validators
	Reason     string
	Retries    int
	Duration   time.Duration
	RetryAfter time.Duration
}

// ParseResult carries everything extracted from one HTML document.
type ParseResult struct {
	Title           string
	MetaDescription string
	ContentHTML     string
	Fingerprint     string
	Links           []string
	Size            int
}

// HistoryEntry summarizes one completed run for the crawl history table.
type HistoryEntry struct {
	RunID        string
	CrawlDate    time.Time
	PageCount    int
	NewCount     int
	UpdatedCount int
	DeletedCount int
	Duration     time.Duration
}

// Summary is the user-visible accounting for one run.
type Summary struct {
	RunID        string
	Seed         string
	State        RunState
	Done         int
	Failed       int
	Skipped      int
	Retries      int
	Duration     time.Duration
	CommitFailed bool
}
