package crawler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mkwatanabe/sitewatch/internal/diff"
	"github.com/mkwatanabe/sitewatch/internal/metrics"
)

// Config holds the settings for one crawl run. It is decoupled from the
// configuration loader so the engine can be driven directly in tests.
type Config struct {
	RunID       string
	SeedURL     string
	MaxPages    int
	Workers     int
	DiffEnabled bool
}

// RunResult is everything a run produces for downstream collaborators:
// the ordered page snapshots, the per-URL failure list, the diff against
// the previous run, and the summary counters.
type RunResult struct {
	Snapshots []Snapshot
	Failures  []Failure
	Diff      *diff.Result
	Previous  map[string]Snapshot
	Summary   Summary
}

// Scheduler owns the frontier, the dedup set, and the worker pool for a
// single run. It is constructed per run and torn down with it; there is
// no process-wide crawl state.
type Scheduler struct {
	cfg       Config
	filter    *URLFilter
	fetcher   Fetcher
	parser    Parser
	converter Converter
	cache     Cache
	clock     Clock
	logger    *zap.Logger

	state atomic.Int32

	mu        sync.Mutex
	snapshots map[string]Snapshot
	order     []string
	failures  []Failure
	skipped   int
	retries   int
}

// NewScheduler wires the collaborators for one run.
func NewScheduler(
	cfg Config,
	filter *URLFilter,
	fetcher Fetcher,
	parser Parser,
	converter Converter,
	cache Cache,
	clock Clock,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scheduler{
		cfg:       cfg,
		filter:    filter,
		fetcher:   fetcher,
		parser:    parser,
		converter: converter,
		cache:     cache,
		clock:     clock,
		logger:    logger,
		snapshots: make(map[string]Snapshot),
	}
}

// State reports the run's current lifecycle state.
func (s *Scheduler) State() RunState {
	return RunState(s.state.Load())
}

func (s *Scheduler) setState(state RunState) {
	s.state.Store(int32(state))
}

// Run executes the crawl: load the previous snapshot map, drive the
// worker pool over the frontier until it drains or the budget is hit,
// compute the diff, and commit the new snapshot map. A commit failure
// does not discard the crawl results; it is surfaced in the summary so
// the caller can report it prominently.
func (s *Scheduler) Run(ctx context.Context) (*RunResult, error) {
	start := s.clock.Now()
	s.setState(RunRunning)

	previous, err := s.cache.Load(ctx)
	if err != nil {
		s.setState(RunAborted)
		return nil, fmt.Errorf("load crawl cache: %w", err)
	}
	s.logger.Info("crawl starting",
		zap.String("run_id", s.cfg.RunID),
		zap.String("seed", s.cfg.SeedURL),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("max_pages", s.cfg.MaxPages),
		zap.Int("cached_pages", len(previous)),
	)

	seedKey, reason := s.filter.Check(s.cfg.SeedURL, "", 0)
	if reason != "" {
		s.setState(RunAborted)
		return nil, fmt.Errorf("seed url rejected: %s", reason)
	}

	fr := newFrontier(s.cfg.MaxPages)
	fr.Offer(URLRecord{URL: seedKey, Key: seedKey, Depth: 0})

	// Cancellation stops new dispatch; in-flight fetches finish or time
	// out on their own per-request deadlines.
	stopWatch := context.AfterFunc(ctx, fr.Close)
	defer stopWatch()

	g := new(errgroup.Group)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			metrics.WorkerStarted()
			defer metrics.WorkerStopped()
			s.workerLoop(ctx, fr, previous)
			return nil
		})
	}
	_ = g.Wait()

	result := s.collect(previous, start)

	if ctx.Err() != nil {
		s.logger.Warn("crawl canceled; committing partial results withheld",
			zap.String("run_id", s.cfg.RunID))
		result.Summary.CommitFailed = true
		s.setState(RunCompleted)
		result.Summary.State = RunCompleted
		return result, nil
	}

	entry := HistoryEntry{
		RunID:     s.cfg.RunID,
		CrawlDate: s.clock.Now(),
		PageCount: len(result.Snapshots),
		Duration:  s.clock.Now().Sub(start),
	}
	if result.Diff != nil {
		entry.NewCount = len(result.Diff.Added)
		entry.UpdatedCount = len(result.Diff.Changed)
		entry.DeletedCount = len(result.Diff.Removed)
	}

	current := make(map[string]Snapshot, len(s.snapshots))
	s.mu.Lock()
	for key, snap := range s.snapshots {
		current[key] = snap
	}
	s.mu.Unlock()

	if err := s.cache.Commit(ctx, current, entry); err != nil {
		// The crawl results are still good; only the persisted snapshot
		// is stale, which the next run's diff must not trust silently.
		s.logger.Error("cache commit failed; previous snapshot left intact",
			zap.String("run_id", s.cfg.RunID), zap.Error(err))
		result.Summary.CommitFailed = true
	}

	s.setState(RunCompleted)
	result.Summary.State = RunCompleted
	result.Summary.Duration = s.clock.Now().Sub(start)

	s.logger.Info("crawl finished",
		zap.String("run_id", s.cfg.RunID),
		zap.Int("done", result.Summary.Done),
		zap.Int("failed", result.Summary.Failed),
		zap.Int("skipped", result.Summary.Skipped),
		zap.Duration("duration", result.Summary.Duration),
	)
	return result, nil
}

func (s *Scheduler) workerLoop(ctx context.Context, fr *frontier, previous map[string]Snapshot) {
	for {
		rec, ok := fr.Pop()
		if !ok {
			// Dispatch has stopped; the first worker to notice flips the
			// run to draining while the rest finish their in-flight pages.
			s.state.CompareAndSwap(int32(RunRunning), int32(RunDraining))
			return
		}
		state := s.process(ctx, fr, rec, previous)
		fr.Finish(rec.Key, state)
	}
}

// process fetches, parses, and records one frontier entry, feeding newly
// discovered links back. A failure here affects only this entry.
func (s *Scheduler) process(ctx context.Context, fr *frontier, rec URLRecord, previous map[string]Snapshot) EntryState {
	prior := Validators{}
	prevSnap, hadPrev := previous[rec.Key]
	if hadPrev && prevSnap.Complete() {
		prior = prevSnap.Validators
	}

	res, err := s.fetcher.Fetch(ctx, rec.URL, prior)
	if err != nil {
		if ctx.Err() != nil {
			// Run shutdown abandoned this entry; it is not a page defect
			// and stays out of the failure report.
			return EntryFailed
		}
		s.recordFailure(rec, fmt.Sprintf("fetch: %v", err), res.Retries)
		return EntryFailed
	}
	s.addRetries(res.Retries)

	switch res.Outcome {
	case OutcomeNotModified:
		// Reuse the previous snapshot wholesale; the parser never runs.
		snap := prevSnap
		snap.FetchedAt = s.clock.Now()
		snap.NotModified = true
		snap.Retries = res.Retries
		s.recordSnapshot(snap)
		metrics.ObservePage(s.cfg.SeedURL, "not_modified", 0)
		return EntryDone

	case OutcomeRejected:
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.logger.Debug("url skipped",
			zap.String("url", rec.URL), zap.String("reason", res.Reason))
		metrics.ObservePage(s.cfg.SeedURL, "skipped", 0)
		return EntryFailed

	case OutcomeTransientFailure, OutcomePermanentFailure:
		s.recordFailure(rec, res.Reason, res.Retries)
		metrics.ObservePage(s.cfg.SeedURL, "failed", 0)
		return EntryFailed
	}

	parsed, err := s.parser.Parse(res.Body, rec.URL)
	if err != nil {
		// Malformed content fails the page with an empty link set; the
		// run continues.
		s.recordFailure(rec, fmt.Sprintf("parse: %v", err), res.Retries)
		metrics.ObservePage(s.cfg.SeedURL, "parse_failed", 0)
		return EntryFailed
	}

	markdown, err := s.converter.Convert(parsed, rec.URL)
	if err != nil {
		s.recordFailure(rec, fmt.Sprintf("convert: %v", err), res.Retries)
		return EntryFailed
	}

	s.recordSnapshot(Snapshot{
		Key:         rec.Key,
		URL:         rec.URL,
		Title:       parsed.Title,
		StatusCode:  res.StatusCode,
		Fingerprint: parsed.Fingerprint,
		Size:        len(res.Body),
		FetchedAt:   s.clock.Now(),
		Validators:  res.Validators,
		Markdown:    markdown,
		Retries:     res.Retries,
	})
	metrics.ObservePage(s.cfg.SeedURL, "done", len(res.Body))

	for _, link := range parsed.Links {
		key, reason := s.filter.Check(link, rec.URL, rec.Depth+1)
		if reason != "" {
			continue
		}
		fr.Offer(URLRecord{URL: key, Key: key, Depth: rec.Depth + 1, Source: rec.Key})
	}
	return EntryDone
}

func (s *Scheduler) recordSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[snap.Key]; !exists {
		s.order = append(s.order, snap.Key)
	}
	// Last writer wins; frontier dedup makes a second write unreachable
	// in practice.
	s.snapshots[snap.Key] = snap
}

func (s *Scheduler) recordFailure(rec URLRecord, reason string, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, Failure{
		Key:     rec.Key,
		URL:     rec.URL,
		Reason:  reason,
		Retries: retries,
	})
	s.retries += retries
	s.logger.Warn("page failed", zap.String("url", rec.URL), zap.String("reason", reason))
}

func (s *Scheduler) addRetries(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.retries += n
	s.mu.Unlock()
}

// collect assembles the run result after the frontier has drained. The
// diff is computed exactly once, over key→fingerprint maps.
func (s *Scheduler) collect(previous map[string]Snapshot, start time.Time) *RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(s.order))
	for _, key := range s.order {
		snapshots = append(snapshots, s.snapshots[key])
	}
	failures := make([]Failure, len(s.failures))
	copy(failures, s.failures)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Key < failures[j].Key })

	result := &RunResult{
		Snapshots: snapshots,
		Failures:  failures,
		Previous:  previous,
		Summary: Summary{
			RunID:    s.cfg.RunID,
			Seed:     s.cfg.SeedURL,
			Done:     len(snapshots),
			Failed:   len(failures),
			Skipped:  s.skipped,
			Retries:  s.retries,
			Duration: s.clock.Now().Sub(start),
		},
	}

	if s.cfg.DiffEnabled {
		prevPrints := make(map[string]string, len(previous))
		for key, snap := range previous {
			prevPrints[key] = snap.Fingerprint
		}
		curPrints := make(map[string]string, len(s.snapshots))
		for key, snap := range s.snapshots {
			curPrints[key] = snap.Fingerprint
		}
		d := diff.Classify(prevPrints, curPrints)
		result.Diff = &d
	}
	return result
}
