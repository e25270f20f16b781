package crawler

import (
	"sync"
)

// frontier owns the pending queue and the dedup set for one run. The
// queue is FIFO by discovery order so exploration stays roughly
// breadth-first. All mutation happens under a single mutex; Offer's
// check-and-insert is atomic, which guarantees a normalized key is
// dispatched at most once even under concurrent discovery.
type frontier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    []URLRecord
	seen       map[string]struct{}
	states     map[string]EntryState
	inFlight   int
	budget     int
	dispatched int
	closed     bool
}

func newFrontier(budget int) *frontier {
	f := &frontier{
		seen:   make(map[string]struct{}),
		states: make(map[string]EntryState),
		budget: budget,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Offer inserts rec unless its key was already seen this run or the
// frontier has stopped accepting work. Returns true if the record was
// queued.
func (f *frontier) Offer(rec URLRecord) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if _, dup := f.seen[rec.Key]; dup {
		return false
	}
	f.seen[rec.Key] = struct{}{}
	f.states[rec.Key] = EntryPending
	f.pending = append(f.pending, rec)
	f.cond.Broadcast()
	return true
}

// Pop blocks until a pending entry is available, marking it in flight.
// It returns false when the run is over for the caller: the frontier is
// closed, the page budget is exhausted, or the queue is empty with no
// work in flight that could produce more.
func (f *frontier) Pop() (URLRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed || f.budgetReached() {
			return URLRecord{}, false
		}
		if len(f.pending) > 0 {
			rec := f.pending[0]
			f.pending = f.pending[1:]
			f.states[rec.Key] = EntryInFlight
			f.inFlight++
			f.dispatched++
			return rec, true
		}
		if f.inFlight == 0 {
			return URLRecord{}, false
		}
		f.cond.Wait()
	}
}

// Finish moves an in-flight entry to its terminal state and wakes any
// worker waiting for the queue to drain.
func (f *frontier) Finish(key string, state EntryState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[key] = state
	f.inFlight--
	f.cond.Broadcast()
}

// Close stops new dispatch immediately. In-flight work is unaffected.
func (f *frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

func (f *frontier) budgetReached() bool {
	return f.budget > 0 && f.dispatched >= f.budget
}

// Dispatched reports how many entries have been handed to workers.
func (f *frontier) Dispatched() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatched
}
