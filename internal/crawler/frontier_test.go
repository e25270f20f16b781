package crawler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrontierDedup(t *testing.T) {
	t.Parallel()
	fr := newFrontier(0)

	require.True(t, fr.Offer(URLRecord{Key: "https://example.com/a"}))
	require.False(t, fr.Offer(URLRecord{Key: "https://example.com/a"}))
	require.True(t, fr.Offer(URLRecord{Key: "https://example.com/b"}))

	rec, ok := fr.Pop()
	require.True(t, ok)
	require.Equal(t, "https://example.com/a", rec.Key)
	rec, ok = fr.Pop()
	require.True(t, ok)
	require.Equal(t, "https://example.com/b", rec.Key)
}

func TestFrontierFIFO(t *testing.T) {
	t.Parallel()
	fr := newFrontier(0)
	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		fr.Offer(URLRecord{Key: k})
	}
	for _, want := range keys {
		rec, ok := fr.Pop()
		require.True(t, ok)
		require.Equal(t, want, rec.Key)
		fr.Finish(rec.Key, EntryDone)
	}
}

func TestFrontierBudget(t *testing.T) {
	t.Parallel()
	fr := newFrontier(2)
	for _, k := range []string{"a", "b", "c"} {
		fr.Offer(URLRecord{Key: k})
	}

	_, ok := fr.Pop()
	require.True(t, ok)
	_, ok = fr.Pop()
	require.True(t, ok)
	_, ok = fr.Pop()
	require.False(t, ok, "budget of 2 must stop the third dispatch")
	require.Equal(t, 2, fr.Dispatched())
}

func TestFrontierDrainsWhenIdle(t *testing.T) {
	t.Parallel()
	fr := newFrontier(0)
	// Empty queue, nothing in flight: Pop must not block.
	_, ok := fr.Pop()
	require.False(t, ok)
}

func TestFrontierPopWaitsForInFlightWork(t *testing.T) {
	t.Parallel()
	fr := newFrontier(0)
	fr.Offer(URLRecord{Key: "a"})

	rec, ok := fr.Pop()
	require.True(t, ok)

	// Second worker blocks: queue empty but "a" is in flight and may
	// still discover links.
	got := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if rec, ok := fr.Pop(); ok {
			got <- rec.Key
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	fr.Offer(URLRecord{Key: "b"})
	fr.Finish(rec.Key, EntryDone)
	wg.Wait()

	key, open := <-got
	require.True(t, open)
	require.Equal(t, "b", key)
}

func TestFrontierPopReturnsWhenLastWorkerFinishes(t *testing.T) {
	t.Parallel()
	fr := newFrontier(0)
	fr.Offer(URLRecord{Key: "a"})

	rec, ok := fr.Pop()
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		_, ok := fr.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	fr.Finish(rec.Key, EntryDone)

	select {
	case ok := <-done:
		require.False(t, ok, "Pop must return false once the frontier is idle")
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not unblock after the last in-flight entry finished")
	}
}

func TestFrontierCloseUnblocksAndRejects(t *testing.T) {
	t.Parallel()
	fr := newFrontier(0)
	fr.Offer(URLRecord{Key: "a"})
	_, ok := fr.Pop()
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		_, ok := fr.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	fr.Close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not unblock on Close")
	}
	require.False(t, fr.Offer(URLRecord{Key: "b"}), "closed frontier must reject offers")
}

func TestFrontierConcurrentOfferDispatchesOnce(t *testing.T) {
	t.Parallel()
	fr := newFrontier(0)

	var wg sync.WaitGroup
	accepted := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted <- fr.Offer(URLRecord{Key: "same"})
		}()
	}
	wg.Wait()
	close(accepted)

	count := 0
	for ok := range accepted {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one concurrent offer of the same key may win")
}
