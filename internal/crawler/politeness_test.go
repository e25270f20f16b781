package crawler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateSpacesRequests(t *testing.T) {
	t.Parallel()
	const delay = 50 * time.Millisecond
	g := NewGate(delay)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := g.Wait(ctx)
		require.NoError(t, err)
	}
	// First ticket is free (burst 1); the next two must each wait the
	// full delay.
	require.GreaterOrEqual(t, time.Since(start), 2*delay)
}

func TestGateSpacesRequestsAcrossWorkers(t *testing.T) {
	t.Parallel()
	const (
		delay   = 50 * time.Millisecond
		workers = 4
		perWork = 3
	)
	g := NewGate(delay)

	var (
		mu     sync.Mutex
		grants []time.Time
		errs   []error
		wg     sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWork; j++ {
				_, err := g.Wait(context.Background())
				now := time.Now()
				mu.Lock()
				grants = append(grants, now)
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, grants, workers*perWork)

	// The gate spaces grants regardless of how many workers contend for
	// it. Allow a small margin for the gap between the grant and the
	// timestamp being taken.
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	for i := 1; i < len(grants); i++ {
		require.GreaterOrEqual(t, grants[i].Sub(grants[i-1]), delay-10*time.Millisecond)
	}
}

func TestGateZeroDelayDoesNotBlock(t *testing.T) {
	t.Parallel()
	g := NewGate(0)

	start := time.Now()
	for i := 0; i < 100; i++ {
		_, err := g.Wait(context.Background())
		require.NoError(t, err)
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGateSlowDoublesDelay(t *testing.T) {
	t.Parallel()
	g := NewGate(100 * time.Millisecond)

	g.Slow()
	require.Equal(t, 200*time.Millisecond, g.Delay())
	g.Slow()
	require.Equal(t, 400*time.Millisecond, g.Delay())
}

func TestGateSlowIsCapped(t *testing.T) {
	t.Parallel()
	g := NewGate(45 * time.Second)

	g.Slow()
	require.Equal(t, time.Minute, g.Delay())
	g.Slow()
	require.Equal(t, time.Minute, g.Delay())
}

func TestGateSlowFromUnlimited(t *testing.T) {
	t.Parallel()
	g := NewGate(0)

	g.Slow()
	require.Equal(t, time.Second, g.Delay())
}

func TestGateWaitHonorsContext(t *testing.T) {
	t.Parallel()
	g := NewGate(10 * time.Second)

	ctx := context.Background()
	_, err := g.Wait(ctx) // consume the burst ticket
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = g.Wait(ctx)
	require.Error(t, err)
}
