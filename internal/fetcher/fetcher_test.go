package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkwatanabe/sitewatch/internal/crawler"
)

func newTestClient(respectRobots bool) *Client {
	return New(Config{
		UserAgent:       "sitewatch-test/1.0",
		Timeout:         5 * time.Second,
		FollowRedirects: true,
		RespectRobots:   respectRobots,
	},
		crawler.NewGate(0),
		crawler.NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond),
		zap.NewNop(),
	)
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	res, err := newTestClient(false).Fetch(context.Background(), srv.URL+"/page", crawler.Validators{})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeSuccess, res.Outcome)
	require.Equal(t, 200, res.StatusCode)
	require.Contains(t, string(res.Body), "hello")
	require.Equal(t, `"v1"`, res.Validators.ETag)
	require.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", res.Validators.LastModified)
	require.Equal(t, 0, res.Retries)
	require.Equal(t, "sitewatch-test/1.0", gotUA.Load())
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>up</html>"))
	}))
	defer srv.Close()

	res, err := newTestClient(false).Fetch(context.Background(), srv.URL+"/flaky", crawler.Validators{})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeSuccess, res.Outcome)
	require.Equal(t, 3, res.Retries)
	require.EqualValues(t, 4, calls.Load())
}

func TestFetchTransientExhaustionIsPermanent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res, err := newTestClient(false).Fetch(context.Background(), srv.URL+"/down", crawler.Validators{})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomePermanentFailure, res.Outcome)
	require.Equal(t, 3, res.Retries)
	require.Contains(t, res.Reason, "status 502")
}

func TestFetchClientErrorIsPermanentWithoutRetry(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res, err := newTestClient(false).Fetch(context.Background(), srv.URL+"/missing", crawler.Validators{})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomePermanentFailure, res.Outcome)
	require.Equal(t, 404, res.StatusCode)
	require.EqualValues(t, 1, calls.Load(), "4xx responses must not be retried")
}

func TestFetchConditionalGet(t *testing.T) {
	t.Parallel()
	var gotETag, gotModified atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotETag.Store(r.Header.Get("If-None-Match"))
		gotModified.Store(r.Header.Get("If-Modified-Since"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	prior := crawler.Validators{ETag: `"v1"`, LastModified: "Mon, 02 Jan 2006 15:04:05 GMT"}
	res, err := newTestClient(false).Fetch(context.Background(), srv.URL+"/cached", prior)
	require.NoError(t, err)
	require.Equal(t, `"v1"`, gotETag.Load())
	require.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", gotModified.Load())
	require.Equal(t, crawler.OutcomeNotModified, res.Outcome)
	require.Equal(t, prior, res.Validators, "prior validators carry through a 304")
	require.Empty(t, res.Body)
}

func TestFetchThrottledSlowsGateAndRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	gate := crawler.NewGate(0)
	client := New(Config{UserAgent: "t", Timeout: 5 * time.Second},
		gate, crawler.NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond), zap.NewNop())

	res, err := client.Fetch(context.Background(), srv.URL+"/throttled", crawler.Validators{})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeSuccess, res.Outcome)
	require.Equal(t, 1, res.Retries)
	require.Equal(t, time.Second, gate.Delay(), "a 429 must slow the shared gate")
}

func TestFetchRejectsNonHTML(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	res, err := newTestClient(false).Fetch(context.Background(), srv.URL+"/doc", crawler.Validators{})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeRejected, res.Outcome)
	require.Equal(t, ReasonContentType, res.Reason)
}

func TestFetchHonorsRobots(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>public</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(true)

	res, err := client.Fetch(context.Background(), srv.URL+"/private/page", crawler.Validators{})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeRejected, res.Outcome)
	require.Equal(t, ReasonRobots, res.Reason)

	res, err = client.Fetch(context.Background(), srv.URL+"/public", crawler.Validators{})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeSuccess, res.Outcome)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(false).Fetch(ctx, srv.URL+"/page", crawler.Validators{})
	require.Error(t, err)
}

func TestFetchInFlightRequestOutlivesCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cancel()
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>late</html>"))
	}))
	defer srv.Close()

	res, err := newTestClient(false).Fetch(ctx, srv.URL+"/slow", crawler.Validators{})
	require.NoError(t, err, "a request already on the wire finishes on its own clock")
	require.Equal(t, crawler.OutcomeSuccess, res.Outcome)
	require.Contains(t, string(res.Body), "late")
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	require.Equal(t, 7*time.Second, parseRetryAfter("7"))
	require.Equal(t, time.Duration(0), parseRetryAfter(""))
	require.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
	require.Equal(t, time.Duration(0), parseRetryAfter("-3"))
}
