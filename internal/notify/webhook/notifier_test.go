package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkwatanabe/sitewatch/internal/notify"
)

func sampleEvent() notify.Event {
	return notify.Event{
		RunID:     "run-1",
		Seed:      "https://example.com/",
		State:     "completed",
		Done:      12,
		Failed:    1,
		Added:     2,
		Changed:   1,
		Removed:   0,
		Duration:  "42s",
		Timestamp: time.Now().UTC(),
	}
}

func TestNotifyPostsJSON(t *testing.T) {
	t.Parallel()
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt notify.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			body.Store(evt)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(srv.URL, 5*time.Second, false, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	got, ok := body.Load().(notify.Event)
	require.True(t, ok)
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, 12, got.Done)
	require.Equal(t, 2, got.Added)
}

func TestNotifyNon2xxIsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := New(srv.URL, 5*time.Second, false, zap.NewNop())
	require.NoError(t, err)
	require.Error(t, n.Notify(context.Background(), sampleEvent()))
}

func TestNotifySuppressedWithoutChanges(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(srv.URL, 5*time.Second, true, zap.NewNop())
	require.NoError(t, err)

	quiet := sampleEvent()
	quiet.Added, quiet.Changed, quiet.Removed = 0, 0, 0
	require.NoError(t, n.Notify(context.Background(), quiet))
	require.EqualValues(t, 0, calls.Load())

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	require.EqualValues(t, 1, calls.Load())
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()
	_, err := New("", time.Second, false, zap.NewNop())
	require.Error(t, err)
}
