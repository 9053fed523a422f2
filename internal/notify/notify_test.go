// Copyright 2025 James Ross
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHook struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (f *fakeHook) Send(_ context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func TestNotifierCompletedFansOutToAllHooks(t *testing.T) {
	h1, h2 := &fakeHook{}, &fakeHook{}
	n := New(zap.NewNop(), h1, h2)
	n.Completed(context.Background(), "job-1", "SYSTEM_X", "reports/x.json", 42)

	require.Len(t, h1.events, 1)
	require.Len(t, h2.events, 1)
	require.Equal(t, EventCompleted, h1.events[0].Type)
	require.EqualValues(t, 42, h1.events[0].RecordCount)
}

func TestNotifierFailedHookErrorDoesNotPanic(t *testing.T) {
	failing := &fakeHook{err: context.DeadlineExceeded}
	ok := &fakeHook{}
	n := New(zap.NewNop(), failing, ok)
	n.Failed(context.Background(), "job-1", "boom")

	require.Len(t, failing.events, 1)
	require.Len(t, ok.events, 1, "a failing hook must not block delivery to the others")
}

func TestWebhookHookPostsJSONEvent(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhookHook(srv.URL, 0)
	err := hook.Send(context.Background(), Event{Type: EventCompleted, JobID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, EventCompleted, received.Type)
	require.Equal(t, "job-1", received.JobID)
}

func TestNotifierBatchCompleted(t *testing.T) {
	h := &fakeHook{}
	n := New(zap.NewNop(), h)
	n.BatchCompleted(context.Background(), 10, 8, 2)
	require.Len(t, h.events, 1)
	require.Equal(t, 10, h.events[0].TotalJobs)
	require.Equal(t, 8, h.events[0].SuccessCount)
	require.Equal(t, 2, h.events[0].FailureCount)
}
