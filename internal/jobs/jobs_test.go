package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/mail-triage/internal/atomicfile"
	"github.com/nhle/mail-triage/internal/model"
)

func TestSpoolRunnerSubmitAndCancel(t *testing.T) {
	dir := t.TempDir()
	r, err := NewSpoolRunner(dir)
	require.NoError(t, err)

	n := model.Notification{
		ID:      "n1",
		Kind:    model.KindNewWorkItem,
		Subject: "New spot",
		Fields:  model.Fields{DocketNumber: "D-1"},
	}
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	req := NewRequest(n, "job-1", "alice", at)
	require.NoError(t, r.Submit(context.Background(), req))

	var got Request
	found, err := atomicfile.ReadJSON(filepath.Join(dir, RequestsDir, "job-1.json"), &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, req, got)

	require.NoError(t, r.Cancel(context.Background(), "job-1"))
	_, err = os.Stat(filepath.Join(dir, CancelDir, "job-1.json"))
	assert.NoError(t, err)
}

func TestSpoolRunnerRejectsPathLikeIDs(t *testing.T) {
	r, err := NewSpoolRunner(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, r.Submit(context.Background(), Request{JobID: "../evil"}))
	assert.Error(t, r.Cancel(context.Background(), ""))
}

func TestNewSpoolRunnerRequiresDir(t *testing.T) {
	_, err := NewSpoolRunner("")
	assert.Error(t, err)
}

func writeResult(t *testing.T, dir, name string, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ResultsDir, name), []byte(data), 0644))
}

func TestResultWatcherScan(t *testing.T) {
	dir := t.TempDir()
	_, err := NewSpoolRunner(dir)
	require.NoError(t, err)

	writeResult(t, dir, "b.json", `{"job_id":"b","notification_id":"n2","success":false,"details":"disk full"}`)
	writeResult(t, dir, "a.json", `{"job_id":"a","notification_id":"n1","success":true}`)
	writeResult(t, dir, "bad.json", `{not json`)
	writeResult(t, dir, "notes.txt", `ignored`)

	w := NewResultWatcher(dir, 0, zaptest.NewLogger(t))

	var got []Result
	w.Scan(func(r Result) { got = append(got, r) })

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].JobID)
	assert.True(t, got[0].Success)
	assert.Equal(t, "b", got[1].JobID)
	assert.Equal(t, "disk full", got[1].Details)

	_, err = os.Stat(filepath.Join(dir, ResultsDir, ProcessedDir, "a.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, ResultsDir, RejectedDir, "bad.json"))
	assert.NoError(t, err)

	// Delivered files are not delivered again.
	got = nil
	w.Scan(func(r Result) { got = append(got, r) })
	assert.Empty(t, got)
}

func TestResultWatcherRunDeliversNewFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := NewSpoolRunner(dir)
	require.NoError(t, err)

	w := NewResultWatcher(dir, 20*time.Millisecond, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan Result, 1)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(r Result) { results <- r }) }()

	writeResult(t, dir, "j1.json", `{"job_id":"j1","notification_id":"n1","success":true}`)

	select {
	case r := <-results:
		assert.Equal(t, "j1", r.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("result not delivered")
	}

	cancel()
	assert.NoError(t, <-done)
}

type fakeRunner struct {
	mu        sync.Mutex
	submitted []Request
	cancelled []string
	err       error
}

func (f *fakeRunner) Submit(_ context.Context, req Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, req)
	return nil
}

func (f *fakeRunner) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return f.err
}

func TestDispatcher(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(runner, zaptest.NewLogger(t))

	failed := false
	d.Dispatch(context.Background(), Request{JobID: "j1", NotificationID: "n1"}, func(error) { failed = true })
	d.Cancel(context.Background(), "j0")
	d.Cancel(context.Background(), "")
	d.Wait()

	assert.False(t, failed)
	require.Len(t, runner.submitted, 1)
	assert.Equal(t, "j1", runner.submitted[0].JobID)
	assert.Equal(t, []string{"j0"}, runner.cancelled)
}

func TestDispatcherReportsSubmitFailure(t *testing.T) {
	boom := errors.New("boom")
	d := NewDispatcher(&fakeRunner{err: boom}, zaptest.NewLogger(t))

	var got error
	d.Dispatch(context.Background(), Request{JobID: "j1"}, func(err error) { got = err })
	d.Wait()

	assert.ErrorIs(t, got, boom)
}

func TestDispatchSurvivesCallerCancel(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(runner, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, Request{JobID: "j1"}, nil)
	d.Wait()

	assert.Len(t, runner.submitted, 1)
}
