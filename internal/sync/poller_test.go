package sync

import (
	"context"
	"errors"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/dedup"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/notify"
	"github.com/nhle/mail-triage/internal/source"
)

type fakeSource struct {
	batch  source.Batch
	err    error
	cursor source.Cursor
}

func (f *fakeSource) Mailbox() string { return "INBOX" }

func (f *fakeSource) ValidateConnection(context.Context) (string, error) { return "desk", nil }

func (f *fakeSource) FetchSince(_ context.Context, cursor source.Cursor, _ int) (source.Batch, error) {
	f.cursor = cursor
	return f.batch, f.err
}

type memCursors struct {
	validity, last uint32
	saves          int
}

func (m *memCursors) LoadCursor(context.Context, string) (uint32, uint32, error) {
	return m.validity, m.last, nil
}

func (m *memCursors) SaveCursor(_ context.Context, _ string, validity, last uint32) error {
	m.validity, m.last = validity, last
	m.saves++
	return nil
}

type recordingIngester struct {
	mu        gosync.Mutex
	ingested  []string
	failures  []uint32
	action    dedup.Action
}

func (r *recordingIngester) Ingest(_ context.Context, res model.ClassificationResult) (notify.IngestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Subject == "fail" {
		return notify.IngestResult{}, errors.New("disk full")
	}
	r.ingested = append(r.ingested, res.Subject)
	return notify.IngestResult{Action: r.action}, nil
}

func (r *recordingIngester) ReportClassificationFailure(_ context.Context, email model.Email, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, email.UID)
	return nil
}

func mail(uid uint32, subject string) model.Email {
	return model.Email{UID: uid, MessageID: subject + "@test", Subject: subject}
}

func echoOracle() classify.Oracle {
	return classify.OracleFunc(func(_ context.Context, e model.Email) (model.ClassificationResult, error) {
		if e.Subject == "garbled" {
			return model.ClassificationResult{}, classify.ErrMalformed
		}
		return model.ClassificationResult{
			Category:   model.CategoryNewWorkItem,
			Confidence: 0.9,
			Subject:    e.Subject,
			ThreadID:   e.ThreadID(),
		}, nil
	})
}

func TestPollOnceIngestsInMailboxOrder(t *testing.T) {
	src := &fakeSource{batch: source.Batch{
		Cursor: source.Cursor{UIDValidity: 7, LastUID: 14},
		Emails: []model.Email{mail(11, "a"), mail(12, "garbled"), mail(14, "c")},
	}}
	cursors := &memCursors{validity: 7, last: 10}
	ing := &recordingIngester{action: dedup.ActionCreate}

	p := New(src, echoOracle(), ing, cursors, Options{Concurrency: 2, Logger: zaptest.NewLogger(t)})
	msg := p.PollOnce(context.Background())

	require.NoError(t, msg.Error)
	assert.Equal(t, source.Cursor{UIDValidity: 7, LastUID: 10}, src.cursor)
	assert.Equal(t, []string{"a", "c"}, ing.ingested)
	assert.Equal(t, []uint32{12}, ing.failures, "failed classification becomes an error notification")
	assert.Equal(t, 3, msg.Fetched)
	assert.Equal(t, 2, msg.Created)
	assert.Equal(t, 1, msg.Failed)
	assert.Equal(t, uint32(14), cursors.last)
	assert.Equal(t, SyncIdle, p.Status().State)
}

func TestPollOnceStopsAtIngestFailure(t *testing.T) {
	src := &fakeSource{batch: source.Batch{
		Cursor: source.Cursor{UIDValidity: 7, LastUID: 30},
		Emails: []model.Email{mail(21, "a"), mail(22, "fail"), mail(23, "c")},
	}}
	cursors := &memCursors{validity: 7, last: 20}
	ing := &recordingIngester{action: dedup.ActionMerge}

	p := New(src, echoOracle(), ing, cursors, Options{Logger: zaptest.NewLogger(t)})
	msg := p.PollOnce(context.Background())

	require.Error(t, msg.Error)
	assert.Equal(t, []string{"a"}, ing.ingested)
	assert.Equal(t, uint32(21), cursors.last, "resume at the failed email")
	assert.Equal(t, SyncError, p.Status().State)
}

func TestPollOnceFirstEmailFailureKeepsCursor(t *testing.T) {
	src := &fakeSource{batch: source.Batch{
		Cursor: source.Cursor{UIDValidity: 7, LastUID: 30},
		Emails: []model.Email{mail(25, "fail")},
	}}
	cursors := &memCursors{validity: 7, last: 20}

	p := New(src, echoOracle(), &recordingIngester{}, cursors, Options{Logger: zaptest.NewLogger(t)})
	msg := p.PollOnce(context.Background())

	require.Error(t, msg.Error)
	assert.Equal(t, uint32(20), cursors.last)
}

func TestPollOnceAuthError(t *testing.T) {
	src := &fakeSource{err: &source.AuthError{Mailbox: "INBOX", Message: "bad password"}}
	cursors := &memCursors{}

	p := New(src, echoOracle(), &recordingIngester{}, cursors, Options{Logger: zaptest.NewLogger(t)})
	msg := p.PollOnce(context.Background())

	require.Error(t, msg.Error)
	require.NotNil(t, msg.AuthError)
	assert.Equal(t, "INBOX", msg.AuthError.Mailbox)
	assert.Zero(t, cursors.saves)
	assert.Equal(t, SyncError, p.Status().State)
}

func TestClassificationParallelismIsBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	oracle := classify.OracleFunc(func(_ context.Context, e model.Email) (model.ClassificationResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return model.ClassificationResult{Category: model.CategoryNone, Subject: e.Subject}, nil
	})

	var emails []model.Email
	for i := uint32(1); i <= 12; i++ {
		emails = append(emails, mail(i, "m"))
	}
	src := &fakeSource{batch: source.Batch{Cursor: source.Cursor{UIDValidity: 1, LastUID: 12}, Emails: emails}}
	ing := &recordingIngester{action: dedup.ActionSkip}

	p := New(src, oracle, ing, &memCursors{}, Options{Concurrency: 3, Logger: zaptest.NewLogger(t)})
	msg := p.PollOnce(context.Background())

	require.NoError(t, msg.Error)
	assert.Len(t, ing.ingested, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Zero(t, msg.Created)
}

func TestStartDeliversFirstResult(t *testing.T) {
	src := &fakeSource{batch: source.Batch{Cursor: source.Cursor{UIDValidity: 1}}}
	p := New(src, echoOracle(), &recordingIngester{}, &memCursors{}, Options{Interval: time.Hour, Logger: zaptest.NewLogger(t)})
	defer p.Stop()

	cmd := p.Start()
	require.NotNil(t, cmd)
	msg, ok := cmd().(SyncResultMsg)
	require.True(t, ok)
	assert.Equal(t, "INBOX", msg.Mailbox)
	assert.Nil(t, p.Start(), "second start is a no-op")
}
