// Package sync polls the shared mailbox and feeds classified mail into
// the notification pipeline.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/dedup"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/notify"
	"github.com/nhle/mail-triage/internal/source"
)

// SyncState represents the current state of the mailbox poll.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus holds the poll state for the mailbox.
type SyncStatus struct {
	Mailbox  string
	State    SyncState
	LastSync time.Time
	Error    error
}

// SyncResultMsg is a tea.Msg sent when a poll completes.
type SyncResultMsg struct {
	Mailbox   string
	Fetched   int
	Created   int
	Merged    int
	Late      int
	Failed    int
	Error     error
	AuthError *AuthErrorMsg
}

// AuthErrorMsg is a tea.Msg sent when the mailbox rejects the credentials.
type AuthErrorMsg struct {
	Mailbox string
	Message string
}

// Ingester receives the outcome of each classified email.
type Ingester interface {
	Ingest(ctx context.Context, r model.ClassificationResult) (notify.IngestResult, error)
	ReportClassificationFailure(ctx context.Context, email model.Email, cause error) error
}

// CursorStore persists how far the mailbox has been read.
type CursorStore interface {
	LoadCursor(ctx context.Context, mailbox string) (uidValidity, lastUID uint32, err error)
	SaveCursor(ctx context.Context, mailbox string, uidValidity, lastUID uint32) error
}

// fetchTimeout is the maximum time allowed for a single poll, including
// classification of the fetched batch.
const fetchTimeout = 5 * time.Minute

// Options tune a Poller. Zero values fall back to defaults.
type Options struct {
	Interval    time.Duration
	FetchLimit  int
	Concurrency int
	Logger      *zap.Logger
}

// Poller orchestrates background polling of the shared mailbox.
type Poller struct {
	src      source.MailSource
	oracle   classify.Oracle
	ingester Ingester
	cursors  CursorStore
	opts     Options
	log      *zap.Logger

	status    SyncStatus
	resultCh  chan SyncResultMsg
	triggerCh chan struct{}
	stopCh    chan struct{}
	mu        gosync.Mutex
	running   bool

	pollMu gosync.Mutex
}

// New creates a Poller.
func New(src source.MailSource, oracle classify.Oracle, ing Ingester, cursors CursorStore, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		src:       src,
		oracle:    oracle,
		ingester:  ing,
		cursors:   cursors,
		opts:      opts,
		log:       log.Named("poller"),
		status:    SyncStatus{Mailbox: src.Mailbox(), State: SyncIdle},
		resultCh:  make(chan SyncResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start returns a tea.Cmd that starts the polling goroutine and waits for
// the first result.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()

	return p.waitForResult()
}

// Stop halts the polling goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopCh)
	p.running = false
}

// Refresh triggers an immediate poll.
func (p *Poller) Refresh() tea.Cmd {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A poll is already queued.
	}
	return nil
}

// Status returns the current poll status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.sendResult(p.pollWithTimeout())

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendResult(p.pollWithTimeout())
		case <-p.triggerCh:
			p.sendResult(p.pollWithTimeout())
		}
	}
}

func (p *Poller) pollWithTimeout() SyncResultMsg {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	return p.PollOnce(ctx)
}

type classified struct {
	result model.ClassificationResult
	err    error
}

// PollOnce fetches new mail, classifies it in parallel and ingests the
// results in mailbox order. The cursor only advances past emails that
// were ingested or recorded as errors.
func (p *Poller) PollOnce(ctx context.Context) SyncResultMsg {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	mailbox := p.src.Mailbox()
	p.setStatus(SyncRunning, nil)
	msg := SyncResultMsg{Mailbox: mailbox}

	validity, lastUID, err := p.cursors.LoadCursor(ctx, mailbox)
	if err != nil {
		return p.fail(msg, err)
	}

	batch, err := p.src.FetchSince(ctx, source.Cursor{UIDValidity: validity, LastUID: lastUID}, p.opts.FetchLimit)
	if err != nil {
		if source.IsAuthError(err) {
			msg.AuthError = &AuthErrorMsg{
				Mailbox: mailbox,
				Message: fmt.Sprintf("%s: authentication failed. Check the mailbox password.", mailbox),
			}
		}
		return p.fail(msg, err)
	}
	msg.Fetched = len(batch.Emails)

	results := p.classifyAll(ctx, batch.Emails)

	next := batch.Cursor
	for i, email := range batch.Emails {
		if err := p.apply(ctx, email, results[i], &msg); err != nil {
			// Resume at this email on the next poll.
			if i > 0 {
				next.LastUID = batch.Emails[i-1].UID
			} else if validity == next.UIDValidity {
				next.LastUID = lastUID
			} else {
				next.LastUID = 0
			}
			msg.Error = err
			break
		}
	}

	if err := p.cursors.SaveCursor(ctx, mailbox, next.UIDValidity, next.LastUID); err != nil {
		p.log.Warn("save cursor", zap.String("mailbox", mailbox), zap.Error(err))
		if msg.Error == nil {
			msg.Error = err
		}
	}

	if msg.Error != nil {
		return p.fail(msg, msg.Error)
	}

	p.setStatus(SyncIdle, nil)
	if msg.Fetched > 0 {
		p.log.Info("poll complete",
			zap.String("mailbox", mailbox),
			zap.Int("fetched", msg.Fetched),
			zap.Int("created", msg.Created),
			zap.Int("merged", msg.Merged),
			zap.Int("failed", msg.Failed))
	}
	return msg
}

// classifyAll runs the oracle over emails with bounded parallelism.
// Failures are kept per email; one failure never cancels the others.
func (p *Poller) classifyAll(ctx context.Context, emails []model.Email) []classified {
	out := make([]classified, len(emails))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)

	for i, email := range emails {
		g.Go(func() error {
			start := time.Now()
			r, err := p.oracle.Classify(ctx, email)
			if err == nil {
				err = r.Validate()
				if err != nil {
					err = fmt.Errorf("%w: %w", classify.ErrMalformed, err)
				}
			}
			if err != nil {
				metrics.ClassificationFailures.WithLabelValues(classify.Reason(err)).Inc()
			} else {
				metrics.ClassificationDuration.WithLabelValues(string(r.Category)).Observe(time.Since(start).Seconds())
			}
			out[i] = classified{result: r, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (p *Poller) apply(ctx context.Context, email model.Email, c classified, msg *SyncResultMsg) error {
	if c.err != nil {
		p.log.Warn("classification failed",
			zap.Uint32("uid", email.UID),
			zap.String("subject", email.Subject),
			zap.Error(c.err))
		msg.Failed++
		return p.ingester.ReportClassificationFailure(ctx, email, c.err)
	}

	res, err := p.ingester.Ingest(ctx, c.result)
	if err != nil {
		return err
	}
	switch res.Action {
	case dedup.ActionCreate:
		msg.Created++
	case dedup.ActionMerge:
		msg.Merged++
	case dedup.ActionLateEmail:
		msg.Late++
	}
	return nil
}

func (p *Poller) fail(msg SyncResultMsg, err error) SyncResultMsg {
	msg.Error = err
	p.setStatus(SyncError, err)
	p.log.Warn("poll failed", zap.String("mailbox", msg.Mailbox), zap.Error(err))
	return msg
}

// setStatus updates the poll status.
func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a SyncResultMsg on the result channel without blocking.
func (p *Poller) sendResult(msg SyncResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

// waitForResult returns a tea.Cmd that waits for the next poll result.
func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-p.resultCh
		if !ok {
			return nil
		}
		return result
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next poll result.
// This should be called after processing a SyncResultMsg to continue
// listening for future results.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}
