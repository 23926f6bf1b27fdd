// Package notify holds the authoritative local set of notifications and
// enforces their lifecycle.
//
// Every local mutation goes through Store, which serializes them behind
// one mutex. A mutation is applied to a copy, written through the
// Persister and only then made visible, so a failed write leaves the
// in-memory state untouched.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/dedup"
	"github.com/nhle/mail-triage/internal/gate"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
)

const (
	// DefaultArchiveGrace is the delay between resolution and archiving.
	DefaultArchiveGrace = 10 * time.Minute

	// DefaultJobTimeout is how long an approved notification waits for
	// its job result before reverting to pending.
	DefaultJobTimeout = 30 * time.Minute

	subscriberBuffer = 64
)

// Persister stores notifications and their audit trail.
type Persister interface {
	SaveNotification(ctx context.Context, n model.Notification, events ...model.AuditEvent) error
	LoadNotifications(ctx context.Context) ([]model.Notification, error)
}

// Change is published to subscribers after every committed mutation.
type Change struct {
	Notification model.Notification
	Event        model.EventType
}

// IngestResult reports what Ingest did with a classification.
type IngestResult struct {
	Action dedup.Action

	// Notification is the notification written, if any.
	Notification *model.Notification

	// Related is the resolved notification a late email referred to.
	Related *model.Notification
}

// SweepResult lists the notifications changed by a sweep.
type SweepResult struct {
	Archived []model.Notification
	TimedOut []model.Notification
}

// Filter selects notifications in List. Zero values match everything
// except archived notifications.
type Filter struct {
	Status          model.NotificationStatus
	Kind            model.NotificationKind
	NeedsReview     bool
	PriorityAssist  bool
	IncludeArchived bool
}

func (f Filter) match(n *model.Notification) bool {
	if !f.IncludeArchived && !n.Active() {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Kind != "" && n.Kind != f.Kind {
		return false
	}
	if f.NeedsReview && !n.NeedsReview {
		return false
	}
	if f.PriorityAssist && !n.IsPriorityAssist {
		return false
	}
	return true
}

// Store is the single serialization point for local notification state.
type Store struct {
	mu       sync.Mutex
	items    map[string]*model.Notification
	byThread map[string]string

	persist      Persister
	now          func() time.Time
	newID        func() string
	archiveGrace time.Duration
	jobTimeout   time.Duration
	log          *zap.Logger

	subsMu sync.Mutex
	subs   map[int]chan Change
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets the write-through persistence layer.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persist = p
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator sets the ID source for Error notifications.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// WithArchiveGrace sets the delay between resolution and archiving.
func WithArchiveGrace(d time.Duration) Option {
	return func(s *Store) {
		s.archiveGrace = d
	}
}

// WithJobTimeout sets how long an approved notification waits for its
// job result.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.jobTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		items:        make(map[string]*model.Notification),
		byThread:     make(map[string]string),
		now:          time.Now,
		newID:        uuid.NewString,
		archiveGrace: DefaultArchiveGrace,
		jobTimeout:   DefaultJobTimeout,
		log:          zap.NewNop(),
		subs:         make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("notify")
	return s
}

// Load replaces the in-memory state with what the Persister holds.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	list, err := s.persist.LoadNotifications(ctx)
	if err != nil {
		return fmt.Errorf("loading notifications: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*model.Notification, len(list))
	s.byThread = make(map[string]string)
	for i := range list {
		n := list[i].Clone()
		s.items[n.ID] = &n
		if n.ThreadID != "" && n.Active() {
			if prev, ok := s.byThread[n.ThreadID]; ok {
				s.log.Warn("duplicate active notification for thread",
					zap.String("thread_id", n.ThreadID),
					zap.String("kept", prev),
					zap.String("ignored", n.ID),
				)
				continue
			}
			s.byThread[n.ThreadID] = n.ID
		}
	}
	s.updateGauges()
	return nil
}

// Ingest applies a gated classification: the active notification for the
// result's thread is looked up and the planner's decision written while
// the store lock is held.
func (s *Store) Ingest(ctx context.Context, r model.ClassificationResult, d gate.Decision, planner *dedup.Planner) (IngestResult, error) {
	if err := r.Validate(); err != nil {
		return IngestResult{Action: dedup.ActionSkip}, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var active *model.Notification
	if r.ThreadID != "" {
		if id, ok := s.byThread[r.ThreadID]; ok {
			c := s.items[id].Clone()
			active = &c
		}
	}

	plan := planner.Plan(r, d, active)
	res := IngestResult{Action: plan.Action}
	metrics.NotificationsIngested.WithLabelValues(plan.Action.String()).Inc()

	switch plan.Action {
	case dedup.ActionSkip:
		return res, nil

	case dedup.ActionCreate:
		n := *plan.Notification
		ev := s.event(n.ID, model.EventCreated, "", fmt.Sprintf("%s, confidence %.2f", n.Kind, n.Confidence))
		if err := s.commit(ctx, n, ev); err != nil {
			return IngestResult{}, err
		}
		res.Notification = s.copyOf(n.ID)
		return res, nil

	case dedup.ActionMerge:
		n := *plan.Notification
		if _, err := next(&n, EventMerge); err != nil {
			return IngestResult{}, err
		}
		ev := s.event(n.ID, model.EventMerged, "", fmt.Sprintf("email %d on thread", n.EmailCount))
		if err := s.commit(ctx, n, ev); err != nil {
			return IngestResult{}, err
		}
		res.Notification = s.copyOf(n.ID)
		return res, nil

	case dedup.ActionLateEmail:
		res.Related = active
		if plan.Notification == nil {
			s.log.Info("late email ignored", zap.String("related_id", active.ID))
			return res, nil
		}
		n := *plan.Notification
		if plan.Reopen {
			if _, err := next(&n, EventReopen); err != nil {
				return IngestResult{}, err
			}
			if err := s.reopenLocked(&n); err != nil {
				return IngestResult{}, err
			}
			ev := s.event(n.ID, model.EventReopened, "", "late email on resolved thread")
			if err := s.commit(ctx, n, ev); err != nil {
				return IngestResult{}, err
			}
			s.log.Warn("notification reopened by late email", zap.String("id", n.ID), zap.String("thread_id", n.ThreadID))
		} else {
			ev := s.event(n.ID, model.EventLateEmail, "", "related to "+active.ID)
			if err := s.commit(ctx, n, ev); err != nil {
				return IngestResult{}, err
			}
		}
		res.Notification = s.copyOf(n.ID)
		return res, nil

	default:
		return IngestResult{}, fmt.Errorf("unknown dedup action %s", plan.Action)
	}
}

// AddError records a failed classification as an Error notification so
// the email is still visible to operators. A repeated failure for the
// same email updates the existing Error notification.
func (s *Store) AddError(ctx context.Context, email model.Email, cause error) (model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := email.SourceKey()
	msg := "Classification failed"
	if cause != nil {
		msg = fmt.Sprintf("Classification failed: %v", cause)
	}

	for _, existing := range s.items {
		if existing.Kind == model.KindError && existing.Active() &&
			existing.Status == model.StatusPending && existing.SourceKey == key {
			n := existing.Clone()
			n.LastError = msg
			n.Fields.Message = msg
			n.UpdatedAt = now
			if err := s.commit(ctx, n); err != nil {
				return model.Notification{}, err
			}
			return n.Clone(), nil
		}
	}

	n := model.Notification{
		ID:           s.newID(),
		SourceKey:    key,
		Kind:         model.KindError,
		Status:       model.StatusPending,
		Subject:      email.Subject,
		Sender:       email.From,
		Recipients:   append([]string(nil), email.To...),
		BodySnapshot: email.Body,
		EmailCount:   1,
		Fields:       model.Fields{Message: msg},
		Original:     model.Fields{Message: msg},
		LastError:    msg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.commit(ctx, n, s.event(n.ID, model.EventCreated, "", msg)); err != nil {
		return model.Notification{}, err
	}
	return n.Clone(), nil
}

// Approve moves a pending notification to Approved under jobID. The
// caller dispatches the job once this returns.
func (s *Store) Approve(ctx context.Context, id, operator, jobID string) (model.Notification, error) {
	return s.mutate(ctx, id, EventApprove, func(n *model.Notification, now time.Time) ([]model.AuditEvent, error) {
		if n.Claim.HeldByOther(operator) {
			return nil, fmt.Errorf("%w: %s holds %s", ErrClaimedByOther, n.Claim.GrabbedBy, id)
		}
		n.NeedsReview = false
		n.JobID = jobID
		n.JobDeadline = nil
		if s.jobTimeout > 0 {
			n.JobDeadline = model.TimePtr(now.Add(s.jobTimeout))
		}
		n.LastError = ""
		return []model.AuditEvent{s.event(id, model.EventApproved, operator, "job "+jobID)}, nil
	})
}

// Dismiss moves a pending or approved notification to Dismissed and
// schedules it for archiving. When the notification was approved, the
// running job's ID is returned so the caller can cancel it; the store
// does not wait for that.
func (s *Store) Dismiss(ctx context.Context, id, operator string) (model.Notification, string, error) {
	var cancelJob string
	n, err := s.mutate(ctx, id, EventDismiss, func(n *model.Notification, now time.Time) ([]model.AuditEvent, error) {
		if n.Status == model.StatusApproved {
			cancelJob = n.JobID
		}
		n.ArchiveDueAt = model.TimePtr(now.Add(s.archiveGrace))
		n.JobDeadline = nil
		detail := ""
		if cancelJob != "" {
			detail = "cancelled job " + cancelJob
		}
		return []model.AuditEvent{s.event(id, model.EventDismissed, operator, detail)}, nil
	})
	if err != nil {
		return model.Notification{}, "", err
	}
	return n, cancelJob, nil
}

// OnJobResult applies the job runner's callback. Success completes the
// notification; failure returns it to Pending with the claim cleared so
// another operator may retry. A jobID other than the current one is
// rejected with ErrStaleJob.
func (s *Store) OnJobResult(ctx context.Context, id, jobID string, success bool, details string) (model.Notification, error) {
	ev := EventJobFailure
	if success {
		ev = EventJobSuccess
	}
	return s.mutate(ctx, id, ev, func(n *model.Notification, now time.Time) ([]model.AuditEvent, error) {
		if jobID != "" && n.JobID != "" && jobID != n.JobID {
			return nil, fmt.Errorf("%w: got %s, want %s", ErrStaleJob, jobID, n.JobID)
		}
		n.JobDeadline = nil
		if success {
			n.ArchiveDueAt = model.TimePtr(now.Add(s.archiveGrace))
			n.LastError = ""
			return []model.AuditEvent{s.event(id, model.EventCompleted, "", details)}, nil
		}
		s.revertLocked(n, details)
		return []model.AuditEvent{s.event(id, model.EventJobFailed, "", details)}, nil
	})
}

// Edit overwrites one business field. The original snapshot is kept.
func (s *Store) Edit(ctx context.Context, id, operator string, field model.Field, value string) (model.Notification, error) {
	return s.mutate(ctx, id, EventEdit, func(n *model.Notification, _ time.Time) ([]model.AuditEvent, error) {
		if n.Claim.HeldByOther(operator) {
			return nil, fmt.Errorf("%w: %s holds %s", ErrClaimedByOther, n.Claim.GrabbedBy, id)
		}
		old := n.Fields.Get(field)
		if err := n.Fields.Set(field, value); err != nil {
			return nil, err
		}
		n.Edited = n.Edited.With(field)
		detail := fmt.Sprintf("%s: %q to %q", field, old, value)
		return []model.AuditEvent{s.event(id, model.EventEdited, operator, detail)}, nil
	})
}

// ResetFields restores every business field from the original snapshot.
// Status and claim are not touched.
func (s *Store) ResetFields(ctx context.Context, id, operator string) (model.Notification, error) {
	return s.mutate(ctx, id, EventReset, func(n *model.Notification, _ time.Time) ([]model.AuditEvent, error) {
		if n.Claim.HeldByOther(operator) {
			return nil, fmt.Errorf("%w: %s holds %s", ErrClaimedByOther, n.Claim.GrabbedBy, id)
		}
		names := n.Edited.Names()
		n.Fields = n.Original
		n.Edited = 0
		detail := fmt.Sprintf("restored %d field(s)", len(names))
		return []model.AuditEvent{s.event(id, model.EventReset, operator, detail)}, nil
	})
}

// Reopen returns a dismissed or completed notification to Pending with
// claim and archive state cleared. It fails with ErrThreadOccupied when
// another active notification already tracks the thread.
func (s *Store) Reopen(ctx context.Context, id, operator, reason string) (model.Notification, error) {
	n, err := s.mutate(ctx, id, EventReopen, func(n *model.Notification, _ time.Time) ([]model.AuditEvent, error) {
		if err := s.reopenLocked(n); err != nil {
			return nil, err
		}
		return []model.AuditEvent{s.event(id, model.EventReopened, operator, reason)}, nil
	})
	if err == nil {
		s.log.Warn("notification reopened", zap.String("id", id), zap.String("operator", operator), zap.String("reason", reason))
	}
	return n, err
}

// MarkGrabbed records that owner holds the claim since at. A grant ends
// any priority assist. It is a no-op when the claim already matches.
func (s *Store) MarkGrabbed(ctx context.Context, id, owner string, at time.Time, detail string) (model.Notification, error) {
	s.mu.Lock()
	if cur, ok := s.items[id]; ok && cur.Claim.HeldBy(owner) && !cur.IsPriorityAssist {
		c := cur.Clone()
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	return s.mutate(ctx, id, EventClaim, func(n *model.Notification, _ time.Time) ([]model.AuditEvent, error) {
		n.Claim = model.GrabbedBy(owner, at)
		n.IsPriorityAssist = false
		return []model.AuditEvent{s.event(id, model.EventClaimed, owner, detail)}, nil
	})
}

// MarkConflict records a claim that could not be settled automatically:
// the notification is left unclaimed and flagged for priority assist.
func (s *Store) MarkConflict(ctx context.Context, id, operator string, contenders []string) (model.Notification, error) {
	n, err := s.mutate(ctx, id, EventConflict, func(n *model.Notification, _ time.Time) ([]model.AuditEvent, error) {
		n.Claim = model.Claim{}
		n.IsPriorityAssist = true
		detail := "contenders: " + strings.Join(contenders, ", ")
		return []model.AuditEvent{s.event(id, model.EventClaimConflict, operator, detail)}, nil
	})
	if err == nil {
		s.log.Warn("priority assist raised",
			zap.String("id", id),
			zap.String("operator", operator),
			zap.Strings("contenders", contenders),
		)
	}
	return n, err
}

// ClearClaim drops the local claim. It is a no-op when nothing is held.
func (s *Store) ClearClaim(ctx context.Context, id, operator, detail string) (model.Notification, error) {
	s.mu.Lock()
	if cur, ok := s.items[id]; ok && !cur.Claim.IsGrabbed {
		c := cur.Clone()
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	return s.mutate(ctx, id, EventRelease, func(n *model.Notification, _ time.Time) ([]model.AuditEvent, error) {
		n.Claim = model.Claim{}
		return []model.AuditEvent{s.event(id, model.EventReleased, operator, detail)}, nil
	})
}

// Audit appends an event to the notification's history without changing
// its state.
func (s *Store) Audit(ctx context.Context, id string, typ model.EventType, operator, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveNotification(ctx, cur.Clone(), s.event(id, typ, operator, detail)); err != nil {
		return fmt.Errorf("saving audit event: %w", err)
	}
	return nil
}

// Sweep archives resolved notifications whose grace delay has passed and
// reverts approved notifications whose job deadline has passed. Failures
// on one notification do not stop the sweep.
func (s *Store) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SweepResult
	var errs []error

	for _, id := range s.sortedIDs() {
		cur := s.items[id]
		if !cur.Active() {
			continue
		}

		switch {
		case cur.ArchiveDueAt != nil && !now.Before(*cur.ArchiveDueAt):
			n := cur.Clone()
			if _, err := next(&n, EventArchive); err != nil {
				continue
			}
			n.ArchivedAt = model.TimePtr(now)
			n.UpdatedAt = now.UTC()
			if err := s.commit(ctx, n, s.event(id, model.EventArchived, "", "")); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Archived = append(res.Archived, n.Clone())

		case cur.Status == model.StatusApproved && cur.JobDeadline != nil && now.After(*cur.JobDeadline):
			n := cur.Clone()
			if _, err := next(&n, EventJobTimeout); err != nil {
				continue
			}
			msg := fmt.Sprintf("job %s timed out; retry by approving again", n.JobID)
			s.revertLocked(&n, msg)
			n.UpdatedAt = now.UTC()
			if err := s.commit(ctx, n, s.event(id, model.EventJobTimeout, "", msg)); err != nil {
				errs = append(errs, err)
				continue
			}
			metrics.Transitions.WithLabelValues(string(EventJobTimeout), "ok").Inc()
			res.TimedOut = append(res.TimedOut, n.Clone())
		}
	}

	return res, errors.Join(errs...)
}

// Run sweeps every interval until ctx is done. onSweep, if set, receives
// every non-empty result.
func (s *Store) Run(ctx context.Context, interval time.Duration, onSweep func(SweepResult)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := s.Sweep(ctx, s.now())
			if err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
			if onSweep != nil && (len(res.Archived) > 0 || len(res.TimedOut) > 0) {
				onSweep(res)
			}
		}
	}
}

// Get returns a copy of the notification with the given ID.
func (s *Store) Get(id string) (model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return model.Notification{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n.Clone(), nil
}

// Active returns the non-archived notifications, most recent first.
func (s *Store) Active() []model.Notification {
	return s.List(Filter{})
}

// Archived returns the archived notifications, most recent first.
func (s *Store) Archived() []model.Notification {
	all := s.List(Filter{IncludeArchived: true})
	out := all[:0]
	for _, n := range all {
		if !n.Active() {
			out = append(out, n)
		}
	}
	return out
}

// ActiveByThread returns the active notification tracking threadID.
func (s *Store) ActiveByThread(threadID string) (model.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byThread[threadID]
	if !ok {
		return model.Notification{}, false
	}
	return s.items[id].Clone(), true
}

// ByClaimKey returns the active notification whose claim key is key.
func (s *Store) ByClaimKey(key string) (model.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.Active() && n.ClaimKey() == key {
			return n.Clone(), true
		}
	}
	return model.Notification{}, false
}

// List returns the notifications matching f, most recent first.
func (s *Store) List(f Filter) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Notification, 0, len(s.items))
	for _, n := range s.items {
		if f.match(n) {
			out = append(out, n.Clone())
		}
	}
	sortRecentFirst(out)
	return out
}

// Subscribe returns a channel receiving every committed change and a
// function that ends the subscription. Slow subscribers miss changes
// rather than block the store.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Change, subscriberBuffer)
	s.subs[id] = ch

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// mutate applies fn to a copy of notification id after checking that ev
// is valid, persists the copy and commits it.
func (s *Store) mutate(ctx context.Context, id string, ev Event, fn func(n *model.Notification, now time.Time) ([]model.AuditEvent, error)) (model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[id]
	if !ok {
		return model.Notification{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	n := cur.Clone()
	to, err := next(&n, ev)
	if err != nil {
		metrics.Transitions.WithLabelValues(string(ev), "rejected").Inc()
		return model.Notification{}, err
	}

	now := s.now().UTC()
	n.Status = to
	events, err := fn(&n, now)
	if err != nil {
		metrics.Transitions.WithLabelValues(string(ev), "rejected").Inc()
		return model.Notification{}, err
	}
	n.UpdatedAt = now

	if err := s.commit(ctx, n, events...); err != nil {
		metrics.Transitions.WithLabelValues(string(ev), "error").Inc()
		return model.Notification{}, err
	}
	metrics.Transitions.WithLabelValues(string(ev), "ok").Inc()
	return n.Clone(), nil
}

// commit persists n and makes it visible. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, n model.Notification, events ...model.AuditEvent) error {
	if s.persist != nil {
		if err := s.persist.SaveNotification(ctx, n, events...); err != nil {
			return fmt.Errorf("saving notification %s: %w", n.ID, err)
		}
	}

	if prev, ok := s.items[n.ID]; ok && prev.ThreadID != "" && s.byThread[prev.ThreadID] == n.ID {
		delete(s.byThread, prev.ThreadID)
	}
	stored := n.Clone()
	s.items[n.ID] = &stored
	if n.ThreadID != "" && n.Active() {
		s.byThread[n.ThreadID] = n.ID
	}

	s.updateGauges()

	typ := model.EventType("")
	if len(events) > 0 {
		typ = events[len(events)-1].Type
	}
	s.publish(Change{Notification: n.Clone(), Event: typ})
	return nil
}

// reopenLocked resets n to a fresh Pending state. Callers hold s.mu.
func (s *Store) reopenLocked(n *model.Notification) error {
	if n.ThreadID != "" {
		if other, ok := s.byThread[n.ThreadID]; ok && other != n.ID {
			return fmt.Errorf("%w: %s already tracks thread %s", ErrThreadOccupied, other, n.ThreadID)
		}
	}
	n.Status = model.StatusPending
	n.Claim = model.Claim{}
	n.IsPriorityAssist = false
	n.ArchiveDueAt = nil
	n.ArchivedAt = nil
	n.JobID = ""
	n.JobDeadline = nil
	n.LastError = ""
	return nil
}

// revertLocked returns an approved notification to Pending after a
// failed or timed-out job.
func (s *Store) revertLocked(n *model.Notification, reason string) {
	n.Status = model.StatusPending
	n.Claim = model.Claim{}
	n.IsPriorityAssist = false
	n.JobID = ""
	n.JobDeadline = nil
	n.LastError = reason
}

func (s *Store) event(id string, typ model.EventType, operator, detail string) model.AuditEvent {
	return model.AuditEvent{
		NotificationID: id,
		Type:           typ,
		Operator:       operator,
		Detail:         detail,
		At:             s.now().UTC(),
	}
}

func (s *Store) copyOf(id string) *model.Notification {
	c := s.items[id].Clone()
	return &c
}

func (s *Store) publish(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// sortedIDs returns item IDs in creation order so sweeps are
// deterministic.
func (s *Store) sortedIDs() []string {
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.items[ids[i]], s.items[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (s *Store) updateGauges() {
	counts := map[model.NotificationStatus]int{
		model.StatusPending:   0,
		model.StatusApproved:  0,
		model.StatusDismissed: 0,
		model.StatusCompleted: 0,
	}
	for _, n := range s.items {
		if n.Active() {
			counts[n.Status]++
		}
	}
	for status, c := range counts {
		metrics.ActiveNotifications.WithLabelValues(string(status)).Set(float64(c))
	}
}

func sortRecentFirst(list []model.Notification) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
