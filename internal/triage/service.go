// Package triage wires the notification store, the claim coordinator and
// the job runner into the operations an operator performs.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mail-triage/internal/claim"
	"github.com/nhle/mail-triage/internal/dedup"
	"github.com/nhle/mail-triage/internal/gate"
	"github.com/nhle/mail-triage/internal/jobs"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/notify"
)

// ErrClaimConflict is returned when an action needs the claim and the
// claim attempt ended in a conflict.
var ErrClaimConflict = errors.New("claim conflict")

// HistoryReader returns the audit trail of a notification.
type HistoryReader interface {
	ListEvents(ctx context.Context, notificationID string) ([]model.AuditEvent, error)
}

// Service is the API the UI and CLI use. Every method is safe for
// concurrent use.
type Service struct {
	operator   string
	store      *notify.Store
	planner    *dedup.Planner
	policy     gate.Policy
	claims     *claim.Coordinator
	dispatcher *jobs.Dispatcher

	claimWatcher  *claim.Watcher
	resultWatcher *jobs.ResultWatcher
	history       HistoryReader
	sweepInterval time.Duration
	metricsAddr   string
	now           func() time.Time
	log           *zap.Logger

	// claimMu serializes shared-store operations with reconciliation so a
	// watcher snapshot never undoes a claim change made in between.
	claimMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy sets the confidence gate policy.
func WithPolicy(p gate.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithPlanner sets the deduplication planner.
func WithPlanner(p *dedup.Planner) Option {
	return func(s *Service) { s.planner = p }
}

// WithClaimWatcher enables reconciliation from shared-store changes.
func WithClaimWatcher(w *claim.Watcher) Option {
	return func(s *Service) { s.claimWatcher = w }
}

// WithResultWatcher enables delivery of job results.
func WithResultWatcher(w *jobs.ResultWatcher) Option {
	return func(s *Service) { s.resultWatcher = w }
}

// WithHistory sets where audit trails are read from.
func WithHistory(h HistoryReader) Option {
	return func(s *Service) { s.history = h }
}

// WithSweepInterval sets how often archive and timeout sweeps run.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithMetricsAddr serves Prometheus metrics on addr while Run is active.
func WithMetricsAddr(addr string) Option {
	return func(s *Service) { s.metricsAddr = addr }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New returns a Service acting as operator.
func New(operator string, store *notify.Store, claims *claim.Coordinator, dispatcher *jobs.Dispatcher, opts ...Option) (*Service, error) {
	if strings.TrimSpace(operator) == "" {
		return nil, fmt.Errorf("operator name is required")
	}
	s := &Service{
		operator:      operator,
		store:         store,
		planner:       dedup.NewPlanner(dedup.LateEmailInfo),
		policy:        gate.DefaultPolicy(),
		claims:        claims,
		dispatcher:    dispatcher,
		sweepInterval: 30 * time.Second,
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("triage")
	return s, nil
}

// Operator returns the name this client acts as.
func (s *Service) Operator() string {
	return s.operator
}

// === Ingestion ===

// Ingest gates a classification and applies it to the store. A newly
// created notification immediately picks up any claim other clients
// already hold for its thread.
func (s *Service) Ingest(ctx context.Context, r model.ClassificationResult) (notify.IngestResult, error) {
	res, err := s.store.Ingest(ctx, r, gate.Evaluate(r, s.policy), s.planner)
	if err != nil {
		return res, err
	}
	if res.Action == dedup.ActionCreate && res.Notification != nil {
		s.adoptSharedClaim(ctx, *res.Notification)
	}
	return res, nil
}

// ReportClassificationFailure records the email as an Error notification.
func (s *Service) ReportClassificationFailure(ctx context.Context, email model.Email, cause error) error {
	_, err := s.store.AddError(ctx, email, cause)
	return err
}

func (s *Service) adoptSharedClaim(ctx context.Context, n model.Notification) {
	if !n.Kind.Actionable() {
		return
	}
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	rec, found, err := s.claims.Inspect(ctx, n.ClaimKey())
	if err != nil {
		s.log.Debug("inspect claim for new notification", zap.String("id", n.ID), zap.Error(err))
		return
	}
	if !found || s.claims.IsStale(rec) {
		return
	}
	if _, err := s.store.MarkGrabbed(ctx, n.ID, rec.Owner, rec.ClaimedAt, "claimed in shared store"); err != nil {
		s.log.Warn("adopt shared claim", zap.String("id", n.ID), zap.Error(err))
	}
}

// === Claims ===

// Claim asks the shared store for the notification and records the
// outcome locally: Granted and AlreadyClaimed set the claim fields, a
// Conflict leaves the item unclaimed and flagged for priority assist.
// A store failure changes nothing locally and is returned.
func (s *Service) Claim(ctx context.Context, id string) (model.Notification, claim.Outcome, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	return s.claimLocked(ctx, id)
}

func (s *Service) claimLocked(ctx context.Context, id string) (model.Notification, claim.Outcome, error) {
	n, err := s.store.Get(id)
	if err != nil {
		return model.Notification{}, claim.Outcome{}, err
	}
	if err := notify.Check(n, notify.EventClaim); err != nil {
		return n, claim.Outcome{}, err
	}

	out, err := s.claims.TryClaim(ctx, n.ClaimKey(), s.operator)
	metrics.ClaimOutcomes.WithLabelValues(out.Result.String()).Inc()
	if err != nil {
		return n, out, err
	}

	switch out.Result {
	case claim.Granted:
		n, err = s.store.MarkGrabbed(ctx, id, s.operator, out.Record.ClaimedAt, "")
		if err == nil && out.ForcedFrom != "" {
			detail := fmt.Sprintf("took over stale claim from %s", out.ForcedFrom)
			if aerr := s.store.Audit(ctx, id, model.EventPriorityAssist, s.operator, detail); aerr != nil {
				s.log.Warn("audit forced claim", zap.String("id", id), zap.Error(aerr))
			}
		}
	case claim.AlreadyClaimed:
		n, err = s.store.MarkGrabbed(ctx, id, out.Owner, out.Record.ClaimedAt, "claimed in shared store")
	case claim.Conflict:
		n, err = s.store.MarkConflict(ctx, id, s.operator, out.Contenders)
	}
	return n, out, err
}

// Release gives up the claim in the shared store and locally. Releasing
// something nobody holds only clears the local belief.
func (s *Service) Release(ctx context.Context, id string) (model.Notification, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	n, err := s.store.Get(id)
	if err != nil {
		return model.Notification{}, err
	}
	if err := notify.Check(n, notify.EventRelease); err != nil {
		return n, err
	}

	err = s.claims.Release(ctx, n.ClaimKey(), s.operator)
	if err != nil && !errors.Is(err, claim.ErrNotClaimed) {
		return n, err
	}
	return s.store.ClearClaim(ctx, id, s.operator, "")
}

// ResolveConflict settles a priority-assist item by hand, making winner
// the owner in the shared store.
func (s *Service) ResolveConflict(ctx context.Context, id, winner string) (model.Notification, error) {
	if strings.TrimSpace(winner) == "" {
		winner = s.operator
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	n, err := s.store.Get(id)
	if err != nil {
		return model.Notification{}, err
	}
	if err := notify.Check(n, notify.EventClaim); err != nil {
		return n, err
	}

	rec, err := s.claims.Resolve(ctx, n.ClaimKey(), winner)
	if err != nil {
		return n, err
	}
	return s.store.MarkGrabbed(ctx, id, winner, rec.ClaimedAt, "conflict resolved by "+s.operator)
}

// Claims lists every record in the shared store.
func (s *Service) Claims(ctx context.Context) ([]model.ClaimRecord, error) {
	return s.claims.List(ctx)
}

// releaseShared drops our shared record for n, ignoring a record that is
// already gone or belongs to someone else.
func (s *Service) releaseShared(ctx context.Context, n model.Notification) {
	err := s.claims.Release(ctx, n.ClaimKey(), s.operator)
	if err != nil && !errors.Is(err, claim.ErrNotClaimed) && !errors.Is(err, claim.ErrNotOwner) {
		s.log.Warn("release shared claim", zap.String("id", n.ID), zap.Error(err))
	}
}

// === Lifecycle ===

// Approve claims the notification if needed, moves it to Approved and
// hands the job to the runner without waiting. If the runner rejects the
// job the notification reverts to Pending like any failed job.
func (s *Service) Approve(ctx context.Context, id string) (model.Notification, error) {
	s.claimMu.Lock()
	n, err := s.store.Get(id)
	if err != nil {
		s.claimMu.Unlock()
		return model.Notification{}, err
	}
	if err := notify.Check(n, notify.EventApprove); err != nil {
		s.claimMu.Unlock()
		return n, err
	}

	n, out, err := s.claimLocked(ctx, id)
	s.claimMu.Unlock()
	if err != nil {
		return n, fmt.Errorf("claiming before approve: %w", err)
	}
	switch out.Result {
	case claim.AlreadyClaimed:
		return n, fmt.Errorf("%w: %s holds %s", notify.ErrClaimedByOther, out.Owner, id)
	case claim.Conflict:
		return n, fmt.Errorf("%w: %s", ErrClaimConflict, strings.Join(out.Contenders, ", "))
	}

	jobID := jobs.NewJobID()
	n, err = s.store.Approve(ctx, id, s.operator, jobID)
	if err != nil {
		return n, err
	}

	req := jobs.NewRequest(n, jobID, s.operator, s.now().UTC())
	s.dispatcher.Dispatch(ctx, req, func(err error) {
		_, _ = s.OnJobResult(context.WithoutCancel(ctx), id, jobID, false, "job submission failed: "+err.Error())
	})
	return n, nil
}

// Dismiss resolves the notification without doing the work. A running
// job gets a best-effort cancel and our shared claim is released.
func (s *Service) Dismiss(ctx context.Context, id string) (model.Notification, error) {
	n, cancelJob, err := s.store.Dismiss(ctx, id, s.operator)
	if err != nil {
		return n, err
	}
	if cancelJob != "" {
		s.dispatcher.Cancel(ctx, cancelJob)
	}

	if n.Claim.HeldBy(s.operator) {
		s.claimMu.Lock()
		defer s.claimMu.Unlock()
		s.releaseShared(ctx, n)
		if cleared, err := s.store.ClearClaim(ctx, id, s.operator, "dismissed"); err == nil {
			n = cleared
		}
	}
	return n, nil
}

// OnJobResult applies the runner's report. A failure releases our shared
// claim so another operator may retry. Late or stale reports are logged
// and otherwise ignored.
func (s *Service) OnJobResult(ctx context.Context, id, jobID string, success bool, details string) (model.Notification, error) {
	n, err := s.store.OnJobResult(ctx, id, jobID, success, details)
	if err != nil {
		s.log.Warn("job result not applied",
			zap.String("id", id),
			zap.String("job", jobID),
			zap.Bool("success", success),
			zap.Error(err))
		return n, err
	}
	if !success {
		s.claimMu.Lock()
		s.releaseShared(ctx, n)
		s.claimMu.Unlock()
	}
	return n, nil
}

// Edit overwrites one business field.
func (s *Service) Edit(ctx context.Context, id string, field model.Field, value string) (model.Notification, error) {
	return s.store.Edit(ctx, id, s.operator, field, value)
}

// Reset restores the classifier's field values.
func (s *Service) Reset(ctx context.Context, id string) (model.Notification, error) {
	return s.store.ResetFields(ctx, id, s.operator)
}

// Reopen brings a dismissed or completed notification back to Pending.
func (s *Service) Reopen(ctx context.Context, id, reason string) (model.Notification, error) {
	return s.store.Reopen(ctx, id, s.operator, reason)
}

// === Reads ===

// Get returns one notification.
func (s *Service) Get(id string) (model.Notification, error) {
	return s.store.Get(id)
}

// Active returns every active notification, most recent first.
func (s *Service) Active() []model.Notification {
	return s.store.Active()
}

// List returns the notifications matching f.
func (s *Service) List(f notify.Filter) []model.Notification {
	return s.store.List(f)
}

// History returns the audit trail of a notification, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]model.AuditEvent, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListEvents(ctx, id)
}

// Subscribe forwards store changes. Call the returned func to stop.
func (s *Service) Subscribe() (<-chan notify.Change, func()) {
	return s.store.Subscribe()
}

// === Background ===

// Reconcile brings local claim fields in line with the shared records.
// Another operator's fresh record marks the item grabbed by them; a record
// that vanished clears the local belief. When our own record vanished
// under an active claim, the item is flagged for priority assist.
func (s *Service) Reconcile(ctx context.Context, records []model.ClaimRecord) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	byKey := make(map[string]model.ClaimRecord, len(records))
	for _, r := range records {
		byKey[r.Key] = r
	}

	var errs []error
	for _, n := range s.store.Active() {
		if !n.Kind.Actionable() {
			continue
		}
		if err := s.reconcileOne(ctx, n, byKey); err != nil {
			errs = append(errs, fmt.Errorf("reconciling %s: %w", n.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) reconcileOne(ctx context.Context, n model.Notification, byKey map[string]model.ClaimRecord) error {
	rec, found := byKey[n.ClaimKey()]

	if found {
		if s.claims.IsStale(rec) || (n.Claim.HeldBy(rec.Owner) && !n.IsPriorityAssist) {
			return nil
		}
		if n.Status != model.StatusPending && rec.Owner != s.operator {
			return nil
		}
		if n.IsPriorityAssist {
			// A racer's record may be visible until its rollback lands.
			// Only a record that is still there on a fresh read ends the
			// priority assist.
			cur, ok, err := s.claims.Inspect(ctx, n.ClaimKey())
			if err != nil || !ok || cur.Token != rec.Token {
				return err
			}
		}
		_, err := s.store.MarkGrabbed(ctx, n.ID, rec.Owner, rec.ClaimedAt, "claimed in shared store")
		return err
	}

	if !n.Claim.IsGrabbed {
		return nil
	}
	if n.Claim.GrabbedBy != s.operator {
		_, err := s.store.ClearClaim(ctx, n.ID, n.Claim.GrabbedBy, "released in shared store")
		return err
	}

	// Our own record is missing. Re-read before concluding anything: the
	// snapshot may predate a claim made since.
	cur, ok, err := s.claims.Inspect(ctx, n.ClaimKey())
	if err != nil || ok && cur.Owner == s.operator {
		return err
	}

	s.log.Warn("own claim record vanished",
		zap.String("id", n.ID),
		zap.String("key", n.ClaimKey()),
		zap.String("status", string(n.Status)))

	if n.Status == model.StatusPending {
		contenders := []string{"unknown"}
		if ok {
			contenders = []string{cur.Owner}
		}
		_, err := s.store.MarkConflict(ctx, n.ID, s.operator, contenders)
		return err
	}
	// An approved job is already running under our name; put the record back.
	if !ok {
		out, err := s.claims.TryClaim(ctx, n.ClaimKey(), s.operator)
		if err != nil {
			return err
		}
		if out.Result != claim.Granted {
			return s.store.Audit(ctx, n.ID, model.EventPriorityAssist, s.operator,
				"claim lost while job running: "+strings.Join(out.Contenders, ", "))
		}
	}
	return nil
}

// afterSweep frees the shared records of timed-out jobs and of archived
// items this operator still holds, so a later email on the same thread
// starts unclaimed.
func (s *Service) afterSweep(ctx context.Context, res notify.SweepResult) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	for _, n := range res.TimedOut {
		s.releaseShared(ctx, n)
	}
	for _, n := range res.Archived {
		if n.Claim.HeldBy(s.operator) {
			s.releaseShared(ctx, n)
		}
	}
	if len(res.Archived) > 0 {
		s.log.Debug("archived notifications", zap.Int("count", len(res.Archived)))
	}
}

// Run drives the background work until ctx is done: archive and timeout
// sweeps, claim reconciliation, job result delivery and the metrics
// endpoint.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.store.Run(ctx, s.sweepInterval, func(res notify.SweepResult) {
			s.afterSweep(ctx, res)
		})
	})

	if s.claimWatcher != nil {
		g.Go(func() error {
			return s.claimWatcher.Run(ctx, func(recs []model.ClaimRecord) {
				if err := s.Reconcile(ctx, recs); err != nil {
					s.log.Warn("reconcile claims", zap.Error(err))
				}
			})
		})
	}

	if s.resultWatcher != nil {
		g.Go(func() error {
			return s.resultWatcher.Run(ctx, func(r jobs.Result) {
				_, _ = s.OnJobResult(ctx, r.NotificationID, r.JobID, r.Success, r.Details)
			})
		})
	}

	if s.metricsAddr != "" {
		g.Go(func() error {
			if err := metrics.Serve(ctx, s.metricsAddr); err != nil {
				// The endpoint is optional; losing it must not stop triage.
				s.log.Warn("metrics endpoint stopped", zap.String("addr", s.metricsAddr), zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	s.dispatcher.Wait()
	return err
}
