// Package claim coordinates "who is handling this" across independent
// clients that share nothing but a directory.
//
// The shared directory offers atomic replace and nothing else: no locks
// and no compare-and-swap. A claim is therefore optimistic. The claimant
// announces an intent, writes the record, then re-reads both. Any sign of
// a concurrent claimant turns the attempt into a Conflict, which is handed
// to a human instead of being settled by last-write-wins.
package claim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/model"
)

const (
	// DefaultTTL is the age after which a claim counts as abandoned.
	DefaultTTL = 2 * time.Hour

	// DefaultIntentWindow is how long an intent counts as a live attempt.
	DefaultIntentWindow = 5 * time.Minute
)

// Result classifies the outcome of TryClaim.
type Result int

const (
	// Granted means the record is ours and nobody else is attempting it.
	Granted Result = iota
	// AlreadyClaimed means a fresh record names another operator.
	AlreadyClaimed
	// Conflict means ownership could not be established.
	Conflict
)

func (r Result) String() string {
	switch r {
	case Granted:
		return "granted"
	case AlreadyClaimed:
		return "already_claimed"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Outcome is the full result of a claim attempt.
type Outcome struct {
	Result Result

	// Owner is the current owner for AlreadyClaimed, or the operator for
	// Granted.
	Owner string

	// ForcedFrom names the previous owner when a stale claim was taken
	// over.
	ForcedFrom string

	// Contenders lists the other operators seen during a Conflict.
	Contenders []string

	// Record is the record as last read.
	Record model.ClaimRecord
}

// Coordinator runs claim operations against a RecordStore. Every
// operation is single-shot and re-reads shared state; nothing is cached
// between calls.
type Coordinator struct {
	store        RecordStore
	ttl          time.Duration
	settle       time.Duration
	intentWindow time.Duration
	now          func() time.Time
	newToken     func() string
	sleep        func(context.Context, time.Duration) error
	log          *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTTL sets the staleness threshold.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.ttl = ttl
	}
}

// WithSettle sets the delay between writing a claim and verifying it.
// A longer delay widens the window in which racing writers are noticed
// on slowly synchronizing media.
func WithSettle(d time.Duration) Option {
	return func(c *Coordinator) {
		c.settle = d
	}
}

// WithIntentWindow sets how long intents count as live.
func WithIntentWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		c.intentWindow = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithTokenFunc sets the claim token generator.
func WithTokenFunc(fn func() string) Option {
	return func(c *Coordinator) {
		c.newToken = fn
	}
}

// WithSleep replaces the settle delay implementation. Tests use it to
// interleave two claimants deterministically.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Coordinator) {
		c.sleep = fn
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// NewCoordinator returns a coordinator over store.
func NewCoordinator(store RecordStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		ttl:          DefaultTTL,
		intentWindow: DefaultIntentWindow,
		now:          time.Now,
		newToken:     uuid.NewString,
		sleep:        sleepCtx,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("claim")
	return c
}

// TTL returns the staleness threshold.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// IsStale reports whether rec is past the TTL.
func (c *Coordinator) IsStale(rec model.ClaimRecord) bool {
	return rec.Stale(c.now(), c.ttl)
}

// TryClaim attempts to make operator the owner of key. Store failures
// yield a Conflict outcome together with an error wrapping
// ErrStoreUnavailable; a claim is never granted on an unverified write.
func (c *Coordinator) TryClaim(ctx context.Context, key, operator string) (Outcome, error) {
	if key == "" || operator == "" {
		return Outcome{Result: Conflict}, fmt.Errorf("claim requires key and operator")
	}

	prev, found, err := c.store.Read(ctx, key)
	if err != nil {
		return Outcome{Result: Conflict}, c.unavailable("read record", key, err)
	}

	var forcedFrom string
	if found {
		switch {
		case prev.Owner == operator:
			return Outcome{Result: Granted, Owner: operator, Record: prev}, nil
		case !c.IsStale(prev):
			return Outcome{Result: AlreadyClaimed, Owner: prev.Owner, Record: prev}, nil
		default:
			forcedFrom = prev.Owner
			c.log.Warn("taking over stale claim",
				zap.String("key", key),
				zap.String("operator", operator),
				zap.String("previous_owner", prev.Owner),
				zap.Time("claimed_at", prev.ClaimedAt),
			)
		}
	}

	now := c.now().UTC()
	token := c.newToken()

	intent := model.ClaimIntent{Operator: operator, Token: token, At: now}
	if err := c.store.WriteIntent(ctx, key, intent); err != nil {
		return Outcome{Result: Conflict}, c.unavailable("write intent", key, err)
	}

	rec := model.ClaimRecord{
		Key:       key,
		Owner:     operator,
		ClaimedAt: now,
		Version:   prev.Version + 1,
		Token:     token,
	}
	if err := c.store.Write(ctx, rec); err != nil {
		_ = c.store.RemoveIntent(ctx, key, operator)
		return Outcome{Result: Conflict}, c.unavailable("write record", key, err)
	}

	if c.settle > 0 {
		if err := c.sleep(ctx, c.settle); err != nil {
			c.rollback(ctx, key, token, prev, found)
			return Outcome{Result: Conflict}, fmt.Errorf("claim %s: %w", key, err)
		}
	}

	current, currentFound, err := c.store.Read(ctx, key)
	if err != nil {
		c.rollback(ctx, key, token, prev, found)
		return Outcome{Result: Conflict}, c.unavailable("verify record", key, err)
	}
	intents, err := c.store.Intents(ctx, key)
	if err != nil {
		c.rollback(ctx, key, token, prev, found)
		return Outcome{Result: Conflict}, c.unavailable("read intents", key, err)
	}

	contenders := c.contenders(intents, token)
	ours := currentFound && current.Owner == operator && current.Token == token
	if currentFound && !ours && current.Owner != operator {
		contenders = appendUnique(contenders, current.Owner)
	}

	if ours && len(contenders) == 0 {
		return Outcome{Result: Granted, Owner: operator, ForcedFrom: forcedFrom, Record: current}, nil
	}

	c.rollback(ctx, key, token, prev, found)
	c.log.Warn("claim conflict",
		zap.String("key", key),
		zap.String("operator", operator),
		zap.Strings("contenders", contenders),
	)
	return Outcome{
		Result:     Conflict,
		ForcedFrom: forcedFrom,
		Contenders: contenders,
		Record:     current,
	}, nil
}

// Release removes operator's claim on key. It fails with ErrNotOwner,
// leaving the record untouched, when someone else holds it.
func (c *Coordinator) Release(ctx context.Context, key, operator string) error {
	rec, found, err := c.store.Read(ctx, key)
	if err != nil {
		return c.unavailable("read record", key, err)
	}
	if !found {
		_ = c.store.RemoveIntent(ctx, key, operator)
		return fmt.Errorf("%w: %s", ErrNotClaimed, key)
	}
	if rec.Owner != operator {
		return fmt.Errorf("%w: %s owns %s", ErrNotOwner, rec.Owner, key)
	}

	if err := c.store.Remove(ctx, key); err != nil {
		return c.unavailable("remove record", key, err)
	}
	if err := c.store.RemoveIntent(ctx, key, operator); err != nil {
		c.log.Debug("remove intent failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Resolve settles a conflict by hand: every intent for key is cleared and
// the record is written for operator, whatever it held before.
func (c *Coordinator) Resolve(ctx context.Context, key, operator string) (model.ClaimRecord, error) {
	if key == "" || operator == "" {
		return model.ClaimRecord{}, fmt.Errorf("resolve requires key and operator")
	}
	prev, _, err := c.store.Read(ctx, key)
	if err != nil {
		return model.ClaimRecord{}, c.unavailable("read record", key, err)
	}
	if err := c.store.ClearIntents(ctx, key); err != nil {
		return model.ClaimRecord{}, c.unavailable("clear intents", key, err)
	}

	rec := model.ClaimRecord{
		Key:       key,
		Owner:     operator,
		ClaimedAt: c.now().UTC(),
		Version:   prev.Version + 1,
		Token:     c.newToken(),
	}
	if err := c.store.Write(ctx, rec); err != nil {
		return model.ClaimRecord{}, c.unavailable("write record", key, err)
	}
	c.log.Info("conflict resolved",
		zap.String("key", key),
		zap.String("owner", operator),
		zap.String("previous_owner", prev.Owner),
	)
	return rec, nil
}

// Inspect returns the current record for key.
func (c *Coordinator) Inspect(ctx context.Context, key string) (model.ClaimRecord, bool, error) {
	rec, found, err := c.store.Read(ctx, key)
	if err != nil {
		return model.ClaimRecord{}, false, c.unavailable("read record", key, err)
	}
	return rec, found, nil
}

// List returns every record in the store.
func (c *Coordinator) List(ctx context.Context) ([]model.ClaimRecord, error) {
	recs, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrStoreUnavailable, err)
	}
	return recs, nil
}

// contenders returns the operators with a live intent other than ours.
func (c *Coordinator) contenders(intents []model.ClaimIntent, token string) []string {
	now := c.now()
	var out []string
	for _, in := range intents {
		if in.Token == token {
			continue
		}
		if c.intentWindow > 0 && now.Sub(in.At) > c.intentWindow {
			continue
		}
		out = appendUnique(out, in.Operator)
	}
	sort.Strings(out)
	return out
}

// rollback undoes our record write if the record is still ours. The
// previous record is restored when there was one so a stale owner is not
// silently erased by a failed takeover. Intents are left in place for
// racing claimants to see.
func (c *Coordinator) rollback(ctx context.Context, key, token string, prev model.ClaimRecord, hadPrev bool) {
	// Rollback must run even if the caller's context was cancelled.
	ctx = context.WithoutCancel(ctx)

	current, found, err := c.store.Read(ctx, key)
	if err != nil || !found || current.Token != token {
		return
	}

	if hadPrev {
		err = c.store.Write(ctx, prev)
	} else {
		err = c.store.Remove(ctx, key)
	}
	if err != nil {
		c.log.Error("claim rollback failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Coordinator) unavailable(op, key string, err error) error {
	c.log.Error("claim store failure", zap.String("op", op), zap.String("key", key), zap.Error(err))
	return fmt.Errorf("%w: %s %s: %w", ErrStoreUnavailable, op, key, err)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
