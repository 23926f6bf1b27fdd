package claim

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/dirwatch"
	"github.com/nhle/mail-triage/internal/model"
)

// Watcher reports the full set of claim records whenever it changes.
type Watcher struct {
	store *FileStore
	dw    *dirwatch.Watcher
	log   *zap.Logger
	last  map[string]snapshot
}

type snapshot struct {
	owner   string
	version int64
	token   string
}

// NewWatcher watches the directory of store, rescanning every interval.
func NewWatcher(store *FileStore, interval time.Duration, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("claim-watcher")
	return &Watcher{
		store: store,
		dw:    dirwatch.New(store.Dir(), interval, log),
		log:   log,
	}
}

// Run blocks until ctx is done. onChange receives every record each time
// the set differs from the previous scan, starting with the first scan.
func (w *Watcher) Run(ctx context.Context, onChange func([]model.ClaimRecord)) error {
	w.scan(ctx, onChange)
	return w.dw.Run(ctx, func() { w.scan(ctx, onChange) })
}

func (w *Watcher) scan(ctx context.Context, onChange func([]model.ClaimRecord)) {
	recs, err := w.store.List(ctx)
	if err != nil {
		w.log.Warn("scan claims", zap.Error(err))
		return
	}

	next := make(map[string]snapshot, len(recs))
	for _, r := range recs {
		next[r.Key] = snapshot{owner: r.Owner, version: r.Version, token: r.Token}
	}
	if w.last != nil && equalSnapshots(w.last, next) {
		return
	}
	w.last = next
	onChange(recs)
}

func equalSnapshots(a, b map[string]snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
