package triage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/claim"
	"github.com/nhle/mail-triage/internal/dedup"
	"github.com/nhle/mail-triage/internal/gate"
	"github.com/nhle/mail-triage/internal/jobs"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/notify"
	"github.com/nhle/mail-triage/internal/store"
)

// Runtime is a Service together with the resources it owns.
type Runtime struct {
	Service *Service
	DB      *store.SQLiteStore
	Claims  *claim.Coordinator
}

// Close releases the database.
func (r *Runtime) Close() error {
	return r.DB.Close()
}

// Open builds the full service from cfg: the local database, the
// notification store restored from it, the shared claim directory and the
// job spool.
func Open(ctx context.Context, cfg *model.AppConfig, log *zap.Logger) (*Runtime, error) {
	if log == nil {
		log = zap.NewNop()
	}

	policy, err := gate.NewPolicy(cfg.Gate.ReviewThreshold)
	if err != nil {
		return nil, fmt.Errorf("gate policy: %w", err)
	}
	late, err := dedup.ParseLateEmailPolicy(cfg.Lifecycle.LateEmailPolicy)
	if err != nil {
		return nil, fmt.Errorf("late email policy: %w", err)
	}

	if cfg.Store.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	notifications := notify.NewStore(
		notify.WithPersister(db),
		notify.WithArchiveGrace(cfg.Lifecycle.ArchiveGrace),
		notify.WithJobTimeout(cfg.Lifecycle.JobTimeout),
		notify.WithLogger(log),
	)
	if err := notifications.Load(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	records, err := claim.NewFileStore(cfg.Claims.SharedDir)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("claims directory: %w", err), db.Close())
	}
	coordinator := claim.NewCoordinator(records,
		claim.WithTTL(cfg.Claims.TTL),
		claim.WithSettle(cfg.Claims.Settle),
		claim.WithIntentWindow(cfg.Claims.IntentWindow),
		claim.WithLogger(log),
	)

	runner, err := jobs.NewSpoolRunner(cfg.Jobs.SpoolDir)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("job spool: %w", err), db.Close())
	}

	scan := cfg.Claims.PollInterval
	if scan <= 0 {
		scan = 10 * time.Second
	}

	svc, err := New(cfg.Operator.Name, notifications, coordinator, jobs.NewDispatcher(runner, log),
		WithPolicy(policy),
		WithPlanner(dedup.NewPlanner(late)),
		WithClaimWatcher(claim.NewWatcher(records, scan, log)),
		WithResultWatcher(jobs.NewResultWatcher(runner.Dir(), scan, log)),
		WithHistory(db),
		WithSweepInterval(cfg.Lifecycle.SweepInterval),
		WithMetricsAddr(cfg.Metrics.Listen),
		WithLogger(log),
	)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &Runtime{Service: svc, DB: db, Claims: coordinator}, nil
}
