package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSubmitTimeout bounds a single Submit or Cancel call.
const DefaultSubmitTimeout = 30 * time.Second

// Dispatcher calls a Runner on background goroutines so that approving or
// dismissing never blocks the caller.
type Dispatcher struct {
	runner  Runner
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher wraps runner.
func NewDispatcher(runner Runner, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		runner:  runner,
		timeout: DefaultSubmitTimeout,
		log:     log.Named("dispatch"),
	}
}

// Dispatch submits req in the background. onFail runs if the runner
// rejects it.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, onFail func(error)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.runner.Submit(ctx, req); err != nil {
			d.log.Warn("submit failed",
				zap.String("job", req.JobID),
				zap.String("notification", req.NotificationID),
				zap.Error(err))
			if onFail != nil {
				onFail(err)
			}
			return
		}
		d.log.Info("job submitted",
			zap.String("job", req.JobID),
			zap.String("notification", req.NotificationID))
	}()
}

// Cancel asks the runner to stop jobID without waiting for the answer.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) {
	if jobID == "" {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.runner.Cancel(ctx, jobID); err != nil {
			d.log.Warn("cancel failed", zap.String("job", jobID), zap.Error(err))
		}
	}()
}

// Wait blocks until all background calls have returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
