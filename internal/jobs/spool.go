package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/nhle/mail-triage/internal/atomicfile"
)

// Spool directory layout.
const (
	RequestsDir  = "requests"
	CancelDir    = "cancel"
	ResultsDir   = "results"
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

var validJobID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// SpoolRunner submits jobs by dropping request files into a directory that
// an external worker consumes.
type SpoolRunner struct {
	dir string
	now func() time.Time
}

// NewSpoolRunner creates the spool layout under dir.
func NewSpoolRunner(dir string) (*SpoolRunner, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool directory is not configured")
	}
	for _, sub := range []string{RequestsDir, CancelDir, filepath.Join(ResultsDir, ProcessedDir)} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("creating spool %s: %w", sub, err)
		}
	}
	return &SpoolRunner{dir: dir, now: time.Now}, nil
}

// Dir returns the spool root.
func (r *SpoolRunner) Dir() string { return r.dir }

// Submit writes <spool>/requests/<jobID>.json.
func (r *SpoolRunner) Submit(_ context.Context, req Request) error {
	if !validJobID.MatchString(req.JobID) {
		return fmt.Errorf("invalid job id %q", req.JobID)
	}
	path := filepath.Join(r.dir, RequestsDir, req.JobID+".json")
	if err := atomicfile.WriteJSON(path, req); err != nil {
		return fmt.Errorf("%w: %w", ErrRunnerUnavailable, err)
	}
	return nil
}

type cancelRequest struct {
	JobID       string    `json:"job_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Cancel writes <spool>/cancel/<jobID>.json. The worker decides whether
// the job can still be stopped.
func (r *SpoolRunner) Cancel(_ context.Context, jobID string) error {
	if !validJobID.MatchString(jobID) {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	path := filepath.Join(r.dir, CancelDir, jobID+".json")
	if err := atomicfile.WriteJSON(path, cancelRequest{JobID: jobID, RequestedAt: r.now().UTC()}); err != nil {
		return fmt.Errorf("%w: %w", ErrRunnerUnavailable, err)
	}
	return nil
}
