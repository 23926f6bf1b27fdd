package jobs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/atomicfile"
	"github.com/nhle/mail-triage/internal/dirwatch"
)

// ResultWatcher delivers result files written by the worker into
// <spool>/results. Each file is delivered once and then moved to
// results/processed, or to results/rejected if it cannot be parsed.
type ResultWatcher struct {
	dir string
	dw  *dirwatch.Watcher
	log *zap.Logger
}

// NewResultWatcher watches the results directory of the spool at dir.
func NewResultWatcher(dir string, interval time.Duration, log *zap.Logger) *ResultWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("job-results")
	results := filepath.Join(dir, ResultsDir)
	return &ResultWatcher{
		dir: results,
		dw:  dirwatch.New(results, interval, log),
		log: log,
	}
}

// Run blocks until ctx is done.
func (w *ResultWatcher) Run(ctx context.Context, onResult func(Result)) error {
	w.Scan(onResult)
	return w.dw.Run(ctx, func() { w.Scan(onResult) })
}

// Scan delivers every pending result file, oldest name first.
func (w *ResultWatcher) Scan(onResult func(Result)) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("read results dir", zap.Error(err))
		return
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(w.dir, name)

		var res Result
		found, err := atomicfile.ReadJSON(path, &res)
		if !found && err == nil {
			continue
		}
		if err != nil || res.JobID == "" || res.NotificationID == "" {
			w.log.Warn("rejecting result file", zap.String("file", name), zap.Error(err))
			w.move(path, RejectedDir)
			continue
		}

		w.move(path, ProcessedDir)
		onResult(res)
	}
}

func (w *ResultWatcher) move(path, sub string) {
	dst := filepath.Join(w.dir, sub)
	if err := os.MkdirAll(dst, 0755); err != nil {
		w.log.Warn("create results subdir", zap.String("dir", sub), zap.Error(err))
		return
	}
	if err := os.Rename(path, filepath.Join(dst, filepath.Base(path))); err != nil {
		w.log.Warn("move result file", zap.String("file", filepath.Base(path)), zap.Error(err))
	}
}
