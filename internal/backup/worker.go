package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/attune/internal/profile"
)

// dirPrefix marks directories written by profile.Store.Backup.
const dirPrefix = "attune-"

// Snapshotter writes one backup under dir.
type Snapshotter interface {
	Backup(ctx context.Context, dir string) (profile.Manifest, error)
}

// Worker snapshots every profile on a fixed interval and prunes old
// backups. Manual runs through RunOnce never overlap a scheduled one.
type Worker struct {
	snap     Snapshotter
	dir      string
	interval time.Duration
	keep     int
	logger   *slog.Logger

	mu sync.Mutex
}

// NewWorker creates a Worker writing into dir. If interval is <= 0 Run
// returns immediately. keep <= 0 keeps every backup.
func NewWorker(snap Snapshotter, dir string, interval time.Duration, keep int) *Worker {
	return &Worker{
		snap:     snap,
		dir:      dir,
		interval: interval,
		keep:     keep,
		logger:   slog.Default(),
	}
}

// Dir returns the directory backups are written to.
func (w *Worker) Dir() string { return w.dir }

// Run takes a backup every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("scheduled backup failed", "error", err)
		}
	}
}

// RunOnce takes a backup now and prunes backups beyond the keep limit.
func (w *Worker) RunOnce(ctx context.Context) (profile.Manifest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, err := w.snap.Backup(ctx, w.dir)
	if err != nil {
		return profile.Manifest{}, fmt.Errorf("taking backup: %w", err)
	}
	if err := w.prune(); err != nil {
		// The new backup is intact; a failed prune only leaves extra copies.
		w.logger.Warn("pruning old backups failed", "dir", w.dir, "error", err)
	}
	return m, nil
}

// List returns the backup directories under dir, oldest first.
func (w *Worker) List() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), dirPrefix) {
			out = append(out, filepath.Join(w.dir, e.Name()))
		}
	}
	// Names embed a fixed-width UTC timestamp, so lexical order is age order.
	sort.Strings(out)
	return out, nil
}

func (w *Worker) prune() error {
	if w.keep <= 0 {
		return nil
	}
	dirs, err := w.List()
	if err != nil {
		return err
	}
	for len(dirs) > w.keep {
		if err := os.RemoveAll(dirs[0]); err != nil {
			return err
		}
		w.logger.Debug("removed old backup", "dir", dirs[0])
		dirs = dirs[1:]
	}
	return nil
}
