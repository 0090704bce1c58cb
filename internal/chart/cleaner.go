package chart

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/EXCurryBar/mybot/internal/observability"
)

const (
	DefaultRetention     = 10 * time.Minute
	DefaultCleanInterval = 30 * time.Minute
)

// ScheduleRemoval deletes path after delay. The reply only carries a URL, so the
// file has to outlive the send long enough for the platform to fetch it.
func ScheduleRemoval(path string, delay time.Duration) *time.Timer {
	return time.AfterFunc(delay, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			observability.Logger().Warn("remove chart failed", "path", path, "err", err)
		}
	})
}

// StartCleaner sweeps charts older than ttl until ctx is done, catching files
// whose scheduled removal never ran (restarts, failed sends).
func (r *Renderer) StartCleaner(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanInterval
	}
	if ttl <= 0 {
		ttl = DefaultRetention
	}
	go r.cleanupLoop(ctx, interval, ttl)
}

func (r *Renderer) cleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.cleanupExpired(time.Now().Add(-ttl)); err != nil {
				observability.Logger().Warn("cleanup charts error", "err", err)
			} else if n > 0 {
				observability.Logger().Debug("cleanup charts", "removed", n)
			}
		}
	}
}

func (r *Renderer) cleanupExpired(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			observability.Logger().Warn("remove chart failed", "path", path, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
