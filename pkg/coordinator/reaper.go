package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ravi-parthasarathy/stagecoord/pkg/registry"
)

// RunReaper removes STOPPED tasks older than retention every interval until
// ctx is done. onReap, if set, is called after each non-empty sweep.
func RunReaper(ctx context.Context, reg *registry.Registry, interval, retention time.Duration, onReap func(ids []string)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ids := reg.Reap(retention)
			if len(ids) == 0 {
				continue
			}
			slog.Info("reaped stopped tasks", "count", len(ids), "tasks", ids)
			if onReap != nil {
				onReap(ids)
			}
		}
	}
}
