package coordinator

import (
	"context"
	"log/slog"

	"github.com/ravi-parthasarathy/stagecoord/pkg/registry"
)

// SnapshotWriter saves registry snapshots from a single background goroutine.
// Changes signalled while a save is in progress are coalesced into one more
// save, so request handlers never wait on disk I/O.
type SnapshotWriter struct {
	path  string
	dirty chan struct{}
}

// NewSnapshotWriter returns a writer for path. Pass MarkDirty to
// registry.WithOnChange and start Run once the registry exists.
func NewSnapshotWriter(path string) *SnapshotWriter {
	return &SnapshotWriter{path: path, dirty: make(chan struct{}, 1)}
}

// MarkDirty schedules a save. It never blocks.
func (w *SnapshotWriter) MarkDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Run saves reg after each batch of changes until ctx is done, then writes a
// final snapshot. Failed intermediate saves are logged and retried on the next
// change; a failed final save is returned.
func (w *SnapshotWriter) Run(ctx context.Context, reg *registry.Registry) error {
	for {
		select {
		case <-ctx.Done():
			return reg.SaveSnapshot(w.path)
		case <-w.dirty:
			if err := reg.SaveSnapshot(w.path); err != nil {
				slog.Warn("save registry snapshot", "path", w.path, "error", err)
			}
		}
	}
}
