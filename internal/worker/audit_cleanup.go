package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/clinic-requests/pkg/logger"
)

// Cleaner removes audit entries older than the retention window.
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type AuditCleanupWorker struct {
	cleaner         Cleaner
	retention       time.Duration
	cleanupInterval time.Duration
	logger          *logger.Logger
}

func NewAuditCleanupWorker(cleaner Cleaner, retention, cleanupInterval time.Duration, log *logger.Logger) *AuditCleanupWorker {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditCleanupWorker{
		cleaner:         cleaner,
		retention:       retention,
		cleanupInterval: cleanupInterval,
		logger:          log.With("audit_cleanup"),
	}
}

func (w *AuditCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *AuditCleanupWorker) runOnce(ctx context.Context) {
	rows, err := w.cleaner.Cleanup(ctx, w.retention)
	if err != nil {
		// keep ticking
		w.logger.Error(err, "failed to cleanup audit entries")
		return
	}
	w.logger.Debug("audit cleanup pass finished", "rows", rows)
}
