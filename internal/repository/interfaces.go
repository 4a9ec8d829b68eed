package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/clinic-requests/internal/model"
)

type (
	// AuditRepository stores the lifecycle audit trail.
	AuditRepository interface {
		// Create inserts an entry; an event already recorded is ignored.
		Create(ctx context.Context, entry *model.AuditEntry) (bool, error)
		List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
		Cleanup(ctx context.Context, before time.Time) (int64, error)
		Ping(ctx context.Context) error
	}
)
