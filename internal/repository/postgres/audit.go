package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/repository"
)

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, entry *model.AuditEntry) (bool, error) {
	query := `
        INSERT INTO request_audit_entries (
            id, event_id, action, request_id, new_status, actor_user_id,
            actor_organization_id, actor_name, counterpart_organization_id,
            occurred_at, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (event_id) DO NOTHING
    `

	var inserted int64
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			entry.ID,
			entry.EventID,
			entry.Action,
			entry.RequestID,
			entry.NewStatus,
			entry.ActorUserID,
			entry.ActorOrganizationID,
			entry.ActorName,
			entry.CounterpartOrganizationID,
			entry.OccurredAt,
			entry.CreatedAt,
		)
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to create audit entry: %w", err)
	}
	return inserted > 0, nil
}

func (r *auditRepository) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	query := `SELECT * FROM request_audit_entries WHERE 1=1`
	var args []interface{}

	if filter.RequestID != "" {
		args = append(args, filter.RequestID)
		query += fmt.Sprintf(" AND request_id = $%d", len(args))
	}
	query += " ORDER BY occurred_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	var entries []*model.AuditEntry
	if err := r.GetDB().SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

func (r *auditRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	query := `
        DELETE FROM request_audit_entries
        WHERE occurred_at < $1
    `

	result, err := r.GetDB().ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit entries: %w", err)
	}

	return result.RowsAffected()
}

func (r *auditRepository) Ping(ctx context.Context) error {
	return r.GetDB().PingContext(ctx)
}
