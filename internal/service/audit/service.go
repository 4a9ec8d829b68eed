package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/repository"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

type Service struct {
	repo    repository.AuditRepository
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

func NewService(repo repository.AuditRepository, m *metrics.Metrics, log *logger.Logger) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, metrics: m, logger: log.With("audit"), now: time.Now}
}

// Record persists one lifecycle event. Redelivered events are ignored.
func (s *Service) Record(ctx context.Context, ev model.LifecycleEvent) error {
	if ev.ID == "" || ev.RequestID.IsZero() {
		return errors.Validation("lifecycle event needs an id and a request id")
	}

	entry := &model.AuditEntry{
		ID:                        uuid.New().String(),
		EventID:                   ev.ID,
		Action:                    string(ev.Action),
		RequestID:                 ev.RequestID.String(),
		NewStatus:                 string(ev.NewStatus),
		ActorUserID:               ev.Actor.UserID.String(),
		ActorOrganizationID:       ev.Actor.OrganizationID.String(),
		ActorName:                 ev.ActorName,
		CounterpartOrganizationID: ev.CounterpartOrganizationID.String(),
		OccurredAt:                ev.OccurredAt,
		CreatedAt:                 s.now().UTC(),
	}

	inserted, err := s.repo.Create(ctx, entry)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("create", "error").Inc()
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	if !inserted {
		s.metrics.DatabaseOperations.WithLabelValues("create", "duplicate").Inc()
		s.logger.Debug("duplicate lifecycle event ignored", "event_id", ev.ID)
		return nil
	}
	s.metrics.DatabaseOperations.WithLabelValues("create", "success").Inc()
	return nil
}

func (s *Service) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("list", "error").Inc()
		return nil, err
	}
	s.metrics.DatabaseOperations.WithLabelValues("list", "success").Inc()
	return entries, nil
}

// Cleanup deletes entries that occurred before now minus retention.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.Validation("retention must be positive")
	}
	cutoff := s.now().Add(-retention)

	rows, err := s.repo.Cleanup(ctx, cutoff)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("cleanup", "error").Inc()
		return 0, fmt.Errorf("failed to cleanup audit entries: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("cleanup", "success").Inc()
	s.logger.Info("cleaned up audit entries", "rows", rows, "cutoff", cutoff)
	return rows, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
