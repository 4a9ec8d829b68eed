package session

import (
	"context"
	"sync"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/storage"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

const (
	keyUserID   = "userId"
	keyOrgID    = "orgId"
	keyUserData = "userData"
)

// Resolver establishes the acting identity of one session from competing
// candidates. A candidate is accepted when it is complete and its source
// priority is at least that of the current one, whatever the arrival order.
type Resolver struct {
	mu      sync.Mutex
	current model.Candidate
	ready   chan struct{}

	store   storage.Store
	prefix  string
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewResolver(store storage.Store, prefix string, m *metrics.Metrics, log *logger.Logger) *Resolver {
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{
		ready:   make(chan struct{}),
		store:   store,
		prefix:  prefix,
		metrics: m,
		logger:  log,
	}
}

func (r *Resolver) key(k string) string { return r.prefix + k }

// Offer evaluates a candidate and reports whether it became current.
// Accepted candidates are persisted, except those read back from storage.
func (r *Resolver) Offer(ctx context.Context, c model.Candidate) bool {
	if !c.Complete() || c.Source.Priority() == 0 {
		return false
	}

	r.mu.Lock()
	if c.Source.Priority() < r.current.Source.Priority() {
		r.mu.Unlock()
		return false
	}
	changed := r.current.Identity != c.Identity
	r.current = c
	select {
	case <-r.ready:
	default:
		close(r.ready)
	}
	r.mu.Unlock()

	r.metrics.Resolutions.WithLabelValues(string(c.Source)).Inc()
	if changed {
		r.logger.Info("session identity resolved",
			"source", string(c.Source),
			"user_id", c.UserID.String(),
			"organization_id", c.OrganizationID.String())
	}

	if c.Source != model.SourceStorage {
		r.persist(ctx, c.Identity)
	}
	return true
}

func (r *Resolver) persist(ctx context.Context, id model.Identity) {
	if err := r.store.Set(ctx, r.key(keyUserID), id.UserID.String()); err != nil {
		r.logger.Warn("failed to persist user id", "error", err.Error())
	}
	if err := r.store.Set(ctx, r.key(keyOrgID), id.OrganizationID.String()); err != nil {
		r.logger.Warn("failed to persist organization id", "error", err.Error())
	}
}

// LoadStored offers the persisted identity, if any, as a storage candidate.
// It is meant to run concurrently with host message and URL offers.
func (r *Resolver) LoadStored(ctx context.Context) bool {
	user, okU, err := r.store.Get(ctx, r.key(keyUserID))
	if err != nil || !okU {
		return false
	}
	org, okO, err := r.store.Get(ctx, r.key(keyOrgID))
	if err != nil || !okO {
		return false
	}
	return r.Offer(ctx, model.Candidate{
		Identity: model.Identity{UserID: model.ID(user), OrganizationID: model.ID(org)},
		Source:   model.SourceStorage,
	})
}

// Current returns the resolved candidate, if any.
func (r *Resolver) Current() (model.Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current.Complete()
}

// Wait blocks until an identity is resolved or ctx ends. There is no
// timeout of its own.
func (r *Resolver) Wait(ctx context.Context) (model.Identity, error) {
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()

	select {
	case <-ready:
		c, _ := r.Current()
		return c.Identity, nil
	case <-ctx.Done():
		return model.Identity{}, ctx.Err()
	}
}

// Clear forgets the identity and removes its persisted values.
func (r *Resolver) Clear(ctx context.Context) {
	r.mu.Lock()
	r.current = model.Candidate{}
	select {
	case <-r.ready:
		r.ready = make(chan struct{})
	default:
	}
	r.mu.Unlock()

	for _, k := range []string{keyUserID, keyOrgID, keyUserData} {
		if err := r.store.Remove(ctx, r.key(k)); err != nil {
			r.logger.Warn("failed to clear stored identity", "key", k, "error", err.Error())
		}
	}
}
