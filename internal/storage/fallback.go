package storage

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

// FallbackStore serves from a primary backend until it fails once, then
// switches to the in-memory fallback for the rest of the process lifetime.
type FallbackStore struct {
	primary  Store
	fallback Store
	degraded atomic.Bool
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewFallbackStore probes the primary when it supports probing. A nil
// primary starts degraded.
func NewFallbackStore(ctx context.Context, primary, fallback Store, m *metrics.Metrics, log *logger.Logger) *FallbackStore {
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &FallbackStore{primary: primary, fallback: fallback, metrics: m, logger: log.With("storage")}

	if primary == nil {
		s.degrade(nil)
		return s
	}
	if p, ok := primary.(Prober); ok {
		if err := p.Probe(ctx); err != nil {
			s.degrade(err)
		}
	}
	return s
}

func (s *FallbackStore) degrade(err error) {
	if s.degraded.Swap(true) {
		return
	}
	s.metrics.StorageFallback.Set(1)
	if err != nil {
		s.logger.Warn("identity storage switched to memory", "error", err.Error())
	}
}

// callerGone reports errors caused by the caller's context rather than the
// backend; those never switch the store.
func callerGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *FallbackStore) active() Store {
	if s.degraded.Load() {
		return s.fallback
	}
	return s.primary
}

func (s *FallbackStore) Get(ctx context.Context, key string) (string, bool, error) {
	if !s.degraded.Load() {
		v, ok, err := s.primary.Get(ctx, key)
		if err == nil {
			return v, ok, nil
		}
		if callerGone(ctx, err) {
			return "", false, err
		}
		s.degrade(err)
	}
	return s.fallback.Get(ctx, key)
}

func (s *FallbackStore) Set(ctx context.Context, key, value string) error {
	if !s.degraded.Load() {
		err := s.primary.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		if callerGone(ctx, err) {
			return err
		}
		s.degrade(err)
	}
	return s.fallback.Set(ctx, key, value)
}

func (s *FallbackStore) Remove(ctx context.Context, key string) error {
	if !s.degraded.Load() {
		err := s.primary.Remove(ctx, key)
		if err == nil {
			return nil
		}
		if callerGone(ctx, err) {
			return err
		}
		s.degrade(err)
	}
	return s.fallback.Remove(ctx, key)
}

// Type reports the backend currently serving calls.
func (s *FallbackStore) Type() string { return s.active().Type() }

func (s *FallbackStore) Degraded() bool { return s.degraded.Load() }
