package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/service/listing"
	"github.com/jwalitptl/clinic-requests/internal/storage"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

// UserDirectory looks up federation user profiles.
type UserDirectory interface {
	UserDetails(ctx context.Context, userID model.ID) (*model.UserDetails, error)
}

type Options struct {
	IdleTTL         time.Duration
	UserDataTimeout time.Duration
	Listing         listing.Options
}

// Manager owns the session registry. Sessions idle longer than IdleTTL are
// evicted; their persisted identity stays in the store.
type Manager struct {
	sessions *cache.Cache
	store    storage.Store
	users    UserDirectory
	fetcher  listing.Fetcher
	opts     Options
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

func NewManager(store storage.Store, users UserDirectory, fetcher listing.Fetcher, opts Options, m *metrics.Metrics, log *logger.Logger) *Manager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 12 * time.Hour
	}
	if opts.UserDataTimeout <= 0 {
		opts.UserDataTimeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		sessions: cache.New(opts.IdleTTL, opts.IdleTTL/2),
		store:    store,
		users:    users,
		fetcher:  fetcher,
		opts:     opts,
		metrics:  m,
		logger:   log.With("session"),
	}
}

// NewID returns a fresh session id.
func NewID() string { return uuid.NewString() }

// Get returns a live session and extends its idle deadline.
func (m *Manager) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	m.sessions.SetDefault(id, s)
	return s, true
}

// GetOrCreate returns the session for id, creating it when unknown. A new
// session starts loading its persisted identity in the background.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	if s, ok := m.Get(id); ok {
		return s, false
	}
	if id == "" {
		id = NewID()
	}

	s := &Session{
		ID:       id,
		Resolver: NewResolver(m.store, "session:"+id+":", m.metrics, m.logger.WithFields(map[string]interface{}{"session_id": id})),
		View:     listing.NewView(m.fetcher, m.opts.Listing, m.metrics, m.logger),
		Created:  time.Now(),
		manager:  m,
	}
	if err := m.sessions.Add(id, s, cache.DefaultExpiration); err != nil {
		// lost a creation race
		if existing, ok := m.Get(id); ok {
			return existing, false
		}
	}

	go m.restore(s)
	return s, true
}

func (m *Manager) restore(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.UserDataTimeout)
	defer cancel()

	if raw, ok, err := m.store.Get(ctx, s.Resolver.key(keyUserData)); err == nil && ok {
		owner, _, _ := m.store.Get(ctx, s.Resolver.key(keyUserID))
		var u model.UserDetails
		if json.Unmarshal([]byte(raw), &u) == nil {
			s.mu.Lock()
			// stored details are stale once a live offer has arrived
			if s.userData == nil && !s.offered {
				s.userData = &u
				s.dataFor = model.ID(owner)
			}
			s.mu.Unlock()
		}
	}
	if s.Resolver.LoadStored(ctx) {
		m.loadUserDetails(s)
	}
}

// loadUserDetails fetches the acting user's profile once per user id.
func (m *Manager) loadUserDetails(s *Session) {
	c, ok := s.Resolver.Current()
	if !ok || m.users == nil || !s.needsUserData(c.UserID) {
		return
	}

	go func(userID model.ID) {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.UserDataTimeout)
		defer cancel()
		u, err := m.users.UserDetails(ctx, userID)
		if err != nil {
			m.logger.Warn("failed to fetch user details", "user_id", userID.String(), "error", err.Error())
			s.mu.Lock()
			if s.userFor == userID {
				s.userFor = ""
			}
			s.mu.Unlock()
			return
		}
		s.setUserData(ctx, userID, u)
	}(c.UserID)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int { return m.sessions.ItemCount() }

func (m *Manager) StoreType() string { return m.store.Type() }
