package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/service/listing"
)

// Session is the explicit per-browser context handed to every component
// that needs the acting identity or the list state.
type Session struct {
	ID       string
	Resolver *Resolver
	View     *listing.View
	Created  time.Time

	manager *Manager

	mu       sync.Mutex
	userData *model.UserDetails
	dataFor  model.ID
	userFor  model.ID
	offered  bool
}

// Identity returns the resolved identity; ok is false while the session is
// awaiting authentication.
func (s *Session) Identity() (id model.Identity, ok bool) {
	c, ok := s.Resolver.Current()
	return c.Identity, ok
}

func (s *Session) Source() model.IdentitySource {
	c, _ := s.Resolver.Current()
	return c.Source
}

// Offer passes a candidate to the resolver and refreshes the cached user
// details when the acting user changed. A new organization starts from an
// empty list view.
func (s *Session) Offer(ctx context.Context, c model.Candidate) bool {
	s.mu.Lock()
	s.offered = true
	s.mu.Unlock()

	prev, _ := s.Resolver.Current()
	if !s.Resolver.Offer(ctx, c) {
		return false
	}
	if prev.OrganizationID != c.OrganizationID {
		s.View.Reset()
	}
	s.manager.loadUserDetails(s)
	return true
}

// UserData returns the cached federation profile of the acting user.
func (s *Session) UserData() *model.UserDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userData
}

func (s *Session) setUserData(ctx context.Context, userID model.ID, u *model.UserDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// the session was cleared or switched user while the fetch ran
	if s.userFor != userID {
		return
	}
	s.userData = u
	s.dataFor = userID

	if b, err := json.Marshal(u); err == nil {
		if err := s.manager.store.Set(ctx, s.Resolver.key(keyUserData), string(b)); err != nil {
			s.manager.logger.Warn("failed to persist user details", "error", err.Error())
		}
	}
}

// needsUserData reports whether details for userID are still missing and
// marks them as being fetched. Details of another user are dropped.
func (s *Session) needsUserData(userID model.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userFor == userID {
		return false
	}
	s.userFor = userID
	if s.dataFor != userID {
		s.userData = nil
		s.dataFor = ""
	}
	return true
}

// Clear removes the identity, cached user details and the list view.
func (s *Session) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userData = nil
	s.dataFor = ""
	s.userFor = ""
	s.Resolver.Clear(ctx)
	s.View.Reset()
}

// Status reports the storage diagnostics of the session.
func (s *Session) Status(ctx context.Context, inIframe bool) model.StorageStatus {
	has := func(k string) bool {
		v, ok, err := s.manager.store.Get(ctx, s.Resolver.key(k))
		return err == nil && ok && v != ""
	}
	return model.StorageStatus{
		StorageType: s.manager.store.Type(),
		IsInIframe:  inIframe,
		HasUserID:   has(keyUserID),
		HasOrgID:    has(keyOrgID),
		HasUserData: has(keyUserData),
	}
}
