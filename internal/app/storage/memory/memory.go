package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/contactbook/internal/app/domain/contact"
	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	nextUserID    int64
	nextContactID int64
	users         map[int64]user.User
	usersByEmail  map[string]int64
	contacts      map[int64]contact.Contact
	now           func() time.Time
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ContactStore = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextUserID:    1,
		nextContactID: 1,
		users:         make(map[int64]user.User),
		usersByEmail:  make(map[string]int64),
		contacts:      make(map[int64]contact.Contact),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = user.NormalizeEmail(u.Email)
	if _, exists := s.usersByEmail[u.Email]; exists {
		return user.User{}, storage.ErrDuplicate
	}

	u.ID = s.nextUserID
	s.nextUserID++
	now := s.now()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByEmail[u.Email] = u.ID
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SetRefreshToken(_ context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.RefreshToken = token
	u.UpdatedAt = s.now()
	s.users[id] = u
	return nil
}

func (s *Store) ConfirmEmail(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[user.NormalizeEmail(email)]
	if !ok {
		return storage.ErrNotFound
	}
	u := s.users[id]
	u.Confirmed = true
	u.UpdatedAt = s.now()
	s.users[id] = u
	return nil
}

func (s *Store) SetAvatar(_ context.Context, email, url string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	u := s.users[id]
	u.Avatar = url
	u.UpdatedAt = s.now()
	s.users[id] = u
	return u, nil
}

// ContactStore implementation -------------------------------------------------

func (s *Store) CreateContact(_ context.Context, c contact.Contact) (contact.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[c.UserID]; !ok {
		return contact.Contact{}, storage.ErrNotFound
	}

	c.ID = s.nextContactID
	s.nextContactID++
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now

	s.contacts[c.ID] = c
	return c, nil
}

func (s *Store) GetContact(_ context.Context, userID, id int64) (contact.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[id]
	if !ok || c.UserID != userID {
		return contact.Contact{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListContacts(_ context.Context, userID int64, filter contact.Filter) ([]contact.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	matched := make([]contact.Contact, 0)
	for _, c := range s.contacts {
		if c.UserID == userID && filter.Matches(c, now) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return paginate(matched, filter.Offset, filter.Limit), nil
}

func (s *Store) UpdateContact(_ context.Context, c contact.Contact) (contact.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.contacts[c.ID]
	if !ok || existing.UserID != c.UserID {
		return contact.Contact{}, storage.ErrNotFound
	}

	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now()
	s.contacts[c.ID] = c
	return c, nil
}

func (s *Store) DeleteContact(_ context.Context, userID, id int64) (contact.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok || c.UserID != userID {
		return contact.Contact{}, storage.ErrNotFound
	}
	delete(s.contacts, id)
	return c, nil
}

func (s *Store) ListUpcomingBirthdays(_ context.Context, userID int64, days int, now time.Time) ([]contact.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]contact.Contact, 0)
	for _, c := range s.contacts {
		if c.UserID == userID && contact.HasBirthdayWithin(c.BirthDate.Time, now, days) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func paginate(items []contact.Contact, offset, limit int) []contact.Contact {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []contact.Contact{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
