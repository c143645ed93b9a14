// Package contacts manages a user's address book.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/contactbook/internal/app/domain/contact"
	"github.com/R3E-Network/contactbook/internal/app/storage"
	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// Service exposes owner-scoped contact operations.
type Service struct {
	store storage.ContactStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a contact service.
func New(store storage.ContactStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("contacts")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// List returns a page of the user's contacts. Only the default page size is
// served; a zero limit selects it.
func (s *Service) List(ctx context.Context, userID int64, filter contact.Filter) ([]contact.Contact, error) {
	if filter.Limit == 0 {
		filter.Limit = contact.DefaultPageSize
	}
	if filter.Limit != contact.DefaultPageSize {
		return nil, svcerrors.Validation(fmt.Sprintf("limit must be %d", contact.DefaultPageSize)).
			WithDetails("field", "limit")
	}
	if filter.Offset < 0 {
		return nil, svcerrors.Validation("offset must be greater than or equal to 0").
			WithDetails("field", "offset")
	}

	filter.Name = strings.TrimSpace(filter.Name)
	filter.LastName = strings.TrimSpace(filter.LastName)
	filter.Email = strings.TrimSpace(filter.Email)

	items, err := s.store.ListContacts(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return items, nil
}

// Get returns one contact owned by userID.
func (s *Service) Get(ctx context.Context, userID, id int64) (contact.Contact, error) {
	c, err := s.store.GetContact(ctx, userID, id)
	if err != nil {
		return contact.Contact{}, notFound(err)
	}
	return c, nil
}

// Create adds a contact to the user's book.
func (s *Service) Create(ctx context.Context, userID int64, c contact.Contact) (contact.Contact, error) {
	c.ID = 0
	c.UserID = userID
	normalize(&c)

	created, err := s.store.CreateContact(ctx, c)
	if err != nil {
		return contact.Contact{}, fmt.Errorf("create contact: %w", err)
	}
	s.log.WithContext(ctx).WithField("contact_id", created.ID).Debug("contact created")
	return created, nil
}

// Update replaces every field of the contact identified by id.
func (s *Service) Update(ctx context.Context, userID, id int64, c contact.Contact) (contact.Contact, error) {
	c.ID = id
	c.UserID = userID
	normalize(&c)

	updated, err := s.store.UpdateContact(ctx, c)
	if err != nil {
		return contact.Contact{}, notFound(err)
	}
	return updated, nil
}

// Delete removes the contact and returns what was deleted.
func (s *Service) Delete(ctx context.Context, userID, id int64) (contact.Contact, error) {
	deleted, err := s.store.DeleteContact(ctx, userID, id)
	if err != nil {
		return contact.Contact{}, notFound(err)
	}
	s.log.WithContext(ctx).WithField("contact_id", id).Debug("contact deleted")
	return deleted, nil
}

// Upcoming returns the user's contacts whose birthday falls within the next
// days days.
func (s *Service) Upcoming(ctx context.Context, userID int64, days int) ([]contact.Contact, error) {
	if days <= 0 {
		days = contact.BirthdayWindowDays
	}
	items, err := s.store.ListUpcomingBirthdays(ctx, userID, days, s.now())
	if err != nil {
		return nil, fmt.Errorf("list upcoming birthdays: %w", err)
	}
	return items, nil
}

func normalize(c *contact.Contact) {
	c.Name = strings.TrimSpace(c.Name)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Email = strings.TrimSpace(c.Email)
	c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return svcerrors.NotFound("Contact not found")
	}
	return err
}
