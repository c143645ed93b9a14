package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/contactbook/internal/app/domain/contact"
	"github.com/R3E-Network/contactbook/internal/app/domain/user"
)

var (
	// ErrNotFound is returned when a record does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("storage: duplicate")
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	SetRefreshToken(ctx context.Context, id int64, token string) error
	ConfirmEmail(ctx context.Context, email string) error
	SetAvatar(ctx context.Context, email, url string) (user.User, error)
}

// ContactStore persists contacts. Every read and write is scoped to the
// owning user; a contact owned by someone else is reported as ErrNotFound.
type ContactStore interface {
	CreateContact(ctx context.Context, c contact.Contact) (contact.Contact, error)
	GetContact(ctx context.Context, userID, id int64) (contact.Contact, error)
	ListContacts(ctx context.Context, userID int64, filter contact.Filter) ([]contact.Contact, error)
	UpdateContact(ctx context.Context, c contact.Contact) (contact.Contact, error)
	DeleteContact(ctx context.Context, userID, id int64) (contact.Contact, error)
	ListUpcomingBirthdays(ctx context.Context, userID int64, days int, now time.Time) ([]contact.Contact, error)
}

// Pinger reports backend reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
