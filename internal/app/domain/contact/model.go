package contact

import "time"

const (
	// DefaultPageSize is the only page size the list endpoint serves.
	DefaultPageSize = 10
	// BirthdayWindowDays is the look-ahead used by the upcoming birthdays filter.
	BirthdayWindowDays = 7
)

// Contact is an address book entry owned by a single user.
type Contact struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"-" db:"user_id"`
	Name        string    `json:"name" db:"name"`
	LastName    string    `json:"last_name" db:"last_name"`
	Email       string    `json:"email" db:"email"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	BirthDate   Date      `json:"birth_date" db:"birth_date"`
	Rest        string    `json:"rest" db:"rest"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Filter narrows a contact listing. Empty string fields are ignored; set
// fields must match exactly and are combined with AND.
type Filter struct {
	Limit             int
	Offset            int
	Name              string
	LastName          string
	Email             string
	UpcomingBirthdays bool
}

// Matches reports whether c satisfies every non-empty field of f. The
// birthday condition is evaluated against now.
func (f Filter) Matches(c Contact, now time.Time) bool {
	if f.Name != "" && c.Name != f.Name {
		return false
	}
	if f.LastName != "" && c.LastName != f.LastName {
		return false
	}
	if f.Email != "" && c.Email != f.Email {
		return false
	}
	if f.UpcomingBirthdays && !HasBirthdayWithin(c.BirthDate.Time, now, BirthdayWindowDays) {
		return false
	}
	return true
}
