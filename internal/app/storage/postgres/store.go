package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/contactbook/internal/app/domain/contact"
	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ContactStore = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

const userColumns = `id, username, email, password, avatar, refresh_token, confirmed, created_at, updated_at`

const contactColumns = `id, user_id, name, last_name, email, phone_number, birth_date, rest, created_at, updated_at`

// Ping runs SELECT 1 so health checks exercise a real round trip.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowxContext(ctx, `SELECT 1`).Scan(&one)
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	u.Email = user.NormalizeEmail(u.Email)
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO users (username, email, password, avatar, refresh_token, confirmed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, u.Username, u.Email, u.PasswordHash, u.Avatar, u.RefreshToken, u.Confirmed, u.CreatedAt, u.UpdatedAt).Scan(&u.ID)
	if err != nil {
		return user.User{}, translate(err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email = $1`, user.NormalizeEmail(email))
	if err != nil {
		return user.User{}, translate(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	users := []user.User{}
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) SetRefreshToken(ctx context.Context, id int64, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET refresh_token = $2, updated_at = $3 WHERE id = $1
	`, id, token, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *Store) ConfirmEmail(ctx context.Context, email string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET confirmed = TRUE, updated_at = $2 WHERE email = $1
	`, user.NormalizeEmail(email), time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *Store) SetAvatar(ctx context.Context, email, url string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `
		UPDATE users SET avatar = $2, updated_at = $3 WHERE email = $1
		RETURNING `+userColumns,
		user.NormalizeEmail(email), url, time.Now().UTC())
	if err != nil {
		return user.User{}, translate(err)
	}
	return u, nil
}

// --- ContactStore -----------------------------------------------------------

func (s *Store) CreateContact(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO contacts (user_id, name, last_name, email, phone_number, birth_date, rest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, c.UserID, c.Name, c.LastName, c.Email, c.PhoneNumber, c.BirthDate, c.Rest, c.CreatedAt, c.UpdatedAt).Scan(&c.ID)
	if err != nil {
		return contact.Contact{}, translate(err)
	}
	return c, nil
}

func (s *Store) GetContact(ctx context.Context, userID, id int64) (contact.Contact, error) {
	var c contact.Contact
	err := s.db.GetContext(ctx, &c, `
		SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return contact.Contact{}, translate(err)
	}
	return c, nil
}

func (s *Store) ListContacts(ctx context.Context, userID int64, filter contact.Filter) ([]contact.Contact, error) {
	query, args := buildListQuery(userID, filter, time.Now().UTC())

	contacts := []contact.Contact{}
	if err := s.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (s *Store) UpdateContact(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	c.UpdatedAt = time.Now().UTC()

	var updated contact.Contact
	err := s.db.GetContext(ctx, &updated, `
		UPDATE contacts
		SET name = $3, last_name = $4, email = $5, phone_number = $6, birth_date = $7, rest = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2
		RETURNING `+contactColumns,
		c.ID, c.UserID, c.Name, c.LastName, c.Email, c.PhoneNumber, c.BirthDate, c.Rest, c.UpdatedAt)
	if err != nil {
		return contact.Contact{}, translate(err)
	}
	return updated, nil
}

func (s *Store) DeleteContact(ctx context.Context, userID, id int64) (contact.Contact, error) {
	var deleted contact.Contact
	err := s.db.GetContext(ctx, &deleted, `
		DELETE FROM contacts WHERE id = $1 AND user_id = $2
		RETURNING `+contactColumns,
		id, userID)
	if err != nil {
		return contact.Contact{}, translate(err)
	}
	return deleted, nil
}

func (s *Store) ListUpcomingBirthdays(ctx context.Context, userID int64, days int, now time.Time) ([]contact.Contact, error) {
	contacts := []contact.Contact{}
	err := s.db.SelectContext(ctx, &contacts, `
		SELECT `+contactColumns+` FROM contacts
		WHERE user_id = $1 AND `+birthdayCondition("$2", "$3")+`
		ORDER BY id
	`, userID, days, now)
	if err != nil {
		return nil, err
	}
	return contacts, nil
}

// birthdayCondition compares the contact's age today with the age of someone
// born `days` earlier; the latter is a year older exactly when the birthday
// falls within the window.
func birthdayCondition(daysParam, nowParam string) string {
	return fmt.Sprintf(
		`birth_date IS NOT NULL AND date_part('year', age(%[2]s::timestamp, (birth_date - make_interval(days => %[1]s))::timestamp)) > date_part('year', age(%[2]s::timestamp, birth_date::timestamp))`,
		daysParam, nowParam)
}

func buildListQuery(userID int64, filter contact.Filter, now time.Time) (string, []interface{}) {
	var (
		conditions = []string{"user_id = $1"}
		args       = []interface{}{userID}
	)
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Name != "" {
		conditions = append(conditions, "name = "+next(filter.Name))
	}
	if filter.LastName != "" {
		conditions = append(conditions, "last_name = "+next(filter.LastName))
	}
	if filter.Email != "" {
		conditions = append(conditions, "email = "+next(filter.Email))
	}
	if filter.UpcomingBirthdays {
		days := next(contact.BirthdayWindowDays)
		conditions = append(conditions, birthdayCondition(days, next(now)))
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY id`
	if filter.Limit > 0 {
		query += " LIMIT " + next(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + next(filter.Offset)
	}
	return query, args
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}
