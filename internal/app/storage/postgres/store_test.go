package postgres

import (
	"context"
	"database/sql"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/contactbook/internal/app/domain/contact"
	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/internal/app/storage"
	"github.com/R3E-Network/contactbook/internal/platform/migrations"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

var userCols = []string{"id", "username", "email", "password", "avatar", "refresh_token", "confirmed", "created_at", "updated_at"}
var contactCols = []string{"id", "user_id", "name", "last_name", "email", "phone_number", "birth_date", "rest", "created_at", "updated_at"}

func TestCreateUserNormalizesEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("ada", "ada@example.com", "hash", "", "", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	u, err := store.CreateUser(context.Background(), user.User{Username: "ada", Email: "Ada@Example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "ada@example.com", u.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	_, err := store.CreateUser(context.Background(), user.User{Username: "ada", Email: "ada@example.com"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestGetUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(int64(1), "ada", "ada@example.com", "hash", "", "tok", true, now, now))

	u, err := store.GetUserByEmail(context.Background(), "ADA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "tok", u.RefreshToken)
	assert.True(t, u.Confirmed)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetUserByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetRefreshTokenMissingUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET refresh_token").
		WithArgs(int64(3), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetRefreshToken(context.Background(), 3, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConfirmEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET confirmed = TRUE").
		WithArgs("ada@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.ConfirmEmail(context.Background(), "ada@example.com"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContactScopedByOwner(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND user_id = $2")).
		WithArgs(int64(5), int64(2)).
		WillReturnRows(sqlmock.NewRows(contactCols).
			AddRow(int64(5), int64(2), "Carol", "King", "carol@example.com", "555", time.Date(1942, 2, 9, 0, 0, 0, 0, time.UTC), "", now, now))

	c, err := store.GetContact(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.Equal(t, "Carol", c.Name)
	assert.Equal(t, "1942-02-09", c.BirthDate.String())

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND user_id = $2")).
		WithArgs(int64(5), int64(3)).
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetContact(context.Background(), 3, 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteContactReturnsRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("DELETE FROM contacts").
		WithArgs(int64(5), int64(2)).
		WillReturnRows(sqlmock.NewRows(contactCols).
			AddRow(int64(5), int64(2), "Carol", "", "", "", nil, "", now, now))

	c, err := store.DeleteContact(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.True(t, c.BirthDate.IsZero())
}

func TestListContactsBuildsFilters(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND name = $2 AND email = $3")).
		WithArgs(int64(1), "Sam", "sam@example.com", 10, 20).
		WillReturnRows(sqlmock.NewRows(contactCols))

	list, err := store.ListContacts(context.Background(), 1, contact.Filter{Limit: 10, Offset: 20, Name: "Sam", Email: "sam@example.com"})
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildListQueryBirthdayWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	query, args := buildListQuery(4, contact.Filter{Limit: 10, UpcomingBirthdays: true}, now)

	assert.Contains(t, query, "make_interval(days => $2)")
	assert.Contains(t, query, "age($3::timestamp, birth_date::timestamp)")
	assert.True(t, strings.HasSuffix(query, "LIMIT $4"))
	assert.Equal(t, []interface{}{int64(4), contact.BirthdayWindowDays, now, 10}, args)
}

func TestPing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, store.Ping(context.Background()))
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Up(db))

	store := New(db)
	ctx := context.Background()

	email := "it-" + time.Now().Format("150405.000000") + "@example.com"
	u, err := store.CreateUser(ctx, user.User{Username: "it", Email: email, PasswordHash: "x"})
	require.NoError(t, err)

	today := time.Now().UTC()
	soon := today.AddDate(-30, 0, 3)
	c, err := store.CreateContact(ctx, contact.Contact{UserID: u.ID, Name: "Soon", BirthDate: contact.NewDate(soon.Date())})
	require.NoError(t, err)

	list, err := store.ListContacts(ctx, u.ID, contact.Filter{Limit: 10, UpcomingBirthdays: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	_, err = store.DeleteContact(ctx, u.ID, c.ID)
	require.NoError(t, err)
}
