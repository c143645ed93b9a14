package users

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/internal/app/services/auth"
	"github.com/R3E-Network/contactbook/internal/app/services/mail"
	"github.com/R3E-Network/contactbook/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Enqueue(msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) last(t *testing.T) mail.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs)
	return o.msgs[len(o.msgs)-1]
}

type staticAvatar struct {
	url string
	err error
}

func (a staticAvatar) Resolve(context.Context, string) (string, error) { return a.url, a.err }

type fakeImages struct {
	publicID string
	data     string
}

func (f *fakeImages) Upload(_ context.Context, publicID string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.publicID = publicID
	f.data = string(b)
	return "https://img.example/" + publicID, nil
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]user.User
}

func newMapCache() *mapCache { return &mapCache{items: map[string]user.User{}} }

func (c *mapCache) Get(_ context.Context, email string) (user.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.items[email]
	return u, ok
}

func (c *mapCache) Set(_ context.Context, u user.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[u.Email] = u
}

func (c *mapCache) Invalidate(_ context.Context, email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, email)
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	tokens *auth.Service
	outbox *outbox
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tokens, err := auth.New(auth.Config{SecretKey: "secret", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	store := memory.New()
	box := &outbox{}
	svc := New(store, tokens, logger.Discard())
	svc.WithNotifier(box)
	svc.WithAvatarResolver(staticAvatar{url: "https://www.gravatar.com/avatar/x"})
	return fixture{svc: svc, store: store, tokens: tokens, outbox: box}
}

func (f fixture) confirmedUser(t *testing.T, email, password string) user.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.svc.Signup(ctx, SignupInput{Username: "alice", Email: email, Password: password}, "http://localhost:8000/")
	require.NoError(t, err)
	require.NoError(t, f.store.ConfirmEmail(ctx, u.Email))
	u, err = f.store.GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	return u
}

func statusOf(err error) int { return svcerrors.HTTPStatus(err) }

func messageOf(err error) string {
	if se := svcerrors.GetServiceError(err); se != nil {
		return se.Message
	}
	return ""
}

func TestSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Signup(ctx, SignupInput{Username: " alice ", Email: "Alice@Example.com", Password: "s3cret"}, "http://localhost:8000/")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.False(t, u.Confirmed)
	assert.Equal(t, "https://www.gravatar.com/avatar/x", u.Avatar)
	assert.NotEqual(t, "s3cret", u.PasswordHash)
	assert.True(t, f.tokens.VerifyPassword("s3cret", u.PasswordHash))

	msg := f.outbox.last(t)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, mail.TemplateVerifyEmail, msg.Template)

	data, ok := msg.Data.(mail.VerificationData)
	require.True(t, ok)
	email, err := f.tokens.EmailFromToken(data.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	_, err = f.svc.Signup(ctx, SignupInput{Username: "other", Email: "alice@example.com", Password: "x"}, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, statusOf(err))
	assert.Equal(t, "Account already exists", messageOf(err))
}

func TestSignup_AvatarFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.svc.WithAvatarResolver(staticAvatar{err: errors.New("offline")})

	u, err := f.svc.Signup(context.Background(), SignupInput{Username: "bob", Email: "bob@example.com", Password: "pw"}, "")
	require.NoError(t, err)
	assert.Empty(t, u.Avatar)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "nobody@example.com", "pw")
	assert.Equal(t, "Invalid email", messageOf(err))

	_, err = f.svc.Signup(ctx, SignupInput{Username: "carol", Email: "carol@example.com", Password: "pw"}, "")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "carol@example.com", "pw")
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))
	assert.Equal(t, "Email not confirmed", messageOf(err))

	require.NoError(t, f.store.ConfirmEmail(ctx, "carol@example.com"))
	_, err = f.svc.Login(ctx, "carol@example.com", "wrong")
	assert.Equal(t, "Invalid password", messageOf(err))

	pair, err := f.svc.Login(ctx, "CAROL@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)

	stored, err := f.store.GetUserByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, stored.RefreshToken)
}

func TestRefresh_RotatesAndDetectsReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirmedUser(t, "dave@example.com", "pw")

	clock := time.Now()
	f.tokens.WithClock(func() time.Time { return clock })

	first, err := f.svc.Login(ctx, "dave@example.com", "pw")
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	stored, err := f.store.GetUserByEmail(ctx, "dave@example.com")
	require.NoError(t, err)
	assert.Equal(t, second.RefreshToken, stored.RefreshToken)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, "Invalid refresh token", messageOf(err))

	stored, err = f.store.GetUserByEmail(ctx, "dave@example.com")
	require.NoError(t, err)
	assert.Empty(t, stored.RefreshToken)

	// The replay revoked the legitimate token as well.
	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	assert.Equal(t, "Invalid refresh token", messageOf(err))
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	f.confirmedUser(t, "erin@example.com", "pw")

	pair, err := f.svc.Login(context.Background(), "erin@example.com", "pw")
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, "Invalid scope for token", messageOf(err))
}

func TestRefresh_AfterLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.confirmedUser(t, "fay@example.com", "pw")

	pair, err := f.svc.Login(ctx, "fay@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, u))

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, "Invalid refresh token", messageOf(err))
}

func TestConfirmEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, SignupInput{Username: "gus", Email: "gus@example.com", Password: "pw"}, "")
	require.NoError(t, err)
	token := f.outbox.last(t).Data.(mail.VerificationData).Token

	already, err := f.svc.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = f.svc.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, already)

	_, err = f.svc.ConfirmEmail(ctx, "not-a-token")
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	orphan, err := f.tokens.CreateEmailToken("ghost@example.com")
	require.NoError(t, err)
	_, err = f.svc.ConfirmEmail(ctx, orphan)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	assert.Equal(t, "Verification error", messageOf(err))
}

func TestRequestEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	already, err := f.svc.RequestEmail(ctx, "unknown@example.com", "")
	require.NoError(t, err)
	assert.False(t, already)

	_, err = f.svc.Signup(ctx, SignupInput{Username: "hal", Email: "hal@example.com", Password: "pw"}, "")
	require.NoError(t, err)
	before := len(f.outbox.msgs)

	already, err = f.svc.RequestEmail(ctx, "hal@example.com", "http://api/")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Len(t, f.outbox.msgs, before+1)

	require.NoError(t, f.store.ConfirmEmail(ctx, "hal@example.com"))
	already, err = f.svc.RequestEmail(ctx, "hal@example.com", "")
	require.NoError(t, err)
	assert.True(t, already)
}

func TestCurrentUser_UsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := newMapCache()
	f.svc.WithCache(cache)
	f.confirmedUser(t, "ivy@example.com", "pw")

	pair, err := f.svc.Login(ctx, "ivy@example.com", "pw")
	require.NoError(t, err)

	u, err := f.svc.CurrentUser(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ivy@example.com", u.Email)

	_, cached := cache.Get(ctx, "ivy@example.com")
	assert.True(t, cached)

	_, err = f.svc.CurrentUser(ctx, pair.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	ghost, err := f.tokens.CreateAccessToken("ghost@example.com")
	require.NoError(t, err)
	_, err = f.svc.CurrentUser(ctx, ghost)
	assert.Equal(t, "Could not validate credentials", messageOf(err))
}

func TestUpdateAvatar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.confirmedUser(t, "jay@example.com", "pw")

	_, err := f.svc.UpdateAvatar(ctx, u, strings.NewReader("img"))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(err))

	images := &fakeImages{}
	f.svc.WithImageStore(images)
	updated, err := f.svc.UpdateAvatar(ctx, u, strings.NewReader("img"))
	require.NoError(t, err)
	assert.Equal(t, AvatarPublicID(u), images.publicID)
	assert.Equal(t, "img", images.data)
	assert.Equal(t, "https://img.example/"+AvatarPublicID(u), updated.Avatar)
}

func TestUpdateAvatar_SameUsernameKeepsSeparateImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	images := &fakeImages{}
	f.svc.WithImageStore(images)

	first := f.confirmedUser(t, "a@example.com", "pw")
	second := f.confirmedUser(t, "b@example.com", "pw")
	require.Equal(t, first.Username, second.Username)

	firstUpdated, err := f.svc.UpdateAvatar(ctx, first, strings.NewReader("first"))
	require.NoError(t, err)
	firstID := images.publicID

	secondUpdated, err := f.svc.UpdateAvatar(ctx, second, strings.NewReader("second"))
	require.NoError(t, err)

	assert.NotEqual(t, firstID, images.publicID)
	assert.NotEqual(t, firstUpdated.Avatar, secondUpdated.Avatar)

	stored, err := f.store.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, firstUpdated.Avatar, stored.Avatar)
}
