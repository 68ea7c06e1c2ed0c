package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"beast/internal/models"
	"beast/internal/repositories"
	"beast/internal/services"
)

// MockPostCounter is a mock implementation of repositories.PostCounter
type MockPostCounter struct {
	mock.Mock
}

func (m *MockPostCounter) CountPostsFor(ctx context.Context, userID uint64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// MockEventPublisher is a mock implementation of services.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishJSON(ctx context.Context, messageType string, payload any) error {
	args := m.Called(ctx, messageType, payload)
	return args.Error(0)
}

// faultyUserRepository fails the calls it is told to; anything else panics.
type faultyUserRepository struct {
	repositories.UserRepository
	mock.Mock
}

func (m *faultyUserRepository) Create(ctx context.Context, user *models.User, bootstrap repositories.BootstrapFunc) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *faultyUserRepository) GetByEmailAndHashAndActivation(ctx context.Context, email, hash string, activated bool) (*models.User, error) {
	args := m.Called(ctx, email, hash, activated)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type fixture struct {
	repo    *repositories.MockUserRepository
	posts   *MockPostCounter
	hasher  *services.SaltedHasher
	service *services.AccountService
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hasher, err := services.NewSaltedHasher(testSalt, services.DigestSHA1)
	require.NoError(t, err)

	f := &fixture{
		repo:   repositories.NewMockUserRepository(),
		posts:  new(MockPostCounter),
		hasher: hasher,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = services.NewAccountService(f.repo, f.posts, hasher, services.AccountServiceConfig{
		Now: func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) create(t *testing.T, c models.Candidate) *models.User {
	t.Helper()
	user, err := f.service.CreateAccount(context.Background(), c)
	require.NoError(t, err)
	return user
}

func TestAccountService_FirstAccountIsActivatedAdmin(t *testing.T) {
	f := newFixture(t)

	first := f.create(t, passwordCandidate("first@example.com", "secret"))
	assert.True(t, first.Admin)
	assert.True(t, first.Activated)

	second := f.create(t, passwordCandidate("second@example.com", "secret"))
	assert.False(t, second.Admin)
	assert.False(t, second.Activated)
}

func TestAccountService_FirstAccountViaOpenID(t *testing.T) {
	f := newFixture(t)

	first := f.create(t, models.Candidate{OpenIDURL: "http://valid.url"})
	assert.True(t, first.Admin)
	assert.True(t, first.Activated)
	assert.Equal(t, "http://valid.url/", models.Deref(first.OpenIDURL))
	assert.Empty(t, first.PasswordHash)
}

func TestAccountService_OpenIDAccountsAreActivated(t *testing.T) {
	f := newFixture(t)
	f.create(t, passwordCandidate("admin@example.com", "secret"))

	user := f.create(t, models.Candidate{OpenIDURL: "http://example-openid.com/user"})
	assert.True(t, user.Activated)
	assert.False(t, user.Admin)
}

func TestAccountService_ConcurrentFirstAccounts(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var wg sync.WaitGroup
	users := make([]*models.User, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := models.Candidate{OpenIDURL: "http://example.com/u" + string(rune('a'+i))}
			user, err := f.service.CreateAccount(context.Background(), c)
			assert.NoError(t, err)
			users[i] = user
		}()
	}
	wg.Wait()

	admins := 0
	for _, u := range users {
		if u != nil && u.Admin {
			admins++
		}
	}
	assert.Equal(t, 1, admins)
}

func TestAccountService_NormalizesIdentity(t *testing.T) {
	f := newFixture(t)

	c := passwordCandidate("John.Doe@Example.COM", "secret")
	c.DisplayName = "  John \t Doe  "
	user := f.create(t, c)

	assert.Equal(t, "john.doe@example.com", models.Deref(user.Email))
	assert.Equal(t, "John Doe", models.Deref(user.DisplayName))
	assert.Equal(t, f.hasher.Hash("secret"), user.PasswordHash)
	assert.NotContains(t, user.PasswordHash, "secret")
}

func TestAccountService_BlankDisplayNameIsAbsent(t *testing.T) {
	f := newFixture(t)

	c := passwordCandidate("a@example.com", "secret")
	c.DisplayName = "   "
	user := f.create(t, c)
	assert.Nil(t, user.DisplayName)

	c = passwordCandidate("b@example.com", "secret")
	c.DisplayName = " "
	f.create(t, c)
}

func TestAccountService_CreateAccountValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateAccount(context.Background(), models.Candidate{Email: "sam", Password: "1", PasswordConfirmation: "1"})
	verr := violations(t, err)
	assert.True(t, verr.Has(models.FieldEmail, models.ReasonInvalidFormat))
	assert.True(t, verr.Has(models.FieldPassword, models.ReasonTooShort))

	count, _ := f.repo.CountAll(context.Background())
	assert.Zero(t, count)
}

func TestAccountService_Uniqueness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := passwordCandidate("taken@example.com", "secret")
	c.DisplayName = "Вася"
	f.create(t, c)

	_, err := f.service.CreateAccount(ctx, passwordCandidate("TAKEN@example.com", "secret"))
	var uv *models.UniquenessViolation
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, models.FieldEmail, uv.Field)

	c = passwordCandidate("other@example.com", "secret")
	c.DisplayName = "вася"
	_, err = f.service.CreateAccount(ctx, c)
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, models.FieldDisplayName, uv.Field)

	f.create(t, models.Candidate{OpenIDURL: "http://example-openid.com/user"})
	_, err = f.service.CreateAccount(ctx, models.Candidate{OpenIDURL: "httP://examplE-openid.com/user"})
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, models.FieldOpenIDURL, uv.Field)

	distinct := f.create(t, models.Candidate{OpenIDURL: "http://example-openid.com/uSer"})
	assert.Equal(t, "http://example-openid.com/uSer", models.Deref(distinct.OpenIDURL))
}

func TestAccountService_Authenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.create(t, passwordCandidate("admin@example.com", "secret"))
	pending := f.create(t, passwordCandidate("pending@example.com", "secret"))

	user, err := f.service.Authenticate(ctx, "Admin@Example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, user.ID)

	_, err = f.service.Authenticate(ctx, "admin@example.com", "wrong")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, err, services.ErrInvalidCredentials)

	_, err = f.service.Authenticate(ctx, "pending@example.com", "secret")
	assert.ErrorIs(t, err, models.ErrNotFound)

	user, err = f.service.AuthenticateWithActivation(ctx, "pending@example.com", "secret", false)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, user.ID)

	_, err = f.service.Authenticate(ctx, "nobody@example.com", "secret")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountService_StorageFaultsPropagate(t *testing.T) {
	ctx := context.Background()
	disk := errors.New("disk failure")
	repo := new(faultyUserRepository)
	hasher, _ := services.NewSaltedHasher(testSalt, services.DigestSHA1)
	service := services.NewAccountService(repo, new(MockPostCounter), hasher, services.AccountServiceConfig{})

	repo.On("GetByEmailAndHashAndActivation", ctx, "a@example.com", hasher.Hash("secret"), true).Return(nil, disk).Once()
	_, err := service.Authenticate(ctx, "a@example.com", "secret")
	assert.ErrorIs(t, err, disk)
	assert.NotErrorIs(t, err, models.ErrNotFound)

	repo.On("Create", ctx, mock.AnythingOfType("*models.User")).Return(disk).Once()
	_, err = service.CreateAccount(ctx, passwordCandidate("a@example.com", "secret"))
	assert.ErrorIs(t, err, disk)

	repo.AssertExpectations(t)
}

func TestAccountService_LoginKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.create(t, passwordCandidate("a@example.com", "secret"))

	first, err := f.service.ResetLoginKey(ctx, user.ID, true)
	require.NoError(t, err)
	second, err := f.service.ResetLoginKey(ctx, user.ID, true)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	active, err := f.service.EnsureActiveKey(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, second, active)

	found, err := f.service.AuthenticateByLoginKey(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	require.NotNil(t, found.LoginKeyExpiresAt)
	assert.WithinDuration(t, f.now.AddDate(1, 0, 0), *found.LoginKeyExpiresAt, time.Minute)

	_, err = f.service.AuthenticateByLoginKey(ctx, first)
	assert.ErrorIs(t, err, models.ErrNotFound)

	f.now = f.now.AddDate(1, 0, 1)
	_, err = f.service.AuthenticateByLoginKey(ctx, second)
	assert.ErrorIs(t, err, models.ErrNotFound, "expired keys no longer authenticate")
}

func TestAccountService_Activity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, passwordCandidate("a@example.com", "secret"))
	b := f.create(t, passwordCandidate("b@example.com", "secret"))
	f.create(t, passwordCandidate("c@example.com", "secret"))

	require.NoError(t, f.service.RecordLogin(ctx, a.ID))
	f.now = f.now.Add(3 * time.Minute)
	require.NoError(t, f.service.Touch(ctx, b.ID))
	f.now = f.now.Add(3 * time.Minute)

	online, err := f.service.CurrentlyOnline(ctx, 0)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, b.ID, online[0].ID)
	assert.Nil(t, online[0].LastLoginAt)

	online, err = f.service.CurrentlyOnline(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Len(t, online, 2)

	stored, err := f.service.GetUser(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, *stored.LastLoginAt, *stored.LastSeenAt)

	assert.ErrorIs(t, f.service.Touch(ctx, 999), models.ErrNotFound)
}

func TestAccountService_UpdatePostsCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.create(t, passwordCandidate("a@example.com", "secret"))

	f.posts.On("CountPostsFor", ctx, user.ID).Return(int64(12), nil).Once()
	count, err := f.service.UpdatePostsCount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)

	stored, _ := f.service.GetUser(ctx, user.ID)
	assert.Equal(t, int64(12), stored.PostsCount)

	f.posts.On("CountPostsFor", ctx, uint64(999)).Return(int64(0), nil).Once()
	_, err = f.service.UpdatePostsCount(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)

	f.posts.AssertExpectations(t)
}

func TestAccountService_UpdateAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.create(t, passwordCandidate("a@example.com", "secret"))
	other := f.create(t, passwordCandidate("b@example.com", "secret"))

	name := "  New   Name "
	updated, err := f.service.UpdateAccount(ctx, user.ID, models.AccountUpdate{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "New Name", models.Deref(updated.DisplayName))
	assert.Equal(t, f.hasher.Hash("secret"), updated.PasswordHash, "password unchanged when omitted")

	pw, confirm := "newsecret", "newsecret"
	_, err = f.service.UpdateAccount(ctx, user.ID, models.AccountUpdate{Password: &pw, PasswordConfirmation: &confirm})
	require.NoError(t, err)
	_, err = f.service.Authenticate(ctx, "a@example.com", "newsecret")
	require.NoError(t, err)

	short := "123"
	_, err = f.service.UpdateAccount(ctx, user.ID, models.AccountUpdate{Password: &short, PasswordConfirmation: &short})
	assert.True(t, violations(t, err).Has(models.FieldPassword, models.ReasonTooShort))

	email := "A@example.com"
	_, err = f.service.UpdateAccount(ctx, other.ID, models.AccountUpdate{Email: &email})
	var uv *models.UniquenessViolation
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, models.FieldEmail, uv.Field)

	_, err = f.service.UpdateAccount(ctx, 999, models.AccountUpdate{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountService_UpdateAccountToOpenID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.create(t, passwordCandidate("a@example.com", "secret"))

	url := "example.com/me"
	updated, err := f.service.UpdateAccount(ctx, user.ID, models.AccountUpdate{OpenIDURL: &url})
	require.NoError(t, err)
	assert.Equal(t, models.ModeOpenID, updated.Mode())
	assert.Empty(t, updated.PasswordHash)

	empty := ""
	_, err = f.service.UpdateAccount(ctx, user.ID, models.AccountUpdate{OpenIDURL: &empty})
	assert.True(t, violations(t, err).Has(models.FieldPassword, models.ReasonRequired))
}

func TestAccountService_Search(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, name := range []string{"Alice Smith", "Bob Smithers", "Carol"} {
		c := passwordCandidate(name[:3]+"@example.com", "secret")
		c.DisplayName = name
		f.create(t, c)
	}

	var names []string
	for u, err := range f.service.Search(ctx, "SMITH") {
		require.NoError(t, err)
		names = append(names, models.Deref(u.DisplayName))
	}
	assert.Equal(t, []string{"Alice Smith", "Bob Smithers"}, names)

	count := 0
	for _, err := range f.service.Search(ctx, "") {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestAccountService_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	hasher, _ := services.NewSaltedHasher(testSalt, services.DigestSHA1)
	events := new(MockEventPublisher)
	service := services.NewAccountService(repositories.NewMockUserRepository(), new(MockPostCounter), hasher,
		services.AccountServiceConfig{Events: events})

	events.On("PublishJSON", ctx, services.EventUserCreated, mock.MatchedBy(func(e services.AccountEvent) bool {
		return e.Name == services.EventUserCreated && e.User.ID == 1
	})).Return(nil).Once()
	user, err := service.CreateAccount(ctx, passwordCandidate("a@example.com", "secret"))
	require.NoError(t, err)

	events.On("PublishJSON", ctx, services.EventUserLoginKeyReset, mock.AnythingOfType("services.AccountEvent")).
		Return(errors.New("broker down")).Once()
	_, err = service.ResetLoginKey(ctx, user.ID, true)
	assert.NoError(t, err, "publish failures are not fatal")

	events.AssertExpectations(t)
}
