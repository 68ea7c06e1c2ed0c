package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"beast/internal/models"
	"beast/internal/repositories"
)

// DefaultOnlineThreshold is the activity window of CurrentlyOnline.
const DefaultOnlineThreshold = 5 * time.Minute

// ErrInvalidCredentials is returned when email, password or activation do not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountServiceConfig carries the optional collaborators of AccountService.
type AccountServiceConfig struct {
	OnlineThreshold time.Duration
	Events          EventPublisher
	Logger          *slog.Logger
	Now             func() time.Time
}

// AccountService handles the lifecycle of forum accounts: creation with first-user
// bootstrap, updates, authentication and activity bookkeeping.
type AccountService struct {
	users     repositories.UserRepository
	posts     repositories.PostCounter
	hasher    PasswordHasher
	validator *IdentityValidator
	keys      *LoginKeyManager
	events    EventPublisher
	online    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewAccountService creates a new AccountService.
func NewAccountService(users repositories.UserRepository, posts repositories.PostCounter, hasher PasswordHasher, cfg AccountServiceConfig) *AccountService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnlineThreshold <= 0 {
		cfg.OnlineThreshold = DefaultOnlineThreshold
	}
	return &AccountService{
		users:     users,
		posts:     posts,
		hasher:    hasher,
		validator: NewIdentityValidator(),
		keys:      NewLoginKeyManager(users, cfg.Now),
		events:    cfg.Events,
		online:    cfg.OnlineThreshold,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// CreateAccount validates and normalizes a candidate, then persists it. The first
// account ever created becomes an activated administrator; OpenID accounts are
// activated on creation.
func (s *AccountService) CreateAccount(ctx context.Context, c models.Candidate) (*models.User, error) {
	mode := ResolveMode(c)
	id, violations := s.validator.check(c, mode, rules{passwordRequired: true})
	if len(violations) > 0 {
		return nil, &models.ValidationError{Violations: violations}
	}

	user := &models.User{
		Email:          models.StringPtr(id.email),
		DisplayName:    models.StringPtr(id.displayName),
		DisplayNameKey: models.StringPtr(id.displayNameKey),
		OpenIDURL:      models.StringPtr(id.openIDURL),
	}
	if mode == models.ModePassword {
		user.PasswordHash = s.hasher.Hash(c.Password)
	}

	bootstrap := func(u *models.User, first bool) {
		u.Admin = first
		u.Activated = first || mode == models.ModeOpenID
	}
	if err := s.users.Create(ctx, user, bootstrap); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.InfoContext(ctx, "account created",
		"user_id", user.ID, "mode", string(mode), "admin", user.Admin, "activated", user.Activated)
	s.publish(ctx, EventUserCreated, user)
	return user, nil
}

// UpdateAccount applies the client-settable fields of upd to an existing account and
// re-validates the result. A supplied password replaces the stored hash.
func (s *AccountService) UpdateAccount(ctx context.Context, userID uint64, upd models.AccountUpdate) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	c := models.Candidate{
		Email:       pick(upd.Email, user.Email),
		DisplayName: pick(upd.DisplayName, user.DisplayName),
		OpenIDURL:   pick(upd.OpenIDURL, user.OpenIDURL),
	}
	if upd.Password != nil {
		c.Password = *upd.Password
		c.PasswordConfirmation = models.Deref(upd.PasswordConfirmation)
	}

	mode := ResolveMode(c)
	id, violations := s.validator.check(c, mode, rules{passwordRequired: user.PasswordHash == ""})
	if len(violations) > 0 {
		return nil, &models.ValidationError{Violations: violations}
	}

	user.Email = models.StringPtr(id.email)
	user.DisplayName = models.StringPtr(id.displayName)
	user.DisplayNameKey = models.StringPtr(id.displayNameKey)
	user.OpenIDURL = models.StringPtr(id.openIDURL)
	switch {
	case mode == models.ModeOpenID:
		user.PasswordHash = ""
	case c.Password != "":
		user.PasswordHash = s.hasher.Hash(c.Password)
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	s.logger.InfoContext(ctx, "account updated", "user_id", user.ID, "mode", string(mode))
	return user, nil
}

func pick(update *string, current *string) string {
	if update != nil {
		return *update
	}
	return models.Deref(current)
}

// Authenticate looks up an activated account by email and password.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	return s.AuthenticateWithActivation(ctx, email, password, true)
}

// AuthenticateWithActivation looks up an account by email and password whose
// activation flag equals activated. Any mismatch yields ErrInvalidCredentials
// wrapping models.ErrNotFound; storage faults are returned as is.
func (s *AccountService) AuthenticateWithActivation(ctx context.Context, email, password string, activated bool) (*models.User, error) {
	user, err := s.users.GetByEmailAndHashAndActivation(ctx, NormalizeEmail(email), s.hasher.Hash(password), activated)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, models.ErrNotFound)
		}
		return nil, err
	}
	return user, nil
}

// AuthenticateByLoginKey returns the account holding an unexpired login key.
func (s *AccountService) AuthenticateByLoginKey(ctx context.Context, key string) (*models.User, error) {
	user, err := s.users.GetByLoginKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.keys.Expired(user) {
		return nil, fmt.Errorf("login key of user %d expired: %w", user.ID, models.ErrNotFound)
	}
	return user, nil
}

// ResetLoginKey refreshes the expiry of an account's login key, replacing the key
// itself when force is set or no key exists, and persists the result.
func (s *AccountService) ResetLoginKey(ctx context.Context, userID uint64, force bool) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	key, err := s.keys.ResetLoginKey(ctx, user, force)
	if err != nil {
		return "", err
	}
	s.publish(ctx, EventUserLoginKeyReset, user)
	return key, nil
}

// EnsureActiveKey returns the account's login key with its expiry pushed a year ahead.
func (s *AccountService) EnsureActiveKey(ctx context.Context, userID uint64) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.keys.EnsureActiveKey(ctx, user)
}

// RecordLogin stamps both the last login and last seen times.
func (s *AccountService) RecordLogin(ctx context.Context, userID uint64) error {
	now := s.now().UTC()
	return s.users.UpdateActivity(ctx, userID, &now, now)
}

// Touch stamps the last seen time.
func (s *AccountService) Touch(ctx context.Context, userID uint64) error {
	return s.users.UpdateActivity(ctx, userID, nil, s.now().UTC())
}

// CurrentlyOnline returns accounts seen within threshold. A non-positive threshold
// uses the configured default.
func (s *AccountService) CurrentlyOnline(ctx context.Context, threshold time.Duration) ([]models.User, error) {
	if threshold <= 0 {
		threshold = s.online
	}
	return s.users.SeenSince(ctx, s.now().UTC().Add(-threshold))
}

// UpdatePostsCount recounts an account's posts and stores the result.
func (s *AccountService) UpdatePostsCount(ctx context.Context, userID uint64) (int64, error) {
	count, err := s.posts.CountPostsFor(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.users.UpdatePostsCount(ctx, userID, count); err != nil {
		return 0, err
	}
	return count, nil
}

// Search streams accounts whose display name or email contains query.
func (s *AccountService) Search(ctx context.Context, query string) iter.Seq2[*models.User, error] {
	return s.users.Search(ctx, query)
}

// GetUser returns an account by id.
func (s *AccountService) GetUser(ctx context.Context, userID uint64) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

// publish is best effort: a broker failure never undoes a committed change.
func (s *AccountService) publish(ctx context.Context, name string, user *models.User) {
	if s.events == nil {
		return
	}
	event := AccountEvent{Name: name, User: user.Public(), OccurredAt: s.now().UTC()}
	if err := s.events.PublishJSON(ctx, name, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish account event", "event", name, "user_id", user.ID, "error", err)
	}
}
