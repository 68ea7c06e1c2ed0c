package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"beast/internal/models"
	"beast/internal/repositories"
)

// loginKeyAttempts bounds regeneration when a fresh key collides with a stored one.
const loginKeyAttempts = 3

// LoginKeyManager issues and refreshes the long-lived login keys used for
// cookie-style re-authentication.
type LoginKeyManager struct {
	users repositories.UserRepository
	now   func() time.Time
}

// NewLoginKeyManager creates a new LoginKeyManager. A nil clock defaults to time.Now.
func NewLoginKeyManager(users repositories.UserRepository, now func() time.Time) *LoginKeyManager {
	if now == nil {
		now = time.Now
	}
	return &LoginKeyManager{users: users, now: now}
}

// ResetKey extends the key's expiry to one year from now and, when force is set or the
// user has no key, replaces the key with a fresh one. Nothing is persisted.
func (m *LoginKeyManager) ResetKey(user *models.User, force bool) string {
	now := m.now().UTC()
	expiresAt := now.AddDate(1, 0, 0)
	user.LoginKeyExpiresAt = &expiresAt
	if force || models.Deref(user.LoginKey) == "" {
		key := generateLoginKey(now, user.PasswordHash)
		user.LoginKey = &key
	}
	return *user.LoginKey
}

// ResetLoginKey applies ResetKey and persists the result.
func (m *LoginKeyManager) ResetLoginKey(ctx context.Context, user *models.User, force bool) (string, error) {
	previousKey, previousExpiry := user.LoginKey, user.LoginKeyExpiresAt
	for attempt := 1; ; attempt++ {
		key := m.ResetKey(user, force)
		err := m.users.UpdateLoginKey(ctx, user.ID, key, *user.LoginKeyExpiresAt)
		if err == nil {
			return key, nil
		}

		var uv *models.UniquenessViolation
		if !errors.As(err, &uv) || attempt == loginKeyAttempts {
			user.LoginKey, user.LoginKeyExpiresAt = previousKey, previousExpiry
			return "", fmt.Errorf("failed to reset login key: %w", err)
		}
		force = true
	}
}

// EnsureActiveKey returns the user's key after refreshing its expiry, generating a key
// only when none exists.
func (m *LoginKeyManager) EnsureActiveKey(ctx context.Context, user *models.User) (string, error) {
	return m.ResetLoginKey(ctx, user, models.Deref(user.LoginKey) == "")
}

// Expired reports whether the user's login key can no longer authenticate.
func (m *LoginKeyManager) Expired(user *models.User) bool {
	return user.LoginKeyExpiresAt == nil || !m.now().Before(*user.LoginKeyExpiresAt)
}

// generateLoginKey derives an opaque key from the time, the password hash and a random UUID.
func generateLoginKey(now time.Time, passwordHash string) string {
	d := sha3.New256()
	d.Write([]byte(strconv.FormatInt(now.UnixNano(), 10)))
	d.Write([]byte(passwordHash))
	d.Write([]byte(uuid.NewString()))
	return hex.EncodeToString(d.Sum(nil))
}
