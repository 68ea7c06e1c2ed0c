package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_PublicOmitsSecrets(t *testing.T) {
	expires := time.Now()
	u := &User{
		ID:                7,
		Email:             StringPtr("a@example.com"),
		DisplayName:       StringPtr("Alice"),
		OpenIDURL:         StringPtr("http://example.com/alice"),
		PasswordHash:      "hash",
		Admin:             true,
		Activated:         true,
		LoginKey:          StringPtr("key"),
		LoginKeyExpiresAt: &expires,
		PostsCount:        3,
	}

	data, err := json.Marshal(u.Public())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	for _, field := range []string{"email", "login_key", "login_key_expires_at", "password_hash", "openid_url", "activated", "admin"} {
		assert.NotContains(t, out, field)
	}
	assert.Equal(t, float64(7), out["id"])
	assert.Equal(t, "Alice", out["display_name"])
	assert.Equal(t, float64(3), out["posts_count"])

	// The full record hides the same fields when serialized directly.
	data, err = json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "a@example.com")
	assert.NotContains(t, string(data), "hash")
}

func TestUser_Mode(t *testing.T) {
	assert.Equal(t, ModePassword, (&User{}).Mode())
	assert.Equal(t, ModeOpenID, (&User{OpenIDURL: StringPtr("http://example.com/")}).Mode())
}

func TestUser_BeautyName(t *testing.T) {
	assert.Equal(t, "Alice", (&User{DisplayName: StringPtr("Alice")}).BeautyName(100))
	assert.Equal(t, "Васили", (&User{DisplayName: StringPtr("Василий")}).BeautyName(5))
	assert.Equal(t, "example.com/alice", (&User{OpenIDURL: StringPtr("https://example.com/alice")}).BeautyName(100))
	assert.Equal(t, "/users/9", (&User{ID: 9}).BeautyName(100))
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Violations: []Violation{
		{Field: FieldEmail, Reason: ReasonInvalidFormat},
		{Field: FieldPassword, Reason: ReasonTooShort},
	}}
	assert.True(t, err.Has(FieldEmail, ReasonInvalidFormat))
	assert.False(t, err.Has(FieldEmail, ReasonRequired))
	assert.Equal(t, "validation failed: email invalid-format, password too-short", err.Error())

	uv := &UniquenessViolation{Field: FieldDisplayName}
	assert.Equal(t, Violation{Field: FieldDisplayName, Reason: ReasonTaken}, uv.AsViolation())
}
