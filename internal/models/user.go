package models

import (
	"fmt"
	"strings"
	"time"
)

// Mode identifies which identity path an account uses.
type Mode string

const (
	// ModeAuto lets the lifecycle infer the mode from the presence of an OpenID URL.
	ModeAuto Mode = ""
	// ModePassword is an email + password account.
	ModePassword Mode = "password"
	// ModeOpenID is an account anchored on an OpenID URL.
	ModeOpenID Mode = "openid"
)

// User represents a forum member's identity record.
// Secrets and protected flags never leave the process through JSON; use Public for exports.
type User struct {
	ID uint64 `json:"id" gorm:"primaryKey;autoIncrement"` // Assigned by storage.

	Email          *string `json:"-" gorm:"type:varchar(255);uniqueIndex"` // Lowercased before persistence.
	DisplayName    *string `json:"display_name" gorm:"type:varchar(255)"`  // Whitespace collapsed.
	DisplayNameKey *string `json:"-" gorm:"type:varchar(255);uniqueIndex"` // Unicode-lowercased DisplayName.
	OpenIDURL      *string `json:"-" gorm:"column:openid_url;type:varchar(255);uniqueIndex"`
	PasswordHash   string  `json:"-" gorm:"type:varchar(128)"`

	Admin     bool `json:"-" gorm:"not null;default:false"`
	Activated bool `json:"-" gorm:"not null;default:false"`

	LoginKey          *string    `json:"-" gorm:"type:varchar(128);uniqueIndex"`
	LoginKeyExpiresAt *time.Time `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastSeenAt  *time.Time `json:"last_seen_at" gorm:"index"`

	PostsCount  int64 `json:"posts_count" gorm:"not null;default:0"`
	TopicsCount int64 `json:"topics_count" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mode reports the identity path of the stored account.
func (u *User) Mode() Mode {
	if u.OpenIDURL != nil {
		return ModeOpenID
	}
	return ModePassword
}

// BeautyName returns a printable name: the display name, the OpenID URL without
// its scheme, or the user's path, each cut to at most length+1 runes.
func (u *User) BeautyName(length int) string {
	if u.DisplayName != nil && strings.TrimSpace(*u.DisplayName) != "" {
		return truncateRunes(*u.DisplayName, length+1)
	}
	if u.OpenIDURL != nil && *u.OpenIDURL != "" {
		name := strings.TrimPrefix(*u.OpenIDURL, "https://")
		name = strings.TrimPrefix(name, "http://")
		return truncateRunes(name, length+1)
	}
	return fmt.Sprintf("/users/%d", u.ID)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// PublicUser is the externally visible projection of a User.
type PublicUser struct {
	ID          uint64     `json:"id"`
	DisplayName *string    `json:"display_name,omitempty"`
	PostsCount  int64      `json:"posts_count"`
	TopicsCount int64      `json:"topics_count"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Public drops email, login key and expiry, password hash, OpenID URL, activation and admin flags.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		PostsCount:  u.PostsCount,
		TopicsCount: u.TopicsCount,
		LastLoginAt: u.LastLoginAt,
		LastSeenAt:  u.LastSeenAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// Candidate is the input of account creation. Password and PasswordConfirmation
// live only for the duration of the call and are never persisted.
type Candidate struct {
	Email                string `json:"email"`
	DisplayName          string `json:"display_name"`
	OpenIDURL            string `json:"openid_url"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	Mode                 Mode   `json:"-"`
}

// AccountUpdate carries the client-settable fields of an existing account.
// Nil means "leave unchanged"; a pointer to "" clears the field.
type AccountUpdate struct {
	Email                *string `json:"email"`
	DisplayName          *string `json:"display_name"`
	OpenIDURL            *string `json:"openid_url"`
	Password             *string `json:"password"`
	PasswordConfirmation *string `json:"password_confirmation"`
}

// BootstrapClaim marks that the first account has been created. The fixed primary
// key makes the claim a storage-enforced singleton.
type BootstrapClaim struct {
	ID        uint `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint64
	CreatedAt time.Time
}

// BootstrapClaimID is the only valid BootstrapClaim key.
const BootstrapClaimID = 1

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
