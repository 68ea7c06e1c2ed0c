package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"beast/internal/models"
)

// Length bounds of identity fields.
const (
	OpenIDURLMinLength = 8
	OpenIDURLMaxLength = 255
	PasswordMinLength  = 5
)

var (
	openIDLengthTag   = fmt.Sprintf("min=%d,max=%d", OpenIDURLMinLength, OpenIDURLMaxLength)
	openIDMaxTag      = fmt.Sprintf("max=%d", OpenIDURLMaxLength)
	passwordLengthTag = fmt.Sprintf("min=%d", PasswordMinLength)
)

var emailPattern = regexp.MustCompile(`(?i)^[^@\s]+@(?:[-a-z0-9]+\.)+[a-z]{2,}$`)

// identity holds the normalized form of a candidate's identity fields.
type identity struct {
	email          string
	displayName    string
	displayNameKey string
	openIDURL      string
}

// rules selects the password rules of a check.
type rules struct {
	// passwordRequired is set on creation, or when an update switches an account
	// without a stored hash to the password path.
	passwordRequired bool
}

// IdentityValidator applies the format and length rules of forum identities.
// Uniqueness is not checked here; storage reports collisions at commit time.
type IdentityValidator struct {
	validate *validator.Validate
}

// NewIdentityValidator creates a new IdentityValidator.
func NewIdentityValidator() *IdentityValidator {
	v := validator.New()
	_ = v.RegisterValidation("forum_email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	return &IdentityValidator{validate: v}
}

// ResolveMode returns the identity path of a candidate. A supplied OpenID URL always
// selects the OpenID path.
func ResolveMode(c models.Candidate) models.Mode {
	if c.Mode == models.ModeOpenID || strings.TrimSpace(c.OpenIDURL) != "" {
		return models.ModeOpenID
	}
	return models.ModePassword
}

// Validate checks a creation candidate and returns a *models.ValidationError listing
// every violation, or nil.
func (v *IdentityValidator) Validate(c models.Candidate) error {
	_, violations := v.check(c, ResolveMode(c), rules{passwordRequired: true})
	return asError(violations)
}

// ValidateUpdate checks the merged state of an account being updated. The password
// is optional unless hasStoredHash is false and the account uses the password path.
func (v *IdentityValidator) ValidateUpdate(c models.Candidate, hasStoredHash bool) error {
	_, violations := v.check(c, ResolveMode(c), rules{passwordRequired: !hasStoredHash})
	return asError(violations)
}

func asError(violations []models.Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &models.ValidationError{Violations: violations}
}

func (v *IdentityValidator) check(c models.Candidate, mode models.Mode, r rules) (identity, []models.Violation) {
	var (
		id         identity
		violations []models.Violation
	)
	add := func(field, reason string) {
		violations = append(violations, models.Violation{Field: field, Reason: reason})
	}

	id.email = NormalizeEmail(c.Email)
	id.displayName = NormalizeDisplayName(c.DisplayName)
	id.displayNameKey = DisplayNameKey(id.displayName)

	if id.email == "" {
		if mode == models.ModePassword {
			add(models.FieldEmail, models.ReasonRequired)
		}
	} else if reason := v.reason(id.email, "forum_email"); reason != "" {
		add(models.FieldEmail, reason)
	}

	if mode == models.ModeOpenID {
		raw := strings.TrimSpace(c.OpenIDURL)
		switch {
		case raw == "":
			add(models.FieldOpenIDURL, models.ReasonRequiredForOpenID)
		default:
			if reason := v.reason(raw, openIDLengthTag); reason != "" {
				add(models.FieldOpenIDURL, reason)
				break
			}
			normalized, err := NormalizeOpenIDURL(raw)
			if err != nil {
				add(models.FieldOpenIDURL, models.ReasonInvalidFormat)
				break
			}
			if reason := v.reason(normalized, openIDMaxTag); reason != "" {
				add(models.FieldOpenIDURL, reason)
				break
			}
			id.openIDURL = normalized
		}
		return id, violations
	}

	if c.Password == "" {
		if r.passwordRequired {
			add(models.FieldPassword, models.ReasonRequired)
		}
		return id, violations
	}
	if reason := v.reason(c.Password, passwordLengthTag); reason != "" {
		add(models.FieldPassword, reason)
	}
	if err := v.validate.VarWithValue(c.PasswordConfirmation, c.Password, "eqfield"); err != nil {
		add(models.FieldPasswordConfirmation, reasonFor(err))
	}
	return id, violations
}

// reason runs a single tag set against value and returns the violation reason, or "".
func (v *IdentityValidator) reason(value string, tag string) string {
	if err := v.validate.Var(value, tag); err != nil {
		return reasonFor(err)
	}
	return ""
}

func reasonFor(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return models.ReasonInvalidFormat
	}
	switch verrs[0].Tag() {
	case "required":
		return models.ReasonRequired
	case "min":
		return models.ReasonTooShort
	case "max":
		return models.ReasonTooLong
	case "eqfield":
		return models.ReasonConfirmationMismatch
	default:
		return models.ReasonInvalidFormat
	}
}
