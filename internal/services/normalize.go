package services

import (
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// ErrInvalidOpenIDURL is returned when an OpenID URL cannot be canonicalized.
var ErrInvalidOpenIDURL = errors.New("invalid openid url")

const openIDFlags = purell.FlagsSafe | purell.FlagRemoveFragment

// NormalizeEmail lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(email)
}

// NormalizeDisplayName collapses runs of whitespace into single spaces and trims the ends.
func NormalizeDisplayName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// DisplayNameKey is the uniqueness key of a normalized display name.
func DisplayNameKey(name string) string {
	return strings.ToLower(name)
}

// NormalizeOpenIDURL canonicalizes an OpenID identifier: http:// is assumed when no
// scheme is given, scheme and host are lowercased, default ports and fragments are
// dropped and an empty path becomes "/". Path case is preserved. Blank input yields "".
func NormalizeOpenIDURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", ErrInvalidOpenIDURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidOpenIDURL
	}
	if u.Host == "" {
		return "", ErrInvalidOpenIDURL
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return purell.NormalizeURL(u, openIDFlags), nil
}
