package cmsauth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxUsernameRunes = 64

// normalizeRegistration trims r and rejects usernames that could be confused
// with an email identifier at login.
func normalizeRegistration(r Registration) (username, email string, err error) {
	username = strings.TrimSpace(r.Username)
	switch {
	case username == "":
		return "", "", fmt.Errorf("%w: username is required", ErrInvalidRegistration)
	case utf8.RuneCountInString(username) > maxUsernameRunes:
		return "", "", fmt.Errorf("%w: username longer than %d characters", ErrInvalidRegistration, maxUsernameRunes)
	case strings.ContainsRune(username, '@'):
		return "", "", fmt.Errorf("%w: username must not contain '@'", ErrInvalidRegistration)
	case strings.IndexFunc(username, unicode.IsSpace) >= 0:
		return "", "", fmt.Errorf("%w: username must not contain spaces", ErrInvalidRegistration)
	}

	email = strings.TrimSpace(r.Email)
	if email != "" {
		addr, perr := mail.ParseAddress(email)
		if perr != nil || addr.Address != email {
			return "", "", fmt.Errorf("%w: malformed email", ErrInvalidRegistration)
		}
	}
	return username, email, nil
}
