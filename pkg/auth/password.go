// Package auth holds the client-side checks run before credentials are sent.
// The server stays authoritative; these only save a round trip on obvious mistakes.
package auth

import (
	"errors"
	"net/mail"
	"strings"
	"unicode"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

var (
	ErrPasswordTooShort  = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong   = errors.New("password must be at most 128 characters")
	ErrPasswordNoLetter  = errors.New("password must contain a letter")
	ErrPasswordNoDigit   = errors.New("password must contain a digit")
	ErrPasswordUnchanged = errors.New("new password must differ from the current one")
	ErrInvalidEmail      = errors.New("a valid email address is required")
	ErrUsernameRequired  = errors.New("username is required")
)

// ValidatePassword enforces the minimum policy for new passwords.
func ValidatePassword(password string) error {
	n := len([]rune(password))
	if n < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if n > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		return ErrPasswordNoLetter
	}
	if !hasDigit {
		return ErrPasswordNoDigit
	}
	return nil
}

// ValidatePasswordChange checks a replacement password against the current one.
func ValidatePasswordChange(current, next string) error {
	if current == "" {
		return errors.New("current password is required")
	}
	if current == next {
		return ErrPasswordUnchanged
	}
	return ValidatePassword(next)
}

// NormalizeEmail trims and lowercases an address and rejects malformed input.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// NormalizeUsername trims a username and requires it to be non-empty.
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrUsernameRequired
	}
	return username, nil
}
