// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"regexp"
	"strings"
)

const MaxNameLen = 150

var (
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameCharset = errors.New("username has invalid characters")
)

// Usernames never contain '-', so they can never collide with the UUID
// room-id namespace when both are flattened onto the broadcast transport.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]+$`)

type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// NewUser validates the username and defaults the display name to it.
func NewUser(username string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	return &User{Username: username, DisplayName: username}, nil
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxNameLen {
		return ErrUsernameTooLong
	}
	if !usernamePattern.MatchString(username) {
		return ErrUsernameCharset
	}
	return nil
}

// SetDisplayName rejects empty or whitespace-only names.
func (u *User) SetDisplayName(name string) error {
	if len(strings.TrimSpace(name)) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrUsernameTooLong
	}
	u.DisplayName = name
	return nil
}
