package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		ok       bool
	}{
		{"simple", "alice", true},
		{"underscore and digits", "user_42", true},
		{"dots", "first.last", true},
		{"empty", "", false},
		{"space", "has space", false},
		{"dash", "dash-user", false},
		{"slash", "a/b", false},
		{"too long", strings.Repeat("a", MaxNameLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSetDisplayNameRejectsBlank(t *testing.T) {
	u := &User{Username: "alice", DisplayName: "alice"}

	require.Error(t, u.SetDisplayName("   "))
	assert.Equal(t, "alice", u.DisplayName)

	require.NoError(t, u.SetDisplayName("Alice A."))
	assert.Equal(t, "Alice A.", u.DisplayName)
}

func TestNewRoomDefaults(t *testing.T) {
	generated := NewRoom("")
	require.NotEmpty(t, generated.ID)
	assert.Equal(t, string(generated.ID), generated.DisplayName)
	assert.False(t, generated.Private)

	named := NewRoom("fixed-id")
	assert.Equal(t, RoomID("fixed-id"), named.ID)
	assert.Equal(t, "fixed-id", named.DisplayName)
}
