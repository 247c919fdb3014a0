package users_test

import (
	"testing"

	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/users"
	fakeuserrepo "github.com/jrsteele09/go-session-keeper/users/repofake"
	"github.com/stretchr/testify/require"
)

func TestUser_CheckPassword(t *testing.T) {
	u, err := users.New("alice", "Secret123", users.RoleAdmin)
	require.NoError(t, err)
	require.NotEqual(t, "Secret123", u.PasswordHash)
	require.True(t, u.CheckPassword("Secret123"))
	require.False(t, u.CheckPassword("secret123"))
	require.True(t, u.HasRole(users.RoleAdmin))
	require.False(t, u.HasRole(users.RoleMember))
	require.Equal(t, []string{"admin"}, u.RoleNames())
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"Secret123", false},
		{"short1A", true},
		{"alllowercase1", true},
		{"ALLUPPERCASE1", true},
		{"NoNumbersHere", true},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := users.ValidatePasswordStrength(tt.password)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFakeUserRepo(t *testing.T) {
	repo := fakeuserrepo.NewFakeUserRepo()
	u, err := users.New("alice", "Secret123")
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(u))
	require.NotEmpty(t, u.ID)

	got, err := repo.GetByUsername("alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	byID, err := repo.GetByID(u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", byID.Username)

	other, err := users.New("alice", "Other123")
	require.NoError(t, err)
	require.ErrorIs(t, repo.Upsert(other), errors.ErrValidation)

	require.NoError(t, repo.SetBlocked("alice", true))
	got, err = repo.GetByUsername("alice")
	require.NoError(t, err)
	require.True(t, got.Blocked)

	require.NoError(t, repo.Delete("alice"))
	_, err = repo.GetByUsername("alice")
	require.ErrorIs(t, err, errors.ErrNotFound)
	require.ErrorIs(t, repo.SetLastLogin("alice"), errors.ErrNotFound)
}
