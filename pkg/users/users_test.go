package users

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creker7/netvigil/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestDefaultAdminSeeded(t *testing.T) {
	s := openTestStore(t)

	u, err := s.Authenticate(DefaultAdminUser, DefaultAdminPassword)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.True(t, u.MustChangePassword)

	// Password change clears the flag.
	require.NoError(t, s.SetPassword(u.ID, "new-password-1"))

	u, err = s.Authenticate(DefaultAdminUser, "new-password-1")
	require.NoError(t, err)
	assert.False(t, u.MustChangePassword)

	_, err = s.Authenticate(DefaultAdminUser, DefaultAdminPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateRejectsUnknownUser(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Authenticate("ghost", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateUserRejectsDuplicate(t *testing.T) {
	s := openTestStore(t)

	_, err := s.CreateUser("operator", "secret-pass", RoleUser)
	require.NoError(t, err)

	_, err = s.CreateUser("operator", "other-pass", RoleUser)
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestLegacyHashUpgradedOnLogin(t *testing.T) {
	s := openTestStore(t)

	u, err := s.CreateUser("legacy", "placeholder", RoleUser)
	require.NoError(t, err)

	// Plant an old-style hex SHA-256 hash directly.
	sum := sha256.Sum256([]byte("old-password"))
	_, err = s.db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`,
		hex.EncodeToString(sum[:]), u.ID)
	require.NoError(t, err)

	_, err = s.Authenticate("legacy", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate("legacy", "old-password")
	require.NoError(t, err)

	// The stored hash is bcrypt now and still authenticates.
	var hash string
	require.NoError(t, s.db.QueryRow(`SELECT password_hash FROM users WHERE id = ?`, u.ID).Scan(&hash))
	assert.True(t, strings.HasPrefix(hash, "$2"), "hash upgraded to bcrypt, got %q", hash)

	_, err = s.Authenticate("legacy", "old-password")
	assert.NoError(t, err)
}

func TestHostNotifyDefaultsAndOverrides(t *testing.T) {
	s := openTestStore(t)

	opts, stored, err := s.HostNotify("e1")
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, models.DefaultNotifyOptions(), opts)

	require.NoError(t, s.SetHostNotify("e1", models.NotifyOptions{Email: false, Telegram: true}))

	opts, stored, err = s.HostNotify("e1")
	require.NoError(t, err)
	assert.True(t, stored)
	assert.False(t, opts.Email)
	assert.True(t, opts.Telegram)

	// Upsert replaces the row.
	require.NoError(t, s.SetHostNotify("e1", models.NotifyOptions{Email: true, Telegram: false}))

	all, err := s.AllHostNotify()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all["e1"].Email)
	assert.False(t, all["e1"].Telegram)

	require.NoError(t, s.DeleteHostSettings("e1"))

	_, stored, err = s.HostNotify("e1")
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestDashboardLifecycle(t *testing.T) {
	s := openTestStore(t)

	u, err := s.CreateUser("operator", "secret-pass", RoleUser)
	require.NoError(t, err)

	d1, err := s.CreateDashboard(u.ID, "Cameras")
	require.NoError(t, err)

	d2, err := s.CreateDashboard(u.ID, "Servers")
	require.NoError(t, err)
	assert.Greater(t, d2.Position, d1.Position)

	require.NoError(t, s.AddDashboardItem(d1.ID, "e1"))
	require.NoError(t, s.AddDashboardItem(d1.ID, "e2"))
	require.NoError(t, s.AddDashboardItem(d1.ID, "e1")) // duplicate ignored

	boards, err := s.Dashboards(u.ID)
	require.NoError(t, err)
	require.Len(t, boards, 2)
	assert.Equal(t, []string{"e1", "e2"}, boards[0].Items)

	// Deleting an endpoint purges it from every dashboard.
	require.NoError(t, s.RemoveEndpointEverywhere("e1"))

	boards, err = s.Dashboards(u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, boards[0].Items)

	require.NoError(t, s.DeleteDashboard(d1.ID))
	assert.ErrorIs(t, s.DeleteDashboard(d1.ID), ErrDashboardNotFound)
}
