package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Rainnny7/LicenseServer/internal/model"
)

func TestOpenCreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "license.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer Close(db)

	assert.FileExists(t, path)
	assert.True(t, db.Migrator().HasTable(&model.License{}))
	assert.True(t, db.Migrator().HasTable(&model.LicenseUsage{}))
}

func TestEnsureAdmin(t *testing.T) {
	db := InitTestDB()
	defer CleanTestDB(db)

	require.NoError(t, EnsureAdmin(db, "admin", "secret-password"))
	require.NoError(t, EnsureAdmin(db, "admin", "other-password"))

	var users []model.User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.True(t, users[0].IsAdmin())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users[0].Password), []byte("secret-password")))
}

func TestEnsureAdminGeneratesPassword(t *testing.T) {
	db := InitTestDB()
	defer CleanTestDB(db)

	require.NoError(t, EnsureAdmin(db, "root", ""))

	var user model.User
	require.NoError(t, db.Where("username = ?", "root").First(&user).Error)
	assert.NotEmpty(t, user.Password)
}
