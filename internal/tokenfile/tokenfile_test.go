package tokenfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestDir_LoadMissing(t *testing.T) {
	d := NewDir(t.TempDir(), nil)

	tok, err := d.LoadToken(context.Background(), "alice")
	assert.NoError(t, err)
	assert.Nil(t, tok)
}

func TestDir_SaveLoadDelete(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tokens")
	d := NewDir(root, nil)
	ctx := context.Background()

	expiry := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	original := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}

	require.NoError(t, d.SaveToken(ctx, "telegram:42", original))

	tok, err := d.LoadToken(ctx, "telegram:42")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "access-123", tok.AccessToken)
	assert.Equal(t, "refresh-456", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(expiry))

	other, err := d.LoadToken(ctx, "telegram:43")
	require.NoError(t, err)
	assert.Nil(t, other, "users never see each other's tokens")

	require.NoError(t, d.DeleteToken(ctx, "telegram:42"))

	tok, err = d.LoadToken(ctx, "telegram:42")
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, d.DeleteToken(ctx, "telegram:42"), "deleting twice is fine")
}

func TestDir_PathIsHashed(t *testing.T) {
	d := NewDir("/tmp/tokens", nil)

	p := d.Path("../../etc/passwd")
	assert.Equal(t, "/tmp/tokens", filepath.Dir(p))
	assert.NotContains(t, filepath.Base(p), "passwd")
	assert.Equal(t, p, d.Path("../../etc/passwd"), "stable across calls")
	assert.NotEqual(t, p, d.Path("alice"))
}

func TestDir_RecordsUserAndTime(t *testing.T) {
	d := NewDir(t.TempDir(), nil)
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	d.nowFunc = func() time.Time { return now }

	require.NoError(t, d.SaveToken(context.Background(), "alice", &oauth2.Token{AccessToken: "a"}))

	tf, err := Load(d.Path("alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice", tf.UserID)
	assert.True(t, tf.SavedAt.Equal(now))
}

func TestSave_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	require.NoError(t, Save(path, &File{Token: &oauth2.Token{AccessToken: "a"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".token-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp file cleaned up")
}

func TestSave_NilToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	assert.Error(t, Save(path, nil))
	assert.Error(t, Save(path, &File{}))
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestLoad_MissingToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"user_id":"alice"}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no token")
}
