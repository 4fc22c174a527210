package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"# comment\n"+
			"SEEDR_DOTENV_A=\"quoted\"\n"+
			"export SEEDR_DOTENV_B = plain\n"+
			"SEEDR_DOTENV_C=from-file\n"+
			"not a pair\n"), 0o600))

	t.Setenv("SEEDR_DOTENV_A", "")
	os.Unsetenv("SEEDR_DOTENV_A")
	t.Setenv("SEEDR_DOTENV_B", "")
	os.Unsetenv("SEEDR_DOTENV_B")
	t.Setenv("SEEDR_DOTENV_C", "from-env")

	LoadDotEnv(path)

	assert.Equal(t, "quoted", os.Getenv("SEEDR_DOTENV_A"))
	assert.Equal(t, "plain", os.Getenv("SEEDR_DOTENV_B"))
	assert.Equal(t, "from-env", os.Getenv("SEEDR_DOTENV_C"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	assert.NotPanics(t, func() { LoadDotEnv(filepath.Join(t.TempDir(), "nope")) })
}

func TestFindModuleRoot(t *testing.T) {
	root := FindModuleRoot("fallback")
	_, err := os.Stat(filepath.Join(root, "go.mod"))
	assert.NoError(t, err)
}
