package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depotgrab/depotgrab/internal/config"
)

func TestEnsureAuthTokenPersists(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	first := ensureAuthToken()
	require.Len(t, first, 48, "token must be 24 random bytes hex-encoded")

	second := ensureAuthToken()
	assert.Equal(t, first, second, "token must be stable across calls")

	info, err := os.Stat(filepath.Join(config.GetRuntimeDir(), "token"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRenderToken(t *testing.T) {
	assert.Equal(t, "abc123", renderToken("abc123", false))
	assert.Equal(t, "export DEPOTGRAB_TOKEN=abc123", renderToken("abc123", true))
}
