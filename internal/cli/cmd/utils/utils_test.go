package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matjam/kmsd"
)

func TestCanonicalPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	tests := map[string]string{
		"":                        "",
		"~":                       "/home/tester",
		"~/.config/kmsd":          "/home/tester/.config/kmsd",
		"/etc/xdg/kmsd/kmsd.toml": "/etc/xdg/kmsd/kmsd.toml",
		"~other/file":             "~other/file",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalPath(in), in)
	}
}

func TestInstallDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	InstallDefaultConfig()

	path := filepath.Join(dir, "kmsd", "kmsd.toml")
	assert.Equal(t, path, ConfigPath())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, kmsd.DefaultConfig, string(data))

	// an existing file is left alone
	require.NoError(t, os.WriteFile(path, []byte("seat = \"seat1\"\n"), 0644))
	InstallDefaultConfig()
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "seat = \"seat1\"\n", string(data))
}
