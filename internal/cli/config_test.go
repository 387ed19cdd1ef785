package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useConfig(t *testing.T, path string) {
	t.Helper()
	viper.Reset()
	cfgFile = path
	t.Cleanup(func() {
		cfgFile = ""
		viper.Reset()
	})
}

func TestInitConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmsd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
seat = "seat1"
vrr = false
background_color = "#000000"
`), 0644))
	useConfig(t, path)

	InitConfig()

	assert.Equal(t, path, viper.ConfigFileUsed())
	assert.Equal(t, "seat1", viper.GetString("seat"))
	assert.False(t, viper.GetBool("vrr"))
	assert.Equal(t, "#000000", viper.GetString("background_color"))
	assert.Equal(t, "~/.config/kmsd/outputs.toml", viper.GetString("outputs_file"))
}

func TestInitConfigEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmsd.toml")
	require.NoError(t, os.WriteFile(path, []byte("seat = \"seat1\"\n"), 0644))
	useConfig(t, path)
	t.Setenv("KMSD_RENDER_DEVICE", "/dev/dri/renderD129")
	t.Setenv("KMSD_SEAT", "seat2")

	InitConfig()

	assert.Equal(t, "/dev/dri/renderD129", viper.GetString("render_device"))
	assert.Equal(t, "seat2", viper.GetString("seat"))
}

func TestInitConfigDefaults(t *testing.T) {
	useConfig(t, "")
	t.Setenv("HOME", t.TempDir())

	InitConfig()

	assert.Equal(t, "seat0", viper.GetString("seat"))
	assert.True(t, viper.GetBool("vrr"))
	assert.Empty(t, viper.GetString("render_device"))
}
