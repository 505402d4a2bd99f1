package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
token: abc123
channel_id: "456"
command: java
args: ["-jar", "server.jar", "nogui"]
flush_interval: 500ms
pty: true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abc123", cfg.Token)
	assert.Equal(t, "456", cfg.ChannelID)
	assert.Equal(t, "java", cfg.Command)
	assert.Equal(t, []string{"-jar", "server.jar", "nogui"}, cfg.Args)
	assert.Equal(t, 500*time.Millisecond, cfg.FlushInterval)
	assert.True(t, cfg.UsePTY)

	// unset fields keep defaults
	assert.Equal(t, 1900, cfg.MaxMessageLen)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.Token = "t"
	cfg.ChannelID = "123"
	cfg.Command = "cat"
	require.NoError(t, cfg.Validate())

	cfg.MaxMessageLen = 10
	require.Error(t, cfg.Validate())
}

func TestLocate(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))
	path := filepath.Join(root, "a", DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	assert.Equal(t, path, Locate(DefaultFileName, nested))
	assert.Equal(t, "", Locate("no-such-file.yaml", nested))
}
