package configuration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useConfig(t *testing.T, c *Config) {
	prev := globalConfig
	Use(c)
	t.Cleanup(func() { Use(prev) })
}

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.cfg")
	c, err := Load(path)
	require.NoError(t, err)
	useConfig(t, c)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "; RetroForth Configuration File"))
	assert.Less(t, strings.Index(text, "[Server]"), strings.Index(text, "[Forth]"))
	assert.Contains(t, text, "max_sleep_ms = 60000")

	assert.Equal(t, 8080, GetInt("Server", "http_port", 0))
	assert.Equal(t, 30*time.Minute, GetDuration("Server", "max_inactive_time", 0))
	assert.False(t, GetBool("TLS", "enabled", true))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.settings, again.settings)
}

func TestLoadWithLocalOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.cfg")
	require.NoError(t, os.WriteFile(path, []byte(`
; comment
# another
[Forth]
max_line_length = 80
max_sleep_ms=500

[Security]
allowed_origins = http://a.example, ,http://b.example
stray line
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LocalConfigName), []byte(`
[Forth]
max_sleep_ms = 250
[Extra]
flag = yes
`), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	useConfig(t, c)

	assert.Equal(t, 80, GetInt("Forth", "max_line_length", 0))
	assert.Equal(t, 250, GetInt("Forth", "max_sleep_ms", 0))
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, GetList("Security", "allowed_origins"))
	assert.Equal(t, map[string]string{"flag": "yes"}, GetSection("Extra"))
	assert.True(t, GetBool("Extra", "flag", true), "unparsable bool falls back")
	assert.Equal(t, 7, GetInt("Forth", "missing", 7))
	assert.Equal(t, "x", GetString("Nope", "missing", "x"))
}

func TestSetStringAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cfg")
	c, err := Load(path)
	require.NoError(t, err)
	useConfig(t, c)

	SetString("JWT", "secret", "s3cret")
	SetString("Custom", "key", "value")
	require.NoError(t, Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	v, ok := reloaded.get("JWT", "secret")
	assert.True(t, ok)
	assert.Equal(t, "s3cret", v)
	v, _ = reloaded.get("Custom", "key")
	assert.Equal(t, "value", v)
}

func TestUninitialized(t *testing.T) {
	useConfig(t, nil)
	assert.Equal(t, "d", GetString("Server", "http_port", "d"))
	assert.Empty(t, GetSection("Server"))
	assert.Error(t, Save())
	SetString("Server", "http_port", "1")
}
