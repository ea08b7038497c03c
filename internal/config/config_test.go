package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config layers at a temp dir and clears the env vars
// the loader reads.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, k := range []string{
		"SN3_F_TOKEN_URL", "SN3_USER_AGENT", "SN3_APP_VERSION",
		"SN3_STORE_DIR", "SN3_NO_KEYRING", "SN3_LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k) //nolint:errcheck
	}
	return dir
}

func writeGlobalConfig(t *testing.T, dir, content string) {
	t.Helper()
	cfgDir := filepath.Join(dir, "sn3")
	require.NoError(t, os.MkdirAll(cfgDir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(content), 0600))
}

func TestDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(FlagOverrides{})
	require.NoError(t, err)

	assert.Empty(t, cfg.FTokenURLs)
	assert.Equal(t, filepath.Join(dir, "sn3"), cfg.StoreDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.False(t, cfg.NoKeyring)
}

func TestGlobalConfigFile(t *testing.T) {
	dir := isolate(t)
	writeGlobalConfig(t, dir, `{
		"f_token_urls": ["https://example.com/f"],
		"user_agent": "test-agent",
		"no_keyring": true,
		"log_level": "debug"
	}`)

	cfg, err := Load(FlagOverrides{})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/f"}, cfg.FTokenURLs)
	assert.Equal(t, "test-agent", cfg.UserAgent)
	assert.True(t, cfg.NoKeyring)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, string(SourceGlobal), cfg.Sources["log_level"])
}

func TestMalformedConfigFileIsSkipped(t *testing.T) {
	dir := isolate(t)
	writeGlobalConfig(t, dir, `{not json`)

	cfg, err := Load(FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	writeGlobalConfig(t, dir, `{"log_level": "debug", "user_agent": "from-file"}`)
	t.Setenv("SN3_LOG_LEVEL", "trace")
	t.Setenv("SN3_F_TOKEN_URL", "https://a.example/f, https://b.example/f")

	cfg, err := Load(FlagOverrides{})
	require.NoError(t, err)

	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, string(SourceEnv), cfg.Sources["log_level"])
	assert.Equal(t, "from-file", cfg.UserAgent)
	assert.Equal(t, []string{"https://a.example/f", "https://b.example/f"}, cfg.FTokenURLs)
}

func TestFlagsOverrideEnv(t *testing.T) {
	isolate(t)
	t.Setenv("SN3_LOG_LEVEL", "trace")
	t.Setenv("SN3_STORE_DIR", "/env/dir")

	cfg, err := Load(FlagOverrides{
		LogLevel:  "error",
		StoreDir:  "/flag/dir",
		NoKeyring: true,
		FTokenURL: "https://flag.example/f",
	})
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "/flag/dir", cfg.StoreDir)
	assert.True(t, cfg.NoKeyring)
	assert.Equal(t, []string{"https://flag.example/f"}, cfg.FTokenURLs)
	assert.Equal(t, string(SourceFlag), cfg.Sources["log_level"])
}

func TestParseEnvBool(t *testing.T) {
	tests := []struct {
		in    string
		value bool
		ok    bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"1", true, true},
		{"false", false, true},
		{"0", false, true},
		{"yes", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		v, ok := parseEnvBool(tt.in)
		assert.Equal(t, tt.value, v, "value for %q", tt.in)
		assert.Equal(t, tt.ok, ok, "ok for %q", tt.in)
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList("a, b"))
	assert.Equal(t, []string{"a"}, splitList("a,,"))
	assert.Empty(t, splitList(" , "))
}
