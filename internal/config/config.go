// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the resolved configuration.
type Config struct {
	// Attestation settings
	FTokenURLs []string `json:"f_token_urls,omitempty"`

	// Vendor client settings
	UserAgent  string `json:"user_agent,omitempty"`
	AppVersion string `json:"app_version,omitempty"`

	// Storage settings
	StoreDir  string `json:"store_dir,omitempty"`
	NoKeyring bool   `json:"no_keyring,omitempty"`

	// Output settings
	LogLevel string `json:"log_level,omitempty"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	FTokenURL string
	StoreDir  string
	NoKeyring bool
	LogLevel  string
}

// Default returns the default configuration.
func Default() *Config {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}

	return &Config{
		StoreDir: filepath.Join(configDir, "sn3"),
		LogLevel: "warn",
		Sources:  make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	loadFromFile(cfg, globalConfigPath(), SourceGlobal)

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	if v, ok := fileCfg["f_token_urls"].([]any); ok && len(v) > 0 {
		urls := make([]string, 0, len(v))
		for _, u := range v {
			if s, ok := u.(string); ok && s != "" {
				urls = append(urls, s)
			}
		}
		if len(urls) > 0 {
			cfg.FTokenURLs = urls
			cfg.Sources["f_token_urls"] = string(source)
		}
	}
	if v, ok := fileCfg["user_agent"].(string); ok && v != "" {
		cfg.UserAgent = v
		cfg.Sources["user_agent"] = string(source)
	}
	if v, ok := fileCfg["app_version"].(string); ok && v != "" {
		cfg.AppVersion = v
		cfg.Sources["app_version"] = string(source)
	}
	if v, ok := fileCfg["store_dir"].(string); ok && v != "" {
		cfg.StoreDir = v
		cfg.Sources["store_dir"] = string(source)
	}
	if v, ok := fileCfg["no_keyring"].(bool); ok {
		cfg.NoKeyring = v
		cfg.Sources["no_keyring"] = string(source)
	}
	if v, ok := fileCfg["log_level"].(string); ok && v != "" {
		cfg.LogLevel = v
		cfg.Sources["log_level"] = string(source)
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SN3_F_TOKEN_URL"); v != "" {
		cfg.FTokenURLs = splitList(v)
		cfg.Sources["f_token_urls"] = string(SourceEnv)
	}
	if v := os.Getenv("SN3_USER_AGENT"); v != "" {
		cfg.UserAgent = v
		cfg.Sources["user_agent"] = string(SourceEnv)
	}
	if v := os.Getenv("SN3_APP_VERSION"); v != "" {
		cfg.AppVersion = v
		cfg.Sources["app_version"] = string(SourceEnv)
	}
	if v := os.Getenv("SN3_STORE_DIR"); v != "" {
		cfg.StoreDir = v
		cfg.Sources["store_dir"] = string(SourceEnv)
	}
	if v := os.Getenv("SN3_NO_KEYRING"); v != "" {
		if b, ok := parseEnvBool(v); ok {
			cfg.NoKeyring = b
			cfg.Sources["no_keyring"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("SN3_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
		cfg.Sources["log_level"] = string(SourceEnv)
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.FTokenURL != "" {
		cfg.FTokenURLs = splitList(o.FTokenURL)
		cfg.Sources["f_token_urls"] = string(SourceFlag)
	}
	if o.StoreDir != "" {
		cfg.StoreDir = o.StoreDir
		cfg.Sources["store_dir"] = string(SourceFlag)
	}
	if o.NoKeyring {
		cfg.NoKeyring = true
		cfg.Sources["no_keyring"] = string(SourceFlag)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
		cfg.Sources["log_level"] = string(SourceFlag)
	}
}

// parseEnvBool parses a boolean environment variable strictly.
// Unrecognized values are ignored rather than coerced.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Path helpers

func systemConfigPath() string {
	return "/etc/sn3/config.json"
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "sn3")
}
