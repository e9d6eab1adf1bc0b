package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.shelfie/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds general client settings.
type ConfigDefault struct {
	BaseURL      string `toml:"base_url"`
	PollInterval string `toml:"poll_interval"`
	RateLimit    int    `toml:"rate_limit"`
}

// ConfigAuth holds the signed-in viewer.
type ConfigAuth struct {
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.shelfie, creating it if needed.
func configDir() (string, error) {
	if dir := os.Getenv("SHELFIE_CONFIG_DIR"); dir != "" {
		return dir, os.MkdirAll(dir, 0o700)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "cannot determine home directory")
	}
	dir := filepath.Join(home, ".shelfie")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.Wrap(err, "cannot create config directory")
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file, then applies environment
// overrides. A missing file yields a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrap(err, "cannot read config")
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "cannot parse config")
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv lets SHELFIE_* variables override the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SHELFIE_BASE_URL"); v != "" {
		cfg.Default.BaseURL = v
	}
	if v := os.Getenv("SHELFIE_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("SHELFIE_USER_ID"); v != "" {
		cfg.Auth.UserID = v
	}
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "cannot marshal config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "cannot write config")
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return errors.New("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "poll_interval":
			cfg.Default.PollInterval = value
		case "rate_limit":
			var n int
			if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 0 {
				return errors.Errorf("rate_limit must be a non-negative integer, got %q", value)
			}
			cfg.Default.RateLimit = n
		default:
			return errors.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		case "username":
			cfg.Auth.Username = value
		default:
			return errors.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return errors.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

// ============================================================================
// Logging
// ============================================================================

var (
	verbosity int
	logPath   string
)

// initLog routes jww output to logPath ("-" or "" for stdout) and sets the
// threshold: 0 is WARN, 1 INFO, 2 DEBUG, more is TRACE.
func initLog(threshold int, logPath string) error {
	if logPath != "-" && logPath != "" {
		jww.SetStdoutOutput(io.Discard)
		out, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrap(err, "cannot open log file")
		}
		jww.SetLogOutput(out)
	}

	level, name := jww.LevelWarn, "WARN"
	switch {
	case threshold > 2:
		level, name = jww.LevelTrace, "TRACE"
	case threshold == 2:
		level, name = jww.LevelDebug, "DEBUG"
	case threshold == 1:
		level, name = jww.LevelInfo, "INFO"
	}
	jww.SetStdoutThreshold(level)
	jww.SetLogThreshold(level)
	if level < jww.LevelInfo {
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}
	jww.INFO.Printf("log level set to: %s", name)
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "shelfie",
	Short: "Shelfie chat CLI",
	Long:  "Command-line client for Shelfie direct messages.\nList conversations, read and send messages, and follow a conversation live.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()
		return initLog(verbosity, logPath)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log detail (repeat for more)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-file", "", "Write logs to this file instead of stdout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
