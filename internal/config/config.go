package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultDirName       = ".python_module_explorer"
	defaultConfigName    = "config.json"
	defaultHelpChunkSize = 1_000_000
)

// Config matches the JSON (or TOML) schema read by all binaries.
type Config struct {
	DataDir          string   `json:"data_dir" toml:"data_dir"`
	DBPath           string   `json:"db_path" toml:"db_path"`
	IndexDir         string   `json:"index_path" toml:"index_path"`
	Python           string   `json:"python" toml:"python"`
	Addr             string   `json:"addr" toml:"addr"`
	HelpChunkSize    int      `json:"help_chunk_size" toml:"help_chunk_size"`
	CallTimeout      Duration `json:"call_timeout" toml:"call_timeout"`
	InstallTimeout   Duration `json:"install_timeout" toml:"install_timeout"`
	CacheSize        int      `json:"cache_size" toml:"cache_size"`
	CacheTTL         Duration `json:"cache_ttl" toml:"cache_ttl"`
	MinPythonVersion string   `json:"min_python_version" toml:"min_python_version"`
	IndexConcurrency int      `json:"index_concurrency" toml:"index_concurrency"`
	DefaultEnv       string   `json:"default_env" toml:"default_env"`
}

// Duration is a time.Duration that reads and writes as "30s" style text.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns a config populated with defaults rooted at the user's
// home directory.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dataDir := filepath.Join(home, defaultDirName)
	return &Config{
		DataDir:          dataDir,
		Python:           "python3",
		Addr:             ":8080",
		HelpChunkSize:    defaultHelpChunkSize,
		CallTimeout:      Duration(60 * time.Second),
		InstallTimeout:   Duration(10 * time.Minute),
		CacheSize:        256,
		CacheTTL:         Duration(30 * time.Minute),
		MinPythonVersion: "3.8",
		IndexConcurrency: 4,
	}
}

func DefaultPath() string {
	if path := os.Getenv("PYEXPLORER_CONFIG_FILE"); path != "" {
		return path
	}
	return filepath.Join(Default().DataDir, defaultConfigName)
}

// Load reads the config at path on top of the defaults. A missing file at
// the default location is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := loadEnvFile(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, raw, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath():
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, raw []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// loadEnvFile populates the process environment from a .env file, either
// $PYEXPLORER_ENV_FILE or ".env" next to the config. Variables already set
// win over the file.
func loadEnvFile(configPath string) error {
	envPath := os.Getenv("PYEXPLORER_ENV_FILE")
	if envPath == "" {
		envPath = filepath.Join(filepath.Dir(configPath), ".env")
	}
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PYEXPLORER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PYEXPLORER_PYTHON"); v != "" {
		c.Python = v
	}
	if v := os.Getenv("PYEXPLORER_ADDR"); v != "" {
		c.Addr = v
	}
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config data_dir is required")
	}
	if c.Python == "" {
		return errors.New("config python is required")
	}
	if c.HelpChunkSize <= 0 {
		return errors.New("config help_chunk_size must be positive")
	}
	if c.CallTimeout < 0 || c.InstallTimeout < 0 || c.CacheTTL < 0 {
		return errors.New("config durations must not be negative")
	}
	if c.CacheSize < 0 {
		return errors.New("config cache_size must not be negative")
	}
	if c.IndexConcurrency < 0 {
		return errors.New("config index_concurrency must not be negative")
	}
	return nil
}

func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "explorer.db")
}

func (c *Config) IndexPath() string {
	if c.IndexDir != "" {
		return c.IndexDir
	}
	return filepath.Join(c.DataDir, "search.db")
}

func (c *Config) FailuresPath() string {
	return filepath.Join(c.DataDir, "index-failures.log")
}

// EnvsDir holds the environments created without an explicit path.
func (c *Config) EnvsDir() string {
	return filepath.Join(c.DataDir, "envs")
}

// DefaultEnvPath is where the native host creates its environment when a
// request does not name one.
func (c *Config) DefaultEnvPath() string {
	if c.DefaultEnv != "" {
		return c.DefaultEnv
	}
	return filepath.Join(c.DataDir, "venv")
}
