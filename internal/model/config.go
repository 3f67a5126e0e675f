package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Cache backends.
const (
	CacheBackendJSON   = "json"
	CacheBackendSQLite = "sqlite"
)

// DefaultCacheDir is the cache directory used when none is configured.
const DefaultCacheDir = "AzureItemsCache"

// CacheConfig selects where synced records are persisted between sessions.
type CacheConfig struct {
	// Backend is "json" (one file per kind) or "sqlite".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Dir is the directory holding the cache files.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Config is the top-level application configuration.
type Config struct {
	// Organization is the Azure DevOps organization name
	// (https://dev.azure.com/<organization>).
	Organization string `mapstructure:"organization" yaml:"organization"`

	// PAT is the personal access token. When empty it is looked up in the
	// system keyring.
	PAT string `mapstructure:"pat" yaml:"pat,omitempty"`

	// BaseURL overrides https://dev.azure.com/<organization>.
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`

	// WorkItemTypes restricts the work item query to these types.
	// An empty list fetches every type.
	WorkItemTypes []string `mapstructure:"work_item_types" yaml:"work_item_types"`

	BuildNotOlderThanDays  float64 `mapstructure:"build_not_older_than_days" yaml:"build_not_older_than_days"`
	MaxBuildsPerDefinition int     `mapstructure:"max_builds_per_definition" yaml:"max_builds_per_definition"`
	MaxCommitsPerRepo      int     `mapstructure:"max_commits_per_repo" yaml:"max_commits_per_repo"`

	UseCaching bool        `mapstructure:"use_caching" yaml:"use_caching"`
	Cache      CacheConfig `mapstructure:"cache" yaml:"cache"`

	// PollIntervalSec is how often the background loop syncs everything.
	// Zero disables periodic polling.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// Concurrency bounds the parallel project/repo fetches of build and
	// commit syncs. One keeps them sequential.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// RequestsPerSecond paces outbound API calls. Zero means unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// LogDir receives saved log buffers.
	LogDir string `mapstructure:"log_dir" yaml:"log_dir"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/azure-tracker/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "azure-tracker", "config.yaml")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		WorkItemTypes:          []string{"Bug", "User Story", "Task", "Epic", "Feature"},
		BuildNotOlderThanDays:  30,
		MaxBuildsPerDefinition: 100,
		MaxCommitsPerRepo:      100,
		UseCaching:             true,
		Cache: CacheConfig{
			Backend: CacheBackendJSON,
			Dir:     DefaultCacheDir,
		},
		Concurrency: 1,
		LogDir:      "logs",
	}
}

// NewViper returns a Viper instance bound to the config file at path, the
// AZURE_TRACKER_* environment variables and the built-in defaults.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("AZURE_TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("organization", "")
	v.SetDefault("pat", "")
	v.SetDefault("base_url", "")
	v.SetDefault("work_item_types", d.WorkItemTypes)
	v.SetDefault("build_not_older_than_days", d.BuildNotOlderThanDays)
	v.SetDefault("max_builds_per_definition", d.MaxBuildsPerDefinition)
	v.SetDefault("max_commits_per_repo", d.MaxCommitsPerRepo)
	v.SetDefault("use_caching", d.UseCaching)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("poll_interval_sec", 0)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("requests_per_second", 0)
	v.SetDefault("log_dir", d.LogDir)
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults (plus environment overrides) are used.
func LoadConfig(path string) (*Config, error) {
	v := NewViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return ConfigFromViper(v)
}

// ConfigFromViper decodes an already-read Viper instance.
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", v.ConfigFileUsed(), err)
	}
	cfg.WorkItemTypes = SplitWorkItemTypes(cfg.WorkItemTypes...)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendJSON
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = DefaultCacheDir
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
}

// Validate reports configuration that makes initialization impossible.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Organization) == "" {
		return errors.New("organization is required")
	}
	switch c.Cache.Backend {
	case "", CacheBackendJSON, CacheBackendSQLite:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.MaxBuildsPerDefinition < 0 || c.MaxCommitsPerRepo < 0 {
		return errors.New("max_builds_per_definition and max_commits_per_repo must not be negative")
	}
	return nil
}

// SplitWorkItemTypes flattens type names that were given as one ';' or ','
// separated string, dropping blanks.
func SplitWorkItemTypes(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool {
			return r == ';' || r == ','
		}) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The PAT is never written; it
// belongs in the keyring.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("organization", cfg.Organization)
	if cfg.BaseURL != "" {
		v.Set("base_url", cfg.BaseURL)
	}
	v.Set("work_item_types", cfg.WorkItemTypes)
	v.Set("build_not_older_than_days", cfg.BuildNotOlderThanDays)
	v.Set("max_builds_per_definition", cfg.MaxBuildsPerDefinition)
	v.Set("max_commits_per_repo", cfg.MaxCommitsPerRepo)
	v.Set("use_caching", cfg.UseCaching)
	v.Set("cache.backend", cfg.Cache.Backend)
	v.Set("cache.dir", cfg.Cache.Dir)
	v.Set("poll_interval_sec", cfg.PollIntervalSec)
	v.Set("concurrency", cfg.Concurrency)
	v.Set("requests_per_second", cfg.RequestsPerSecond)
	v.Set("log_dir", cfg.LogDir)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
