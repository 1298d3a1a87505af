package cli

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/integrations/crates"
	"github.com/matzehuels/cratescan/pkg/source"
)

// Config is the optional TOML configuration file. Command-line flags take
// precedence over every value in it.
//
//	workers = 4
//	timeout = "30m"
//
//	[registry]
//	rate_limit = 2.0
//
//	[cache]
//	redis_url = "redis://localhost:6379/0"
//
//	[source]
//	exclude = ["**/tests/**", "**/benches/**"]
//	repositories = ["rust-lang/rust"]
type Config struct {
	Workers  int      `toml:"workers"`
	Timeout  Duration `toml:"timeout"`
	Registry Registry `toml:"registry"`
	Cache    Cache    `toml:"cache"`
	Source   Source   `toml:"source"`
}

// Registry configures the crates.io client.
type Registry struct {
	BaseURL     string   `toml:"base_url"`
	DownloadURL string   `toml:"download_url"`
	GitHubURL   string   `toml:"github_url"` // serves --repo archives
	UserAgent   string   `toml:"user_agent"`
	RateLimit   float64  `toml:"rate_limit"` // requests per second
	Retries     int      `toml:"retries"`
	RetryDelay  Duration `toml:"retry_delay"`
}

// Cache configures the registry response cache.
type Cache struct {
	TTL      Duration `toml:"ttl"`
	RedisURL string   `toml:"redis_url"`
}

// Source configures archive extraction.
type Source struct {
	Include         []string `toml:"include"`
	Exclude         []string `toml:"exclude"`
	MaxArchiveBytes int64    `toml:"max_archive_bytes"`
	MaxFileBytes    int64    `toml:"max_file_bytes"`
	VerifyChecksum  bool     `toml:"verify_checksum"`
	Repositories    []string `toml:"repositories"` // owner/name[@ref], scanned like --repo
}

// Duration is a time.Duration written as a string ("90s", "1h").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// defaultConfig returns the configuration used when no file exists.
func defaultConfig() *Config {
	return &Config{
		Registry: Registry{
			BaseURL:     crates.DefaultBaseURL,
			DownloadURL: crates.DefaultDownloadURL,
			GitHubURL:   source.DefaultGitHubURL,
			RateLimit:   1,
			Retries:     3,
			RetryDelay:  Duration{time.Second},
		},
		Cache: Cache{
			TTL: Duration{24 * time.Hour},
		},
		Source: Source{
			Include:         source.DefaultInclude,
			MaxArchiveBytes: source.DefaultMaxArchiveBytes,
			MaxFileBytes:    source.DefaultMaxFileBytes,
		},
	}
}

// loadConfig reads the file at path on top of the defaults. An empty path
// means the default location, which may be missing; an explicitly given
// file must exist.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		dir, err := configDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(dir, "config.toml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "read config")
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "parse config %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Workers < 0:
		return cerrors.New(cerrors.ErrCodeInvalidConfig, "workers must not be negative")
	case c.Timeout.Duration < 0:
		return cerrors.New(cerrors.ErrCodeInvalidConfig, "timeout must not be negative")
	case c.Registry.RateLimit < 0:
		return cerrors.New(cerrors.ErrCodeInvalidConfig, "registry.rate_limit must not be negative")
	case c.Registry.Retries < 1:
		return cerrors.New(cerrors.ErrCodeInvalidConfig, "registry.retries must be at least 1")
	}
	if err := cerrors.ValidateURL(c.Registry.BaseURL); err != nil {
		return cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "registry.base_url")
	}
	if err := cerrors.ValidateURL(c.Registry.DownloadURL); err != nil {
		return cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "registry.download_url")
	}
	if err := cerrors.ValidateURL(c.Registry.GitHubURL); err != nil {
		return cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "registry.github_url")
	}
	return nil
}
