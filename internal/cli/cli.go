// Package cli implements the cratescan command-line interface.
//
// # Commands
//
//   - from-impls: count single-field tuple structs implementing From
//   - format-args: classify the arguments of formatting macros
//   - cache: manage the registry response cache
//   - completion: print shell completion scripts
//
// Both scan commands take the number of crates as an optional argument or
// via --top-n and share the same flags.
//
// # Configuration
//
// Flags override the TOML file given with --config, which defaults to
// $XDG_CONFIG_HOME/cratescan/config.toml.
//
// # Logging
//
// Logs go to stderr through charmbracelet/log; --verbose (-v) enables
// debug output. Reports go to stdout or --output.
package cli

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/cratescan/pkg/analysis"
	"github.com/matzehuels/cratescan/pkg/analysis/fmtargs"
	"github.com/matzehuels/cratescan/pkg/analysis/fromimpls"
	"github.com/matzehuels/cratescan/pkg/buildinfo"
	"github.com/matzehuels/cratescan/pkg/cache"
	"github.com/matzehuels/cratescan/pkg/rustsyntax"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "cratescan"

	// cachePrefix namespaces keys in a shared Redis cache.
	cachePrefix = "cratescan:"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// ConfigPath is bound to the global --config flag.
	ConfigPath string

	parser *rustsyntax.Parser
	stderr io.Writer
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		parser: rustsyntax.NewParser(),
		stderr: w,
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "cratescan tallies syntactic patterns across popular crates",
		Long:          `cratescan downloads the most downloaded crates from crates.io, parses their Rust sources and counts how often a syntactic pattern occurs.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.ConfigPath, "config", "", "config file (default $XDG_CONFIG_HOME/cratescan/config.toml)")

	for _, m := range c.matchers() {
		root.AddCommand(c.scanCommand(m))
	}
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// matchers lists the available scans.
func (c *CLI) matchers() []analysis.Matcher {
	return []analysis.Matcher{
		fromimpls.New(),
		fmtargs.New(c.parser),
	}
}

// =============================================================================
// Cache Factory
// =============================================================================

// newCache opens the configured response cache: Redis when a URL is set,
// the file cache otherwise, nothing with --no-cache.
func newCache(ctx context.Context, cfg *Config, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL, cachePrefix)
		if err != nil {
			return nil, err
		}
		return rc, nil
	}
	dir, err := cacheDir()
	if err != nil {
		return cache.NewNullCache(), nil
	}
	fc, err := cache.NewFileCache(dir)
	if err != nil {
		return nil, err
	}
	return fc, nil
}

// redactURL hides the password of a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid url)"
	}
	return u.Redacted()
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/cratescan/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// configDir returns the config directory using XDG standard (~/.config/cratescan/).
func configDir() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}
