package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cratescan/pkg/analysis"
	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/integrations/crates"
	"github.com/matzehuels/cratescan/pkg/observability"
	"github.com/matzehuels/cratescan/pkg/pipeline"
	"github.com/matzehuels/cratescan/pkg/report"
	"github.com/matzehuels/cratescan/pkg/source"
)

var (
	// errInterrupted is returned after the partial report of an
	// interrupted run has been written. main maps it to exit code 130.
	errInterrupted = fmt.Errorf("scan interrupted: %w", context.Canceled)

	errTimeout = errors.New("scan timeout reached")
)

// scanFlags holds the flags shared by all scan commands.
type scanFlags struct {
	topN           int
	workers        int
	timeout        time.Duration
	format         string
	output         string
	noCache        bool
	refresh        bool
	verifyChecksum bool
	include        []string
	exclude        []string
	repos          []string
	metricsFile    string
	traceFile      string
}

// scanCommand creates the command running matcher m.
func (c *CLI) scanCommand(m analysis.Matcher) *cobra.Command {
	var flags scanFlags

	cmd := &cobra.Command{
		Use:   m.Name() + " [N]",
		Short: m.Description(),
		Long: fmt.Sprintf(`%s.

Downloads the N most downloaded crates from crates.io (default %d), parses
every Rust file and prints the tally per category. Packages or files that
cannot be fetched or parsed are skipped and counted with their reason.

GitHub repositories given with --repo are scanned after the crates; use a
count of 0 to scan only them.`, m.Description(), pipeline.DefaultTopN),
		Example: fmt.Sprintf(`  # Scan the top 100 crates
  cratescan %[1]s

  # Scan the top 1000 crates with 8 workers, JSON output
  cratescan %[1]s 1000 --workers 8 --format json -o report.json

  # Skip tests and benches
  cratescan %[1]s --exclude '**/tests/**' --exclude '**/benches/**'

  # Scan two repositories and no crates
  cratescan %[1]s 0 --repo rust-lang/rust --repo tokio-rs/tokio@master`, m.Name()),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return cerrors.New(cerrors.ErrCodeInvalidInput, "invalid package count %q", args[0])
				}
				if cmd.Flags().Changed("top-n") && n != flags.topN {
					return cerrors.New(cerrors.ErrCodeInvalidInput, "package count given twice (%d and --top-n %d)", n, flags.topN)
				}
				flags.topN = n
			}
			return c.runScan(cmd, m, flags)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&flags.topN, "top-n", "n", pipeline.DefaultTopN, "number of most downloaded crates to scan")
	f.IntVarP(&flags.workers, "workers", "w", 0, "concurrent packages (default min(8, CPUs))")
	f.DurationVar(&flags.timeout, "timeout", 0, "stop after this long and report partial results (0 = no limit)")
	f.StringVarP(&flags.format, "format", "f", report.FormatText, "output format: text, json")
	f.StringVarP(&flags.output, "output", "o", "", "write the report to a file instead of stdout")
	f.BoolVar(&flags.noCache, "no-cache", false, "disable the registry response cache")
	f.BoolVar(&flags.refresh, "refresh", false, "ignore cached registry responses")
	f.BoolVar(&flags.verifyChecksum, "verify-checksum", false, "verify archive sha256 against the registry (one extra request per crate)")
	f.StringArrayVar(&flags.include, "include", nil, "glob of files to scan, relative to the crate root (repeatable)")
	f.StringArrayVar(&flags.exclude, "exclude", nil, "glob of files to leave out (repeatable)")
	f.StringArrayVar(&flags.repos, "repo", nil, "also scan GitHub repository owner/name[@ref] (repeatable)")
	f.StringVar(&flags.metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")
	f.StringVar(&flags.traceFile, "trace-file", "", "write OpenTelemetry spans as JSON to this file")

	return cmd
}

// merge fills unset flags from the config file.
func (f *scanFlags) merge(cmd *cobra.Command, cfg *Config) {
	changed := cmd.Flags().Changed
	if !changed("workers") && cfg.Workers > 0 {
		f.workers = cfg.Workers
	}
	if !changed("timeout") && cfg.Timeout.Duration > 0 {
		f.timeout = cfg.Timeout.Duration
	}
	if !changed("include") {
		f.include = cfg.Source.Include
	}
	if !changed("exclude") {
		f.exclude = cfg.Source.Exclude
	}
	if !changed("verify-checksum") {
		f.verifyChecksum = cfg.Source.VerifyChecksum
	}
	if !changed("repo") {
		f.repos = cfg.Source.Repositories
	}
}

func (f *scanFlags) validate() error {
	if f.topN < 0 || (f.topN == 0 && len(f.repos) == 0) {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "package count must be positive, got %d", f.topN)
	}
	if f.workers < 0 {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "workers must not be negative, got %d", f.workers)
	}
	if f.timeout < 0 {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "timeout must not be negative")
	}
	return report.ValidateFormat(f.format)
}

// runScan wires registry, fetcher and pipeline together and writes the
// report.
func (c *CLI) runScan(cmd *cobra.Command, m analysis.Matcher, flags scanFlags) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	cfg, err := loadConfig(c.ConfigPath)
	if err != nil {
		return err
	}
	flags.merge(cmd, cfg)
	if err := flags.validate(); err != nil {
		return err
	}
	repos, err := source.ParseRepositories(flags.repos, cfg.Registry.GitHubURL)
	if err != nil {
		return err
	}

	if flags.traceFile != "" {
		shutdown, err := setupTracing(flags.traceFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("could not write traces", "err", err)
			}
		}()
	}

	var metrics *observability.Metrics
	if flags.metricsFile != "" {
		metrics = observability.NewMetrics()
		observability.SetPipelineHooks(metrics)
		observability.SetHTTPHooks(metrics)
		observability.SetCacheHooks(metrics)
		defer observability.Reset()
	}

	backend, err := newCache(ctx, cfg, flags.noCache)
	if err != nil {
		return err
	}
	defer backend.Close()

	clientOpts := []crates.Option{
		crates.WithBaseURL(cfg.Registry.BaseURL),
		crates.WithDownloadURL(cfg.Registry.DownloadURL),
		crates.WithRateLimit(cfg.Registry.RateLimit),
		crates.WithRetry(cfg.Registry.Retries, cfg.Registry.RetryDelay.Duration),
	}
	if cfg.Registry.UserAgent != "" {
		clientOpts = append(clientOpts, crates.WithUserAgent(cfg.Registry.UserAgent))
	}
	client := crates.NewClient(backend, cfg.Cache.TTL.Duration, clientOpts...)
	registry := source.NewCratesRegistry(client, flags.refresh)

	workDir, err := os.MkdirTemp("", appName+"-*")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("could not remove workspace", "dir", workDir, "err", err)
		}
	}()

	fetchOpts := source.FetchOptions{
		Include:         flags.include,
		Exclude:         flags.exclude,
		MaxArchiveBytes: cfg.Source.MaxArchiveBytes,
		MaxFileBytes:    cfg.Source.MaxFileBytes,
	}
	if flags.verifyChecksum {
		fetchOpts.Verifier = registry
	}
	fetcher, err := source.NewFetcher(client, workDir, fetchOpts)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if flags.timeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, flags.timeout, errTimeout)
		defer stop()
	}

	prog := newProgress(logger)
	runner := pipeline.NewRunner(registry, fetcher, c.parser)
	result, err := c.execute(runCtx, runner, pipeline.Options{
		TopN:         flags.topN,
		Workers:      flags.workers,
		Matcher:      m,
		Repositories: repos,
		Logger:       logger,
	}, func() { cancel(errInterrupted) })
	if err != nil {
		if ctx.Err() != nil || errors.Is(context.Cause(runCtx), errInterrupted) {
			return errInterrupted
		}
		return err
	}
	prog.done(fmt.Sprintf("Scanned %d packages", result.Report.Packages.Processed))

	if err := c.writeReport(cmd.OutOrStdout(), flags, result); err != nil {
		return err
	}
	if metrics != nil {
		if err := metrics.WriteTextfile(flags.metricsFile); err != nil {
			logger.Warn("could not write metrics", "file", flags.metricsFile, "err", err)
		}
	}

	if result.Interrupted {
		if errors.Is(context.Cause(runCtx), errTimeout) {
			logger.Warn("timeout reached, report is partial", "timeout", flags.timeout)
			return nil
		}
		return errInterrupted
	}
	return nil
}

// writeReport writes the report to flags.output, or to stdout.
func (c *CLI) writeReport(stdout io.Writer, flags scanFlags, result *pipeline.Result) error {
	if flags.output == "" {
		return report.Write(stdout, result.Report, flags.format)
	}

	f, err := os.Create(flags.output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := report.Write(f, result.Report, flags.format); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	printFile(flags.output)
	return nil
}
