// Package pipeline runs a scan: list packages, fetch each one, parse its
// files, run one matcher over them and tally the records.
//
// # Architecture
//
// Packages are independent, so the run is a bounded worker pool over the
// package list:
//
//  1. List: ask the registry for the top N packages and append any
//     repositories named in the options
//  2. Fetch: download and unpack one package into its own workspace
//  3. Parse: parse every extracted file with the shared Rust parser
//  4. Match: feed the trees to the package's scanner
//  5. Tally: count records in the worker's own tally
//
// Worker tallies are merged once all workers are done. Only a failing
// package listing aborts the run; everything else is counted as a skipped
// package or file together with its reason.
//
// # Usage
//
//	runner := pipeline.NewRunner(registry, fetcher, rustsyntax.NewParser())
//	result, err := runner.Run(ctx, pipeline.Options{
//	    TopN:    100,
//	    Matcher: fromimpls.New(),
//	    Logger:  logger,
//	})
//	if err != nil {
//	    return err
//	}
//	report.WriteText(os.Stdout, result.Report)
//
// Cancelling ctx stops the run early: packages not yet finished are
// counted as skipped with reason "cancelled" and the partial report is
// still returned.
package pipeline

import (
	"io"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/cratescan/pkg/analysis"
	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/source"
	"github.com/matzehuels/cratescan/pkg/tally"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultTopN is the number of packages scanned when none is given.
	DefaultTopN = 100

	// MaxDefaultWorkers caps the default pool size. Registry downloads are
	// the bottleneck and crates.io asks clients to stay gentle.
	MaxDefaultWorkers = 8
)

// DefaultWorkers returns min(MaxDefaultWorkers, NumCPU).
func DefaultWorkers() int {
	return min(MaxDefaultWorkers, runtime.NumCPU())
}

// =============================================================================
// Options
// =============================================================================

// Options configures a run.
type Options struct {
	TopN    int
	Workers int
	Matcher analysis.Matcher

	// Repositories are scanned after the registry's top packages. With
	// repositories given, TopN may be zero to skip the registry.
	Repositories []source.PackageRef

	// RunID tags log lines and spans. A random one is generated if empty.
	RunID string

	Logger *log.Logger

	// OnPackage, when set, is called by the workers after every package
	// with an empty reason for processed packages. It must be safe for
	// concurrent use.
	OnPackage func(ref source.PackageRef, skipReason string)

	validated bool
}

// ValidateAndSetDefaults checks required fields and applies defaults.
// It is idempotent.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if o.TopN < 0 || (o.TopN == 0 && len(o.Repositories) == 0) {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "top-n must be positive, got %d", o.TopN)
	}
	if o.Matcher == nil {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "matcher is required")
	}
	if o.Workers < 0 {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "workers must not be negative, got %d", o.Workers)
	}
	if o.Workers == 0 {
		o.Workers = DefaultWorkers()
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	o.validated = true
	return nil
}

// =============================================================================
// Result
// =============================================================================

// Result is the outcome of a run.
type Result struct {
	RunID  string
	Report *tally.Report

	// Interrupted is set when the context ended before every package was
	// scanned. The report is partial and counts the rest as cancelled.
	Interrupted bool

	Duration time.Duration
}
