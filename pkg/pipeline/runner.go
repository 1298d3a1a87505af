package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/cratescan/pkg/analysis"
	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/observability"
	"github.com/matzehuels/cratescan/pkg/rustsyntax"
	"github.com/matzehuels/cratescan/pkg/source"
	"github.com/matzehuels/cratescan/pkg/tally"
)

const tracerName = "github.com/matzehuels/cratescan/pkg/pipeline"

var (
	reasonCancelled = cerrors.Reason(nil, cerrors.ErrCodeCancelled)
	reasonOversized = cerrors.Reason(nil, cerrors.ErrCodeOversized)
)

// Fetcher makes one package's sources available in a workspace.
// *source.Fetcher is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, ref source.PackageRef) (*source.Workspace, error)
}

// Runner executes scans. It holds no per-run state, so one Runner can
// serve several runs, also concurrently.
type Runner struct {
	registry source.Registry
	fetcher  Fetcher
	parser   *rustsyntax.Parser
}

// NewRunner creates a runner. If parser is nil a new one is created.
func NewRunner(registry source.Registry, fetcher Fetcher, parser *rustsyntax.Parser) *Runner {
	if parser == nil {
		parser = rustsyntax.NewParser()
	}
	return &Runner{registry: registry, fetcher: fetcher, parser: parser}
}

// Run lists the top packages, adds opts.Repositories and scans them all
// with opts.Matcher.
//
// The only error returned after option validation is the registry's
// (REGISTRY_ERROR, or the context's error when cancelled while listing).
// Per-package and per-file failures end up in the report.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	start := time.Now()
	name := opts.Matcher.Name()
	logger := opts.Logger.With("run", opts.RunID)
	hooks := observability.Pipeline()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "cratescan.run", trace.WithAttributes(
		attribute.String("cratescan.run_id", opts.RunID),
		attribute.String("cratescan.matcher", name),
		attribute.Int("cratescan.top_n", opts.TopN),
		attribute.Int("cratescan.repositories", len(opts.Repositories)),
		attribute.Int("cratescan.workers", opts.Workers),
	))
	defer span.End()

	var refs []source.PackageRef
	if opts.TopN > 0 {
		listed, err := r.registry.TopPackages(ctx, opts.TopN)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "package listing failed")
			hooks.OnRunComplete(ctx, name, time.Since(start), err)
			return nil, err
		}
		refs = listed
	}
	refs = append(refs, opts.Repositories...)

	hooks.OnRunStart(ctx, name, len(refs))
	logger.Info("scanning packages", "matcher", name, "packages", len(refs), "workers", opts.Workers)

	jobs := make(chan source.PackageRef, len(refs))
	for _, ref := range refs {
		jobs <- ref
	}
	close(jobs)

	tallies := make([]*tally.Tally, opts.Workers)
	var g errgroup.Group
	for i := range tallies {
		t := tally.New()
		tallies[i] = t
		g.Go(func() error {
			for ref := range jobs {
				r.scanPackage(ctx, &opts, logger, ref, t)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := tally.New()
	for _, t := range tallies {
		total.Merge(t)
	}

	result := &Result{
		RunID:       opts.RunID,
		Report:      total.Report(opts.Matcher, opts.TopN+len(opts.Repositories)),
		Interrupted: ctx.Err() != nil,
		Duration:    time.Since(start),
	}

	span.SetAttributes(
		attribute.Int("cratescan.packages.processed", result.Report.Packages.Processed),
		attribute.Int("cratescan.packages.skipped", result.Report.Packages.Skipped),
		attribute.Int("cratescan.records", result.Report.Total),
	)
	if result.Interrupted {
		span.SetStatus(codes.Error, "interrupted")
	}
	hooks.OnRunComplete(ctx, name, result.Duration, ctx.Err())

	logger.Info("scan complete",
		"processed", result.Report.Packages.Processed,
		"skipped", result.Report.Packages.Skipped,
		"records", result.Report.Total,
		"duration", result.Duration.Round(time.Millisecond))

	return result, nil
}

// scanPackage scans one package and counts the outcome in t. Records of a
// package that does not finish are discarded.
func (r *Runner) scanPackage(ctx context.Context, opts *Options, logger *log.Logger, ref source.PackageRef, t *tally.Tally) {
	hooks := observability.Pipeline()
	start := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "cratescan.package", trace.WithAttributes(
		attribute.String("cratescan.package", ref.Name),
		attribute.String("cratescan.version", ref.Version),
	))
	defer span.End()
	hooks.OnPackageStart(ctx, ref.Name)

	pkg, err := r.scanSources(ctx, opts.Matcher, logger, ref)

	reason := ""
	if err != nil {
		if ctx.Err() != nil && !cerrors.Is(err, cerrors.ErrCodeCancelled) {
			err = cerrors.Wrap(cerrors.ErrCodeCancelled, err, "%s", ref)
		}
		reason = cerrors.Reason(err, cerrors.ErrCodeFetch)
		t.PackageSkipped(reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		if reason == reasonCancelled {
			logger.Debug("package cancelled", "package", ref.String())
		} else {
			logger.Warn("skipped package", "package", ref.String(), "reason", reason, "err", err)
		}
	} else {
		t.Merge(pkg)
		logger.Debug("scanned package", "package", ref.String(), "records", pkg.Records())
	}

	span.SetAttributes(attribute.String("cratescan.outcome", outcome(reason)))
	hooks.OnPackageComplete(ctx, ref.Name, time.Since(start), reason)
	if opts.OnPackage != nil {
		opts.OnPackage(ref, reason)
	}
}

// scanSources fetches ref and scans every extracted file into a fresh
// tally.
func (r *Runner) scanSources(ctx context.Context, m analysis.Matcher, logger *log.Logger, ref source.PackageRef) (*tally.Tally, error) {
	if err := ctx.Err(); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeCancelled, err, "%s not started", ref)
	}

	ws, err := r.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Release(); err != nil {
			logger.Warn("could not remove workspace", "package", ref.String(), "err", err)
		}
	}()

	hooks := observability.Pipeline()
	pkg := tally.New()

	for range ws.Oversized() {
		pkg.FileSkipped(reasonOversized)
		hooks.OnFileComplete(ctx, ref.Name, reasonOversized)
	}

	scanner := m.NewScanner(ref)
	for _, rel := range ws.Files() {
		if err := ctx.Err(); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeCancelled, err, "%s interrupted", ref)
		}

		reason := ""
		if err := r.scanFile(ws, rel, scanner); err != nil {
			reason = cerrors.Reason(err, cerrors.ErrCodeRead)
			pkg.FileSkipped(reason)
			logger.Debug("skipped file", "package", ref.String(), "file", rel, "reason", reason, "err", err)
		} else {
			pkg.FileParsed()
		}
		hooks.OnFileComplete(ctx, ref.Name, reason)
	}

	findings, err := finish(scanner)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeMatcher, err, "%s", ref)
	}
	pkg.Add(findings)
	pkg.PackageDone()
	return pkg, nil
}

// scanFile reads, parses and scans one file. A panicking matcher costs the
// file, not the run: nothing the file produced is committed.
func (r *Runner) scanFile(ws *source.Workspace, rel string, scanner analysis.Scanner) (err error) {
	file, err := ws.ReadFile(rel)
	if err != nil {
		return err
	}
	tree, err := r.parser.Parse(file)
	if err != nil {
		return err
	}
	defer tree.Close()

	defer func() {
		if p := recover(); p != nil {
			err = cerrors.New(cerrors.ErrCodeMatcher, "scan %s: %v", rel, p)
		}
	}()
	commit := scanner.ScanFile(tree)
	commit()
	return nil
}

func finish(scanner analysis.Scanner) (f analysis.Findings, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("finish: %v", p)
		}
	}()
	return scanner.Finish(), nil
}

func outcome(reason string) string {
	if reason == "" {
		return "processed"
	}
	return reason
}
