package observability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Outcomes(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics()

	m.OnPackageComplete(ctx, "serde", time.Second, "")
	m.OnPackageComplete(ctx, "syn", time.Second, "")
	m.OnPackageComplete(ctx, "rand", time.Second, "fetch-error")
	m.OnFileComplete(ctx, "serde", "parse-error")

	if got := testutil.ToFloat64(m.packagesTotal.WithLabelValues("processed")); got != 2 {
		t.Errorf("processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.packagesTotal.WithLabelValues("fetch-error")); got != 1 {
		t.Errorf("fetch-error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.filesTotal.WithLabelValues("parse-error")); got != 1 {
		t.Errorf("parse-error files = %v, want 1", got)
	}
}

func TestMetrics_HTTPAndCache(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics()

	m.OnResponse(ctx, "GET", "crates.io", "/api/v1/crates", 200, 10*time.Millisecond)
	m.OnResponse(ctx, "GET", "crates.io", "/api/v1/crates", 429, 10*time.Millisecond)
	m.OnError(ctx, "GET", "static.crates.io", "/crates/x", errors.New("reset"))
	m.OnCacheHit(ctx, "listing")
	m.OnCacheMiss(ctx, "listing")
	m.OnCacheSet(ctx, "listing", 512)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("crates.io", "4xx")); got != 1 {
		t.Errorf("4xx = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.httpErrors.WithLabelValues("static.crates.io")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheBytes.WithLabelValues("listing")); got != 512 {
		t.Errorf("cache bytes = %v, want 512", got)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.OnRunComplete(context.Background(), "format-args", 3*time.Second, nil)

	path := filepath.Join(t.TempDir(), "cratescan.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `cratescan_run_seconds_count{matcher="format-args",status="ok"} 1`) {
		t.Errorf("textfile missing run histogram:\n%s", data)
	}
}
