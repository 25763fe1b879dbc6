package analysis_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/torosent/rttbench/internal/analysis"
	"github.com/torosent/rttbench/internal/samples"
	"github.com/torosent/rttbench/internal/stats"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeArtifact(t *testing.T, dir, client string, data []stats.Sample) string {
	t.Helper()
	w, err := samples.NewWriter(dir, client, time.Now())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, s := range data {
		if err := w.Append(s); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return w.Path()
}

func steady(size uint32, n int, base float64) []stats.Sample {
	out := make([]stats.Sample, n)
	for i := range out {
		out[i] = stats.Sample{PayloadSize: size, Sequence: uint32(i + 1), RTTMicros: base + float64(i%5)}
	}
	return out
}

func TestRunAggregatesAcrossClients(t *testing.T) {
	dir := t.TempDir()
	a := steady(64, 20, 100)
	a = append(a, stats.Sample{PayloadSize: 64, Sequence: 21, RTTMicros: 9000})
	writeArtifact(t, dir, "client_001", a)
	writeArtifact(t, dir, "client_002", append(steady(64, 20, 100), steady(1024, 5, 300)...))

	report, err := analysis.Run(context.Background(), analysis.Options{Dir: dir, Logger: quiet})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Clients) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(report.Clients))
	}
	if report.Clients[0].OutliersRemoved != 1 {
		t.Fatalf("expected the spike to be removed from client_001, got %+v", report.Clients[0])
	}
	if len(report.Rows) != 2 || report.Rows[0].PayloadSize != 64 || report.Rows[1].PayloadSize != 1024 {
		t.Fatalf("unexpected rows %+v", report.Rows)
	}
	if report.Rows[0].Count != 40 || report.Rows[0].Max != 104 {
		t.Fatalf("unexpected 64-byte row %+v", report.Rows[0])
	}
	if report.Rows[1].Count != 5 {
		t.Fatalf("size with too few samples must not be filtered: %+v", report.Rows[1])
	}
	if report.TotalSamples != 45 || report.OutliersRemoved != 1 {
		t.Fatalf("unexpected totals %d/%d", report.TotalSamples, report.OutliersRemoved)
	}
	if rate := report.OutlierRate(); rate <= 2 || rate >= 2.3 {
		t.Fatalf("unexpected outlier rate %v", rate)
	}
}

func TestRunSkipsBadAndInProgressArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "client_001", steady(8, 12, 50))
	if err := os.WriteFile(filepath.Join(dir, "rtt_broken.csv"), []byte("size,rtt_us\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	open, err := samples.NewWriter(dir, "client_live", time.Now())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer open.Close()
	_ = open.Append(stats.Sample{PayloadSize: 8, Sequence: 1, RTTMicros: 50})

	report, err := analysis.Run(context.Background(), analysis.Options{Dir: dir, Logger: quiet})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Clients) != 1 || len(report.Skipped) != 2 {
		t.Fatalf("expected 1 client and 2 skipped, got %d/%d", len(report.Clients), len(report.Skipped))
	}
}

func TestRunDropsInvalidSamples(t *testing.T) {
	dir := t.TempDir()
	data := steady(16, 5, 10)
	data = append(data, stats.Sample{PayloadSize: 16, Sequence: 6, RTTMicros: 0}, stats.Sample{PayloadSize: 16, Sequence: 7, RTTMicros: -3})
	writeArtifact(t, dir, "client_001", data)

	report, err := analysis.Run(context.Background(), analysis.Options{Dir: dir, Logger: quiet})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Clients[0].InvalidDropped != 2 || report.Rows[0].Count != 5 {
		t.Fatalf("invalid samples not dropped: %+v %+v", report.Clients[0], report.Rows[0])
	}
}

func TestRunNoInput(t *testing.T) {
	_, err := analysis.Run(context.Background(), analysis.Options{Dir: t.TempDir(), Logger: quiet})
	if !errors.Is(err, analysis.ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
}

func TestRunNoUsableData(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "client_001", []stats.Sample{{PayloadSize: 1, Sequence: 1, RTTMicros: 0}})
	report, err := analysis.Run(context.Background(), analysis.Options{Dir: dir, Logger: quiet})
	if !errors.Is(err, analysis.ErrNoUsableData) {
		t.Fatalf("expected ErrNoUsableData, got %v", err)
	}
	if report == nil || len(report.Skipped) != 1 {
		t.Fatalf("expected the skipped artifact to be reported, got %+v", report)
	}
}
