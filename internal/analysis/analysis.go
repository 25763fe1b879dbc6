// Package analysis turns persisted RTT artifacts into an aggregate report.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/torosent/rttbench/internal/samples"
	"github.com/torosent/rttbench/internal/stats"
)

var (
	// ErrNoInput means the directory holds no artifacts.
	ErrNoInput = errors.New("no RTT artifacts found")
	// ErrNoUsableData means artifacts exist but none yielded valid samples.
	ErrNoUsableData = errors.New("no usable RTT data")
)

// Options configure Run. A zero MinOutlierCount or AnomalyThreshold selects
// the stats package default.
type Options struct {
	Dir              string
	MinOutlierCount  int
	AnomalyThreshold float64
	Logger           *slog.Logger
}

func (o *Options) normalize() {
	if o.Dir == "" {
		o.Dir = "."
	}
	if o.MinOutlierCount <= 0 {
		o.MinOutlierCount = stats.DefaultMinOutlierCount
	}
	if o.AnomalyThreshold <= 0 {
		o.AnomalyThreshold = stats.DefaultAnomalyThreshold
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ClientSummary describes one loaded artifact.
type ClientSummary struct {
	Name            string `json:"name" yaml:"name"`
	Path            string `json:"path" yaml:"path"`
	Samples         int    `json:"samples" yaml:"samples"`
	InvalidDropped  int    `json:"invalid_dropped" yaml:"invalid_dropped"`
	OutliersRemoved int    `json:"outliers_removed" yaml:"outliers_removed"`
}

// SkippedArtifact records an artifact that could not be used.
type SkippedArtifact struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// Report is the result of an analysis run.
type Report struct {
	GeneratedAt      time.Time                `json:"generated_at" yaml:"generated_at"`
	Dir              string                   `json:"dir" yaml:"dir"`
	AnomalyThreshold float64                  `json:"anomaly_threshold" yaml:"anomaly_threshold"`
	Clients          []ClientSummary          `json:"clients" yaml:"clients"`
	Rows             []stats.AggregateStatRow `json:"rows" yaml:"rows"`
	Anomalies        []stats.Anomaly          `json:"anomalies" yaml:"anomalies"`
	Skipped          []SkippedArtifact        `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	TotalSamples     int                      `json:"total_samples" yaml:"total_samples"`
	OutliersRemoved  int                      `json:"outliers_removed" yaml:"outliers_removed"`
}

// OutlierRate returns the percentage of valid samples removed as outliers.
func (r *Report) OutlierRate() float64 {
	total := r.TotalSamples + r.OutliersRemoved
	if total == 0 {
		return 0
	}
	return float64(r.OutliersRemoved) / float64(total) * 100
}

// Run discovers the artifacts in opts.Dir, filters each one and aggregates
// the result across clients. Unreadable artifacts are skipped with a warning.
func Run(ctx context.Context, opts Options) (*Report, error) {
	opts.normalize()
	logger := opts.Logger

	paths, err := samples.Discover(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("discover artifacts: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s (pattern %s): %w", opts.Dir, samples.ArtifactPattern, ErrNoInput)
	}
	logger.Info("analyzing artifacts", "dir", opts.Dir, "count", len(paths))

	report := &Report{
		GeneratedAt:      time.Now(),
		Dir:              opts.Dir,
		AnomalyThreshold: opts.AnomalyThreshold,
	}
	var combined []stats.Sample

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := samples.Load(path)
		if err != nil {
			logger.Warn("skipping artifact", "path", path, "error", err)
			report.Skipped = append(report.Skipped, SkippedArtifact{Path: path, Reason: err.Error()})
			continue
		}
		valid, invalid := stats.FilterInvalid(loaded)
		if len(valid) == 0 {
			logger.Warn("skipping artifact without valid samples", "path", path, "rows", len(loaded))
			report.Skipped = append(report.Skipped, SkippedArtifact{Path: path, Reason: "no valid samples"})
			continue
		}
		kept, removed := stats.RemoveOutliers(valid, opts.MinOutlierCount)
		if len(removed) > 0 {
			logger.Debug("removed outliers", "path", path, "removed", len(removed),
				"percent", fmt.Sprintf("%.1f", float64(len(removed))/float64(len(valid))*100))
		}

		report.Clients = append(report.Clients, ClientSummary{
			Name:            samples.ClientName(path),
			Path:            path,
			Samples:         len(kept),
			InvalidDropped:  invalid,
			OutliersRemoved: len(removed),
		})
		report.OutliersRemoved += len(removed)
		combined = append(combined, kept...)
	}

	if len(combined) == 0 {
		return report, fmt.Errorf("%d artifacts examined: %w", len(paths), ErrNoUsableData)
	}

	report.TotalSamples = len(combined)
	report.Rows = stats.Aggregate(combined)
	report.Anomalies = stats.Anomalies(combined, opts.MinOutlierCount, opts.AnomalyThreshold)
	for _, a := range report.Anomalies {
		logger.Warn("outlier rate above threshold", "size", a.PayloadSize,
			"percent", fmt.Sprintf("%.1f", a.Percent), "threshold", opts.AnomalyThreshold)
	}
	return report, nil
}
