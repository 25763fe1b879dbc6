package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/rttbench/internal/analysis"
	"github.com/torosent/rttbench/internal/runner"
	"github.com/torosent/rttbench/internal/threshold"
)

// ReportFileName is the text report written next to the artifacts.
const ReportFileName = "rtt_report.txt"

// PrintAnalysisReport outputs a human-readable analysis report.
func PrintAnalysisReport(w io.Writer, report *analysis.Report) {
	fmt.Fprintln(w, "RTT ANALYSIS REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Generated:         %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Directory:         %s\n", report.Dir)
	fmt.Fprintf(w, "Clients analyzed:  %d\n", len(report.Clients))
	fmt.Fprintf(w, "Total samples:     %d\n", report.TotalSamples)
	fmt.Fprintf(w, "Outliers removed:  %d (%.1f%%)\n", report.OutliersRemoved, report.OutlierRate())

	fmt.Fprintln(w, "\nClients:")
	if len(report.Clients) == 0 {
		fmt.Fprintln(w, "  None")
	}
	for _, c := range report.Clients {
		fmt.Fprintf(w, "  %s: %d samples", c.Name, c.Samples)
		if c.InvalidDropped > 0 || c.OutliersRemoved > 0 {
			fmt.Fprintf(w, " (invalid dropped=%d, outliers removed=%d)", c.InvalidDropped, c.OutliersRemoved)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "\nStatistics by payload size (microseconds):")
	fmt.Fprintf(w, "%10s  %6s  %10s  %10s  %10s  %10s  %10s  %10s  %10s\n",
		"Size(B)", "Count", "Mean", "Std", "Min", "Max", "P50", "P95", "P99")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, row := range report.Rows {
		fmt.Fprintf(w, "%10d  %6d  %10.2f  %10.2f  %10.2f  %10.2f  %10.2f  %10.2f  %10.2f\n",
			row.PayloadSize, row.Count, row.Mean, row.Std, row.Min, row.Max, row.P50, row.P95, row.P99)
	}

	fmt.Fprintln(w, "\nAnomaly analysis:")
	if len(report.Anomalies) == 0 {
		fmt.Fprintf(w, "  No payload size exceeds %.1f%% outliers\n", report.AnomalyThreshold)
	}
	for _, a := range report.Anomalies {
		fmt.Fprintf(w, "  %d bytes: %.1f%% outliers detected (%d of %d)\n", a.PayloadSize, a.Percent, a.Outliers, a.Total)
	}

	if len(report.Skipped) > 0 {
		fmt.Fprintln(w, "\nSkipped artifacts:")
		for _, s := range report.Skipped {
			fmt.Fprintf(w, "  %s: %s\n", s.Path, s.Reason)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report *analysis.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, report *analysis.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

// WriteReportFile writes the text report to dir and returns its path.
func WriteReportFile(dir string, report *analysis.Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(dir, ReportFileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	PrintAnalysisReport(f, report)
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// PrintThresholdResults outputs one line per threshold result.
func PrintThresholdResults(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	passed := 0
	for _, r := range results {
		if r.Pass {
			passed++
		}
	}
	fmt.Fprintf(w, "\nThresholds: %d/%d passed\n", passed, len(results))
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
}

// PrintFleetSummary outputs the outcome of a fleet run.
func PrintFleetSummary(w io.Writer, result runner.FleetResult) {
	succeeded := result.Succeeded()
	fmt.Fprintln(w, "\n--- Fleet Results ---")
	fmt.Fprintf(w, "Total time:        %s\n", result.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(w, "Clients:           %d\n", len(result.Results))
	fmt.Fprintf(w, "Successful:        %d\n", succeeded)
	fmt.Fprintf(w, "Failed:            %d\n", result.Failed())

	if succeeded > 0 {
		var total time.Duration
		samples := 0
		for _, r := range result.Results {
			if r.Status == runner.StatusSuccess {
				total += r.ExecutionTime
				samples += r.Samples
			}
		}
		fmt.Fprintf(w, "Avg client time:   %s\n", (total / time.Duration(succeeded)).Round(time.Millisecond))
		fmt.Fprintf(w, "Samples:           %d\n", samples)
	}

	var artifacts []string
	for _, r := range result.Results {
		if r.ArtifactPath != "" {
			artifacts = append(artifacts, r.ArtifactPath)
		}
	}
	if len(artifacts) > 0 {
		fmt.Fprintln(w, "\nArtifacts:")
		for _, a := range artifacts {
			fmt.Fprintf(w, "  %s\n", a)
		}
	}

	if result.Failed() > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, r := range result.Results {
			if r.Status != runner.StatusSuccess {
				fmt.Fprintf(w, "  %s: %v\n", r.ClientID, r.Error)
			}
		}
	}
}
