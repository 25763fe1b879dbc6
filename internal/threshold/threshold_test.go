package threshold

import (
	"math"
	"strings"
	"testing"

	"github.com/torosent/rttbench/internal/analysis"
	"github.com/torosent/rttbench/internal/stats"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "rtt percentile across sizes",
			input: "rtt:p95 < 500",
			want: Threshold{
				Metric:    "rtt",
				Aggregate: "p95",
				Operator:  "<",
				Value:     500,
				Raw:       "rtt:p95 < 500",
			},
		},
		{
			name:  "rtt scoped to a payload size",
			input: "rtt:1024:mean<=250.5",
			want: Threshold{
				Metric:    "rtt",
				Size:      1024,
				HasSize:   true,
				Aggregate: "mean",
				Operator:  "<=",
				Value:     250.5,
				Raw:       "rtt:1024:mean<=250.5",
			},
		},
		{
			name:  "sample count",
			input: "  rtt:64:count >= 900  ",
			want: Threshold{
				Metric:    "rtt",
				Size:      64,
				HasSize:   true,
				Aggregate: "count",
				Operator:  ">=",
				Value:     900,
				Raw:       "rtt:64:count >= 900",
			},
		},
		{
			name:  "outlier rate",
			input: "outliers:rate < 5",
			want: Threshold{
				Metric:    "outliers",
				Aggregate: "rate",
				Operator:  "<",
				Value:     5,
				Raw:       "outliers:rate < 5",
			},
		},
		{name: "empty", input: "", wantError: true},
		{name: "unknown metric", input: "latency:p95 < 5", wantError: true},
		{name: "unknown aggregate", input: "rtt:p90 < 5", wantError: true},
		{name: "sized outliers", input: "outliers:64:rate < 5", wantError: true},
		{name: "outlier count", input: "outliers:count < 5", wantError: true},
		{name: "zero size", input: "rtt:0:p50 < 5", wantError: true},
		{name: "bad operator", input: "rtt:p50 != 5", wantError: true},
		{name: "missing value", input: "rtt:p50 <", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantError {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %+v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	got, err := ParseMultiple([]string{"rtt:p99 < 2000", "outliers:rate <= 5"})
	if err != nil {
		t.Fatalf("ParseMultiple error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 thresholds, got %d", len(got))
	}

	_, err = ParseMultiple([]string{"rtt:p99 < 2000", "bogus", "rtt:p1 < 3"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "threshold[1]") || !strings.Contains(err.Error(), "threshold[2]") {
		t.Fatalf("error should name every bad entry: %v", err)
	}

	if got, err := ParseMultiple(nil); got != nil || err != nil {
		t.Fatalf("expected nil, nil for no thresholds")
	}
}

func sampleReport() *analysis.Report {
	return &analysis.Report{
		Rows: []stats.AggregateStatRow{
			{PayloadSize: 64, Count: 1000, Mean: 120, Std: 10, Min: 90, Max: 400, P50: 118, P95: 140, P99: 180},
			{PayloadSize: 1024, Count: 980, Mean: 210, Std: 30, Min: 150, Max: 900, P50: 200, P95: 260, P99: 410},
		},
		TotalSamples:    1980,
		OutliersRemoved: 20,
	}
}

func TestEvaluator(t *testing.T) {
	thresholds, err := ParseMultiple([]string{
		"rtt:p99 < 300",
		"rtt:64:mean <= 120",
		"rtt:1024:count >= 1000",
		"rtt:4096:p50 < 1",
		"outliers:rate < 1.5",
	})
	if err != nil {
		t.Fatal(err)
	}
	results := NewEvaluator(thresholds).Evaluate(sampleReport())
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}

	want := []struct {
		size   uint32
		actual float64
		pass   bool
	}{
		{64, 180, true},
		{1024, 410, false},
		{64, 120, true},
		{1024, 980, false},
		{4096, 0, false},
		{0, 1, true},
	}
	for i, w := range want {
		r := results[i]
		if r.Size != w.size || math.Abs(r.Actual-w.actual) > 1e-9 || r.Pass != w.pass {
			t.Errorf("result %d = {size %d actual %v pass %v}, want %+v (%s)", i, r.Size, r.Actual, r.Pass, w, r.Message)
		}
	}
	if !strings.Contains(results[1].Message, "[size 1024]") {
		t.Errorf("size-less rtt results should name the size: %q", results[1].Message)
	}
	if !strings.Contains(results[4].Message, "no samples for payload size 4096") {
		t.Errorf("unexpected missing-size message %q", results[4].Message)
	}
	if AllPassed(results) {
		t.Error("AllPassed should be false")
	}
	if !AllPassed(results[:1]) {
		t.Error("AllPassed should be true for passing results")
	}
}

func TestEvaluatorEmptyReport(t *testing.T) {
	th, _ := Parse("rtt:p50 < 10")
	results := NewEvaluator([]Threshold{th}).Evaluate(&analysis.Report{})
	if len(results) != 1 || results[0].Pass {
		t.Fatalf("a report without rows must fail rtt thresholds: %+v", results)
	}
	if got := NewEvaluator(nil).Evaluate(sampleReport()); got != nil {
		t.Fatalf("expected no results without thresholds, got %v", got)
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{1, "<", 2, true},
		{2, "<", 2, false},
		{2, "<=", 2, true},
		{3, ">", 2, true},
		{2, ">=", 2, true},
		{0.1 + 0.2, "==", 0.3, true},
		{1, "!", 1, false},
	}
	for _, tt := range tests {
		if got := compareValues(tt.actual, tt.operator, tt.expected); got != tt.want {
			t.Errorf("compareValues(%v %s %v) = %v, want %v", tt.actual, tt.operator, tt.expected, got, tt.want)
		}
	}
}

func TestExtractRowValue(t *testing.T) {
	row := sampleReport().Rows[0]
	tests := map[string]float64{
		"p50": 118, "p95": 140, "p99": 180, "mean": 120, "avg": 120,
		"min": 90, "max": 400, "std": 10, "count": 1000,
	}
	for agg, want := range tests {
		got, err := extractRowValue(agg, row)
		if err != nil || got != want {
			t.Errorf("extractRowValue(%q) = %v, %v; want %v", agg, got, err, want)
		}
	}
	if _, err := extractRowValue("p90", row); err == nil {
		t.Error("expected an error for an unsupported aggregate")
	}
}
