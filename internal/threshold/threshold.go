package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/rttbench/internal/analysis"
	"github.com/torosent/rttbench/internal/stats"
)

const (
	MetricRTT      = "rtt"
	MetricOutliers = "outliers"
)

// Threshold represents an assertion on an analysis report that can pass or fail.
type Threshold struct {
	Metric    string  // "rtt" or "outliers"
	Size      uint32  // payload size the rtt threshold is scoped to
	HasSize   bool    // false applies an rtt threshold to every payload size
	Aggregate string  // e.g., "p95", "mean", "count", "rate"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // microseconds for rtt, percent for outliers:rate
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold against one scope.
type Result struct {
	Threshold Threshold
	Size      uint32 // payload size evaluated; 0 for outliers:rate
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against analysis reports.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the report. A size-less rtt
// threshold yields one result per payload size.
func (e *Evaluator) Evaluate(report *analysis.Report) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, report)...)
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, report *analysis.Report) []Result {
	if report == nil {
		return []Result{failure(t, 0, fmt.Errorf("no report"))}
	}
	if t.Metric == MetricOutliers {
		return []Result{compare(t, 0, report.OutlierRate())}
	}

	if t.HasSize {
		for _, row := range report.Rows {
			if row.PayloadSize == t.Size {
				return []Result{compareRow(t, row)}
			}
		}
		return []Result{failure(t, t.Size, fmt.Errorf("no samples for payload size %d", t.Size))}
	}

	if len(report.Rows) == 0 {
		return []Result{failure(t, 0, fmt.Errorf("no samples"))}
	}
	out := make([]Result, 0, len(report.Rows))
	for _, row := range report.Rows {
		out = append(out, compareRow(t, row))
	}
	return out
}

func compareRow(t Threshold, row stats.AggregateStatRow) Result {
	actual, err := extractRowValue(t.Aggregate, row)
	if err != nil {
		return failure(t, row.PayloadSize, err)
	}
	return compare(t, row.PayloadSize, actual)
}

func compare(t Threshold, size uint32, actual float64) Result {
	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	scope := ""
	if t.Metric == MetricRTT && !t.HasSize {
		scope = fmt.Sprintf(" [size %d]", size)
	}
	return Result{
		Threshold: t,
		Size:      size,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s%s: %.2f %s %.2f", status, t.Raw, scope, actual, t.Operator, t.Value),
	}
}

func failure(t Threshold, size uint32, err error) Result {
	return Result{
		Threshold: t,
		Size:      size,
		Pass:      false,
		Message:   fmt.Sprintf("✗ %s: error: %v", t.Raw, err),
	}
}

var pattern = regexp.MustCompile(`^([a-z_]+)(?::([0-9]+))?:([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "rtt:p99 < 2000"          (every payload size, microseconds)
// - "rtt:1024:mean <= 500"    (one payload size, microseconds)
// - "rtt:64:count >= 900"     (accepted samples for one size)
// - "outliers:rate < 5"       (percent of valid samples removed as outliers)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: rtt[:size]:aggregate operator value, e.g., 'rtt:1024:p95 < 500')", s)
	}

	metric := matches[1]
	sizeStr := matches[2]
	aggregate := matches[3]
	operator := matches[4]
	valueStr := matches[5]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	t := Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}

	switch metric {
	case MetricRTT:
		if !isValidRTTAggregate(aggregate) {
			return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: p50, p95, p99, mean, min, max, std, count)", aggregate)
		}
		if sizeStr != "" {
			size, err := strconv.ParseUint(sizeStr, 10, 32)
			if err != nil || size == 0 {
				return Threshold{}, fmt.Errorf("invalid payload size %q", sizeStr)
			}
			t.Size = uint32(size)
			t.HasSize = true
		}
	case MetricOutliers:
		if sizeStr != "" {
			return Threshold{}, fmt.Errorf("outliers thresholds cannot be scoped to a payload size")
		}
		if aggregate != "rate" {
			return Threshold{}, fmt.Errorf("unsupported aggregate %q for outliers (use 'rate')", aggregate)
		}
	default:
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: rtt, outliers)", metric)
	}

	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}
	return t, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

func isValidRTTAggregate(aggregate string) bool {
	switch aggregate {
	case "p50", "p95", "p99", "mean", "avg", "min", "max", "std", "count":
		return true
	}
	return false
}

func isValidOperator(operator string) bool {
	valid := []string{"<", "<=", ">", ">=", "=="}
	for _, v := range valid {
		if operator == v {
			return true
		}
	}
	return false
}

func extractRowValue(aggregate string, row stats.AggregateStatRow) (float64, error) {
	switch aggregate {
	case "p50":
		return row.P50, nil
	case "p95":
		return row.P95, nil
	case "p99":
		return row.P99, nil
	case "mean", "avg":
		return row.Mean, nil
	case "min":
		return row.Min, nil
	case "max":
		return row.Max, nil
	case "std":
		return row.Std, nil
	case "count":
		return float64(row.Count), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for rtt", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
