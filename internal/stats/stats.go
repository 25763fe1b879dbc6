// Package stats reduces RTT samples into robust summaries: IQR outlier
// filtering, per payload size aggregates and anomaly detection.
//
// Quantiles use linear interpolation between closest ranks, position
// (n-1)*q, and standard deviations are sample deviations (n-1).
package stats

import (
	"math"
	"sort"
)

const (
	// DefaultMinOutlierCount is the sample count a payload size must exceed
	// before outlier filtering or anomaly detection applies to it.
	DefaultMinOutlierCount = 10
	// DefaultAnomalyThreshold is the outlier percentage above which a payload
	// size is reported as anomalous.
	DefaultAnomalyThreshold = 5.0

	iqrFactor = 1.5
	z95       = 1.96
)

// Sample is one successful RTT measurement.
type Sample struct {
	PayloadSize uint32
	Sequence    uint32
	RTTMicros   float64
}

// AggregateStatRow summarises every sample of one payload size.
type AggregateStatRow struct {
	PayloadSize uint32  `json:"size" yaml:"size"`
	Count       int     `json:"count" yaml:"count"`
	Mean        float64 `json:"mean_us" yaml:"mean_us"`
	Std         float64 `json:"std_us" yaml:"std_us"`
	Min         float64 `json:"min_us" yaml:"min_us"`
	Max         float64 `json:"max_us" yaml:"max_us"`
	P50         float64 `json:"p50_us" yaml:"p50_us"`
	P95         float64 `json:"p95_us" yaml:"p95_us"`
	P99         float64 `json:"p99_us" yaml:"p99_us"`
	CV          float64 `json:"cv_percent" yaml:"cv_percent"`
	CI95        float64 `json:"ci95_us" yaml:"ci95_us"`
}

// Anomaly reports a payload size whose outlier share exceeds the threshold.
type Anomaly struct {
	PayloadSize uint32  `json:"size" yaml:"size"`
	Total       int     `json:"total" yaml:"total"`
	Outliers    int     `json:"outliers" yaml:"outliers"`
	Percent     float64 `json:"percent" yaml:"percent"`
}

// Quantile returns the q-quantile of an ascending slice. It returns NaN for an
// empty slice.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	pos := float64(n-1) * q
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= n {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// IQRBounds returns the Tukey fences Q1-1.5*IQR and Q3+1.5*IQR.
func IQRBounds(values []float64) (lower, upper float64) {
	sorted := sortedCopy(values)
	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - iqrFactor*iqr, q3 + iqrFactor*iqr
}

// FilterInvalid drops samples whose RTT is not a positive finite number. It
// returns the kept samples and how many were dropped.
func FilterInvalid(samples []Sample) ([]Sample, int) {
	kept := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if math.IsNaN(s.RTTMicros) || math.IsInf(s.RTTMicros, 0) || s.RTTMicros <= 0 {
			continue
		}
		kept = append(kept, s)
	}
	return kept, len(samples) - len(kept)
}

// RemoveOutliers applies the IQR filter independently to each payload size
// with more than minCount samples. Samples on a fence are kept. Input order is
// preserved in both results.
func RemoveOutliers(samples []Sample, minCount int) (kept, removed []Sample) {
	bounds := make(map[uint32][2]float64)
	for size, values := range groupRTTs(samples) {
		if len(values) > minCount {
			lo, hi := IQRBounds(values)
			bounds[size] = [2]float64{lo, hi}
		}
	}

	kept = make([]Sample, 0, len(samples))
	for _, s := range samples {
		b, ok := bounds[s.PayloadSize]
		if ok && (s.RTTMicros < b[0] || s.RTTMicros > b[1]) {
			removed = append(removed, s)
			continue
		}
		kept = append(kept, s)
	}
	return kept, removed
}

// Aggregate computes one row per distinct payload size, ascending by size.
func Aggregate(samples []Sample) []AggregateStatRow {
	groups := groupRTTs(samples)
	rows := make([]AggregateStatRow, 0, len(groups))
	for size, values := range groups {
		rows = append(rows, Summarize(size, values))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PayloadSize < rows[j].PayloadSize })
	return rows
}

// Summarize computes the aggregate row for one set of RTTs.
func Summarize(size uint32, values []float64) AggregateStatRow {
	row := AggregateStatRow{PayloadSize: size, Count: len(values)}
	if len(values) == 0 {
		return row
	}
	sorted := sortedCopy(values)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	row.Mean = sum / float64(len(sorted))
	row.Std = sampleStd(sorted, row.Mean)
	row.Min = sorted[0]
	row.Max = sorted[len(sorted)-1]
	row.P50 = Quantile(sorted, 0.50)
	row.P95 = Quantile(sorted, 0.95)
	row.P99 = Quantile(sorted, 0.99)
	if row.Mean != 0 {
		row.CV = row.Std / row.Mean * 100
	}
	row.CI95 = z95 * row.Std / math.Sqrt(float64(row.Count))
	return row
}

// Anomalies reports, per payload size with more than minCount samples, the
// share of samples strictly outside the IQR fences, keeping sizes whose share
// exceeds threshold percent. Results are ascending by size.
func Anomalies(samples []Sample, minCount int, threshold float64) []Anomaly {
	var out []Anomaly
	for size, values := range groupRTTs(samples) {
		if len(values) <= minCount {
			continue
		}
		lo, hi := IQRBounds(values)
		outliers := 0
		for _, v := range values {
			if v < lo || v > hi {
				outliers++
			}
		}
		pct := float64(outliers) / float64(len(values)) * 100
		if pct > threshold {
			out = append(out, Anomaly{PayloadSize: size, Total: len(values), Outliers: outliers, Percent: pct})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayloadSize < out[j].PayloadSize })
	return out
}

// Values extracts the RTTs of samples in order.
func Values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.RTTMicros
	}
	return out
}

func groupRTTs(samples []Sample) map[uint32][]float64 {
	groups := make(map[uint32][]float64)
	for _, s := range samples {
		groups[s.PayloadSize] = append(groups[s.PayloadSize], s.RTTMicros)
	}
	return groups
}

func sortedCopy(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}

func sampleStd(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}
