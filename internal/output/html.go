package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/torosent/rttbench/internal/analysis"
	"github.com/torosent/rttbench/internal/threshold"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt      string
	Report           *analysis.Report
	ThresholdResults []threshold.Result
	ThresholdSummary *ThresholdSummary
	ChartJSON        string
}

// ThresholdSummary counts threshold outcomes.
type ThresholdSummary struct {
	Total  int
	Passed int
	Failed int
}

type chartSeries struct {
	Sizes []uint32  `json:"sizes"`
	Mean  []float64 `json:"mean"`
	P50   []float64 `json:"p50"`
	P95   []float64 `json:"p95"`
	P99   []float64 `json:"p99"`
}

// GenerateHTMLReport generates a standalone HTML analysis report with an RTT
// by payload size chart.
func GenerateHTMLReport(w io.Writer, report *analysis.Report, thresholdResults []threshold.Result) error {
	var summary *ThresholdSummary
	if len(thresholdResults) > 0 {
		summary = &ThresholdSummary{Total: len(thresholdResults)}
		for _, r := range thresholdResults {
			if r.Pass {
				summary.Passed++
			} else {
				summary.Failed++
			}
		}
	}

	var chart chartSeries
	for _, row := range report.Rows {
		chart.Sizes = append(chart.Sizes, row.PayloadSize)
		chart.Mean = append(chart.Mean, row.Mean)
		chart.P50 = append(chart.P50, row.P50)
		chart.P95 = append(chart.P95, row.P95)
		chart.P99 = append(chart.P99, row.P99)
	}
	chartJSON, err := json.Marshal(chart)
	if err != nil {
		return fmt.Errorf("failed to marshal chart data: %w", err)
	}

	data := HTMLReportData{
		GeneratedAt:      report.GeneratedAt.Format(time.RFC3339),
		Report:           report,
		ThresholdResults: thresholdResults,
		ThresholdSummary: summary,
		ChartJSON:        string(chartJSON),
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatPercent": func(f float64) string {
			return fmt.Sprintf("%.1f", f)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>RTT Analysis Report</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #0f766e 0%, #1e3a8a 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 { font-size: 2rem; margin-bottom: 10px; }
        header .meta { opacity: 0.9; font-size: 0.9rem; }
        .content { padding: 40px; }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #0f766e;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value { font-size: 2rem; font-weight: bold; }
        .card.warning { border-left-color: #f59e0b; }
        .card.error { border-left-color: #ef4444; }
        .section { margin-bottom: 40px; }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart { width: 100%; height: 360px; }
        table { width: 100%; border-collapse: collapse; background: white; }
        th, td { text-align: right; padding: 10px 12px; border-bottom: 1px solid #e5e7eb; }
        th:first-child, td:first-child { text-align: left; }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.85rem;
            text-transform: uppercase;
        }
        tr:hover { background: #f8f9fa; }
        .badge { display: inline-block; padding: 4px 12px; border-radius: 12px; font-size: 0.85rem; font-weight: 600; }
        .badge-success { background: #d1fae5; color: #065f46; }
        .badge-error { background: #fee2e2; color: #991b1b; }
        .no-data { text-align: center; padding: 40px; color: #6c757d; font-style: italic; }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header>
            <h1>RTT Analysis Report</h1>
            <div class="meta">Generated: {{.GeneratedAt}} | Directory: {{.Report.Dir}}</div>
        </header>

        <div class="content">
            <div class="grid">
                <div class="card">
                    <h3>Clients</h3>
                    <div class="value">{{len .Report.Clients}}</div>
                </div>
                <div class="card">
                    <h3>Samples</h3>
                    <div class="value">{{.Report.TotalSamples}}</div>
                </div>
                <div class="card{{if .Report.Anomalies}} warning{{end}}">
                    <h3>Outliers Removed</h3>
                    <div class="value">{{.Report.OutliersRemoved}}</div>
                    <div class="meta">{{formatPercent .Report.OutlierRate}}%</div>
                </div>
                {{if .ThresholdSummary}}
                <div class="card{{if .ThresholdSummary.Failed}} error{{end}}">
                    <h3>Thresholds</h3>
                    <div class="value">{{.ThresholdSummary.Passed}}/{{.ThresholdSummary.Total}}</div>
                </div>
                {{end}}
            </div>

            <div class="section">
                <h2>RTT by Payload Size</h2>
                {{if .Report.Rows}}
                <div id="rtt-chart" class="chart"></div>
                {{else}}
                <div class="no-data">No samples</div>
                {{end}}
            </div>

            {{if .Report.Rows}}
            <div class="section">
                <h2>Statistics (microseconds)</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Size (B)</th><th>Count</th><th>Mean</th><th>Std</th><th>Min</th>
                            <th>Max</th><th>P50</th><th>P95</th><th>P99</th><th>CV %</th><th>CI95 ±</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Report.Rows}}
                        <tr>
                            <td><strong>{{.PayloadSize}}</strong></td>
                            <td>{{.Count}}</td>
                            <td>{{formatFloat .Mean}}</td>
                            <td>{{formatFloat .Std}}</td>
                            <td>{{formatFloat .Min}}</td>
                            <td>{{formatFloat .Max}}</td>
                            <td>{{formatFloat .P50}}</td>
                            <td>{{formatFloat .P95}}</td>
                            <td>{{formatFloat .P99}}</td>
                            <td>{{formatFloat .CV}}</td>
                            <td>{{formatFloat .CI95}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .Report.Anomalies}}
            <div class="section">
                <h2>Anomalies</h2>
                <table>
                    <thead><tr><th>Size (B)</th><th>Outliers</th><th>Samples</th><th>Share</th></tr></thead>
                    <tbody>
                        {{range .Report.Anomalies}}
                        <tr>
                            <td><strong>{{.PayloadSize}}</strong></td>
                            <td>{{.Outliers}}</td>
                            <td>{{.Total}}</td>
                            <td>{{formatPercent .Percent}}%</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .ThresholdResults}}
            <div class="section">
                <h2>Thresholds</h2>
                <table>
                    <thead><tr><th>Threshold</th><th>Size (B)</th><th>Actual</th><th>Status</th></tr></thead>
                    <tbody>
                        {{range .ThresholdResults}}
                        <tr>
                            <td><code>{{.Threshold.Raw}}</code></td>
                            <td>{{if .Size}}{{.Size}}{{else}}-{{end}}</td>
                            <td>{{formatFloat .Actual}}</td>
                            <td>
                                {{if .Pass}}
                                <span class="badge badge-success">✓ PASS</span>
                                {{else}}
                                <span class="badge badge-error">✗ FAIL</span>
                                {{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            <div class="section">
                <h2>Clients</h2>
                <table>
                    <thead><tr><th>Client</th><th>Samples</th><th>Invalid dropped</th><th>Outliers removed</th></tr></thead>
                    <tbody>
                        {{range .Report.Clients}}
                        <tr>
                            <td><strong>{{.Name}}</strong></td>
                            <td>{{.Samples}}</td>
                            <td>{{.InvalidDropped}}</td>
                            <td>{{.OutliersRemoved}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>

            {{if .Report.Skipped}}
            <div class="section">
                <h2>Skipped Artifacts</h2>
                <table>
                    <thead><tr><th>Artifact</th><th>Reason</th></tr></thead>
                    <tbody>
                        {{range .Report.Skipped}}
                        <tr><td>{{.Path}}</td><td style="text-align: left">{{.Reason}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>

    {{if .Report.Rows}}
    <script>
        const chart = JSON.parse({{.ChartJSON}});
        new uPlot({
            title: "Round Trip Time",
            width: document.getElementById('rtt-chart').offsetWidth,
            height: 360,
            scales: { x: { time: false, distr: 3, log: 2 } },
            series: [
                { label: "Payload (bytes)" },
                { label: "Mean", stroke: "#1e3a8a", width: 2 },
                { label: "P50", stroke: "#10b981", width: 2 },
                { label: "P95", stroke: "#f59e0b", width: 2 },
                { label: "P99", stroke: "#ef4444", width: 2 }
            ],
            axes: [
                { label: "Payload size (bytes)" },
                { label: "RTT (µs)" }
            ]
        }, [chart.sizes, chart.mean, chart.p50, chart.p95, chart.p99], document.getElementById('rtt-chart'));
    </script>
    {{end}}
</body>
</html>
`
