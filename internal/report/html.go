package report

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

// HTMLGenerator renders the report as a standalone HTML page
type HTMLGenerator struct {
	template *template.Template
}

var funcs = template.FuncMap{
	"statusClass": func(s Status) string {
		switch s {
		case StatusConfirmed:
			return "confirmed"
		case StatusControl:
			return "control"
		default:
			return "transient"
		}
	},
	"formatTime": func(t time.Time) string {
		return t.Format("2006-01-02 15:04:05")
	},
}

// NewHTMLGenerator creates a generator with the default template
func NewHTMLGenerator() *HTMLGenerator {
	return &HTMLGenerator{template: template.Must(template.New("report").Funcs(funcs).Parse(htmlTemplate))}
}

// CustomHTMLGenerator creates a generator from templateStr
func CustomHTMLGenerator(templateStr string) (*HTMLGenerator, error) {
	tmpl, err := template.New("report").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &HTMLGenerator{template: tmpl}, nil
}

// Generate writes the report to w
func (g *HTMLGenerator) Generate(report *Report, w io.Writer) error {
	return g.template.Execute(w, report)
}

// Extension returns the file extension
func (g *HTMLGenerator) Extension() string {
	return "html"
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}} - fluxcore run {{.RunID}}</title>
<style>
body { font-family: monospace; background: #0D0D0D; color: #E0E0E0; margin: 2em; }
h1 { color: #00FFFF; }
h2 { color: #FF00FF; }
table { border-collapse: collapse; }
td, th { padding: 4px 12px; border: 1px solid #333; text-align: left; }
.confirmed { color: #FF0055; }
.transient { color: #FFFF00; }
.control { color: #FF8800; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Run <code>{{.RunID}}</code>, seed <code>{{.Seed}}</code>, generated {{formatTime .GeneratedAt}}</p>

<h2>Statistics</h2>
<table>
<tr><th>Iterations</th><th>Controls</th><th>Failures</th><th>Faults</th><th>Reproduced</th><th>Duration</th></tr>
<tr><td>{{.Statistics.Iterations}}</td><td>{{.Statistics.Controls}}</td><td>{{.Statistics.Failures}}</td><td>{{.Statistics.Faults}}</td><td>{{.Statistics.Reproduced}}</td><td>{{.Statistics.Duration}}</td></tr>
</table>

<h2>Faults ({{len .Faults}})</h2>
{{if .Faults}}
<table>
<tr><th>Iteration</th><th>Status</th><th>Title</th><th>Source</th><th>Mutations</th></tr>
{{range .Faults}}
<tr class="{{statusClass .Status}}">
<td>{{.Iteration}}</td><td>{{.Status}}</td><td>{{.Title}}</td><td>{{.Source}}</td>
<td>{{range .Mutations}}<code>{{.Element}}</code> {{.Mutator}} #{{.Choice}}<br>{{end}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>No faults detected.</p>
{{end}}
</body>
</html>`
