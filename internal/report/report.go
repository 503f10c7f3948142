// Package report renders the outcome of a fuzzing run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
)

// Status classifies a fault in the report
type Status string

const (
	StatusConfirmed Status = "confirmed" // reproduced by replaying the decision
	StatusTransient Status = "transient"
	StatusControl   Status = "control" // observed on an unmutated iteration
)

// Fault is one fault entry of the report
type Fault struct {
	Iteration   int               `json:"iteration"`
	Status      Status            `json:"status"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty"`
	Mutations   []Mutation        `json:"mutations,omitempty"`
	Data        map[string]string `json:"data,omitempty"` // hex, truncated
	Timestamp   time.Time         `json:"timestamp"`
}

// Mutation describes one mutation of the faulting decision
type Mutation struct {
	Element string `json:"element"`
	Mutator string `json:"mutator"`
	Choice  int    `json:"choice"`
}

// Statistics holds run statistics
type Statistics struct {
	Iterations    int           `json:"iterations"`
	Controls      int           `json:"controls"`
	Failures      int           `json:"failures"`
	Faults        int           `json:"faults"`
	Reproduced    int           `json:"reproduced"`
	Duration      time.Duration `json:"duration"`
	IterationsSec float64       `json:"iterations_per_sec"`
}

// MarshalJSON renders the duration as a string
func (s Statistics) MarshalJSON() ([]byte, error) {
	type Alias Statistics
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(s),
		Duration: s.Duration.String(),
	})
}

// Report represents a run report
type Report struct {
	Title       string    `json:"title"`
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`

	RunID string `json:"run_id"`
	Test  string `json:"test"`
	Seed  int64  `json:"seed"`

	Exhausted bool `json:"exhausted"`
	Stopped   bool `json:"stopped"`

	Statistics Statistics `json:"statistics"`
	Faults     []Fault    `json:"faults"`

	StatusCounts map[Status]int `json:"status_counts"`
}

// maxData bounds the hex dump kept per fault data entry
const maxData = 256

// FromSummary builds a report for a finished run
func FromSummary(s *engine.Summary) *Report {
	r := &Report{
		Title:        s.Test,
		Version:      "1.0",
		GeneratedAt:  time.Now(),
		RunID:        s.RunID.String(),
		Test:         s.Test,
		Seed:         s.Seed,
		Exhausted:    s.Exhausted,
		Stopped:      s.Stopped,
		Faults:       make([]Fault, 0, len(s.Faults)),
		StatusCounts: make(map[Status]int),
	}

	elapsed := s.Finished.Sub(s.Started)
	r.Statistics = Statistics{
		Iterations: s.Iterations,
		Controls:   s.Controls,
		Failures:   s.Failures,
		Duration:   elapsed,
	}
	if elapsed > 0 {
		r.Statistics.IterationsSec = float64(s.Iterations+s.Controls) / elapsed.Seconds()
	}

	for _, rec := range s.Faults {
		r.AddFault(faultOf(rec))
	}
	return r
}

func faultOf(rec *engine.FaultRecord) Fault {
	f := Fault{Iteration: rec.Iteration, Timestamp: rec.Time}
	switch {
	case rec.Control:
		f.Status = StatusControl
	case rec.Reproduced:
		f.Status = StatusConfirmed
	default:
		f.Status = StatusTransient
	}
	if rec.Fault != nil {
		f.Title = rec.Fault.Title
		f.Description = rec.Fault.Description
		f.Source = rec.Fault.Source
		if len(rec.Fault.Data) > 0 {
			f.Data = make(map[string]string, len(rec.Fault.Data))
			for k, v := range rec.Fault.Data {
				f.Data[k] = hexPrefix(v, maxData)
			}
		}
	}
	if rec.Decision != nil {
		for _, m := range rec.Decision.Mutations {
			f.Mutations = append(f.Mutations, Mutation{Element: m.Element, Mutator: m.Mutator, Choice: m.Choice})
		}
	}
	return f
}

func hexPrefix(b []byte, n int) string {
	if len(b) <= n {
		return fmt.Sprintf("%x", b)
	}
	return fmt.Sprintf("%x...", b[:n])
}

// AddFault adds a fault to the report
func (r *Report) AddFault(f Fault) {
	r.Faults = append(r.Faults, f)
	r.StatusCounts[f.Status]++
	r.Statistics.Faults++
	if f.Status == StatusConfirmed {
		r.Statistics.Reproduced++
	}
}

// FilterByStatus returns the faults with the given status
func (r *Report) FilterByStatus(status Status) []Fault {
	var filtered []Fault
	for _, f := range r.Faults {
		if f.Status == status {
			filtered = append(filtered, f)
		}
	}
	return filtered
}

// Generator is the interface for report generators
type Generator interface {
	Generate(report *Report, w io.Writer) error
	Extension() string
}

// Manager manages report generation
type Manager struct {
	generators map[string]Generator
	outputDir  string
}

// NewManager creates a report manager writing to outputDir
func NewManager(outputDir string) *Manager {
	m := &Manager{
		generators: make(map[string]Generator),
		outputDir:  outputDir,
	}

	m.RegisterGenerator("json", &JSONGenerator{Indent: true})
	m.RegisterGenerator("html", NewHTMLGenerator())
	m.RegisterGenerator("markdown", &MarkdownGenerator{})
	m.RegisterGenerator("md", &MarkdownGenerator{})
	m.RegisterGenerator("text", &TextGenerator{})

	return m
}

// RegisterGenerator registers a generator
func (m *Manager) RegisterGenerator(format string, gen Generator) {
	m.generators[format] = gen
}

// Formats returns the registered format names, sorted
func (m *Manager) Formats() []string {
	out := make([]string, 0, len(m.generators))
	for f := range m.generators {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Generate writes the report in format to <dir>/<run id>.<ext>
func (m *Manager) Generate(report *Report, format string) (string, error) {
	gen, ok := m.generators[format]
	if !ok {
		return "", fmt.Errorf("unknown report format: %s", format)
	}

	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := report.RunID
	if name == "" {
		name = "report_" + report.GeneratedAt.Format("20060102_150405")
	}
	path := filepath.Join(m.outputDir, name+"."+gen.Extension())

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := gen.Generate(report, f); err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}
	return path, nil
}

// WriteToWriter generates a report and writes it to w
func (m *Manager) WriteToWriter(report *Report, format string, w io.Writer) error {
	gen, ok := m.generators[format]
	if !ok {
		return fmt.Errorf("unknown report format: %s", format)
	}
	return gen.Generate(report, w)
}
