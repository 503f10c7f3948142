package report

import (
	"encoding/json"
	"io"
)

// JSONGenerator renders the report as JSON
type JSONGenerator struct {
	Indent bool
}

// Generate writes the report to w
func (g *JSONGenerator) Generate(report *Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	if g.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(report)
}

// Extension returns the file extension
func (g *JSONGenerator) Extension() string {
	return "json"
}

// GenerateBytes renders the report into memory
func (g *JSONGenerator) GenerateBytes(report *Report) ([]byte, error) {
	if g.Indent {
		return json.MarshalIndent(report, "", "  ")
	}
	return json.Marshal(report)
}
