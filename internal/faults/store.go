// Package faults persists fault records so a crash can be inspected and
// replayed later from its seed and iteration index.
package faults

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
)

const ext = ".msgpack"

// Store writes every fault of a run to <dir>/<run id>/. It is a Listener:
// records are written when detected and rewritten once the reproduction
// result is known.
type Store struct {
	engine.NopListener

	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	written []string
	err     error
}

// NewStore creates a Store rooted at dir
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// FaultDetected writes the record
func (s *Store) FaultDetected(it *engine.Iteration, rec *engine.FaultRecord) {
	s.save(rec)
}

// ReproductionFinished rewrites the record with its reproduction result
func (s *Store) ReproductionFinished(it *engine.Iteration, rec *engine.FaultRecord) {
	s.save(rec)
}

func (s *Store) save(rec *engine.FaultRecord) {
	path, err := Write(s.dir, rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = err
		s.logger.Error("failed to store fault",
			slog.Int("iteration", rec.Iteration),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, p := range s.written {
		if p == path {
			return
		}
	}
	s.written = append(s.written, path)
}

// Written returns the paths written so far
func (s *Store) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// Err returns the last write error
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Path returns the file a record is stored in
func Path(dir string, rec *engine.FaultRecord) string {
	name := fmt.Sprintf("iteration-%08d", rec.Iteration)
	if rec.Control {
		name += "-control"
	}
	return filepath.Join(dir, rec.RunID, name+ext)
}

// Write encodes rec with msgpack into its file under dir
func Write(dir string, rec *engine.FaultRecord) (string, error) {
	path := Path(dir, rec)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create fault directory: %w", err)
	}

	data, err := msgpack.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode fault: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write fault: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to write fault: %w", err)
	}
	return path, nil
}

// Read decodes one fault record
func Read(path string) (*engine.FaultRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fault: %w", err)
	}
	var rec engine.FaultRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &rec, nil
}

// List returns every record file under dir, sorted by path
func List(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ext) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
