package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/plugin"
)

// maxCoreData bounds how much of each new file is attached to a fault
const maxCoreData = 64 * 1024

// CoreFile reports a fault whenever files matching a pattern appear in a
// directory during an iteration
type CoreFile struct {
	dir     string
	pattern string

	mu   sync.Mutex
	seen map[string]bool
}

// NewCoreFile creates a CoreFile monitor for dir
func NewCoreFile(dir, pattern string) (*CoreFile, error) {
	if dir == "" {
		return nil, errdefs.Config("monitor CoreFile", "dir is required")
	}
	if pattern == "" {
		pattern = "core*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errdefs.Config("monitor CoreFile", "bad pattern %q: %v", pattern, err)
	}
	return &CoreFile{dir: dir, pattern: pattern, seen: make(map[string]bool)}, nil
}

func (c *CoreFile) list() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, c.pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// SessionStarting checks the directory exists
func (c *CoreFile) SessionStarting(ctx context.Context) error {
	info, err := os.Stat(c.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", c.dir)
	}
	return nil
}

// IterationStarting records the files already present
func (c *CoreFile) IterationStarting(ctx context.Context, it *engine.Iteration) error {
	files, err := c.list()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]bool, len(files))
	for _, f := range files {
		c.seen[f] = true
	}
	return nil
}

// IterationFinished reports files that appeared since IterationStarting
func (c *CoreFile) IterationFinished(ctx context.Context, it *engine.Iteration) (*engine.Fault, error) {
	files, err := c.list()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	var fresh []string
	for _, f := range files {
		if !c.seen[f] {
			fresh = append(fresh, f)
			c.seen[f] = true
		}
	}
	c.mu.Unlock()

	if len(fresh) == 0 {
		return nil, nil
	}

	data := make(map[string][]byte, len(fresh))
	for _, f := range fresh {
		data[filepath.Base(f)] = head(f)
	}
	return &engine.Fault{
		Title:       "core file",
		Description: fmt.Sprintf("%d new file(s) in %s: %s", len(fresh), c.dir, filepath.Base(fresh[0])),
		Data:        data,
	}, nil
}

// SessionFinished is a no-op
func (c *CoreFile) SessionFinished(ctx context.Context) error {
	return nil
}

func head(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	b, _ := io.ReadAll(io.LimitReader(f, maxCoreData))
	return b
}

func init() {
	Registry.Register(plugin.Spec[Monitor]{
		Name:        "CoreFile",
		Description: "Report new core dumps written to a directory",
		Params: []plugin.Parameter{
			{Name: "dir", Type: plugin.TypeString, Required: true, Description: "Directory the target dumps core files into"},
			{Name: "pattern", Type: plugin.TypeString, Default: "core*", Description: "Glob matched against file names"},
		},
		New: func(args plugin.Args) (Monitor, error) {
			return NewCoreFile(args.String("dir"), args.String("pattern"))
		},
	})
}
