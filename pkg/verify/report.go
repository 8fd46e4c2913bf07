package verify

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Report is the run-scoped error report. The first write of a run truncates
// the file, later writes append. Writes are serialized.
type Report struct {
	mu      sync.Mutex
	path    string
	written bool
}

func NewReport(path string) *Report {
	return &Report{path: path}
}

func (r *Report) Path() string { return r.path }

// Reset removes a report left over from a previous run.
func (r *Report) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written = false
	err := os.Remove(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Append writes one block to the report.
func (r *Report) Append(block string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !r.written {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(block); err != nil {
		_ = f.Close()
		return err
	}
	r.written = true
	return f.Close()
}

// block renders the findings for one directory; empty when s is clean.
func block(s Summary) string {
	if s.Clean() {
		return ""
	}
	lines := []string{"Errors when checking packages in " + s.Dir}
	if len(s.Errored) > 0 {
		lines = append(lines, "Packages that we cannot get information about:")
		lines = append(lines, paths(s.Errored, false)...)
	}
	if len(s.Unsigned) > 0 {
		lines = append(lines, "Packages without signature:")
		lines = append(lines, paths(s.Unsigned, false)...)
	}
	if len(s.Wrong) > 0 {
		lines = append(lines, "Packages with wrong signature:")
		lines = append(lines, paths(s.Wrong, true)...)
	}
	lines = append(lines, "\n")
	return strings.Join(lines, "\n")
}

func paths(results []Result, withSigner bool) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if withSigner {
			out = append(out, r.Path+" "+r.Signer)
			continue
		}
		out = append(out, r.Path)
	}
	sort.Strings(out)
	return out
}
