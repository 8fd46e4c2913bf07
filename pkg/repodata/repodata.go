// Package repodata regenerates repository indexes with createrepo_c and
// keeps a per-repository baseline cache for incremental runs.
//
// The cache layout is
//
//	<cache>/checksums             shared package checksum cache
//	<cache>/<logical>/repodata    last good repodata of one repository
//
// where <logical> is the repository directory relative to the export root.
// The checksum cache is safe for concurrent use across repositories; each
// logical path has at most one writer at a time.
package repodata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/backend"
	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/metadata"
)

// Mode records how the tool was invoked.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

type Manager struct {
	exportRoot string
	cacheDir   string
	tool       Tool
	logger     *log.Entry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the cache directories and returns a manager.
func New(exportRoot, cacheDir string, tool Tool, logger *log.Entry) (*Manager, error) {
	cacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(cacheDir, "checksums"), 0o755); err != nil {
		return nil, fmt.Errorf("create repodata cache: %w", err)
	}
	return &Manager{
		exportRoot: filepath.Clean(exportRoot),
		cacheDir:   cacheDir,
		tool:       tool,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

func (m *Manager) ChecksumDir() string {
	return filepath.Join(m.cacheDir, "checksums")
}

// LogicalPath returns repoDir relative to the export root.
func (m *Manager) LogicalPath(repoDir string) string {
	clean := filepath.Clean(repoDir)
	if rel, err := filepath.Rel(m.exportRoot, clean); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return strings.Trim(filepath.ToSlash(clean), "/")
}

// CachedRepodata returns the cache location of repoDir's baseline.
func (m *Manager) CachedRepodata(repoDir string) string {
	return filepath.Join(m.cacheDir, filepath.FromSlash(m.LogicalPath(repoDir)), "repodata")
}

func (m *Manager) lock(logical string) func() {
	m.mu.Lock()
	l, ok := m.locks[logical]
	if !ok {
		l = &sync.Mutex{}
		m.locks[logical] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Regenerate rebuilds repoDir/repodata. When a cached baseline exists the
// tool runs incrementally against it. On success the produced repodata is
// verified and replaces the cached baseline.
func (m *Manager) Regenerate(ctx context.Context, repoDir string) (Mode, error) {
	logical := m.LogicalPath(repoDir)
	unlock := m.lock(logical)
	defer unlock()

	cached := m.CachedRepodata(repoDir)
	logger := m.logger.WithFields(log.Fields{"repo": logical, "cache": cached})

	args := []string{"--update", "--keep-all-metadata", "--cachedir", m.ChecksumDir()}
	mode := ModeFull
	if exists(cached) {
		args = append(args, "--update-md-path", cached)
		mode = ModeIncremental
	}
	args = append(args, repoDir)

	logger.WithField("mode", mode).Info("starting createrepo_c")
	out, err := m.tool.Run(ctx, args...)
	if err != nil {
		return mode, fmt.Errorf("regenerate %s: %w", logical, err)
	}
	if s := strings.TrimSpace(out); s != "" {
		logger.Debug(s)
	}
	logger.Info("createrepo_c is finished")

	res := metadata.Check(ctx, backend.NewFSBackend(repoDir))
	for _, w := range res.Warnings {
		logger.Warn(w)
	}
	if res.Err != nil {
		return mode, faults.DataIntegrity(res.Err, "verify regenerated repodata for "+logical)
	}

	if err := replaceDir(filepath.Join(repoDir, "repodata"), cached); err != nil {
		return mode, fmt.Errorf("cache repodata for %s: %w", logical, err)
	}
	return mode, nil
}

// replaceDir removes dst and copies src in its place.
func replaceDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.CopyFS(dst, os.DirFS(src))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
