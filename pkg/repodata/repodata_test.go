package repodata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/logging"
	"github.com/e2llm/rpmrepo-export/pkg/metadata/metadatatest"
)

// fakeTool writes valid repodata into the last argument and records calls.
type fakeTool struct {
	t       *testing.T
	mu      sync.Mutex
	calls   [][]string
	active  map[string]*int32
	overlap atomic.Bool
	fail    error
	corrupt bool
}

func newFakeTool(t *testing.T) *fakeTool {
	return &fakeTool{t: t, active: make(map[string]*int32)}
}

func (f *fakeTool) Run(_ context.Context, args ...string) (string, error) {
	repoDir := args[len(args)-1]
	f.mu.Lock()
	f.calls = append(f.calls, args)
	counter, ok := f.active[repoDir]
	if !ok {
		counter = new(int32)
		f.active[repoDir] = counter
	}
	f.mu.Unlock()

	if atomic.AddInt32(counter, 1) > 1 {
		f.overlap.Store(true)
	}
	defer atomic.AddInt32(counter, -1)
	time.Sleep(2 * time.Millisecond)

	if f.fail != nil {
		return "", f.fail
	}
	md := metadatatest.WriteRepodata(f.t, repoDir, metadatatest.EmptyCore())
	if f.corrupt {
		href := md.Find("primary").Location.Href
		_ = os.WriteFile(filepath.Join(repoDir, href), []byte("junk"), 0o644)
	}
	return "Pool finished", nil
}

func (f *fakeTool) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func setup(t *testing.T) (string, *Manager, *fakeTool) {
	t.Helper()
	root := t.TempDir()
	tool := newFakeTool(t)
	m, err := New(root, t.TempDir(), tool, logging.Discard())
	require.NoError(t, err)
	return root, m, tool
}

func repoDir(t *testing.T, root, logical string) string {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(logical))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Packages"), 0o755))
	return dir
}

func TestRegenerateSecondRunIsIncremental(t *testing.T) {
	root, m, tool := setup(t)
	dir := repoDir(t, root, "almalinux/9/BaseOS/x86_64/os")

	mode, err := m.Regenerate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, mode)
	assert.NotContains(t, tool.lastCall(), "--update-md-path")
	assert.DirExists(t, m.CachedRepodata(dir))

	mode, err = m.Regenerate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, mode)
	assert.Equal(t, []string{
		"--update", "--keep-all-metadata",
		"--cachedir", m.ChecksumDir(),
		"--update-md-path", m.CachedRepodata(dir),
		dir,
	}, tool.lastCall())
}

func TestRegenerateReplacesStaleCache(t *testing.T) {
	root, m, _ := setup(t)
	dir := repoDir(t, root, "almalinux/8/AppStream/x86_64/os")
	cached := m.CachedRepodata(dir)
	require.NoError(t, os.MkdirAll(cached, 0o755))
	stale := filepath.Join(cached, "stale-primary.xml.gz")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	_, err := m.Regenerate(context.Background(), dir)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(cached, "repomd.xml"))
}

func TestRegenerateToolFailureKeepsCache(t *testing.T) {
	root, m, tool := setup(t)
	dir := repoDir(t, root, "almalinux/9/CRB/x86_64/os")
	tool.fail = errors.New("exit status 1")

	_, err := m.Regenerate(context.Background(), dir)
	require.Error(t, err)
	assert.NoDirExists(t, m.CachedRepodata(dir))
}

func TestRegenerateRejectsCorruptOutput(t *testing.T) {
	root, m, tool := setup(t)
	dir := repoDir(t, root, "almalinux/9/devel/x86_64/os")
	tool.corrupt = true

	_, err := m.Regenerate(context.Background(), dir)
	require.Error(t, err)
	assert.Equal(t, faults.KindDataIntegrity, faults.KindOf(err))
	assert.NoDirExists(t, m.CachedRepodata(dir))
}

func TestRegenerateSinglePathSingleWriter(t *testing.T) {
	root, m, tool := setup(t)
	a := repoDir(t, root, "almalinux/9/BaseOS/x86_64/os")
	b := repoDir(t, root, "almalinux/9/AppStream/x86_64/os")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, dir := range []string{a, b} {
			wg.Add(1)
			go func(dir string) {
				defer wg.Done()
				_, err := m.Regenerate(context.Background(), dir)
				assert.NoError(t, err)
			}(dir)
		}
	}
	wg.Wait()
	assert.False(t, tool.overlap.Load(), "tool ran twice at once for one path")
	assert.Len(t, tool.calls, 8)
}

func TestLogicalPath(t *testing.T) {
	m := &Manager{exportRoot: "/srv/exports"}
	assert.Equal(t, "almalinux/9/BaseOS/x86_64/os", m.LogicalPath("/srv/exports/almalinux/9/BaseOS/x86_64/os/"))
	assert.Equal(t, "other/place", m.LogicalPath("/other/place"))
}
