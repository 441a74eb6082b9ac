package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/remotedev/pkg/mapper"
	"github.com/marmos91/remotedev/pkg/protocol"
)

type testDirs struct {
	App   string
	Etc   string
	Links string
}

func newTestExecutor(t *testing.T) (*Executor, testDirs) {
	t.Helper()
	tmp := t.TempDir()
	dirs := testDirs{
		App:   filepath.Join(tmp, "app"),
		Etc:   filepath.Join(tmp, "etc"),
		Links: filepath.Join(tmp, "links"),
	}
	for _, dir := range []string{dirs.App, dirs.Etc, dirs.Links} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	m, err := mapper.NewExecMapper([]mapper.Mapping{
		{Src: "src", Dest: dirs.App},
		{Src: "conf", Dest: dirs.Etc, Link: dirs.Links},
	})
	require.NoError(t, err)

	return New(m, nil), dirs
}

func fileContent(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

// ============================================================================
// Create Tests
// ============================================================================

func TestExecutorCreate(t *testing.T) {
	t.Run("FileWithParents", func(t *testing.T) {
		e, dirs := newTestExecutor(t)

		e.apply(protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeFile, "src/sub/a.txt", "", []byte("hello")))

		assert.Equal(t, "hello", fileContent(t, filepath.Join(dirs.App, "sub", "a.txt")))
	})

	t.Run("DirIdempotent", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		req := protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeDir, "src/newdir", "", nil)

		e.apply(req)
		e.apply(req)

		info, err := os.Stat(filepath.Join(dirs.App, "newdir"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("FileWithSymlink", func(t *testing.T) {
		e, dirs := newTestExecutor(t)

		e.apply(protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeFile, "conf/app.conf", "", []byte("cfg")))

		link := filepath.Join(dirs.Links, "app.conf")
		fi, err := os.Lstat(link)
		require.NoError(t, err)
		assert.NotZero(t, fi.Mode()&os.ModeSymlink)

		resolved, err := os.Readlink(link)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dirs.Etc, "app.conf"), resolved)
	})

	t.Run("ReplayYieldsSameState", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		req := protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeFile, "src/a.txt", "", []byte("hi"))

		e.apply(req)
		e.apply(req)

		assert.Equal(t, "hi", fileContent(t, filepath.Join(dirs.App, "a.txt")))
	})
}

// ============================================================================
// Update Tests
// ============================================================================

func TestExecutorUpdate(t *testing.T) {
	t.Run("OverwritesContent", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		path := filepath.Join(dirs.App, "a.txt")
		require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

		e.apply(protocol.NewFileRequest(protocol.ActionUpdate, protocol.TypeFile, "src/a.txt", "", []byte("new")))

		assert.Equal(t, "new", fileContent(t, path))
	})

	t.Run("DirIsNoop", func(t *testing.T) {
		e, dirs := newTestExecutor(t)

		e.apply(protocol.NewFileRequest(protocol.ActionUpdate, protocol.TypeDir, "src/ghostdir", "", nil))

		_, err := os.Stat(filepath.Join(dirs.App, "ghostdir"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("MissingParentLoggedNotFatal", func(t *testing.T) {
		e, dirs := newTestExecutor(t)

		e.apply(protocol.NewFileRequest(protocol.ActionUpdate, protocol.TypeFile, "src/ghost/x.txt", "", []byte("x")))

		_, err := os.Stat(filepath.Join(dirs.App, "ghost"))
		assert.True(t, os.IsNotExist(err))

		// the worker keeps going after a failure
		e.apply(protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeFile, "src/ok.txt", "", []byte("ok")))
		assert.Equal(t, "ok", fileContent(t, filepath.Join(dirs.App, "ok.txt")))
	})
}

// ============================================================================
// Delete Tests
// ============================================================================

func TestExecutorDelete(t *testing.T) {
	t.Run("FileIdempotent", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		path := filepath.Join(dirs.App, "a.txt")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		req := protocol.NewFileRequest(protocol.ActionDelete, protocol.TypeFile, "src/a.txt", "", nil)

		e.apply(req)
		e.apply(req)

		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("FileRemovesSymlinkFirst", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		e.apply(protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeFile, "conf/a.conf", "", []byte("x")))
		link := filepath.Join(dirs.Links, "a.conf")
		_, err := os.Lstat(link)
		require.NoError(t, err)

		e.apply(protocol.NewFileRequest(protocol.ActionDelete, protocol.TypeFile, "conf/a.conf", "", nil))

		_, err = os.Lstat(link)
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(dirs.Etc, "a.conf"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("DirRecursive", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		require.NoError(t, os.MkdirAll(filepath.Join(dirs.App, "tree", "deep"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dirs.App, "tree", "deep", "f"), []byte("x"), 0o644))

		e.apply(protocol.NewFileRequest(protocol.ActionDelete, protocol.TypeDir, "src/tree", "", nil))

		_, err := os.Stat(filepath.Join(dirs.App, "tree"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("AbsentDirIsNotAnError", func(t *testing.T) {
		e, _ := newTestExecutor(t)
		e.apply(protocol.NewFileRequest(protocol.ActionDelete, protocol.TypeDir, "src/never", "", nil))
	})
}

// ============================================================================
// Move Tests
// ============================================================================

func TestExecutorMove(t *testing.T) {
	t.Run("RenamesFile", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		require.NoError(t, os.WriteFile(filepath.Join(dirs.App, "a.txt"), []byte("x"), 0o644))

		e.apply(protocol.NewFileRequest(protocol.ActionMove, protocol.TypeFile, "src/a.txt", "src/b.txt", nil))

		_, err := os.Stat(filepath.Join(dirs.App, "a.txt"))
		assert.True(t, os.IsNotExist(err))
		assert.Equal(t, "x", fileContent(t, filepath.Join(dirs.App, "b.txt")))
	})

	t.Run("MissingSourceIsSilentlyDropped", func(t *testing.T) {
		e, dirs := newTestExecutor(t)

		e.apply(protocol.NewFileRequest(protocol.ActionMove, protocol.TypeFile, "src/ghost.txt", "src/b.txt", nil))

		_, err := os.Stat(filepath.Join(dirs.App, "b.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("MovesSymlinkAlong", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		e.apply(protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeFile, "conf/a.conf", "", []byte("x")))

		e.apply(protocol.NewFileRequest(protocol.ActionMove, protocol.TypeFile, "conf/a.conf", "conf/b.conf", nil))

		_, err := os.Lstat(filepath.Join(dirs.Links, "a.conf"))
		assert.True(t, os.IsNotExist(err))

		resolved, err := os.Readlink(filepath.Join(dirs.Links, "b.conf"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dirs.Etc, "b.conf"), resolved)
		assert.Equal(t, "x", fileContent(t, filepath.Join(dirs.Etc, "b.conf")))
	})

	t.Run("RenamesDir", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		require.NoError(t, os.MkdirAll(filepath.Join(dirs.App, "olddir"), 0o755))

		e.apply(protocol.NewFileRequest(protocol.ActionMove, protocol.TypeDir, "src/olddir", "src/newdir", nil))

		info, err := os.Stat(filepath.Join(dirs.App, "newdir"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

// ============================================================================
// Dispatch Tests
// ============================================================================

func TestExecutorDispatch(t *testing.T) {
	t.Run("UnmappedRequestDropped", func(t *testing.T) {
		e, dirs := newTestExecutor(t)

		e.apply(protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeFile, "nowhere/x.txt", "", []byte("x")))

		entries, err := os.ReadDir(dirs.App)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("EnqueueIgnoresNonFileRequests", func(t *testing.T) {
		e, _ := newTestExecutor(t)

		e.Enqueue(protocol.NewPing())
		e.Enqueue(nil)

		assert.Zero(t, e.Pending())
	})

	t.Run("RunDrainsQueue", func(t *testing.T) {
		e, dirs := newTestExecutor(t)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- e.Run(ctx) }()

		e.Enqueue(protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeFile, "src/run.txt", "", []byte("via queue")))

		require.Eventually(t, func() bool {
			_, err := os.Stat(filepath.Join(dirs.App, "run.txt"))
			return err == nil
		}, 2*time.Second, 10*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("executor did not stop")
		}
	})
}

// ============================================================================
// Queue Tests
// ============================================================================

func TestRequestQueue(t *testing.T) {
	mkReq := func(i int) *protocol.Request {
		return protocol.NewFileRequest(protocol.ActionUpdate, protocol.TypeFile, fmt.Sprintf("src/%d", i), "", nil)
	}

	t.Run("FIFO", func(t *testing.T) {
		var q requestQueue
		for i := 0; i < 3; i++ {
			evicted, _ := q.push(mkReq(i))
			assert.False(t, evicted)
		}

		for i := 0; i < 3; i++ {
			req, _, ok := q.pop()
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("src/%d", i), req.Src)
		}

		_, _, ok := q.pop()
		assert.False(t, ok)
	})

	t.Run("EvictsOldestWhenFull", func(t *testing.T) {
		var q requestQueue
		for i := 0; i < queueCapacity; i++ {
			evicted, _ := q.push(mkReq(i))
			require.False(t, evicted)
		}

		evicted, depth := q.push(mkReq(queueCapacity))
		assert.True(t, evicted)
		assert.Equal(t, queueCapacity, depth)

		req, _, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, "src/1", req.Src, "oldest entry must have been evicted")
	})

	t.Run("WrapsAround", func(t *testing.T) {
		var q requestQueue
		for i := 0; i < 5; i++ {
			q.push(mkReq(i))
		}
		for i := 0; i < 3; i++ {
			q.pop()
		}
		for i := 5; i < 10; i++ {
			q.push(mkReq(i))
		}

		assert.Equal(t, 7, q.len())
		req, _, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, "src/3", req.Src)
	})
}
