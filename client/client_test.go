package client

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"inveni/internal/api"
	"inveni/internal/config"
	"inveni/internal/logging"
	"inveni/internal/monitor"
	"inveni/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*Client, string) {
	dir, err := os.MkdirTemp("", "inveni-client")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.BackupRoot = filepath.Join(dir, "backups")
	cfg.IndexPath = filepath.Join(cfg.BackupRoot, "tracked_files.json")
	cfg.CooldownMs = 0

	v, err := vault.New(vault.Env{Config: cfg}, vault.Options{
		Probe: monitor.ProbeFunc(func(string) bool { return true }),
	})
	require.NoError(t, err)
	t.Cleanup(v.Stop)

	mux := http.NewServeMux()
	api.NewHandler(v, logging.Nop()).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	work := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(work, 0755))
	return New(srv.URL), work
}

func TestClient_CommitRestoreCycle(t *testing.T) {
	c, work := newServer(t)
	require.NoError(t, c.Health())

	path := filepath.Join(work, "budget.txt")
	require.NoError(t, os.WriteFile(path, []byte("q1\n"), 0644))

	v1, err := c.Commit(path, "q1 numbers", false)
	require.NoError(t, err)
	assert.True(t, v1.FirstCommit)

	_, err = c.Commit(path, "same", false)
	require.Error(t, err)
	assert.True(t, IsNoChanges(err))
	assert.False(t, IsNotFound(err))

	require.NoError(t, os.WriteFile(path, []byte("q2\n"), 0644))
	v2, err := c.Commit(path, "q2 numbers", false)
	require.NoError(t, err)
	assert.Equal(t, v1.Hash, v2.PreviousHash)

	versions, err := c.History(path)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, v2.Hash, versions[0].Hash)

	data, err := c.Content(path, v1.Hash)
	require.NoError(t, err)
	assert.Equal(t, "q1\n", string(data))

	ok, err := c.Exists(path, v1.Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	d, err := c.Diff(path, v1.Hash, v2.Hash)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Additions)

	require.NoError(t, c.Restore(path, v1.Hash))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "q1\n", string(data))

	entries, err := c.Journal(path, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "restore", entries[0].Kind)

	tracked, err := c.Tracked()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, tracked)

	blobs, err := c.Blobs(path)
	require.NoError(t, err)
	assert.Len(t, blobs, 2)

	fs, err := c.FileStatus(path)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.Backups)

	require.NoError(t, c.ClearCache())
	st, err := c.ClearPending()
	require.NoError(t, err)
	assert.Zero(t, st.PendingCount)

	_, err = c.Exists(path, "../"+v1.Hash)
	assert.Error(t, err)
}

func TestClient_WatchAndStatus(t *testing.T) {
	c, work := newServer(t)
	path := filepath.Join(work, "w.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	require.NoError(t, c.Watch(path))
	fs, err := c.FileStatus(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fs.Size)

	require.NoError(t, c.SetRestoring(path, true))
	st, err := c.Pause()
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.Equal(t, []string{path}, st.Restoring)

	st, err = c.Resume()
	require.NoError(t, err)
	assert.False(t, st.Paused)

	require.NoError(t, c.Reset(path))
	require.NoError(t, c.Unwatch(path))

	_, err = c.FileStatus(path)
	assert.True(t, IsNotFound(err))

	st, err = c.Status()
	require.NoError(t, err)
	assert.Empty(t, st.Watched)
}

func TestClient_ErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL).Health()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "502")
}
