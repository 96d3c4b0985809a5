//go:build unix

package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLockProbe(t *testing.T) {
	dir, err := os.MkdirTemp("", "inveni-probe")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

	probe := LockProbe{StableDelay: 5 * time.Millisecond}

	t.Run("unlocked file is closed", func(t *testing.T) {
		assert.True(t, probe.IsClosed(path))
	})

	t.Run("locked file with stable size counts as closed", func(t *testing.T) {
		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		require.NoError(t, unix.Flock(int(f.Fd()), unix.LOCK_EX))

		assert.False(t, exclusive(path))
		assert.True(t, probe.IsClosed(path))
	})

	t.Run("missing file is not closed", func(t *testing.T) {
		assert.False(t, probe.IsClosed(filepath.Join(dir, "missing")))
	})
}
