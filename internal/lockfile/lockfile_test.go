package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireDir_ExclusiveUntilReleased(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state")
	l, err := AcquireDir(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, DefaultName), l.Path())

	pid, ok := HolderPID(l.Path())
	require.True(t, ok)
	require.Equal(t, os.Getpid(), pid)

	_, err = Acquire(l.Path())
	require.ErrorIs(t, err, ErrAlreadyLocked)
	require.ErrorContains(t, err, "pid")

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	again, err := AcquireDir(dir)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquire_RejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Acquire(" ")
	require.Error(t, err)
	_, err = AcquireDir("")
	require.Error(t, err)

	var l *Lock
	require.Empty(t, l.Path())
	require.NoError(t, l.Release())
}
