package lockfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireThenTryLockReportsRunning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncengined.lock")

	lock, err := Acquire(path, "tasks.db", "test")
	require.NoError(t, err)
	defer lock.Close()

	running, pid := TryLock(path)
	require.True(t, running)
	require.Greater(t, pid, 0)
}

func TestAcquireTwiceFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncengined.lock")

	first, err := Acquire(path, "tasks.db", "test")
	require.NoError(t, err)
	defer first.Close()

	_, err = Acquire(path, "tasks.db", "test")
	require.ErrorIs(t, err, ErrLocked)
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncengined.lock")

	first, err := Acquire(path, "tasks.db", "test")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Acquire(path, "tasks.db", "test")
	require.NoError(t, err)
	defer second.Close()
}

func TestValidateDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncengined.lock")

	lock, err := Acquire(path, "tasks-a.db", "test")
	require.NoError(t, err)
	defer lock.Close()

	require.NoError(t, Validate(path, "tasks-a.db"))
	require.Error(t, Validate(path, "tasks-b.db"))
}

func TestTryLockOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.lock")

	running, pid := TryLock(path)
	require.False(t, running)
	require.Equal(t, 0, pid)
}
