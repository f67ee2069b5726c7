package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockAcquireRelease(t *testing.T) {
	lock := NewLock(t.TempDir())

	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}

func TestLockHeldByLiveProcess(t *testing.T) {
	dir := t.TempDir()
	lock := NewLock(dir)
	require.NoError(t, lock.Acquire())

	// Same PID, still alive, so a second acquire must fail.
	other := NewLock(dir)
	err := other.Acquire()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestLockStaleOwnerDiscarded(t *testing.T) {
	dir := t.TempDir()
	// PID 1<<22 is above the default pid_max, so no such process exists.
	stale := filepath.Join(dir, "bootlab.lock")
	require.NoError(t, os.WriteFile(stale, []byte("pid=4194304\ntime=2026-01-01T00:00:00Z\n"), 0o644))

	lock := NewLock(dir)
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}

func TestLockGarbageFileDiscarded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bootlab.lock"), []byte("not a lock"), 0o644))

	lock := NewLock(dir)
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}

func TestHintsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	h, err := LoadHints(dir)
	require.NoError(t, err)
	assert.Equal(t, "", h.Get("vmid"))

	h.Set("vmid", "104")
	h.Set("name", "lab")
	h.Set("addr", "192.168.1.50")
	require.NoError(t, h.Save())

	reloaded, err := LoadHints(dir)
	require.NoError(t, err)
	assert.Equal(t, 104, reloaded.GetInt("vmid"))
	assert.Equal(t, "lab", reloaded.Get("name"))
	assert.Equal(t, "192.168.1.50", reloaded.Get("addr"))
}

func TestHintsIgnoresCommentsAndGarbage(t *testing.T) {
	dir := t.TempDir()
	content := "# last provisioning run\nvmid=104\n\nnot-a-pair\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "last_run"), []byte(content), 0o644))

	h, err := LoadHints(dir)
	require.NoError(t, err)
	assert.Equal(t, 104, h.GetInt("vmid"))
	assert.Equal(t, 0, h.GetInt("missing"))
}
