package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record(&Run{VMID: 104, Name: "lab", OSClass: "rocky10", State: "ready", Addr: "192.168.1.50"}))
	require.NoError(t, s.Record(&Run{VMID: 105, Name: "ci", OSClass: "debian13", State: "failed", FailedStep: "await-network"}))

	runs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.NotEmpty(t, run.ID)
		assert.False(t, run.CreatedAt.IsZero())
	}
}

func TestLastForVM(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record(&Run{VMID: 104, State: "failed", FailedStep: "disk"}))
	require.NoError(t, s.Record(&Run{VMID: 104, State: "ready", Resumed: true}))

	run, err := s.LastForVM(104)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "ready", run.State)

	missing, err := s.LastForVM(999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecentDefaultLimit(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Record(&Run{VMID: 100, State: "ready"}))

	runs, err := s.Recent(0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
