package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bootlab-io/bootlab/internal/config"
	"github.com/bootlab-io/bootlab/internal/provision"
	"github.com/bootlab-io/bootlab/internal/state"
)

func testServices(t *testing.T) {
	t.Helper()
	cfg = &config.Config{DataDir: t.TempDir()}
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSaveHints_FailedRunPointsAtPartialVM(t *testing.T) {
	testServices(t)

	saveHints(&provision.Result{VMID: 141, State: provision.StateReady, Addr: "192.168.1.50"})
	saveHints(&provision.Result{VMID: 142, State: provision.StateFailed})

	hints, err := state.LoadHints(cfg.DataDir)
	require.NoError(t, err)
	assert.Equal(t, 142, hints.GetInt("vmid"), "a failed run must leave status and destroy pointing at the partial vm")
	assert.Equal(t, "", hints.Get("addr"))
}

func TestSaveHints_NoResultWritesNothing(t *testing.T) {
	testServices(t)

	saveHints(nil)
	saveHints(&provision.Result{})

	hints, err := state.LoadHints(cfg.DataDir)
	require.NoError(t, err)
	assert.Equal(t, 0, hints.GetInt("vmid"))
}
