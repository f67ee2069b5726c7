package sshexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	opts := Options{
		User:           "ops",
		KeyPath:        "/home/ops/.ssh/id_ed25519",
		Port:           22,
		ConnectTimeout: 15 * time.Second,
	}

	args := buildArgs(opts, "192.168.1.50", "cloud-init", []string{"status", "--wait"})

	assert.Equal(t, []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
		"-o", "LogLevel=ERROR",
		"-o", "ConnectTimeout=15",
		"-p", "22",
		"-i", "/home/ops/.ssh/id_ed25519",
		"ops@192.168.1.50",
		"--", "cloud-init", "status", "--wait",
	}, args)
}

func TestBuildArgs_NoKey(t *testing.T) {
	opts := Options{User: "root", Port: 2222, ConnectTimeout: 5 * time.Second}

	args := buildArgs(opts, "10.0.0.5", "true", nil)

	assert.NotContains(t, args, "-i")
	assert.Contains(t, args, "root@10.0.0.5")
	assert.Contains(t, args, "ConnectTimeout=5")
}

func TestCheckKeyPermissions(t *testing.T) {
	dir := t.TempDir()

	strict := filepath.Join(dir, "ok_key")
	require.NoError(t, os.WriteFile(strict, []byte("key"), 0o600))
	assert.NoError(t, checkKeyPermissions(strict))

	loose := filepath.Join(dir, "bad_key")
	require.NoError(t, os.WriteFile(loose, []byte("key"), 0o644))
	assert.Error(t, checkKeyPermissions(loose))

	assert.NoError(t, checkKeyPermissions(""))
	assert.Error(t, checkKeyPermissions(filepath.Join(dir, "missing")))
}

func TestRun_RejectsLooseKey(t *testing.T) {
	dir := t.TempDir()
	key := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(key, []byte("key"), 0o644))

	runner := NewExecRunner(Options{KeyPath: key}, nil)
	_, err := runner.Run(context.Background(), "10.0.0.5", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestOptionsDefaults(t *testing.T) {
	runner := NewExecRunner(Options{}, nil)
	assert.Equal(t, "root", runner.opts.User)
	assert.Equal(t, 22, runner.opts.Port)
	assert.Equal(t, 15*time.Second, runner.opts.ConnectTimeout)
}
