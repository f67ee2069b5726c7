// Package sshexec runs commands on a remote host over the system ssh
// binary with structured arguments. Commands are never assembled from
// interpolated strings.
package sshexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner executes a command on a remote address and returns its combined
// output. Implementations must be safe for sequential reuse.
type Runner interface {
	Run(ctx context.Context, addr string, command string, args ...string) (string, error)
}

// Options configure an ExecRunner.
type Options struct {
	User           string
	KeyPath        string
	Port           int
	ConnectTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.User == "" {
		o.User = "root"
	}
	if o.Port == 0 {
		o.Port = 22
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 15 * time.Second
	}
}

// ExecRunner shells out to the ssh binary on the host.
type ExecRunner struct {
	opts   Options
	logger *slog.Logger
}

func NewExecRunner(opts Options, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &ExecRunner{opts: opts, logger: logger}
}

// Run executes command with args on the remote address. The remote side
// receives the command words verbatim; nothing is interpreted by a local
// shell.
func (r *ExecRunner) Run(ctx context.Context, addr, command string, args ...string) (string, error) {
	if err := checkKeyPermissions(r.opts.KeyPath); err != nil {
		return "", err
	}

	sshArgs := buildArgs(r.opts, addr, command, args)
	r.logger.Debug("running remote command", "addr", addr, "command", command)

	cmd := exec.CommandContext(ctx, "ssh", sshArgs...)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("ssh %s@%s %s: %w (%s)", r.opts.User, addr, command, err, firstLine(output))
	}
	return output, nil
}

// buildArgs assembles the ssh argument vector. Split out so tests can
// verify the exact argv without spawning a process.
func buildArgs(opts Options, addr, command string, args []string) []string {
	sshArgs := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
		"-o", "LogLevel=ERROR",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(opts.ConnectTimeout.Seconds())),
		"-p", fmt.Sprintf("%d", opts.Port),
	}
	if opts.KeyPath != "" {
		sshArgs = append(sshArgs, "-i", opts.KeyPath)
	}
	sshArgs = append(sshArgs, fmt.Sprintf("%s@%s", opts.User, addr), "--", command)
	return append(sshArgs, args...)
}

// checkKeyPermissions rejects group- or world-accessible private keys,
// since ssh itself refuses them with a confusing error.
func checkKeyPermissions(keyPath string) error {
	if keyPath == "" {
		return nil
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		return fmt.Errorf("ssh key %s: %w", keyPath, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("ssh key %s has permissions %o, want 600", keyPath, info.Mode().Perm())
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
