// Package ansible hands a provisioned VM off to an external playbook
// run. The playbook content is not interpreted here; only its exit
// status matters.
package ansible

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Target describes the single host a playbook runs against.
type Target struct {
	Addr    string
	User    string
	KeyPath string
}

// RenderInventory produces a one-host INI inventory for the target.
func RenderInventory(t Target) string {
	var b strings.Builder
	b.WriteString("[bootlab]\n")
	fmt.Fprintf(&b, "%s ansible_user=%s", t.Addr, t.User)
	if t.KeyPath != "" {
		fmt.Fprintf(&b, " ansible_ssh_private_key_file=%s", t.KeyPath)
	}
	b.WriteString(" ansible_ssh_common_args='-o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null'\n")
	return b.String()
}

// WriteInventory renders the inventory into dir and returns its path.
func WriteInventory(dir string, t Target) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create inventory dir: %w", err)
	}
	path := filepath.Join(dir, "inventory.ini")
	if err := os.WriteFile(path, []byte(RenderInventory(t)), 0o644); err != nil {
		return "", fmt.Errorf("write inventory: %w", err)
	}
	return path, nil
}

// Runner invokes ansible-playbook on the host.
type Runner struct {
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run executes one playbook against the inventory, streaming output to
// the operator's terminal.
func (r *Runner) Run(ctx context.Context, playbook, inventory string) error {
	if _, err := os.Stat(playbook); err != nil {
		return fmt.Errorf("playbook %s: %w", playbook, err)
	}

	r.logger.Info("running playbook", "playbook", playbook, "inventory", inventory)
	cmd := exec.CommandContext(ctx, "ansible-playbook", "-i", inventory, playbook)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "ANSIBLE_HOST_KEY_CHECKING=False")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ansible-playbook %s: %w", playbook, err)
	}
	return nil
}
