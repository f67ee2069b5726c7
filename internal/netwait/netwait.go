// Package netwait blocks until a freshly booted VM is reachable. Address
// discovery walks an ordered strategy chain, first success wins; shell
// readiness is a bounded poll of remote command execution.
package netwait

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bootlab-io/bootlab/internal/proxmox"
	"github.com/bootlab-io/bootlab/internal/sshexec"
)

// TimeoutError is the typed outcome of a wait that exhausted its window.
// Callers decide fatality: a network or shell timeout kills the run, a
// first-boot timeout only warns.
type TimeoutError struct {
	Op     string
	Window time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no result within %s", e.Op, e.Window)
}

// IsTimeout reports whether err is a wait timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// AgentAPI is the host-side slice the waiter reads from.
type AgentAPI interface {
	GetVMConfigRaw(ctx context.Context, vmid int) (map[string]string, error)
	GetGuestAgentInterfaces(ctx context.Context, vmid int) ([]proxmox.NetworkInterface, error)
}

// Strategy is one way of discovering a VM's address. Discover returns
// the empty string when the strategy has nothing, which is not an error.
type Strategy struct {
	Name     string
	Discover func(ctx context.Context) (string, error)
}

// Waiter implements readiness waits against one VM at a time.
type Waiter struct {
	host   AgentAPI
	runner sshexec.Runner
	logger *slog.Logger

	networkTimeout time.Duration
	shellTimeout   time.Duration
	initTimeout    time.Duration
	pollInterval   time.Duration

	leaseFiles []string

	// newStrategies builds the discovery chain for a VM. Overridable in
	// tests; sweep is the side-effecting last resort, fired once past
	// half the timeout window.
	newStrategies func(vmid int, mac string) []Strategy
	sweep         func(ctx context.Context) error
}

// Options configure a Waiter. Zero values pick sane defaults.
type Options struct {
	NetworkTimeout time.Duration
	ShellTimeout   time.Duration
	InitTimeout    time.Duration
	PollInterval   time.Duration
	LeaseFiles     []string
}

// Default dnsmasq lease locations checked by the lease-file strategy.
var defaultLeaseFiles = []string{
	"/var/lib/misc/dnsmasq.leases",
	"/var/lib/dnsmasq/dnsmasq.leases",
}

func NewWaiter(host AgentAPI, runner sshexec.Runner, opts Options, logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.NetworkTimeout == 0 {
		opts.NetworkTimeout = 5 * time.Minute
	}
	if opts.ShellTimeout == 0 {
		opts.ShellTimeout = 5 * time.Minute
	}
	if opts.InitTimeout == 0 {
		opts.InitTimeout = 10 * time.Minute
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if len(opts.LeaseFiles) == 0 {
		opts.LeaseFiles = defaultLeaseFiles
	}

	w := &Waiter{
		host:           host,
		runner:         runner,
		logger:         logger,
		networkTimeout: opts.NetworkTimeout,
		shellTimeout:   opts.ShellTimeout,
		initTimeout:    opts.InitTimeout,
		pollInterval:   opts.PollInterval,
		leaseFiles:     opts.LeaseFiles,
	}
	w.newStrategies = w.defaultStrategies
	w.sweep = w.pingSweep
	return w
}

// AwaitNetwork polls the discovery chain until one strategy yields an
// IPv4 address or the window closes. Past half the window it fires the
// subnet sweep once to provoke neighbor-table population, then keeps
// polling.
func (w *Waiter) AwaitNetwork(ctx context.Context, vmid int) (string, error) {
	mac, err := w.macAddress(ctx, vmid)
	if err != nil {
		return "", err
	}

	strategies := w.newStrategies(vmid, mac)
	deadline := time.Now().Add(w.networkTimeout)
	swept := false

	w.logger.Info("waiting for network address", "vmid", vmid, "mac", mac, "timeout", w.networkTimeout)

	for time.Now().Before(deadline) {
		for _, s := range strategies {
			addr, err := s.Discover(ctx)
			if err != nil {
				w.logger.Debug("discovery strategy errored", "strategy", s.Name, "error", err)
				continue
			}
			if addr != "" {
				w.logger.Info("address discovered", "vmid", vmid, "addr", addr, "strategy", s.Name)
				return addr, nil
			}
		}

		if !swept && time.Until(deadline) < w.networkTimeout/2 {
			swept = true
			w.logger.Info("no address yet, sweeping local subnet", "vmid", vmid)
			// The sweep shares the discovery deadline so a slow or wide
			// subnet cannot push the wait past its window.
			sweepCtx, cancel := context.WithDeadline(ctx, deadline)
			if err := w.sweep(sweepCtx); err != nil {
				w.logger.Debug("subnet sweep failed", "error", err)
			}
			cancel()
			continue
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
	return "", &TimeoutError{Op: "await network address", Window: w.networkTimeout}
}

// AwaitShell polls remote command execution with exponential backoff
// until it succeeds or the window closes.
func (w *Waiter) AwaitShell(ctx context.Context, addr string) error {
	deadline := time.Now().Add(w.shellTimeout)
	backoff := time.Second

	w.logger.Info("waiting for shell", "addr", addr, "timeout", w.shellTimeout)

	for time.Now().Before(deadline) {
		if _, err := w.runner.Run(ctx, addr, "true"); err == nil {
			w.logger.Info("shell reachable", "addr", addr)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 16*time.Second {
			backoff *= 2
		}
	}
	return &TimeoutError{Op: "await shell", Window: w.shellTimeout}
}

// AwaitInit blocks until cloud-init reports first boot finished. The
// guest command itself blocks, so one invocation under a deadline
// suffices. A timeout comes back typed; callers treat it as a warning
// since the configuration step that follows fails loudly on its own if
// the guest is truly not ready.
func (w *Waiter) AwaitInit(ctx context.Context, addr string) error {
	w.logger.Info("waiting for first-boot initialization", "addr", addr, "timeout", w.initTimeout)

	ctx, cancel := context.WithTimeout(ctx, w.initTimeout)
	defer cancel()

	_, err := w.runner.Run(ctx, addr, "cloud-init", "status", "--wait")
	if err != nil {
		if ctx.Err() != nil {
			return &TimeoutError{Op: "await cloud-init", Window: w.initTimeout}
		}
		return fmt.Errorf("cloud-init status: %w", err)
	}
	return nil
}

// macAddress reads the VM's first NIC hardware address from its config,
// e.g. net0 "virtio=DE:AD:BE:EF:00:01,bridge=vmbr0".
func (w *Waiter) macAddress(ctx context.Context, vmid int) (string, error) {
	cfg, err := w.host.GetVMConfigRaw(ctx, vmid)
	if err != nil {
		return "", fmt.Errorf("read nic config for vm %d: %w", vmid, err)
	}
	net0 := cfg["net0"]
	for _, part := range strings.Split(net0, ",") {
		if _, mac, ok := strings.Cut(part, "="); ok && strings.Count(mac, ":") == 5 {
			return strings.ToLower(mac), nil
		}
	}
	return "", fmt.Errorf("vm %d has no nic hardware address in %q", vmid, net0)
}
