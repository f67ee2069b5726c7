package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bootlab-io/bootlab/internal/proxmox"
)

// State names a position in the provisioning state machine. Ready and
// Failed are terminal.
type State string

const (
	StateAbsent           State = "absent"
	StateExistsIncomplete State = "exists-incomplete"
	StateExistsComplete   State = "exists-complete"
	StateDestroying       State = "destroying"
	StateProvisioning     State = "provisioning"
	StateReady            State = "ready"
	StateFailed           State = "failed"
)

// Waiter blocks until a freshly started VM is network- and
// shell-reachable. Implemented by netwait; faked in tests.
type Waiter interface {
	// AwaitNetwork discovers the VM's IPv4 address.
	AwaitNetwork(ctx context.Context, vmid int) (string, error)
	// AwaitShell polls until remote command execution succeeds.
	AwaitShell(ctx context.Context, addr string) error
	// AwaitInit waits for first-boot initialization to finish. A
	// timeout here is a warning, not a failure.
	AwaitInit(ctx context.Context, addr string) error
}

// StepError identifies which reconciliation step failed, so the operator
// sees exactly where to resume from.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result is the outcome of one provisioning run.
type Result struct {
	VMID     int
	State    State
	Addr     string
	Created  bool
	Resumed  bool
	Advisory *DiskAdvisory
	Duration time.Duration
}

// Controller drives a VM from whatever state it is in to Ready. One
// resource per invocation, steps strictly sequential.
type Controller struct {
	host      HostAPI
	inspector *Inspector
	rec       *Reconciler
	tags      *TagLedger
	waiter    Waiter
	logger    *slog.Logger
	vmidFloor int
}

func NewController(host HostAPI, waiter Waiter, vmidFloor int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		host:      host,
		inspector: NewInspector(host, logger),
		rec:       NewReconciler(host, logger),
		tags:      NewTagLedger(host, logger),
		waiter:    waiter,
		logger:    logger,
		vmidFloor: vmidFloor,
	}
}

// Inspector exposes the controller's inspector for read-only callers.
func (c *Controller) Inspector() *Inspector { return c.inspector }

// Tags exposes the controller's tag ledger.
func (c *Controller) Tags() *TagLedger { return c.tags }

// Provision converges the VM named by d onto the desired configuration.
// A fully configured VM short-circuits straight to Ready with no
// mutations unless ForceRecreate is set, in which case it is destroyed
// and rebuilt. A partially configured VM is always resumed, force or
// not: there is nothing complete to discard. On failure the partial VM
// is left in place for inspection; re-running the same command resumes
// it.
func (c *Controller) Provision(ctx context.Context, d DesiredConfig) (*Result, error) {
	start := time.Now()

	if err := d.Validate(); err != nil {
		return nil, err
	}

	vmid := d.VMID
	if vmid == 0 {
		id, err := NextVMID(ctx, c.host, c.vmidFloor)
		if err != nil {
			return nil, err
		}
		vmid = id
		c.logger.Info("allocated vmid", "vmid", vmid)
	}

	st, err := c.inspector.Inspect(ctx, vmid)
	if err != nil {
		return nil, err
	}

	res := &Result{VMID: vmid, State: StateProvisioning}

	switch {
	case !st.Exists:
		c.logger.Info("vm absent, creating", "vmid", vmid)
		res.Created = true
	case st.IsComplete() && !d.ForceRecreate:
		c.logger.Info("vm already fully configured", "vmid", vmid)
		res.State = StateExistsComplete
		return c.finish(ctx, d, res, start)
	case st.IsComplete() && d.ForceRecreate:
		c.logger.Info("force recreate requested, destroying", "vmid", vmid)
		res.State = StateDestroying
		if err := c.Destroy(ctx, vmid); err != nil {
			res.State = StateFailed
			return res, &StepError{Step: "destroy", Err: err}
		}
		st = &ResourceState{VMID: vmid}
		res.State = StateProvisioning
		res.Created = true
	default:
		c.logger.Info("vm partially configured, resuming", "vmid", vmid)
		res.Resumed = true
	}

	if err := c.rec.EnsureBaseAndFirmware(ctx, d, st); err != nil {
		res.State = StateFailed
		return res, &StepError{Step: "base-and-firmware", Err: err}
	}

	adv, err := c.rec.EnsureDisk(ctx, d, st)
	if err != nil {
		res.State = StateFailed
		return res, &StepError{Step: "disk", Err: err}
	}
	res.Advisory = adv

	if err := c.rec.EnsureBootAndAgent(ctx, d, st); err != nil {
		res.State = StateFailed
		return res, &StepError{Step: "boot-and-agent", Err: err}
	}

	if err := c.rec.EnsureIdentityConfig(ctx, d, st); err != nil {
		res.State = StateFailed
		return res, &StepError{Step: "identity-config", Err: err}
	}

	return c.finish(ctx, d, res, start)
}

// finish starts the VM if needed, waits for readiness and records tags.
func (c *Controller) finish(ctx context.Context, d DesiredConfig, res *Result, start time.Time) (*Result, error) {
	if err := c.ensureRunning(ctx, res.VMID); err != nil {
		res.State = StateFailed
		return res, &StepError{Step: "start", Err: err}
	}

	if c.waiter != nil {
		addr, err := c.waiter.AwaitNetwork(ctx, res.VMID)
		if err != nil {
			res.State = StateFailed
			return res, &StepError{Step: "await-network", Err: err}
		}
		res.Addr = addr
		c.logger.Info("vm reachable", "vmid", res.VMID, "addr", addr)

		if err := c.waiter.AwaitShell(ctx, addr); err != nil {
			res.State = StateFailed
			return res, &StepError{Step: "await-shell", Err: err}
		}

		if err := c.waiter.AwaitInit(ctx, addr); err != nil {
			c.logger.Warn("first-boot initialization did not confirm in time, continuing", "vmid", res.VMID, "error", err)
		}
	}

	if len(d.Tags) > 0 {
		if err := c.tags.SetAll(ctx, res.VMID, d.Tags); err != nil {
			c.logger.Warn("tag write failed", "vmid", res.VMID, "error", err)
		}
	}

	res.State = StateReady
	res.Duration = time.Since(start)
	return res, nil
}

// ensureRunning starts the VM only when it is not already running.
func (c *Controller) ensureRunning(ctx context.Context, vmid int) error {
	status, err := c.host.GetVMStatus(ctx, vmid)
	if err != nil {
		return fmt.Errorf("query vm %d status: %w", vmid, err)
	}
	if status.Status == "running" {
		return nil
	}

	c.logger.Info("starting vm", "vmid", vmid)
	upid, err := c.host.StartVM(ctx, vmid)
	if err != nil {
		return fmt.Errorf("start vm %d: %w", vmid, err)
	}
	if err := c.host.WaitForTask(ctx, upid); err != nil {
		return fmt.Errorf("start vm %d: %w", vmid, err)
	}
	return nil
}

// Destroy halts a running VM (best effort) and deletes it together with
// its disks. The delete itself is fatal on failure; a failed halt only
// logs, since destroy handles a running guest anyway.
func (c *Controller) Destroy(ctx context.Context, vmid int) error {
	status, err := c.host.GetVMStatus(ctx, vmid)
	if err != nil {
		if errors.Is(err, proxmox.ErrVMNotFound) {
			return nil
		}
		return fmt.Errorf("query vm %d status: %w", vmid, err)
	}

	if status.Status == "running" {
		if err := c.haltVM(ctx, vmid); err != nil {
			c.logger.Warn("halt before destroy failed, destroying anyway", "vmid", vmid, "error", err)
		}
	}

	c.logger.Info("destroying vm", "vmid", vmid)
	return c.deleteVM(ctx, vmid)
}

// haltVM asks the guest to power down and falls back to a hard stop
// when it does not cooperate.
func (c *Controller) haltVM(ctx context.Context, vmid int) error {
	c.logger.Info("shutting down vm", "vmid", vmid)
	upid, err := c.host.ShutdownVM(ctx, vmid)
	if err == nil {
		if err = c.host.WaitForTask(ctx, upid); err == nil {
			return nil
		}
	}
	c.logger.Warn("graceful shutdown failed, stopping hard", "vmid", vmid, "error", err)

	upid, err = c.host.StopVM(ctx, vmid)
	if err != nil {
		return err
	}
	return c.host.WaitForTask(ctx, upid)
}

func (c *Controller) deleteVM(ctx context.Context, vmid int) error {
	upid, err := c.host.DeleteVM(ctx, vmid)
	if err != nil {
		return fmt.Errorf("destroy vm %d: %w", vmid, err)
	}
	if err := c.host.WaitForTask(ctx, upid); err != nil {
		return fmt.Errorf("destroy vm %d: %w", vmid, err)
	}
	return nil
}
