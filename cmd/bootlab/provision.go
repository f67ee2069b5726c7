package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bootlab-io/bootlab/internal/ansible"
	"github.com/bootlab-io/bootlab/internal/netwait"
	"github.com/bootlab-io/bootlab/internal/provision"
	"github.com/bootlab-io/bootlab/internal/sshexec"
	"github.com/bootlab-io/bootlab/internal/state"
	"github.com/bootlab-io/bootlab/internal/store"
	"github.com/bootlab-io/bootlab/internal/tui"
)

var provisionFlags struct {
	vmid          int
	name          string
	cores         int
	memoryMB      int
	diskGB        int
	storage       string
	osClass       string
	forceRecreate bool
	skipBootstrap bool
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create or resume a lab VM, then bootstrap it",
	Long: "Provision inspects the target VM, applies only the missing configuration\n" +
		"steps, waits until it is reachable and hands off to the bootstrap playbook.\n" +
		"Without --vmid a fresh identifier is allocated and a new VM is built.",
	RunE: runProvision,
}

func init() {
	f := provisionCmd.Flags()
	f.IntVar(&provisionFlags.vmid, "vmid", 0, "VM identifier (default: allocate a fresh one)")
	f.StringVar(&provisionFlags.name, "name", "lab", "VM name")
	f.IntVar(&provisionFlags.cores, "cores", 0, "CPU cores (default from config)")
	f.IntVar(&provisionFlags.memoryMB, "memory", 0, "memory in MB (default from config)")
	f.IntVar(&provisionFlags.diskGB, "disk", 0, "disk size in GB (default from config)")
	f.StringVar(&provisionFlags.storage, "storage", "", "storage pool (default from config)")
	f.StringVar(&provisionFlags.osClass, "os", "", "guest OS class (interactive picker when omitted)")
	f.BoolVar(&provisionFlags.forceRecreate, "recreate", false, "destroy and rebuild a fully configured VM")
	f.BoolVar(&provisionFlags.skipBootstrap, "skip-bootstrap", false, "stop after the VM is reachable, skip the playbook")
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	lock := state.NewLock(cfg.DataDir)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	desired, err := buildDesired()
	if err != nil {
		return err
	}

	if err := preflight(ctx, desired); err != nil {
		return err
	}

	runner := sshexec.NewExecRunner(sshexec.Options{
		User:    cfg.SSH.User,
		KeyPath: cfg.SSH.PrivateKeyPath,
	}, logger.With("component", "ssh"))

	waiter := netwait.NewWaiter(host, runner, netwait.Options{
		NetworkTimeout: cfg.VM.IPDiscoveryTimeout,
		ShellTimeout:   cfg.VM.SSHTimeout,
		InitTimeout:    cfg.VM.CloudInitTimeout,
	}, logger.With("component", "netwait"))

	ctrl := provision.NewController(host, waiter, cfg.Proxmox.VMIDFloor, logger.With("component", "provision"))

	runID := store.NewRunID()
	telemetrySvc.Track(runID, "provision_started", map[string]any{
		"os_class": desired.OSClass,
		"force":    desired.ForceRecreate,
	})

	res, provErr := ctrl.Provision(ctx, desired)
	recordRun(runID, desired, res, provErr)
	// Hints are written on failure too, so status and destroy without
	// --vmid point at the partially built VM rather than the last good
	// one.
	saveHints(res)

	if provErr != nil {
		telemetrySvc.Track(runID, "provision_failed", map[string]any{"step": failedStep(provErr)})
		return provErr
	}

	if res.Advisory != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", res.Advisory)
	}

	fmt.Printf("VM %d (%s) is ready at %s\n", res.VMID, desired.Name, res.Addr)
	telemetrySvc.Track(runID, "provision_completed", map[string]any{
		"os_class":    desired.OSClass,
		"resumed":     res.Resumed,
		"duration_ms": res.Duration.Milliseconds(),
	})

	if provisionFlags.skipBootstrap {
		return nil
	}
	return bootstrap(ctx, ctrl, res)
}

// buildDesired merges flags over config defaults into the immutable run
// input.
func buildDesired() (provision.DesiredConfig, error) {
	d := provision.DesiredConfig{
		VMID:          provisionFlags.vmid,
		Name:          provisionFlags.name,
		Cores:         provisionFlags.cores,
		MemoryMB:      provisionFlags.memoryMB,
		DiskGB:        provisionFlags.diskGB,
		Storage:       provisionFlags.storage,
		Bridge:        cfg.Proxmox.Bridge,
		OSClass:       provisionFlags.osClass,
		CIUser:        cfg.SSH.User,
		ForceRecreate: provisionFlags.forceRecreate,
	}
	if d.Cores == 0 {
		d.Cores = cfg.VM.DefaultCores
	}
	if d.MemoryMB == 0 {
		d.MemoryMB = cfg.VM.DefaultMemoryMB
	}
	if d.DiskGB == 0 {
		d.DiskGB = cfg.VM.DefaultDiskGB
	}
	if d.Storage == "" {
		d.Storage = cfg.Proxmox.Storage
	}

	if d.OSClass == "" {
		picked, err := tui.RunPicker(cfg.OSClasses())
		if err != nil {
			return d, err
		}
		d.OSClass = picked
	}

	img, err := cfg.ImageFor(d.OSClass)
	if err != nil {
		return d, err
	}
	d.ImagePath = img.Path
	d.Tags = append([]string{d.OSClass}, img.Tags...)

	key, err := os.ReadFile(cfg.SSH.PublicKeyPath)
	if err != nil {
		return d, fmt.Errorf("read ssh public key: %w", err)
	}
	d.SSHPublicKey = string(key)

	return d, d.Validate()
}

// preflight verifies the storage pool exists and warns when the node
// looks short on memory. The memory check is advisory only.
func preflight(ctx context.Context, d provision.DesiredConfig) error {
	pools, err := host.ListStorage(ctx, "images")
	if err != nil {
		return fmt.Errorf("list storage pools: %w", err)
	}
	found := false
	for _, p := range pools {
		if p.Storage == d.Storage && p.Active == 1 {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("storage pool %q is not active on node %s or cannot hold images", d.Storage, host.Node())
	}

	status, err := host.GetNodeStatus(ctx)
	if err != nil {
		logger.Warn("node status unavailable, skipping capacity check", "error", err)
		return nil
	}
	freeMB := (status.Memory.Total - status.Memory.Used) / (1024 * 1024)
	if freeMB > 0 && int64(d.MemoryMB) > freeMB {
		fmt.Fprintf(os.Stderr, "Warning: requesting %d MB but node %s has only %d MB free\n",
			d.MemoryMB, host.Node(), freeMB)
	}
	return nil
}

// bootstrap renders a one-host inventory and runs the configured
// playbook, then records the capability tag.
func bootstrap(ctx context.Context, ctrl *provision.Controller, res *provision.Result) error {
	if cfg.Ansible.Playbook == "" {
		logger.Info("no playbook configured, skipping bootstrap")
		return nil
	}

	inventory, err := ansible.WriteInventory(cfg.Ansible.InventoryPath, ansible.Target{
		Addr:    res.Addr,
		User:    cfg.SSH.User,
		KeyPath: cfg.SSH.PrivateKeyPath,
	})
	if err != nil {
		return err
	}

	runner := ansible.NewRunner(logger.With("component", "ansible"))
	if err := runner.Run(ctx, cfg.Ansible.Playbook, inventory); err != nil {
		return err
	}

	if err := ctrl.Tags().Add(ctx, res.VMID, "bootstrapped"); err != nil {
		logger.Warn("tag write failed", "vmid", res.VMID, "error", err)
	}
	fmt.Printf("VM %d bootstrapped\n", res.VMID)
	return nil
}

func recordRun(runID string, d provision.DesiredConfig, res *provision.Result, provErr error) {
	run := &store.Run{
		ID:            runID,
		Name:          d.Name,
		OSClass:       d.OSClass,
		ForceRecreate: d.ForceRecreate,
	}
	if res != nil {
		run.VMID = res.VMID
		run.State = string(res.State)
		run.Addr = res.Addr
		run.Resumed = res.Resumed
		run.Created = res.Created
		run.DurationMS = res.Duration.Milliseconds()
	}
	if provErr != nil {
		run.FailedStep = failedStep(provErr)
		if run.State == "" {
			run.State = string(provision.StateFailed)
		}
	}
	if err := runStore.Record(run); err != nil {
		logger.Warn("run ledger write failed", "error", err)
	}
}

func failedStep(err error) string {
	var stepErr *provision.StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}

func saveHints(res *provision.Result) {
	if res == nil || res.VMID == 0 {
		return
	}
	hints, err := state.LoadHints(cfg.DataDir)
	if err != nil {
		logger.Warn("hint file unreadable", "error", err)
		return
	}
	hints.Set("vmid", strconv.Itoa(res.VMID))
	hints.Set("addr", res.Addr)
	if err := hints.Save(); err != nil {
		logger.Warn("hint file write failed", "error", err)
	}
}
