package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bootlab-io/bootlab/internal/netwait"
	"github.com/bootlab-io/bootlab/internal/provision"
	"github.com/bootlab-io/bootlab/internal/sshexec"
	"github.com/bootlab-io/bootlab/internal/state"
)

var bootstrapFlags struct {
	vmid int
	addr string
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Re-run the bootstrap playbook against an existing VM",
	Long: "Bootstrap runs the configured playbook against a VM that was already\n" +
		"provisioned, without touching its configuration. Useful after editing the\n" +
		"playbook or after a bootstrap failure.",
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().IntVar(&bootstrapFlags.vmid, "vmid", 0, "VM identifier (default: last provisioned)")
	bootstrapCmd.Flags().StringVar(&bootstrapFlags.addr, "addr", "", "VM address (default: rediscover)")
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	hints, err := state.LoadHints(cfg.DataDir)
	if err != nil {
		return err
	}

	vmid := bootstrapFlags.vmid
	if vmid == 0 {
		vmid = hints.GetInt("vmid")
	}
	if vmid == 0 {
		return fmt.Errorf("no --vmid given and no previous run to infer one from")
	}

	inspector := provision.NewInspector(host, logger.With("component", "inspect"))
	st, err := inspector.Inspect(ctx, vmid)
	if err != nil {
		return err
	}
	if !st.Exists {
		return fmt.Errorf("vm %d does not exist", vmid)
	}
	if !st.IsComplete() {
		return fmt.Errorf("vm %d is only partially configured, run provision first", vmid)
	}

	addr := bootstrapFlags.addr
	if addr == "" {
		runner := sshexec.NewExecRunner(sshexec.Options{
			User:    cfg.SSH.User,
			KeyPath: cfg.SSH.PrivateKeyPath,
		}, logger.With("component", "ssh"))
		waiter := netwait.NewWaiter(host, runner, netwait.Options{
			NetworkTimeout: cfg.VM.IPDiscoveryTimeout,
			ShellTimeout:   cfg.VM.SSHTimeout,
			InitTimeout:    cfg.VM.CloudInitTimeout,
		}, logger.With("component", "netwait"))
		addr, err = waiter.AwaitNetwork(ctx, vmid)
		if err != nil {
			return err
		}
	}

	ctrl := provision.NewController(host, nil, cfg.Proxmox.VMIDFloor, logger.With("component", "provision"))
	return bootstrap(ctx, ctrl, &provision.Result{VMID: vmid, Addr: addr})
}
