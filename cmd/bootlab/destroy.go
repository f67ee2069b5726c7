package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bootlab-io/bootlab/internal/provision"
	"github.com/bootlab-io/bootlab/internal/state"
	"github.com/bootlab-io/bootlab/internal/store"
	"github.com/bootlab-io/bootlab/internal/tui"
)

var destroyFlags struct {
	vmid int
	yes  bool
}

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy a lab VM and all of its disks",
	RunE:  runDestroy,
}

func init() {
	destroyCmd.Flags().IntVar(&destroyFlags.vmid, "vmid", 0, "VM identifier (default: last provisioned)")
	destroyCmd.Flags().BoolVar(&destroyFlags.yes, "yes", false, "skip the confirmation prompt")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	lock := state.NewLock(cfg.DataDir)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	vmid := destroyFlags.vmid
	if vmid == 0 {
		hints, err := state.LoadHints(cfg.DataDir)
		if err != nil {
			return err
		}
		vmid = hints.GetInt("vmid")
	}
	if vmid == 0 {
		return fmt.Errorf("no --vmid given and no previous run to infer one from")
	}

	ctrl := provision.NewController(host, nil, cfg.Proxmox.VMIDFloor, logger.With("component", "provision"))

	st, err := ctrl.Inspector().Inspect(ctx, vmid)
	if err != nil {
		return err
	}
	if !st.Exists {
		fmt.Printf("VM %d does not exist, nothing to destroy\n", vmid)
		return nil
	}

	if !destroyFlags.yes {
		approved, err := tui.RunDestroyConfirm(tui.DestroyRequest{VMID: vmid, Name: st.Name})
		if err != nil {
			return err
		}
		if !approved {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := ctrl.Destroy(ctx, vmid); err != nil {
		return err
	}

	if err := runStore.Record(&store.Run{VMID: vmid, Name: st.Name, State: "destroyed"}); err != nil {
		logger.Warn("run ledger write failed", "error", err)
	}

	fmt.Printf("VM %d destroyed\n", vmid)
	return nil
}
