package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bootlab-io/bootlab/internal/provision"
	"github.com/bootlab-io/bootlab/internal/state"
)

var statusFlags struct {
	vmid int
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configuration state of a lab VM",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusFlags.vmid, "vmid", 0, "VM identifier (default: last provisioned)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	vmid := statusFlags.vmid
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

	inspector := provision.NewInspector(host, logger.With("component", "inspect"))
	st, err := inspector.Inspect(ctx, vmid)
	if err != nil {
		return err
	}

	if !st.Exists {
		fmt.Printf("VM %d: absent\n", vmid)
		return nil
	}

	fmt.Printf("VM %d (%s)\n", vmid, st.Name)
	fmt.Printf("  firmware store:   %s\n", mark(st.HasFirmwareStore))
	fmt.Printf("  primary disk:     %s\n", mark(st.HasPrimaryDisk))
	fmt.Printf("  cloud-init drive: %s\n", mark(st.HasInitDrive))
	fmt.Printf("  boot order:       %s\n", mark(st.HasBootOrder))
	fmt.Printf("  guest agent:      %s\n", mark(st.HasGuestAgent))
	if st.IsComplete() {
		fmt.Println("  state: complete")
	} else {
		fmt.Println("  state: incomplete (re-run provision to finish)")
	}
	if st.Tags != "" {
		fmt.Printf("  tags: %s\n", st.Tags)
	}

	last, err := runStore.LastForVM(vmid)
	if err != nil {
		return err
	}
	if last != nil {
		fmt.Printf("  last run: %s at %s", last.State, last.CreatedAt.Format("2006-01-02 15:04:05"))
		if last.FailedStep != "" {
			fmt.Printf(" (failed step: %s)", last.FailedStep)
		}
		fmt.Println()
	}
	return nil
}

func mark(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}
