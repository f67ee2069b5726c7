package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyFlags struct {
	limit int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent provisioning runs",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	runs, err := runStore.Recent(historyFlags.limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tVMID\tNAME\tOS\tSTATE\tADDR\tDURATION")
	for _, run := range runs {
		failNote := ""
		if run.FailedStep != "" {
			failNote = " (" + run.FailedStep + ")"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s%s\t%s\t%s\n",
			run.CreatedAt.Format("2006-01-02 15:04"),
			run.VMID,
			run.Name,
			run.OSClass,
			run.State,
			failNote,
			run.Addr,
			(time.Duration(run.DurationMS) * time.Millisecond).Round(time.Second),
		)
	}
	return w.Flush()
}
