package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set via -ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bootlab version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bootlab %s (%s)\n", version, commit)
	},
}
