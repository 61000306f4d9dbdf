package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "agentgate"}

	root.AddCommand(serveCMD(), migrateCMD(), tenantCMD(), keyCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
