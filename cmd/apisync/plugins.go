package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/apisync/internal/fieldmap"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List field mapping plugins",
	Args:  cobra.NoArgs,
	RunE:  runPlugins,
}

func runPlugins(cmd *cobra.Command, args []string) error {
	// An empty Env is enough to enumerate discriminators; plugins only
	// touch their collaborators when transforming values.
	registry := fieldmap.NewRegistry(fieldmap.Env{})

	for _, t := range registry.Types() {
		fmt.Fprintln(cmd.OutOrStdout(), t)
	}
	return nil
}
