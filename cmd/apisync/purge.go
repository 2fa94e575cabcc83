package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/apisync/internal/config"
)

var purgeConfirm bool

var purgeCmd = &cobra.Command{
	Use:   "purge <mapping>",
	Short: "Delete all link records for a mapping",
	Long:  "Remove every mapped-object row for a mapping. Local entities and remote records are untouched; the next sync relinks by identity.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeConfirm, "yes", false,
		"Confirm the purge")
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if !purgeConfirm {
		return fmt.Errorf("refusing to purge without --yes")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogger(cfg)

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	m, ok := eng.mappings.Get(args[0])
	if !ok {
		return fmt.Errorf("unknown mapping %q", args[0])
	}

	n, err := eng.store.DeleteByMapping(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("purge %s: %w", m.ID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "purged %d link(s) for %s\n", n, m.ID)
	return nil
}
