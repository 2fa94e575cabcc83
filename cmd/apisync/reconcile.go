package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/apisync/internal/config"
	"github.com/hyperengineering/apisync/internal/mapping"
)

var reconcilePurge bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [mapping]",
	Short: "Detect remote deletions",
	Long:  "Report local entities whose remote counterpart no longer exists, for all pull mappings or a single named one.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcilePurge, "purge", false,
		"Remove orphaned links instead of only reporting them")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

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

	var targets []*mapping.Mapping
	if len(args) == 1 {
		m, ok := eng.mappings.Get(args[0])
		if !ok {
			return fmt.Errorf("unknown mapping %q", args[0])
		}
		targets = []*mapping.Mapping{m}
	} else {
		targets = eng.mappings.PullMappings()
	}

	for _, m := range targets {
		orphans, err := eng.reconciler.Reconcile(ctx, m, reconcilePurge)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", m.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d orphan(s)\n", m.ID, len(orphans))
		for _, id := range orphans {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
		}
	}
	return nil
}
