package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/apisync/internal/config"
	"github.com/hyperengineering/apisync/internal/sync"
)

var pushCmd = &cobra.Command{
	Use:   "push [mapping]",
	Short: "Run one push cycle",
	Long:  "Deliver queued local changes to the remote endpoint, for all push mappings or a single named one.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPush,
}

func runPush(cmd *cobra.Command, args []string) error {
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

	if len(args) == 1 {
		m, ok := eng.mappings.Get(args[0])
		if !ok {
			return fmt.Errorf("unknown mapping %q", args[0])
		}
		limit := m.PushLimit
		if limit <= 0 {
			limit = sync.DefaultPushLimit
		}
		n, err := eng.push.ProcessMapping(ctx, m, limit)
		if err != nil {
			return fmt.Errorf("push %s: %w", m.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pushed %d item(s) for %s\n", n, m.ID)
		return nil
	}

	if err := eng.push.ProcessAll(ctx); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "push cycle complete")
	return nil
}
