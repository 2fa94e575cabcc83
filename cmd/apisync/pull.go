package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/apisync/internal/config"
)

var (
	pullStart string
	pullStop  string
	pullForce bool
)

var pullCmd = &cobra.Command{
	Use:   "pull [mapping]",
	Short: "Run one pull cycle",
	Long:  "Poll the remote endpoint for updated records and apply them locally, for all pull mappings or a single named one.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPull,
}

func init() {
	pullCmd.Flags().StringVar(&pullStart, "start", "",
		"Window start (RFC 3339); defaults to the stored watermark")
	pullCmd.Flags().StringVar(&pullStop, "stop", "",
		"Window stop (RFC 3339); defaults to open-ended")
	pullCmd.Flags().BoolVar(&pullForce, "force", false,
		"Reapply records regardless of modification timestamps")
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var start, stop time.Time
	if pullStart != "" {
		t, err := time.Parse(time.RFC3339, pullStart)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		start = t
	}
	if pullStop != "" {
		t, err := time.Parse(time.RFC3339, pullStop)
		if err != nil {
			return fmt.Errorf("invalid --stop: %w", err)
		}
		stop = t
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

	if len(args) == 1 {
		m, ok := eng.mappings.Get(args[0])
		if !ok {
			return fmt.Errorf("unknown mapping %q", args[0])
		}
		if err := eng.pull.EnqueueUpdatedRecords(ctx, m, start, stop, pullForce); err != nil {
			return fmt.Errorf("pull %s: %w", m.ID, err)
		}
	} else {
		if err := eng.pull.EnqueueAll(ctx); err != nil {
			return fmt.Errorf("pull: %w", err)
		}
	}

	n := eng.pull.DrainQueue(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d record(s)\n", n)
	return nil
}
