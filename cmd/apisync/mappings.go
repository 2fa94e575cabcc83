package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/apisync/internal/config"
	"github.com/hyperengineering/apisync/internal/mapping"
)

var mappingsJSONOutput bool

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "List mapping definitions",
	Args:  cobra.NoArgs,
	RunE:  runMappings,
}

func init() {
	mappingsCmd.Flags().BoolVar(&mappingsJSONOutput, "json", false,
		"Output in JSON format")
}

func runMappings(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	set, err := mapping.LoadDir(cfg.Mappings.Dir)
	if err != nil {
		return err
	}
	all := set.All()

	if mappingsJSONOutput {
		items := make([]map[string]any, len(all))
		for i, m := range all {
			items[i] = map[string]any{
				"id":                 m.ID,
				"label":              m.Label,
				"weight":             m.Weight,
				"local_type":         m.LocalType,
				"local_bundle":       m.LocalBundle,
				"remote_object_type": m.RemoteObjectType,
				"push":               m.PushTriggers.Any(),
				"pull":               m.PullTriggers.Any(),
				"fields":             len(m.FieldMappings),
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"mappings": items,
			"total":    len(items),
		})
	}

	if len(all) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No mappings found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tLOCAL\tREMOTE\tPUSH\tPULL\tFIELDS")
	for _, m := range all {
		local := m.LocalType
		if m.LocalBundle != "" {
			local += "/" + m.LocalBundle
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%d\n",
			m.ID,
			local,
			m.RemoteObjectType,
			m.PushTriggers.Any(),
			m.PullTriggers.Any(),
			len(m.FieldMappings),
		)
	}
	w.Flush()

	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
