package cmd

import (
	"fmt"

	"github.com/agentic-research/cityxlink/internal/cache"
	"github.com/agentic-research/cityxlink/internal/xlink"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <cache.db>",
		Short: "Show the pending reference counts of a staged cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := cache.Open(args[0], cache.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = cm.Close() }()

			stats, err := cm.Stats()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.jsonOut {
				doc := make(map[string]any, len(stats))
				for m, n := range stats {
					doc[m.String()] = n
				}
				_, err := fmt.Fprintln(w, oj.JSON(doc, &oj.Options{Indent: 2, Sort: true}))
				return err
			}

			var total int64
			for _, m := range xlink.Models {
				n, ok := stats[m]
				if !ok {
					continue
				}
				total += n
				recursive := ""
				if m.Recursive() {
					recursive = " (recursive)"
				}
				fmt.Fprintf(w, "%-20s %8d%s\n", m, n, recursive)
			}
			fmt.Fprintf(w, "%-20s %8d\n", "total", total)
			return nil
		},
	}
}
