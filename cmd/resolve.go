package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentic-research/cityxlink/internal/importer"
	"github.com/agentic-research/cityxlink/internal/xlink"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "resolve [cache.db]",
		Short: "Resolve the pending references of a staged import",
		Long: `Resolve reads the pending references staged by an import and writes the
resolved links into the city database. The cache file is consumed unless
--keep is given. An interrupt stops the run after the items in flight.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Cache.Path = args[0]
			}
			if cfg.Cache.Path == "" {
				return errors.New("no staged cache: pass a cache file or set cache.path")
			}
			if cmd.Flags().Changed("keep") {
				cfg.Cache.Keep = keep
			}

			logger, err := cfg.Log.Build()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			c, err := importer.New(importer.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case sig := <-sigs:
					logger.Warn("stopping after items in flight", zap.String("signal", sig.String()))
					c.Shutdown()
				case <-done:
				}
			}()

			sum, err := c.Run(cmd.Context(), nil)
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), sum, opts.jsonOut, cfg.Cache.Keep)
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the cache file after the run")
	return cmd
}

func summaryDoc(sum importer.Summary) map[string]any {
	categories := make(map[string]any)
	for _, m := range xlink.Models {
		staged, ok := sum.Staged[m]
		if !ok {
			continue
		}
		entry := map[string]any{"staged": staged}
		if st, ok := sum.Outcomes[m]; ok {
			entry["resolved"] = st.Resolved
			entry["requeued"] = st.Requeued
			entry["invalid"] = st.Invalid
		}
		if n, ok := sum.Report.Passes[m]; ok {
			entry["passes"] = n
		}
		categories[m.String()] = entry
	}

	cycles := make([]any, 0, len(sum.Report.Cycles))
	for _, c := range sum.Report.Cycles {
		cycles = append(cycles, map[string]any{
			"category":  c.Model.String(),
			"pass":      c.Pass,
			"remaining": c.Remaining,
		})
	}

	return map[string]any{
		"run_id":      sum.RunID,
		"duration_ms": sum.Duration.Milliseconds(),
		"stopped":     sum.Report.Stopped,
		"categories":  categories,
		"cycles":      cycles,
	}
}

// printSummary writes sum as text or JSON. kept reports whether the staged
// cache survives the run.
func printSummary(w io.Writer, sum importer.Summary, asJSON, kept bool) error {
	if asJSON {
		_, err := fmt.Fprintln(w, oj.JSON(summaryDoc(sum), &oj.Options{Indent: 2, Sort: true}))
		return err
	}

	fmt.Fprintf(w, "Run %s finished in %v\n", sum.RunID, sum.Duration.Round(time.Millisecond))
	for _, m := range xlink.Models {
		staged, ok := sum.Staged[m]
		if !ok {
			continue
		}
		st := sum.Outcomes[m]
		fmt.Fprintf(w, "  %-20s staged %6d  resolved %6d  invalid %6d\n", m, staged, st.Resolved, st.Invalid)
	}
	for _, c := range sum.Report.Cycles {
		fmt.Fprintf(w, "  cycle: %v\n", c)
	}
	switch {
	case sum.Report.Stopped && kept:
		fmt.Fprintln(w, "  stopped before completion; rerun with the kept cache to continue")
	case sum.Report.Stopped:
		fmt.Fprintln(w, "  stopped before completion; the staged cache was discarded")
	}
	return nil
}
