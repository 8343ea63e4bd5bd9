package cmd

import (
	"fmt"
	"os"

	"github.com/agentic-research/cityxlink/api"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by all commands.
type rootOptions struct {
	configPath string
	database   string
	cacheDir   string
	filesRoot  string
	logLevel   string
	locale     string
	workers    int
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "cityxlink",
		Short:         "Resolve deferred CityGML XLink references into a city database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (.hcl or .json)")
	flags.StringVarP(&opts.database, "database", "d", "", "Path to the city database")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "Directory for temporary cache databases")
	flags.StringVar(&opts.filesRoot, "files", "", "Base directory of texture and library object files")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.locale, "locale", "", "Language of status messages (en, de)")
	flags.IntVarP(&opts.workers, "workers", "w", 0, "Number of resolver workers")
	flags.BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(newResolveCmd(opts), newInspectCmd(opts))
	return root
}

// config loads the configuration file and applies flag overrides.
func (o *rootOptions) config(cmd *cobra.Command) (*api.Config, error) {
	cfg, err := api.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("database") {
		cfg.Database.Path = o.database
	}
	if flags.Changed("cache-dir") {
		cfg.Cache.Dir = o.cacheDir
	}
	if flags.Changed("files") {
		cfg.Files.Root = o.filesRoot
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("locale") {
		cfg.Resolver.Locale = o.locale
	}
	if flags.Changed("workers") {
		cfg.Resolver.Workers = o.workers
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
