package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/e2llm/rpmrepo-export/pkg/config"
	"github.com/e2llm/rpmrepo-export/pkg/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// globalOptions are the flags shared by every command. Flags that are set
// override the configuration file and the environment.
type globalOptions struct {
	configPath   string
	verbose      bool
	logLevel     string
	cacheDir     string
	exportMethod string
	osvDir       string
	metricsFile  string
}

func run(ctx context.Context, args []string) error {
	root := newRootCmd(os.Stdout)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "rpmrepo-export",
		Short:         "Export RPM repositories from Pulp onto the distribution tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "/etc/rpmrepo-export/config.yaml", "configuration file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides the configuration)")
	flags.StringVarP(&opts.cacheDir, "cache-dir", "c", "", "repodata cache directory")
	flags.StringVar(&opts.exportMethod, "export-method", "", "method of exporting (choices: write, hardlink, symlink)")
	flags.StringVar(&opts.osvDir, "osv-dir", "", "directory where the OSV data is generated")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "node exporter textfile written at the end of the run")

	root.AddCommand(
		newExportCmd(opts),
		newVerifyCmd(opts),
		newErrataCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// loadConfig reads the configuration and applies the flags that were set.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	paths := map[string]*string{
		"cache-dir":    &cfg.CacheDir,
		"osv-dir":      &cfg.OSVDir,
		"metrics-file": &cfg.MetricsFile,
	}
	values := map[string]string{
		"cache-dir":    opts.cacheDir,
		"osv-dir":      opts.osvDir,
		"metrics-file": opts.metricsFile,
	}
	for name, dst := range paths {
		if !flags.Changed(name) {
			continue
		}
		p, err := config.ExpandHome(values[name])
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		*dst = p
	}
	if flags.Changed("export-method") {
		cfg.ExportMethod = opts.exportMethod
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

// newLogger opens the run log. The closer must be called before exit.
func newLogger(cmd *cobra.Command, cfg *config.Config, opts *globalOptions) (*log.Entry, io.Closer, error) {
	return logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Dir:     cfg.Log.Dir,
		Verbose: opts.verbose,
		Stdout:  cmd.OutOrStdout(),
	})
}
