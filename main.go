package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"capdissector/internal/config"
)

type rootFlags struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "capdissector",
		Short: "Dissect capture files and query their fields",
		Long: `capdissector decodes pcap and pcapng files into protocol field trees,
indexes every field and lets you query, dump or serve them.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Turn on verbose logging")

	cmd.AddCommand(newDumpCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	return cmd
}

// load reads the configuration file, if any, on top of the defaults.
func (f *rootFlags) load() (*config.Config, error) {
	if f.configFile == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(f.configFile)
}

func newLogger(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	if verbose || cfg.Development {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, errors.Wrap(err, "logging.level")
		}
		zc.Level = level
	}
	return zc.Build()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
