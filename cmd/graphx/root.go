package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
)

var version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	backendURL string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "graphx",
		Short:         "graphx: explore the AI litigation knowledge graph",
		Long:          brand.Sprint("graphx") + " lays out and explores the AI litigation knowledge graph\n" + subtle.Sprint("Cases, defendants, AI systems and legal theories as a force-directed graph"),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("graphx {{ .Version }}\n")
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.backendURL, "backend", "", "graph backend base URL (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		layoutCmd(flags),
		defendantsCmd(flags),
		exploreCmd(flags),
		serveCmd(flags),
	)
	return root
}

// load reads the config file, if any, applies flag overrides and installs
// the logger. Logs go to stderr so stdout stays parseable.
func (f *globalFlags) load() (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if f.backendURL != "" {
		cfg.Backend.BaseURL = f.backendURL
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	logger.SetDefault(logger.NewText(cfg.LogLevel, os.Stderr))
	return cfg, nil
}
