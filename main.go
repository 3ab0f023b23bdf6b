package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"iecdrive/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "iecdrive",
		Short:        "iecdrive serves a file store as a disk drive on the serial bus",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to config file")

	rootCmd.AddCommand(serveCommand(&configPath))
	rootCmd.AddCommand(lsCommand(&configPath))
	return rootCmd
}

func setupLogging(cfg *config.Config) {
	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("invalid log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
