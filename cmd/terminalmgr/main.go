package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/relayhost/terminalmgr/internal/logging"
)

var (
	// Version is set at build time with -ldflags.
	Version = "dev"

	logFormat string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:     "terminalmgr",
	Short:   "Connect to, poll, and control a remote host over SSH",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{Format: logFormat, Level: logLevel, Component: "terminalmgr"})
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log output format: auto, console, json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(connectCmd, pollCmd, runActionCmd, setSensorCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
