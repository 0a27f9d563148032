package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagControlFile string
	flagNoBrowser   bool
	flagLogLevel    string
)

var rootCmd = &cobra.Command{
	Use:           "callcaster",
	Short:         "Join a group voice call and speak the messages you send to yourself",
	Version:       GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `callcaster joins one group voice call at a time on your account.

Send the join trigger (default ".join") in a group to join its voice chat. Every text you then post to your
saved messages is spoken into the call, and every audio file or voice note you forward there is played as is.`,
	RunE: runAgent,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagControlFile, "control-file", "", "path of the KEY=VALUE account file (overrides APP_CONTROL_FILE)")
	rootCmd.PersistentFlags().BoolVar(&flagNoBrowser, "no-browser", false, "do not open a browser for the setup form")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug|info|warn|error (overrides APP_LOG_LEVEL)")

	rootCmd.AddCommand(setupCmd, versionCmd)
	rootCmd.SetVersionTemplate(GetVersionInfo() + "\n")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
