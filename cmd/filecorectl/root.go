package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"filecore/config"
	"filecore/internal/logging"
)

var (
	configFile string
	projectRoot string
	sessionID   string
)

// rootCmd is the entry point for the operator CLI over a filecore
// session's journal and registry state. It is a debug/inspection
// surface, not part of the core library contract.
var rootCmd = &cobra.Command{
	Use:           "filecorectl [command] [flags]",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(configFile); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println()
		color.New(color.Bold, color.BgGreen, color.FgHiWhite).Println(" Usage ")
		color.New(color.Bold).Println("  filecorectl [command] [flags]")
		fmt.Println()
		color.New(color.Bold, color.BgGreen, color.FgHiWhite).Println(" Commands ")
		color.New(color.Bold).Println("  filecorectl journal   # show a session's journal tail")
		color.New(color.Bold).Println("  filecorectl sessions  # list known sessions under the project root")
		fmt.Println()
		fatal("%v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", ".", "project root containing the session directory")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "default", "session ID to operate on")

	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func fatal(format string, args ...interface{}) {
	logging.ErrorCF("filecorectl", fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}
