package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions known under the project root's session directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		base := filepath.Join(projectRoot, ".nts", "sessions")
		entries, err := os.ReadDir(base)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no sessions on disk")
				return nil
			}
			return err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			metaPath := filepath.Join(base, e.Name(), "session.meta")
			marker := " "
			if _, err := os.Stat(metaPath); err == nil {
				marker = "*"
			}
			color.New(color.Bold).Printf("%s %s\n", marker, e.Name())
		}
		return nil
	},
}
