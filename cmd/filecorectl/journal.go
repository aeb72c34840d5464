package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"filecore/sandbox"
	"filecore/session"
)

var journalTailN int

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the tail of a session's undo/redo journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		sb := sandbox.New(nil, 10<<20, 0)
		if err := sb.SetRoot(projectRoot); err != nil {
			return err
		}

		registry := session.NewRegistry(sb, projectRoot, ".nts", 50)
		ctx, err := registry.GetOrCreate(sessionID)
		if err != nil {
			return err
		}
		defer ctx.Close()

		entries, err := ctx.TxManager.GetJournalTail(journalTailN)
		if err != nil {
			return err
		}

		for _, e := range entries {
			color.New(color.Bold).Printf("#%d ", e.ID)
			fmt.Printf("[%s/%s] %s  %s\n", e.Stack, e.Kind, e.CreatedAt.Format("2006-01-02T15:04:05"), e.Description)
		}
		fmt.Printf("\n%d entries shown for session %q\n", len(entries), sessionID)
		return nil
	},
}

func init() {
	journalCmd.Flags().IntVar(&journalTailN, "n", 20, "number of entries to show")
}
