package main

import (
	"github.com/spf13/cobra"

	"github.com/joss/prompter/internal/tui"
)

func browseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse sessions interactively",
		Run: func(cmd *cobra.Command, args []string) {
			requireIndex(cmd.Context())

			if err := tui.Run(manager, loader); err != nil {
				fatalError(err)
			}
		},
	}
}
