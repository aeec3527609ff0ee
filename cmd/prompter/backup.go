package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/prompter/internal/backup"
	"github.com/joss/prompter/internal/config"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and restore session archives",
	}

	newManager := func() *backup.Manager {
		return backup.New(config.GetPaths().Sessions, manager.Processor())
	}

	// prompter backup export <file>
	var description string
	exportCmd := &cobra.Command{
		Use:   "export <archive.tar.gz>",
		Short: "Export all sessions to a compressed archive",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			meta, err := newManager().Export(cmd.Context(), args[0], description)
			if err != nil {
				fatalError(err)
			}
			fmt.Printf("Exported %d sessions to %s\n", meta.Sessions, args[0])
		},
	}
	exportCmd.Flags().StringVarP(&description, "description", "d", "", "Archive description")

	// prompter backup import <file>
	var merge bool
	importCmd := &cobra.Command{
		Use:   "import <archive.tar.gz>",
		Short: "Restore sessions from an archive",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			meta, err := newManager().Import(cmd.Context(), args[0], merge)
			if err != nil {
				fatalError(err)
			}
			if _, err := manager.RebuildCache(cmd.Context()); err != nil {
				fatalError(err)
			}
			fmt.Printf("Restored %d sessions from %s\n", meta.Sessions, args[0])
		},
	}
	importCmd.Flags().BoolVarP(&merge, "merge", "m", false, "Keep existing sessions instead of replacing them")

	// prompter backup list <file>
	listCmd := &cobra.Command{
		Use:   "list <archive.tar.gz>",
		Short: "Show an archive's contents without restoring",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			meta, err := backup.List(args[0])
			if err != nil {
				fatalError(err)
			}
			fmt.Printf("Archive:     %s\n", args[0])
			fmt.Printf("Created:     %s\n", meta.CreatedAt.Format("2006-01-02 15:04"))
			if meta.Description != "" {
				fmt.Printf("Description: %s\n", meta.Description)
			}
			fmt.Printf("Sessions:    %d\n", meta.Sessions)
		},
	}

	cmd.AddCommand(exportCmd, importCmd, listCmd)
	return cmd
}
