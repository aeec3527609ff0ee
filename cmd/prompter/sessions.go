package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/prompter/internal/session"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"s"},
		Short:   "List, search and manage sessions",
	}

	// prompter sessions list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed sessions, most recent first",
		Run: func(cmd *cobra.Command, args []string) {
			requireIndex(cmd.Context())

			entries, err := manager.GetAllSessionMetadata()
			if err != nil {
				fatalError(err)
			}
			fmt.Print(out.SessionList(entries))
		},
	}

	// prompter sessions search <query>
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search session metadata (project, tags, topics)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			requireIndex(cmd.Context())

			entries, err := manager.SearchMetadata(args[0])
			if err != nil {
				fatalError(err)
			}
			fmt.Print(out.SessionList(entries))
		},
	}

	// prompter sessions show <id>
	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session's metadata",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			requireIndex(cmd.Context())

			entry, err := manager.GetSessionMetadata(cmd.Context(), args[0])
			if err != nil {
				fatalError(err)
			}
			if entry == nil {
				fmt.Printf("Session %s not found\n", args[0])
				return
			}
			fmt.Print(out.SessionDetail(entry))
		},
	}

	// prompter sessions history <id>
	var page int
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show a session's conversation history",
		Long: `Show a session's conversation history.

With --limit alone the most recent entries are shown. With --page the
history is paged from the start.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			requireIndex(cmd.Context())

			opts := session.LoadOptions{HistoryLimit: limit}
			if cmd.Flags().Changed("page") {
				opts.HistoryPage = &page
			}
			entries, err := loader.LoadSessionHistory(cmd.Context(), args[0], opts)
			if err != nil {
				fatalError(err)
			}
			fmt.Print(out.History(entries))
		},
	}
	historyCmd.Flags().IntVarP(&page, "page", "p", 0, "Page number (0-based)")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Entries per page, or tail size without --page")

	// prompter sessions new <project>
	var description string
	var tags []string
	newCmd := &cobra.Command{
		Use:   "new <project>",
		Short: "Create a new session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sess, err := store.Create(args[0], description, tags)
			if err != nil {
				fatalError(err)
			}
			fmt.Printf("Created session %s\n", sess.SessionID)
		},
	}
	newCmd.Flags().StringVarP(&description, "description", "d", "", "Session description")
	newCmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Session tags")

	// prompter sessions append <id> <prompt> <response>
	var source string
	appendCmd := &cobra.Command{
		Use:   "append <session-id> <prompt> <response>",
		Short: "Append a prompt/response exchange to a session",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			sess, err := store.AppendEntry(args[0], session.ConversationEntry{
				Prompt:   args[1],
				Response: args[2],
				Source:   session.Source(source),
			})
			if err != nil {
				fatalError(err)
			}
			fmt.Printf("Appended entry %d to %s\n", len(sess.History), sess.SessionID)
		},
	}
	appendCmd.Flags().StringVarP(&source, "source", "s", string(session.SourceUser), "Entry source (user|model-a|model-b)")

	// prompter sessions status <id> <status>
	statusCmd := &cobra.Command{
		Use:   "status <session-id> <active|completed|archived>",
		Short: "Change a session's lifecycle status",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := store.SetStatus(args[0], session.Status(args[1])); err != nil {
				fatalError(err)
			}
			fmt.Printf("Session %s is now %s\n", args[0], args[1])
		},
	}

	// prompter sessions grep <query>
	grepCmd := &cobra.Command{
		Use:   "grep <query>",
		Short: "Search full conversation content across all sessions",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			requireIndex(cmd.Context())

			entries, err := manager.GetAllSessionMetadata()
			if err != nil {
				fatalError(err)
			}
			ids := make([]string, 0, len(entries))
			for _, e := range entries {
				ids = append(ids, e.SessionID)
			}

			results := loader.SearchSessionContent(cmd.Context(), ids, args[0])
			fmt.Print(out.ContentMatches(results))
		},
	}

	cmd.AddCommand(listCmd, searchCmd, showCmd, historyCmd, newCmd, appendCmd, statusCmd, grepCmd)
	return cmd
}
