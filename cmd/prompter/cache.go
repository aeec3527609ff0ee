package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the metadata index",
	}

	// prompter cache rebuild
	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rescan the session directory and rebuild the index",
		Run: func(cmd *cobra.Command, args []string) {
			res, err := manager.RebuildCache(cmd.Context())
			if err != nil {
				fatalError(err)
			}
			fmt.Print(out.RebuildSummary(res))
		},
	}

	// prompter cache stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache occupancy and processor throughput",
		Run: func(cmd *cobra.Command, args []string) {
			requireIndex(cmd.Context())

			proc := manager.Processor()
			fmt.Print(out.CacheStats(loader.CacheStats(), proc.ReadStats(), proc.WriteStats()))
			fmt.Printf("Indexed sessions: %d\n", manager.Count())
			fmt.Printf("Estimated cache memory: %d bytes\n", loader.EstimateCacheMemory())
		},
	}

	// prompter cache cleanup
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop stale index entries and old cached sessions",
		Run: func(cmd *cobra.Command, args []string) {
			requireIndex(cmd.Context())

			removed, err := manager.CleanupStaleEntries(cmd.Context())
			if err != nil {
				fatalError(err)
			}
			evicted := loader.OptimizeCache()
			fmt.Printf("Removed %d stale index entries, evicted %d cached sessions\n", removed, evicted)
		},
	}

	// prompter cache invalidate <id>
	invalidateCmd := &cobra.Command{
		Use:   "invalidate <session-id>",
		Short: "Drop one session from the index and loader cache",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			requireIndex(cmd.Context())

			if err := manager.InvalidateSessionCache(cmd.Context(), args[0]); err != nil {
				fatalError(err)
			}
			loader.EvictFromCache(args[0])
			fmt.Printf("Invalidated %s\n", args[0])
		},
	}

	cmd.AddCommand(rebuildCmd, statsCmd, cleanupCmd, invalidateCmd)
	return cmd
}
