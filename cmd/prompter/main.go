// Package main provides the prompter CLI entrypoint.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/prompter/internal/config"
	"github.com/joss/prompter/internal/fileproc"
	"github.com/joss/prompter/internal/render"
	"github.com/joss/prompter/internal/session"
)

var (
	version = "0.1.0"
	pretty  = true

	manager *session.Manager
	loader  *session.Loader
	store   *session.Store
	out     *render.Renderer
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prompter",
		Short: "Session-aware prompt manager for LLM conversations",
		Long: `Prompter stores LLM conversation sessions as JSON files and keeps a
persisted metadata index over them so listing, searching and resuming
sessions stays fast as the session directory grows.

Use 'prompter sessions list' to see indexed sessions.
Use 'prompter browse' for the interactive browser.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			env := config.Env()
			dir := config.GetPaths().Sessions

			var err error
			store, err = session.NewStore(dir)
			if err != nil {
				fatalError(err)
			}

			proc := fileproc.New(fileproc.Config{
				BatchSize:           env.BatchSize,
				MaxConcurrentReads:  env.MaxConcurrentReads,
				MaxConcurrentWrites: env.MaxConcurrentWrites,
				OperationTimeout:    env.OperationTimeout,
			})
			manager = session.NewManager(session.ManagerConfig{
				SessionDir:     dir,
				MaxMetadataAge: env.MetadataMaxAge,
				Processor:      proc,
			})
			loader = session.NewLoader(manager, session.LoaderConfig{
				CacheSize: env.CacheSize,
			})

			if env.NoColor || !term.IsTerminal(int(os.Stdout.Fd())) {
				pretty = false
			}
			out = render.New(pretty)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if manager != nil {
				manager.Cleanup()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Pretty print output")

	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(browseCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
