// Command postmap serves the social post map API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postmap",
		Short: "Social post backend with semantic search and a 2D post map",
		Long: `postmap stores users and their activity posts, embeds each post into a
fixed-width vector, and serves similarity search and a 2D map of all posts.

Configuration is read from config/{ENV}.yaml (ENV defaults to local), after a
.env file in the working directory. POSTMAP_DATABASE_URL, POSTMAP_REDIS_PASSWORD,
POSTMAP_OPENAI_API_KEY and POSTMAP_API_KEYS override the file.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(backfillCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}
