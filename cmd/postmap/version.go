package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/postmap/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "postmap version %s\n", info.Version)
			fmt.Fprintf(out, "  commit: %s\n", info.Commit)
			fmt.Fprintf(out, "  built:  %s\n", info.Date)
			if info.GoVersion != "" {
				fmt.Fprintf(out, "  go:     %s\n", info.GoVersion)
			}
		},
	}
}
