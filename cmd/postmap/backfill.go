package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	dombatch "github.com/kailas-cloud/postmap/internal/domain/batch"
)

func backfillCmd() *cobra.Command {
	var (
		env      string
		maxPosts int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed posts stored without an embedding and re-mirror the index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer a.Close()

			if maxPosts > 0 {
				a.backfill.WithMaxPosts(maxPosts)
			}
			report, err := a.backfill.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}

			for _, r := range report.Results {
				if r.Status() == dombatch.StatusError {
					a.logger.Warn("Post not embedded", zap.Int64("post_id", r.PostID()), zap.Error(r.Err()))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "embedded %d, unchanged %d, failed %d, mirrored %d, mirror failures %d\n",
				report.Summary.OK, report.Summary.Skipped, report.Summary.Failed,
				report.Mirrored, report.MirrorFailed)
			if report.Corpus.IndexCounted {
				fmt.Fprintf(cmd.OutOrStdout(), "posts %d, embedded %d, indexed %d\n",
					report.Corpus.Posts, report.Corpus.Embedded, report.Corpus.Indexed)
			}
			if report.Summary.Failed > 0 {
				return fmt.Errorf("%d posts could not be embedded", report.Summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "Config environment (default: $ENV or local)")
	cmd.Flags().IntVar(&maxPosts, "max-posts", 0, "Maximum posts to embed in this run (default: backfill.max_posts)")
	return cmd
}
