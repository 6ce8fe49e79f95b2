package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/repository/schema"
	"github.com/kailas-cloud/postmap/internal/repository/vectorindex"
)

func migrateCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the relational schema and the ANN index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := schema.AutoMigrate(cmd.Context(), a.db); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}
			a.logger.Info("Relational schema migrated")

			if a.index != nil {
				if err := a.index.EnsureIndex(cmd.Context()); err != nil {
					return fmt.Errorf("ensure index %s: %w", vectorindex.IndexName, err)
				}
				a.logger.Info("Vector index ready", zap.String("index", vectorindex.IndexName))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "Config environment (default: $ENV or local)")
	return cmd
}
