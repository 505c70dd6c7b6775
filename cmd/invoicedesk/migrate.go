package main

import (
	"context"
	"time"

	"github.com/smallbiznis/invoicedesk/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newMigrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Long: `Apply the embedded SQL migrations on postgres. Other dialects are brought
up to date with AutoMigrate. --down reverts postgres migration steps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				log  *zap.Logger
			)
			app := fx.New(
				infrastructure(),
				fx.Populate(&conn, &log),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			if down > 0 {
				if err := migration.Rollback(conn, down); err != nil {
					return err
				}
				log.Info("migrations rolled back", zap.Int("steps", down))
				return nil
			}
			if err := migration.Run(conn); err != nil {
				return err
			}
			log.Info("schema is up to date")
			return nil
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "revert this many migration steps (postgres only)")
	return cmd
}
