package main

import (
	"github.com/smallbiznis/invoicedesk/internal/migration"
	"github.com/smallbiznis/invoicedesk/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: `  # Serve on the address from HTTP_ADDR (default :8080)
  invoicedesk serve

  # Serve without touching the schema
  invoicedesk serve --skip-migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{infrastructure()}
			if !skipMigrate {
				opts = append(opts, migration.Module)
			}
			opts = append(opts, server.Module)

			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply schema migrations on startup")
	return cmd
}
