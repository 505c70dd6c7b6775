package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smallbiznis/invoicedesk/internal/audit"
	"github.com/smallbiznis/invoicedesk/internal/cache"
	"github.com/smallbiznis/invoicedesk/internal/catalog"
	"github.com/smallbiznis/invoicedesk/internal/client"
	"github.com/smallbiznis/invoicedesk/internal/invoice"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/providers/email"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newRenderCmd() *cobra.Command {
	var (
		id       string
		noPrices bool
		out      string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render an invoice document to a PDF file",
		Example: `  # Client document into the current directory
  invoicedesk render --id 1790000000000000000

  # Internal packing variant without prices
  invoicedesk render --id 1790000000000000000 --no-prices --out /tmp/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(id) == "" {
				return errors.New("--id is required")
			}

			var svc invoicedomain.Service
			app := fx.New(
				infrastructure(),
				cache.Module,
				audit.Module,
				email.Module,
				client.Module,
				catalog.Module,
				invoice.Module,
				fx.Populate(&svc),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			mode := invoicedomain.RenderModeClient
			if noPrices {
				mode = invoicedomain.RenderModeInternal
			}
			doc, err := svc.Render(ctx, id, mode)
			if err != nil {
				return err
			}

			path := outputPath(out, doc.Filename)
			if err := os.WriteFile(path, doc.Bytes, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, sha256 %s)\n", path, len(doc.Bytes), doc.SHA256)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "invoice id")
	cmd.Flags().BoolVar(&noPrices, "no-prices", false, "render the internal variant without prices")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file or directory (default: suggested filename in cwd)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// outputPath treats an existing directory or a trailing separator as a directory.
func outputPath(out, filename string) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return filename
	}
	if strings.HasSuffix(out, string(os.PathSeparator)) {
		return filepath.Join(out, filename)
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, filename)
	}
	return out
}
