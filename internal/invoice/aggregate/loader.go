// Package aggregate loads an invoice together with its client and lines.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/invoicedesk/internal/client/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"gorm.io/gorm"
)

type Loader struct {
	repo      domain.Repository
	directory clientdomain.Directory
}

func NewLoader(repo domain.Repository, directory clientdomain.Directory) *Loader {
	return &Loader{repo: repo, directory: directory}
}

// Load returns ErrInvoiceNotFound or ErrClientNotFound for missing rows.
func (l *Loader) Load(ctx context.Context, db *gorm.DB, id snowflake.ID) (domain.InvoiceAggregate, error) {
	invoice, err := l.repo.FindByID(ctx, db, id)
	if err != nil {
		return domain.InvoiceAggregate{}, err
	}
	if invoice == nil {
		return domain.InvoiceAggregate{}, domain.ErrInvoiceNotFound
	}
	return l.complete(ctx, db, *invoice)
}

// LoadMany completes a page of invoices with one query for all lines.
func (l *Loader) LoadMany(ctx context.Context, db *gorm.DB, invoices []domain.Invoice) ([]domain.InvoiceAggregate, error) {
	ids := make([]snowflake.ID, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
	}
	lines, err := l.repo.ListLinesFor(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	clients := make(map[snowflake.ID]clientdomain.Client)
	result := make([]domain.InvoiceAggregate, len(invoices))
	for i, inv := range invoices {
		client, ok := clients[inv.ClientID]
		if !ok {
			found, err := l.findClient(ctx, db, inv.ClientID)
			if err != nil {
				return nil, err
			}
			client = *found
			clients[inv.ClientID] = client
		}
		result[i] = domain.InvoiceAggregate{Invoice: inv, Client: client, Lines: lines[inv.ID]}
	}
	return result, nil
}

func (l *Loader) complete(ctx context.Context, db *gorm.DB, invoice domain.Invoice) (domain.InvoiceAggregate, error) {
	client, err := l.findClient(ctx, db, invoice.ClientID)
	if err != nil {
		return domain.InvoiceAggregate{}, err
	}
	lines, err := l.repo.ListLines(ctx, db, invoice.ID)
	if err != nil {
		return domain.InvoiceAggregate{}, err
	}
	return domain.InvoiceAggregate{Invoice: invoice, Client: *client, Lines: lines}, nil
}

func (l *Loader) findClient(ctx context.Context, db *gorm.DB, id snowflake.ID) (*clientdomain.Client, error) {
	client, err := l.directory.FindClient(ctx, db, id)
	if err != nil {
		if errors.Is(err, clientdomain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrClientNotFound, id)
		}
		return nil, err
	}
	return client, nil
}
