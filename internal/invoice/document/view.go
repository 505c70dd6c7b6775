package document

import (
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/numbering"
	"github.com/smallbiznis/invoicedesk/internal/invoice/totals"
)

// BuildView computes totals from the stored lines. Nothing derived is ever
// read back from storage, so two reads of the same rows are identical.
func BuildView(agg domain.InvoiceAggregate, displayTemplate string) (domain.InvoiceView, error) {
	computed, err := totals.Compute(totals.FromItems(agg.Lines), agg.Invoice.TaxRate)
	if err != nil {
		return domain.InvoiceView{}, err
	}

	lines := make([]domain.LineView, len(agg.Lines))
	for i, item := range agg.Lines {
		lines[i] = domain.LineView{
			LineItem:  item,
			Kind:      item.Kind(),
			LineTotal: computed.PerLine[i],
		}
	}

	return domain.InvoiceView{
		Invoice:       agg.Invoice,
		DisplayNumber: numbering.Display(displayTemplate, agg.Invoice.InvoiceNumber, agg.Invoice.IssueDate),
		Client:        agg.Client,
		Lines:         lines,
		Subtotal:      computed.Subtotal,
		TaxAmount:     computed.TaxAmount,
		Total:         computed.Total,
	}, nil
}
