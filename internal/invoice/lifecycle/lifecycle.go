// Package lifecycle is the invoice status state machine. It mutates the
// in-memory invoice only; callers persist the result in their transaction.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
)

// edges is the intended flow. Entering sent is absent on purpose: only
// MarkSent reaches it.
var edges = map[domain.InvoiceStatus][]domain.InvoiceStatus{
	domain.InvoiceStatusPending: {domain.InvoiceStatusMaker},
	domain.InvoiceStatusMaker:   {domain.InvoiceStatusPending},
	domain.InvoiceStatusSent:    {domain.InvoiceStatusPaid, domain.InvoiceStatusNotPaid},
	domain.InvoiceStatusPaid:    {domain.InvoiceStatusCompleted},
	domain.InvoiceStatusNotPaid: {domain.InvoiceStatusCompleted},
}

// Change describes an applied transition.
type Change struct {
	From      domain.InvoiceStatus
	To        domain.InvoiceStatus
	Exception bool
	At        time.Time
}

// Allowed reports whether from -> to is an edge of the intended flow.
func Allowed(from, to domain.InvoiceStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next lists the statuses an operator may move to without override.
func Next(from domain.InvoiceStatus) []domain.InvoiceStatus {
	return append([]domain.InvoiceStatus(nil), edges[from]...)
}

// Transition applies an operator status write. Moving to sent is always
// rejected. Edges outside the flow need override and come back flagged as an
// exception for the audit log.
func Transition(inv *domain.Invoice, to domain.InvoiceStatus, override bool, now time.Time) (Change, error) {
	if _, err := domain.ParseStatus(string(to)); err != nil {
		return Change{}, err
	}
	if to == domain.InvoiceStatusSent {
		return Change{}, domain.ErrSentRequiresDispatch
	}
	from := inv.Status
	if from == to {
		return Change{}, fmt.Errorf("%w: invoice is already %s", domain.ErrIllegalTransition, to)
	}

	exception := !Allowed(from, to)
	if exception && !override {
		return Change{}, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}

	inv.Status = to
	if to == domain.InvoiceStatusPaid {
		paidAt := now
		inv.PaidAt = &paidAt
	}
	inv.UpdatedAt = now

	return Change{From: from, To: to, Exception: exception, At: now}, nil
}

// MarkSent is the only way into sent. It requires the receipt of an accepted
// dispatch. Invoices already past sent keep their status; a resend only
// refreshes SentAt.
func MarkSent(inv *domain.Invoice, receipt *domain.DeliveryReceipt, now time.Time) (Change, error) {
	if receipt == nil || len(receipt.Accepted) == 0 {
		return Change{}, domain.ErrNoAcceptedRecipient
	}

	from := inv.Status
	to := from
	switch from {
	case domain.InvoiceStatusPending, domain.InvoiceStatusMaker, domain.InvoiceStatusSent:
		to = domain.InvoiceStatusSent
	}

	sentAt := now
	inv.Status = to
	inv.SentAt = &sentAt
	inv.UpdatedAt = now

	return Change{From: from, To: to, At: now}, nil
}

// CanDispatch is a UI gating helper; dispatch itself does not enforce it.
func CanDispatch(status domain.InvoiceStatus) bool {
	return status == domain.InvoiceStatusPending || status == domain.InvoiceStatusMaker
}

// Editable reports whether lines may be replaced without an audited override.
func Editable(status domain.InvoiceStatus) bool {
	return status == domain.InvoiceStatusPending || status == domain.InvoiceStatusMaker
}
