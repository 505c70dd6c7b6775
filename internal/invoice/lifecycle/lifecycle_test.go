package lifecycle

import (
	"testing"
	"time"

	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func TestTransitionRejectsSent(t *testing.T) {
	for _, override := range []bool{false, true} {
		inv := &domain.Invoice{Status: domain.InvoiceStatusPending}

		_, err := Transition(inv, domain.InvoiceStatusSent, override, now)

		assert.ErrorIs(t, err, domain.ErrSentRequiresDispatch)
		assert.Equal(t, domain.InvoiceStatusPending, inv.Status)
		assert.Nil(t, inv.SentAt)
	}
}

func TestTransitionIntendedEdges(t *testing.T) {
	cases := []struct {
		from, to domain.InvoiceStatus
	}{
		{domain.InvoiceStatusPending, domain.InvoiceStatusMaker},
		{domain.InvoiceStatusMaker, domain.InvoiceStatusPending},
		{domain.InvoiceStatusSent, domain.InvoiceStatusPaid},
		{domain.InvoiceStatusSent, domain.InvoiceStatusNotPaid},
		{domain.InvoiceStatusPaid, domain.InvoiceStatusCompleted},
		{domain.InvoiceStatusNotPaid, domain.InvoiceStatusCompleted},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			inv := &domain.Invoice{Status: tc.from}
			change, err := Transition(inv, tc.to, false, now)
			require.NoError(t, err)
			assert.False(t, change.Exception)
			assert.Equal(t, tc.to, inv.Status)
		})
	}
}

func TestTransitionIllegalWithoutOverride(t *testing.T) {
	inv := &domain.Invoice{Status: domain.InvoiceStatusPending}

	_, err := Transition(inv, domain.InvoiceStatusCompleted, false, now)

	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Equal(t, domain.InvoiceStatusPending, inv.Status)
}

func TestTransitionOverrideIsException(t *testing.T) {
	inv := &domain.Invoice{Status: domain.InvoiceStatusPending}

	change, err := Transition(inv, domain.InvoiceStatusPaid, true, now)

	require.NoError(t, err)
	assert.True(t, change.Exception)
	assert.Equal(t, domain.InvoiceStatusPending, change.From)
	require.NotNil(t, inv.PaidAt)
	assert.Equal(t, now, *inv.PaidAt)
}

func TestTransitionLeavingPaidKeepsPaidAt(t *testing.T) {
	paidAt := now.Add(-time.Hour)
	inv := &domain.Invoice{Status: domain.InvoiceStatusPaid, PaidAt: &paidAt}

	_, err := Transition(inv, domain.InvoiceStatusCompleted, false, now)

	require.NoError(t, err)
	assert.Equal(t, paidAt, *inv.PaidAt)
}

func TestTransitionUnknownStatus(t *testing.T) {
	inv := &domain.Invoice{Status: domain.InvoiceStatusPending}
	_, err := Transition(inv, "archived", true, now)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestMarkSentRequiresAcceptedReceipt(t *testing.T) {
	inv := &domain.Invoice{Status: domain.InvoiceStatusPending}

	_, err := MarkSent(inv, nil, now)
	assert.ErrorIs(t, err, domain.ErrNoAcceptedRecipient)

	_, err = MarkSent(inv, &domain.DeliveryReceipt{Rejected: []string{"a@b.test"}}, now)
	assert.ErrorIs(t, err, domain.ErrNoAcceptedRecipient)
	assert.Nil(t, inv.SentAt)
}

func TestMarkSentSetsSentAt(t *testing.T) {
	inv := &domain.Invoice{Status: domain.InvoiceStatusMaker}

	change, err := MarkSent(inv, &domain.DeliveryReceipt{Accepted: []string{"a@b.test"}}, now)

	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusSent, inv.Status)
	assert.Equal(t, domain.InvoiceStatusMaker, change.From)
	require.NotNil(t, inv.SentAt)
	assert.Equal(t, now, *inv.SentAt)
}

func TestMarkSentOnPaidKeepsStatus(t *testing.T) {
	inv := &domain.Invoice{Status: domain.InvoiceStatusPaid}

	change, err := MarkSent(inv, &domain.DeliveryReceipt{Accepted: []string{"a@b.test"}}, now)

	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, change.From, change.To)
	assert.NotNil(t, inv.SentAt)
}

func TestGatingHelpers(t *testing.T) {
	assert.True(t, CanDispatch(domain.InvoiceStatusPending))
	assert.True(t, CanDispatch(domain.InvoiceStatusMaker))
	assert.False(t, CanDispatch(domain.InvoiceStatusSent))
	assert.True(t, Editable(domain.InvoiceStatusMaker))
	assert.False(t, Editable(domain.InvoiceStatusCompleted))
	assert.ElementsMatch(t, []domain.InvoiceStatus{domain.InvoiceStatusPaid, domain.InvoiceStatusNotPaid}, Next(domain.InvoiceStatusSent))
}
