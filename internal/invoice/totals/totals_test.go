package totals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/invoicedesk/internal/catalog/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

type catalogMock struct {
	mock.Mock
}

func (m *catalogMock) PriceOf(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Product, error) {
	args := m.Called(ctx, db, id)
	product, _ := args.Get(0).(*catalogdomain.Product)
	return product, args.Error(1)
}

func TestComputeRoundsTaxHalfUp(t *testing.T) {
	totals, err := Compute([]Line{
		{Quantity: 2, UnitPrice: dec("10.00")},
		{Quantity: 1, UnitPrice: dec("5.50")},
	}, dec("19"))
	require.NoError(t, err)

	assert.True(t, totals.PerLine[0].Equal(dec("20.00")))
	assert.True(t, totals.PerLine[1].Equal(dec("5.50")))
	assert.Equal(t, "25.50", totals.Subtotal.StringFixed(2))
	assert.Equal(t, "4.85", totals.TaxAmount.StringFixed(2))
	assert.Equal(t, "30.35", totals.Total.StringFixed(2))
}

func TestComputeIsStable(t *testing.T) {
	lines := []Line{{Quantity: 3, UnitPrice: dec("0.10")}, {Quantity: 7, UnitPrice: dec("1.99")}}

	first, err := Compute(lines, dec("7"))
	require.NoError(t, err)
	second, err := Compute(lines, dec("7"))
	require.NoError(t, err)

	assert.True(t, first.Total.Equal(second.Total))
	assert.Equal(t, "14.23", first.Subtotal.StringFixed(2))
	assert.Equal(t, "1.00", first.TaxAmount.StringFixed(2))
}

func TestComputeRejectsFractionalConvention(t *testing.T) {
	_, err := Compute(nil, dec("119"))
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "tax_rate", vErr.Field)

	_, err = Compute(nil, dec("-1"))
	assert.Error(t, err)
}

func TestComputeEmpty(t *testing.T) {
	totals, err := Compute(nil, dec("19"))
	require.NoError(t, err)
	assert.True(t, totals.Total.IsZero())
}

func TestRateFraction(t *testing.T) {
	assert.True(t, RateFraction(dec("19")).Equal(dec("0.19")))
}

func TestValidateLines(t *testing.T) {
	cases := []struct {
		name  string
		line  domain.LineInput
		field string
	}{
		{name: "zero quantity", line: domain.LineInput{Name: "x", Quantity: 0, UnitPrice: dec("1")}, field: "quantity"},
		{name: "negative price", line: domain.LineInput{Name: "x", Quantity: 1, UnitPrice: dec("-0.01")}, field: "unit_price"},
		{name: "sub-cent price", line: domain.LineInput{Name: "x", Quantity: 1, UnitPrice: dec("1.005")}, field: "unit_price"},
		{name: "blank product id", line: domain.LineInput{ProductID: strPtr(" "), Quantity: 1}, field: "product_id"},
		{name: "virtual without text", line: domain.LineInput{Quantity: 1, UnitPrice: dec("1")}, field: "description"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateLines([]domain.LineInput{{Name: "ok", Quantity: 1, UnitPrice: dec("1")}, tc.line})
			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, 1, vErr.Index)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}

	assert.NoError(t, ValidateLines([]domain.LineInput{{Description: "Shipping", Quantity: 1, UnitPrice: decimal.Zero}}))
}

func TestCheckFloorRejectsWholeBatch(t *testing.T) {
	catalog := new(catalogMock)
	catalog.On("PriceOf", mock.Anything, mock.Anything, snowflake.ID(1)).
		Return(&catalogdomain.Product{ID: 1, Name: "Widget", Price: dec("10.00")}, nil)
	catalog.On("PriceOf", mock.Anything, mock.Anything, snowflake.ID(2)).
		Return(&catalogdomain.Product{ID: 2, Name: "Gadget", Price: dec("4.00")}, nil)

	_, err := CheckFloor(context.Background(), catalog, nil, []domain.LineInput{
		{ProductID: strPtr("1"), Quantity: 1, UnitPrice: dec("9.99")},
		{ProductID: strPtr("2"), Quantity: 1, UnitPrice: dec("4.00")},
		{Description: "Shipping", Quantity: 1, UnitPrice: decimal.Zero},
	}, time.Second)

	var violation *domain.FloorViolation
	require.ErrorAs(t, err, &violation)
	require.Len(t, violation.Offenders, 1)
	offender := violation.Offenders[0]
	assert.Equal(t, snowflake.ID(1), offender.ProductID)
	assert.Equal(t, "Widget", offender.Name)
	assert.True(t, offender.Floor.Equal(dec("10.00")))
	assert.Contains(t, err.Error(), "9.99")
	catalog.AssertExpectations(t)
}

func TestCheckFloorAcceptsVirtualZero(t *testing.T) {
	catalog := new(catalogMock)

	products, err := CheckFloor(context.Background(), catalog, nil, []domain.LineInput{
		{Description: "Shipping", Quantity: 1, UnitPrice: decimal.Zero},
	}, time.Second)

	require.NoError(t, err)
	assert.Empty(t, products)
	catalog.AssertNotCalled(t, "PriceOf", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckFloorMissingProduct(t *testing.T) {
	catalog := new(catalogMock)
	catalog.On("PriceOf", mock.Anything, mock.Anything, snowflake.ID(3)).Return(nil, catalogdomain.ErrNotFound)

	_, err := CheckFloor(context.Background(), catalog, nil, []domain.LineInput{
		{ProductID: strPtr("3"), Quantity: 1, UnitPrice: dec("1")},
	}, time.Second)

	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestCheckFloorTimeoutIsTransient(t *testing.T) {
	catalog := new(catalogMock)
	catalog.On("PriceOf", mock.Anything, mock.Anything, snowflake.ID(4)).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded)

	_, err := CheckFloor(context.Background(), catalog, nil, []domain.LineInput{
		{ProductID: strPtr("4"), Quantity: 1, UnitPrice: dec("1")},
	}, 10*time.Millisecond)

	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
