package totals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/invoicedesk/internal/catalog/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"gorm.io/gorm"
)

// Catalog resolves live product prices through the caller's transaction.
type Catalog interface {
	PriceOf(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Product, error)
}

// CheckFloor looks up every product line in tx and rejects the whole batch if
// any unit price undercuts the catalog. Virtual lines are exempt. The returned
// map holds the catalog rows read, keyed by input index, for snapshotting.
func CheckFloor(ctx context.Context, catalog Catalog, tx *gorm.DB, lines []domain.LineInput, timeout time.Duration) (map[int]*catalogdomain.Product, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	products := make(map[int]*catalogdomain.Product, len(lines))
	var offenders []domain.FloorOffender
	for i, line := range lines {
		if line.ProductID == nil {
			continue
		}
		productID, err := snowflake.ParseString(strings.TrimSpace(*line.ProductID))
		if err != nil {
			return nil, &domain.ValidationError{Index: i, Field: "product_id", Reason: "is not a valid id"}
		}

		product, err := catalog.PriceOf(ctx, tx, productID)
		if err != nil {
			switch {
			case errors.Is(err, catalogdomain.ErrNotFound):
				return nil, fmt.Errorf("%w: lines[%d] product %s", domain.ErrProductNotFound, i, productID)
			case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
				return nil, fmt.Errorf("%w: catalog lookup for product %s: %w", domain.ErrTransient, productID, err)
			default:
				return nil, fmt.Errorf("catalog lookup for product %s: %w", productID, err)
			}
		}
		products[i] = product

		if line.UnitPrice.Round(currencyPlaces).LessThan(product.Price.Round(currencyPlaces)) {
			name := strings.TrimSpace(line.Name)
			if name == "" {
				name = product.Name
			}
			offenders = append(offenders, domain.FloorOffender{
				Index:     i,
				ProductID: productID,
				Name:      name,
				Submitted: line.UnitPrice,
				Floor:     product.Price,
			})
		}
	}

	if len(offenders) > 0 {
		return nil, &domain.FloorViolation{Offenders: offenders}
	}
	return products, nil
}
