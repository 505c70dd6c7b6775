package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("product_not_found")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, product *Product) error
	// PriceOf reads the live product row through db, sharing-locked where the
	// dialect supports it. Missing products return ErrNotFound.
	PriceOf(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
}
