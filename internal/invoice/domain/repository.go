package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status   InvoiceStatus
	ClientID snowflake.ID
}

// Repository takes the handle per call so callers decide the transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	// FindByID returns nil without error when the invoice does not exist.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	// FindForUpdate row-locks the invoice for the rest of the transaction.
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	Touch(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter, after *pagination.Cursor, limit int) ([]Invoice, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]LineItem, error)
	ListLinesFor(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) (map[snowflake.ID][]LineItem, error)
	ReplaceLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, lines []LineItem) error

	InsertReceipt(ctx context.Context, db *gorm.DB, receipt *DeliveryReceipt) error
	ListReceipts(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]DeliveryReceipt, error)
}
