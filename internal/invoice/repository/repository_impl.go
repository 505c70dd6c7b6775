package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, number_scope, invoice_number, client_id, status, issue_date, due_date,
			tax_rate, notes, client_reference, created_by, sent_at, paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.NumberScope,
		invoice.InvoiceNumber,
		invoice.ClientID,
		invoice.Status,
		invoice.IssueDate,
		invoice.DueDate,
		invoice.TaxRate,
		invoice.Notes,
		invoice.ClientReference,
		invoice.CreatedBy,
		invoice.SentAt,
		invoice.PaidAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.find(db.WithContext(ctx), id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.find(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repo) find(stmt *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoices []domain.Invoice
	if err := stmt.Where("id = ?", id).Limit(1).Find(&invoices).Error; err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &invoices[0], nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, sent_at = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
		invoice.Status,
		invoice.SentAt,
		invoice.PaidAt,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET updated_at = ? WHERE id = ?`,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, after *pagination.Cursor, limit int) ([]domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.ClientID != 0 {
		stmt = stmt.Where("client_id = ?", filter.ClientID)
	}
	if after != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			after.CreatedAt,
			after.CreatedAt,
			after.ID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit + 1)
	}

	var invoices []domain.Invoice
	if err := stmt.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// Delete removes the invoice with its lines and receipts.
func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM invoice_line_items WHERE invoice_id = ?`, id).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM invoice_delivery_receipts WHERE invoice_id = ?`, id).Error; err != nil {
			return err
		}
		return tx.Exec(`DELETE FROM invoices WHERE id = ?`, id).Error
	})
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.LineItem, error) {
	var lines []domain.LineItem
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("position asc").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) ListLinesFor(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) (map[snowflake.ID][]domain.LineItem, error) {
	result := make(map[snowflake.ID][]domain.LineItem, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return result, nil
	}

	var lines []domain.LineItem
	err := db.WithContext(ctx).
		Where("invoice_id IN ?", invoiceIDs).
		Order("invoice_id asc, position asc").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		result[line.InvoiceID] = append(result[line.InvoiceID], line)
	}
	return result, nil
}

// ReplaceLines deletes every line of the invoice and writes the new set.
// Callers run it inside the transaction that validated the batch.
func (r *repo) ReplaceLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, lines []domain.LineItem) error {
	conn := db.WithContext(ctx)
	if err := conn.Exec(`DELETE FROM invoice_line_items WHERE invoice_id = ?`, invoiceID).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return conn.Create(&lines).Error
}

func (r *repo) InsertReceipt(ctx context.Context, db *gorm.DB, receipt *domain.DeliveryReceipt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_delivery_receipts (
			id, invoice_id, message_id, accepted, rejected, response, document_sha256, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.ID,
		receipt.InvoiceID,
		receipt.MessageID,
		receipt.Accepted,
		receipt.Rejected,
		receipt.Response,
		receipt.DocumentSHA256,
		receipt.SentAt,
	).Error
}

func (r *repo) ListReceipts(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.DeliveryReceipt, error) {
	var receipts []domain.DeliveryReceipt
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("sent_at desc, id desc").
		Find(&receipts).Error
	if err != nil {
		return nil, err
	}
	return receipts, nil
}
