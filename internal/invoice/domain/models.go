// Package domain contains persistence models and the outward contract of the invoice engine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	clientdomain "github.com/smallbiznis/invoicedesk/internal/client/domain"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusMaker     InvoiceStatus = "maker"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusNotPaid   InvoiceStatus = "not_paid"
	InvoiceStatusCompleted InvoiceStatus = "completed"
)

var AllStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusMaker,
	InvoiceStatusSent,
	InvoiceStatusPaid,
	InvoiceStatusNotPaid,
	InvoiceStatusCompleted,
}

func ParseStatus(raw string) (InvoiceStatus, error) {
	for _, status := range AllStatuses {
		if string(status) == raw {
			return status, nil
		}
	}
	return "", ErrInvalidStatus
}

// Invoice is the persisted header. Totals are derived from the lines on every read.
type Invoice struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	NumberScope     string          `gorm:"type:varchar(96);not null;uniqueIndex:ux_invoices_scope_number,priority:1" json:"number_scope"`
	InvoiceNumber   string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_invoices_scope_number,priority:2" json:"invoice_number"`
	ClientID        snowflake.ID    `gorm:"not null;index" json:"client_id"`
	Status          InvoiceStatus   `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	IssueDate       time.Time       `gorm:"not null" json:"issue_date"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	TaxRate         decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"tax_rate"`
	Notes           string          `gorm:"type:text" json:"notes,omitempty"`
	ClientReference string          `gorm:"type:varchar(64)" json:"client_reference,omitempty"`
	CreatedBy       string          `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// LineKind tags a line as backed by a catalog product or virtual (shipping, fees).
type LineKind string

const (
	LineKindProduct LineKind = "product"
	LineKindVirtual LineKind = "virtual"
)

// LineItem is a priced line. Name, SKU and description are snapshots so later
// catalog edits never change an issued invoice.
type LineItem struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Position    int             `gorm:"not null" json:"position"`
	ProductID   *snowflake.ID   `gorm:"index" json:"product_id,omitempty"`
	SKU         string          `gorm:"type:varchar(64)" json:"sku,omitempty"`
	ProductName string          `gorm:"type:varchar(255)" json:"product_name,omitempty"`
	Description string          `gorm:"type:text" json:"description,omitempty"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }

func (l LineItem) Kind() LineKind {
	if l.ProductID == nil {
		return LineKindVirtual
	}
	return LineKindProduct
}

// Product returns the catalog reference of a product line.
func (l LineItem) Product() (snowflake.ID, bool) {
	if l.ProductID == nil {
		return 0, false
	}
	return *l.ProductID, true
}

// Label is the text printed in the description column.
func (l LineItem) Label() string {
	switch {
	case l.ProductName != "" && l.Description != "":
		return l.ProductName + " - " + l.Description
	case l.ProductName != "":
		return l.ProductName
	default:
		return l.Description
	}
}

// DeliveryReceipt records an accepted dispatch.
type DeliveryReceipt struct {
	ID             snowflake.ID                `gorm:"primaryKey" json:"id"`
	InvoiceID      snowflake.ID                `gorm:"not null;index" json:"invoice_id"`
	MessageID      string                      `gorm:"type:varchar(255);not null" json:"message_id"`
	Accepted       datatypes.JSONSlice[string] `json:"accepted"`
	Rejected       datatypes.JSONSlice[string] `json:"rejected"`
	Response       string                      `gorm:"type:text" json:"response"`
	DocumentSHA256 string                      `gorm:"type:varchar(64)" json:"document_sha256"`
	SentAt         time.Time                   `gorm:"not null" json:"sent_at"`
}

// TableName sets the database table name.
func (DeliveryReceipt) TableName() string { return "invoice_delivery_receipts" }

// NumberCounter backs the atomic numbering strategy, one row per scope.
type NumberCounter struct {
	Scope     string    `gorm:"primaryKey;type:varchar(96)"`
	Value     int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (NumberCounter) TableName() string { return "invoice_counters" }

// InvoiceAggregate is an invoice loaded with its client and ordered lines.
type InvoiceAggregate struct {
	Invoice Invoice
	Client  clientdomain.Client
	Lines   []LineItem
}
