package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	clientdomain "github.com/smallbiznis/invoicedesk/internal/client/domain"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
)

// LineInput is a submitted line. A nil ProductID makes the line virtual.
type LineInput struct {
	ProductID   *string         `json:"product_id,omitempty"`
	SKU         string          `json:"sku,omitempty" validate:"max=64"`
	Name        string          `json:"name,omitempty" validate:"max=255"`
	Description string          `json:"description,omitempty"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type CreateRequest struct {
	ClientID        string          `json:"client_id" validate:"required"`
	IssueDate       *time.Time      `json:"issue_date,omitempty"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	Notes           string          `json:"notes,omitempty"`
	ClientReference string          `json:"client_reference,omitempty" validate:"max=64"`
	Lines           []LineInput     `json:"lines" validate:"dive"`
}

type ReplaceLinesRequest struct {
	InvoiceID string      `json:"-"`
	Lines     []LineInput `json:"lines" validate:"dive"`
	Override  bool        `json:"override"`
	Reason    string      `json:"reason,omitempty"`
}

type TransitionRequest struct {
	InvoiceID string        `json:"-"`
	To        InvoiceStatus `json:"status" validate:"required"`
	Override  bool          `json:"override"`
	Reason    string        `json:"reason,omitempty"`
}

type ListRequest struct {
	pagination.Pagination
	Status   string `form:"status"`
	ClientID string `form:"client_id"`
}

type ListResponse struct {
	pagination.PageInfo
	Invoices []InvoiceView `json:"invoices"`
}

type LineView struct {
	LineItem
	Kind      LineKind        `json:"kind"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// InvoiceView is an invoice with totals computed at read time.
type InvoiceView struct {
	Invoice
	DisplayNumber string              `json:"display_number"`
	Client        clientdomain.Client `json:"client"`
	Lines         []LineView          `json:"lines"`
	Subtotal      decimal.Decimal     `json:"subtotal"`
	TaxAmount     decimal.Decimal     `json:"tax_amount"`
	Total         decimal.Decimal     `json:"total"`
}

type RenderMode string

const (
	RenderModeClient   RenderMode = "client"
	RenderModeInternal RenderMode = "internal"
)

type RenderedDocument struct {
	Bytes       []byte
	Filename    string
	ContentType string
	Pages       int
	SHA256      string
}

type Service interface {
	Create(context.Context, CreateRequest) (InvoiceView, error)
	ReplaceLines(context.Context, ReplaceLinesRequest) (InvoiceView, error)
	Get(ctx context.Context, id string) (InvoiceView, error)
	List(context.Context, ListRequest) (ListResponse, error)
	Transition(context.Context, TransitionRequest) (InvoiceView, error)
	Send(ctx context.Context, id string) (DeliveryReceipt, error)
	Render(ctx context.Context, id string, mode RenderMode) (RenderedDocument, error)
	Receipts(ctx context.Context, id string) ([]DeliveryReceipt, error)
	Delete(ctx context.Context, id string) error
}
