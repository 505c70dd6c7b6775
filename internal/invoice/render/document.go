package render

import (
	"time"

	"github.com/shopspring/decimal"
)

type Mode int

const (
	// ClientFacing prints prices and the totals block.
	ClientFacing Mode = iota
	// Internal is the price-less delivery note.
	Internal
)

func (m Mode) ShowPrices() bool { return m == ClientFacing }

func (m Mode) String() string {
	if m == Internal {
		return "internal"
	}
	return "client"
}

// Document is a fully computed invoice ready for layout. Amounts are final;
// the renderer formats, it never calculates.
type Document struct {
	Number          string     `json:"number"`
	IssueDate       time.Time  `json:"issue_date"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	ClientReference string     `json:"client_reference,omitempty"`

	Seller    Seller    `json:"seller"`
	Recipient Recipient `json:"recipient"`
	Bank      Bank      `json:"bank"`
	Signature []string  `json:"signature,omitempty"`

	Lines     []Line          `json:"lines"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
	Notes     string          `json:"notes,omitempty"`

	Locale   string `json:"locale"`
	Currency string `json:"currency"`
	Logo     *Logo  `json:"logo,omitempty"`
	Font     Font   `json:"font"`
}

type Seller struct {
	Name    string   `json:"name"`
	Address []string `json:"address,omitempty"`
	Email   string   `json:"email,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Website string   `json:"website,omitempty"`
	TaxID   string   `json:"tax_id,omitempty"`
}

type Recipient struct {
	Name    string   `json:"name"`
	Company string   `json:"company,omitempty"`
	Address []string `json:"address,omitempty"`
	Email   string   `json:"email,omitempty"`
}

type Bank struct {
	AccountHolder string `json:"account_holder,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	IBAN          string `json:"iban,omitempty"`
	BIC           string `json:"bic,omitempty"`
}

type Line struct {
	Quantity    int64           `json:"quantity"`
	SKU         string          `json:"sku,omitempty"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

// Font names UTF-8 TTF files; an empty Family keeps built-in Helvetica.
type Font struct {
	Family  string `json:"family,omitempty"`
	Regular string `json:"regular,omitempty"`
	Bold    string `json:"bold,omitempty"`
}

// Output is a finished render.
type Output struct {
	Bytes    []byte
	Filename string
	Pages    int
}
