package render

import (
	"strings"

	"golang.org/x/text/language"
)

type Labels struct {
	Invoice         string
	DeliveryNote    string
	BillTo          string
	Number          string
	IssueDate       string
	DueDate         string
	ClientReference string
	Quantity        string
	SKU             string
	Description     string
	UnitPrice       string
	LineTotal       string
	Subtotal        string
	Tax             string
	Total           string
	Notes           string
	BankDetails     string
	AccountHolder   string
	IBAN            string
	BIC             string
	Contact         string
	TaxID           string
	Continued       string
	Page            string
}

var englishLabels = Labels{
	Invoice:         "Invoice",
	DeliveryNote:    "Delivery note",
	BillTo:          "Bill to",
	Number:          "Invoice no.",
	IssueDate:       "Issue date",
	DueDate:         "Due date",
	ClientReference: "Your reference",
	Quantity:        "Qty",
	SKU:             "SKU",
	Description:     "Description",
	UnitPrice:       "Unit price",
	LineTotal:       "Amount",
	Subtotal:        "Subtotal",
	Tax:             "VAT",
	Total:           "Total",
	Notes:           "Notes",
	BankDetails:     "Bank details",
	AccountHolder:   "Account holder",
	IBAN:            "IBAN",
	BIC:             "BIC",
	Contact:         "Contact",
	TaxID:           "VAT ID",
	Continued:       "(continued)",
	Page:            "Page %d of %d",
}

var germanLabels = Labels{
	Invoice:         "Rechnung",
	DeliveryNote:    "Lieferschein",
	BillTo:          "Rechnungsempfänger",
	Number:          "Rechnungsnr.",
	IssueDate:       "Rechnungsdatum",
	DueDate:         "Fällig am",
	ClientReference: "Ihre Referenz",
	Quantity:        "Menge",
	SKU:             "Art.-Nr.",
	Description:     "Beschreibung",
	UnitPrice:       "Einzelpreis",
	LineTotal:       "Betrag",
	Subtotal:        "Nettobetrag",
	Tax:             "USt.",
	Total:           "Gesamtbetrag",
	Notes:           "Hinweise",
	BankDetails:     "Bankverbindung",
	AccountHolder:   "Kontoinhaber",
	IBAN:            "IBAN",
	BIC:             "BIC",
	Contact:         "Kontakt",
	TaxID:           "USt-IdNr.",
	Continued:       "(Fortsetzung)",
	Page:            "Seite %d von %d",
}

// LabelsFor picks the label set by base language, defaulting to English.
func LabelsFor(locale string) Labels {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return englishLabels
	}
	if base, _ := tag.Base(); base.String() == "de" {
		return germanLabels
	}
	return englishLabels
}

func (l Labels) Title(mode Mode) string {
	if mode.ShowPrices() {
		return l.Invoice
	}
	return l.DeliveryNote
}
