package render

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter prints money, rates and dates for one locale.
type Formatter struct {
	printer    *message.Printer
	currency   string
	dateLayout string
}

func NewFormatter(locale, currency string) Formatter {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.English
	}
	return Formatter{
		printer:    message.NewPrinter(tag),
		currency:   strings.ToUpper(strings.TrimSpace(currency)),
		dateLayout: dateLayoutFor(tag),
	}
}

// dateLayoutFor maps a locale onto a numeric date layout; x/text has no
// date formatting.
func dateLayoutFor(tag language.Tag) string {
	base, _ := tag.Base()
	region, confidence := tag.Region()
	switch base.String() {
	case "de", "da", "fi", "nb", "nn", "no", "pl", "cs", "sk", "ru", "tr":
		return "02.01.2006"
	case "en":
		if confidence == language.Exact && region.String() == "US" {
			return "01/02/2006"
		}
		return "02/01/2006"
	case "fr", "es", "it", "pt", "nl", "el":
		return "02/01/2006"
	default:
		return "2006-01-02"
	}
}

// Money formats d with two decimals, locale grouping and the currency code.
// Digits are taken from the decimal string, so amounts beyond float64
// precision print exactly.
func (f Formatter) Money(d decimal.Decimal) string {
	rounded := d.Round(2)
	whole, frac, _ := strings.Cut(rounded.Abs().StringFixed(2), ".")
	cents, _ := strconv.ParseInt(frac, 10, 64)

	out := f.integer(whole) + f.decimalSeparator() +
		f.printer.Sprintf("%v", number.Decimal(cents, number.MinIntegerDigits(2), number.NoSeparator()))
	if rounded.IsNegative() {
		out = f.symbol(number.Decimal(-1), "", "1", "-") + out
	}
	if f.currency == "" {
		return out
	}
	return out + " " + f.currency
}

// integer groups a run of ASCII digits the way the locale groups int64
// values. Longer runs fall back to groups of three.
func (f Formatter) integer(whole string) string {
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		return f.printer.Sprintf("%v", number.Decimal(n))
	}
	sep := f.symbol(number.Decimal(1000000), "1", "0", ",")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(sep)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (f Formatter) decimalSeparator() string {
	return f.symbol(number.Decimal(1.5, number.Scale(1)), "1", "5", ".")
}

// symbol prints n and returns the text between prefix and the first
// following digit, or fallback when the locale does not print Latin digits.
func (f Formatter) symbol(n number.Formatter, prefix, digit, fallback string) string {
	s, ok := strings.CutPrefix(f.printer.Sprintf("%v", n), prefix)
	if !ok {
		return fallback
	}
	end := strings.Index(s, digit)
	if end <= 0 {
		return fallback
	}
	return s[:end]
}

// Percent drops trailing zeros: 19 -> "19 %", 7.5 -> "7.5 %".
func (f Formatter) Percent(d decimal.Decimal) string {
	value, _ := d.Float64()
	return f.printer.Sprintf("%v", number.Decimal(value, number.MaxFractionDigits(2))) + " %"
}

func (f Formatter) Quantity(q int64) string {
	return f.printer.Sprintf("%v", number.Decimal(q))
}

// Date fails soft: nil or zero renders as an empty string.
func (f Formatter) Date(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(f.dateLayout)
}
