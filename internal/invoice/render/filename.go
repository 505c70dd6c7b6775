package render

import (
	"strings"

	"github.com/gosimple/slug"
)

// Filename is invoice-<number>-<client>.pdf; internal renders get a
// -no-prices suffix so both variants can sit in one folder.
func Filename(number, client string, mode Mode) string {
	parts := []string{"invoice"}
	if s := slug.Make(number); s != "" {
		parts = append(parts, s)
	}
	if s := slug.Make(client); s != "" {
		parts = append(parts, s)
	}
	if !mode.ShowPrices() {
		parts = append(parts, "no-prices")
	}
	return strings.Join(parts, "-") + ".pdf"
}
