package numbering

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

// FormatNumber renders a display number from a template, the issue date and
// the scope sequence. Supported tokens: {YYYY} {YY} {MM} {DD} {SEQ} {SEQn}.
func FormatNumber(template string, issuedAt time.Time, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	out := template
	out = strings.ReplaceAll(out, "{YYYY}", issuedAt.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", issuedAt.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", issuedAt.Format("01"))
	out = strings.ReplaceAll(out, "{DD}", issuedAt.Format("02"))
	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		return Pad(seq, width)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}

	return out, nil
}

// Display formats a stored number for print. Without a template, or when the
// number is not numeric, the stored number is shown as is.
func Display(template, number string, issuedAt time.Time) string {
	if template == "" {
		return number
	}
	seq, err := strconv.ParseInt(number, 10, 64)
	if err != nil || seq <= 0 {
		return number
	}
	out, err := FormatNumber(template, issuedAt, seq)
	if err != nil {
		return number
	}
	return out
}

// Pad zero-pads value to width; wider values print in full.
func Pad(value int64, width int) string {
	return fmt.Sprintf("%0*d", width, value)
}
