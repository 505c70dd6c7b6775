package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core/entity"
	"github.com/phpdave11/gofpdf"

	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
)

const (
	ptToMM      = 25.4 / 72
	lineSpacing = 1.4
)

// measurer reports text widths in millimetres from the same gofpdf font
// metrics maroto draws with, so a planned line never re-wraps on emit.
// It is not safe for concurrent use; Plan builds one per call.
type measurer struct {
	pdf       *gofpdf.Fpdf
	family    string
	translate func(string) string
}

func newMeasurer(fonts []*entity.CustomFont, family string) (*measurer, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	for _, f := range fonts {
		pdf.AddUTF8FontFromBytes(f.Family, string(f.Style), f.Bytes)
	}

	m := &measurer{pdf: pdf, family: family, translate: func(s string) string { return s }}
	if len(fonts) == 0 {
		// core fonts are drawn in cp1252
		m.translate = pdf.UnicodeTranslatorFromDescriptor("")
	}
	for _, style := range []fontstyle.Type{fontstyle.Normal, fontstyle.Bold} {
		pdf.SetFont(family, string(style), bodySize)
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrFontUnavailable, family, err)
	}
	return m, nil
}

func (m *measurer) width(s string, size float64, bold bool) float64 {
	style := fontstyle.Normal
	if bold {
		style = fontstyle.Bold
	}
	m.pdf.SetFont(m.family, string(style), size)
	return m.pdf.GetStringWidth(m.translate(s))
}

func lineHeight(size float64) float64 {
	return size * ptToMM * lineSpacing
}

// wrap breaks s into lines no wider than maxWidth. Explicit newlines are
// kept; words wider than a line are hard-broken.
func (m *measurer) wrap(s string, maxWidth, size float64, bold bool) []string {
	var lines []string
	for _, paragraph := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := ""
		for _, word := range words {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if m.width(candidate, size, bold) <= maxWidth {
				current = candidate
				continue
			}
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			if m.width(word, size, bold) <= maxWidth {
				current = word
				continue
			}
			pieces := m.hardBreak(word, maxWidth, size, bold)
			lines = append(lines, pieces[:len(pieces)-1]...)
			current = pieces[len(pieces)-1]
		}
		lines = append(lines, current)
	}
	return trimTrailingBlank(lines)
}

func (m *measurer) hardBreak(word string, maxWidth, size float64, bold bool) []string {
	var pieces []string
	for word != "" {
		cut := 0
		for i := range word {
			if i == 0 {
				continue
			}
			if m.width(word[:i], size, bold) > maxWidth {
				break
			}
			cut = i
		}
		if cut == 0 {
			// a single glyph wider than the cell still has to go somewhere
			_, cut = utf8.DecodeRuneInString(word)
		}
		if m.width(word, size, bold) <= maxWidth {
			cut = len(word)
		}
		pieces = append(pieces, word[:cut])
		word = word[cut:]
	}
	return pieces
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
