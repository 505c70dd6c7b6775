package render

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/page"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontfamily"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/core/entity"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/johnfercher/maroto/v2/pkg/repository"
	"github.com/phpdave11/gofpdf"

	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
)

// Resource catalogs are otherwise written in map order and ModDate from the
// wall clock. With both pinned, identical input yields identical bytes.
// CreationDate is set per document from its issue date.
func init() {
	gofpdf.SetDefaultCatalogSort(true)
	gofpdf.SetDefaultModificationDate(time.Unix(0, 0).UTC())
}

var (
	headerShade = &props.Color{Red: 220, Green: 220, Blue: 220}
	rowShade    = &props.Color{Red: 245, Green: 245, Blue: 245}
)

// loadFonts resolves the custom font family. A configured family that cannot
// be loaded is an error; it never silently falls back.
func loadFonts(font Font) ([]*entity.CustomFont, string, error) {
	family := strings.TrimSpace(font.Family)
	if family == "" {
		return nil, fontfamily.Helvetica, nil
	}
	for _, path := range []string{font.Regular, font.Bold} {
		if _, err := os.Stat(path); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", domain.ErrFontUnavailable, family, err)
		}
	}
	fonts, err := repository.New().
		AddUTF8Font(family, fontstyle.Normal, font.Regular).
		AddUTF8Font(family, fontstyle.Bold, font.Bold).
		Load()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", domain.ErrFontUnavailable, family, err)
	}
	return fonts, family, nil
}

func buildConfig(layout Layout, doc Document, fonts []*entity.CustomFont, family string) *entity.Config {
	g := layout.Geometry
	builder := config.NewBuilder().
		WithDimensions(g.PageWidth, g.PageHeight).
		WithLeftMargin(g.MarginLeft).
		WithTopMargin(g.MarginTop).
		WithRightMargin(g.MarginRight).
		WithBottomMargin(g.MarginBottom).
		WithMaxGridSize(layout.Grid).
		WithCompression(true).
		WithCreationDate(doc.IssueDate.UTC()).
		WithTitle(layout.Title+" "+doc.Number, true).
		WithAuthor(doc.Seller.Name, true).
		WithDefaultFont(&props.Font{Family: family, Size: bodySize})
	if len(fonts) > 0 {
		builder = builder.WithCustomFonts(fonts)
	}
	return builder.Build()
}

// emit draws a planned layout. Every block already has its final position so
// the only work left is translating cells into maroto components.
func emit(layout Layout, doc Document) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrRenderFailed, r)
		}
	}()

	m := maroto.New(buildConfig(layout, doc, layout.fonts, layout.family))
	for _, p := range layout.Pages {
		m.AddPages(emitPage(layout, p, layout.family))
	}

	generated, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRenderFailed, err)
	}
	data := generated.GetBytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", domain.ErrRenderFailed)
	}
	return data, nil
}

func emitPage(layout Layout, p Page, family string) core.Page {
	rows := make([]core.Row, 0, 2*len(p.Blocks))
	cursor := 0.0
	for _, b := range p.Blocks {
		if gap := b.Y - cursor; gap > epsilon {
			rows = append(rows, row.New(gap).Add(col.New(layout.Grid)))
		}
		rows = append(rows, emitBlock(b, family))
		cursor = b.Bottom()
	}
	return page.New().Add(rows...)
}

func emitBlock(b Block, family string) core.Row {
	cols := make([]core.Col, 0, len(b.Cells))
	for _, c := range b.Cells {
		cols = append(cols, emitCell(c, family))
	}
	r := row.New(b.Height).Add(cols...)
	switch {
	case b.Kind == BlockTableHeader:
		r = r.WithStyle(&props.Cell{BackgroundColor: headerShade})
	case b.Shaded:
		r = r.WithStyle(&props.Cell{BackgroundColor: rowShade})
	}
	return r
}

func emitCell(c Cell, family string) core.Col {
	column := col.New(c.Width)
	if c.Image != nil {
		return column.Add(image.NewFromBytes(c.Image.Bytes, c.Image.Extension, props.Rect{Percent: 100}))
	}
	for i, line := range c.Lines {
		style := fontstyle.Normal
		if line.Bold {
			style = fontstyle.Bold
		}
		column = column.Add(text.New(line.Text, props.Text{
			Top:    cellPadY + float64(i)*lineHeight(c.Size),
			Left:   cellPadX,
			Right:  cellPadX,
			Family: family,
			Style:  style,
			Size:   c.Size,
			Align:  toAlign(c.Align),
		}))
	}
	return column
}

func toAlign(a Align) align.Type {
	switch a {
	case AlignRight:
		return align.Right
	case AlignCenter:
		return align.Center
	default:
		return align.Left
	}
}

func isRenderError(err error) bool {
	return errors.Is(err, domain.ErrRenderFailed) || errors.Is(err, domain.ErrFontUnavailable)
}
