package render

import (
	"fmt"
	"math"
)

// Geometry is the page box in millimetres.
type Geometry struct {
	PageWidth    float64
	PageHeight   float64
	MarginLeft   float64
	MarginRight  float64
	MarginTop    float64
	MarginBottom float64
}

// safetyMargin keeps planned pages strictly inside the printable area so the
// emitter never triggers an automatic page break.
const safetyMargin = 1.0

func A4() Geometry {
	return Geometry{
		PageWidth:    210,
		PageHeight:   297,
		MarginLeft:   15,
		MarginRight:  15,
		MarginTop:    15,
		MarginBottom: 20,
	}
}

func (g Geometry) UsableWidth() float64 {
	return g.PageWidth - g.MarginLeft - g.MarginRight
}

func (g Geometry) UsableHeight() float64 {
	return g.PageHeight - g.MarginTop - g.MarginBottom - safetyMargin
}

// GridSize is the column grid: one unit per whole millimetre.
func (g Geometry) GridSize() int {
	return int(math.Floor(g.UsableWidth()))
}

type ColumnKey string

const (
	ColumnQuantity    ColumnKey = "quantity"
	ColumnSKU         ColumnKey = "sku"
	ColumnDescription ColumnKey = "description"
	ColumnUnitPrice   ColumnKey = "unit_price"
	ColumnLineTotal   ColumnKey = "line_total"
)

type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

type Column struct {
	Key   ColumnKey
	Width int
	Align Align
}

const (
	minDescriptionWidth = 50
	minFixedWidth       = 8
)

var fixedColumns = map[ColumnKey]int{
	ColumnQuantity:  15,
	ColumnSKU:       25,
	ColumnUnitPrice: 28,
	ColumnLineTotal: 30,
}

// Columns lays out the table across grid millimetres. Fixed columns keep
// their widths and description takes the rest; if that leaves description
// under its minimum the fixed columns shrink proportionally.
func Columns(mode Mode, grid int) ([]Column, error) {
	keys := []ColumnKey{ColumnQuantity, ColumnSKU}
	if mode.ShowPrices() {
		keys = append(keys, ColumnUnitPrice, ColumnLineTotal)
	}
	if grid < minDescriptionWidth+len(keys)*minFixedWidth {
		return nil, fmt.Errorf("page too narrow for table: %d mm", grid)
	}

	fixedSum := 0
	for _, key := range keys {
		fixedSum += fixedColumns[key]
	}

	widths := make(map[ColumnKey]int, len(keys))
	available := grid - minDescriptionWidth
	for _, key := range keys {
		w := fixedColumns[key]
		if fixedSum > available {
			w = int(math.Floor(float64(w) * float64(available) / float64(fixedSum)))
			if w < minFixedWidth {
				w = minFixedWidth
			}
		}
		widths[key] = w
	}

	used := 0
	for _, w := range widths {
		used += w
	}

	columns := []Column{
		{Key: ColumnQuantity, Width: widths[ColumnQuantity], Align: AlignRight},
		{Key: ColumnSKU, Width: widths[ColumnSKU], Align: AlignLeft},
		{Key: ColumnDescription, Width: grid - used, Align: AlignLeft},
	}
	if mode.ShowPrices() {
		columns = append(columns,
			Column{Key: ColumnUnitPrice, Width: widths[ColumnUnitPrice], Align: AlignRight},
			Column{Key: ColumnLineTotal, Width: widths[ColumnLineTotal], Align: AlignRight},
		)
	}
	return columns, nil
}
