package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/johnfercher/maroto/v2/pkg/core/entity"
)

const (
	bodySize    = 9.0
	smallSize   = 8.0
	titleSize   = 18.0
	companySize = 16.0
	totalsSize  = 10.0

	cellPadX         = 1.5
	cellPadY         = 1.5
	sectionGap       = 6.0
	smallGap         = 3.0
	logoHeight       = 20.0
	pageNumberHeight = 6.0
	minRowHeight     = 7.0

	totalsLabelWidth = 40
	totalsValueWidth = 38

	epsilon = 1e-6
)

type BlockKind string

const (
	BlockLetterhead  BlockKind = "letterhead"
	BlockTitle       BlockKind = "title"
	BlockParties     BlockKind = "parties"
	BlockTableHeader BlockKind = "table_header"
	BlockRow         BlockKind = "row"
	BlockTotals      BlockKind = "totals"
	BlockNotes       BlockKind = "notes"
	BlockFooter      BlockKind = "footer"
	BlockPageNumber  BlockKind = "page_number"
)

type TextLine struct {
	Text string
	Bold bool
}

// Cell is one grid column of a block. A cell holds either text lines or an image.
type Cell struct {
	Width int
	Lines []TextLine
	Size  float64
	Align Align
	Image *Logo
}

func (c Cell) height() float64 {
	if c.Image != nil {
		return logoHeight
	}
	if len(c.Lines) == 0 {
		return 0
	}
	return 2*cellPadY + float64(len(c.Lines))*lineHeight(c.Size)
}

// Block is a placed horizontal band. Y is relative to the top margin.
type Block struct {
	Kind      BlockKind
	Y         float64
	Height    float64
	Cells     []Cell
	Shaded    bool
	Continued bool
	Row       int
}

func (b Block) Bottom() float64 { return b.Y + b.Height }

type Page struct {
	Number int
	Blocks []Block
}

// Layout is the result of planning: pages of blocks with final positions.
type Layout struct {
	Geometry Geometry
	Grid     int
	Columns  []Column
	Title    string
	Pages    []Page

	fonts  []*entity.CustomFont
	family string
}

// ContentLimit is the lowest y a content block may reach; the page number
// band sits below it.
func (l Layout) ContentLimit() float64 {
	return l.Geometry.UsableHeight() - pageNumberHeight
}

type planner struct {
	doc     Document
	mode    Mode
	grid    int
	columns []Column
	labels  Labels
	format  Formatter
	measure *measurer
}

// Plan paginates doc. The same input always yields the same layout. A
// configured font that cannot be loaded fails with domain.ErrFontUnavailable.
func Plan(doc Document, mode Mode, geometry Geometry) (Layout, error) {
	grid := geometry.GridSize()
	columns, err := Columns(mode, grid)
	if err != nil {
		return Layout{}, err
	}
	limit := geometry.UsableHeight() - pageNumberHeight
	if limit < 60 {
		return Layout{}, fmt.Errorf("page too short for layout: %.1f mm", limit)
	}

	fonts, family, err := loadFonts(doc.Font)
	if err != nil {
		return Layout{}, err
	}
	measure, err := newMeasurer(fonts, family)
	if err != nil {
		return Layout{}, err
	}

	p := planner{
		doc:     doc,
		mode:    mode,
		grid:    grid,
		columns: columns,
		labels:  LabelsFor(doc.Locale),
		format:  NewFormatter(doc.Locale, doc.Currency),
		measure: measure,
	}

	pg := &pager{limit: limit}
	pg.newPage()

	pg.keep(p.letterhead())
	pg.gap(smallGap)
	pg.keep(p.title())
	pg.gap(smallGap)
	pg.keep(p.parties())
	pg.gap(sectionGap)

	header := p.tableHeader()
	rows := p.rows(limit - header.Height)
	needHeader := true
	for _, row := range rows {
		need := row.Height
		if needHeader {
			need += header.Height
		}
		if !pg.fits(need) {
			pg.newPage()
			needHeader = true
		}
		if needHeader {
			pg.place(header)
			needHeader = false
		}
		pg.place(row)
	}
	if len(rows) == 0 {
		pg.keep(header)
	}

	if mode.ShowPrices() {
		pg.gap(smallGap)
		pg.keep(p.totals())
	}

	if notes := p.notes(limit); len(notes) > 0 {
		pg.gap(sectionGap)
		for _, chunk := range notes {
			pg.keep(chunk)
		}
	}

	if footer, ok := p.footer(); ok {
		pg.gap(sectionGap)
		pg.keep(footer)
	}

	total := len(pg.pages)
	for i := range pg.pages {
		pg.pages[i].Blocks = append(pg.pages[i].Blocks, p.pageNumber(i+1, total, limit))
	}

	return Layout{
		Geometry: geometry,
		Grid:     grid,
		Columns:  columns,
		Title:    p.labels.Title(mode),
		Pages:    pg.pages,
		fonts:    fonts,
		family:   family,
	}, nil
}

type pager struct {
	limit float64
	y     float64
	pages []Page
}

func (pg *pager) newPage() {
	pg.pages = append(pg.pages, Page{Number: len(pg.pages) + 1})
	pg.y = 0
}

func (pg *pager) fits(h float64) bool {
	return pg.y+h <= pg.limit+epsilon
}

func (pg *pager) place(b Block) {
	b.Y = pg.y
	current := &pg.pages[len(pg.pages)-1]
	current.Blocks = append(current.Blocks, b)
	pg.y += b.Height
}

// keep places b whole, starting a new page when it would cross the limit.
func (pg *pager) keep(b Block) {
	if !pg.fits(b.Height) && pg.y > 0 {
		pg.newPage()
	}
	pg.place(b)
}

// gap adds vertical space; it is dropped at the top of a page.
func (pg *pager) gap(h float64) {
	if pg.y == 0 {
		return
	}
	pg.y = math.Min(pg.y+h, pg.limit)
}

func (p planner) textCell(width int, size float64, align Align, lines ...TextLine) Cell {
	maxWidth := float64(width) - 2*cellPadX
	wrapped := make([]TextLine, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line.Text) == "" {
			continue
		}
		for _, text := range p.measure.wrap(line.Text, maxWidth, size, line.Bold) {
			wrapped = append(wrapped, TextLine{Text: text, Bold: line.Bold})
		}
	}
	return Cell{Width: width, Lines: wrapped, Size: size, Align: align}
}

func block(kind BlockKind, minHeight float64, cells ...Cell) Block {
	h := minHeight
	for _, c := range cells {
		h = math.Max(h, c.height())
	}
	return Block{Kind: kind, Height: h, Cells: cells}
}

func (p planner) letterhead() Block {
	left := p.grid / 2
	right := p.grid - left

	var identity Cell
	if p.doc.Logo != nil {
		identity = Cell{Width: left, Image: p.doc.Logo}
	} else {
		identity = p.textCell(left, companySize, AlignLeft, TextLine{Text: p.doc.Seller.Name, Bold: true})
	}

	seller := p.doc.Seller
	contact := make([]TextLine, 0, len(seller.Address)+4)
	for _, line := range seller.Address {
		contact = append(contact, TextLine{Text: line})
	}
	contact = append(contact,
		TextLine{Text: seller.Email},
		TextLine{Text: seller.Phone},
		TextLine{Text: seller.Website},
	)
	if seller.TaxID != "" {
		contact = append(contact, TextLine{Text: p.labels.TaxID + ": " + seller.TaxID})
	}

	return block(BlockLetterhead, 0, identity, p.textCell(right, smallSize, AlignRight, contact...))
}

func (p planner) title() Block {
	return block(BlockTitle, 0, p.textCell(p.grid, titleSize, AlignLeft, TextLine{Text: p.labels.Title(p.mode), Bold: true}))
}

func (p planner) parties() Block {
	left := p.grid / 2
	right := p.grid - left

	r := p.doc.Recipient
	recipient := []TextLine{{Text: p.labels.BillTo, Bold: true}}
	if r.Company != "" && r.Company != r.Name {
		recipient = append(recipient, TextLine{Text: r.Company})
	}
	recipient = append(recipient, TextLine{Text: r.Name})
	for _, line := range r.Address {
		recipient = append(recipient, TextLine{Text: line})
	}
	recipient = append(recipient, TextLine{Text: r.Email})

	meta := []TextLine{
		{Text: p.labels.Number + ": " + p.doc.Number, Bold: true},
		{Text: p.labeled(p.labels.IssueDate, p.format.Date(&p.doc.IssueDate))},
		{Text: p.labeled(p.labels.DueDate, p.format.Date(p.doc.DueDate))},
		{Text: p.labeled(p.labels.ClientReference, p.doc.ClientReference)},
	}

	return block(BlockParties, 0,
		p.textCell(left, bodySize, AlignLeft, recipient...),
		p.textCell(right, bodySize, AlignRight, meta...),
	)
}

func (p planner) labeled(label, value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return label + ": " + value
}

func (p planner) columnLabel(key ColumnKey) string {
	switch key {
	case ColumnQuantity:
		return p.labels.Quantity
	case ColumnSKU:
		return p.labels.SKU
	case ColumnDescription:
		return p.labels.Description
	case ColumnUnitPrice:
		return p.labels.UnitPrice
	default:
		return p.labels.LineTotal
	}
}

func (p planner) tableHeader() Block {
	cells := make([]Cell, len(p.columns))
	for i, col := range p.columns {
		cells[i] = p.textCell(col.Width, bodySize, col.Align, TextLine{Text: p.columnLabel(col.Key), Bold: true})
	}
	b := block(BlockTableHeader, minRowHeight, cells...)
	b.Shaded = true
	return b
}

func (p planner) cellText(key ColumnKey, line Line) string {
	switch key {
	case ColumnQuantity:
		return p.format.Quantity(line.Quantity)
	case ColumnSKU:
		return line.SKU
	case ColumnDescription:
		return line.Description
	case ColumnUnitPrice:
		return p.format.Money(line.UnitPrice)
	default:
		return p.format.Money(line.Total)
	}
}

// rows builds one block per line. A line taller than maxHeight is split into
// continuation blocks so no single block exceeds a page; each continuation
// repeats the continued label above its description.
func (p planner) rows(maxHeight float64) []Block {
	perBlock := linesPerBlock(maxHeight)

	var out []Block
	for i, line := range p.doc.Lines {
		cells := make([]Cell, len(p.columns))
		longest := 0
		for c, col := range p.columns {
			cells[c] = p.textCell(col.Width, bodySize, col.Align, TextLine{Text: p.cellText(col.Key, line)})
			longest = max(longest, len(cells[c].Lines))
		}

		for chunk, span := range chunkSpans(longest, perBlock) {
			part := make([]Cell, len(cells))
			for c, cell := range cells {
				part[c] = Cell{Width: cell.Width, Size: cell.Size, Align: cell.Align}
				if chunk > 0 && p.columns[c].Key == ColumnDescription {
					part[c].Lines = append(part[c].Lines, TextLine{Text: p.labels.Continued})
				}
				if span.from < len(cell.Lines) {
					part[c].Lines = append(part[c].Lines, cell.Lines[span.from:min(span.to, len(cell.Lines))]...)
				}
			}
			b := block(BlockRow, minRowHeight, part...)
			b.Row = i
			b.Shaded = i%2 == 1
			b.Continued = chunk > 0
			out = append(out, b)
		}
	}
	return out
}

type lineSpan struct{ from, to int }

// chunkSpans splits n lines into blocks of at most perBlock lines, keeping
// one line free on every block after the first for the continued label.
func chunkSpans(n, perBlock int) []lineSpan {
	if n <= perBlock {
		return []lineSpan{{0, n}}
	}
	rest := perBlock - 1
	spans := []lineSpan{{0, perBlock}}
	for from := perBlock; from < n; from += rest {
		spans = append(spans, lineSpan{from, min(from+rest, n)})
	}
	return spans
}

// linesPerBlock is at least two: a continuation holds the label plus one line.
func linesPerBlock(maxHeight float64) int {
	return max(int(math.Floor((maxHeight-2*cellPadY+epsilon)/lineHeight(bodySize))), 2)
}

func (p planner) totals() Block {
	valueWidth := totalsValueWidth
	labelWidth := totalsLabelWidth
	spacer := p.grid - labelWidth - valueWidth

	labels := p.textCell(labelWidth, totalsSize, AlignLeft,
		TextLine{Text: p.labels.Subtotal},
		TextLine{Text: p.labels.Tax + " " + p.format.Percent(p.doc.TaxRate)},
		TextLine{Text: p.labels.Total, Bold: true},
	)
	values := p.textCell(valueWidth, totalsSize, AlignRight,
		TextLine{Text: p.format.Money(p.doc.Subtotal)},
		TextLine{Text: p.format.Money(p.doc.TaxAmount)},
		TextLine{Text: p.format.Money(p.doc.Total), Bold: true},
	)
	return block(BlockTotals, 0, Cell{Width: spacer}, labels, values)
}

// notes may span pages; it is chunked to fit an empty page each, and every
// chunk after the first opens with the continued label.
func (p planner) notes(limit float64) []Block {
	if strings.TrimSpace(p.doc.Notes) == "" {
		return nil
	}
	cell := p.textCell(p.grid, bodySize, AlignLeft,
		TextLine{Text: p.labels.Notes, Bold: true},
		TextLine{Text: p.doc.Notes},
	)

	var out []Block
	for chunk, span := range chunkSpans(len(cell.Lines), linesPerBlock(limit)) {
		part := Cell{Width: cell.Width, Size: cell.Size, Align: cell.Align}
		if chunk > 0 {
			part.Lines = append(part.Lines, TextLine{Text: p.labels.Notes + " " + p.labels.Continued, Bold: true})
		}
		part.Lines = append(part.Lines, cell.Lines[span.from:span.to]...)
		b := block(BlockNotes, 0, part)
		b.Continued = chunk > 0
		out = append(out, b)
	}
	return out
}

func (p planner) footer() (Block, bool) {
	width := p.grid / 3
	last := p.grid - 2*width

	bank := p.doc.Bank
	bankLines := []TextLine{
		{Text: p.labels.BankDetails, Bold: true},
		{Text: p.labeled(p.labels.AccountHolder, bank.AccountHolder)},
		{Text: bank.BankName},
		{Text: p.labeled(p.labels.IBAN, bank.IBAN)},
		{Text: p.labeled(p.labels.BIC, bank.BIC)},
	}
	if bank == (Bank{}) {
		bankLines = nil
	}

	seller := p.doc.Seller
	contactLines := []TextLine{
		{Text: p.labels.Contact, Bold: true},
		{Text: seller.Name},
		{Text: seller.Email},
		{Text: seller.Phone},
		{Text: seller.Website},
	}

	signature := make([]TextLine, 0, len(p.doc.Signature)+1)
	for _, line := range p.doc.Signature {
		signature = append(signature, TextLine{Text: line})
	}
	if len(signature) > 0 {
		signature = append(signature, TextLine{Text: seller.Name, Bold: true})
	}

	b := block(BlockFooter, 0,
		p.textCell(width, smallSize, AlignLeft, bankLines...),
		p.textCell(width, smallSize, AlignLeft, contactLines...),
		p.textCell(last, smallSize, AlignRight, signature...),
	)
	return b, b.Height > 0
}

func (p planner) pageNumber(current, total int, limit float64) Block {
	b := block(BlockPageNumber, pageNumberHeight,
		Cell{Width: p.grid, Size: smallSize, Align: AlignRight, Lines: []TextLine{{Text: fmt.Sprintf(p.labels.Page, current, total)}}},
	)
	b.Height = pageNumberHeight
	b.Y = limit
	return b
}
