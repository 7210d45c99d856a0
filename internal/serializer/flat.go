package serializer

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

// =============================================================================
// FLAT LAYOUT
// =============================================================================
//
// CSV and XLSX share one layout: a row per line item, with the document and
// party columns repeated on each row. A record without line items still
// produces one row with the line columns left empty.
//
// =============================================================================

// SheetName is the worksheet holding the flat rows.
const SheetName = "Invoices"

type cellKind int

const (
	cellText cellKind = iota
	cellAmount
	cellRate
	cellQuantity
	cellInteger
)

// row is the unit the columns read from. line is nil for line-less records.
type row struct {
	rec  *types.CanonicalRecord
	line *types.LineItem
}

type column struct {
	header string
	kind   cellKind
	text   func(r row) string
	number func(r row) decimal.Decimal
	// line marks columns read from the line item.
	line bool
}

func textCol(header string, fn func(r row) string) column {
	return column{header: header, kind: cellText, text: fn}
}

func lineCol(header string, kind cellKind, fn func(li *types.LineItem) decimal.Decimal) column {
	return column{header: header, kind: kind, line: true, number: func(r row) decimal.Decimal { return fn(r.line) }}
}

func partyCols(prefix string, pick func(h types.Header) types.Party) []column {
	p := func(r row) types.Party { return pick(r.rec.Header) }
	return []column{
		textCol(prefix+"_name", func(r row) string { return p(r).Name }),
		textCol(prefix+"_vat_country", func(r row) string { return p(r).VATCountry }),
		textCol(prefix+"_vat_number", func(r row) string { return p(r).VATNumber }),
		textCol(prefix+"_fiscal_code", func(r row) string { return p(r).FiscalCode }),
		textCol(prefix+"_street", func(r row) string { return p(r).Address.Street }),
		textCol(prefix+"_civic_number", func(r row) string { return p(r).Address.CivicNumber }),
		textCol(prefix+"_postal_code", func(r row) string { return p(r).Address.PostalCode }),
		textCol(prefix+"_city", func(r row) string { return p(r).Address.City }),
		textCol(prefix+"_province", func(r row) string { return p(r).Address.Province }),
		textCol(prefix+"_country", func(r row) string { return p(r).Address.Country }),
	}
}

var columns = buildColumns()

func buildColumns() []column {
	cols := []column{
		textCol("source", func(r row) string { return r.rec.Source }),
		textCol("document_type", func(r row) string { return r.rec.Document.Type }),
		textCol("document_number", func(r row) string { return r.rec.Document.Number }),
		textCol("document_date", func(r row) string { return FormatDate(r.rec.Document.Date) }),
		textCol("currency", func(r row) string { return r.rec.Document.Currency }),
		{header: "document_total", kind: cellAmount, number: func(r row) decimal.Decimal { return r.rec.Document.Total }},
	}
	cols = append(cols, partyCols("supplier", func(h types.Header) types.Party { return h.Supplier })...)
	cols = append(cols, partyCols("customer", func(h types.Header) types.Party { return h.Customer })...)
	cols = append(cols,
		column{header: "line_number", kind: cellInteger, line: true, number: func(r row) decimal.Decimal { return decimal.NewFromInt(int64(r.line.LineNumber)) }},
		column{header: "description", kind: cellText, line: true, text: func(r row) string { return r.line.Description }},
		lineCol("quantity", cellQuantity, func(li *types.LineItem) decimal.Decimal { return li.Quantity }),
		lineCol("unit_price", cellAmount, func(li *types.LineItem) decimal.Decimal { return li.Price }),
		lineCol("line_total", cellAmount, func(li *types.LineItem) decimal.Decimal { return li.Total }),
		lineCol("vat_rate", cellRate, func(li *types.LineItem) decimal.Decimal { return li.VATRate }),
		column{header: "vat_nature", kind: cellText, line: true, text: func(r row) string { return r.line.VATNature }},
		textCol("warnings", func(r row) string { return warningCodes(r.rec.Warnings) }),
	)
	return cols
}

// value renders a cell as text; line columns are empty on line-less rows.
func (c column) value(r row) string {
	if r.line == nil && c.line {
		return ""
	}
	if c.kind == cellText {
		return c.text(r)
	}
	d := c.number(r)
	switch c.kind {
	case cellRate:
		return FormatRate(d)
	case cellQuantity:
		return FormatExact(d)
	case cellInteger:
		return d.String()
	default:
		return FormatAmount(d)
	}
}

func warningCodes(ws []types.Warning) string {
	codes := make([]string, 0, len(ws))
	for _, w := range ws {
		if w.LineNumber > 0 {
			codes = append(codes, w.Code+"@"+strconv.Itoa(w.LineNumber))
			continue
		}
		codes = append(codes, w.Code)
	}
	return strings.Join(codes, ";")
}

// Headers returns the flat column names in order.
func Headers() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.header
	}
	return out
}

func rows(records []types.CanonicalRecord) []row {
	var out []row
	for i := range records {
		rec := &records[i]
		if len(rec.LineItems) == 0 {
			out = append(out, row{rec: rec})
			continue
		}
		for j := range rec.LineItems {
			out = append(out, row{rec: rec, line: &rec.LineItems[j]})
		}
	}
	return out
}

// =============================================================================
// CSV
// =============================================================================

// EncodeCSV renders the flat layout as RFC 4180 CSV with a header row.
func EncodeCSV(records []types.CanonicalRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Headers()); err != nil {
		return nil, errors.Wrap(err, "write csv header")
	}
	cells := make([]string, len(columns))
	for _, r := range rows(records) {
		for i, c := range columns {
			cells[i] = c.value(r)
		}
		if err := w.Write(cells); err != nil {
			return nil, errors.Wrapf(err, "write csv row for %s", r.rec.Source)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "flush csv")
	}
	return buf.Bytes(), nil
}

// =============================================================================
// XLSX
// =============================================================================

// EncodeXLSX renders the flat layout as a workbook with one sheet. Numeric
// columns are written as numbers with a fixed display format.
func EncodeXLSX(records []types.CanonicalRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, errors.Wrap(err, "rename sheet")
	}
	index, err := f.GetSheetIndex(SheetName)
	if err != nil {
		return nil, errors.Wrap(err, "locate sheet")
	}
	f.SetActiveSheet(index)

	styles, err := numberStyles(f)
	if err != nil {
		return nil, err
	}

	for i, c := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, c.header); err != nil {
			return nil, errors.Wrapf(err, "write header %s", c.header)
		}
	}

	for n, r := range rows(records) {
		line := n + 2
		for i, c := range columns {
			cell, _ := excelize.CoordinatesToCellName(i+1, line)
			if err := writeCell(f, cell, c, r, styles); err != nil {
				return nil, errors.Wrapf(err, "write %s", cell)
			}
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 28)
	_ = f.SetColWidth(SheetName, "B", "F", 16)
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "write workbook")
	}
	return buf.Bytes(), nil
}

func writeCell(f *excelize.File, cell string, c column, r row, styles map[cellKind]int) error {
	if c.kind == cellText || (r.line == nil && c.line) {
		return f.SetCellValue(SheetName, cell, c.value(r))
	}
	d := c.number(r)
	if c.kind == cellInteger {
		return f.SetCellValue(SheetName, cell, int(d.IntPart()))
	}
	if err := f.SetCellValue(SheetName, cell, d.InexactFloat64()); err != nil {
		return err
	}
	if id, ok := styles[c.kind]; ok {
		return f.SetCellStyle(SheetName, cell, cell, id)
	}
	return nil
}

// numberStyles registers the display formats: 0.00 for amounts and
// quantities, 0.0 for rates.
func numberStyles(f *excelize.File) (map[cellKind]int, error) {
	twoDP, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return nil, errors.Wrap(err, "register amount style")
	}
	oneDP := "0.0"
	rate, err := f.NewStyle(&excelize.Style{CustomNumFmt: &oneDP})
	if err != nil {
		return nil, errors.Wrap(err, "register rate style")
	}
	return map[cellKind]int{cellAmount: twoDP, cellQuantity: twoDP, cellRate: rate}, nil
}
