// =============================================================================
// FatturaPA Extractor - Serializer
// =============================================================================
//
// Renders canonical records. Rendering is deterministic: the same records
// always produce the same bytes.
//
// NUMBER FORMATTING (all formats):
//   amounts   2 decimals         20.00
//   VAT rate  1 decimal          22.0
//   quantity  exact, >= 2 dec.   1.50, 0.125
//   dates     ISO-8601           2024-03-15, "" when absent
//
// Errors are never part of the data output; see ErrorReport.
//
// =============================================================================

package serializer

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

// Format is an output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Formats lists the supported formats.
var Formats = []Format{FormatJSON, FormatCSV, FormatXLSX}

// ErrUnknownFormat is returned for formats outside Formats.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat accepts a format name in any case.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownFormat, "%q", name)
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string { return string(f) }

// ContentType returns the MIME type used for downloads.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json; charset=utf-8"
	}
}

// Options controls rendering.
type Options struct {
	// Single renders a lone record as an object instead of an array.
	Single bool
	// Indent pretty-prints JSON.
	Indent bool
}

// Serialize renders records in format f.
func Serialize(records []types.CanonicalRecord, f Format, opts Options) ([]byte, error) {
	switch f {
	case FormatJSON:
		return EncodeJSON(records, opts)
	case FormatCSV:
		return EncodeCSV(records)
	case FormatXLSX:
		return EncodeXLSX(records)
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", string(f))
	}
}

// =============================================================================
// NUMBER AND DATE FORMATTING
// =============================================================================

// DateLayout is the ISO-8601 calendar date layout.
const DateLayout = "2006-01-02"

// FormatAmount renders a monetary amount with two decimals. Flat formats use
// it; JSON keeps the source precision with FormatExact.
func FormatAmount(d decimal.Decimal) string { return d.StringFixed(2) }

// FormatRate renders a VAT rate with one decimal.
func FormatRate(d decimal.Decimal) string { return d.StringFixed(1) }

// FormatExact renders d without rounding, padded to two decimals.
func FormatExact(d decimal.Decimal) string {
	s := d.String()
	if i := strings.IndexByte(s, '.'); i < 0 || len(s)-i-1 < 2 {
		return d.StringFixed(2)
	}
	return s
}

// FormatDate renders t as YYYY-MM-DD, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
