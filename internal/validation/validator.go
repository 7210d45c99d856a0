// =============================================================================
// FatturaPA Extractor - Consistency Checks
// =============================================================================
//
// Checks run on a mapped record before it is published to the batch:
//
//   1. Line-level: quantity * price must match the line total within the
//      tolerance. A mismatch is a warning, never an error.
//   2. Numbering: line numbers must be strictly increasing. A violation is
//      a SchemaError on NumeroLinea.
//   3. Document-level: taxable + tax of the VAT summary must match the
//      declared document total within the tolerance. Warning only.
//
// =============================================================================

package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

// DefaultTolerance is the largest accepted difference between a computed
// and a declared amount.
var DefaultTolerance = decimal.New(1, -2)

// Validator applies the consistency checks with a fixed tolerance.
type Validator struct {
	tolerance decimal.Decimal
}

// New returns a validator. A non-positive tolerance selects
// DefaultTolerance.
func New(tolerance decimal.Decimal) *Validator {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	return &Validator{tolerance: tolerance}
}

// Tolerance returns the tolerance in use.
func (v *Validator) Tolerance() decimal.Decimal { return v.tolerance }

// Check runs every check on rec and returns a copy carrying the extra
// warnings. rec itself is not modified.
func (v *Validator) Check(rec types.CanonicalRecord) (types.CanonicalRecord, error) {
	lineWarnings, err := CheckLines(rec.LineItems, v.tolerance)
	if err != nil {
		return types.CanonicalRecord{}, err
	}
	docWarnings := CheckDocument(rec, v.tolerance)
	if len(lineWarnings)+len(docWarnings) == 0 {
		return rec, nil
	}

	warnings := make([]types.Warning, 0, len(rec.Warnings)+len(lineWarnings)+len(docWarnings))
	warnings = append(warnings, rec.Warnings...)
	warnings = append(warnings, lineWarnings...)
	warnings = append(warnings, docWarnings...)
	rec.Warnings = warnings
	return rec, nil
}

// CheckLines verifies line arithmetic and numbering.
func CheckLines(items []types.LineItem, tolerance decimal.Decimal) ([]types.Warning, error) {
	var warnings []types.Warning
	prev := 0
	for _, item := range items {
		if item.LineNumber <= prev {
			return nil, &types.SchemaError{
				Field:  "NumeroLinea",
				Raw:    fmt.Sprint(item.LineNumber),
				Reason: fmt.Sprintf("line numbers must be strictly increasing (previous %d)", prev),
			}
		}
		prev = item.LineNumber

		expected := item.Quantity.Mul(item.Price)
		if diff := expected.Sub(item.Total).Abs(); diff.GreaterThan(tolerance) {
			warnings = append(warnings, types.Warning{
				LineNumber: item.LineNumber,
				Code:       types.WarnTotalMismatch,
				Message: fmt.Sprintf("quantity %s x price %s = %s, declared total %s",
					item.Quantity, item.Price, expected, item.Total),
			})
		}
	}
	return warnings, nil
}

// CheckDocument compares the VAT summary with the declared document total.
// It is skipped when either side is absent; a zero total counts as absent.
func CheckDocument(rec types.CanonicalRecord, tolerance decimal.Decimal) []types.Warning {
	if len(rec.TaxSummary) == 0 || rec.Document.Total.IsZero() {
		return nil
	}
	sum := decimal.Zero
	for _, s := range rec.TaxSummary {
		sum = sum.Add(s.TaxableAmount).Add(s.TaxAmount)
	}
	if sum.Sub(rec.Document.Total).Abs().LessThanOrEqual(tolerance) {
		return nil
	}
	return []types.Warning{{
		Code: types.WarnDocumentTotalMismatch,
		Message: fmt.Sprintf("VAT summary totals %s, declared document total %s",
			sum.StringFixed(2), rec.Document.Total.StringFixed(2)),
	}}
}
