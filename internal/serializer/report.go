package serializer

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

// =============================================================================
// METRICS
// =============================================================================

// MetricsHeaders are the columns of the metrics CSV.
var MetricsHeaders = []string{"source", "line_items_count", "total_gross_amount", "vat_summary_available", "warnings_count"}

// SerializeMetrics renders one metrics row per record.
func SerializeMetrics(records []types.CanonicalRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(MetricsHeaders); err != nil {
		return nil, errors.Wrap(err, "write metrics header")
	}
	for _, r := range records {
		m := types.MetricsOf(r)
		if err := w.Write([]string{
			m.Source,
			strconv.Itoa(m.LineItemsCount),
			FormatAmount(m.TotalGrossAmount),
			strconv.FormatBool(m.VATSummaryAvailable),
			strconv.Itoa(m.WarningsCount),
		}); err != nil {
			return nil, errors.Wrapf(err, "write metrics for %s", m.Source)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "flush metrics")
	}
	return buf.Bytes(), nil
}

// =============================================================================
// ERROR REPORT
// =============================================================================

// ErrorEntry is one failed item of a batch.
type ErrorEntry struct {
	Key     string          `json:"key"`
	Kind    types.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// ErrorReport lists the failures of a batch, sorted by key.
func ErrorReport(result *types.BatchResult) []ErrorEntry {
	fails := result.Failures()
	out := make([]ErrorEntry, 0, len(fails))
	for _, f := range fails {
		out = append(out, ErrorEntry{Key: f.Key, Kind: f.Kind, Message: f.Err.Error()})
	}
	return out
}
