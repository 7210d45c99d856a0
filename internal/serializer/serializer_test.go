package serializer

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/fatturapa-extractor/internal/batch"
	"github.com/ginjaninja78/fatturapa-extractor/internal/loader"
	"github.com/ginjaninja78/fatturapa-extractor/internal/testutil"
	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// extract runs the sample documents through the whole pipeline.
func extract(t *testing.T, docs map[string]string) *types.BatchResult {
	t.Helper()
	var sources []loader.Source
	for name, body := range docs {
		sources = append(sources, loader.BytesSource(name, []byte(body)))
	}
	result, err := batch.Run(context.Background(), sources, batch.Options{Parallelism: 2})
	require.NoError(t, err)
	return result
}

func sampleRecord() types.CanonicalRecord {
	return types.CanonicalRecord{
		Source: "a.xml",
		Header: types.Header{
			Supplier: types.Party{Name: "Fornitore S.r.l.", VATCountry: "IT", VATNumber: "01234567890"},
			Customer: types.Party{Name: "Mario Rossi", FiscalCode: "RSSMRA80A01H501U"},
		},
		Document: types.Document{
			Type:     "TD01",
			Number:   "FPA/2024/001",
			Date:     time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			Currency: "EUR",
			Total:    dec("30.5"),
		},
		LineItems: []types.LineItem{
			{LineNumber: 1, Description: "Consulenza", Quantity: dec("2"), Price: dec("10"), Total: dec("20"), VATRate: dec("22")},
			{LineNumber: 2, Description: "Spedizione, \"urgente\"", Quantity: dec("0.125"), Price: dec("40"), Total: dec("5"), VATRate: dec("22")},
		},
		Payments:   []types.Payment{{Terms: "TP02", Method: "MP05", Amount: dec("30.5"), DueDate: time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), IBAN: "IT60X0542811101000000123456"}},
		TaxSummary: []types.TaxSummary{{VATRate: dec("22"), TaxableAmount: dec("25"), TaxAmount: dec("5.5"), Collectability: "I"}},
		Warnings:   []types.Warning{{LineNumber: 2, Code: types.WarnTotalMismatch, Message: "x"}},
	}
}

func readCSV(t *testing.T, data []byte) []map[string]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	var out []map[string]string
	for _, r := range rows[1:] {
		m := map[string]string{}
		for i, h := range rows[0] {
			m[h] = r[i]
		}
		out = append(out, m)
	}
	return out
}

func TestSampleInvoiceCSV(t *testing.T) {
	result := extract(t, map[string]string{"fattura.xml": testutil.SampleXML()})
	data, err := Serialize(result.Records(), FormatCSV, Options{})
	require.NoError(t, err)

	rows := readCSV(t, data)
	require.Len(t, rows, 2)
	assert.Equal(t, "20.00", rows[0]["line_total"])
	assert.Equal(t, "5.00", rows[1]["line_total"])
	for _, r := range rows {
		assert.Equal(t, "FPA/2024/001", r["document_number"])
		assert.Equal(t, "2024-03-15", r["document_date"])
		assert.Equal(t, "30.50", r["document_total"])
		assert.Equal(t, "22.0", r["vat_rate"])
		assert.Equal(t, "fattura.xml", r["source"])
	}
	assert.Equal(t, "2.00", rows[0]["quantity"])
}

func TestCSVRecordWithoutLines(t *testing.T) {
	rec := sampleRecord()
	rec.LineItems = nil
	rec.Warnings = nil
	data, err := EncodeCSV([]types.CanonicalRecord{rec})
	require.NoError(t, err)

	rows := readCSV(t, data)
	require.Len(t, rows, 1)
	assert.Equal(t, "FPA/2024/001", rows[0]["document_number"])
	for _, col := range []string{"line_number", "description", "quantity", "unit_price", "line_total", "vat_rate", "vat_nature"} {
		assert.Empty(t, rows[0][col], col)
	}
}

func TestCSVQuotingAndWarnings(t *testing.T) {
	data, err := EncodeCSV([]types.CanonicalRecord{sampleRecord()})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Spedizione, ""urgente"""`)

	rows := readCSV(t, data)
	require.Len(t, rows, 2)
	assert.Equal(t, "0.125", rows[1]["quantity"])
	assert.Equal(t, "40.00", rows[1]["unit_price"])
	assert.Equal(t, "total_mismatch@2", rows[0]["warnings"])
}

func TestJSONFormatting(t *testing.T) {
	data, err := EncodeJSON([]types.CanonicalRecord{sampleRecord()}, Options{})
	require.NoError(t, err)
	out := string(data)

	assert.True(t, strings.HasPrefix(out, "["))
	assert.Contains(t, out, `"total":30.50`)
	assert.Contains(t, out, `"quantity":2.00`)
	assert.Contains(t, out, `"quantity":0.125`)
	assert.Contains(t, out, `"vat_rate":22.0`)
	assert.Contains(t, out, `"date":"2024-03-15"`)
	assert.Contains(t, out, `"due_date":"2024-04-15"`)
}

func TestJSONEmptyCollectionsAndSingle(t *testing.T) {
	rec := types.CanonicalRecord{Source: "x.xml", Document: types.Document{Type: "TD01", Number: "1"}}
	data, err := EncodeJSON([]types.CanonicalRecord{rec}, Options{Single: true})
	require.NoError(t, err)
	out := string(data)

	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"line_items":[]`)
	assert.Contains(t, out, `"warnings":[]`)
	assert.Contains(t, out, `"date":""`)
	assert.Contains(t, out, `"fiscal_code":""`)
	assert.NotContains(t, out, "null")

	data, err = EncodeJSON(nil, Options{Single: true})
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestJSONRoundTrip(t *testing.T) {
	records := []types.CanonicalRecord{sampleRecord()}
	for _, opts := range []Options{{}, {Indent: true}, {Single: true}} {
		data, err := EncodeJSON(records, opts)
		require.NoError(t, err)

		back, err := DecodeJSON(data)
		require.NoError(t, err)
		require.Len(t, back, 1)

		got, want := back[0], records[0]
		assert.True(t, want.Document.Total.Equal(got.Document.Total))
		assert.True(t, want.Document.Date.Equal(got.Document.Date))
		require.Len(t, got.LineItems, 2)
		for i := range want.LineItems {
			assert.True(t, want.LineItems[i].Quantity.Equal(got.LineItems[i].Quantity))
			assert.True(t, want.LineItems[i].Total.Equal(got.LineItems[i].Total))
		}
		assert.Equal(t, want.Header, got.Header)
		assert.Equal(t, want.Warnings, got.Warnings)

		again, err := EncodeJSON(back, opts)
		require.NoError(t, err)
		assert.Equal(t, string(data), string(again))
	}
}

func TestJSONKeepsAmountPrecision(t *testing.T) {
	rec := sampleRecord()
	rec.LineItems = []types.LineItem{
		{LineNumber: 1, Description: "Viti", Quantity: dec("40"), Price: dec("1.85900"), Total: dec("74.36"), VATRate: dec("22")},
	}
	rec.Warnings = nil

	data, err := EncodeJSON([]types.CanonicalRecord{rec}, Options{})
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"price":1.859`)
	assert.Contains(t, out, `"total":74.36`)
	assert.Contains(t, out, `"quantity":40.00`)
	assert.NoError(t, ValidateJSON(data))

	back, err := DecodeJSON(data)
	require.NoError(t, err)
	require.Len(t, back, 1)
	require.Len(t, back[0].LineItems, 1)
	li := back[0].LineItems[0]
	assert.True(t, dec("1.859").Equal(li.Price), li.Price.String())
	assert.True(t, dec("74.36").Equal(li.Total))
	assert.True(t, li.Price.Mul(li.Quantity).Equal(li.Total))

	csvData, err := EncodeCSV([]types.CanonicalRecord{rec})
	require.NoError(t, err)
	rows := readCSV(t, csvData)
	require.Len(t, rows, 1)
	assert.Equal(t, "1.86", rows[0]["unit_price"])
	assert.Equal(t, "74.36", rows[0]["line_total"])
}

func TestDecodeJSONRejectsBadNumbers(t *testing.T) {
	_, err := DecodeJSON([]byte(`[{"source":"a","document":{"date":"15/03/2024"}}]`))
	assert.Error(t, err)
	_, err = DecodeJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestSerializeDeterministic(t *testing.T) {
	result := extract(t, map[string]string{
		"b.xml": testutil.SampleXML(),
		"a.xml": testutil.SampleXML(),
	})
	for _, f := range []Format{FormatJSON, FormatCSV} {
		first, err := Serialize(result.Records(), f, Options{Indent: true})
		require.NoError(t, err)
		second, err := Serialize(extract(t, map[string]string{
			"a.xml": testutil.SampleXML(),
			"b.xml": testutil.SampleXML(),
		}).Records(), f, Options{Indent: true})
		require.NoError(t, err)
		assert.Equal(t, first, second, f)
	}
}

func TestXLSX(t *testing.T) {
	data, err := Serialize([]types.CanonicalRecord{sampleRecord()}, FormatXLSX, Options{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	rows, err := f.GetRows(SheetName, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Headers(), rows[0])

	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[h] = i
	}
	assert.Equal(t, "FPA/2024/001", rows[1][idx["document_number"]])
	assert.Equal(t, "20", rows[1][idx["line_total"]])
	assert.Equal(t, "2", rows[2][idx["line_number"]])
}

func TestSerializeUnknownFormat(t *testing.T) {
	_, err := Serialize(nil, Format("pdf"), Options{})
	assert.ErrorIs(t, err, ErrUnknownFormat)

	f, err := ParseFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	_, err = ParseFormat("pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormatExact(t *testing.T) {
	tests := map[string]string{"1": "1.00", "1.5": "1.50", "0.125": "0.125", "12.3456": "12.3456", "-2": "-2.00"}
	for in, want := range tests {
		assert.Equal(t, want, FormatExact(dec(in)), in)
	}
}

func TestSerializeMetrics(t *testing.T) {
	rec := sampleRecord()
	bare := types.CanonicalRecord{Source: "b.xml"}
	data, err := SerializeMetrics([]types.CanonicalRecord{rec, bare})
	require.NoError(t, err)
	assert.Equal(t,
		"source,line_items_count,total_gross_amount,vat_summary_available,warnings_count\n"+
			"a.xml,2,25.00,true,1\n"+
			"b.xml,0,0.00,false,0\n",
		string(data))
}

func TestErrorReport(t *testing.T) {
	result := extract(t, map[string]string{
		"ok.xml":  testutil.SampleXML(),
		"bad.xml": testutil.Malformed,
		"xxe.xml": testutil.XXE,
	})
	entries := ErrorReport(result)
	require.Len(t, entries, 2)
	assert.Equal(t, "bad.xml", entries[0].Key)
	assert.Equal(t, types.KindMalformedXML, entries[0].Kind)
	assert.Equal(t, "xxe.xml", entries[1].Key)
	assert.Equal(t, types.KindUnsafeXML, entries[1].Kind)

	assert.Contains(t, entries[0].Message, "bad.xml")

	data, err := EncodeJSON(result.Records(), Options{})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "malformed")
}

func TestValidateJSON(t *testing.T) {
	for _, opts := range []Options{{}, {Single: true}, {Indent: true}} {
		data, err := EncodeJSON([]types.CanonicalRecord{sampleRecord()}, opts)
		require.NoError(t, err)
		assert.NoError(t, ValidateJSON(data))
	}

	invalid := map[string]string{
		"missing document": `[{"source":"a","header":{},"line_items":[],"payment":[],"tax_summary":[],"warnings":[]}]`,
		"string total":     strings.Replace(mustJSON(t), `"total":30.50`, `"total":"30.50"`, 1),
		"bad date":         strings.Replace(mustJSON(t), `"2024-03-15"`, `"15/03/2024"`, 1),
		"not json":         `{`,
	}
	for name, doc := range invalid {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateJSON([]byte(doc)))
		})
	}
}

func mustJSON(t *testing.T) string {
	t.Helper()
	data, err := EncodeJSON([]types.CanonicalRecord{sampleRecord()}, Options{})
	require.NoError(t, err)
	return string(data)
}
