package serializer

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

// Wire shapes. Slices are always emitted, possibly empty, and every string
// field is present even when empty.

type jsonRecord struct {
	Source     string           `json:"source"`
	Header     jsonHeader       `json:"header"`
	Document   jsonDocument     `json:"document"`
	LineItems  []jsonLineItem   `json:"line_items"`
	Payment    []jsonPayment    `json:"payment"`
	TaxSummary []jsonTaxSummary `json:"tax_summary"`
	Warnings   []jsonWarning    `json:"warnings"`
}

type jsonHeader struct {
	Supplier jsonParty `json:"supplier"`
	Customer jsonParty `json:"customer"`
}

type jsonParty struct {
	Name       string      `json:"name"`
	VATCountry string      `json:"vat_country"`
	VATNumber  string      `json:"vat_number"`
	FiscalCode string      `json:"fiscal_code"`
	Address    jsonAddress `json:"address"`
}

type jsonAddress struct {
	Street      string `json:"street"`
	CivicNumber string `json:"civic_number"`
	PostalCode  string `json:"postal_code"`
	City        string `json:"city"`
	Province    string `json:"province"`
	Country     string `json:"country"`
}

type jsonDocument struct {
	Type     string      `json:"type"`
	Number   string      `json:"number"`
	Date     string      `json:"date"`
	Currency string      `json:"currency"`
	Total    json.Number `json:"total"`
}

type jsonLineItem struct {
	LineNumber  int         `json:"line_number"`
	Description string      `json:"description"`
	Quantity    json.Number `json:"quantity"`
	Price       json.Number `json:"price"`
	Total       json.Number `json:"total"`
	VATRate     json.Number `json:"vat_rate"`
	VATNature   string      `json:"vat_nature"`
}

type jsonPayment struct {
	Terms   string      `json:"terms"`
	Method  string      `json:"method"`
	Amount  json.Number `json:"amount"`
	DueDate string      `json:"due_date"`
	IBAN    string      `json:"iban"`
}

type jsonTaxSummary struct {
	VATRate        json.Number `json:"vat_rate"`
	VATNature      string      `json:"vat_nature"`
	TaxableAmount  json.Number `json:"taxable_amount"`
	TaxAmount      json.Number `json:"tax_amount"`
	Collectability string      `json:"collectability"`
}

type jsonWarning struct {
	LineNumber int    `json:"line_number"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// =============================================================================
// ENCODING
// =============================================================================

// EncodeJSON renders records as a JSON array, or as one object when
// opts.Single is set and there is exactly one record.
func EncodeJSON(records []types.CanonicalRecord, opts Options) ([]byte, error) {
	var payload any
	wire := make([]jsonRecord, len(records))
	for i, r := range records {
		wire[i] = toJSON(r)
	}
	payload = wire
	if opts.Single && len(wire) == 1 {
		payload = wire[0]
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if opts.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(payload); err != nil {
		return nil, errors.Wrap(err, "encode json")
	}
	return buf.Bytes(), nil
}

// RecordsJSON converts records to their wire shape for embedding in other
// JSON documents, such as API responses.
func RecordsJSON(records []types.CanonicalRecord) any {
	wire := make([]jsonRecord, len(records))
	for i, r := range records {
		wire[i] = toJSON(r)
	}
	return wire
}

func toJSON(r types.CanonicalRecord) jsonRecord {
	out := jsonRecord{
		Source: r.Source,
		Header: jsonHeader{
			Supplier: partyJSON(r.Header.Supplier),
			Customer: partyJSON(r.Header.Customer),
		},
		Document: jsonDocument{
			Type:     r.Document.Type,
			Number:   r.Document.Number,
			Date:     FormatDate(r.Document.Date),
			Currency: r.Document.Currency,
			Total:    json.Number(FormatExact(r.Document.Total)),
		},
		LineItems:  make([]jsonLineItem, 0, len(r.LineItems)),
		Payment:    make([]jsonPayment, 0, len(r.Payments)),
		TaxSummary: make([]jsonTaxSummary, 0, len(r.TaxSummary)),
		Warnings:   make([]jsonWarning, 0, len(r.Warnings)),
	}
	for _, li := range r.LineItems {
		out.LineItems = append(out.LineItems, jsonLineItem{
			LineNumber:  li.LineNumber,
			Description: li.Description,
			Quantity:    json.Number(FormatExact(li.Quantity)),
			Price:       json.Number(FormatExact(li.Price)),
			Total:       json.Number(FormatExact(li.Total)),
			VATRate:     json.Number(FormatRate(li.VATRate)),
			VATNature:   li.VATNature,
		})
	}
	for _, p := range r.Payments {
		out.Payment = append(out.Payment, jsonPayment{
			Terms:   p.Terms,
			Method:  p.Method,
			Amount:  json.Number(FormatExact(p.Amount)),
			DueDate: FormatDate(p.DueDate),
			IBAN:    p.IBAN,
		})
	}
	for _, s := range r.TaxSummary {
		out.TaxSummary = append(out.TaxSummary, jsonTaxSummary{
			VATRate:        json.Number(FormatRate(s.VATRate)),
			VATNature:      s.VATNature,
			TaxableAmount:  json.Number(FormatExact(s.TaxableAmount)),
			TaxAmount:      json.Number(FormatExact(s.TaxAmount)),
			Collectability: s.Collectability,
		})
	}
	for _, w := range r.Warnings {
		out.Warnings = append(out.Warnings, jsonWarning(w))
	}
	return out
}

func partyJSON(p types.Party) jsonParty {
	return jsonParty{
		Name:       p.Name,
		VATCountry: p.VATCountry,
		VATNumber:  p.VATNumber,
		FiscalCode: p.FiscalCode,
		Address:    jsonAddress(p.Address),
	}
}

// =============================================================================
// DECODING
// =============================================================================

// DecodeJSON reads output produced by EncodeJSON, array or single object,
// back into records.
func DecodeJSON(data []byte) ([]types.CanonicalRecord, error) {
	data = bytes.TrimSpace(data)
	var wire []jsonRecord
	if len(data) > 0 && data[0] == '{' {
		var one jsonRecord
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, errors.Wrap(err, "decode json record")
		}
		wire = []jsonRecord{one}
	} else if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.Wrap(err, "decode json records")
	}

	records := make([]types.CanonicalRecord, 0, len(wire))
	for i, w := range wire {
		rec, err := fromJSON(w)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		records = append(records, rec)
	}
	return records, nil
}

func fromJSON(w jsonRecord) (types.CanonicalRecord, error) {
	var d decoder
	rec := types.CanonicalRecord{
		Source: w.Source,
		Header: types.Header{
			Supplier: partyFromJSON(w.Header.Supplier),
			Customer: partyFromJSON(w.Header.Customer),
		},
		Document: types.Document{
			Type:     w.Document.Type,
			Number:   w.Document.Number,
			Date:     d.date(w.Document.Date),
			Currency: w.Document.Currency,
			Total:    d.number(w.Document.Total),
		},
	}
	for _, li := range w.LineItems {
		rec.LineItems = append(rec.LineItems, types.LineItem{
			LineNumber:  li.LineNumber,
			Description: li.Description,
			Quantity:    d.number(li.Quantity),
			Price:       d.number(li.Price),
			Total:       d.number(li.Total),
			VATRate:     d.number(li.VATRate),
			VATNature:   li.VATNature,
		})
	}
	for _, p := range w.Payment {
		rec.Payments = append(rec.Payments, types.Payment{
			Terms:   p.Terms,
			Method:  p.Method,
			Amount:  d.number(p.Amount),
			DueDate: d.date(p.DueDate),
			IBAN:    p.IBAN,
		})
	}
	for _, s := range w.TaxSummary {
		rec.TaxSummary = append(rec.TaxSummary, types.TaxSummary{
			VATRate:        d.number(s.VATRate),
			VATNature:      s.VATNature,
			TaxableAmount:  d.number(s.TaxableAmount),
			TaxAmount:      d.number(s.TaxAmount),
			Collectability: s.Collectability,
		})
	}
	for _, w := range w.Warnings {
		rec.Warnings = append(rec.Warnings, types.Warning(w))
	}
	return rec, d.err
}

func partyFromJSON(p jsonParty) types.Party {
	return types.Party{
		Name:       p.Name,
		VATCountry: p.VATCountry,
		VATNumber:  p.VATNumber,
		FiscalCode: p.FiscalCode,
		Address:    types.Address(p.Address),
	}
}

// decoder keeps the first conversion error.
type decoder struct{ err error }

func (d *decoder) number(n json.Number) decimal.Decimal {
	if d.err != nil || n == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(n.String())
	if err != nil {
		d.err = errors.Wrapf(err, "number %q", n)
	}
	return v
}

func (d *decoder) date(s string) time.Time {
	if d.err != nil || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		d.err = errors.Wrapf(err, "date %q", s)
	}
	return t
}
