// =============================================================================
// FatturaPA Extractor - Shared Types
// =============================================================================
//
// This package contains the canonical invoice record and the batch result
// shared by the loader, mapper, orchestrator and serializer. Keeping them
// here avoids import cycles between those packages.
//
// RECORD SHAPE:
//   CanonicalRecord
//   ├── Header   { Supplier Party, Customer Party }
//   ├── Document { Type, Number, Date, Currency, Total }
//   ├── LineItems  []LineItem
//   ├── Payments   []Payment
//   ├── TaxSummary []TaxSummary
//   └── Warnings   []Warning
//
// =============================================================================

package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CANONICAL RECORD
// =============================================================================

// CanonicalRecord is the normalized representation of one invoice,
// independent of the output format. A record is never mutated after the
// mapper returns it.
type CanonicalRecord struct {
	// Source is the batch key of the item the record was extracted from.
	Source string

	Header     Header
	Document   Document
	LineItems  []LineItem
	Payments   []Payment
	TaxSummary []TaxSummary

	// Warnings holds non-fatal findings such as line totals that do not
	// match quantity times price.
	Warnings []Warning
}

// Header groups the two parties of the invoice.
type Header struct {
	Supplier Party // CedentePrestatore
	Customer Party // CessionarioCommittente
}

// Party identifies a supplier or a customer. Every field is optional.
type Party struct {
	Name       string
	VATCountry string
	VATNumber  string
	FiscalCode string
	Address    Address
}

// Address is the registered office (Sede) of a party.
type Address struct {
	Street      string
	CivicNumber string
	PostalCode  string
	City        string
	Province    string
	Country     string
}

// Document holds the general document data (DatiGeneraliDocumento).
type Document struct {
	Type     string
	Number   string
	Date     time.Time
	Currency string
	Total    decimal.Decimal
}

// LineItem is one DettaglioLinee row. LineNumber is 1-based and strictly
// increasing within a record.
type LineItem struct {
	LineNumber  int
	Description string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Total       decimal.Decimal
	VATRate     decimal.Decimal

	// VATNature is the Natura code given for lines outside the VAT scope.
	VATNature string
}

// Payment is one DettaglioPagamento entry.
type Payment struct {
	Terms   string // CondizioniPagamento
	Method  string // ModalitaPagamento
	Amount  decimal.Decimal
	DueDate time.Time
	IBAN    string
}

// TaxSummary is one DatiRiepilogo entry.
type TaxSummary struct {
	VATRate        decimal.Decimal
	VATNature      string
	TaxableAmount  decimal.Decimal
	TaxAmount      decimal.Decimal
	Collectability string // EsigibilitaIVA
}

// Warning codes attached to records.
const (
	WarnTotalMismatch         = "total_mismatch"
	WarnDocumentTotalMismatch = "document_total_mismatch"
	WarnDefaultVATRate        = "default_vat_rate"
	WarnDefaultCurrency       = "default_currency"
)

// Warning is a non-fatal finding. LineNumber is zero for document-level
// warnings.
type Warning struct {
	LineNumber int
	Code       string
	Message    string
}

// =============================================================================
// METRICS
// =============================================================================

// Metrics summarizes the data quality of one record.
type Metrics struct {
	Source              string
	LineItemsCount      int
	TotalGrossAmount    decimal.Decimal
	VATSummaryAvailable bool
	WarningsCount       int
}

// MetricsOf computes the metrics of a record.
func MetricsOf(r CanonicalRecord) Metrics {
	gross := decimal.Zero
	for _, li := range r.LineItems {
		gross = gross.Add(li.Total)
	}
	return Metrics{
		Source:              r.Source,
		LineItemsCount:      len(r.LineItems),
		TotalGrossAmount:    gross,
		VATSummaryAvailable: len(r.TaxSummary) > 0,
		WarningsCount:       len(r.Warnings),
	}
}
