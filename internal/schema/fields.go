// =============================================================================
// FatturaPA Extractor - Field Table
// =============================================================================
//
// Every value the mapper reads is described by one Field. Paths are
// relative to the block anchor and use local element names:
//
//   | Block    | Anchor                                              |
//   |----------|-----------------------------------------------------|
//   | supplier | FatturaElettronicaHeader/CedentePrestatore          |
//   | customer | FatturaElettronicaHeader/CessionarioCommittente     |
//   | document | <body>/DatiGenerali/DatiGeneraliDocumento           |
//   | line     | <body>/DatiBeniServizi/DettaglioLinee       (many)  |
//   | summary  | <body>/DatiBeniServizi/DatiRiepilogo        (many)  |
//   | terms    | <body>/DatiPagamento                        (many)  |
//   | payment  | <body>/DatiPagamento/DettaglioPagamento     (many)  |
//
// Simplified invoices (FatturaElettronicaSemplificata) share the header and
// document anchors. Their parties are read through Fallbacks, alternative
// paths tried in order when Path is absent, and their lines come from the
// simple_line block:
//
//   | simple_line | <body>/DatiBeniServizi                   (many)  |
//
// =============================================================================

package schema

import "strings"

// Kind is the type a raw value is converted to.
type Kind string

const (
	KindString  Kind = "string"
	KindDecimal Kind = "decimal"
	KindInteger Kind = "integer"
	KindDate    Kind = "date"
)

// Block groups fields sharing an anchor element.
type Block string

const (
	BlockSupplier Block = "supplier"
	BlockCustomer Block = "customer"
	BlockDocument Block = "document"
	BlockLine     Block = "line"
	BlockSummary  Block = "summary"
	BlockTerms    Block = "terms"
	BlockPayment  Block = "payment"

	BlockSimpleLine Block = "simple_line"
)

// Field describes one mapped value.
type Field struct {
	// Name is the canonical name, unique within a block.
	Name      string
	Block     Block
	Path      string
	Fallbacks []string
	Required  bool
	Kind      Kind
	// Default replaces a missing optional value. Empty means the zero
	// value of Kind.
	Default string
}

// Element is the local name of the element the field reads. It is the
// name reported in schema errors.
func (f Field) Element() string {
	if i := strings.LastIndex(f.Path, "/"); i >= 0 {
		return f.Path[i+1:]
	}
	return f.Path
}

// Paths returns Path followed by the fallbacks.
func (f Field) Paths() []string {
	return append([]string{f.Path}, f.Fallbacks...)
}

// Anchor paths of the repeated and header blocks.
const (
	RootElement           = "FatturaElettronica"
	SimplifiedRootElement = "FatturaElettronicaSemplificata"
	HeaderPath            = "FatturaElettronicaHeader"
	BodyElement           = "FatturaElettronicaBody"

	SupplierAnchor = HeaderPath + "/CedentePrestatore"
	CustomerAnchor = HeaderPath + "/CessionarioCommittente"
	DocumentAnchor = "DatiGenerali/DatiGeneraliDocumento"
	LineAnchor     = "DatiBeniServizi/DettaglioLinee"
	SummaryAnchor  = "DatiBeniServizi/DatiRiepilogo"
	TermsAnchor    = "DatiPagamento"
	PaymentAnchor  = "DettaglioPagamento"

	SimpleLineAnchor = "DatiBeniServizi"
)

// Field names referenced by the mapper.
const (
	FieldName        = "name"
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldVATCountry  = "vat_country"
	FieldVATNumber   = "vat_number"
	FieldFiscalCode  = "fiscal_code"
	FieldStreet      = "street"
	FieldCivicNumber = "civic_number"
	FieldPostalCode  = "postal_code"
	FieldCity        = "city"
	FieldProvince    = "province"
	FieldCountry     = "country"

	FieldType     = "type"
	FieldNumber   = "number"
	FieldDate     = "date"
	FieldCurrency = "currency"
	FieldTotal    = "total"

	FieldLineNumber  = "line_number"
	FieldDescription = "description"
	FieldQuantity    = "quantity"
	FieldPrice       = "price"
	FieldVATRate     = "vat_rate"
	FieldVATNature   = "vat_nature"

	FieldTaxable        = "taxable_amount"
	FieldTax            = "tax_amount"
	FieldCollectability = "collectability"

	FieldTerms   = "terms"
	FieldMethod  = "method"
	FieldAmount  = "amount"
	FieldDueDate = "due_date"
	FieldIBAN    = "iban"
)

func partyFields(block Block, simplifiedIDs, simplifiedRegistry string) []Field {
	fields := []Field{
		{Name: FieldName, Block: block, Path: "DatiAnagrafici/Anagrafica/Denominazione", Fallbacks: []string{simplifiedRegistry + "Denominazione"}, Kind: KindString},
		{Name: FieldFirstName, Block: block, Path: "DatiAnagrafici/Anagrafica/Nome", Fallbacks: []string{simplifiedRegistry + "Nome"}, Kind: KindString},
		{Name: FieldLastName, Block: block, Path: "DatiAnagrafici/Anagrafica/Cognome", Fallbacks: []string{simplifiedRegistry + "Cognome"}, Kind: KindString},
		{Name: FieldVATCountry, Block: block, Path: "DatiAnagrafici/IdFiscaleIVA/IdPaese", Fallbacks: []string{simplifiedIDs + "IdFiscaleIVA/IdPaese"}, Kind: KindString},
		{Name: FieldVATNumber, Block: block, Path: "DatiAnagrafici/IdFiscaleIVA/IdCodice", Fallbacks: []string{simplifiedIDs + "IdFiscaleIVA/IdCodice"}, Kind: KindString},
		{Name: FieldFiscalCode, Block: block, Path: "DatiAnagrafici/CodiceFiscale", Fallbacks: []string{simplifiedIDs + "CodiceFiscale"}, Kind: KindString},
		{Name: FieldStreet, Block: block, Path: "Sede/Indirizzo", Fallbacks: []string{simplifiedRegistry + "Sede/Indirizzo"}, Kind: KindString},
		{Name: FieldCivicNumber, Block: block, Path: "Sede/NumeroCivico", Fallbacks: []string{simplifiedRegistry + "Sede/NumeroCivico"}, Kind: KindString},
		{Name: FieldPostalCode, Block: block, Path: "Sede/CAP", Fallbacks: []string{simplifiedRegistry + "Sede/CAP"}, Kind: KindString},
		{Name: FieldCity, Block: block, Path: "Sede/Comune", Fallbacks: []string{simplifiedRegistry + "Sede/Comune"}, Kind: KindString},
		{Name: FieldProvince, Block: block, Path: "Sede/Provincia", Fallbacks: []string{simplifiedRegistry + "Sede/Provincia"}, Kind: KindString},
		{Name: FieldCountry, Block: block, Path: "Sede/Nazione", Fallbacks: []string{simplifiedRegistry + "Sede/Nazione"}, Kind: KindString},
	}
	for i := range fields {
		if fields[i].Fallbacks[0] == fields[i].Path {
			fields[i].Fallbacks = nil
		}
	}
	return fields
}

// DefaultFields returns the field table for FatturaPA 1.2 and the
// simplified format 1.0. The line VAT rate defaults are filled in by
// NewMapper from its options.
func DefaultFields() []Field {
	var fields []Field
	// The simplified supplier keeps identifiers and names directly under
	// CedentePrestatore; the simplified customer nests them under
	// IdentificativiFiscali and AltriDatiIdentificativi.
	fields = append(fields, partyFields(BlockSupplier, "", "")...)
	fields = append(fields, partyFields(BlockCustomer, "IdentificativiFiscali/", "AltriDatiIdentificativi/")...)

	fields = append(fields,
		Field{Name: FieldType, Block: BlockDocument, Path: "TipoDocumento", Required: true, Kind: KindString},
		Field{Name: FieldNumber, Block: BlockDocument, Path: "Numero", Required: true, Kind: KindString},
		Field{Name: FieldDate, Block: BlockDocument, Path: "Data", Required: true, Kind: KindDate},
		Field{Name: FieldCurrency, Block: BlockDocument, Path: "Divisa", Kind: KindString},
		Field{Name: FieldTotal, Block: BlockDocument, Path: "ImportoTotaleDocumento", Kind: KindDecimal},

		Field{Name: FieldLineNumber, Block: BlockLine, Path: "NumeroLinea", Required: true, Kind: KindInteger},
		Field{Name: FieldDescription, Block: BlockLine, Path: "Descrizione", Required: true, Kind: KindString},
		Field{Name: FieldQuantity, Block: BlockLine, Path: "Quantita", Kind: KindDecimal, Default: "1"},
		Field{Name: FieldPrice, Block: BlockLine, Path: "PrezzoUnitario", Required: true, Kind: KindDecimal},
		Field{Name: FieldTotal, Block: BlockLine, Path: "PrezzoTotale", Required: true, Kind: KindDecimal},
		Field{Name: FieldVATRate, Block: BlockLine, Path: "AliquotaIVA", Kind: KindDecimal},
		Field{Name: FieldVATNature, Block: BlockLine, Path: "Natura", Kind: KindString},

		Field{Name: FieldVATRate, Block: BlockSummary, Path: "AliquotaIVA", Kind: KindDecimal},
		Field{Name: FieldVATNature, Block: BlockSummary, Path: "Natura", Kind: KindString},
		Field{Name: FieldTaxable, Block: BlockSummary, Path: "ImponibileImporto", Kind: KindDecimal},
		Field{Name: FieldTax, Block: BlockSummary, Path: "Imposta", Kind: KindDecimal},
		Field{Name: FieldCollectability, Block: BlockSummary, Path: "EsigibilitaIVA", Kind: KindString},

		Field{Name: FieldTerms, Block: BlockTerms, Path: "CondizioniPagamento", Kind: KindString},

		Field{Name: FieldMethod, Block: BlockPayment, Path: "ModalitaPagamento", Kind: KindString},
		Field{Name: FieldAmount, Block: BlockPayment, Path: "ImportoPagamento", Kind: KindDecimal},
		Field{Name: FieldDueDate, Block: BlockPayment, Path: "DataScadenzaPagamento", Kind: KindDate},
		Field{Name: FieldIBAN, Block: BlockPayment, Path: "IBAN", Kind: KindString},

		// Importo includes VAT; it is both the price and the total of a
		// quantity-one line.
		Field{Name: FieldDescription, Block: BlockSimpleLine, Path: "Descrizione", Required: true, Kind: KindString},
		Field{Name: FieldTotal, Block: BlockSimpleLine, Path: "Importo", Required: true, Kind: KindDecimal},
		Field{Name: FieldVATRate, Block: BlockSimpleLine, Path: "DatiIVA/Aliquota", Kind: KindDecimal},
		Field{Name: FieldVATNature, Block: BlockSimpleLine, Path: "Natura", Kind: KindString},
	)
	return fields
}
