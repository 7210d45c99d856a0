package schema

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/fatturapa-extractor/internal/loader"
	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

// DateLayout is the ISO-8601 calendar date used by FatturaPA.
const DateLayout = "2006-01-02"

var decimalRe = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// Options carries the normalization defaults.
type Options struct {
	// DefaultCurrency replaces a missing Divisa.
	DefaultCurrency string
	// DefaultVATRate replaces a missing line AliquotaIVA.
	DefaultVATRate decimal.Decimal
	// Fields overrides DefaultFields when non-nil.
	Fields []Field
}

// DefaultOptions returns EUR and a 22% VAT rate.
func DefaultOptions() Options {
	return Options{
		DefaultCurrency: "EUR",
		DefaultVATRate:  decimal.NewFromInt(22),
	}
}

// Mapper converts element trees into canonical records. It holds no
// mutable state and is safe for concurrent use.
type Mapper struct {
	opts   Options
	blocks map[Block]map[string]Field
	order  map[Block][]string
}

// NewMapper builds a mapper from opts.
func NewMapper(opts Options) *Mapper {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "EUR"
	}
	fields := opts.Fields
	if fields == nil {
		fields = DefaultFields()
	}

	m := &Mapper{
		opts:   opts,
		blocks: make(map[Block]map[string]Field),
		order:  make(map[Block][]string),
	}
	for _, f := range fields {
		if (f.Block == BlockLine || f.Block == BlockSimpleLine) && f.Name == FieldVATRate && f.Default == "" {
			f.Default = opts.DefaultVATRate.String()
		}
		if m.blocks[f.Block] == nil {
			m.blocks[f.Block] = make(map[string]Field)
		}
		m.blocks[f.Block][f.Name] = f
		m.order[f.Block] = append(m.order[f.Block], f.Name)
	}
	return m
}

// Fields returns the field table in declaration order.
func (m *Mapper) Fields() []Field {
	var out []Field
	for _, b := range []Block{BlockSupplier, BlockCustomer, BlockDocument, BlockLine, BlockSummary, BlockTerms, BlockPayment, BlockSimpleLine} {
		for _, name := range m.order[b] {
			out = append(out, m.blocks[b][name])
		}
	}
	return out
}

// =============================================================================
// MAPPING
// =============================================================================

// Map maps the header and the first invoice body of root.
func (m *Mapper) Map(root *loader.Node) (types.CanonicalRecord, error) {
	outs, err := m.Bodies(root)
	if err != nil {
		return types.CanonicalRecord{}, err
	}
	if outs[0].Err != nil {
		return types.CanonicalRecord{}, outs[0].Err
	}
	return *outs[0].Record, nil
}

// MapAll maps one record per invoice body. The first failing body fails
// the whole call.
func (m *Mapper) MapAll(root *loader.Node) ([]types.CanonicalRecord, error) {
	outs, err := m.Bodies(root)
	if err != nil {
		return nil, err
	}
	records := make([]types.CanonicalRecord, 0, len(outs))
	for i, o := range outs {
		if o.Err != nil {
			return nil, errors.Wrapf(o.Err, "body %d", i+1)
		}
		records = append(records, *o.Record)
	}
	return records, nil
}

// Bodies maps every invoice body independently. The returned error is set
// only when the document as a whole is unusable; otherwise there is one
// outcome per body, in document order. Both ordinary and simplified
// invoices are accepted.
func (m *Mapper) Bodies(root *loader.Node) ([]types.Outcome, error) {
	if root == nil {
		return nil, types.MissingField(RootElement)
	}
	if root.Name != RootElement && root.Name != SimplifiedRootElement {
		return nil, &types.SchemaError{Field: RootElement, Raw: root.Name, Reason: "unexpected root element"}
	}
	simplified := root.Name == SimplifiedRootElement
	if root.Child(HeaderPath) == nil {
		return nil, types.MissingField(HeaderPath)
	}
	bodies := root.ChildrenNamed(BodyElement)
	if len(bodies) == 0 {
		return nil, types.MissingField(BodyElement)
	}

	header, err := m.mapHeader(root)
	if err != nil {
		return nil, err
	}

	outs := make([]types.Outcome, len(bodies))
	for i, body := range bodies {
		rec, err := m.mapBody(header, body, simplified)
		if err != nil {
			outs[i] = types.Outcome{Err: err}
			continue
		}
		outs[i] = types.Outcome{Record: rec}
	}
	return outs, nil
}

func (m *Mapper) mapHeader(root *loader.Node) (types.Header, error) {
	supplier, err := m.mapParty(root.Find(SupplierAnchor), BlockSupplier)
	if err != nil {
		return types.Header{}, err
	}
	customer, err := m.mapParty(root.Find(CustomerAnchor), BlockCustomer)
	if err != nil {
		return types.Header{}, err
	}
	return types.Header{Supplier: supplier, Customer: customer}, nil
}

func (m *Mapper) mapParty(anchor *loader.Node, block Block) (types.Party, error) {
	r, err := m.read(anchor, block)
	if err != nil {
		return types.Party{}, err
	}
	name := r.str(FieldName)
	if name == "" {
		name = strings.TrimSpace(r.str(FieldFirstName) + " " + r.str(FieldLastName))
	}
	return types.Party{
		Name:       name,
		VATCountry: r.str(FieldVATCountry),
		VATNumber:  r.str(FieldVATNumber),
		FiscalCode: r.str(FieldFiscalCode),
		Address: types.Address{
			Street:      r.str(FieldStreet),
			CivicNumber: r.str(FieldCivicNumber),
			PostalCode:  r.str(FieldPostalCode),
			City:        r.str(FieldCity),
			Province:    r.str(FieldProvince),
			Country:     r.str(FieldCountry),
		},
	}, nil
}

func (m *Mapper) mapBody(header types.Header, body *loader.Node, simplified bool) (*types.CanonicalRecord, error) {
	rec := &types.CanonicalRecord{Header: header}

	doc, err := m.read(body.Find(DocumentAnchor), BlockDocument)
	if err != nil {
		return nil, err
	}
	rec.Document = types.Document{
		Type:     doc.str(FieldType),
		Number:   doc.str(FieldNumber),
		Date:     doc.date(FieldDate),
		Currency: doc.str(FieldCurrency),
		Total:    doc.dec(FieldTotal),
	}
	if err := doc.err; err != nil {
		return nil, err
	}
	if rec.Document.Currency == "" {
		rec.Document.Currency = m.opts.DefaultCurrency
		rec.Warnings = append(rec.Warnings, types.Warning{
			Code:    types.WarnDefaultCurrency,
			Message: "Divisa missing, assumed " + m.opts.DefaultCurrency,
		})
	}

	lines, block := body.FindAll(LineAnchor), BlockLine
	if simplified {
		lines, block = body.ChildrenNamed(SimpleLineAnchor), BlockSimpleLine
	}
	for i, node := range lines {
		r, err := m.read(node, block)
		if err != nil {
			return nil, err
		}
		var item types.LineItem
		if simplified {
			total := r.dec(FieldTotal)
			item = types.LineItem{
				LineNumber:  i + 1,
				Description: r.str(FieldDescription),
				Quantity:    decimal.NewFromInt(1),
				Price:       total,
				Total:       total,
				VATRate:     r.dec(FieldVATRate),
				VATNature:   r.str(FieldVATNature),
			}
		} else {
			item = types.LineItem{
				LineNumber:  r.integer(FieldLineNumber),
				Description: r.str(FieldDescription),
				Quantity:    r.dec(FieldQuantity),
				Price:       r.dec(FieldPrice),
				Total:       r.dec(FieldTotal),
				VATRate:     r.dec(FieldVATRate),
				VATNature:   r.str(FieldVATNature),
			}
		}
		if r.err != nil {
			return nil, r.err
		}
		if item.LineNumber <= 0 {
			return nil, &types.SchemaError{Field: "NumeroLinea", Raw: r.raw[FieldLineNumber], Reason: "line number must be positive"}
		}
		if r.defaulted[FieldVATRate] {
			rec.Warnings = append(rec.Warnings, types.Warning{
				LineNumber: item.LineNumber,
				Code:       types.WarnDefaultVATRate,
				Message:    r.fields[FieldVATRate].Element() + " missing, assumed " + item.VATRate.String(),
			})
		}
		rec.LineItems = append(rec.LineItems, item)
	}

	for _, node := range body.FindAll(SummaryAnchor) {
		r, err := m.read(node, BlockSummary)
		if err != nil {
			return nil, err
		}
		s := types.TaxSummary{
			VATRate:        r.dec(FieldVATRate),
			VATNature:      r.str(FieldVATNature),
			TaxableAmount:  r.dec(FieldTaxable),
			TaxAmount:      r.dec(FieldTax),
			Collectability: r.str(FieldCollectability),
		}
		if r.err != nil {
			return nil, r.err
		}
		rec.TaxSummary = append(rec.TaxSummary, s)
	}

	for _, termsNode := range body.ChildrenNamed(TermsAnchor) {
		terms, err := m.read(termsNode, BlockTerms)
		if err != nil {
			return nil, err
		}
		for _, node := range termsNode.ChildrenNamed(PaymentAnchor) {
			r, err := m.read(node, BlockPayment)
			if err != nil {
				return nil, err
			}
			p := types.Payment{
				Terms:   terms.str(FieldTerms),
				Method:  r.str(FieldMethod),
				Amount:  r.dec(FieldAmount),
				DueDate: r.date(FieldDueDate),
				IBAN:    r.str(FieldIBAN),
			}
			if r.err != nil {
				return nil, r.err
			}
			rec.Payments = append(rec.Payments, p)
		}
	}

	return rec, nil
}

// =============================================================================
// FIELD READER
// =============================================================================

// reader holds the raw values of one block. Conversion errors are sticky:
// the first one is kept in err and later conversions return zero values.
type reader struct {
	fields    map[string]Field
	raw       map[string]string
	defaulted map[string]bool
	err       error
}

// read collects the raw values of block under anchor. A nil anchor yields
// an empty block, so its required fields fail as missing.
func (m *Mapper) read(anchor *loader.Node, block Block) (*reader, error) {
	r := &reader{
		fields:    m.blocks[block],
		raw:       make(map[string]string),
		defaulted: make(map[string]bool),
	}
	for _, name := range m.order[block] {
		f := r.fields[name]
		value, ok := lookup(anchor, f)
		if !ok {
			if f.Required {
				return nil, types.MissingField(f.Element())
			}
			value = f.Default
			r.defaulted[name] = f.Default != ""
		}
		r.raw[name] = value
	}
	return r, nil
}

func lookup(anchor *loader.Node, f Field) (string, bool) {
	if anchor == nil {
		return "", false
	}
	for _, path := range f.Paths() {
		if v, ok := anchor.Value(path); ok {
			return v, true
		}
	}
	return "", false
}

func (r *reader) str(name string) string {
	return r.raw[name]
}

func (r *reader) dec(name string) decimal.Decimal {
	raw := r.raw[name]
	if r.err != nil || raw == "" {
		return decimal.Zero
	}
	d, err := ParseDecimal(r.fields[name].Element(), raw)
	if err != nil {
		r.err = err
		return decimal.Zero
	}
	return d
}

func (r *reader) integer(name string) int {
	raw := r.raw[name]
	if r.err != nil || raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.err = &types.SchemaError{Field: r.fields[name].Element(), Raw: raw, Reason: "not an integer"}
		return 0
	}
	return n
}

func (r *reader) date(name string) time.Time {
	raw := r.raw[name]
	if r.err != nil || raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		r.err = &types.SchemaError{Field: r.fields[name].Element(), Raw: raw, Reason: "not an ISO date (YYYY-MM-DD)"}
		return time.Time{}
	}
	return t
}

// ParseDecimal parses a locale-invariant decimal. A comma separator is an
// error, as are exponents and thousands separators.
func ParseDecimal(field, raw string) (decimal.Decimal, error) {
	if strings.Contains(raw, ",") {
		return decimal.Zero, &types.SchemaError{Field: field, Raw: raw, Reason: "decimal separator must be '.'"}
	}
	if !decimalRe.MatchString(raw) {
		return decimal.Zero, &types.SchemaError{Field: field, Raw: raw, Reason: "not a decimal number"}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &types.SchemaError{Field: field, Raw: raw, Reason: err.Error()}
	}
	return d, nil
}
