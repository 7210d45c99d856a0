// Package testutil builds FatturaPA documents and archives for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Line is one DettaglioLinee row of a generated invoice. Empty strings
// leave the element out.
type Line struct {
	Number      string
	Description string
	Quantity    string
	Price       string
	Total       string
	VATRate     string
}

// Invoice describes a generated document.
type Invoice struct {
	Number string
	Date   string
	Total  string
	Lines  []Line
	// Summary adds a DatiRiepilogo block with these taxable and tax amounts.
	Summary [2]string
}

// SampleLines are the two lines of invoice FPA/2024/001.
var SampleLines = []Line{
	{Number: "1", Description: "Consulenza", Quantity: "2.00", Price: "10.00", Total: "20.00", VATRate: "22.00"},
	{Number: "2", Description: "Spedizione", Quantity: "1.00", Price: "5.00", Total: "5.00", VATRate: "22.00"},
}

// Sample returns invoice FPA/2024/001.
func Sample() Invoice {
	return Invoice{
		Number:  "FPA/2024/001",
		Date:    "2024-03-15",
		Total:   "30.50",
		Lines:   SampleLines,
		Summary: [2]string{"25.00", "5.50"},
	}
}

// SampleXML is Sample rendered as XML.
func SampleXML() string { return Sample().XML() }

// XML renders the invoice with the usual "p:" namespace prefix.
func (inv Invoice) XML() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<p:FatturaElettronica versione="FPR12" xmlns:p="http://ivaservizi.agenziaentrate.gov.it/docs/xsd/fatture/v1.2">` + "\n")
	b.WriteString(header)
	b.WriteString("  <FatturaElettronicaBody>\n")
	b.WriteString(inv.body())
	b.WriteString("  </FatturaElettronicaBody>\n")
	b.WriteString("</p:FatturaElettronica>\n")
	return b.String()
}

// MultiBodyXML renders one document holding several invoice bodies.
func MultiBodyXML(invs ...Invoice) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<FatturaElettronica versione="FPR12">` + "\n")
	b.WriteString(header)
	for _, inv := range invs {
		b.WriteString("  <FatturaElettronicaBody>\n")
		b.WriteString(inv.body())
		b.WriteString("  </FatturaElettronicaBody>\n")
	}
	b.WriteString("</FatturaElettronica>\n")
	return b.String()
}

func (inv Invoice) body() string {
	var b strings.Builder
	b.WriteString("    <DatiGenerali><DatiGeneraliDocumento>\n")
	b.WriteString("      <TipoDocumento>TD01</TipoDocumento><Divisa>EUR</Divisa>\n")
	elem(&b, "      ", "Data", inv.Date)
	elem(&b, "      ", "Numero", inv.Number)
	elem(&b, "      ", "ImportoTotaleDocumento", inv.Total)
	b.WriteString("    </DatiGeneraliDocumento></DatiGenerali>\n")
	b.WriteString("    <DatiBeniServizi>\n")
	for _, l := range inv.Lines {
		b.WriteString("      <DettaglioLinee>\n")
		elem(&b, "        ", "NumeroLinea", l.Number)
		elem(&b, "        ", "Descrizione", l.Description)
		elem(&b, "        ", "Quantita", l.Quantity)
		elem(&b, "        ", "PrezzoUnitario", l.Price)
		elem(&b, "        ", "PrezzoTotale", l.Total)
		elem(&b, "        ", "AliquotaIVA", l.VATRate)
		b.WriteString("      </DettaglioLinee>\n")
	}
	if inv.Summary[0] != "" {
		b.WriteString("      <DatiRiepilogo>\n")
		b.WriteString("        <AliquotaIVA>22.00</AliquotaIVA>\n")
		elem(&b, "        ", "ImponibileImporto", inv.Summary[0])
		elem(&b, "        ", "Imposta", inv.Summary[1])
		b.WriteString("        <EsigibilitaIVA>I</EsigibilitaIVA>\n")
		b.WriteString("      </DatiRiepilogo>\n")
	}
	b.WriteString("    </DatiBeniServizi>\n")
	b.WriteString(payment)
	return b.String()
}

func elem(b *strings.Builder, indent, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s<%s>%s</%s>\n", indent, name, value, name)
}

const header = `  <FatturaElettronicaHeader>
    <CedentePrestatore>
      <DatiAnagrafici>
        <IdFiscaleIVA><IdPaese>IT</IdPaese><IdCodice>01234567890</IdCodice></IdFiscaleIVA>
        <CodiceFiscale>01234567890</CodiceFiscale>
        <Anagrafica><Denominazione>Fornitore S.r.l.</Denominazione></Anagrafica>
      </DatiAnagrafici>
      <Sede>
        <Indirizzo>Via Roma</Indirizzo><NumeroCivico>1</NumeroCivico><CAP>00100</CAP>
        <Comune>Roma</Comune><Provincia>RM</Provincia><Nazione>IT</Nazione>
      </Sede>
    </CedentePrestatore>
    <CessionarioCommittente>
      <DatiAnagrafici>
        <CodiceFiscale>RSSMRA80A01H501U</CodiceFiscale>
        <Anagrafica><Nome>Mario</Nome><Cognome>Rossi</Cognome></Anagrafica>
      </DatiAnagrafici>
      <Sede>
        <Indirizzo>Corso Milano 10</Indirizzo><CAP>20100</CAP>
        <Comune>Milano</Comune><Provincia>MI</Provincia><Nazione>IT</Nazione>
      </Sede>
    </CessionarioCommittente>
  </FatturaElettronicaHeader>
`

const payment = `    <DatiPagamento>
      <CondizioniPagamento>TP02</CondizioniPagamento>
      <DettaglioPagamento>
        <ModalitaPagamento>MP05</ModalitaPagamento>
        <DataScadenzaPagamento>2024-04-15</DataScadenzaPagamento>
        <ImportoPagamento>30.50</ImportoPagamento>
        <IBAN>IT60X0542811101000000123456</IBAN>
      </DettaglioPagamento>
    </DatiPagamento>
`

// Simplified is a simplified invoice (FSM10) with two lines, the second
// exempt and without a rate.
const Simplified = `<?xml version="1.0" encoding="UTF-8"?>
<p:FatturaElettronicaSemplificata versione="FSM10" xmlns:p="http://ivaservizi.agenziaentrate.gov.it/docs/xsd/fatture/v1.0">
  <FatturaElettronicaHeader>
    <CedentePrestatore>
      <IdFiscaleIVA><IdPaese>IT</IdPaese><IdCodice>01234567890</IdCodice></IdFiscaleIVA>
      <Denominazione>Bar Centrale</Denominazione>
      <Sede><Indirizzo>Piazza Duomo</Indirizzo><NumeroCivico>3</NumeroCivico><CAP>50122</CAP><Comune>Firenze</Comune><Provincia>FI</Provincia><Nazione>IT</Nazione></Sede>
      <RegimeFiscale>RF01</RegimeFiscale>
    </CedentePrestatore>
    <CessionarioCommittente>
      <IdentificativiFiscali>
        <IdFiscaleIVA><IdPaese>IT</IdPaese><IdCodice>09876543210</IdCodice></IdFiscaleIVA>
      </IdentificativiFiscali>
      <AltriDatiIdentificativi>
        <Denominazione>Studio Bianchi</Denominazione>
        <Sede><Indirizzo>Via Verdi</Indirizzo><CAP>50123</CAP><Comune>Firenze</Comune><Nazione>IT</Nazione></Sede>
      </AltriDatiIdentificativi>
    </CessionarioCommittente>
  </FatturaElettronicaHeader>
  <FatturaElettronicaBody>
    <DatiGenerali>
      <DatiGeneraliDocumento>
        <TipoDocumento>TD07</TipoDocumento><Divisa>EUR</Divisa><Data>2024-05-02</Data><Numero>S-17</Numero>
      </DatiGeneraliDocumento>
    </DatiGenerali>
    <DatiBeniServizi>
      <Descrizione>Pranzo di lavoro</Descrizione>
      <Importo>61.00</Importo>
      <DatiIVA><Aliquota>22.00</Aliquota></DatiIVA>
    </DatiBeniServizi>
    <DatiBeniServizi>
      <Descrizione>Bollo</Descrizione>
      <Importo>2.00</Importo>
      <DatiIVA><Imposta>0.00</Imposta></DatiIVA>
      <Natura>N1</Natura>
    </DatiBeniServizi>
  </FatturaElettronicaBody>
</p:FatturaElettronicaSemplificata>
`

// XXE is a document that declares an external entity.
const XXE = `<?xml version="1.0"?>
<!DOCTYPE foo [ <!ENTITY xxe SYSTEM "file:///etc/passwd"> ]>
<FatturaElettronica><FatturaElettronicaHeader>&xxe;</FatturaElettronicaHeader></FatturaElettronica>
`

// Malformed is not well-formed XML.
const Malformed = `<?xml version="1.0"?>
<FatturaElettronica>
  <FatturaElettronicaHeader>
</FatturaElettronica>
`

// Entry is one file inside a generated archive.
type Entry struct {
	Name string
	Body string
}

// Zip builds an archive holding entries in the given order.
func Zip(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.Body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
