package parser

import (
	"bytes"
	"encoding/xml"
	"strings"

	dErrors "notaria/pkg/domainerrors"
)

// Invoice mirrors the structured XML invoice the office billing system drops
// into the intake directory: a header with the buyer, the line items, and a
// set of named supplementary fields.
type Invoice struct {
	XMLName xml.Name    `xml:"factura"`
	Header  InvoiceInfo `xml:"infoFactura"`
	Details struct {
		Items []LineItem `xml:"detalle"`
	} `xml:"detalles"`
	Supplementary struct {
		Fields []NamedField `xml:"campoAdicional"`
	} `xml:"infoAdicional"`
}

type InvoiceInfo struct {
	IssueDate string `xml:"fechaEmision"`
	BuyerName string `xml:"razonSocialComprador"`
	BuyerID   string `xml:"identificacionComprador"`
	Total     string `xml:"importeTotal"`
}

type LineItem struct {
	Description string `xml:"descripcion"`
	Quantity    string `xml:"cantidad"`
	UnitPrice   string `xml:"precioUnitario"`
	Total       string `xml:"precioTotalSinImpuesto"`
}

// NamedField is one supplementary key/value pair. The billing system uses
// these for everything the fixed schema has no column for: protocol number,
// mobile phone, email, and the staff member named on the invoice.
type NamedField struct {
	Name  string `xml:"nombre,attr"`
	Value string `xml:",chardata"`
}

// Field returns the trimmed value of the named supplementary field, matching
// the name ignoring case and surrounding whitespace. Missing fields return
// the empty string.
func (inv *Invoice) Field(name string) string {
	for _, field := range inv.Supplementary.Fields {
		if strings.EqualFold(strings.TrimSpace(field.Name), name) {
			return strings.TrimSpace(field.Value)
		}
	}
	return ""
}

// DecodeInvoice unmarshals a raw invoice document.
func DecodeInvoice(raw []byte) (*Invoice, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "invoice document is empty")
	}
	var inv Invoice
	if err := xml.Unmarshal(raw, &inv); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invoice document is not valid XML")
	}
	return &inv, nil
}
