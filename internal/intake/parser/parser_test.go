package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notaria/internal/domain"
	dErrors "notaria/pkg/domainerrors"
)

func invoiceXML(fields string, items string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<factura>
  <infoFactura>
    <fechaEmision>15/01/2025</fechaEmision>
    <razonSocialComprador>MARIA FERNANDA LOPEZ</razonSocialComprador>
    <identificacionComprador>1712345678</identificacionComprador>
    <importeTotal>0</importeTotal>
  </infoFactura>
  <detalles>` + items + `</detalles>
  <infoAdicional>` + fields + `</infoAdicional>
</factura>`)
}

func field(name, value string) string {
	return `<campoAdicional nombre="` + name + `">` + value + `</campoAdicional>`
}

func item(description, total string) string {
	return `<detalle><descripcion>` + description + `</descripcion><cantidad>1</cantidad><precioUnitario>` + total + `</precioUnitario><precioTotalSinImpuesto>` + total + `</precioTotalSinImpuesto></detalle>`
}

func TestTypeFromProtocol(t *testing.T) {
	tests := []struct {
		protocol string
		want     domain.DocumentType
	}{
		{"20251701018P01741", domain.TypeProtocolo},
		{"20251701018D00234", domain.TypeDiligencia},
		{"20251701018A00010", domain.TypeArrendamiento},
		{"20251701018C01637", domain.TypeCertificacion},
		{"20251701018p01741", domain.TypeProtocolo},
		{"20251701018X00001", domain.TypeOtros},
		{"202517010180000", domain.TypeOtros},
		{"", domain.TypeOtros},
	}
	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeFromProtocol(tt.protocol))
		})
	}
}

func TestParseRequiresProtocolNumber(t *testing.T) {
	raw := invoiceXML(field("CELULAR", "0991234567"), item("ESCRITURA", "120.50"))

	_, err := Parse(raw)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestParseEmptyDocument(t *testing.T) {
	_, err := Parse([]byte("   \n"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestParseMalformedXML(t *testing.T) {
	_, err := Parse([]byte("<factura><infoFactura>"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestParseFullInvoice(t *testing.T) {
	raw := invoiceXML(
		field("NUMERO DE LIBRO", "20251701018P01741")+
			field("CELULAR", "0991234567")+
			field("CORREO", "maria@example.com")+
			field("MATRIZADOR", "JUAN CARLOS PEREZ"),
		item("ESCRITURA DE COMPRAVENTA", "120.50")+
			item("BIOMETRICO", "3.50")+
			item("CONSULTA DINARDAP", "1.00"),
	)

	inv, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "20251701018P01741", inv.ProtocolNumber)
	assert.Equal(t, domain.TypeProtocolo, inv.Type)
	assert.Equal(t, "MARIA FERNANDA LOPEZ", inv.Client.Name)
	assert.Equal(t, "0991234567", inv.Client.Phone)
	assert.Equal(t, "maria@example.com", inv.Client.Email)
	assert.Equal(t, "JUAN CARLOS PEREZ", inv.StaffNameRaw)

	assert.Equal(t, "ESCRITURA DE COMPRAVENTA", inv.PrincipalDesc)
	assert.Equal(t, int64(12050), inv.PrincipalCents)
	assert.Equal(t, []domain.Item{
		{Description: "BIOMETRICO", AmountCents: 350},
		{Description: "CONSULTA DINARDAP", AmountCents: 100},
	}, inv.SecondaryItems)
	assert.Equal(t, int64(12500), inv.TotalCents)
}

func TestParsePrincipalIsMaxValueCandidate(t *testing.T) {
	raw := invoiceXML(
		field("NUMERO DE LIBRO", "20251701018D00234"),
		item("RECONOCIMIENTO DE FIRMA", "10.00")+
			item("DILIGENCIA NOTARIAL", "45.00")+
			item("COPIA CERTIFICADA", "5.00"),
	)

	inv, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "DILIGENCIA NOTARIAL", inv.PrincipalDesc)
	assert.Equal(t, int64(4500), inv.PrincipalCents)
	assert.Len(t, inv.SecondaryItems, 2)
}

func TestParseCertificacionAggregates(t *testing.T) {
	raw := invoiceXML(
		field("NUMERO DE LIBRO", "20251701018C01637"),
		item("CERTIFICACION DE DOCUMENTO 1", "2.50")+
			item("CERTIFICACION DE DOCUMENTO 2", "2.50")+
			item("CERTIFICACION DE DOCUMENTO 3", "3.00"),
	)

	inv, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, domain.TypeCertificacion, inv.Type)
	assert.Equal(t, "CERTIFICACIONES", inv.PrincipalDesc)
	assert.Equal(t, int64(800), inv.PrincipalCents)
	// Every line stays visible as a secondary item.
	assert.Len(t, inv.SecondaryItems, 3)
}

func TestParseAllItemsExcludedFallsBackToFirst(t *testing.T) {
	raw := invoiceXML(
		field("NUMERO DE LIBRO", "20251701018P00002"),
		item("TASA NOTARIAL", "2.00")+item("FORMULARIO REGISTRO", "1.50"),
	)

	inv, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "TASA NOTARIAL", inv.PrincipalDesc)
	assert.Equal(t, int64(200), inv.PrincipalCents)
	assert.Equal(t, []domain.Item{{Description: "FORMULARIO REGISTRO", AmountCents: 150}}, inv.SecondaryItems)
}

func TestParseMissingStaffYieldsUnassigned(t *testing.T) {
	raw := invoiceXML(
		field("NUMERO DE LIBRO", "20251701018P00003"),
		item("ESCRITURA", "50.00"),
	)

	inv, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.UnassignedStaff, inv.StaffNameRaw)
}

func TestParseEmailFallsBackToAltField(t *testing.T) {
	raw := invoiceXML(
		field("NUMERO DE LIBRO", "20251701018P00004")+
			field("EMAIL", "alt@example.com"),
		item("ESCRITURA", "50.00"),
	)

	inv, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "alt@example.com", inv.Client.Email)
}

func TestFieldLookupIsCaseInsensitive(t *testing.T) {
	raw := invoiceXML(
		field("Numero de Libro", " 20251701018P00005 "),
		item("ESCRITURA", "50.00"),
	)

	inv, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "20251701018P00005", inv.ProtocolNumber)
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"120.50", 12050},
		{"120.5", 12050},
		{"120", 12000},
		{"0.07", 7},
		{"", 0},
		{"-3.25", -325},
		{"12.505", 1250},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCents(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseCents("abc")
	assert.Error(t, err)
}

func TestParseTotalFallsBackToItemSum(t *testing.T) {
	// importeTotal is zero in the fixture header, so the parser derives the
	// total from the lines.
	raw := invoiceXML(
		field("NUMERO DE LIBRO", "20251701018P00006"),
		item("ESCRITURA", "50.00")+item("BIOMETRICO", "3.50"),
	)

	inv, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(5350), inv.TotalCents)
}
