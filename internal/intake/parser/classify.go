package parser

import (
	"strings"
	"unicode"

	"notaria/internal/domain"
)

// typeByLetter is the fixed classification table for the one-letter code
// embedded in every protocol number.
var typeByLetter = map[rune]domain.DocumentType{
	'P': domain.TypeProtocolo,
	'D': domain.TypeDiligencia,
	'A': domain.TypeArrendamiento,
	'C': domain.TypeCertificacion,
}

// TypeFromProtocol classifies a protocol number by its embedded letter.
// Unknown or absent letters fall back to OTROS rather than failing: the
// document is still tracked, just uncategorized.
func TypeFromProtocol(protocol string) domain.DocumentType {
	for _, r := range protocol {
		if unicode.IsLetter(r) {
			if docType, ok := typeByLetter[unicode.ToUpper(r)]; ok {
				return docType
			}
			return domain.TypeOtros
		}
	}
	return domain.TypeOtros
}

// secondaryMarkers flags line items that are pass-through charges rather
// than notarial acts: government lookups, biometric checks, administrative
// fees. Matching is case-insensitive contains.
var secondaryMarkers = []string{
	"BIOMETRIC",
	"CONSULTA",
	"REGISTRO CIVIL",
	"DINARDAP",
	"TASA",
	"FORMULARIO",
	"ENVIO",
}

// isSecondaryItem reports whether a line item description marks a
// pass-through charge.
func isSecondaryItem(description string) bool {
	upper := strings.ToUpper(description)
	for _, marker := range secondaryMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
