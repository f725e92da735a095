// Package parser normalizes raw invoice XML into the typed fields the
// intake pipeline persists. It is pure: no I/O, no clocks, no stores.
package parser

import (
	"strconv"
	"strings"

	"notaria/internal/domain"
	dErrors "notaria/pkg/domainerrors"
)

// Supplementary field names written by the billing system.
const (
	fieldProtocol = "NUMERO DE LIBRO"
	fieldMobile   = "CELULAR"
	fieldEmail    = "CORREO"
	fieldEmailAlt = "EMAIL"
	fieldStaff    = "MATRIZADOR"
)

// certificacionLabel is the aggregate principal label for CERTIFICACION
// documents, which bill many small certificate lines as one act.
const certificacionLabel = "CERTIFICACIONES"

// NormalizedInvoice is the parser output: everything the processor needs to
// create a Document, plus the raw source for quarantine and audit trails.
type NormalizedInvoice struct {
	ProtocolNumber string
	Type           domain.DocumentType
	Client         domain.Client
	PrincipalDesc  string
	PrincipalCents int64
	SecondaryItems []domain.Item
	TotalCents     int64
	StaffNameRaw   string
}

// Parse normalizes a raw invoice document.
//
// The protocol number is mandatory; everything else degrades gracefully: a
// missing staff field yields the unassigned sentinel, a missing mobile or
// email leaves the contact blank.
func Parse(raw []byte) (*NormalizedInvoice, error) {
	inv, err := DecodeInvoice(raw)
	if err != nil {
		return nil, err
	}

	protocol := inv.Field(fieldProtocol)
	if protocol == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "invoice has no protocol number field").
			WithDetail("field", fieldProtocol)
	}

	docType := TypeFromProtocol(protocol)

	email := inv.Field(fieldEmail)
	if email == "" {
		email = inv.Field(fieldEmailAlt)
	}
	client := domain.Client{
		Name: strings.TrimSpace(inv.Header.BuyerName),
		// The mobile field, not the landline: this is the number the
		// delivery notification goes to.
		Phone: inv.Field(fieldMobile),
		Email: email,
	}

	staffName := inv.Field(fieldStaff)
	if staffName == "" {
		staffName = domain.UnassignedStaff
	}

	items, err := normalizeItems(inv.Details.Items)
	if err != nil {
		return nil, err
	}

	out := &NormalizedInvoice{
		ProtocolNumber: protocol,
		Type:           docType,
		Client:         client,
		StaffNameRaw:   staffName,
	}
	classifyItems(out, docType, items)

	out.TotalCents, err = parseCents(inv.Header.Total)
	if err != nil || out.TotalCents == 0 {
		out.TotalCents = sumItems(items)
	}
	return out, nil
}

// classifyItems splits the line items into principal act and secondary
// charges according to the document type.
func classifyItems(out *NormalizedInvoice, docType domain.DocumentType, items []domain.Item) {
	if len(items) == 0 {
		return
	}

	if docType == domain.TypeCertificacion {
		// Certificates aggregate: one principal covering the summed
		// value, and every line recorded as a secondary item.
		out.PrincipalDesc = certificacionLabel
		out.PrincipalCents = sumItems(items)
		out.SecondaryItems = items
		return
	}

	var principalSet bool
	var principal domain.Item
	for _, item := range items {
		if isSecondaryItem(item.Description) {
			out.SecondaryItems = append(out.SecondaryItems, item)
			continue
		}
		if !principalSet || item.AmountCents > principal.AmountCents {
			if principalSet {
				out.SecondaryItems = append(out.SecondaryItems, principal)
			}
			principal = item
			principalSet = true
		} else {
			out.SecondaryItems = append(out.SecondaryItems, item)
		}
	}

	if !principalSet {
		// Every line matched the exclusion list. Fall back to the first
		// item so the document still has a principal act.
		principal = items[0]
		out.SecondaryItems = nil
		for _, item := range items[1:] {
			out.SecondaryItems = append(out.SecondaryItems, item)
		}
	}

	out.PrincipalDesc = principal.Description
	out.PrincipalCents = principal.AmountCents
}

func normalizeItems(lines []LineItem) ([]domain.Item, error) {
	items := make([]domain.Item, 0, len(lines))
	for _, line := range lines {
		cents, err := parseCents(line.Total)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invoice line has an invalid amount").
				WithDetail("description", line.Description)
		}
		items = append(items, domain.Item{
			Description: strings.TrimSpace(line.Description),
			AmountCents: cents,
		})
	}
	return items, nil
}

func sumItems(items []domain.Item) int64 {
	var total int64
	for _, item := range items {
		total += item.AmountCents
	}
	return total
}

// parseCents converts a decimal amount string ("12.50") to cents without
// floating point. Empty strings parse to zero.
func parseCents(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, nil
	}
	whole, frac, _ := strings.Cut(amount, ".")
	negative := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")
	if whole == "" {
		whole = "0"
	}

	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}

	var fracVal int64
	switch {
	case len(frac) == 0:
	case len(frac) == 1:
		fracVal, err = strconv.ParseInt(frac, 10, 64)
		fracVal *= 10
	default:
		fracVal, err = strconv.ParseInt(frac[:2], 10, 64)
	}
	if err != nil {
		return 0, err
	}

	cents := wholeVal*100 + fracVal
	if negative {
		cents = -cents
	}
	return cents, nil
}
