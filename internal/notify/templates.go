package notify

import (
	"strings"
	"text/template"

	"notaria/internal/domain"
)

// Client-facing message templates. Amounts are rendered by the caller-side
// systems; these messages only name documents and codes.

var documentReadyTmpl = template.Must(template.New("document_ready").Parse(
	`Estimado/a {{.ClientName}}: su documento {{.Protocol}} ({{.Type}}) está listo para retiro en la notaría.`))

var groupReadyTmpl = template.Must(template.New("group_ready").Parse(
	`Estimado/a {{.ClientName}}: sus {{.Count}} documentos están listos para retiro conjunto. ` +
		`Presente el código de verificación {{.VerificationCode}} en la notaría. Documentos: {{.Protocols}}.`))

var groupDeliveredTmpl = template.Must(template.New("group_delivered").Parse(
	`Estimado/a {{.ClientName}}: los documentos del grupo {{.GroupCode}} fueron entregados a {{.DeliveredTo}}.`))

func renderDocumentReady(doc *domain.Document) (string, error) {
	return render(documentReadyTmpl, map[string]any{
		"ClientName": doc.Client.Name,
		"Protocol":   doc.ProtocolNumber,
		"Type":       string(doc.Type),
	})
}

func renderGroupReady(group *domain.DocumentGroup, docs []*domain.Document) (string, error) {
	protocols := make([]string, 0, len(docs))
	for _, doc := range docs {
		protocols = append(protocols, doc.ProtocolNumber)
	}
	return render(groupReadyTmpl, map[string]any{
		"ClientName":       group.Client.Name,
		"Count":            len(docs),
		"VerificationCode": group.VerificationCode,
		"Protocols":        strings.Join(protocols, ", "),
	})
}

func renderGroupDelivered(group *domain.DocumentGroup) (string, error) {
	return render(groupDeliveredTmpl, map[string]any{
		"ClientName":  group.Client.Name,
		"GroupCode":   group.GroupCode,
		"DeliveredTo": group.DeliveredTo,
	})
}

func render(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
