// Package notify is the outbound notification seam. The concrete delivery
// channel lives outside this service; the shipped dispatcher renders the
// client-facing message and logs it. Notification failures are soft: they
// never block or reverse a status transition.
package notify

import (
	"context"
	"log/slog"

	"notaria/internal/domain"
)

// Dispatcher is invoked after READY and DELIVERED transitions with the
// client contact and rendered content.
type Dispatcher interface {
	DocumentReady(ctx context.Context, doc *domain.Document) error
	GroupReady(ctx context.Context, group *domain.DocumentGroup, docs []*domain.Document) error
	GroupDelivered(ctx context.Context, group *domain.DocumentGroup) error
}

// LogDispatcher renders messages and writes them to the structured log. It
// stands in for the real channel in development and single-office setups.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) DocumentReady(ctx context.Context, doc *domain.Document) error {
	body, err := renderDocumentReady(doc)
	if err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "notification rendered",
		"kind", "document_ready",
		"client_phone", doc.Client.Phone,
		"body", body)
	return nil
}

func (d *LogDispatcher) GroupReady(ctx context.Context, group *domain.DocumentGroup, docs []*domain.Document) error {
	body, err := renderGroupReady(group, docs)
	if err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "notification rendered",
		"kind", "group_ready",
		"client_phone", group.Client.Phone,
		"group_code", group.GroupCode,
		"body", body)
	return nil
}

func (d *LogDispatcher) GroupDelivered(ctx context.Context, group *domain.DocumentGroup) error {
	body, err := renderGroupDelivered(group)
	if err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "notification rendered",
		"kind", "group_delivered",
		"client_phone", group.Client.Phone,
		"group_code", group.GroupCode,
		"body", body)
	return nil
}
