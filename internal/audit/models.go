package audit

import (
	"time"

	id "notaria/pkg/domain"
)

// Action identifies what happened to an entity.
type Action string

const (
	ActionDocumentCreated   Action = "document_created"
	ActionDocumentAssigned  Action = "document_assigned"
	ActionDocumentReady     Action = "document_ready"
	ActionDocumentDelivered Action = "document_delivered"
	ActionDocumentReverted  Action = "document_reverted"
	ActionGroupCreated      Action = "group_created"
	ActionGroupDelivered    Action = "group_delivered"
	ActionFileQuarantined   Action = "file_quarantined"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        id.AuditID        `json:"id"`
	EntityID  string            `json:"entity_id"`
	ActorID   string            `json:"actor_id"`
	Action    Action            `json:"action"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
