package domain

import (
	"strings"
	"time"

	id "notaria/pkg/domain"
	dErrors "notaria/pkg/domainerrors"
)

// DocumentType is derived from the single letter embedded in the protocol
// number (see TypeFromProtocol in intake/parser).
type DocumentType string

const (
	TypeProtocolo     DocumentType = "PROTOCOLO"
	TypeDiligencia    DocumentType = "DILIGENCIA"
	TypeArrendamiento DocumentType = "ARRENDAMIENTO"
	TypeCertificacion DocumentType = "CERTIFICACION"
	TypeOtros         DocumentType = "OTROS"
)

// UnassignedStaff is the sentinel for invoices that do not name a handler.
// It is a recognized value, not an error.
const UnassignedStaff = "SIN ASIGNAR"

// Item is one invoice line carried on a document. Amounts are in cents to
// keep arithmetic exact.
type Item struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
}

// Client is the snapshot of the invoice buyer a document carries. Phone is
// the mobile number used for delivery notifications, never the landline.
type Client struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Matches reports whether two client snapshots identify the same person:
// phone equality, or exact name equality ignoring case. Used by the grouping
// engine to decide joint delivery eligibility.
func (c Client) Matches(other Client) bool {
	if c.Phone != "" && c.Phone == other.Phone {
		return true
	}
	return c.Name != "" && strings.EqualFold(c.Name, other.Name)
}

// Document is the aggregate for one tracked notarial transaction.
//
// Invariants:
//   - ProtocolNumber is non-empty and business-unique
//   - Status transitions are monotonic forward; reversions are single-step
//     and reason-carrying
//   - IsGrouped implies a non-nil GroupID and a non-empty verification code
//     equal to the group's code
type Document struct {
	ID             id.DocumentID  `json:"id"`
	ProtocolNumber string         `json:"protocol_number"`
	Type           DocumentType   `json:"type"`
	Client         Client         `json:"client"`
	PrincipalDesc  string         `json:"principal_description"`
	PrincipalCents int64          `json:"principal_cents"`
	SecondaryItems []Item         `json:"secondary_items"`
	TotalCents     int64          `json:"total_cents"`
	StaffNameRaw   string         `json:"staff_name_raw"`
	AssignedTo     *id.StaffID    `json:"assigned_to,omitempty"`
	Status         DocumentStatus `json:"status"`

	GroupID          *id.GroupID `json:"group_id,omitempty"`
	IsGrouped        bool        `json:"is_grouped"`
	GroupPosition    int         `json:"group_position"`
	GroupLeader      bool        `json:"group_leader"`
	VerificationCode string      `json:"group_verification_code,omitempty"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	DeliveredTo string     `json:"delivered_to,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocument constructs a pending document, validating invariants.
func NewDocument(docID id.DocumentID, protocol string, docType DocumentType, client Client, now time.Time) (*Document, error) {
	protocol = strings.TrimSpace(protocol)
	if protocol == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "protocol number cannot be empty")
	}
	if client.Name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client name cannot be empty")
	}
	return &Document{
		ID:             docID,
		ProtocolNumber: protocol,
		Type:           docType,
		Client:         client,
		StaffNameRaw:   UnassignedStaff,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CanAssign checks the document accepts an assignee. Use with ApplyAssignment
// inside a store Execute callback.
func (d *Document) CanAssign() error {
	if d.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "document is not pending assignment").
			WithDetail("status", string(d.Status))
	}
	return nil
}

// ApplyAssignment sets the assignee and moves the document to IN_PROGRESS.
// Call CanAssign first to validate the transition.
func (d *Document) ApplyAssignment(staffID id.StaffID, now time.Time) {
	assignee := staffID
	d.AssignedTo = &assignee
	d.Status = StatusInProgress
	d.UpdatedAt = now
}

// CanJoinGroup checks the document is eligible for joint delivery: owned,
// in progress, and not already grouped or delivered.
func (d *Document) CanJoinGroup(staffID id.StaffID) error {
	if d.AssignedTo == nil || *d.AssignedTo != staffID {
		return dErrors.New(dErrors.CodeInvariantViolation, "document is not assigned to this staff member").
			WithDetail("document_id", d.ID.String())
	}
	if d.Status == StatusDelivered {
		return dErrors.New(dErrors.CodeInvariantViolation, "document is already delivered").
			WithDetail("document_id", d.ID.String())
	}
	if d.IsGrouped {
		return dErrors.New(dErrors.CodeInvariantViolation, "document already belongs to a group").
			WithDetail("document_id", d.ID.String())
	}
	if d.Status != StatusInProgress {
		return dErrors.New(dErrors.CodeInvariantViolation, "document is not in progress").
			WithDetail("document_id", d.ID.String())
	}
	return nil
}

// ApplyGrouping stamps group membership and moves the document to READY.
// Position is the submission order; position zero is the group leader.
func (d *Document) ApplyGrouping(groupID id.GroupID, verificationCode string, position int, now time.Time) {
	gid := groupID
	d.GroupID = &gid
	d.IsGrouped = true
	d.GroupPosition = position
	d.GroupLeader = position == 0
	d.VerificationCode = verificationCode
	d.Status = StatusReady
	d.UpdatedAt = now
}

// CanMarkReady checks the document can move to READY outside of grouping.
func (d *Document) CanMarkReady() error {
	if !d.Status.CanTransitionTo(StatusReady) {
		return dErrors.New(dErrors.CodeInvariantViolation, "document cannot move to ready").
			WithDetail("status", string(d.Status))
	}
	return nil
}

// ApplyReady moves the document to READY.
func (d *Document) ApplyReady(now time.Time) {
	d.Status = StatusReady
	d.UpdatedAt = now
}

// CanDeliver checks the document can be handed to the client.
func (d *Document) CanDeliver() error {
	if d.Status == StatusDelivered {
		return dErrors.New(dErrors.CodeInvariantViolation, "document is already delivered").
			WithDetail("document_id", d.ID.String())
	}
	if d.Status != StatusReady {
		return dErrors.New(dErrors.CodeInvariantViolation, "document is not ready for delivery").
			WithDetail("document_id", d.ID.String())
	}
	return nil
}

// ApplyDelivery stamps the terminal delivered state.
func (d *Document) ApplyDelivery(recipient string, now time.Time) {
	d.Status = StatusDelivered
	d.DeliveredTo = recipient
	deliveredAt := now
	d.DeliveredAt = &deliveredAt
	d.UpdatedAt = now
}

// ApplyReversion steps the document back one status with an explicit reason.
// Reversions without a reason are rejected; delivered documents never revert.
func (d *Document) ApplyReversion(prev DocumentStatus, reason string, now time.Time) error {
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "status reversion requires a reason")
	}
	if !d.Status.CanRevertTo(prev) {
		return dErrors.New(dErrors.CodeInvariantViolation, "status reversion not allowed").
			WithDetail("from", string(d.Status)).
			WithDetail("to", string(prev))
	}
	d.Status = prev
	d.UpdatedAt = now
	return nil
}
