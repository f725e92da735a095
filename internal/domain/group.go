package domain

import (
	"strings"
	"time"

	id "notaria/pkg/domain"
	dErrors "notaria/pkg/domainerrors"
)

// DocumentGroup bundles documents for one client into a single delivery.
//
// Invariants:
//   - GroupCode and VerificationCode are unique; the verification code is
//     exactly four digits and maps to exactly one group
//   - Status moves READY → DELIVERED exactly once, atomically with every
//     member document
//   - Groups are never destroyed; DELIVERED is the soft-terminal state
type DocumentGroup struct {
	ID               id.GroupID  `json:"id"`
	GroupCode        string      `json:"group_code"`
	VerificationCode string      `json:"verification_code"`
	Client           Client      `json:"client"`
	CreatedBy        id.StaffID  `json:"created_by"`
	DocumentsCount   int         `json:"documents_count"`
	Status           GroupStatus `json:"status"`
	DeliveredAt      *time.Time  `json:"delivered_at,omitempty"`
	DeliveredTo      string      `json:"delivered_to,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewDocumentGroup constructs a READY group, validating invariants. The
// client snapshot is captured at creation time and never updated afterwards.
func NewDocumentGroup(groupID id.GroupID, groupCode, verificationCode string, client Client, createdBy id.StaffID, count int, now time.Time) (*DocumentGroup, error) {
	if strings.TrimSpace(groupCode) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "group code cannot be empty")
	}
	if len(verificationCode) != 4 || strings.Trim(verificationCode, "0123456789") != "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "verification code must be exactly four digits")
	}
	if count < 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "group needs at least one document")
	}
	return &DocumentGroup{
		ID:               groupID,
		GroupCode:        groupCode,
		VerificationCode: verificationCode,
		Client:           client,
		CreatedBy:        createdBy,
		DocumentsCount:   count,
		Status:           GroupStatusReady,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CanDeliver checks the group has not been delivered yet.
func (g *DocumentGroup) CanDeliver() error {
	if g.Status == GroupStatusDelivered {
		return dErrors.New(dErrors.CodeInvariantViolation, "group is already delivered").
			WithDetail("group_code", g.GroupCode)
	}
	return nil
}

// ApplyDelivery stamps the delivered state. Call CanDeliver first; delivery
// timestamps are never re-stamped.
func (g *DocumentGroup) ApplyDelivery(recipient string, now time.Time) {
	g.Status = GroupStatusDelivered
	g.DeliveredTo = recipient
	deliveredAt := now
	g.DeliveredAt = &deliveredAt
	g.UpdatedAt = now
}
