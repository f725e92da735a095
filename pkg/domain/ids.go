// Package domain defines typed identifiers shared across modules.
//
// Each entity gets its own ID type over uuid.UUID so the compiler rejects
// cross-entity mixups (passing a StaffID where a DocumentID is expected).
package domain

import (
	"github.com/google/uuid"

	dErrors "notaria/pkg/domainerrors"
)

type (
	DocumentID uuid.UUID
	GroupID    uuid.UUID
	StaffID    uuid.UUID
	AuditID    uuid.UUID
)

func (id DocumentID) String() string { return uuid.UUID(id).String() }
func (id GroupID) String() string    { return uuid.UUID(id).String() }
func (id StaffID) String() string    { return uuid.UUID(id).String() }
func (id AuditID) String() string    { return uuid.UUID(id).String() }

func (id DocumentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id GroupID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id StaffID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AuditID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func NewDocumentID() DocumentID { return DocumentID(uuid.New()) }
func NewGroupID() GroupID       { return GroupID(uuid.New()) }
func NewStaffID() StaffID       { return StaffID(uuid.New()) }
func NewAuditID() AuditID       { return AuditID(uuid.New()) }

// ParseDocumentID parses and validates a document ID at a trust boundary.
func ParseDocumentID(raw string) (DocumentID, error) {
	parsed, err := parse(raw)
	return DocumentID(parsed), err
}

// ParseGroupID parses and validates a group ID at a trust boundary.
func ParseGroupID(raw string) (GroupID, error) {
	parsed, err := parse(raw)
	return GroupID(parsed), err
}

// ParseStaffID parses and validates a staff ID at a trust boundary.
func ParseStaffID(raw string) (StaffID, error) {
	parsed, err := parse(raw)
	return StaffID(parsed), err
}

func parse(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "id cannot be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "id cannot be the nil UUID")
	}
	return parsed, nil
}
