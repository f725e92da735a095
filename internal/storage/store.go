// Package storage defines the persistence seams for the intake pipeline.
//
// Stores are interface-driven to keep the domain logic testable and to allow
// swapping in-memory and PostgreSQL persistence without rewiring business
// code. Uniqueness of protocol numbers and verification codes is enforced by
// the store, not by callers: pre-checks in services are best-effort and the
// store is the authoritative guard under concurrency.
package storage

import (
	"context"

	"notaria/internal/domain"
	id "notaria/pkg/domain"
)

// DocumentStore persists tracked documents.
type DocumentStore interface {
	// CreateIfProtocolAvailable inserts the document, returning
	// sentinel.ErrAlreadyUsed when the protocol number is taken.
	CreateIfProtocolAvailable(ctx context.Context, doc *domain.Document) error
	FindByID(ctx context.Context, docID id.DocumentID) (*domain.Document, error)
	FindByProtocol(ctx context.Context, protocol string) (*domain.Document, error)
	// ListGroupable returns documents assigned to staffID that are
	// IN_PROGRESS, ungrouped, and match the client snapshot.
	ListGroupable(ctx context.Context, client domain.Client, staffID id.StaffID) ([]*domain.Document, error)
	// ListByGroup returns the member documents of a group in position order.
	ListByGroup(ctx context.Context, groupID id.GroupID) ([]*domain.Document, error)
	// Execute atomically runs validate then mutate against one document,
	// holding the store lock (mutex or SELECT FOR UPDATE) throughout.
	Execute(ctx context.Context, docID id.DocumentID, validate func(*domain.Document) error, mutate func(*domain.Document)) (*domain.Document, error)
	// ExecuteMany is Execute over a document set: every document is
	// validated before any is mutated, all under one lock or transaction.
	// Order of the returned documents follows the requested ids.
	ExecuteMany(ctx context.Context, docIDs []id.DocumentID, validate func(*domain.Document) error, mutate func(*domain.Document, int)) ([]*domain.Document, error)
}

// GroupStore persists delivery groups.
type GroupStore interface {
	// CreateIfCodeAvailable inserts the group, returning
	// sentinel.ErrAlreadyUsed when the group code or verification code is
	// taken.
	CreateIfCodeAvailable(ctx context.Context, group *domain.DocumentGroup) error
	FindByID(ctx context.Context, groupID id.GroupID) (*domain.DocumentGroup, error)
	FindByVerificationCode(ctx context.Context, code string) (*domain.DocumentGroup, error)
	Execute(ctx context.Context, groupID id.GroupID, validate func(*domain.DocumentGroup) error, mutate func(*domain.DocumentGroup)) (*domain.DocumentGroup, error)
	// Delete removes a group row. Groups are never deleted once live; this
	// exists so a rejected grouping can compensate the group insert in
	// stores that cannot roll back.
	Delete(ctx context.Context, groupID id.GroupID) error
}

// StaffStore reads staff accounts for assignment matching.
type StaffStore interface {
	ListActive(ctx context.Context) ([]domain.StaffAccount, error)
	FindByID(ctx context.Context, staffID id.StaffID) (domain.StaffAccount, error)
	// EnsureSystemActor finds or creates the synthetic account used to
	// attribute automatically created records.
	EnsureSystemActor(ctx context.Context, name string) (domain.StaffAccount, error)
}

// StoreTx wraps multi-store mutations in one transaction boundary. The
// in-memory implementation serializes callers; the PostgreSQL one opens a
// real transaction and shares it through context.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}
