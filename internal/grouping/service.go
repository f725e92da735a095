// Package grouping bundles a client's in-progress documents into a single
// delivery claimed with one shared verification code.
package grouping

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"notaria/internal/audit"
	"notaria/internal/domain"
	groupingmetrics "notaria/internal/grouping/metrics"
	"notaria/internal/notify"
	"notaria/internal/storage"
	id "notaria/pkg/domain"
	dErrors "notaria/pkg/domainerrors"
	"notaria/pkg/platform/sentinel"
)

// AuditPublisher is the audit seam; satisfied by audit.Publisher.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// DeliveryInfo identifies who picked the group up.
type DeliveryInfo struct {
	ReceivedBy string
	ActorID    string
}

// CreateGroupResult carries the created group and its stamped members.
type CreateGroupResult struct {
	Group     *domain.DocumentGroup
	Documents []*domain.Document
}

// Service implements the grouping engine. All multi-document operations are
// all-or-nothing relative to their document set: validation happens against
// every member before any member is mutated, inside one transaction
// boundary.
type Service struct {
	docs           storage.DocumentStore
	groups         storage.GroupStore
	tx             storage.StoreTx
	reserver       CodeReserver
	dispatcher     notify.Dispatcher
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *groupingmetrics.Metrics
	now            func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithDispatcher(dispatcher notify.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = dispatcher }
}

func WithMetrics(m *groupingmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithCodeReserver(reserver CodeReserver) Option {
	return func(s *Service) { s.reserver = reserver }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(docs storage.DocumentStore, groups storage.GroupStore, tx storage.StoreTx, opts ...Option) *Service {
	s := &Service{
		docs:     docs,
		groups:   groups,
		tx:       tx,
		reserver: NewInMemoryReserver(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DetectGroupable lists the documents staffID could bundle for this client:
// assigned to them, IN_PROGRESS, ungrouped, and matching the client by phone
// equality or case-insensitive name equality.
func (s *Service) DetectGroupable(ctx context.Context, client domain.Client, staffID id.StaffID) ([]*domain.Document, error) {
	if staffID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "staff id is required")
	}
	docs, err := s.docs.ListGroupable(ctx, client, staffID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list groupable documents")
	}
	return docs, nil
}

// MarkReady moves a single ungrouped document to READY for individual
// pickup and notifies the client. Grouped documents reach READY through
// CreateGroup instead.
func (s *Service) MarkReady(ctx context.Context, docID id.DocumentID, actorID id.StaffID) (*domain.Document, error) {
	if docID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "document id is required")
	}
	now := s.now()
	doc, err := s.docs.Execute(ctx, docID,
		func(d *domain.Document) error {
			if d.IsGrouped {
				return dErrors.New(dErrors.CodeInvariantViolation, "grouped documents move through their group").
					WithDetail("document_id", d.ID.String())
			}
			return d.CanMarkReady()
		},
		func(d *domain.Document) {
			d.ApplyReady(now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
		}
		return nil, err
	}

	if s.auditPublisher != nil {
		event := audit.Event{
			EntityID: doc.ID.String(),
			ActorID:  actorID.String(),
			Action:   audit.ActionDocumentReady,
			Detail:   map[string]string{"protocol_number": doc.ProtocolNumber},
		}
		if err := s.auditPublisher.Emit(ctx, event); err != nil {
			s.logWarn(ctx, "audit emit failed", "document_id", doc.ID.String(), "error", err)
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.DocumentReady(ctx, doc); err != nil {
			s.logWarn(ctx, "document ready notification failed",
				"document_id", doc.ID.String(), "error", err)
		}
	}
	s.log(ctx, "document marked ready",
		"document_id", doc.ID.String(),
		"protocol_number", doc.ProtocolNumber)
	return doc, nil
}

// CreateGroup bundles the documents into a new READY group. Every document
// must belong to staffID, be ungrouped and undelivered, and share the same
// client; any violation rejects the whole call, naming the offending ids,
// and mutates nothing.
func (s *Service) CreateGroup(ctx context.Context, docIDs []id.DocumentID, staffID id.StaffID) (*CreateGroupResult, error) {
	if len(docIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "group needs at least one document")
	}
	if staffID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "staff id is required")
	}
	if dup := firstDuplicate(docIDs); dup != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "document listed twice in group").
			WithDetail("offending_ids", dup.String())
	}

	// Best-effort pre-validation so the caller sees every offending id at
	// once. The transactional ExecuteMany below remains authoritative.
	leader, offending, err := s.prevalidate(ctx, docIDs, staffID)
	if err != nil {
		return nil, err
	}
	if len(offending) > 0 {
		s.incrementValidationFailure()
		return nil, dErrors.New(dErrors.CodeValidation, "documents not eligible for grouping").
			WithDetail("offending_ids", strings.Join(offending, ","))
	}

	verificationCode, err := NewVerificationCode(ctx, s.reserver)
	if err != nil {
		return nil, err
	}
	now := s.now()
	group, err := domain.NewDocumentGroup(id.NewGroupID(), NewGroupCode(), verificationCode, leader.Client, staffID, len(docIDs), now)
	if err != nil {
		return nil, err
	}

	result := &CreateGroupResult{Group: group}
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.groups.CreateIfCodeAvailable(txCtx, group); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "group code already in use")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create group")
		}
		docs, err := s.docs.ExecuteMany(txCtx, docIDs,
			func(d *domain.Document) error {
				if err := d.CanJoinGroup(staffID); err != nil {
					return err
				}
				if !d.Client.Matches(leader.Client) {
					return dErrors.New(dErrors.CodeValidation, "document belongs to a different client").
						WithDetail("offending_ids", d.ID.String())
				}
				return nil
			},
			func(d *domain.Document, position int) {
				d.ApplyGrouping(group.ID, verificationCode, position, now)
			},
		)
		if err != nil {
			// A SQL transaction rolls the group insert back on its own; the
			// in-memory stores cannot, so remove the row explicitly rather
			// than leave an orphan group with a live verification code.
			if delErr := s.groups.Delete(txCtx, group.ID); delErr != nil {
				s.logWarn(txCtx, "failed to remove group after rejected grouping",
					"group_code", group.GroupCode, "error", delErr)
			}
			return err
		}
		result.Documents = docs
		return nil
	})
	if err != nil {
		s.incrementValidationFailure()
		return nil, err
	}

	s.emitGroupCreated(ctx, result)
	s.notifyGroupReady(ctx, result)
	if s.metrics != nil {
		s.metrics.GroupsCreated.Inc()
		s.metrics.GroupedDocuments.Add(float64(len(result.Documents)))
	}
	s.log(ctx, "group created",
		"group_code", group.GroupCode,
		"documents", len(result.Documents),
		"staff_id", staffID.String())
	return result, nil
}

// DeliverGroup hands the group to the client identified by the verification
// code. The group and every member document move to DELIVERED atomically;
// a second call with the same code fails without re-stamping anything.
func (s *Service) DeliverGroup(ctx context.Context, verificationCode string, info DeliveryInfo) (*domain.DocumentGroup, error) {
	verificationCode = strings.TrimSpace(verificationCode)
	if verificationCode == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "verification code is required")
	}
	if strings.TrimSpace(info.ReceivedBy) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "recipient name is required")
	}

	found, err := s.groups.FindByVerificationCode(ctx, verificationCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no group matches this verification code")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up group")
	}

	now := s.now()
	var delivered *domain.DocumentGroup
	var members []*domain.Document
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		// Check the group inside the transaction so a second delivery is a
		// clean conflict, but stamp it only after every member: should the
		// member set fail, a store without rollback has not touched the
		// group row.
		group, err := s.groups.FindByID(txCtx, found.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
		}
		if err := group.CanDeliver(); err != nil {
			return dErrors.New(dErrors.CodeConflict, "group is already delivered")
		}

		current, err := s.docs.ListByGroup(txCtx, found.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list group documents")
		}
		memberIDs := make([]id.DocumentID, 0, len(current))
		for _, doc := range current {
			memberIDs = append(memberIDs, doc.ID)
		}
		members, err = s.docs.ExecuteMany(txCtx, memberIDs,
			func(d *domain.Document) error {
				return d.CanDeliver()
			},
			func(d *domain.Document, _ int) {
				d.ApplyDelivery(info.ReceivedBy, now)
			},
		)
		if err != nil {
			return err
		}

		delivered, err = s.groups.Execute(txCtx, found.ID,
			func(g *domain.DocumentGroup) error {
				return g.CanDeliver()
			},
			func(g *domain.DocumentGroup) {
				g.ApplyDelivery(info.ReceivedBy, now)
			},
		)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
				return dErrors.New(dErrors.CodeConflict, "group is already delivered")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitGroupDelivered(ctx, delivered, members, info)
	s.notifyGroupDelivered(ctx, delivered)
	if s.metrics != nil {
		s.metrics.GroupsDelivered.Inc()
	}
	s.log(ctx, "group delivered",
		"group_code", delivered.GroupCode,
		"documents", len(members),
		"received_by", info.ReceivedBy)
	return delivered, nil
}

// prevalidate loads every document and collects all violations. Returns the
// first document as the client snapshot leader.
func (s *Service) prevalidate(ctx context.Context, docIDs []id.DocumentID, staffID id.StaffID) (*domain.Document, []string, error) {
	var leader *domain.Document
	var offending []string
	for _, docID := range docIDs {
		doc, err := s.docs.FindByID(ctx, docID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				offending = append(offending, docID.String())
				continue
			}
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
		}
		if leader == nil {
			leader = doc
		}
		if err := doc.CanJoinGroup(staffID); err != nil {
			offending = append(offending, docID.String())
			continue
		}
		if !doc.Client.Matches(leader.Client) {
			offending = append(offending, docID.String())
		}
	}
	if leader == nil {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "no documents found for grouping").
			WithDetail("offending_ids", strings.Join(offending, ","))
	}
	return leader, offending, nil
}

func (s *Service) emitGroupCreated(ctx context.Context, result *CreateGroupResult) {
	if s.auditPublisher == nil {
		return
	}
	event := audit.Event{
		EntityID: result.Group.ID.String(),
		ActorID:  result.Group.CreatedBy.String(),
		Action:   audit.ActionGroupCreated,
		Detail: map[string]string{
			"group_code": result.Group.GroupCode,
			"documents":  strings.Join(protocolNumbers(result.Documents), ","),
		},
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logWarn(ctx, "audit emit failed", "group_code", result.Group.GroupCode, "error", err)
	}
}

func (s *Service) emitGroupDelivered(ctx context.Context, group *domain.DocumentGroup, members []*domain.Document, info DeliveryInfo) {
	if s.auditPublisher == nil {
		return
	}
	// One event per member keeps each document's trail self-contained.
	for _, doc := range members {
		event := audit.Event{
			EntityID: doc.ID.String(),
			ActorID:  info.ActorID,
			Action:   audit.ActionDocumentDelivered,
			Detail: map[string]string{
				"group_code":  group.GroupCode,
				"received_by": info.ReceivedBy,
			},
		}
		if err := s.auditPublisher.Emit(ctx, event); err != nil {
			s.logWarn(ctx, "audit emit failed", "document_id", doc.ID.String(), "error", err)
		}
	}
	event := audit.Event{
		EntityID: group.ID.String(),
		ActorID:  info.ActorID,
		Action:   audit.ActionGroupDelivered,
		Detail: map[string]string{
			"group_code":  group.GroupCode,
			"received_by": info.ReceivedBy,
		},
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logWarn(ctx, "audit emit failed", "group_code", group.GroupCode, "error", err)
	}
}

func (s *Service) notifyGroupReady(ctx context.Context, result *CreateGroupResult) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.GroupReady(ctx, result.Group, result.Documents); err != nil {
		s.logWarn(ctx, "group ready notification failed",
			"group_code", result.Group.GroupCode, "error", err)
	}
}

func (s *Service) notifyGroupDelivered(ctx context.Context, group *domain.DocumentGroup) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.GroupDelivered(ctx, group); err != nil {
		s.logWarn(ctx, "group delivered notification failed",
			"group_code", group.GroupCode, "error", err)
	}
}

func (s *Service) incrementValidationFailure() {
	if s.metrics != nil {
		s.metrics.ValidationFailures.Inc()
	}
}

func (s *Service) log(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *Service) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}

func firstDuplicate(docIDs []id.DocumentID) *id.DocumentID {
	seen := make(map[id.DocumentID]bool, len(docIDs))
	for _, docID := range docIDs {
		if seen[docID] {
			dup := docID
			return &dup
		}
		seen[docID] = true
	}
	return nil
}

func protocolNumbers(docs []*domain.Document) []string {
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.ProtocolNumber)
	}
	return out
}
