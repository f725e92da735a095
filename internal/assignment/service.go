package assignment

import (
	"context"
	"log/slog"
	"time"

	assignmentmetrics "notaria/internal/assignment/metrics"
	"notaria/internal/audit"
	"notaria/internal/domain"
	"notaria/internal/storage"
	id "notaria/pkg/domain"
	dErrors "notaria/pkg/domainerrors"
)

// AuditPublisher is the audit seam; satisfied by audit.Publisher.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service resolves the staff name on a freshly created document and commits
// the assignment.
type Service struct {
	docs           storage.DocumentStore
	staff          storage.StaffStore
	priority       []domain.StaffRole
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *assignmentmetrics.Metrics
	now            func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithMetrics(m *assignmentmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRolePriority(priority []domain.StaffRole) Option {
	return func(s *Service) { s.priority = priority }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(docs storage.DocumentStore, staff storage.StaffStore, opts ...Option) *Service {
	s := &Service{
		docs:     docs,
		staff:    staff,
		priority: domain.DefaultRolePriority,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve matches the document's raw staff name and, on a hit, assigns the
// document and moves it to IN_PROGRESS. A miss returns a None result with a
// nil error: an unassignable document stays pending for manual assignment.
func (s *Service) Resolve(ctx context.Context, docID id.DocumentID, staffNameRaw string) (MatchResult, error) {
	candidates, err := s.staff.ListActive(ctx)
	if err != nil {
		return MatchResult{Kind: MatchNone}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list staff accounts")
	}

	result := Match(staffNameRaw, candidates, s.priority)
	s.incrementResolution(result.Kind)
	if result.Kind == MatchNone {
		s.log(ctx, slog.LevelInfo, "no staff match for document",
			"document_id", docID.String(),
			"staff_name_raw", staffNameRaw)
		return result, nil
	}

	doc, err := s.docs.Execute(ctx, docID,
		func(d *domain.Document) error {
			return d.CanAssign()
		},
		func(d *domain.Document) {
			d.ApplyAssignment(result.Account.ID, s.now())
		},
	)
	if err != nil {
		return MatchResult{Kind: MatchNone}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit assignment")
	}

	s.emitAssigned(ctx, doc, result, staffNameRaw)
	s.log(ctx, slog.LevelInfo, "document assigned",
		"document_id", doc.ID.String(),
		"protocol", doc.ProtocolNumber,
		"staff_id", result.Account.ID.String(),
		"match_kind", string(result.Kind))
	return result, nil
}

func (s *Service) emitAssigned(ctx context.Context, doc *domain.Document, result MatchResult, raw string) {
	if s.auditPublisher == nil {
		return
	}
	event := audit.Event{
		EntityID: doc.ID.String(),
		ActorID:  result.Account.ID.String(),
		Action:   audit.ActionDocumentAssigned,
		Detail: map[string]string{
			"match_kind":     string(result.Kind),
			"staff_name_raw": raw,
			"matched_name":   result.Account.FullName(),
		},
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.log(ctx, slog.LevelWarn, "audit emit failed",
			"document_id", doc.ID.String(),
			"error", err)
	}
}

func (s *Service) incrementResolution(kind MatchKind) {
	if s.metrics != nil {
		s.metrics.IncrementResolution(string(kind))
	}
}

func (s *Service) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if s.logger != nil {
		s.logger.Log(ctx, level, msg, args...)
	}
}
