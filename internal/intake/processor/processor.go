// Package processor orchestrates one invoice file through the pipeline:
// parse, dedup, persist, assign, relocate. Files always leave the intake
// directory through the processed tree or the error tree, never any other
// way.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"notaria/internal/assignment"
	"notaria/internal/audit"
	"notaria/internal/domain"
	intakemetrics "notaria/internal/intake/metrics"
	"notaria/internal/intake/parser"
	"notaria/internal/storage"
	id "notaria/pkg/domain"
	dErrors "notaria/pkg/domainerrors"
	"notaria/pkg/platform/sentinel"
)

// Assigner is the assignment seam; satisfied by assignment.Service. Failures
// here never abort document creation.
type Assigner interface {
	Resolve(ctx context.Context, docID id.DocumentID, staffNameRaw string) (assignment.MatchResult, error)
}

// AuditPublisher is the audit seam; satisfied by audit.Publisher.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Result is the per-file outcome. Duplicated means the protocol was already
// ingested; the file was relocated and no new record created.
type Result struct {
	Duplicated     bool
	DocumentID     id.DocumentID
	ProtocolNumber string
}

// Service processes intake files.
type Service struct {
	docs           storage.DocumentStore
	staff          storage.StaffStore
	assigner       Assigner
	auditPublisher AuditPublisher
	processedDir   string
	errorDir       string
	systemActor    string
	logger         *slog.Logger
	metrics        *intakemetrics.Metrics
	now            func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAssigner(assigner Assigner) Option {
	return func(s *Service) { s.assigner = assigner }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithMetrics(m *intakemetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSystemActor names the synthetic identity that automatically created
// records are attributed to.
func WithSystemActor(name string) Option {
	return func(s *Service) { s.systemActor = name }
}

func New(docs storage.DocumentStore, staff storage.StaffStore, processedDir, errorDir string, opts ...Option) *Service {
	s := &Service{
		docs:         docs,
		staff:        staff,
		processedDir: processedDir,
		errorDir:     errorDir,
		systemActor:  "SISTEMA",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessFile runs one file through the pipeline.
//
// Validation failures (empty file, malformed XML, missing protocol) are
// returned with CodeValidation so the caller can quarantine without burning
// retries on a deterministic failure. Persistence failures leave the file in
// place for the caller's retry loop. A protocol seen before, whether caught
// by the pre-check or by the store's uniqueness constraint, is the
// recognized duplicated outcome, not an error.
func (s *Service) ProcessFile(ctx context.Context, path string) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "cannot read intake file")
	}
	if len(raw) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "intake file is empty")
	}

	parsed, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	if existing, err := s.docs.FindByProtocol(ctx, parsed.ProtocolNumber); err == nil {
		return s.finishDuplicate(ctx, path, existing)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "duplicate pre-check failed")
	}

	actor, err := s.staff.EnsureSystemActor(ctx, s.systemActor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "cannot resolve system actor")
	}

	doc, err := s.buildDocument(parsed)
	if err != nil {
		return nil, err
	}

	if err := s.docs.CreateIfProtocolAvailable(ctx, doc); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			// Another worker won the race between pre-check and insert.
			existing, findErr := s.docs.FindByProtocol(ctx, parsed.ProtocolNumber)
			if findErr != nil {
				return nil, dErrors.Wrap(findErr, dErrors.CodeUnavailable, "cannot load racing duplicate")
			}
			return s.finishDuplicate(ctx, path, existing)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "cannot persist document")
	}

	s.emitAudit(ctx, audit.Event{
		EntityID: doc.ID.String(),
		ActorID:  actor.ID.String(),
		Action:   audit.ActionDocumentCreated,
		Detail: map[string]string{
			"protocol": doc.ProtocolNumber,
			"type":     string(doc.Type),
			"source":   filepath.Base(path),
		},
	})

	s.resolveAssignment(ctx, doc)

	if err := s.relocateProcessed(path); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.FilesProcessed.Inc()
	}
	s.log(ctx, "file processed",
		"file", filepath.Base(path),
		"protocol", doc.ProtocolNumber,
		"document_id", doc.ID.String())
	return &Result{DocumentID: doc.ID, ProtocolNumber: doc.ProtocolNumber}, nil
}

func (s *Service) buildDocument(parsed *parser.NormalizedInvoice) (*domain.Document, error) {
	doc, err := domain.NewDocument(id.NewDocumentID(), parsed.ProtocolNumber, parsed.Type, parsed.Client, s.now())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invoice does not form a valid document")
	}
	doc.PrincipalDesc = parsed.PrincipalDesc
	doc.PrincipalCents = parsed.PrincipalCents
	doc.SecondaryItems = parsed.SecondaryItems
	doc.TotalCents = parsed.TotalCents
	doc.StaffNameRaw = parsed.StaffNameRaw
	return doc, nil
}

// finishDuplicate relocates an already-ingested file and reports the
// idempotent outcome.
func (s *Service) finishDuplicate(ctx context.Context, path string, existing *domain.Document) (*Result, error) {
	if err := s.relocateProcessed(path); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.FilesDuplicated.Inc()
	}
	s.log(ctx, "duplicate protocol, file relocated",
		"file", filepath.Base(path),
		"protocol", existing.ProtocolNumber,
		"document_id", existing.ID.String())
	return &Result{
		Duplicated:     true,
		DocumentID:     existing.ID,
		ProtocolNumber: existing.ProtocolNumber,
	}, nil
}

// resolveAssignment is best-effort: a resolver failure is logged and the
// document stays pending for manual assignment.
func (s *Service) resolveAssignment(ctx context.Context, doc *domain.Document) {
	if s.assigner == nil || doc.StaffNameRaw == domain.UnassignedStaff {
		return
	}
	if _, err := s.assigner.Resolve(ctx, doc.ID, doc.StaffNameRaw); err != nil {
		s.logWarn(ctx, "assignment resolution failed",
			"document_id", doc.ID.String(),
			"staff_name_raw", doc.StaffNameRaw,
			"error", err)
	}
}

func (s *Service) relocateProcessed(path string) error {
	dst := filepath.Join(s.processedDir, s.now().Format("2006-01-02"), filepath.Base(path))
	if err := relocate(path, dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "cannot relocate processed file")
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logWarn(ctx, "audit emit failed", "entity_id", event.EntityID, "error", err)
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
