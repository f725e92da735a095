package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"notaria/internal/audit"
	dErrors "notaria/pkg/domainerrors"
)

// Quarantine preserves an unprocessable file for manual review: the original
// is copied into the dated error tree with a sidecar log naming the cause,
// and only then removed from intake. A failure here is the one fatal case in
// the pipeline, because it means input could be lost.
func (s *Service) Quarantine(ctx context.Context, path string, cause error) error {
	now := s.now()
	errorDir := filepath.Join(s.errorDir, now.Format("2006-01-02"))
	if err := os.MkdirAll(errorDir, 0o755); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "cannot create error directory")
	}

	name := filepath.Base(path)
	if err := copyFile(path, filepath.Join(errorDir, name)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "cannot copy file to error directory")
	}

	sidecar := fmt.Sprintf("timestamp: %s\nfile: %s\nerror: %v\n",
		now.Format(time.RFC3339), name, cause)
	if err := os.WriteFile(filepath.Join(errorDir, name+".error.log"), []byte(sidecar), 0o644); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "cannot write quarantine sidecar")
	}

	if err := os.Remove(path); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "cannot remove quarantined file from intake")
	}

	if s.metrics != nil {
		s.metrics.FilesQuarantined.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		EntityID: name,
		ActorID:  s.systemActor,
		Action:   audit.ActionFileQuarantined,
		Detail:   map[string]string{"error": cause.Error()},
	})
	s.logWarn(ctx, "file quarantined", "file", name, "error", cause)
	return nil
}
