// Package postgres implements the storage interfaces on PostgreSQL.
//
// Uniqueness of protocol numbers and verification codes is enforced by
// unique indexes; a 23505 from the driver surfaces as
// sentinel.ErrAlreadyUsed so services can treat late-discovered duplicates
// as the idempotent outcome. Multi-document mutations run under SELECT ...
// FOR UPDATE inside the transaction carried in context.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"notaria/internal/audit"
	"notaria/internal/domain"
	"notaria/internal/storage"
	id "notaria/pkg/domain"
	"notaria/pkg/platform/sentinel"
	"notaria/pkg/platform/tx"
)

var (
	_ storage.DocumentStore = (*DocumentStore)(nil)
	_ storage.GroupStore    = (*GroupStore)(nil)
	_ storage.StaffStore    = (*StaffStore)(nil)
	_ storage.StoreTx       = (*Tx)(nil)
	_ audit.Store           = (*AuditStore)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Tx opens real SQL transactions and shares them through context so every
// store joins the same one.
type Tx struct {
	db *sql.DB
}

func NewTx(db *sql.DB) *Tx {
	return &Tx{db: db}
}

func (t *Tx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := tx.From(ctx); ok {
		// Already inside a transaction; join it.
		return fn(ctx)
	}
	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx.WithTx(ctx, sqlTx)); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// DocumentStore persists documents.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) q(ctx context.Context) querier {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

const documentColumns = `id, protocol_number, doc_type, client_name, client_phone, client_email,
	principal_desc, principal_cents, secondary_items, total_cents, staff_name_raw,
	assigned_to, status, group_id, is_grouped, group_position, group_leader,
	verification_code, delivered_at, delivered_to, created_at, updated_at`

func (s *DocumentStore) CreateIfProtocolAvailable(ctx context.Context, doc *domain.Document) error {
	items, err := json.Marshal(doc.SecondaryItems)
	if err != nil {
		return fmt.Errorf("marshal secondary items: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`,
		uuid.UUID(doc.ID), doc.ProtocolNumber, string(doc.Type),
		doc.Client.Name, doc.Client.Phone, doc.Client.Email,
		doc.PrincipalDesc, doc.PrincipalCents, items, doc.TotalCents, doc.StaffNameRaw,
		staffIDOrNil(doc.AssignedTo), string(doc.Status),
		groupIDOrNil(doc.GroupID), doc.IsGrouped, doc.GroupPosition, doc.GroupLeader,
		nullString(doc.VerificationCode), doc.DeliveredAt, nullString(doc.DeliveredTo),
		doc.CreatedAt, doc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *DocumentStore) FindByID(ctx context.Context, docID id.DocumentID) (*domain.Document, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, uuid.UUID(docID))
	return scanDocument(row)
}

func (s *DocumentStore) FindByProtocol(ctx context.Context, protocol string) (*domain.Document, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE protocol_number = $1`, protocol)
	return scanDocument(row)
}

func (s *DocumentStore) ListGroupable(ctx context.Context, client domain.Client, staffID id.StaffID) ([]*domain.Document, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE assigned_to = $1
		  AND status = $2
		  AND is_grouped = FALSE
		  AND (($3 <> '' AND client_phone = $3) OR LOWER(client_name) = LOWER($4))
		ORDER BY created_at
	`, uuid.UUID(staffID), string(domain.StatusInProgress), client.Phone, client.Name)
	if err != nil {
		return nil, fmt.Errorf("list groupable: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (s *DocumentStore) ListByGroup(ctx context.Context, groupID id.GroupID) ([]*domain.Document, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE group_id = $1 ORDER BY group_position
	`, uuid.UUID(groupID))
	if err != nil {
		return nil, fmt.Errorf("list group documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (s *DocumentStore) Execute(ctx context.Context, docID id.DocumentID, validate func(*domain.Document) error, mutate func(*domain.Document)) (*domain.Document, error) {
	var out *domain.Document
	err := NewTx(s.db).RunInTx(ctx, func(txCtx context.Context) error {
		row := s.q(txCtx).QueryRowContext(txCtx,
			`SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, uuid.UUID(docID))
		doc, err := scanDocument(row)
		if err != nil {
			return err
		}
		if err := validate(doc); err != nil {
			return err
		}
		mutate(doc)
		if err := s.update(txCtx, doc); err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DocumentStore) ExecuteMany(ctx context.Context, docIDs []id.DocumentID, validate func(*domain.Document) error, mutate func(*domain.Document, int)) ([]*domain.Document, error) {
	var out []*domain.Document
	err := NewTx(s.db).RunInTx(ctx, func(txCtx context.Context) error {
		raw := make([]uuid.UUID, 0, len(docIDs))
		for _, docID := range docIDs {
			raw = append(raw, uuid.UUID(docID))
		}
		rows, err := s.q(txCtx).QueryContext(txCtx,
			`SELECT `+documentColumns+` FROM documents WHERE id = ANY($1) FOR UPDATE`, pq.Array(raw))
		if err != nil {
			return fmt.Errorf("lock documents: %w", err)
		}
		docs, err := scanDocuments(rows)
		rows.Close()
		if err != nil {
			return err
		}
		byID := make(map[id.DocumentID]*domain.Document, len(docs))
		for _, doc := range docs {
			byID[doc.ID] = doc
		}

		// Validate the full set before mutating any member.
		ordered := make([]*domain.Document, 0, len(docIDs))
		for _, docID := range docIDs {
			doc, ok := byID[docID]
			if !ok {
				return sentinel.ErrNotFound
			}
			ordered = append(ordered, doc)
		}
		for _, doc := range ordered {
			if err := validate(doc); err != nil {
				return err
			}
		}
		for position, doc := range ordered {
			mutate(doc, position)
			if err := s.update(txCtx, doc); err != nil {
				return err
			}
		}
		out = ordered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DocumentStore) update(ctx context.Context, doc *domain.Document) error {
	items, err := json.Marshal(doc.SecondaryItems)
	if err != nil {
		return fmt.Errorf("marshal secondary items: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		UPDATE documents SET
			staff_name_raw = $2, assigned_to = $3, status = $4,
			group_id = $5, is_grouped = $6, group_position = $7, group_leader = $8,
			verification_code = $9, delivered_at = $10, delivered_to = $11,
			secondary_items = $12, updated_at = $13
		WHERE id = $1
	`,
		uuid.UUID(doc.ID), doc.StaffNameRaw, staffIDOrNil(doc.AssignedTo), string(doc.Status),
		groupIDOrNil(doc.GroupID), doc.IsGrouped, doc.GroupPosition, doc.GroupLeader,
		nullString(doc.VerificationCode), doc.DeliveredAt, nullString(doc.DeliveredTo),
		items, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// GroupStore persists delivery groups.
type GroupStore struct {
	db *sql.DB
}

func NewGroupStore(db *sql.DB) *GroupStore {
	return &GroupStore{db: db}
}

func (s *GroupStore) q(ctx context.Context) querier {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

const groupColumns = `id, group_code, verification_code, client_name, client_phone, client_email,
	created_by, documents_count, status, delivered_at, delivered_to, created_at, updated_at`

func (s *GroupStore) CreateIfCodeAvailable(ctx context.Context, group *domain.DocumentGroup) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO document_groups (`+groupColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		uuid.UUID(group.ID), group.GroupCode, group.VerificationCode,
		group.Client.Name, group.Client.Phone, group.Client.Email,
		uuid.UUID(group.CreatedBy), group.DocumentsCount, string(group.Status),
		group.DeliveredAt, nullString(group.DeliveredTo), group.CreatedAt, group.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *GroupStore) FindByID(ctx context.Context, groupID id.GroupID) (*domain.DocumentGroup, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM document_groups WHERE id = $1`, uuid.UUID(groupID))
	return scanGroup(row)
}

func (s *GroupStore) FindByVerificationCode(ctx context.Context, code string) (*domain.DocumentGroup, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM document_groups WHERE verification_code = $1`, code)
	return scanGroup(row)
}

func (s *GroupStore) Delete(ctx context.Context, groupID id.GroupID) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM document_groups WHERE id = $1`, uuid.UUID(groupID))
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

func (s *GroupStore) Execute(ctx context.Context, groupID id.GroupID, validate func(*domain.DocumentGroup) error, mutate func(*domain.DocumentGroup)) (*domain.DocumentGroup, error) {
	var out *domain.DocumentGroup
	err := NewTx(s.db).RunInTx(ctx, func(txCtx context.Context) error {
		row := s.q(txCtx).QueryRowContext(txCtx,
			`SELECT `+groupColumns+` FROM document_groups WHERE id = $1 FOR UPDATE`, uuid.UUID(groupID))
		group, err := scanGroup(row)
		if err != nil {
			return err
		}
		if err := validate(group); err != nil {
			return err
		}
		mutate(group)
		_, err = s.q(txCtx).ExecContext(txCtx, `
			UPDATE document_groups SET
				status = $2, delivered_at = $3, delivered_to = $4, updated_at = $5
			WHERE id = $1
		`, uuid.UUID(group.ID), string(group.Status), group.DeliveredAt, nullString(group.DeliveredTo), group.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update group: %w", err)
		}
		out = group
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StaffStore reads staff accounts.
type StaffStore struct {
	db *sql.DB
}

func NewStaffStore(db *sql.DB) *StaffStore {
	return &StaffStore{db: db}
}

func (s *StaffStore) q(ctx context.Context) querier {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *StaffStore) ListActive(ctx context.Context) ([]domain.StaffAccount, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, first_name, last_name, role, active
		FROM staff_accounts WHERE active = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()
	var out []domain.StaffAccount
	for rows.Next() {
		account, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func (s *StaffStore) FindByID(ctx context.Context, staffID id.StaffID) (domain.StaffAccount, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, first_name, last_name, role, active
		FROM staff_accounts WHERE id = $1
	`, uuid.UUID(staffID))
	account, err := scanStaff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StaffAccount{}, sentinel.ErrNotFound
	}
	return account, err
}

func (s *StaffStore) EnsureSystemActor(ctx context.Context, name string) (domain.StaffAccount, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO staff_accounts (id, first_name, last_name, role, active)
		VALUES ($1, $2, '', $3, FALSE)
		ON CONFLICT (first_name, last_name, role) DO UPDATE SET first_name = EXCLUDED.first_name
		RETURNING id, first_name, last_name, role, active
	`, uuid.New(), name, string(domain.RoleAdmin))
	return scanStaff(row)
}

// AuditStore appends audit events.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) q(ctx context.Context) querier {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *AuditStore) Append(ctx context.Context, event audit.Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO audit_events (id, entity_id, actor_id, action, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, uuid.UUID(event.ID), event.EntityID, event.ActorID, string(event.Action), detail, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *AuditStore) ListByEntity(ctx context.Context, entityID string) ([]audit.Event, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, entity_id, actor_id, action, detail, created_at
		FROM audit_events WHERE entity_id = $1 ORDER BY created_at
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	var out []audit.Event
	for rows.Next() {
		var event audit.Event
		var rawID uuid.UUID
		var detail []byte
		if err := rows.Scan(&rawID, &event.EntityID, &event.ActorID, &event.Action, &detail, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = id.AuditID(rawID)
		if err := json.Unmarshal(detail, &event.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal audit detail: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var rawID uuid.UUID
	var docType, status string
	var items []byte
	var assignedTo, groupID uuid.NullUUID
	var verification, deliveredTo sql.NullString
	var deliveredAt sql.NullTime

	err := row.Scan(
		&rawID, &doc.ProtocolNumber, &docType,
		&doc.Client.Name, &doc.Client.Phone, &doc.Client.Email,
		&doc.PrincipalDesc, &doc.PrincipalCents, &items, &doc.TotalCents, &doc.StaffNameRaw,
		&assignedTo, &status,
		&groupID, &doc.IsGrouped, &doc.GroupPosition, &doc.GroupLeader,
		&verification, &deliveredAt, &deliveredTo,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.ID = id.DocumentID(rawID)
	doc.Type = domain.DocumentType(docType)
	doc.Status = domain.DocumentStatus(status)
	if assignedTo.Valid {
		staffID := id.StaffID(assignedTo.UUID)
		doc.AssignedTo = &staffID
	}
	if groupID.Valid {
		gid := id.GroupID(groupID.UUID)
		doc.GroupID = &gid
	}
	doc.VerificationCode = verification.String
	doc.DeliveredTo = deliveredTo.String
	if deliveredAt.Valid {
		at := deliveredAt.Time
		doc.DeliveredAt = &at
	}
	if err := json.Unmarshal(items, &doc.SecondaryItems); err != nil {
		return nil, fmt.Errorf("unmarshal secondary items: %w", err)
	}
	return &doc, nil
}

func scanDocuments(rows *sql.Rows) ([]*domain.Document, error) {
	var out []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func scanGroup(row rowScanner) (*domain.DocumentGroup, error) {
	var group domain.DocumentGroup
	var rawID, createdBy uuid.UUID
	var status string
	var deliveredTo sql.NullString
	var deliveredAt sql.NullTime

	err := row.Scan(
		&rawID, &group.GroupCode, &group.VerificationCode,
		&group.Client.Name, &group.Client.Phone, &group.Client.Email,
		&createdBy, &group.DocumentsCount, &status,
		&deliveredAt, &deliveredTo, &group.CreatedAt, &group.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}

	group.ID = id.GroupID(rawID)
	group.CreatedBy = id.StaffID(createdBy)
	group.Status = domain.GroupStatus(status)
	group.DeliveredTo = deliveredTo.String
	if deliveredAt.Valid {
		at := deliveredAt.Time
		group.DeliveredAt = &at
	}
	return &group, nil
}

func scanStaff(row rowScanner) (domain.StaffAccount, error) {
	var account domain.StaffAccount
	var rawID uuid.UUID
	var role string
	if err := row.Scan(&rawID, &account.FirstName, &account.LastName, &role, &account.Active); err != nil {
		return domain.StaffAccount{}, fmt.Errorf("scan staff account: %w", err)
	}
	account.ID = id.StaffID(rawID)
	account.Role = domain.StaffRole(role)
	return account, nil
}

func staffIDOrNil(staffID *id.StaffID) any {
	if staffID == nil {
		return nil
	}
	return uuid.UUID(*staffID)
}

func groupIDOrNil(groupID *id.GroupID) any {
	if groupID == nil {
		return nil
	}
	return uuid.UUID(*groupID)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
