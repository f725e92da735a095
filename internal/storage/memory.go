package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"notaria/internal/audit"
	"notaria/internal/domain"
	id "notaria/pkg/domain"
)

// In-memory stores back tests and single-office deployments without a
// database. They intentionally favor clarity over performance. Every store
// hands out copies so callers cannot mutate persisted state behind the lock.

type InMemoryDocumentStore struct {
	mu         sync.RWMutex
	docs       map[id.DocumentID]*domain.Document
	byProtocol map[string]id.DocumentID
}

func NewInMemoryDocumentStore() *InMemoryDocumentStore {
	return &InMemoryDocumentStore{
		docs:       make(map[id.DocumentID]*domain.Document),
		byProtocol: make(map[string]id.DocumentID),
	}
}

func (s *InMemoryDocumentStore) CreateIfProtocolAvailable(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byProtocol[doc.ProtocolNumber]; taken {
		return ErrAlreadyUsed
	}
	stored := cloneDocument(doc)
	s.docs[stored.ID] = stored
	s.byProtocol[stored.ProtocolNumber] = stored.ID
	return nil
}

func (s *InMemoryDocumentStore) FindByID(_ context.Context, docID id.DocumentID) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *InMemoryDocumentStore) FindByProtocol(_ context.Context, protocol string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docID, ok := s.byProtocol[protocol]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(s.docs[docID]), nil
}

func (s *InMemoryDocumentStore) ListGroupable(_ context.Context, client domain.Client, staffID id.StaffID) ([]*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Document
	for _, doc := range s.docs {
		if doc.AssignedTo == nil || *doc.AssignedTo != staffID {
			continue
		}
		if doc.Status != domain.StatusInProgress || doc.IsGrouped {
			continue
		}
		if !doc.Client.Matches(client) {
			continue
		}
		out = append(out, cloneDocument(doc))
	}
	sortDocumentsByCreation(out)
	return out, nil
}

func (s *InMemoryDocumentStore) ListByGroup(_ context.Context, groupID id.GroupID) ([]*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Document
	for _, doc := range s.docs {
		if doc.GroupID != nil && *doc.GroupID == groupID {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupPosition < out[j].GroupPosition })
	return out, nil
}

func (s *InMemoryDocumentStore) Execute(_ context.Context, docID id.DocumentID, validate func(*domain.Document) error, mutate func(*domain.Document)) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := validate(doc); err != nil {
		return nil, err
	}
	mutate(doc)
	return cloneDocument(doc), nil
}

func (s *InMemoryDocumentStore) ExecuteMany(_ context.Context, docIDs []id.DocumentID, validate func(*domain.Document) error, mutate func(*domain.Document, int)) ([]*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Load and validate every document before mutating any, so a failure
	// midway leaves the whole set untouched.
	loaded := make([]*domain.Document, 0, len(docIDs))
	for _, docID := range docIDs {
		doc, ok := s.docs[docID]
		if !ok {
			return nil, ErrNotFound
		}
		loaded = append(loaded, doc)
	}
	for _, doc := range loaded {
		if err := validate(doc); err != nil {
			return nil, err
		}
	}

	out := make([]*domain.Document, 0, len(loaded))
	for position, doc := range loaded {
		mutate(doc, position)
		out = append(out, cloneDocument(doc))
	}
	return out, nil
}

type InMemoryGroupStore struct {
	mu     sync.RWMutex
	groups map[id.GroupID]*domain.DocumentGroup
	byCode map[string]id.GroupID
	byVer  map[string]id.GroupID
}

func NewInMemoryGroupStore() *InMemoryGroupStore {
	return &InMemoryGroupStore{
		groups: make(map[id.GroupID]*domain.DocumentGroup),
		byCode: make(map[string]id.GroupID),
		byVer:  make(map[string]id.GroupID),
	}
}

func (s *InMemoryGroupStore) CreateIfCodeAvailable(_ context.Context, group *domain.DocumentGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byCode[group.GroupCode]; taken {
		return ErrAlreadyUsed
	}
	if _, taken := s.byVer[group.VerificationCode]; taken {
		return ErrAlreadyUsed
	}
	stored := cloneGroup(group)
	s.groups[stored.ID] = stored
	s.byCode[stored.GroupCode] = stored.ID
	s.byVer[stored.VerificationCode] = stored.ID
	return nil
}

func (s *InMemoryGroupStore) FindByID(_ context.Context, groupID id.GroupID) (*domain.DocumentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneGroup(group), nil
}

func (s *InMemoryGroupStore) FindByVerificationCode(_ context.Context, code string) (*domain.DocumentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groupID, ok := s.byVer[code]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneGroup(s.groups[groupID]), nil
}

func (s *InMemoryGroupStore) Delete(_ context.Context, groupID id.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	delete(s.byCode, group.GroupCode)
	delete(s.byVer, group.VerificationCode)
	delete(s.groups, groupID)
	return nil
}

func (s *InMemoryGroupStore) Execute(_ context.Context, groupID id.GroupID, validate func(*domain.DocumentGroup) error, mutate func(*domain.DocumentGroup)) (*domain.DocumentGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := validate(group); err != nil {
		return nil, err
	}
	mutate(group)
	return cloneGroup(group), nil
}

type InMemoryStaffStore struct {
	mu       sync.RWMutex
	accounts map[id.StaffID]domain.StaffAccount
}

func NewInMemoryStaffStore(accounts ...domain.StaffAccount) *InMemoryStaffStore {
	s := &InMemoryStaffStore{accounts: make(map[id.StaffID]domain.StaffAccount)}
	for _, account := range accounts {
		s.accounts[account.ID] = account
	}
	return s
}

func (s *InMemoryStaffStore) ListActive(_ context.Context) ([]domain.StaffAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StaffAccount
	for _, account := range s.accounts {
		if account.Active {
			out = append(out, account)
		}
	}
	return out, nil
}

func (s *InMemoryStaffStore) FindByID(_ context.Context, staffID id.StaffID) (domain.StaffAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[staffID]
	if !ok {
		return domain.StaffAccount{}, ErrNotFound
	}
	return account, nil
}

func (s *InMemoryStaffStore) EnsureSystemActor(_ context.Context, name string) (domain.StaffAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.Role == domain.RoleAdmin && strings.EqualFold(account.FullName(), name) {
			return account, nil
		}
	}
	// Inactive so the fuzzy matcher never assigns real work to it.
	actor := domain.StaffAccount{
		ID:        id.NewStaffID(),
		FirstName: name,
		Role:      domain.RoleAdmin,
		Active:    false,
	}
	s.accounts[actor.ID] = actor
	return actor, nil
}

// InMemoryAuditStore is the test and single-office audit sink.
type InMemoryAuditStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryAuditStore() *InMemoryAuditStore {
	return &InMemoryAuditStore{}
}

func (s *InMemoryAuditStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryAuditStore) ListByEntity(_ context.Context, entityID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, event := range s.events {
		if event.EntityID == entityID {
			out = append(out, event)
		}
	}
	return out, nil
}

// InMemoryTx serializes multi-store mutations behind one mutex. It cannot
// roll back, so callers must validate before mutating (ExecuteMany does).
type InMemoryTx struct {
	mu sync.Mutex
}

func NewInMemoryTx() *InMemoryTx {
	return &InMemoryTx{}
}

func (t *InMemoryTx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}

func cloneDocument(doc *domain.Document) *domain.Document {
	out := *doc
	if doc.AssignedTo != nil {
		assignee := *doc.AssignedTo
		out.AssignedTo = &assignee
	}
	if doc.GroupID != nil {
		groupID := *doc.GroupID
		out.GroupID = &groupID
	}
	if doc.DeliveredAt != nil {
		deliveredAt := *doc.DeliveredAt
		out.DeliveredAt = &deliveredAt
	}
	out.SecondaryItems = append([]domain.Item(nil), doc.SecondaryItems...)
	return &out
}

func cloneGroup(group *domain.DocumentGroup) *domain.DocumentGroup {
	out := *group
	if group.DeliveredAt != nil {
		deliveredAt := *group.DeliveredAt
		out.DeliveredAt = &deliveredAt
	}
	return &out
}

func sortDocumentsByCreation(docs []*domain.Document) {
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
}
