//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"notaria/internal/domain"
	"notaria/internal/storage/postgres"
	id "notaria/pkg/domain"
	"notaria/pkg/domainerrors"
	"notaria/pkg/platform/sentinel"
	"notaria/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	docs     *postgres.DocumentStore
	groups   *postgres.GroupStore
	staff    *postgres.StaffStore
	tx       *postgres.Tx
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.postgres.DB))
	s.docs = postgres.NewDocumentStore(s.postgres.DB)
	s.groups = postgres.NewGroupStore(s.postgres.DB)
	s.staff = postgres.NewStaffStore(s.postgres.DB)
	s.tx = postgres.NewTx(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "audit_events", "documents", "document_groups", "staff_accounts")
	s.Require().NoError(err)
}

func newTestDocument(protocol string) *domain.Document {
	doc, err := domain.NewDocument(id.NewDocumentID(), protocol, domain.TypeProtocolo,
		domain.Client{Name: "MARIA LOPEZ", Phone: "0991112233"}, time.Now().UTC())
	if err != nil {
		panic(err)
	}
	doc.PrincipalDesc = "ESCRITURA DE COMPRAVENTA"
	doc.PrincipalCents = 12050
	doc.TotalCents = 12050
	doc.StaffNameRaw = "JUAN PEREZ"
	return doc
}

func (s *PostgresStoreSuite) TestConcurrentProtocolUniqueness() {
	ctx := context.Background()
	protocol := "20251701018P" + uuid.NewString()[:8]
	const goroutines = 20

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.docs.CreateIfProtocolAvailable(ctx, newTestDocument(protocol))
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrAlreadyUsed) {
				conflictCount.Add(1)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one create should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load())
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	doc := newTestDocument("20251701018P01741")
	doc.SecondaryItems = []domain.Item{{Description: "BIOMETRICO", AmountCents: 350}}

	s.Require().NoError(s.docs.CreateIfProtocolAvailable(ctx, doc))

	got, err := s.docs.FindByProtocol(ctx, "20251701018P01741")
	s.Require().NoError(err)
	s.Equal(doc.ID, got.ID)
	s.Equal(doc.Client, got.Client)
	s.Equal(doc.SecondaryItems, got.SecondaryItems)
	s.Equal(domain.StatusPending, got.Status)
	s.Nil(got.AssignedTo)

	_, err = s.docs.FindByProtocol(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestExecuteValidateRejectsWithoutMutation() {
	ctx := context.Background()
	doc := newTestDocument("20251701018P00001")
	s.Require().NoError(s.docs.CreateIfProtocolAvailable(ctx, doc))

	wantErr := errors.New("rejected")
	_, err := s.docs.Execute(ctx, doc.ID,
		func(*domain.Document) error { return wantErr },
		func(d *domain.Document) { d.Status = domain.StatusDelivered },
	)
	s.ErrorIs(err, wantErr)

	got, err := s.docs.FindByID(ctx, doc.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusPending, got.Status)
}

func (s *PostgresStoreSuite) TestExecuteManyAllOrNothing() {
	ctx := context.Background()
	account, err := s.staff.EnsureSystemActor(ctx, "SISTEMA")
	s.Require().NoError(err)

	first := newTestDocument("20251701018P00010")
	second := newTestDocument("20251701018P00011")
	for _, doc := range []*domain.Document{first, second} {
		doc.AssignedTo = &account.ID
		doc.Status = domain.StatusInProgress
		s.Require().NoError(s.docs.CreateIfProtocolAvailable(ctx, doc))
	}

	// Second member fails validation; first must stay untouched.
	_, err = s.docs.ExecuteMany(ctx, []id.DocumentID{first.ID, second.ID},
		func(d *domain.Document) error {
			if d.ID == second.ID {
				return sentinel.ErrInvalidState
			}
			return nil
		},
		func(d *domain.Document, position int) {
			d.Status = domain.StatusReady
			d.GroupPosition = position
		},
	)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	got, err := s.docs.FindByID(ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusInProgress, got.Status)
}

func (s *PostgresStoreSuite) TestGroupAtomicityAcrossStores() {
	ctx := context.Background()
	account, err := s.staff.EnsureSystemActor(ctx, "SISTEMA")
	s.Require().NoError(err)

	doc := newTestDocument("20251701018P00020")
	doc.AssignedTo = &account.ID
	doc.Status = domain.StatusInProgress
	s.Require().NoError(s.docs.CreateIfProtocolAvailable(ctx, doc))

	group, err := domain.NewDocumentGroup(id.NewGroupID(), "GRP-AAAA1111", "1234",
		doc.Client, account.ID, 1, time.Now().UTC())
	s.Require().NoError(err)

	// Group insert succeeds inside the tx but the document mutation fails,
	// so neither change may persist.
	wantErr := errors.New("member rejected")
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.groups.CreateIfCodeAvailable(txCtx, group); err != nil {
			return err
		}
		_, err := s.docs.ExecuteMany(txCtx, []id.DocumentID{doc.ID},
			func(*domain.Document) error { return wantErr },
			func(*domain.Document, int) {},
		)
		return err
	})
	s.ErrorIs(err, wantErr)

	_, err = s.groups.FindByVerificationCode(ctx, "1234")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestGroupDeliveryRoundTrip() {
	ctx := context.Background()
	account, err := s.staff.EnsureSystemActor(ctx, "SISTEMA")
	s.Require().NoError(err)

	group, err := domain.NewDocumentGroup(id.NewGroupID(), "GRP-BBBB2222", "5678",
		domain.Client{Name: "MARIA LOPEZ"}, account.ID, 2, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.groups.CreateIfCodeAvailable(ctx, group))

	now := time.Now().UTC()
	delivered, err := s.groups.Execute(ctx, group.ID,
		func(g *domain.DocumentGroup) error { return g.CanDeliver() },
		func(g *domain.DocumentGroup) { g.ApplyDelivery("MARIA LOPEZ", now) },
	)
	s.Require().NoError(err)
	s.Equal(domain.GroupStatusDelivered, delivered.Status)
	s.NotNil(delivered.DeliveredAt)

	_, err = s.groups.Execute(ctx, group.ID,
		func(g *domain.DocumentGroup) error { return g.CanDeliver() },
		func(g *domain.DocumentGroup) { g.ApplyDelivery("MARIA LOPEZ", now) },
	)
	s.True(domainerrors.HasCode(err, domainerrors.CodeInvariantViolation))
}
