package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notaria/internal/domain"
	id "notaria/pkg/domain"
)

func testClient() domain.Client {
	return domain.Client{Name: "MARIA LOPEZ", Phone: "0991112233"}
}

func testDocument(t *testing.T, protocol string) *domain.Document {
	t.Helper()
	doc, err := domain.NewDocument(id.NewDocumentID(), protocol, domain.TypeProtocolo, testClient(), time.Now())
	require.NoError(t, err)
	return doc
}

func TestRenderDocumentReady(t *testing.T) {
	doc := testDocument(t, "20251701018P01234")

	body, err := renderDocumentReady(doc)
	require.NoError(t, err)
	require.Contains(t, body, "MARIA LOPEZ")
	require.Contains(t, body, "20251701018P01234")
	require.Contains(t, body, string(domain.TypeProtocolo))
}

func TestRenderGroupReady(t *testing.T) {
	group, err := domain.NewDocumentGroup(id.NewGroupID(), "GRP-20250115-001", "4821", testClient(), id.NewStaffID(), 2, time.Now())
	require.NoError(t, err)
	docs := []*domain.Document{
		testDocument(t, "20251701018P01234"),
		testDocument(t, "20251701018P01235"),
	}

	body, err := renderGroupReady(group, docs)
	require.NoError(t, err)
	require.Contains(t, body, "4821")
	require.Contains(t, body, "2 documentos")
	require.Contains(t, body, "20251701018P01234, 20251701018P01235")
}

func TestRenderGroupDelivered(t *testing.T) {
	group, err := domain.NewDocumentGroup(id.NewGroupID(), "GRP-20250115-001", "4821", testClient(), id.NewStaffID(), 1, time.Now())
	require.NoError(t, err)
	group.DeliveredTo = "JUAN PEREZ"

	body, err := renderGroupDelivered(group)
	require.NoError(t, err)
	require.Contains(t, body, "GRP-20250115-001")
	require.Contains(t, body, "JUAN PEREZ")
}

func TestLogDispatcherDoesNotError(t *testing.T) {
	d := NewLogDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	doc := testDocument(t, "20251701018P01234")

	require.NoError(t, d.DocumentReady(context.Background(), doc))

	group, err := domain.NewDocumentGroup(id.NewGroupID(), "GRP-20250115-002", "1234", testClient(), id.NewStaffID(), 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, d.GroupReady(context.Background(), group, []*domain.Document{doc}))
	require.NoError(t, d.GroupDelivered(context.Background(), group))
}
