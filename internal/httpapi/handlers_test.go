package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sharelane/dataplane/internal/auth"
	"github.com/sharelane/dataplane/internal/catalog"
	"github.com/sharelane/dataplane/internal/catalog/inmem"
	"github.com/sharelane/dataplane/internal/metrics"
	"github.com/sharelane/dataplane/internal/query"
	"github.com/sharelane/dataplane/internal/tokens"
)

const testSalt = "test-salt"

func newTestServer(t *testing.T, store *inmem.Store) *Server {
	t.Helper()
	authenticator := auth.New(store, []byte(testSalt), nil)
	pipeline := query.New(query.Deps{Auth: authenticator, Datasets: store})
	m := metrics.New(prometheus.NewRegistry())
	return NewServer(pipeline, m, nil)
}

func seedApprovedShare(t *testing.T, store *inmem.Store, token string) *catalog.Share {
	t.Helper()
	share := &catalog.Share{
		ID:             1,
		DatasetID:      1,
		BuyerID:        7,
		TokenHash:      tokens.HashToken([]byte(testSalt), token),
		ApprovalStatus: catalog.ApprovalApproved,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	store.PutShare(share)
	store.PutDataset(&catalog.Dataset{ID: 1, Name: "orders", AnchorColumns: []string{"id"}})
	return share
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, inmem.New())
	router := NewRouter(s, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandlePrepareShare(t *testing.T) {
	s := newTestServer(t, inmem.New())
	router := NewRouter(s, nil)

	req := httptest.NewRequest(http.MethodPost, "/shares/prepare", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body prepareResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "success", body.Status)
}

func TestHandleListShares_MissingAuthIsUnauthorized(t *testing.T) {
	s := newTestServer(t, inmem.New())
	router := NewRouter(s, nil)

	req := httptest.NewRequest(http.MethodGet, "/shares/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.Detail)
}

func TestHandleListShares_ValidTokenReturnsShareName(t *testing.T) {
	store := inmem.New()
	seedApprovedShare(t, store, "valid-token")
	s := newTestServer(t, store)
	router := NewRouter(s, nil)

	req := httptest.NewRequest(http.MethodGet, "/shares/", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body sharesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "share_1", body.Items[0].Name)
}

func TestHandleListTables_WrongShareNameIsForbidden(t *testing.T) {
	store := inmem.New()
	seedApprovedShare(t, store, "valid-token")
	s := newTestServer(t, store)
	router := NewRouter(s, nil)

	req := httptest.NewRequest(http.MethodGet, "/shares/share_999/schemas/default/tables/", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandleListTables_ReturnsDatasetTableName(t *testing.T) {
	store := inmem.New()
	seedApprovedShare(t, store, "valid-token")
	s := newTestServer(t, store)
	router := NewRouter(s, nil)

	req := httptest.NewRequest(http.MethodGet, "/shares/share_1/schemas/default/tables/", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body tablesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "orders", body.Items[0].Name)
}
