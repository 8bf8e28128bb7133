package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/tools"
)

const (
	adminToken  = "super-agent-secret"
	juniorToken = "junior-agent-secret"
)

var (
	admin  = auth.Principal{Identity: "Agent-007", Scopes: []string{catalog.ScopeReadOrders, catalog.ScopeWriteRefunds}}
	junior = auth.Principal{Identity: "Intern-Bot", Scopes: []string{catalog.ScopeReadOrders}}
)

func testGate() *auth.Gate {
	return auth.NewGate([]auth.Grant{
		{Token: adminToken, Identity: admin.Identity, Scopes: admin.Scopes},
		{Token: juniorToken, Identity: junior.Identity, Scopes: junior.Scopes},
	}, logr.Discard())
}

type fixture struct {
	store  *tools.OrderStore
	server *httptest.Server
	cat    *catalog.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := catalog.Default()
	store := tools.NewOrderStore(tools.DefaultOrders()...)
	local, err := NewDefaultLocalBackend(cat, store, logr.Discard())
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(cat, testGate(), local, logr.Discard()).Handler())
	t.Cleanup(srv.Close)
	return &fixture{store: store, server: srv, cat: cat}
}

func (f *fixture) client(t *testing.T, token string) *HTTPBackend {
	t.Helper()
	b, err := NewHTTPBackend(f.server.URL, f.cat, HTTPOptions{
		Credentials:          auth.StaticCredential{Token: token},
		RetryInitialInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return b
}

func TestLocalBackend_RechecksScope(t *testing.T) {
	store := tools.NewOrderStore(tools.DefaultOrders()...)
	local, err := NewDefaultLocalBackend(catalog.Default(), store, logr.Discard())
	require.NoError(t, err)

	_, err = local.Execute(context.Background(), catalog.ActionProcessRefund,
		map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}, junior)
	var denied *adkerrors.AuthorizationDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, catalog.ScopeWriteRefunds, denied.Scope)
	assert.Empty(t, store.Refunds())

	payload, err := local.Execute(context.Background(), catalog.ActionGetOrder, map[string]any{"order_id": "ORD-123"}, junior)
	require.NoError(t, err)
	assert.Equal(t, "shipped", payload["status"])

	_, err = local.Execute(context.Background(), "drop_tables", nil, admin)
	assert.Equal(t, adkerrors.ErrCodeUnknownAction, adkerrors.CodeOf(err))
}

func TestHTTPBackend_GetOrder(t *testing.T) {
	f := newFixture(t)

	payload, err := f.client(t, juniorToken).Execute(context.Background(), catalog.ActionGetOrder, map[string]any{"order_id": "ORD-123"}, junior)
	require.NoError(t, err)
	assert.Equal(t, "ORD-123", payload["order_id"])
	assert.Equal(t, "shipped", payload["status"])
	assert.Equal(t, 150.0, payload["total"])
}

func TestHTTPBackend_StatusMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client(t, juniorToken).Execute(ctx, catalog.ActionProcessRefund, map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}, junior)
	var denied *adkerrors.AuthorizationDeniedError
	require.True(t, errors.As(err, &denied), "got %v", err)
	assert.Equal(t, catalog.ScopeWriteRefunds, denied.Scope)
	assert.Empty(t, f.store.Refunds())

	_, err = f.client(t, "stolen-token").Execute(ctx, catalog.ActionGetOrder, map[string]any{"order_id": "ORD-123"}, junior)
	assert.Equal(t, adkerrors.ErrCodeInvalidCredential, adkerrors.CodeOf(err))

	_, err = f.client(t, adminToken).Execute(ctx, catalog.ActionGetOrder, map[string]any{"order_id": "ORD-999"}, admin)
	var notFound *adkerrors.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "order", notFound.Kind)
	assert.Equal(t, "ORD-999", notFound.ID)
}

func TestHTTPBackend_RefundThenConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.client(t, adminToken)
	args := map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}

	payload, err := b.Execute(ctx, catalog.ActionProcessRefund, args, admin)
	require.NoError(t, err)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, 150.0, payload["refunded_amount"])

	_, err = b.Execute(ctx, catalog.ActionProcessRefund, args, admin)
	assert.Equal(t, adkerrors.ErrCodeConflict, adkerrors.CodeOf(err))
	assert.Len(t, f.store.Refunds(), 1)
}

func TestHTTPBackend_ContextCredentialWins(t *testing.T) {
	f := newFixture(t)
	b := f.client(t, juniorToken)

	ctx := auth.ContextWithCredential(context.Background(), auth.Credential{Token: adminToken})
	_, err := b.Execute(ctx, catalog.ActionProcessRefund, map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}, admin)
	require.NoError(t, err)
}

func TestHTTPBackend_NoCredential(t *testing.T) {
	f := newFixture(t)
	b, err := NewHTTPBackend(f.server.URL, f.cat, HTTPOptions{})
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), catalog.ActionGetOrder, map[string]any{"order_id": "ORD-123"}, junior)
	assert.Equal(t, adkerrors.ErrCodeInvalidCredential, adkerrors.CodeOf(err))
}

func flakyServer(t *testing.T, failures int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failures {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"detail":"try later"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"order_id":"ORD-123","status":"shipped","total":150.0,"success":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHTTPBackend_RetriesIdempotentActions(t *testing.T) {
	srv, calls := flakyServer(t, 2, http.StatusServiceUnavailable)
	b, err := NewHTTPBackend(srv.URL, catalog.Default(), HTTPOptions{
		Credentials:          auth.StaticCredential{Token: adminToken},
		RetryInitialInterval: time.Millisecond,
	})
	require.NoError(t, err)

	payload, err := b.Execute(context.Background(), catalog.ActionGetOrder, map[string]any{"order_id": "ORD-123"}, admin)
	require.NoError(t, err)
	assert.Equal(t, "shipped", payload["status"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPBackend_DoesNotRetryClientErrors(t *testing.T) {
	srv, calls := flakyServer(t, 5, http.StatusNotFound)
	b, err := NewHTTPBackend(srv.URL, catalog.Default(), HTTPOptions{
		Credentials:          auth.StaticCredential{Token: adminToken},
		RetryInitialInterval: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), catalog.ActionGetOrder, map[string]any{"order_id": "ORD-123"}, admin)
	assert.Equal(t, adkerrors.ErrCodeNotFound, adkerrors.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPBackend_NeverRetriesNonIdempotentActions(t *testing.T) {
	srv, calls := flakyServer(t, 1, http.StatusBadGateway)
	b, err := NewHTTPBackend(srv.URL, catalog.Default(), HTTPOptions{
		Credentials:          auth.StaticCredential{Token: adminToken},
		RetryInitialInterval: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), catalog.ActionProcessRefund, map[string]any{"order_id": "ORD-123", "reason": "x"}, admin)
	var unavailable *adkerrors.BackendUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.True(t, unavailable.OutcomeUnknown)
	assert.Equal(t, int32(1), calls.Load())

	desc := adkerrors.Describe(err)
	assert.Equal(t, adkerrors.CategoryUnavailable, desc.Category)
	assert.Equal(t, true, desc.Details["outcome_unknown"])
}

func TestHTTPBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b, err := NewHTTPBackend(url, catalog.Default(), HTTPOptions{
		Credentials:          auth.StaticCredential{Token: adminToken},
		MaxRetries:           2,
		RetryInitialInterval: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), catalog.ActionGetOrder, map[string]any{"order_id": "ORD-123"}, admin)
	assert.Equal(t, adkerrors.ErrCodeBackendUnavailable, adkerrors.CodeOf(err))
	assert.Error(t, b.Probe(context.Background()))
}

func TestNewHTTPBackend_InvalidURL(t *testing.T) {
	_, err := NewHTTPBackend("ftp://crm", catalog.Default(), HTTPOptions{})
	assert.Error(t, err)
}

func TestServer_ErrorMessages(t *testing.T) {
	f := newFixture(t)

	do := func(method, path, token, body string) (int, string) {
		var r io.Reader
		if body != "" {
			r = strings.NewReader(body)
		}
		req, err := http.NewRequest(method, f.server.URL+path, r)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(data)
	}

	status, body := do("GET", "/orders/ORD-123", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, "Invalid Authentication Token")

	status, body = do("POST", "/refunds", juniorToken, `{"order_id":"ORD-123","reason":"lost"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body, "Not Authorized. Missing scope: write:refunds")

	status, body = do("GET", "/orders/ORD-999", juniorToken, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "Order not found")

	status, _ = do("POST", "/refunds", adminToken, `{"order_id":"ORD-123"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = do("POST", "/refunds", adminToken, `not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do("GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "healthy")
}

func TestDiscoverCatalog(t *testing.T) {
	f := newFixture(t)

	cat, err := DiscoverCatalog(context.Background(), nil, f.server.URL, "^1.0")
	require.NoError(t, err)
	assert.Equal(t, f.cat.DescribeAll(), cat.DescribeAll())
	assert.True(t, cat.Published())

	again, err := DiscoverCatalog(context.Background(), nil, f.server.URL, "")
	require.NoError(t, err)
	assert.Equal(t, cat.DescribeAll(), again.DescribeAll())

	_, err = DiscoverCatalog(context.Background(), nil, f.server.URL, ">= 2.0")
	assert.ErrorContains(t, err, "does not satisfy")
}

func TestProbe(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.client(t, adminToken).Probe(context.Background()))
}
