package net

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-ag/icrc1-auction/internal/auction"
	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/crypto"
	"github.com/research-ag/icrc1-auction/internal/history"
	"github.com/research-ag/icrc1-auction/internal/ledger"
	"github.com/research-ag/icrc1-auction/internal/metrics"
	"github.com/research-ag/icrc1-auction/internal/reporter"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	svc     *auction.Service
	server  *Server
	handler http.Handler
	quote   *ledger.MockLedger
	token   *ledger.MockLedger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{quote: ledger.NewMockLedger(), token: ledger.NewMockLedger()}
	adapter := ledger.NewAdapter("auction", zerolog.Nop())
	adapter.Register("quote", env.quote)
	adapter.Register("token", env.token)

	env.svc = auction.New(auction.Config{
		QuoteLedger:     "quote",
		DarkBookReserve: 100,
		SessionInterval: time.Minute,
		Admins:          []UserID{"admin"},
	}, history.NewMemoryStore(), adapter, crypto.Passthrough{}, start, zerolog.Nop())
	_, err := env.svc.RegisterAsset("admin", "token", 0)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(env.svc))
	env.server = New("127.0.0.1:0", env.svc, reg, zerolog.Nop())
	env.handler = env.server.Handler()
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, principal UserID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if principal != "" {
		req.Header.Set(PrincipalHeader, string(principal))
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (env *testEnv) deposit(t *testing.T, user UserID, ledgerName string, amount uint64) {
	t.Helper()
	m := env.quote
	if ledgerName == "token" {
		m = env.token
	}
	m.Issue(env.svc.DepositAccount(user), amount)
	rec := env.do(t, http.MethodPost, "/deposits/notify", user, notifyRequest{Ledger: ledgerName})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, amount, decodeBody[notifyResponse](t, rec).CreditInc)
}

func TestServer_RequiresPrincipal(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/bids", "", placeRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeBody[errorBody](t, rec).Error)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = env.do(t, http.MethodGet, "/assets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]Asset](t, rec), 2)
}

func TestServer_PlaceAndQuery(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", "quote", 1_000)

	rec := env.do(t, http.MethodPost, "/deposits/notify", "alice", notifyRequest{Ledger: "quote"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "NotAvailable", body.Error)
	assert.Equal(t, "Deposit was not detected", body.Message)

	rec = env.do(t, http.MethodPost, "/bids", "alice", placeRequest{Orders: []auction.OrderRequest{
		{Asset: 1, Volume: 10, Price: 20},
		{Asset: 1, Volume: 0, Price: 20},
		{Asset: 1, Volume: 5, Price: 20},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	results := decodeBody[[]orderResult](t, rec)
	require.Len(t, results, 3)
	assert.Nil(t, results[0].Error)
	assert.Equal(t, "TooLowOrder", results[1].Error.Error)
	assert.Equal(t, "ConflictingOrder", results[2].Error.Error)
	require.NotNil(t, results[2].Error.OrderID)
	assert.Equal(t, results[0].ID, *results[2].Error.OrderID)

	rec = env.do(t, http.MethodPost, "/query", "alice", queryRequest{
		Selection: auction.Selection{Credits: true, Bids: true},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[auction.QueryResult](t, rec)
	require.Len(t, res.Credits, 1)
	assert.Equal(t, uint64(200), res.Credits[0].Locked)
	require.Len(t, res.Bids, 1)
	assert.Equal(t, Bid, res.Bids[0].Side)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/orders/%d/replace", results[0].ID), "alice",
		replaceRequest{Price: 20, Volume: 4})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/orders/cancel", "alice", cancelRequest{IDs: []OrderID{results[0].ID, 99}})
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decodeBody[[]cancelResult](t, rec)
	require.Len(t, cancelled, 2)
	require.NotNil(t, cancelled[0].Order)
	assert.Equal(t, uint64(4), cancelled[0].Order.Volume)
	assert.Equal(t, "UnknownOrder", cancelled[1].Error.Error)

	rec = env.do(t, http.MethodPost, "/query", "alice", queryRequest{Assets: []AssetID{7}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/query", "alice", `{"selection": {"credits": "yes"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BadRequest", decodeBody[errorBody](t, rec).Error)
}

func TestServer_ManageOrders(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", "quote", 1_000)

	rec := env.do(t, http.MethodPost, "/orders/manage", "alice", manageRequest{Place: []auction.Placement{
		{Side: Bid, OrderRequest: auction.OrderRequest{Asset: 1, Volume: 10, Price: 20}},
		{Side: Bid, OrderRequest: auction.OrderRequest{Asset: 1, Volume: 100, Price: 30}},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "NoCredit", body.Error)
	require.NotNil(t, body.Index)
	assert.Equal(t, 1, *body.Index)

	var stale uint64 = 42
	rec = env.do(t, http.MethodPost, "/orders/manage", "alice", manageRequest{ExpectedRevision: &stale})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/dark-books", "alice", darkBooksRequest{Updates: []auction.DarkBookUpdate{
		{Asset: 1, Ciphertext: []byte("bid:1:10")},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [][]byte{nil}, decodeBody[[][]byte](t, rec))
}

func TestServer_Withdraw(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", "token", 50)

	to := ledger.Account{Owner: "alice", Subaccount: ledger.DepositSubaccount("x")}
	rec := env.do(t, http.MethodPost, "/withdrawals", "alice", withdrawRequest{Ledger: "token", To: to, Amount: 20})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bal, err := env.token.BalanceOf(context.Background(), to)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), bal)

	rec = env.do(t, http.MethodPost, "/withdrawals", "alice", withdrawRequest{Ledger: "token", To: to, Amount: 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InsufficientCredit", decodeBody[errorBody](t, rec).Error)
}

func TestServer_Admin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/assets", "alice", registerAssetRequest{Ledger: "other"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/assets", "admin", registerAssetRequest{Ledger: "other", MinOrderVolume: 3})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, AssetID(2), decodeBody[assetResponse](t, rec).ID)

	rec = env.do(t, http.MethodPut, "/admin/assets/2/min-order-volume", "admin", volumeRequest{Volume: 9})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodPut, "/admin/quote-volume-minimum", "admin", volumeRequest{Volume: 9})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, uint64(9), env.svc.Settings().QuoteVolumeMinimum)

	rec = env.do(t, http.MethodDelete, "/admin/admins/admin", "admin", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodPost, "/admin/admins", "admin", adminRequest{Principal: "bob"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/admin/admins", "bob", nil)
	assert.Equal(t, []UserID{"admin", "bob"}, decodeBody[[]UserID](t, rec))
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", "quote", 1_000)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "users_with_credits_count 1")
	assert.Contains(t, rec.Body.String(), `bids_count{asset_id="token",order_book="delayed"} 0`)
}

func TestServer_Feed(t *testing.T) {
	env := newTestEnv(t)
	env.svc.SetReporter(reporter.Multi{env.server.Feed()})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.server.Feed().Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	env.deposit(t, "alice", "quote", 1_000)
	env.deposit(t, "bob", "token", 10)
	env.do(t, http.MethodPost, "/bids", "alice", placeRequest{Orders: []auction.OrderRequest{{Asset: 1, Volume: 10, Price: 20}}})
	env.do(t, http.MethodPost, "/asks", "bob", placeRequest{Orders: []auction.OrderRequest{{Asset: 1, Volume: 10, Price: 15}}})
	require.True(t, env.svc.Tick(context.Background(), env.svc.NextSession().Timestamp))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev reporter.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, reporter.EventClearing, ev.Type)
	assert.Equal(t, 20.0, ev.Price)
	assert.Equal(t, uint64(10), ev.Volume)
	assert.Empty(t, ev.Fills)

	env.server.Feed().Close()
	assert.Equal(t, 0, env.server.Feed().Subscribers())
}

func TestEncodeError(t *testing.T) {
	for _, tc := range []struct {
		err    error
		code   string
		status int
	}{
		{&ConflictingOrderError{OrderID: 3}, "ConflictingOrder", http.StatusConflict},
		{&BatchError{Index: 2, Err: ErrNoCredit}, "NoCredit", http.StatusBadRequest},
		{&NotAvailableError{Message: "Unknown token"}, "NotAvailable", http.StatusBadRequest},
		{fmt.Errorf("withdraw: %w", gobreaker.ErrOpenState), "LedgerUnavailable", http.StatusServiceUnavailable},
		{ErrPermissionDenied, "PermissionDenied", http.StatusForbidden},
		{errors.New("boom"), "Internal", http.StatusInternalServerError},
	} {
		t.Run(tc.code, func(t *testing.T) {
			body, status := encodeError(tc.err)
			assert.Equal(t, tc.code, body.Error)
			assert.Equal(t, tc.status, status)
		})
	}
}
