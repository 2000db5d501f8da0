package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aaronwang/coin-auction/internal/gateway"
	"github.com/aaronwang/coin-auction/internal/identity"
	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/aaronwang/coin-auction/internal/service"
	"github.com/aaronwang/coin-auction/internal/store"
	"github.com/gorilla/mux"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const adminToken = "admin-secret"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type env struct {
	router *mux.Router
	svc    *service.BiddingService
	clock  *clock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc := service.NewBiddingService(store.NewMemoryStore(), zerolog.Nop(), service.WithClock(c.Now))
	provider := identity.NewStaticProvider(map[string]models.Bidder{
		"tok-alice": {ID: "u-alice", DisplayName: "Alice"},
		"tok-bob":   {ID: "u-bob", DisplayName: "Bob"},
	})
	gw := gateway.New(provider, svc, zerolog.Nop())
	rec := service.NewReconciler(svc, time.Minute, zerolog.Nop())

	h := NewHandler(svc, gw, rec, adminToken, zerolog.Nop())
	return &env{router: h.SetupRoutes(), svc: svc, clock: c}
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *env) createAuction(t *testing.T) *models.Auction {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/admin/auctions", map[string]any{
		"name":             "1794 Flowing Hair Dollar",
		"category":         "US Coins",
		"start_time":       e.clock.now.Add(-time.Minute),
		"end_time":         e.clock.now.Add(time.Hour),
		"starting_price":   "1000",
		"increment_amount": "100",
	}, map[string]string{"X-Admin-Token": adminToken})
	assert.Equal(t, http.StatusCreated, rr.Code)

	var a models.Auction
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &a))
	return &a
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBid(t *testing.T, rr *httptest.ResponseRecorder) models.BidResponse {
	t.Helper()
	var resp models.BidResponse
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, "GET", "/health", nil, nil)
	check.Equal(t, http.StatusOK, rr.Code)
}

func TestPlaceBid(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t)
	path := "/api/v1/auctions/" + a.ID + "/bids"

	rr := e.do(t, "POST", path, map[string]string{"amount": "1000"}, bearer("tok-alice"))
	check.Equal(t, http.StatusCreated, rr.Code)
	resp := decodeBid(t, rr)
	check.True(t, resp.OK)
	assert.True(t, resp.Auction != nil)
	check.Equal(t, "Alice", resp.Auction.HighestBidder.DisplayName)

	rr = e.do(t, "POST", path, map[string]string{"amount": "1050"}, bearer("tok-bob"))
	check.Equal(t, http.StatusOK, rr.Code)
	resp = decodeBid(t, rr)
	check.False(t, resp.OK)
	check.Equal(t, "BidTooLow", resp.Reason)
	check.True(t, resp.MinimumBid.Equal(decimal.NewFromInt(1100)))
	check.True(t, resp.CurrentPrice.Equal(decimal.NewFromInt(1000)))

	e.clock.now = e.clock.now.Add(2 * time.Hour)
	rr = e.do(t, "POST", path, map[string]string{"amount": "5000"}, bearer("tok-bob"))
	check.Equal(t, http.StatusOK, rr.Code)
	check.Equal(t, "Expired", decodeBid(t, rr).Reason)
}

func TestPlaceBid_Unauthorized(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t)
	path := "/api/v1/auctions/" + a.ID + "/bids"

	rr := e.do(t, "POST", path, map[string]string{"amount": "1000"}, nil)
	check.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(t, "POST", path, map[string]string{"amount": "1000"}, bearer("forged"))
	check.Equal(t, http.StatusUnauthorized, rr.Code)
	check.Equal(t, "InvalidCredential", decodeBid(t, rr).Reason)
}

func TestPlaceBid_BadRequests(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t)

	req := httptest.NewRequest("POST", "/api/v1/auctions/"+a.ID+"/bids", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer tok-alice")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	check.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, "POST", "/api/v1/auctions/missing/bids", map[string]string{"amount": "1000"}, bearer("tok-alice"))
	check.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPlaceBid_NonPositiveAmountIsBidTooLow(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t)
	path := "/api/v1/auctions/" + a.ID + "/bids"

	for _, amount := range []string{"0", "-5"} {
		rr := e.do(t, "POST", path, map[string]string{"amount": amount}, bearer("tok-alice"))
		check.Equal(t, http.StatusOK, rr.Code)
		resp := decodeBid(t, rr)
		check.False(t, resp.OK)
		check.Equal(t, "BidTooLow", resp.Reason)
		check.True(t, resp.MinimumBid.Equal(decimal.NewFromInt(1000)))
	}
}

func TestGetAndListAuctions(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t)

	rr := e.do(t, "GET", "/api/v1/auctions/"+a.ID, nil, nil)
	check.Equal(t, http.StatusOK, rr.Code)
	var got models.Auction
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	check.Equal(t, a.ID, got.ID)
	check.Equal(t, models.AuctionStatusActive, got.Status)

	rr = e.do(t, "GET", "/api/v1/auctions", nil, nil)
	check.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Auctions []models.Auction `json:"auctions"`
		Count    int              `json:"count"`
	}
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	check.Equal(t, 1, list.Count)

	rr = e.do(t, "GET", "/api/v1/auctions/missing", nil, nil)
	check.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateAuction_Validation(t *testing.T) {
	e := newEnv(t)
	admin := map[string]string{"X-Admin-Token": adminToken}

	// end before start
	rr := e.do(t, "POST", "/api/v1/admin/auctions", map[string]any{
		"name":           "1933 Double Eagle",
		"start_time":     e.clock.now,
		"end_time":       e.clock.now.Add(-time.Hour),
		"starting_price": "1000",
	}, admin)
	check.Equal(t, http.StatusBadRequest, rr.Code)

	// neither product id nor name
	rr = e.do(t, "POST", "/api/v1/admin/auctions", map[string]any{
		"start_time":     e.clock.now,
		"end_time":       e.clock.now.Add(time.Hour),
		"starting_price": "1000",
	}, admin)
	check.Equal(t, http.StatusBadRequest, rr.Code)

	// non-positive starting price
	rr = e.do(t, "POST", "/api/v1/admin/auctions", map[string]any{
		"name":           "1933 Double Eagle",
		"start_time":     e.clock.now,
		"end_time":       e.clock.now.Add(time.Hour),
		"starting_price": "0",
	}, admin)
	check.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminRequiresToken(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, "POST", "/api/v1/admin/reconcile", nil, nil)
	check.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(t, "POST", "/api/v1/admin/reconcile", nil, map[string]string{"X-Admin-Token": "wrong"})
	check.Equal(t, http.StatusUnauthorized, rr.Code)

	h := NewHandler(e.svc, nil, nil, "", zerolog.Nop())
	rr = httptest.NewRecorder()
	h.SetupRoutes().ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/admin/reconcile", nil))
	check.Equal(t, http.StatusForbidden, rr.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t)
	rr := e.do(t, "POST", "/api/v1/auctions/"+a.ID+"/bids", map[string]string{"amount": "1000"}, bearer("tok-alice"))
	assert.Equal(t, http.StatusCreated, rr.Code)

	e.clock.now = e.clock.now.Add(2 * time.Hour)
	rr = e.do(t, "POST", "/api/v1/admin/reconcile", nil, map[string]string{"X-Admin-Token": adminToken})
	check.Equal(t, http.StatusOK, rr.Code)

	var result map[string]int
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	check.Equal(t, 1, result["closed"])
	check.Equal(t, 0, result["failed"])

	final, err := e.svc.GetAuction(context.Background(), a.ID)
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusClosed, final.Status)
	check.Equal(t, "u-alice", final.Winner.ID)
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, "OPTIONS", "/api/v1/auctions/a1/bids", nil, nil)
	check.Equal(t, http.StatusOK, rr.Code)
	check.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
