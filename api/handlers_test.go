/*
handlers_test.go - Tests for the HTTP surface

Tests for:
- Redemption success, replay and error-to-status mapping
- Catalog, history, balance and leaderboard projections
- Internal credit feed, health, rate limiting
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/sqldb"
)

// =============================================================================
// HELPERS
// =============================================================================

type testServer struct {
	store   *sqldb.Store
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	store, err := sqldb.Open(context.Background(), sqldb.SQLite,
		filepath.Join(t.TempDir(), "api.db"), sqldb.Options{TxTimeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, points.NewCoordinator(store))
	return &testServer{store: store, handler: h, router: NewRouter(h, opts)}
}

func (s *testServer) do(t *testing.T, method, path string, user points.UserID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, string(user))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) addReward(t *testing.T, item points.RewardItem) {
	t.Helper()
	item.Active = true
	if item.FulfilmentType == "" {
		item.FulfilmentType = points.FulfilmentPickup
	}
	_, err := s.handler.Catalog.Create(context.Background(), item)
	require.NoError(t, err)
}

func (s *testServer) credit(t *testing.T, user points.UserID, pts int64) {
	t.Helper()
	_, err := s.handler.Ledger.Credit(context.Background(), points.Credit{UserID: user, Points: pts})
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func int64Ptr(v int64) *int64 { return &v }

// =============================================================================
// REDEEM
// =============================================================================

func TestRedeem_Success(t *testing.T) {
	// GIVEN: alice has 100 points and a 60-point mug has 2 left
	s := newTestServer(t, RouterOptions{})
	s.addReward(t, points.RewardItem{ID: "mug", Name: "Mug", CostPoints: 60, Stock: int64Ptr(2)})
	s.credit(t, "alice", 100)

	// WHEN: alice redeems one
	rec := s.do(t, http.MethodPost, "/api/rewards/redeem", "alice", map[string]any{"rewardId": "mug"})

	// THEN: the receipt is returned and the balance drops to 40
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RedeemResponse](t, rec)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RedemptionID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, int64(60), resp.PointsSpent)
	assert.Nil(t, resp.VoucherCode)
	assert.False(t, resp.Replayed)
	assert.Contains(t, rec.Body.String(), `"voucherCode":null`)

	balance := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/points/me", "alice", nil))
	assert.Equal(t, int64(40), balance.Total)

	// WHEN: alice tries again with 40 points left
	rec = s.do(t, http.MethodPost, "/api/rewards/redeem", "alice", map[string]any{"rewardId": "mug"})

	// THEN: 409 with the shortage in the message
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Message, "not enough points")
}

func TestRedeem_ErrorMapping(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.addReward(t, points.RewardItem{ID: "mug", Name: "Mug", CostPoints: 10, Stock: int64Ptr(0)})
	s.addReward(t, points.RewardItem{ID: "bag", Name: "Bag", CostPoints: 10, FulfilmentType: points.FulfilmentDelivery})
	s.addReward(t, points.RewardItem{ID: "big", Name: "Big", CostPoints: 1000})
	s.credit(t, "alice", 100)

	tests := []struct {
		name   string
		user   points.UserID
		body   any
		status int
		msg    string
	}{
		{"no identity", "", map[string]any{"rewardId": "mug"}, http.StatusUnauthorized, "Missing user id"},
		{"malformed body", "alice", `{"rewardId":`, http.StatusBadRequest, "Invalid request body"},
		{"zero quantity", "alice", map[string]any{"rewardId": "big", "quantity": 0}, http.StatusBadRequest, points.ErrInvalidQuantity.Error()},
		{"fractional quantity", "alice", map[string]any{"rewardId": "big", "quantity": 1.5}, http.StatusBadRequest, points.ErrInvalidQuantity.Error()},
		{"missing reward id", "alice", map[string]any{"quantity": 1}, http.StatusBadRequest, points.ErrRewardIDRequired.Error()},
		{"unknown reward", "alice", map[string]any{"rewardId": "nope"}, http.StatusNotFound, "reward not found"},
		{"out of stock", "alice", map[string]any{"rewardId": "mug"}, http.StatusConflict, "out of stock"},
		{"delivery without address", "alice", map[string]any{"rewardId": "bag", "recipientName": "A"}, http.StatusBadRequest, "delivery requires"},
		{"not enough points", "alice", map[string]any{"rewardId": "big"}, http.StatusConflict, "not enough points"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/rewards/redeem", tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, decode[ErrorResponse](t, rec).Message, tt.msg)
		})
	}

	balance := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/points/me", "alice", nil))
	assert.Equal(t, int64(100), balance.Total, "failed redemptions leave the balance alone")
}

func TestRedeem_QuantityAndNumericRewardID(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.addReward(t, points.RewardItem{ID: "42", Name: "Pen", CostPoints: 5})
	s.credit(t, "alice", 100)

	rec := s.do(t, http.MethodPost, "/api/rewards/redeem", "alice", `{"rewardId": 42, "quantity": "3"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(15), decode[RedeemResponse](t, rec).PointsSpent)

	rec = s.do(t, http.MethodPost, "/api/rewards/redeem", "alice", `{"rewardId": "42", "quantity": null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(5), decode[RedeemResponse](t, rec).PointsSpent, "null quantity means one unit")
}

func TestRedeem_IdempotencyKeyReplays(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.addReward(t, points.RewardItem{ID: "gift", Name: "Gift Card", CostPoints: 30, FulfilmentType: points.FulfilmentVoucher})
	s.credit(t, "alice", 100)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/rewards/redeem", strings.NewReader(`{"rewardId":"gift"}`))
		req.Header.Set(HeaderUserID, "alice")
		req.Header.Set("Idempotency-Key", "order-7")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	first := decode[RedeemResponse](t, post())
	second := decode[RedeemResponse](t, post())

	assert.Equal(t, first.RedemptionID, second.RedemptionID)
	require.NotNil(t, first.VoucherCode)
	assert.Regexp(t, `^AIDA-[0-9A-F]{4}-[0-9A-F]{4}$`, *first.VoucherCode)
	assert.Equal(t, first.VoucherCode, second.VoucherCode)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)

	balance := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/points/me", "alice", nil))
	assert.Equal(t, int64(70), balance.Total, "debited once")
}

func TestRedeem_RateLimited(t *testing.T) {
	s := newTestServer(t, RouterOptions{RedeemLimiter: NewRateLimiter(0.001, 1)})
	s.addReward(t, points.RewardItem{ID: "mug", Name: "Mug", CostPoints: 10})
	s.credit(t, "alice", 100)

	first := s.do(t, http.MethodPost, "/api/rewards/redeem", "alice", map[string]any{"rewardId": "mug"})
	assert.Equal(t, http.StatusOK, first.Code)

	second := s.do(t, http.MethodPost, "/api/rewards/redeem", "alice", map[string]any{"rewardId": "mug"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	other := s.do(t, http.MethodPost, "/api/rewards/redeem", "bob", map[string]any{"rewardId": "mug"})
	assert.Equal(t, http.StatusConflict, other.Code, "bob has a separate bucket and no points")
}

func TestWriteDomainError_Transient(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rewards/redeem", nil)

	writeDomainError(rec, req, "Failed to redeem reward", &points.TransientError{Op: "commit", Err: errors.New("database is locked")})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, points.ErrTransient.Error(), decode[ErrorResponse](t, rec).Message)

	rec = httptest.NewRecorder()
	writeDomainError(rec, req, "Failed to redeem reward", points.ErrVoucherExhausted)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to redeem reward", decode[ErrorResponse](t, rec).Message)
}

// =============================================================================
// PROJECTIONS
// =============================================================================

func TestListRewardItems(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.addReward(t, points.RewardItem{ID: "gift", Name: "Gift Card", CostPoints: 100, FulfilmentType: points.FulfilmentVoucher})
	s.addReward(t, points.RewardItem{ID: "mug", Name: "Mug", CostPoints: 60, Stock: int64Ptr(2), PickupLocation: "Lobby"})
	_, err := s.handler.Catalog.Create(context.Background(), points.RewardItem{
		ID: "old", Name: "Retired", CostPoints: 1, FulfilmentType: points.FulfilmentPickup,
	})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/rewards/items", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2, "inactive rewards are hidden")

	assert.Equal(t, "mug", items[0]["id"], "cheapest first")
	assert.Equal(t, float64(60), items[0]["cost_points"])
	assert.Equal(t, float64(2), items[0]["stock"])
	assert.Equal(t, "Lobby", items[0]["pickup_location"])
	assert.Equal(t, "voucher", items[1]["fulfilment_type"])
	assert.Nil(t, items[1]["stock"], "unlimited stock is null")
}

func TestMyRedemptions(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.addReward(t, points.RewardItem{ID: "bag", Name: "Tote Bag", Description: "Canvas", CostPoints: 25, FulfilmentType: points.FulfilmentDelivery})
	s.credit(t, "alice", 100)

	rec := s.do(t, http.MethodPost, "/api/rewards/redeem", "alice", map[string]any{
		"rewardId": "bag", "recipientName": "Alice", "recipientPhone": "555", "addressLine1": "1 Main St", "postalCode": "1000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	history := decode[[]RedemptionDTO](t, s.do(t, http.MethodGet, "/api/rewards/me", "alice", nil))
	require.Len(t, history, 1)
	assert.Equal(t, "Tote Bag", history[0].Name)
	assert.Equal(t, "Canvas", history[0].Description)
	assert.Equal(t, "delivery", history[0].FulfilmentType)
	require.NotNil(t, history[0].PostalCode)
	assert.Equal(t, "1000", *history[0].PostalCode)
	assert.Nil(t, history[0].AddressLine2)

	assert.Empty(t, decode[[]RedemptionDTO](t, s.do(t, http.MethodGet, "/api/rewards/me", "bob", nil)))
}

func TestPointsHistoryAndLeaderboard(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	require.NoError(t, s.store.SaveTask(context.Background(), points.Task{ID: "walk", Title: "Morning walk", Category: "exercise"}))
	task := points.TaskID("walk")
	_, err := s.handler.Ledger.Credit(context.Background(), points.Credit{UserID: "alice", Points: 15, TaskID: &task})
	require.NoError(t, err)
	s.credit(t, "alice", 5)
	s.credit(t, "bob", 30)

	history := decode[[]LedgerEntryDTO](t, s.do(t, http.MethodGet, "/api/points/me/history?limit=1", "alice", nil))
	require.Len(t, history, 1)
	assert.Equal(t, int64(5), history[0].Delta, "newest first")

	history = decode[[]LedgerEntryDTO](t, s.do(t, http.MethodGet, "/api/points/me/history", "alice", nil))
	require.Len(t, history, 2)
	require.NotNil(t, history[1].TaskTitle)
	assert.Equal(t, "Morning walk", *history[1].TaskTitle)

	rec := s.do(t, http.MethodGet, "/api/points/me/history?limit=abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	board := decode[[]LeaderboardEntryDTO](t, s.do(t, http.MethodGet, "/api/points/leaderboard", "alice", nil))
	require.Len(t, board, 2)
	assert.Equal(t, LeaderboardEntryDTO{Rank: 1, UserID: "bob", TotalPoints: 30, Entries: 1}, board[0])
	assert.Equal(t, LeaderboardEntryDTO{Rank: 2, UserID: "alice", TotalPoints: 20, Entries: 2}, board[1])
}

func TestMyBalance_Windows(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	now := time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC)
	s.handler.WithClock(func() time.Time { return now.Add(-48 * time.Hour) })
	s.credit(t, "alice", 10) // Monday
	s.handler.WithClock(func() time.Time { return now })
	s.credit(t, "alice", 3)

	balance := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/points/me", "alice", nil))
	assert.Equal(t, BalanceDTO{UserID: "alice", Total: 13, Today: 3, ThisWeek: 13}, balance)
}

func TestMyBalance_DateParam(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	monday := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	s.handler.WithClock(func() time.Time { return monday })
	s.credit(t, "alice", 10)
	s.handler.WithClock(func() time.Time { return monday.Add(24 * time.Hour) })
	s.credit(t, "alice", 4)

	balance := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/points/me?date=2025-03-10", "alice", nil))
	assert.Equal(t, "2025-03-10", balance.Date)
	require.NotNil(t, balance.DatePoints)
	assert.Equal(t, int64(10), *balance.DatePoints)
	assert.Equal(t, int64(14), balance.Total)

	rec := s.do(t, http.MethodGet, "/api/points/me?date=10/03/2025", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMyBreakdown_ByCategory(t *testing.T) {
	// GIVEN: Credits for tasks in two categories and one redemption
	s := newTestServer(t, RouterOptions{})
	ctx := context.Background()
	require.NoError(t, s.store.SaveTask(ctx, points.Task{ID: "walk", Title: "Morning walk", Category: "exercise"}))
	require.NoError(t, s.store.SaveTask(ctx, points.Task{ID: "call", Title: "Call family", Category: "social"}))
	for _, c := range []struct {
		task points.TaskID
		pts  int64
	}{{"walk", 10}, {"walk", 10}, {"call", 50}} {
		task := c.task
		_, err := s.handler.Ledger.Credit(ctx, points.Credit{UserID: "alice", Points: c.pts, TaskID: &task})
		require.NoError(t, err)
	}
	s.addReward(t, points.RewardItem{ID: "mug", Name: "Mug", CostPoints: 30, FulfilmentType: points.FulfilmentPickup})
	rec := s.do(t, http.MethodPost, "/api/rewards/redeem", "alice", map[string]any{"rewardId": "mug"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: The breakdown is requested
	got := decode[BreakdownDTO](t, s.do(t, http.MethodGet, "/api/points/me/breakdown", "alice", nil))

	// THEN: Task credits are grouped by category and the total includes the debit
	assert.Equal(t, BreakdownDTO{
		Total: 40,
		ByCategory: []CategoryPointsDTO{
			{Category: "social", CategoryPoints: 50, TaskCount: 1},
			{Category: "exercise", CategoryPoints: 20, TaskCount: 2},
		},
	}, got)

	empty := decode[BreakdownDTO](t, s.do(t, http.MethodGet, "/api/points/me/breakdown", "bob", nil))
	assert.Equal(t, BreakdownDTO{Total: 0, ByCategory: []CategoryPointsDTO{}}, empty)
}

// =============================================================================
// CREDITS & OPS
// =============================================================================

func TestCreateCredit(t *testing.T) {
	s := newTestServer(t, RouterOptions{CreditToken: "s3cret"})
	body := CreditRequest{UserID: "alice", Points: 12, TaskID: "walk"}

	rec := s.do(t, http.MethodPost, "/api/points/credits", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	post := func(b any) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(b)
		req := httptest.NewRequest(http.MethodPost, "/api/points/credits", bytes.NewReader(raw))
		req.Header.Set(HeaderInternalToken, "s3cret")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	rec = post(body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[LedgerEntryDTO](t, rec)
	assert.Equal(t, int64(12), entry.Delta)
	assert.Equal(t, "Task completed", entry.Reason)
	require.NotNil(t, entry.TaskID)
	assert.Equal(t, "walk", *entry.TaskID)

	rec = post(CreditRequest{UserID: "alice", Points: -4})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	balance := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/points/me", "alice", nil))
	assert.Equal(t, int64(12), balance.Total)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthDTO](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Checks["database"])

	s.handler.healthChecks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	rec = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[HealthDTO](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "points_http_requests_total")
}
