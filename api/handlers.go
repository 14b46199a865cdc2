/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes the points ledger and reward redemption via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the points
  package.

ENDPOINTS:
  Rewards (caller identity required):
    GET    /api/rewards/items          List active rewards
    POST   /api/rewards/redeem         Redeem a reward
    GET    /api/rewards/me             Caller's redemption history

  Points (caller identity required unless noted):
    GET    /api/points/me              Balance summary
    GET    /api/points/me/history      Ledger history (?limit=)
    GET    /api/points/leaderboard     Top balances (?limit=)
    POST   /api/points/credits         Append a credit (internal token)

  Scenarios:
    GET    /api/scenarios              List seed scenarios
    POST   /api/scenarios/load         Apply a seed scenario

  Ops:
    GET    /health                     Dependency checks
    GET    /metrics                    Prometheus

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: database access
  - Catalog, Coordinator, Ledger, Balances, Reports: points services
  - Leaderboard: Reports, or the Redis cache in front of it

ERROR HANDLING:
  Errors are returned as JSON {message} with the status of their kind:
  - 400: Validation errors, invalid input
  - 401: Missing caller identity
  - 404: Unknown reward
  - 409: Reward inactive, out of stock, not enough points
  - 429: Rate limited
  - 500: Integrity violations and unexpected errors
  - 503: Transient store failures, with Retry-After

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Seed scenarios
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/points-engine/cache"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// LeaderboardReader serves the leaderboard projection.
type LeaderboardReader interface {
	Leaderboard(ctx context.Context, limit int) ([]points.LeaderboardRow, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       points.Store
	Catalog     *points.Catalog
	Coordinator *points.Coordinator
	Ledger      *points.Ledger
	Balances    *points.BalanceCalculator
	Reports     *points.Reports
	Leaderboard LeaderboardReader

	now          points.Clock
	invalidate   func(ctx context.Context)
	healthChecks map[string]HealthCheck

	// Track the last applied scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over store. Redemptions run through
// coordinator, which must use the same store.
func NewHandler(store points.Store, coordinator *points.Coordinator) *Handler {
	reports := points.NewReports(store)
	h := &Handler{
		Store:        store,
		Catalog:      points.NewCatalog(store),
		Coordinator:  coordinator,
		Ledger:       points.NewLedger(store),
		Balances:     points.NewBalanceCalculator(store),
		Reports:      reports,
		Leaderboard:  reports,
		now:          time.Now,
		invalidate:   func(context.Context) {},
		healthChecks: map[string]HealthCheck{},
	}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		h.healthChecks["database"] = p.Ping
	}
	return h
}

// UseLeaderboardCache serves the leaderboard through lb and drops the
// cached copy after every balance change.
func (h *Handler) UseLeaderboardCache(lb *cache.Leaderboard) {
	h.Leaderboard = lb
	h.invalidate = lb.Invalidate
	h.healthChecks["redis"] = lb.Ping
}

// WithClock replaces the time source of balance windows.
func (h *Handler) WithClock(c points.Clock) *Handler {
	h.now = c
	h.Ledger.WithClock(c)
	return h
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListRewardItems returns the active catalog, cheapest first.
func (h *Handler) ListRewardItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to load rewards", err)
		return
	}

	dtos := make([]RewardItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toRewardItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Redeem spends the caller's points on a reward.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	qty, err := req.quantity()
	if err != nil {
		writeDomainError(w, r, "", err)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	receipt, err := h.Coordinator.Redeem(r.Context(), points.RedeemRequest{
		UserID:         UserIDFrom(r.Context()),
		RewardID:       points.RewardID(req.RewardID),
		Quantity:       qty,
		Delivery:       req.delivery(),
		RecipientEmail: strings.TrimSpace(req.RecipientEmail),
		IdempotencyKey: key,
	})
	if err != nil {
		writeDomainError(w, r, "Failed to redeem reward", err)
		return
	}
	if !receipt.Replayed {
		h.invalidate(r.Context())
	}

	writeJSON(w, http.StatusOK, toRedeemResponse(receipt))
}

// MyRedemptions returns the caller's redemptions, newest first.
func (h *Handler) MyRedemptions(w http.ResponseWriter, r *http.Request) {
	views, err := h.Reports.UserRedemptions(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		writeDomainError(w, r, "Failed to load redemption history", err)
		return
	}

	dtos := make([]RedemptionDTO, len(views))
	for i, v := range views {
		dtos[i] = toRedemptionDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// MyBalance returns the caller's total, today and this-week sums, plus
// the sum of one UTC day when ?date=YYYY-MM-DD is given.
func (h *Handler) MyBalance(w http.ResponseWriter, r *http.Request) {
	var day *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", nil)
			return
		}
		day = &d
	}

	userID := UserIDFrom(r.Context())
	summary, err := h.Balances.Summary(r.Context(), userID, h.now())
	if err != nil {
		writeDomainError(w, r, "Failed to load balance", err)
		return
	}

	dto := BalanceDTO{
		UserID:   string(summary.UserID),
		Total:    summary.Total,
		Today:    summary.Today,
		ThisWeek: summary.ThisWeek,
	}
	if day != nil {
		sum, err := h.Balances.WindowedSum(r.Context(), userID, points.DayWindow(*day))
		if err != nil {
			writeDomainError(w, r, "Failed to load balance", err)
			return
		}
		dto.Date = day.Format(time.DateOnly)
		dto.DatePoints = &sum
	}
	writeJSON(w, http.StatusOK, dto)
}

// MyBreakdown returns the caller's balance and task credits per category.
func (h *Handler) MyBreakdown(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFrom(r.Context())
	rows, err := h.Reports.BreakdownByCategory(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, "Failed to load points breakdown", err)
		return
	}
	total, err := h.Balances.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, "Failed to load points breakdown", err)
		return
	}

	dto := BreakdownDTO{Total: total, ByCategory: make([]CategoryPointsDTO, len(rows))}
	for i, row := range rows {
		dto.ByCategory[i] = CategoryPointsDTO{Category: row.Category, CategoryPoints: row.Points, TaskCount: row.Tasks}
	}
	writeJSON(w, http.StatusOK, dto)
}

// MyLedgerHistory returns the caller's ledger entries, newest first.
func (h *Handler) MyLedgerHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	rows, err := h.Reports.LedgerHistory(r.Context(), UserIDFrom(r.Context()), limit)
	if err != nil {
		writeDomainError(w, r, "Failed to load points history", err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toLedgerEntryDTO(row.LedgerEntry, row.TaskTitle)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLeaderboard returns users ranked by balance.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	rows, err := h.Leaderboard.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, "Failed to load leaderboard", err)
		return
	}

	dtos := make([]LeaderboardEntryDTO, len(rows))
	for i, row := range rows {
		dtos[i] = LeaderboardEntryDTO{
			Rank:        i + 1,
			UserID:      string(row.UserID),
			TotalPoints: row.TotalPoints,
			Entries:     row.Entries,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCredit appends a task-completion credit. Called by the task service.
func (h *Handler) CreateCredit(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	credit := points.Credit{
		UserID: points.UserID(strings.TrimSpace(req.UserID)),
		Points: req.Points,
		Reason: req.Reason,
	}
	if id := strings.TrimSpace(req.TaskID); id != "" {
		task := points.TaskID(id)
		credit.TaskID = &task
	}

	entry, err := h.Ledger.Credit(r.Context(), credit)
	if err != nil {
		writeDomainError(w, r, "Failed to record credit", err)
		return
	}
	h.invalidate(r.Context())

	writeJSON(w, http.StatusCreated, toLedgerEntryDTO(entry, ""))
}

// =============================================================================
// OPS HANDLERS
// =============================================================================

// Health runs every registered check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthDTO{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	for name, check := range h.healthChecks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps err to its status. Client errors carry the error
// text as message; server errors carry fallback and are logged instead.
func writeDomainError(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	kind := points.KindOf(err)
	switch kind {
	case points.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	case points.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	case points.KindState:
		writeError(w, http.StatusConflict, err.Error(), nil)
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", kind.String()).Msg(fallback)
	if kind == points.KindTransient {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, points.ErrTransient.Error(), nil)
		return
	}
	writeError(w, http.StatusInternalServerError, fallback, nil)
}

// limitParam parses ?limit=. Absent means the default of the report.
func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
		return 0, false
	}
	return n, true
}
