/*
scenarios.go - Seed scenarios for demos and manual testing

PURPOSE:
  Provides pre-built scenarios that populate the database with a catalog
  and funded users, so the rewards page and the redemption rules can be
  exercised without the task service.

AVAILABLE SCENARIOS:
  demo:       one reward per fulfilment type, two users with task credits
  last-unit:  a single-unit reward and five users who can each afford it

HOW SCENARIOS WORK:
  1. Save the referenced tasks (when the store keeps task titles)
  2. Create the scenario's rewards, skipping ids that already exist
  3. Credit the users, only when the scenario's rewards were all new

  The ledger is append-only, so scenarios never reset anything. Applying a
  scenario a second time is a no-op.

USAGE:
  POST /api/scenarios/load
  {"scenario_id": "demo"}

  or at startup: ./server -seed=demo

ADDING NEW SCENARIOS:
  1. Add to 'scenarios' slice with ID, name, description
  2. Add its seed to 'seeds'

SEE ALSO:
  - handlers.go: Handler
  - cmd/server/main.go: -seed flag
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Demo Catalog",
		Description: "Voucher, delivery and pickup rewards; two users with task credits",
	},
	{
		ID:          "last-unit",
		Name:        "Last Unit",
		Description: "One reward with a single unit left and five funded users racing for it",
	},
}

// TaskSaver is implemented by stores that keep task titles and categories
// for reports.
type TaskSaver interface {
	SaveTask(ctx context.Context, t points.Task) error
}

type seedCredit struct {
	user   points.UserID
	points int64
	task   points.TaskID
}

type scenarioSeed struct {
	tasks   []points.Task
	rewards []points.RewardItem
	credits []seedCredit
}

func stock(n int64) *int64 { return &n }

var seeds = map[string]scenarioSeed{
	"demo": {
		tasks: []points.Task{
			{ID: "task-morning-walk", Title: "Morning walk", Category: "exercise"},
			{ID: "task-medication", Title: "Take medication", Category: "health"},
			{ID: "task-family-call", Title: "Video call with family", Category: "social"},
		},
		rewards: []points.RewardItem{
			{
				ID: "gift-card-10", Name: "Gift Card $10", Description: "Digital gift card delivered as a voucher code",
				CostPoints: 100, Active: true, FulfilmentType: points.FulfilmentVoucher,
			},
			{
				ID: "tote-bag", Name: "Tote Bag", Description: "Canvas tote bag shipped to your address",
				CostPoints: 250, Stock: stock(20), Active: true, FulfilmentType: points.FulfilmentDelivery,
			},
			{
				ID: "coffee-mug", Name: "Coffee Mug", Description: "Ceramic mug",
				CostPoints: 60, Stock: stock(2), Active: true, FulfilmentType: points.FulfilmentPickup,
				PickupLocation: "Community centre front desk",
			},
		},
		credits: []seedCredit{
			{"alice", 100, "task-morning-walk"},
			{"alice", 50, "task-medication"},
			{"bob", 80, "task-family-call"},
		},
	},
	"last-unit": {
		tasks: []points.Task{{ID: "task-checkin", Title: "Daily check-in", Category: "health"}},
		rewards: []points.RewardItem{
			{
				ID: "last-unit-mug", Name: "Limited Mug", Description: "Only one left",
				CostPoints: 10, Stock: stock(1), Active: true, FulfilmentType: points.FulfilmentPickup,
				PickupLocation: "Reception",
			},
		},
		credits: []seedCredit{
			{"racer-1", 20, "task-checkin"},
			{"racer-2", 20, "task-checkin"},
			{"racer-3", 20, "task-checkin"},
			{"racer-4", 20, "task-checkin"},
			{"racer-5", 20, "task-checkin"},
		},
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last applied scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario applies a seed scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := seeds[req.ScenarioID]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	applied, err := h.ApplyScenario(r.Context(), req.ScenarioID)
	if err != nil {
		writeDomainError(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, LoadScenarioResponse{ScenarioID: req.ScenarioID, Applied: applied})
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

// ApplyScenario seeds the named scenario. It reports false when every reward
// of the scenario already existed, in which case no credits are added.
func (h *Handler) ApplyScenario(ctx context.Context, id string) (bool, error) {
	seed, ok := seeds[id]
	if !ok {
		return false, fmt.Errorf("unknown scenario %q", id)
	}
	logger := zerolog.Ctx(ctx)

	if ts, ok := h.Store.(TaskSaver); ok {
		for _, t := range seed.tasks {
			if err := ts.SaveTask(ctx, t); err != nil {
				return false, fmt.Errorf("save task %s: %w", t.ID, err)
			}
		}
	}

	created := 0
	for _, item := range seed.rewards {
		_, err := h.Catalog.Get(ctx, item.ID)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return false, err
		}
		if _, err := h.Catalog.Create(ctx, item); err != nil {
			return false, fmt.Errorf("create reward %s: %w", item.ID, err)
		}
		created++
	}
	if created < len(seed.rewards) {
		logger.Info().Str("scenario", id).Int("created_rewards", created).Msg("scenario already applied, credits skipped")
		h.setCurrentScenario(id)
		return false, nil
	}

	for _, c := range seed.credits {
		task := c.task
		if _, err := h.Ledger.Credit(ctx, points.Credit{UserID: c.user, Points: c.points, TaskID: &task}); err != nil {
			return false, fmt.Errorf("credit %s: %w", c.user, err)
		}
	}
	h.invalidate(ctx)
	h.setCurrentScenario(id)

	logger.Info().Str("scenario", id).
		Int("rewards", len(seed.rewards)).
		Int("credits", len(seed.credits)).
		Msg("scenario applied")
	return true, nil
}

func (h *Handler) setCurrentScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

func isNotFound(err error) bool {
	return points.KindOf(err) == points.KindNotFound
}
