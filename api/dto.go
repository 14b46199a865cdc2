/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the points domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

WIRE FORMAT:
  Catalog and history projections use snake_case keys, as the rewards page
  reads them. The redeem request and response use camelCase keys.

TYPES:
  Rewards:
    RewardItemDTO, RedemptionDTO, RedeemRequest, RedeemResponse

  Points:
    BalanceDTO, LedgerEntryDTO, LeaderboardEntryDTO, CreditRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and in the points package, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// REWARDS
// =============================================================================

// RewardItemDTO is a catalog item as listed to users.
type RewardItemDTO struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	CostPoints     int64   `json:"cost_points"`
	ImageURL       *string `json:"image_url"`
	Stock          *int64  `json:"stock"`
	IsActive       bool    `json:"is_active"`
	FulfilmentType string  `json:"fulfilment_type"`
	PickupLocation *string `json:"pickup_location"`
}

func toRewardItemDTO(r points.RewardItem) RewardItemDTO {
	return RewardItemDTO{
		ID:             string(r.ID),
		Name:           r.Name,
		Description:    r.Description,
		CostPoints:     r.CostPoints,
		ImageURL:       optional(r.ImageURL),
		Stock:          r.Stock,
		IsActive:       r.Active,
		FulfilmentType: string(r.FulfilmentType),
		PickupLocation: optional(r.PickupLocation),
	}
}

// RedemptionDTO is one row of the caller's redemption history.
type RedemptionDTO struct {
	ID             string  `json:"id"`
	RewardID       string  `json:"reward_id"`
	Quantity       int     `json:"quantity"`
	PointsSpent    int64   `json:"points_spent"`
	FulfilmentType string  `json:"fulfilment_type"`
	VoucherCode    *string `json:"voucher_code"`
	Status         string  `json:"status"`
	RedeemedAt     string  `json:"redeemed_at"`
	AddressLine1   *string `json:"address_line1"`
	AddressLine2   *string `json:"address_line2"`
	PostalCode     *string `json:"postal_code"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	ImageURL       *string `json:"image_url"`
	PickupLocation *string `json:"pickup_location"`
}

func toRedemptionDTO(v points.RedemptionView) RedemptionDTO {
	dto := RedemptionDTO{
		ID:             string(v.ID),
		RewardID:       string(v.RewardID),
		Quantity:       v.Quantity,
		PointsSpent:    v.PointsSpent,
		FulfilmentType: string(v.FulfilmentType()),
		VoucherCode:    optional(v.VoucherCode()),
		Status:         string(v.Status),
		RedeemedAt:     v.RedeemedAt.UTC().Format(time.RFC3339Nano),
		Name:           v.RewardName,
		Description:    v.RewardDescription,
		ImageURL:       optional(v.ImageURL),
		PickupLocation: optional(v.PickupLocation),
	}
	if d, ok := v.Fulfilment.(points.DeliveryFulfilment); ok {
		dto.AddressLine1 = optional(d.AddressLine1)
		dto.AddressLine2 = optional(d.AddressLine2)
		dto.PostalCode = optional(d.PostalCode)
	}
	return dto
}

// RewardRef accepts a reward id sent either as a JSON string or a number.
type RewardRef string

func (r *RewardRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = RewardRef(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("rewardId must be a string or a number")
	}
	*r = RewardRef(n.String())
	return nil
}

// RedeemRequest is the body of POST /api/rewards/redeem.
type RedeemRequest struct {
	RewardID       RewardRef   `json:"rewardId"`
	Quantity       json.Number `json:"quantity"`
	RecipientName  string      `json:"recipientName"`
	RecipientPhone string      `json:"recipientPhone"`
	RecipientEmail string      `json:"recipientEmail"`
	AddressLine1   string      `json:"addressLine1"`
	AddressLine2   string      `json:"addressLine2"`
	PostalCode     string      `json:"postalCode"`
	IdempotencyKey string      `json:"idempotencyKey"`
}

// quantity returns the requested quantity. Absent means one unit.
func (req RedeemRequest) quantity() (int, error) {
	if req.Quantity == "" {
		return 1, nil
	}
	n, err := req.Quantity.Int64()
	if err != nil || n < 1 || n > math.MaxInt32 {
		return 0, points.ErrInvalidQuantity
	}
	return int(n), nil
}

// delivery returns the recipient details when any were sent.
func (req RedeemRequest) delivery() *points.DeliveryDetails {
	d := points.DeliveryDetails{
		RecipientName:  req.RecipientName,
		RecipientPhone: req.RecipientPhone,
		AddressLine1:   req.AddressLine1,
		AddressLine2:   req.AddressLine2,
		PostalCode:     req.PostalCode,
	}
	if d == (points.DeliveryDetails{}) {
		return nil
	}
	return &d
}

// RedeemResponse is returned after a committed redemption.
type RedeemResponse struct {
	Success      bool    `json:"success"`
	RedemptionID string  `json:"redemptionId"`
	Status       string  `json:"status"`
	RedeemedAt   string  `json:"redeemedAt"`
	PointsSpent  int64   `json:"pointsSpent"`
	VoucherCode  *string `json:"voucherCode"`
	Replayed     bool    `json:"replayed,omitempty"`
}

func toRedeemResponse(r points.Receipt) RedeemResponse {
	return RedeemResponse{
		Success:      true,
		RedemptionID: string(r.RedemptionID),
		Status:       string(r.Status),
		RedeemedAt:   r.RedeemedAt.UTC().Format(time.RFC3339Nano),
		PointsSpent:  r.PointsSpent,
		VoucherCode:  optional(r.VoucherCode),
		Replayed:     r.Replayed,
	}
}

// =============================================================================
// POINTS
// =============================================================================

// BalanceDTO is the caller's balance summary.
type BalanceDTO struct {
	UserID   string `json:"user_id"`
	Total    int64  `json:"total"`
	Today    int64  `json:"today"`
	ThisWeek int64  `json:"this_week"`

	// Set only when ?date= is given.
	Date       string `json:"date,omitempty"`
	DatePoints *int64 `json:"date_points,omitempty"`
}

// CategoryPointsDTO is one category of the caller's points breakdown.
type CategoryPointsDTO struct {
	Category       string `json:"category"`
	CategoryPoints int64  `json:"category_points"`
	TaskCount      int64  `json:"task_count"`
}

// BreakdownDTO is the caller's balance with task credits per category.
type BreakdownDTO struct {
	Total      int64               `json:"total"`
	ByCategory []CategoryPointsDTO `json:"by_category"`
}

// LedgerEntryDTO is one ledger entry in the caller's history.
type LedgerEntryDTO struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Delta     int64   `json:"delta"`
	Reason    string  `json:"reason"`
	TaskID    *string `json:"task_id"`
	TaskTitle *string `json:"task_title"`
	CreatedAt string  `json:"created_at"`
}

func toLedgerEntryDTO(e points.LedgerEntry, taskTitle string) LedgerEntryDTO {
	dto := LedgerEntryDTO{
		ID:        string(e.ID),
		UserID:    string(e.UserID),
		Delta:     e.Delta,
		Reason:    e.Reason,
		TaskTitle: optional(taskTitle),
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.TaskID != nil {
		dto.TaskID = optional(string(*e.TaskID))
	}
	return dto
}

// LeaderboardEntryDTO is one ranked user.
type LeaderboardEntryDTO struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	TotalPoints int64  `json:"total_points"`
	Entries     int64  `json:"entries"`
}

// CreditRequest is the body of POST /api/points/credits.
type CreditRequest struct {
	UserID string `json:"userId"`
	Points int64  `json:"points"`
	Reason string `json:"reason"`
	TaskID string `json:"taskId"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a seed scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse reports whether the seed was applied.
type LoadScenarioResponse struct {
	ScenarioID string `json:"scenario_id"`
	Applied    bool   `json:"applied"`
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// HealthDTO reports the state of each dependency.
type HealthDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
