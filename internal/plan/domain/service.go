package domain

import (
	"context"
	"errors"
)

type CreatePlanLineRequest struct {
	ProductID   string `json:"product_id"`
	Description string `json:"description"`
	UnitAmount  int64  `json:"unit_amount"`
	Quantity    int64  `json:"quantity"`
}

type CreatePlanRequest struct {
	Code     string                  `json:"code"`
	Name     string                  `json:"name"`
	Cadence  Cadence                 `json:"cadence"`
	Currency string                  `json:"currency"`
	Lines    []CreatePlanLineRequest `json:"lines"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	GetByID(ctx context.Context, id string) (Plan, error)
	// Supersede creates version n+1 of the plan with the given lines.
	// The referenced version itself is never mutated.
	Supersede(ctx context.Context, planID string, lines []CreatePlanLineRequest) (Plan, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidCadence      = errors.New("invalid_cadence")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidLines        = errors.New("invalid_lines")
	ErrPlanNotFound        = errors.New("plan_not_found")
)
