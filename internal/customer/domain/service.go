package domain

import (
	"context"
	"errors"
)

type CreateCustomerRequest struct {
	Name     string
	Email    string
	Currency string
}

type Service interface {
	Create(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	GetByID(ctx context.Context, id string) (Customer, error)
	ListByOrg(ctx context.Context) ([]Customer, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrCustomerNotFound    = errors.New("customer_not_found")
)
